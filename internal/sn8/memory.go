package sn8

import "github.com/retroenv/retrogolib/log"

// cellKind classifies one RAM address.
type cellKind uint8

const (
	cellRAM      cellKind = iota // plain storage
	cellVolatile                 // dispatched to a peripheral accessor
	cellMissing                  // not backed by anything
)

// Register page reset markers. Values 0x00..0xff are reset values.
const (
	resetMissing = -1 // no cell at this address
	resetKeep    = -2 // volatile, owning peripheral resets itself
	resetUninit  = -3 // cell exists but powers up uninitialized
)

// registerResets describes the register page 0x80..0xff: which addresses
// exist, which dispatch to peripherals and what plain registers reset to.
var registerResets = [0x80]int16{
	//  0     1     2     3     4     5     6     7     8     9     a     b     c     d     e     f
	-1, -1, -3, -3, -3, -1, 0x00, -3, -2, -2, -2, -2, -2, -2, -2, -2, // 0x80
	-2, -2, -2, 0x00, 0x80, 0x00, 0x00, -2, -2, 0x00, -2, 0x00, -2, 0x00, -2, 0x00, // 0x90
	0x00, 0x00, 0x00, 0x00, -1, -2, -2, -2, -2, 0x00, 0x00, 0xd5, 0x00, 0x00, -2, -2, // 0xa0
	0x00, 0x00, 0x00, -1, -1, -2, 0x00, -2, -2, -2, -2, 0x00, 0x00, 0x00, 0x00, 0x0a, // 0xb0
	0x00, -2, -2, -1, -2, -2, 0x00, 0x00, 0x00, 0x00, 0x00, -1, -2, -1, 0x00, 0x00, // 0xc0
	-2, -2, -2, -1, -2, -2, -1, -1, -2, -2, -2, -2, -2, -1, -1, 0x07, // 0xd0
	-2, -2, -2, -1, -2, -2, -1, -2, -1, 0x00, -2, -2, -2, 0x00, 0x00, -1, // 0xe0
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // 0xf0
}

// buildCellKinds derives the per-address classification. The register
// page is classified by the reset table, everything else is plain RAM.
// The volatile dispatch table must agree with the reset table markers.
func (c *CPU) buildCellKinds() {
	for offset, marker := range registerResets {
		address := uint16(0x80 + offset)
		switch marker {
		case resetMissing:
			c.kind[address] = cellMissing
		case resetKeep:
			c.kind[address] = cellVolatile
		}
	}
	for address := range c.volatile {
		c.kind[address] = cellVolatile
	}
}

// applyRegisterResets puts the plain registers of the register page back
// to their reset values. Cells marked uninitialized lose their content.
func (c *CPU) applyRegisterResets() {
	for offset, marker := range registerResets {
		address := uint16(0x80 + offset)
		switch marker {
		case resetMissing, resetKeep:
		case resetUninit:
			c.ram[address] = 0
			c.init[address] = false
		default:
			c.ram[address] = byte(marker)
			c.init[address] = true
		}
	}
}

// Read reads one byte of the unified address space. Reads from watched
// addresses invoke the watcher with the value about to be returned.
func (c *CPU) Read(address uint16) (byte, error) {
	if int(address) >= ramSize {
		return 0, MissingMemoryError{Address: address}
	}
	var value byte
	if access, ok := c.volatile[address]; ok {
		if access.read == nil {
			c.logger.Warn("ignoring read from write-only register",
				log.Hex("address", address))
		} else {
			v, err := access.read()
			if err != nil {
				return 0, err
			}
			value = v
		}
	} else {
		switch {
		case c.kind[address] == cellMissing:
			return 0, MissingMemoryError{Address: address}
		case !c.init[address]:
			return 0, UninitializedReadError{Address: address}
		default:
			value = c.ram[address]
		}
	}
	if watcher := c.readWatchers[address]; watcher != nil {
		watcher(c, address, value)
	}
	return value, nil
}

// Write writes one byte of the unified address space. Plain registers
// with reserved bits mask them off. Writes to missing cells and to
// read-only registers warn and are dropped. Watchers run after the
// mutation took effect.
func (c *CPU) Write(address uint16, value byte) error {
	if int(address) >= ramSize {
		c.logger.Warn("ignoring write to missing memory",
			log.Hex("address", address), log.Hex("value", value))
		return nil
	}
	if access, ok := c.volatile[address]; ok {
		if access.write == nil {
			c.logger.Warn("ignoring write to read-only register",
				log.Hex("address", address), log.Hex("value", value))
		} else if err := access.write(value); err != nil {
			return err
		}
	} else if c.kind[address] == cellMissing {
		c.logger.Warn("ignoring write to missing memory",
			log.Hex("address", address), log.Hex("value", value))
	} else {
		c.ram[address] = value & c.maskFor(address)
		c.init[address] = true
	}
	if watcher := c.writeWatchers[address]; watcher != nil {
		watcher(c, address, value)
	}
	return nil
}

// storeRAM is the internal store used by the core itself for plain
// registers it owns, PC, flags and the call stack. It applies the
// register mask and fires write watchers like a firmware write would.
func (c *CPU) storeRAM(address uint16, value byte) {
	c.ram[address] = value & c.maskFor(address)
	c.init[address] = true
	if watcher := c.writeWatchers[address]; watcher != nil {
		watcher(c, address, value)
	}
}

func (c *CPU) maskFor(address uint16) byte {
	if mask, ok := c.masks[address]; ok {
		return mask
	}
	return 0xff
}
