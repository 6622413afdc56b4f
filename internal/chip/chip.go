// Package chip loads chip definitions: the mapping from symbolic register
// names to byte or bit addresses, and the code option fields stored in the
// top flash word. The definition file format matches the vendor cfg files,
// register names are case sensitive.
package chip

import (
	_ "embed"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
)

//go:embed sn8f2288.cfg
var sn8f2288Cfg []byte

// BitRef identifies a single bit inside a byte register.
type BitRef struct {
	Addr uint16
	Bit  uint8
}

// CodeOption describes one configuration field packed into a flash word.
type CodeOption struct {
	Addr   uint16
	Mask   uint16
	Values map[string]uint16 // value name -> field value, already positioned
}

// Definition is a parsed chip definition.
type Definition struct {
	Name              string
	ROMStart          uint16
	ROMStop           uint16
	RAMStart          uint16
	RAMStop           uint16
	CodeOptionAddress uint16

	registers   map[string]uint16
	bits        map[string]BitRef
	byteNames   map[uint16]string
	bitNames    map[BitRef]string
	codeOptions map[string]CodeOption
}

// SN8F2288 returns the definition of the SN8F2288 chip.
func SN8F2288() (*Definition, error) {
	return Parse(sn8f2288Cfg)
}

// Parse parses a chip definition from cfg file content.
func Parse(data []byte) (*Definition, error) {
	file, err := ini.LoadSources(ini.LoadOptions{}, data)
	if err != nil {
		return nil, fmt.Errorf("loading chip definition: %w", err)
	}

	def := &Definition{
		registers:   map[string]uint16{},
		bits:        map[string]BitRef{},
		byteNames:   map[uint16]string{},
		bitNames:    map[BitRef]string{},
		codeOptions: map[string]CodeOption{},
	}

	if err := def.parseChipSection(file); err != nil {
		return nil, err
	}
	if err := def.parseRegisterSection(file); err != nil {
		return nil, err
	}
	if err := def.parseCodeOptionSection(file); err != nil {
		return nil, err
	}
	return def, nil
}

func (def *Definition) parseChipSection(file *ini.File) error {
	sec, err := file.GetSection("chip")
	if err != nil {
		return fmt.Errorf("missing chip section: %w", err)
	}

	def.Name = sec.Key("name").String()

	for _, field := range []struct {
		key    string
		target *uint16
	}{
		{"rom_start", &def.ROMStart},
		{"rom_stop", &def.ROMStop},
		{"ram_start", &def.RAMStart},
		{"ram_stop", &def.RAMStop},
		{"code_option_address", &def.CodeOptionAddress},
	} {
		value, err := parseAddress(sec.Key(field.key).String())
		if err != nil {
			return fmt.Errorf("parsing chip key %s: %w", field.key, err)
		}
		*field.target = value
	}
	return nil
}

func (def *Definition) parseRegisterSection(file *ini.File) error {
	sec, err := file.GetSection("ram-reserved")
	if err != nil {
		return fmt.Errorf("missing ram-reserved section: %w", err)
	}

	for _, key := range sec.Keys() {
		name := key.String()
		addrText := key.Name()

		if byteText, bitText, isBit := strings.Cut(addrText, "."); isBit {
			addr, err := parseAddress(byteText)
			if err != nil {
				return fmt.Errorf("parsing bit register %s: %w", name, err)
			}
			bit, err := strconv.ParseUint(bitText, 10, 8)
			if err != nil || bit > 7 {
				return fmt.Errorf("bad bit index %q for register %s", bitText, name)
			}
			ref := BitRef{Addr: addr, Bit: uint8(bit)}
			if _, ok := def.bits[name]; ok {
				return fmt.Errorf("duplicate register name %s", name)
			}
			def.bits[name] = ref
			def.bitNames[ref] = name
			continue
		}

		addr, err := parseAddress(addrText)
		if err != nil {
			return fmt.Errorf("parsing register %s: %w", name, err)
		}
		if _, ok := def.registers[name]; ok {
			return fmt.Errorf("duplicate register name %s", name)
		}
		def.registers[name] = addr
		def.byteNames[addr] = name
	}
	return nil
}

func (def *Definition) parseCodeOptionSection(file *ini.File) error {
	sec, err := file.GetSection("code-option")
	if err != nil {
		return nil // optional section
	}

	for _, key := range sec.Keys() {
		fields := strings.Fields(key.String())
		if len(fields) < 3 {
			return fmt.Errorf("malformed code option %s", key.Name())
		}
		addr, err := parseAddress(fields[0])
		if err != nil {
			return fmt.Errorf("parsing code option %s address: %w", key.Name(), err)
		}
		mask, err := parseWord(fields[1])
		if err != nil {
			return fmt.Errorf("parsing code option %s mask: %w", key.Name(), err)
		}
		option := CodeOption{
			Addr:   addr,
			Mask:   mask,
			Values: map[string]uint16{},
		}
		for _, pair := range fields[2:] {
			valueText, valueName, ok := strings.Cut(pair, "=")
			if !ok {
				return fmt.Errorf("malformed code option value %q for %s", pair, key.Name())
			}
			value, err := parseWord(valueText)
			if err != nil {
				return fmt.Errorf("parsing code option %s value: %w", key.Name(), err)
			}
			if value&^mask != 0 {
				return fmt.Errorf("code option %s value %#04x exceeds mask %#04x",
					key.Name(), value, mask)
			}
			option.Values[valueName] = value
		}
		def.codeOptions[key.Name()] = option
	}
	return nil
}

// Address returns the byte address of a named register.
func (def *Definition) Address(name string) (uint16, bool) {
	addr, ok := def.registers[name]
	return addr, ok
}

// Bit returns the bit address of a named register bit.
func (def *Definition) Bit(name string) (BitRef, bool) {
	ref, ok := def.bits[name]
	return ref, ok
}

// RegisterName returns the symbolic name of a byte register address.
func (def *Definition) RegisterName(addr uint16) (string, bool) {
	name, ok := def.byteNames[addr]
	return name, ok
}

// BitName returns the symbolic name of a register bit.
func (def *Definition) BitName(ref BitRef) (string, bool) {
	name, ok := def.bitNames[ref]
	return name, ok
}

// CodeOptionField returns a named code option field.
func (def *Definition) CodeOptionField(name string) (CodeOption, bool) {
	option, ok := def.codeOptions[name]
	return option, ok
}

func parseAddress(text string) (uint16, error) {
	value, err := strconv.ParseUint(text, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("parsing address %q: %w", text, err)
	}
	return uint16(value), nil
}

func parseWord(text string) (uint16, error) {
	value, err := strconv.ParseUint(text, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("parsing word %q: %w", text, err)
	}
	return uint16(value), nil
}
