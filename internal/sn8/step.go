package sn8

import "fmt"

// IllegalInstructionError is returned when the program counter reaches a
// flash word that does not decode to an instruction.
type IllegalInstructionError struct {
	PC          uint16
	Instruction uint16
}

func (e IllegalInstructionError) Error() string {
	return fmt.Sprintf("illegal instruction %#06x at %#06x", e.Instruction, e.PC)
}

// Step executes one instruction, advancing simulated time by its cycle
// cost and ticking every active peripheral. In green mode only time
// advances, in sleep mode Step returns ErrHalted until a wake event.
func (c *CPU) Step() error {
	if c.ram[regOSCM]&oscmModeMask != 0 {
		return c.tic()
	}
	pc := c.PC()
	if c.Breakpoints.Contains(pc) {
		if !c.resumed || c.resumePC != pc {
			c.resumed = true
			c.resumePC = pc
			return BreakpointError{PC: pc}
		}
	}
	c.resumed = false

	if pc >= FlashWords {
		return FlashRangeError{Address: pc}
	}
	ins := c.flash[pc]
	switch ins {
	case 0x0000:
		return c.nop()
	case 0x0400:
		return c.push()
	case 0x0500:
		return c.pop()
	case 0x0d00:
		return c.movc()
	case 0x0e00:
		return c.ret()
	case 0x0f00:
		return c.reti()
	}

	switch {
	case ins >= 0x8000: // JMP and CALL
		target := ins & 0x3fff
		if ins&0xc000 == 0xc000 {
			return c.call(target)
		}
		return c.jump(target)

	case ins >= 0x4000: // bit instructions
		address := uint16(ins & 0xff)
		if ins&0x2000 == 0 {
			banked, err := c.bankify(byte(address))
			if err != nil {
				return err
			}
			address = banked
		}
		bit := byte(ins>>8) & 0x07
		switch ins & 0x5800 {
		case 0x4000:
			return c.clearBit(address, bit)
		case 0x4800:
			return c.setBit(address, bit)
		case 0x5000:
			return c.testBitZero(address, bit)
		default:
			return c.testBitOne(address, bit)
		}

	case ins >= 0x3000: // B0MOV register, immediate
		return c.movMI(0x80+uint16(ins>>8)&0x07, byte(ins))
	}

	operand := byte(ins)
	switch ins & 0xff00 {
	case 0x0600: // CMPRS A, #
		return c.cmprsAI(operand)
	case 0x0700: // CMPRS A, M
		return c.withBanked(operand, func(address uint16) error {
			value, err := c.Read(address)
			if err != nil {
				return err
			}
			return c.cmprsAI(value)
		})

	case 0x0800: // RRC M
		return c.withBanked(operand, func(address uint16) error { return c.rotateA(address, c.rrc) })
	case 0x0900: // RRCM M
		return c.withBanked(operand, func(address uint16) error { return c.rotateM(address, c.rrc) })
	case 0x0a00: // RLC M
		return c.withBanked(operand, func(address uint16) error { return c.rotateA(address, c.rlc) })
	case 0x0b00: // RLCM M
		return c.withBanked(operand, func(address uint16) error { return c.rotateM(address, c.rlc) })

	case 0x1000: // ADC A, M
		return c.withBanked(operand, func(address uint16) error { return c.addAM(address, c.carry()) })
	case 0x1100: // ADC M, A
		return c.withBanked(operand, func(address uint16) error { return c.addMA(address, c.carry()) })
	case 0x1200: // ADD A, M
		return c.withBanked(operand, func(address uint16) error { return c.addAM(address, 0) })
	case 0x1300: // ADD M, A
		return c.withBanked(operand, func(address uint16) error { return c.addMA(address, 0) })
	case 0x1400: // ADD A, #
		return c.addAI(operand)
	case 0x0300: // B0ADD M, A
		return c.addMA(uint16(operand), 0)

	case 0x2000: // SBC A, M
		return c.withBanked(operand, func(address uint16) error { return c.subAM(address, c.carry()) })
	case 0x2100: // SBC M, A
		return c.withBanked(operand, func(address uint16) error { return c.subMA(address, c.carry()) })
	case 0x2200: // SUB A, M
		return c.withBanked(operand, func(address uint16) error { return c.subAM(address, 1) })
	case 0x2300: // SUB M, A
		return c.withBanked(operand, func(address uint16) error { return c.subMA(address, 1) })
	case 0x2400: // SUB A, #
		return c.subAI(operand)

	case 0x1500: // INCS M
		return c.withBanked(operand, func(address uint16) error { return c.incAM(address, 1) })
	case 0x1600: // INCMS M
		return c.withBanked(operand, func(address uint16) error { return c.incMM(address, 1) })
	case 0x2500: // DECS M
		return c.withBanked(operand, func(address uint16) error { return c.incAM(address, -1) })
	case 0x2600: // DECMS M
		return c.withBanked(operand, func(address uint16) error { return c.incMM(address, -1) })

	case 0x1700: // SWAP M
		return c.withBanked(operand, c.swapAM)
	case 0x2700: // SWAPM M
		return c.withBanked(operand, c.swapMM)

	case 0x1800: // OR A, M
		return c.withBanked(operand, func(address uint16) error { return c.logicAM(address, logicOr) })
	case 0x1900: // OR M, A
		return c.withBanked(operand, func(address uint16) error { return c.logicMA(address, logicOr) })
	case 0x1a00: // OR A, #
		return c.logicAI(operand, logicOr)
	case 0x1b00: // XOR A, M
		return c.withBanked(operand, func(address uint16) error { return c.logicAM(address, logicXor) })
	case 0x1c00: // XOR M, A
		return c.withBanked(operand, func(address uint16) error { return c.logicMA(address, logicXor) })
	case 0x1d00: // XOR A, #
		return c.logicAI(operand, logicXor)
	case 0x2800: // AND A, M
		return c.withBanked(operand, func(address uint16) error { return c.logicAM(address, logicAnd) })
	case 0x2900: // AND M, A
		return c.withBanked(operand, func(address uint16) error { return c.logicMA(address, logicAnd) })
	case 0x2a00: // AND A, #
		return c.logicAI(operand, logicAnd)

	case 0x1e00: // MOV A, M
		return c.withBanked(operand, c.movAM)
	case 0x2e00: // B0MOV A, M
		return c.movAM(uint16(operand))
	case 0x1f00: // MOV M, A
		return c.withBanked(operand, func(address uint16) error { return c.movMI(address, c.a) })
	case 0x2f00: // B0MOV M, A
		return c.movMI(uint16(operand), c.a)
	case 0x2d00: // MOV A, #
		return c.movAI(operand)

	case 0x2b00: // CLR M
		return c.withBanked(operand, func(address uint16) error { return c.movMI(address, 0) })
	case 0x2c00: // XCH M
		return c.withBanked(operand, c.xch)
	case 0x0200: // B0XCH M
		return c.xch(uint16(operand))
	}
	return IllegalInstructionError{PC: pc, Instruction: ins}
}

func logicOr(a, b byte) byte  { return a | b }
func logicXor(a, b byte) byte { return a ^ b }
func logicAnd(a, b byte) byte { return a & b }

// withBanked resolves a banked operand and runs the instruction body.
func (c *CPU) withBanked(operand byte, body func(address uint16) error) error {
	address, err := c.bankify(operand)
	if err != nil {
		return err
	}
	return body(address)
}

// registerPage reports whether an address is in the always-mapped
// register page. Read-modify-write instructions on other addresses pay
// one extra cycle.
func registerPage(address uint16) bool {
	return address >= 0x80 && address < 0x100
}

func (c *CPU) advancePC() {
	c.SetPC(c.PC() + 1)
}

func (c *CPU) nop() error {
	c.advancePC()
	return c.tic()
}

func (c *CPU) jump(address uint16) error {
	c.SetPC(address)
	if err := c.tic(); err != nil {
		return err
	}
	return c.tic()
}

// callAddress pushes the current program counter and jumps. The stack is
// 8 levels deep and wraps, a 9th call silently corrupts the oldest level
// after warning once the pointer wrapped back.
func (c *CPU) callAddress(address uint16) error {
	stkp := c.ram[regSTKP] & 0x07
	if stkp == 0 {
		c.stkpUnderflow = true
	} else if stkp == 7 && c.stkpUnderflow {
		c.logger.Warn("stack pointer underflow")
	}
	offset := uint16(stkp) * 2
	if err := c.Write(regSTK7L+offset, c.ram[regPCL]); err != nil {
		return err
	}
	if err := c.Write(regSTK7H+offset, c.ram[regPCH]); err != nil {
		return err
	}
	c.storeRAM(regSTKP, c.ram[regSTKP]&0xf8|(stkp-1)&0x07)
	return c.jump(address)
}

func (c *CPU) call(address uint16) error {
	c.advancePC()
	return c.callAddress(address)
}

func (c *CPU) ret() error {
	stkp := c.ram[regSTKP] & 0x07
	if stkp == 7 {
		if c.stkpUnderflow {
			c.stkpUnderflow = false
		} else {
			c.logger.Warn("stack pointer overflow")
		}
	}
	stkp = (stkp + 1) & 0x07
	offset := uint16(stkp) * 2
	c.storeRAM(regSTKP, c.ram[regSTKP]&0xf8|stkp)
	high, err := c.Read(regSTK7H + offset)
	if err != nil {
		return err
	}
	low, err := c.Read(regSTK7L + offset)
	if err != nil {
		return err
	}
	return c.jump(uint16(high)<<8 | uint16(low))
}

func (c *CPU) reti() error {
	// Interrupts are re-enabled before the jump back, so peripherals can
	// interrupt again right away.
	c.setFGIE(true)
	return c.ret()
}

func (c *CPU) push() error {
	c.advancePC()
	c.pushA = c.a
	c.pushFlags = c.ram[regPFLAG] & 0x3f
	return c.tic()
}

func (c *CPU) pop() error {
	c.advancePC()
	c.a = c.pushA
	c.storeRAM(regPFLAG, c.ram[regPFLAG]&0xc0|c.pushFlags)
	return c.tic()
}

func (c *CPU) movc() error {
	c.advancePC()
	high, err := c.Read(regY)
	if err != nil {
		return err
	}
	low, err := c.Read(regZ)
	if err != nil {
		return err
	}
	address := uint16(high)<<8 | uint16(low)
	if address >= FlashWords {
		return FlashRangeError{Address: address}
	}
	value := c.flash[address]
	c.a = byte(value)
	if err := c.Write(regR, byte(value>>8)); err != nil {
		return err
	}
	if err := c.tic(); err != nil {
		return err
	}
	return c.tic()
}

func (c *CPU) xch(address uint16) error {
	c.advancePC()
	fromRAM, err := c.Read(address)
	if err != nil {
		return err
	}
	if err := c.Write(address, c.a); err != nil {
		return err
	}
	c.a = fromRAM
	// FZ unchanged.
	if !registerPage(address) {
		if err := c.tic(); err != nil {
			return err
		}
	}
	return c.tic()
}

func (c *CPU) movAM(address uint16) error {
	c.advancePC()
	value, err := c.Read(address)
	if err != nil {
		return err
	}
	c.a = value
	c.setFlag(flagZ, value == 0)
	return c.tic()
}

func (c *CPU) movAI(immediate byte) error {
	c.advancePC()
	c.a = immediate
	// FZ unchanged.
	return c.tic()
}

func (c *CPU) movMI(address uint16, value byte) error {
	c.advancePC()
	if err := c.Write(address, value); err != nil {
		return err
	}
	return c.tic()
}

func swapNibbles(value byte) byte {
	return value<<4 | value>>4
}

func (c *CPU) swapAM(address uint16) error {
	c.advancePC()
	value, err := c.Read(address)
	if err != nil {
		return err
	}
	c.a = swapNibbles(value)
	// FZ unchanged.
	return c.tic()
}

func (c *CPU) swapMM(address uint16) error {
	c.advancePC()
	value, err := c.Read(address)
	if err != nil {
		return err
	}
	if err := c.Write(address, swapNibbles(value)); err != nil {
		return err
	}
	if !registerPage(address) {
		if err := c.tic(); err != nil {
			return err
		}
	}
	return c.tic()
}

func (c *CPU) logicAI(immediate byte, logic func(a, b byte) byte) error {
	c.advancePC()
	value := logic(c.a, immediate)
	c.a = value
	c.setFlag(flagZ, value == 0)
	return c.tic()
}

func (c *CPU) logicAM(address uint16, logic func(a, b byte) byte) error {
	c.advancePC()
	operand, err := c.Read(address)
	if err != nil {
		return err
	}
	value := logic(c.a, operand)
	c.a = value
	c.setFlag(flagZ, value == 0)
	return c.tic()
}

func (c *CPU) logicMA(address uint16, logic func(a, b byte) byte) error {
	c.advancePC()
	operand, err := c.Read(address)
	if err != nil {
		return err
	}
	value := logic(c.a, operand)
	if err := c.Write(address, value); err != nil {
		return err
	}
	c.setFlag(flagZ, value == 0)
	if !registerPage(address) {
		if err := c.tic(); err != nil {
			return err
		}
	}
	return c.tic()
}

func (c *CPU) cmprsAI(immediate byte) error {
	c.advancePC()
	a := c.a
	c.setFlag(flagC, a >= immediate)
	equal := a == immediate
	c.setFlag(flagZ, equal)
	if equal {
		c.advancePC()
		if err := c.tic(); err != nil {
			return err
		}
	}
	return c.tic()
}

func (c *CPU) rrc(address uint16) (byte, error) {
	value, err := c.Read(address)
	if err != nil {
		return 0, err
	}
	wide := uint16(c.carry())<<8 | uint16(value)
	c.setFlag(flagC, wide&1 != 0)
	return byte(wide >> 1), nil
}

func (c *CPU) rlc(address uint16) (byte, error) {
	value, err := c.Read(address)
	if err != nil {
		return 0, err
	}
	wide := uint16(value)<<1 | uint16(c.carry())
	c.setFlag(flagC, wide&0x100 != 0)
	return byte(wide), nil
}

func (c *CPU) rotateA(address uint16, rotor func(uint16) (byte, error)) error {
	c.advancePC()
	value, err := rotor(address)
	if err != nil {
		return err
	}
	c.a = value
	return c.tic()
}

func (c *CPU) rotateM(address uint16, rotor func(uint16) (byte, error)) error {
	c.advancePC()
	value, err := rotor(address)
	if err != nil {
		return err
	}
	if err := c.Write(address, value); err != nil {
		return err
	}
	if !registerPage(address) {
		if err := c.tic(); err != nil {
			return err
		}
	}
	return c.tic()
}

// addCore adds to the accumulator, updating carry, half-carry and zero.
func (c *CPU) addCore(immediate int) byte {
	a := int(c.a)
	value := a + immediate
	result := byte(value)
	c.setFlag(flagC, value > 0xff)
	c.setFlag(flagDC, a&0xf+immediate&0xf > 0xf)
	c.setFlag(flagZ, result == 0)
	return result
}

func (c *CPU) addAM(address uint16, carry byte) error {
	c.advancePC()
	value, err := c.Read(address)
	if err != nil {
		return err
	}
	c.a = c.addCore(int(value) + int(carry))
	return c.tic()
}

func (c *CPU) addMA(address uint16, carry byte) error {
	c.advancePC()
	value, err := c.Read(address)
	if err != nil {
		return err
	}
	if err := c.Write(address, c.addCore(int(value)+int(carry))); err != nil {
		return err
	}
	if address == regPCL && c.flag(flagC) {
		// Jump tables must not cross a 0x100 boundary, PCH is not
		// carried into.
		return fmt.Errorf("incrementing PCL overflows")
	}
	if !registerPage(address) {
		if err := c.tic(); err != nil {
			return err
		}
	}
	return c.tic()
}

func (c *CPU) addAI(immediate byte) error {
	c.advancePC()
	c.a = c.addCore(int(immediate))
	return c.tic()
}

// subCore subtracts from the accumulator. Carry is set when no borrow
// occurred.
func (c *CPU) subCore(immediate int) byte {
	a := int(c.a)
	value := a - immediate
	result := byte(value)
	c.setFlag(flagC, value >= 0)
	c.setFlag(flagDC, a&0xf-immediate&0xf >= 0)
	c.setFlag(flagZ, result == 0)
	return result
}

func (c *CPU) subAM(address uint16, carry byte) error {
	c.advancePC()
	value, err := c.Read(address)
	if err != nil {
		return err
	}
	c.a = c.subCore(int(value) - int(carry) + 1)
	return c.tic()
}

func (c *CPU) subMA(address uint16, carry byte) error {
	c.advancePC()
	value, err := c.Read(address)
	if err != nil {
		return err
	}
	if err := c.Write(address, c.subCore(int(value)-int(carry)+1)); err != nil {
		return err
	}
	if err := c.tic(); err != nil {
		return err
	}
	if !registerPage(address) {
		return c.tic()
	}
	return nil
}

func (c *CPU) subAI(immediate byte) error {
	c.advancePC()
	c.a = c.subCore(int(immediate))
	return c.tic()
}

func (c *CPU) clearBit(address uint16, bit byte) error {
	c.advancePC()
	value, err := c.Read(address)
	if err != nil {
		return err
	}
	if err := c.Write(address, value&^(1<<bit)); err != nil {
		return err
	}
	if !registerPage(address) {
		if err := c.tic(); err != nil {
			return err
		}
	}
	return c.tic()
}

func (c *CPU) setBit(address uint16, bit byte) error {
	c.advancePC()
	value, err := c.Read(address)
	if err != nil {
		return err
	}
	if err := c.Write(address, value|1<<bit); err != nil {
		return err
	}
	if !registerPage(address) {
		if err := c.tic(); err != nil {
			return err
		}
	}
	return c.tic()
}

func (c *CPU) testBitZero(address uint16, bit byte) error {
	c.advancePC()
	value, err := c.Read(address)
	if err != nil {
		return err
	}
	if value&(1<<bit) == 0 {
		c.advancePC()
		if err := c.tic(); err != nil {
			return err
		}
	}
	return c.tic()
}

func (c *CPU) testBitOne(address uint16, bit byte) error {
	c.advancePC()
	value, err := c.Read(address)
	if err != nil {
		return err
	}
	if value&(1<<bit) != 0 {
		c.advancePC()
		if err := c.tic(); err != nil {
			return err
		}
	}
	return c.tic()
}

func (c *CPU) incAM(address uint16, delta int) error {
	c.advancePC()
	value, err := c.Read(address)
	if err != nil {
		return err
	}
	result := byte(int(value) + delta)
	c.a = result
	if result == 0 {
		c.advancePC()
		if err := c.tic(); err != nil {
			return err
		}
	}
	return c.tic()
}

func (c *CPU) incMM(address uint16, delta int) error {
	c.advancePC()
	value, err := c.Read(address)
	if err != nil {
		return err
	}
	result := byte(int(value) + delta)
	if err := c.Write(address, result); err != nil {
		return err
	}
	if result == 0 {
		c.advancePC()
		if err := c.tic(); err != nil {
			return err
		}
	}
	if !registerPage(address) {
		if err := c.tic(); err != nil {
			return err
		}
	}
	return c.tic()
}
