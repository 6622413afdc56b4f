// Package opcode contains the SN8 instruction table shared by the
// assembler, the disassembler and the simulator.
package opcode

// Space describes the address space an instruction operand lives in.
type Space uint8

// Operand address spaces.
const (
	SpaceNone      Space = iota // no operand encoded in the instruction
	SpaceZero                   // zero-page ram address
	SpaceRAM                    // banked ram address
	SpaceROM                    // rom address
	SpaceImmediate              // immediate value
)

// Flow describes how an instruction affects control flow.
type Flow uint8

// Control flow kinds.
const (
	FlowNext   Flow = iota // falls through to the next instruction
	FlowBranch             // conditionally skips the next instruction
	FlowJump               // unconditional jump
	FlowCall               // subroutine call
	FlowStop               // does not fall through, return instructions
)

// Operand describes the kind of one instruction operand.
type Operand uint8

// Operand kinds.
const (
	OperandNone Operand = iota
	OperandA
	OperandAddress
	OperandBitAddress
	OperandImmediate
	OperandRegister // fixed register named by Info.Register
)

// Info describes one instruction of the SN8 instruction set.
type Info struct {
	Mask     uint16 // operand bits inside the instruction word
	Space    Space
	Reads    bool // reads the addressed memory cell
	Writes   bool // writes the addressed memory cell
	Flow     Flow
	Name     string
	Dst      Operand
	Src      Operand
	Register string // register name for OperandRegister operands
}

// HasOperand returns true if the instruction encodes an operand.
func (i Info) HasOperand() bool {
	return i.Mask != 0
}

// Opcodes maps the instruction discriminator byte to instruction info.
// The discriminator is derived from the high byte of the instruction
// word, see Decode.
var Opcodes = map[uint8]Info{
	0x00: {Mask: 0x0000, Space: SpaceNone, Flow: FlowNext, Name: "NOP"},
	0x02: {Mask: 0x00ff, Space: SpaceZero, Reads: true, Writes: true, Flow: FlowNext, Name: "B0XCH", Dst: OperandA, Src: OperandAddress},
	0x03: {Mask: 0x00ff, Space: SpaceZero, Reads: true, Writes: true, Flow: FlowNext, Name: "B0ADD", Dst: OperandAddress, Src: OperandA},
	0x04: {Mask: 0x0000, Space: SpaceNone, Flow: FlowNext, Name: "PUSH"},
	0x05: {Mask: 0x0000, Space: SpaceNone, Flow: FlowNext, Name: "POP"},
	0x06: {Mask: 0x00ff, Space: SpaceImmediate, Flow: FlowBranch, Name: "CMPRS", Dst: OperandA, Src: OperandImmediate},
	0x07: {Mask: 0x00ff, Space: SpaceRAM, Reads: true, Flow: FlowBranch, Name: "CMPRS", Dst: OperandA, Src: OperandAddress},
	0x08: {Mask: 0x00ff, Space: SpaceRAM, Reads: true, Flow: FlowNext, Name: "RRC", Dst: OperandAddress},
	0x09: {Mask: 0x00ff, Space: SpaceRAM, Reads: true, Writes: true, Flow: FlowNext, Name: "RRCM", Dst: OperandAddress},
	0x0a: {Mask: 0x00ff, Space: SpaceRAM, Reads: true, Flow: FlowNext, Name: "RLC", Dst: OperandAddress},
	0x0b: {Mask: 0x00ff, Space: SpaceRAM, Reads: true, Writes: true, Flow: FlowNext, Name: "RLCM", Dst: OperandAddress},
	0x0d: {Mask: 0x0000, Space: SpaceNone, Flow: FlowNext, Name: "MOVC"},
	0x0e: {Mask: 0x0000, Space: SpaceNone, Flow: FlowStop, Name: "RET"},
	0x0f: {Mask: 0x0000, Space: SpaceNone, Flow: FlowStop, Name: "RETI"},
	0x10: {Mask: 0x00ff, Space: SpaceRAM, Reads: true, Flow: FlowNext, Name: "ADC", Dst: OperandA, Src: OperandAddress},
	0x11: {Mask: 0x00ff, Space: SpaceRAM, Reads: true, Writes: true, Flow: FlowNext, Name: "ADC", Dst: OperandAddress, Src: OperandA},
	0x12: {Mask: 0x00ff, Space: SpaceRAM, Reads: true, Flow: FlowNext, Name: "ADD", Dst: OperandA, Src: OperandAddress},
	0x13: {Mask: 0x00ff, Space: SpaceRAM, Reads: true, Writes: true, Flow: FlowNext, Name: "ADD", Dst: OperandAddress, Src: OperandA},
	0x14: {Mask: 0x00ff, Space: SpaceImmediate, Flow: FlowNext, Name: "ADD", Dst: OperandA, Src: OperandImmediate},
	0x15: {Mask: 0x00ff, Space: SpaceRAM, Reads: true, Flow: FlowBranch, Name: "INCS", Dst: OperandAddress},
	0x16: {Mask: 0x00ff, Space: SpaceRAM, Reads: true, Writes: true, Flow: FlowBranch, Name: "INCMS", Dst: OperandAddress},
	0x17: {Mask: 0x00ff, Space: SpaceRAM, Reads: true, Flow: FlowNext, Name: "SWAP", Dst: OperandAddress},
	0x18: {Mask: 0x00ff, Space: SpaceRAM, Reads: true, Flow: FlowNext, Name: "OR", Dst: OperandA, Src: OperandAddress},
	0x19: {Mask: 0x00ff, Space: SpaceRAM, Reads: true, Writes: true, Flow: FlowNext, Name: "OR", Dst: OperandAddress, Src: OperandA},
	0x1a: {Mask: 0x00ff, Space: SpaceImmediate, Flow: FlowNext, Name: "OR", Dst: OperandA, Src: OperandImmediate},
	0x1b: {Mask: 0x00ff, Space: SpaceRAM, Reads: true, Flow: FlowNext, Name: "XOR", Dst: OperandA, Src: OperandAddress},
	0x1c: {Mask: 0x00ff, Space: SpaceRAM, Reads: true, Writes: true, Flow: FlowNext, Name: "XOR", Dst: OperandAddress, Src: OperandA},
	0x1d: {Mask: 0x00ff, Space: SpaceImmediate, Flow: FlowNext, Name: "XOR", Dst: OperandA, Src: OperandImmediate},
	0x1e: {Mask: 0x00ff, Space: SpaceRAM, Reads: true, Flow: FlowNext, Name: "MOV", Dst: OperandA, Src: OperandAddress},
	0x1f: {Mask: 0x00ff, Space: SpaceRAM, Writes: true, Flow: FlowNext, Name: "MOV", Dst: OperandAddress, Src: OperandA},
	0x20: {Mask: 0x00ff, Space: SpaceRAM, Reads: true, Flow: FlowNext, Name: "SBC", Dst: OperandA, Src: OperandAddress},
	0x21: {Mask: 0x00ff, Space: SpaceRAM, Reads: true, Writes: true, Flow: FlowNext, Name: "SBC", Dst: OperandAddress, Src: OperandA},
	0x22: {Mask: 0x00ff, Space: SpaceRAM, Reads: true, Flow: FlowNext, Name: "SUB", Dst: OperandA, Src: OperandAddress},
	0x23: {Mask: 0x00ff, Space: SpaceRAM, Reads: true, Writes: true, Flow: FlowNext, Name: "SUB", Dst: OperandAddress, Src: OperandA},
	0x24: {Mask: 0x00ff, Space: SpaceImmediate, Flow: FlowNext, Name: "SUB", Dst: OperandA, Src: OperandImmediate},
	0x25: {Mask: 0x00ff, Space: SpaceRAM, Reads: true, Flow: FlowBranch, Name: "DECS", Dst: OperandAddress},
	0x26: {Mask: 0x00ff, Space: SpaceRAM, Reads: true, Writes: true, Flow: FlowBranch, Name: "DECMS", Dst: OperandAddress},
	0x27: {Mask: 0x00ff, Space: SpaceRAM, Reads: true, Writes: true, Flow: FlowNext, Name: "SWAPM", Dst: OperandAddress},
	0x28: {Mask: 0x00ff, Space: SpaceRAM, Reads: true, Flow: FlowNext, Name: "AND", Dst: OperandA, Src: OperandAddress},
	0x29: {Mask: 0x00ff, Space: SpaceRAM, Reads: true, Writes: true, Flow: FlowNext, Name: "AND", Dst: OperandAddress, Src: OperandA},
	0x2a: {Mask: 0x00ff, Space: SpaceImmediate, Flow: FlowNext, Name: "AND", Dst: OperandA, Src: OperandImmediate},
	0x2b: {Mask: 0x00ff, Space: SpaceRAM, Writes: true, Flow: FlowNext, Name: "CLR", Dst: OperandAddress},
	0x2c: {Mask: 0x00ff, Space: SpaceRAM, Reads: true, Writes: true, Flow: FlowNext, Name: "XCH", Dst: OperandA, Src: OperandAddress},
	0x2d: {Mask: 0x00ff, Space: SpaceImmediate, Flow: FlowNext, Name: "MOV", Dst: OperandA, Src: OperandImmediate},
	0x2e: {Mask: 0x00ff, Space: SpaceZero, Reads: true, Flow: FlowNext, Name: "B0MOV", Dst: OperandA, Src: OperandAddress},
	0x2f: {Mask: 0x00ff, Space: SpaceZero, Writes: true, Flow: FlowNext, Name: "B0MOV", Dst: OperandAddress, Src: OperandA},
	0x32: {Mask: 0x00ff, Space: SpaceImmediate, Flow: FlowNext, Name: "B0MOV", Dst: OperandRegister, Src: OperandImmediate, Register: "R"},
	0x33: {Mask: 0x00ff, Space: SpaceImmediate, Flow: FlowNext, Name: "B0MOV", Dst: OperandRegister, Src: OperandImmediate, Register: "Z"},
	0x34: {Mask: 0x00ff, Space: SpaceImmediate, Flow: FlowNext, Name: "B0MOV", Dst: OperandRegister, Src: OperandImmediate, Register: "Y"},
	0x36: {Mask: 0x00ff, Space: SpaceImmediate, Flow: FlowNext, Name: "B0MOV", Dst: OperandRegister, Src: OperandImmediate, Register: "PFLAG"},
	0x37: {Mask: 0x00ff, Space: SpaceImmediate, Flow: FlowNext, Name: "B0MOV", Dst: OperandRegister, Src: OperandImmediate, Register: "RBANK"},
	0x40: {Mask: 0x00ff, Space: SpaceRAM, Writes: true, Flow: FlowNext, Name: "BCLR", Dst: OperandBitAddress},
	0x48: {Mask: 0x00ff, Space: SpaceRAM, Writes: true, Flow: FlowNext, Name: "BSET", Dst: OperandBitAddress},
	0x50: {Mask: 0x00ff, Space: SpaceRAM, Reads: true, Flow: FlowBranch, Name: "BTS0", Dst: OperandBitAddress},
	0x58: {Mask: 0x00ff, Space: SpaceRAM, Reads: true, Flow: FlowBranch, Name: "BTS1", Dst: OperandBitAddress},
	0x60: {Mask: 0x00ff, Space: SpaceZero, Writes: true, Flow: FlowNext, Name: "B0BCLR", Dst: OperandBitAddress},
	0x68: {Mask: 0x00ff, Space: SpaceZero, Writes: true, Flow: FlowNext, Name: "B0BSET", Dst: OperandBitAddress},
	0x70: {Mask: 0x00ff, Space: SpaceZero, Reads: true, Flow: FlowBranch, Name: "B0BTS0", Dst: OperandBitAddress},
	0x78: {Mask: 0x00ff, Space: SpaceZero, Reads: true, Flow: FlowBranch, Name: "B0BTS1", Dst: OperandBitAddress},
	0x80: {Mask: 0x3fff, Space: SpaceROM, Flow: FlowJump, Name: "JMP", Dst: OperandAddress},
	0xc0: {Mask: 0x3fff, Space: SpaceROM, Flow: FlowCall, Name: "CALL", Dst: OperandAddress},
}

// Opcode is a decoded instruction word.
type Opcode struct {
	Key     uint8 // discriminator byte identifying the Opcodes entry
	Info    Info
	Operand uint16 // instruction word masked with Info.Mask
	Bit     uint8  // bit index for bit instructions
}

// Decode decodes an instruction word into its instruction table entry.
// It returns false for words that do not encode a valid instruction.
func Decode(ins uint16) (Opcode, bool) {
	key := uint8(ins >> 8)
	switch {
	case key >= 0x80:
		key &= 0xc0
	case key >= 0x40:
		key &= 0xf8
	}

	info, ok := Opcodes[key]
	if !ok {
		return Opcode{}, false
	}
	op := Opcode{
		Key:     key,
		Info:    info,
		Operand: ins & info.Mask,
	}
	if info.Dst == OperandBitAddress {
		op.Bit = uint8(ins>>8) & 7
	}
	return op, true
}
