package opcode

import (
	"testing"

	"github.com/retroenv/retrogolib/assert"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		ins     uint16
		want    string
		operand uint16
		bit     uint8
	}{
		{name: "nop", ins: 0x0000, want: "NOP"},
		{name: "mov a imm", ins: 0x2d42, want: "MOV", operand: 0x42},
		{name: "b0mov r imm", ins: 0x3207, want: "B0MOV", operand: 0x07},
		{name: "bclr", ins: 0x45d0, want: "BCLR", operand: 0xd0, bit: 5},
		{name: "b0bts1", ins: 0x7f86, want: "B0BTS1", operand: 0x86, bit: 7},
		{name: "jmp", ins: 0x8123, want: "JMP", operand: 0x0123},
		{name: "call", ins: 0xc123, want: "CALL", operand: 0x0123},
		{name: "call high bits", ins: 0xffff, want: "CALL", operand: 0x3fff},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, ok := Decode(tt.ins)
			assert.True(t, ok)
			assert.Equal(t, tt.want, op.Info.Name)
			assert.Equal(t, tt.operand, op.Operand)
			assert.Equal(t, tt.bit, op.Bit)
		})
	}
}

func TestDecodeIllegal(t *testing.T) {
	for _, ins := range []uint16{0x0100, 0x0c00, 0x3000, 0x3100, 0x3500, 0x3800, 0x3fff} {
		_, ok := Decode(ins)
		assert.False(t, ok)
	}
}
