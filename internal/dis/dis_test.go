package dis

import (
	"bytes"
	"strings"
	"testing"

	"github.com/retroenv/retrogolib/assert"
	"github.com/vpelletier/dissn8/internal/asm"
	"github.com/vpelletier/dissn8/internal/chip"
)

func newDisasm(t *testing.T) *Disasm {
	t.Helper()
	def, err := chip.SN8F2288()
	assert.NoError(t, err)
	return New(def)
}

func TestInstruction(t *testing.T) {
	tests := []struct {
		name    string
		address uint16
		ins     uint16
		want    string
	}{
		{name: "nop", ins: 0x0000, want: "NOP"},
		{name: "ret", ins: 0x0e00, want: "RET"},
		{name: "jmp", ins: 0x8123, want: "JMP\t0x0123"},
		{name: "jmp next", address: 0x0001, ins: 0x8002, want: "JMP\t$+1"},
		{name: "call", ins: 0xd234, want: "CALL\t0x1234"},
		{name: "mov immediate", ins: 0x2d42, want: "MOV\tA, #0x42"},
		{name: "mov named register", ins: 0x1e86, want: "MOV\tA, PFLAG"},
		{name: "mov plain ram", ins: 0x1f30, want: "MOV\t0x30, A"},
		{name: "named bit", ins: 0x6fdf, want: "B0BSET\tFGIE"},
		{name: "register bit without name", ins: 0x45ce, want: "BCLR\tPCL.5"},
		{name: "numeric bit", ins: 0x4530, want: "BCLR\t0x30.5"},
		{name: "b0mov register", ins: 0x3701, want: "B0MOV\tRBANK, #0x01"},
		{name: "illegal", ins: 0x0c00, want: "DW\t0x0c00\t; ILLEGAL OPCODE"},
	}

	d := newDisasm(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, d.Instruction(tt.address, tt.ins))
		})
	}
}

func TestWords(t *testing.T) {
	words, err := Words([]byte{0x34, 0x12, 0x00, 0x8a})
	assert.NoError(t, err)
	assert.Len(t, words, 2)
	assert.Equal(t, 0x1234, words[0])
	assert.Equal(t, 0x8a00, words[1])

	_, err = Words([]byte{0x34, 0x12, 0x00})
	assert.ErrorContains(t, err, "odd image length")
}

func TestListingLabels(t *testing.T) {
	d := newDisasm(t)
	words := make([]uint16, 0x40)
	words[0] = 0x8020 // JMP 0x0020
	words[1] = 0xc030 // CALL 0x0030
	words[2] = 0xc020 // CALL 0x0020

	var listing bytes.Buffer
	assert.NoError(t, d.Listing(&listing, words))
	text := listing.String()

	assert.True(t, strings.Contains(text, "CALL\tfunc_0030"))
	assert.True(t, strings.Contains(text, "func_0030:"))
	// A destination both jumped and called to is a function.
	assert.True(t, strings.Contains(text, "JMP\tfunc_0020"))
	assert.True(t, strings.Contains(text, "func_0020:"))
}

func TestListingJumpLabel(t *testing.T) {
	d := newDisasm(t)
	words := make([]uint16, 0x10)
	words[0] = 0x8004 // JMP 0x0004

	var listing bytes.Buffer
	assert.NoError(t, d.Listing(&listing, words))
	text := listing.String()

	assert.True(t, strings.Contains(text, "JMP\t_label_0004"))
	assert.True(t, strings.Contains(text, "_label_0004:"))
}

func TestListingRoundTrip(t *testing.T) {
	source := `CHIP SN8F2288
//{{SONIX_CODE_OPTION
	.Code_Option Watch_Dog "Disable"
	.Code_Option LVD "LVD_M"
//}}SONIX_CODE_OPTION
.CODE
ORG 0
	B0MOV RBANK, #0
	MOV   A, #0x42
	MOV   0x30, A
	B0BSET FGIE
	CALL  func
	BCLR  0x98.5
loop:
	INCMS 0x30
	JMP   loop
	JMP   $
ORG 0x1234
func:
	CMPRS A, #7
	ADD   A, 0x30
	RET
ORG 0x2800
	DW 0x1234, 0xabcd
`
	image, err := asm.Assemble(source)
	assert.NoError(t, err)

	d := newDisasm(t)
	words, err := Words(image)
	assert.NoError(t, err)

	var listing bytes.Buffer
	assert.NoError(t, d.Listing(&listing, words))

	again, err := asm.Assemble(listing.String())
	assert.NoError(t, err)
	assert.True(t, bytes.Equal(image, again), "listing does not assemble back to the same image")
}
