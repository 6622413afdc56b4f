package chip

import (
	"testing"

	"github.com/retroenv/retrogolib/assert"
)

func TestSN8F2288(t *testing.T) {
	def, err := SN8F2288()
	assert.NoError(t, err)

	assert.Equal(t, "SN8F2288", def.Name)
	assert.Equal(t, 0x0000, def.ROMStart)
	assert.Equal(t, 0x3000, def.ROMStop)
	assert.Equal(t, 0x0300, def.RAMStop)
	assert.Equal(t, 0x2fff, def.CodeOptionAddress)
}

func TestDefinitionRegisters(t *testing.T) {
	def, err := SN8F2288()
	assert.NoError(t, err)

	tests := []struct {
		name string
		addr uint16
	}{
		{"PCL", 0xce},
		{"PCH", 0xcf},
		{"PFLAG", 0x86},
		{"STKP", 0xdf},
		{"OSCM", 0xca},
		{"STK7L", 0xf0},
		{"STK0H", 0xff},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, ok := def.Address(tt.name)
			assert.True(t, ok)
			assert.Equal(t, tt.addr, addr)

			name, ok := def.RegisterName(tt.addr)
			assert.True(t, ok)
			assert.Equal(t, tt.name, name)
		})
	}
}

func TestDefinitionBits(t *testing.T) {
	def, err := SN8F2288()
	assert.NoError(t, err)

	tests := []struct {
		name string
		addr uint16
		bit  uint8
	}{
		{"FC", 0x86, 2},
		{"FZ", 0x86, 0},
		{"FGIE", 0xdf, 7},
		{"FUDE", 0x91, 7},
		{"FEP0SETUP", 0x92, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, ok := def.Bit(tt.name)
			assert.True(t, ok)
			assert.Equal(t, tt.addr, ref.Addr)
			assert.Equal(t, tt.bit, ref.Bit)

			name, ok := def.BitName(ref)
			assert.True(t, ok)
			assert.Equal(t, tt.name, name)
		})
	}
}

func TestDefinitionCodeOptions(t *testing.T) {
	def, err := SN8F2288()
	assert.NoError(t, err)

	option, ok := def.CodeOptionField("Watch_Dog")
	assert.True(t, ok)
	assert.Equal(t, 0x2fff, option.Addr)
	assert.Equal(t, 0x0f00, option.Mask)
	assert.Equal(t, 0x0a00, option.Values["Disable"])
	assert.Equal(t, 0x0000, option.Values["Always_On"])
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{
			name:  "missing chip section",
			input: "[ram-reserved]\n0x82 = R\n",
		},
		{
			name: "bad address",
			input: "[chip]\nname = X\nrom_start = zzz\nrom_stop = 0\n" +
				"ram_start = 0\nram_stop = 0\ncode_option_address = 0\n",
		},
		{
			name: "duplicate register",
			input: "[chip]\nname = X\nrom_start = 0\nrom_stop = 0\n" +
				"ram_start = 0\nram_stop = 0\ncode_option_address = 0\n" +
				"[ram-reserved]\n0x82 = R\n0x83 = R\n",
		},
		{
			name: "bad bit index",
			input: "[chip]\nname = X\nrom_start = 0\nrom_stop = 0\n" +
				"ram_start = 0\nram_stop = 0\ncode_option_address = 0\n" +
				"[ram-reserved]\n0x86.9 = FX\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.input))
			assert.Error(t, err)
		})
	}
}
