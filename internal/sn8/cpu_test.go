package sn8

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/retroenv/retrogolib/assert"
	"github.com/retroenv/retrogolib/log"

	"github.com/vpelletier/dissn8/internal/asm"
	"github.com/vpelletier/dissn8/internal/chip"
)

// newSim assembles a test program with standard code options and boots
// a simulator from the resulting image.
func newSim(t *testing.T, source string) *CPU {
	return newSimWatchdog(t, source, false)
}

func newSimWatchdog(t *testing.T, source string, watchdog bool) *CPU {
	watchdogOption := "Disable"
	if watchdog {
		watchdogOption = "Enable"
	}
	image, err := asm.Assemble("CHIP SN8F2288\n" +
		"//{{SONIX_CODE_OPTION\n" +
		"	.Code_Option Watch_Dog \"" + watchdogOption + "\"\n" +
		"	.Code_Option LVD \"LVD_M\"\n" +
		"//}}SONIX_CODE_OPTION\n" +
		".CODE\n" +
		"ORG 0\n" +
		source + "\n")
	assert.NoError(t, err)

	words, err := LoadImage(bytes.NewReader(image))
	assert.NoError(t, err)
	def, err := chip.SN8F2288()
	assert.NoError(t, err)
	cpu, err := New(log.NewTestLogger(t), def, words)
	assert.NoError(t, err)
	return cpu
}

func step(t *testing.T, c *CPU) {
	t.Helper()
	assert.NoError(t, c.Step())
}

// assertState compares complete simulation states, timing excluded.
func assertState(t *testing.T, want, got Snapshot) {
	t.Helper()
	assert.True(t, want.StripTiming() == got.StripTiming())
}

func TestJMP(t *testing.T) {
	sim := newSim(t, "JMP $")
	s0 := sim.Snapshot()
	step(t, sim)
	s1 := sim.Snapshot()
	assert.Equal(t, s0.CycleCount+2, s1.CycleCount)
	assertState(t, s0, s1)
}

func TestCallRet(t *testing.T) {
	sim := newSim(t, `
		CALL func
		JMP  $
	ORG 0x1234
	func:
		RET
	`)
	s0 := sim.Snapshot()

	step(t, sim) // CALL
	s1 := sim.Snapshot()
	assert.Equal(t, s0.CycleCount+2, s1.CycleCount)
	want := s0
	want.RAM[regPCL] = 0x34
	want.RAM[regPCH] = 0x12
	want.RAM[regSTKP] = 6
	want.RAM[regSTK0L] = 0x01
	assertState(t, want, s1)

	step(t, sim) // RET
	s2 := sim.Snapshot()
	assert.Equal(t, s1.CycleCount+2, s2.CycleCount)
	want = s1
	want.RAM[regPCL] = 0x01
	want.RAM[regPCH] = 0x00
	want.RAM[regSTKP] = 7
	assertState(t, want, s2)
}

func TestMovBsetBclr(t *testing.T) {
	for bank := byte(0); bank <= 2; bank++ {
		t.Run(fmt.Sprintf("bank%d", bank), func(t *testing.T) {
			sim := newSim(t, `
				MOV     A, #0x55
				MOV     0x00, A
				B0MOV   0x01, A
				BCLR    0x00.0
				BSET    0x00.1
				B0BCLR  0x01.4
				B0BSET  0x01.5
			`)
			assert.NoError(t, sim.Write(regRBANK, bank))
			bankAddress := uint16(bank) << 8
			s0 := sim.Snapshot()

			step(t, sim) // MOV A, #
			s1 := sim.Snapshot()
			assert.Equal(t, s0.CycleCount+1, s1.CycleCount)
			want := s0
			want.A = 0x55
			want.RAM[regPCL] = 0x01
			assertState(t, want, s1)

			step(t, sim) // MOV M, A
			step(t, sim) // B0MOV M, A
			s2 := sim.Snapshot()
			assert.Equal(t, s1.CycleCount+2, s2.CycleCount)
			want = s1
			want.RAM[bankAddress] = 0x55
			want.RAMInit[bankAddress] = true
			want.RAM[0x01] = 0x55
			want.RAMInit[0x01] = true
			want.RAM[regPCL] = 0x03
			assertState(t, want, s2)

			step(t, sim) // BCLR M.b
			step(t, sim) // BSET M.b
			step(t, sim) // B0BCLR M.b
			step(t, sim) // B0BSET M.b
			s3 := sim.Snapshot()
			assert.Equal(t, s2.CycleCount+8, s3.CycleCount)
			want = s2
			want.RAM[bankAddress] = 0x56
			want.RAM[0x01] = 0x65
			want.RAM[regPCL] = 0x07
			assertState(t, want, s3)
		})
	}
}

func TestInterruptReti(t *testing.T) {
	sim := newSim(t, `
		B0BSET  FGIE
	loop:
		JMP     loop
	ORG 8
		RETI
	`)
	step(t, sim) // B0BSET FGIE
	assert.True(t, sim.FGIE())
	s0 := sim.Snapshot()
	// One jump, to check that RETI obeys the interrupted instruction
	// instead of falling through to the next address.
	step(t, sim)
	assert.NoError(t, sim.interrupt())
	s1 := sim.Snapshot()
	want := s0
	want.RAM[regPCL] = 0x08
	want.RAM[regSTKP] = 6 // FGIE cleared
	want.RAM[regSTK0L] = 0x01
	assertState(t, want, s1)

	step(t, sim) // RETI
	s2 := sim.Snapshot()
	assert.Equal(t, s1.CycleCount+2, s2.CycleCount)
	want = s1
	want.RAM[regPCL] = 0x01
	want.RAM[regSTKP] = 0x87 // FGIE set
	assertState(t, want, s2)

	// The restored codepath still loops in place.
	step(t, sim)
	assertState(t, s2, sim.Snapshot())
}

func TestPushPop(t *testing.T) {
	sim := newSim(t, `
		MOV     A, #0xaa
		B0BSET  FC
		B0BSET  FZ
		PUSH
		MOV     A, #0x55
		B0BCLR  FC
		B0BSET  FDC
		POP
	`)
	s0 := sim.Snapshot()
	step(t, sim) // MOV A, #
	step(t, sim) // B0BSET FC
	step(t, sim) // B0BSET FZ
	s1 := sim.Snapshot()
	assert.Equal(t, s0.CycleCount+3, s1.CycleCount)
	want := s0
	want.A = 0xaa
	want.RAM[regPFLAG] = 0b10000101
	want.RAM[regPCL] = 0x03
	assertState(t, want, s1)

	step(t, sim) // PUSH
	s2 := sim.Snapshot()
	assert.Equal(t, s1.CycleCount+1, s2.CycleCount)
	want = s1
	want.PushA = 0xaa
	want.PushFlags = 0b00000101
	want.RAM[regPCL] = 0x04
	assertState(t, want, s2)

	step(t, sim) // MOV A, #
	step(t, sim) // B0BCLR FC
	step(t, sim) // B0BSET FDC
	s3 := sim.Snapshot()
	assert.Equal(t, s2.CycleCount+3, s3.CycleCount)
	want = s2
	want.A = 0x55
	want.RAM[regPFLAG] = 0b10000011
	want.RAM[regPCL] = 0x07
	assertState(t, want, s3)

	step(t, sim) // POP
	s4 := sim.Snapshot()
	assert.Equal(t, s3.CycleCount+1, s4.CycleCount)
	want = s3
	want.A = 0xaa
	want.RAM[regPFLAG] = 0b10000101
	want.RAM[regPCL] = 0x08
	assertState(t, want, s4)
}

func TestCmprsSkip(t *testing.T) {
	sim := newSim(t, `
		MOV    A, #5
		CMPRS  A, #5
		JMP    $
		CMPRS  A, #6
		JMP    $
	`)
	step(t, sim) // MOV A, #
	s0 := sim.Snapshot()

	step(t, sim) // CMPRS A, #5: equal, skips the JMP
	s1 := sim.Snapshot()
	assert.Equal(t, s0.CycleCount+2, s1.CycleCount)
	assert.Equal(t, 3, sim.PC())
	assert.True(t, sim.flag(flagC))
	assert.True(t, sim.flag(flagZ))

	step(t, sim) // CMPRS A, #6: lower, no skip
	s2 := sim.Snapshot()
	assert.Equal(t, s1.CycleCount+1, s2.CycleCount)
	assert.Equal(t, 4, sim.PC())
	assert.False(t, sim.flag(flagC))
	assert.False(t, sim.flag(flagZ))
}

func TestAddSubFlags(t *testing.T) {
	sim := newSim(t, `
		MOV  A, #0xf8
		ADD  A, #0x18
		SUB  A, #0x11
	`)
	step(t, sim) // MOV A, #

	step(t, sim) // ADD: 0xf8 + 0x18 = 0x110
	assert.Equal(t, 0x10, sim.A())
	assert.True(t, sim.flag(flagC))
	assert.True(t, sim.flag(flagDC))
	assert.False(t, sim.flag(flagZ))

	step(t, sim) // SUB: 0x10 - 0x11 borrows
	assert.Equal(t, 0xff, sim.A())
	assert.False(t, sim.flag(flagC))
	assert.False(t, sim.flag(flagDC))
	assert.False(t, sim.flag(flagZ))
}

func TestMovc(t *testing.T) {
	sim := newSim(t, `
		B0MOV  Y, #0x12
		B0MOV  Z, #0x34
		MOVC
	ORG 0x1234
		DW 0xbeef
	`)
	step(t, sim)
	step(t, sim)
	s0 := sim.Snapshot()
	step(t, sim) // MOVC
	s1 := sim.Snapshot()
	assert.Equal(t, s0.CycleCount+2, s1.CycleCount)
	assert.Equal(t, 0xef, sim.A())
	r, err := sim.Read(regR)
	assert.NoError(t, err)
	assert.Equal(t, 0xbe, r)
}

func TestMovcBeyondFlash(t *testing.T) {
	sim := newSim(t, `
		B0MOV  Y, #0x40
		B0MOV  Z, #0x00
		MOVC
	`)
	step(t, sim)
	step(t, sim)
	err := sim.Step()
	assert.ErrorContains(t, err, "no flash at 0x4000")
}

func TestFetchBeyondFlash(t *testing.T) {
	sim := newSim(t, `
		JMP 0x3000
	`)
	step(t, sim)
	err := sim.Step()
	assert.ErrorContains(t, err, "no flash at 0x3000")
}

func TestPCLJumpTable(t *testing.T) {
	sim := newSim(t, `
		MOV    A, #2
		B0ADD  PCL, A
		JMP    $
		JMP    $
		JMP    target
		JMP    $
	ORG 0x20
	target:
		JMP    $
	`)
	step(t, sim) // MOV A, #
	step(t, sim) // B0ADD PCL, A
	assert.Equal(t, 4, sim.PC())
	step(t, sim) // JMP target
	assert.Equal(t, 0x20, sim.PC())
}

func TestStackWraps(t *testing.T) {
	sim := newSim(t, "start: CALL start")
	for call := 1; call <= 8; call++ {
		step(t, sim)
		assert.Equal(t, (7-call)&0x07, sim.ram[regSTKP]&0x07)
	}
	// All 8 levels hold the same return address.
	for level := uint16(0); level < 8; level++ {
		assert.Equal(t, 0x01, sim.ram[regSTK7L+level*2])
		assert.Equal(t, 0x00, sim.ram[regSTK7H+level*2])
	}
	// The 9th call silently eats the oldest level.
	step(t, sim)
	assert.Equal(t, 6, sim.ram[regSTKP]&0x07)
}

func TestAtYZIndirect(t *testing.T) {
	sim := newSim(t, `
		B0MOV  Y, #0x01
		B0MOV  Z, #0x40
		MOV    A, #0x99
		B0MOV  @YZ, A
	`)
	for i := 0; i < 4; i++ {
		step(t, sim)
	}
	value, err := sim.Read(0x140)
	assert.NoError(t, err)
	assert.Equal(t, 0x99, value)
}
