package sn8

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/retroenv/retrogolib/assert"
)

func readReg(t *testing.T, c *CPU, address uint16) byte {
	t.Helper()
	value, err := c.Read(address)
	assert.NoError(t, err)
	return value
}

func TestLoadImage(t *testing.T) {
	plain := make([]byte, imageBytes)
	binary.LittleEndian.PutUint16(plain[0x40*2:], 0xbeef)
	words, err := LoadImage(bytes.NewReader(plain))
	assert.NoError(t, err)
	assert.Len(t, words, FlashWords)
	assert.Equal(t, uint16(0xbeef), words[0x40])

	withHeader := append(make([]byte, vendorHeaderBytes), plain...)
	words, err = LoadImage(bytes.NewReader(withHeader))
	assert.NoError(t, err)
	assert.Equal(t, uint16(0xbeef), words[0x40])

	_, err = LoadImage(bytes.NewReader(plain[:100]))
	assert.ErrorContains(t, err, "unexpected flash image size")
}

func TestWatchdogClear(t *testing.T) {
	sim := newSimWatchdog(t, `
	loop:
		MOV    A, #0x5a
		B0MOV  WDTR, A
		JMP    loop
	`, true)
	sim.Watchdog.value = 100
	step(t, sim) // MOV A, #
	step(t, sim) // B0MOV WDTR, A
	assert.Equal(t, uint32(0), sim.Watchdog.Value())
}

func TestWatchdogBite(t *testing.T) {
	sim := newSimWatchdog(t, "JMP $", true)
	// Pretend firmware neglected the watchdog for a long while already.
	sim.Watchdog.value = 0x7f0
	for i := 0; i < 50000 && readReg(t, sim, regPFLAG)&0xc0 != ResetSourceWatchdog; i++ {
		step(t, sim)
	}
	assert.Equal(t, ResetSourceWatchdog, readReg(t, sim, regPFLAG)&0xc0)
	assert.Equal(t, 0, sim.PC())
	assert.Equal(t, uint32(0), sim.Watchdog.Value())
}

func TestSleepHaltsUntilWake(t *testing.T) {
	sim := newSim(t, `
		MOV    A, #0x08
		B0MOV  OSCM, A
		JMP    $
	`)
	step(t, sim) // MOV A, #

	// The instruction entering sleep mode already halts.
	err := sim.Step() // B0MOV OSCM, A
	assert.ErrorContains(t, err, "cpu halted")
	assert.Equal(t, 0x08, readReg(t, sim, regOSCM))

	err = sim.Step()
	assert.ErrorContains(t, err, "cpu halted")

	// Waking restarts the oscillator, which takes over a millisecond.
	before := sim.Now()
	sim.wake()
	assert.Equal(t, 0x00, readReg(t, sim, regOSCM))
	assert.True(t, sim.Now() > before+1)

	step(t, sim)
	assert.Equal(t, 2, sim.PC())
}

func TestGreenModeTicksTimerOnly(t *testing.T) {
	sim := newSim(t, `
		MOV    A, #0x80
		B0MOV  T0M, A
		MOV    A, #0x10
		B0MOV  OSCM, A
		JMP    $
	`)
	for i := 0; i < 4; i++ {
		step(t, sim)
	}
	s0 := sim.Snapshot()
	for i := 0; i < 100; i++ {
		step(t, sim)
	}
	s1 := sim.Snapshot()
	// The core is stopped: no instructions retire, only time passes and
	// T0 keeps counting.
	assert.Equal(t, s0.CycleCount, s1.CycleCount)
	assert.True(t, s1.RunTime > s0.RunTime)
	assert.Equal(t, s0.RAM[regPCL], s1.RAM[regPCL])
	assert.True(t, s1.T0.Value > s0.T0.Value)
}

func TestTimerOverflowRaisesInterrupt(t *testing.T) {
	sim := newSim(t, `
		MOV    A, #0x80
		B0MOV  T0M, A
		JMP    $
	`)
	step(t, sim)
	step(t, sim)
	assert.Equal(t, 0x00, readReg(t, sim, regINTRQ1))

	// T0 increments every other cycle and overflows after 256 counts.
	for i := 0; i < 300; i++ {
		step(t, sim)
	}
	assert.Equal(t, intT0, readReg(t, sim, regINTRQ1)&intT0)
	assert.True(t, sim.T0.value < 0x80)
}

func TestFlashProgramAndErase(t *testing.T) {
	sim := newSim(t, "JMP $")
	assert.NoError(t, sim.Write(0x100, 0x34))
	assert.NoError(t, sim.Write(0x101, 0x12))
	assert.NoError(t, sim.Write(0x102, 0x78))
	assert.NoError(t, sim.Write(0x103, 0x56))

	assert.NoError(t, sim.Write(regPEROML, 0x00))
	assert.NoError(t, sim.Write(regPEROMH, 0x28))
	assert.NoError(t, sim.Write(regPERAML, 0x00))
	assert.NoError(t, sim.Write(regPERAMCNT, 0x09)) // 2 words from 0x100
	before := sim.Now()
	assert.NoError(t, sim.Write(regPECMD, pecmdProgram))
	assert.Equal(t, uint16(0x1234), sim.Flash(0x2800))
	assert.Equal(t, uint16(0x5678), sim.Flash(0x2801))
	assert.Equal(t, before+programDurationMS, sim.Now())

	// Erasing resolves to the whole page and leaves neighbors alone.
	assert.NoError(t, sim.Write(regPEROML, 0x85))
	before = sim.Now()
	assert.NoError(t, sim.Write(regPECMD, pecmdErase))
	assert.Equal(t, uint16(0xffff), sim.Flash(0x2880))
	assert.Equal(t, uint16(0xffff), sim.Flash(0x28ff))
	assert.Equal(t, uint16(0x1234), sim.Flash(0x2800))
	assert.Equal(t, uint16(0x0000), sim.Flash(0x2900))
	assert.Equal(t, before+eraseDurationMS, sim.Now())
}

func TestFlashSecurityPageProtected(t *testing.T) {
	sim := newSim(t, "JMP $")
	assert.NoError(t, sim.Write(0x100, 0xad))
	assert.NoError(t, sim.Write(0x101, 0xde))

	options := sim.Flash(codeOptionAddress)
	assert.Equal(t, uint16(0), options&0x0002) // security enabled

	assert.NoError(t, sim.Write(regPEROML, 0xff))
	assert.NoError(t, sim.Write(regPEROMH, 0x2f))
	assert.NoError(t, sim.Write(regPERAML, 0x00))
	assert.NoError(t, sim.Write(regPERAMCNT, 0x01))
	assert.NoError(t, sim.Write(regPECMD, pecmdProgram))
	assert.Equal(t, options, sim.Flash(codeOptionAddress))
}

func TestFlashProgramFromRegisterArea(t *testing.T) {
	sim := newSim(t, "JMP $")
	assert.NoError(t, sim.Write(regPEROML, 0x00))
	assert.NoError(t, sim.Write(regPEROMH, 0x28))
	assert.NoError(t, sim.Write(regPERAML, 0x80))
	assert.NoError(t, sim.Write(regPERAMCNT, 0x00))
	err := sim.Write(regPECMD, pecmdProgram)
	assert.ErrorContains(t, err, "register area")
}

func TestPortInputLevels(t *testing.T) {
	sim := newSim(t, "JMP $")

	// Floating input with no pull-up reads low.
	assert.Equal(t, 0x00, readReg(t, sim, regP0))

	// Pull-up alone pulls the pin to Vdd.
	assert.NoError(t, sim.Write(regP0UR, 0x01))
	assert.Equal(t, 0x01, readReg(t, sim, regP0))

	// A strong low load wins against the pull-up.
	sim.P0.SetLoad(0, func() Load { return Load{Volts: 0, Impedance: 333} })
	assert.Equal(t, 0x00, readReg(t, sim, regP0))

	// A load matching the pull-up impedance divides to Vdd/2.
	sim.P0.SetLoad(0, func() Load { return Load{Volts: 0, Impedance: 40000} })
	_, err := sim.Read(regP0)
	assert.ErrorContains(t, err, "metastable")

	// Output pins read back the driven latch, loads are ignored.
	assert.NoError(t, sim.Write(regP0M, 0x01))
	assert.NoError(t, sim.Write(regP0, 0x01))
	assert.Equal(t, 0x01, readReg(t, sim, regP0))
}

func TestUSBSetupWhileUnhandled(t *testing.T) {
	sim := newSim(t, "JMP $")
	assert.NoError(t, sim.Write(regUDA, 0x80))
	assert.NoError(t, sim.USB.SendSETUP(0x80, 6, 0x0100, 0, 8))
	err := sim.USB.SendSETUP(0x80, 6, 0x0200, 0, 8)
	assert.ErrorContains(t, err, "unhandled EP0 events")
}

func TestUSBInterruptWhilePending(t *testing.T) {
	sim := newSim(t, "JMP $")
	assert.NoError(t, sim.Write(regUDA, 0x80))
	assert.NoError(t, sim.USB.SendSETUP(0x80, 6, 0x0100, 0, 8))
	// Firmware acknowledges the packet but forgets the interrupt
	// request flag, so the next event is lost.
	assert.NoError(t, sim.Write(regUSTATUS, 0x00))
	err := sim.USB.SendSETUP(0x80, 6, 0x0200, 0, 8)
	assert.ErrorContains(t, err, "still pending")
}

func TestSnapshotRestore(t *testing.T) {
	sim := newSim(t, `
		MOV  A, #1
		MOV  A, #2
		MOV  A, #3
		JMP  $
	`)
	step(t, sim)
	saved := sim.Snapshot()
	step(t, sim)
	step(t, sim)
	assert.Equal(t, 3, sim.A())

	sim.Restore(saved)
	assert.Equal(t, 1, sim.A())
	assert.True(t, saved == sim.Snapshot())

	// Execution replays deterministically from the restored state.
	step(t, sim)
	assert.Equal(t, 2, sim.A())
}

func TestUninitializedRead(t *testing.T) {
	sim := newSim(t, `
		B0MOV  RBANK, #0
		MOV    A, 0x30
	`)
	step(t, sim)
	err := sim.Step()
	assert.ErrorContains(t, err, "uninitialized memory")
}

func TestBreakpoint(t *testing.T) {
	sim := newSim(t, `
		MOV  A, #1
		MOV  A, #2
	`)
	sim.Breakpoints.Add(1)
	step(t, sim)

	err := sim.Step()
	assert.ErrorContains(t, err, "breakpoint hit")
	assert.Equal(t, 1, sim.PC())
	assert.Equal(t, 1, sim.A())

	// Stepping again resumes past the breakpoint.
	step(t, sim)
	assert.Equal(t, 2, sim.A())
}
