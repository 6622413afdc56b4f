package sn8

// Timer models the T0/T1 timers and the TC0/TC1/TC2 timer/counters.
// The timer counts when enabled (mode bit 0x80) and clocked internally
// (mode bit 0x08 clear), through a prescaler selected by mode bits 0x70.
// On overflow it reloads (mode bit 0x04) or restarts from zero, raises
// its interrupt request and optionally wakes the CPU.
type Timer struct {
	cpu         *CPU
	counterMask uint16
	line        irqLine
	modeMask    byte
	canWake     bool

	mode          byte
	value         uint16
	reload        byte
	internalCount byte
	internalMask  byte
}

func newTimer(cpu *CPU, counterMask uint16, line irqLine, modeMask byte, canWake bool) *Timer {
	t := &Timer{
		cpu:         cpu,
		counterMask: counterMask,
		line:        line,
		modeMask:    modeMask,
		canWake:     canWake,
	}
	t.Reset()
	return t
}

// newTimerCounter returns an 8 bit timer/counter: full mode byte, no
// wake capability.
func newTimerCounter(cpu *CPU, line irqLine) *Timer {
	return newTimer(cpu, 0xff, line, 0xff, false)
}

// Reset puts the timer back into its power-on state.
func (t *Timer) Reset() {
	t.mode = 0x00
	t.value = 0x00
	t.reload = 0x00
	t.internalCount = 0x00
	t.internalMask = 0x01
}

// Enabled reports whether the timer is counting.
func (t *Timer) Enabled() bool {
	return t.mode&0x80 != 0
}

// TODO: external clock source from P0.1/P0.2/P0.3 for the counters.
func (t *Timer) tic() error {
	if t.mode&0x88 != 0x80 {
		return nil
	}
	t.internalCount++
	if t.internalCount&t.internalMask != 0 {
		return nil
	}
	t.internalCount = 0
	t.value++
	if t.value&t.counterMask != 0 {
		return nil
	}
	if t.mode&0x04 != 0 {
		t.value = uint16(t.reload)
	} else {
		t.value = 0
	}
	if t.canWake {
		t.cpu.wake()
	}
	return t.cpu.raise(t.line)
}

func (t *Timer) readLow() (byte, error) {
	return byte(t.value), nil
}

func (t *Timer) writeLow(value byte) error {
	t.value = t.value&0xff00 | uint16(value)
	return nil
}

func (t *Timer) readHigh() (byte, error) {
	return byte(t.value >> 8), nil
}

func (t *Timer) writeHigh(value byte) error {
	t.value = t.value&0x00ff | uint16(value)<<8
	return nil
}

func (t *Timer) writeReload(value byte) error {
	t.reload = value
	return nil
}

func (t *Timer) readMode() (byte, error) {
	return t.mode, nil
}

// prescalerMasks selects the prescaler division rate from mode bits 0x70.
var prescalerMasks = [8]byte{0x01, 0x03, 0x07, 0x0f, 0x1f, 0x3f, 0x7f, 0xff}

func (t *Timer) writeMode(value byte) error {
	value &= t.modeMask
	t.mode = value
	t.internalMask = prescalerMasks[(value&0x70)>>4]
	return nil
}
