package sn8

import "github.com/retroenv/retrogolib/log"

// Watchdog is the 11 bit watchdog counter, clocked by the slow
// oscillator. Firmware clears it by writing the magic value to WDTR.
type Watchdog struct {
	cpu   *CPU
	value uint32
}

func newWatchdog(cpu *CPU) *Watchdog {
	w := &Watchdog{cpu: cpu}
	w.Reset()
	return w
}

// Reset clears the counter.
func (w *Watchdog) Reset() {
	w.value = 0
}

// Value returns the current counter value.
func (w *Watchdog) Value() uint32 {
	return w.value
}

func (w *Watchdog) tic() error {
	w.value++
	if w.value&0x7ff == 0 {
		w.cpu.logger.Warn("watchdog triggered")
		w.cpu.Reset(ResetSourceWatchdog)
	}
	return nil
}

func (w *Watchdog) write(value byte) error {
	if value == 0x5a {
		w.value = 0
	} else {
		w.cpu.logger.Warn("bad value written to watchdog", log.Hex("value", value))
	}
	return nil
}
