package sn8

// OSCM bits: 0x04 selects the slow clock source, 0x18 the CPU mode
// (0x08 sleep, 0x10 green).
const (
	oscmSlowClock = 0x04
	oscmModeMask  = 0x18
	oscmSleep     = 0x08
	oscmGreen     = 0x10
)

// reloadCodeOptions derives timing constants and the watchdog mode from
// the packed code option word at the top of flash.
func (c *CPU) reloadCodeOptions() {
	options := c.flash[codeOptionAddress]
	c.watchdogEnabled = options&0x0f00 != 0x0a00
	c.watchdogAlwaysOn = options&0x0f00 == 0

	// Fcpu divider: 12MHz oscillator divided by 1, 2, 4 or 8.
	divider := float64(uint16(1) << ((options & 0x0c) >> 2))
	c.highSpeedCycleMS = divider / 12000

	// Fslow: 12kHz low speed oscillator divided by 2 or 4.
	if options&0x80 != 0 {
		c.lowSpeedCycleMS = 4.0 / 12
	} else {
		c.lowSpeedCycleMS = 2.0 / 12
	}
	c.slowClockThreshold = c.lowSpeedCycleMS / c.highSpeedCycleMS
}

// slowTic advances the watchdog on the slow oscillator. The watchdog is
// stopped in sleep mode unless configured always-on.
func (c *CPU) slowTic() error {
	sleeping := c.ram[regOSCM]&oscmModeMask == oscmSleep
	if (c.watchdogEnabled && !sleeping) || c.watchdogAlwaysOn {
		return c.Watchdog.tic()
	}
	return nil
}

// tic advances simulated time by one CPU cycle and runs every peripheral
// active in the current power mode.
func (c *CPU) tic() error {
	oscm := c.ram[regOSCM]
	var devices []ticker
	switch oscm & oscmModeMask {
	case oscmSleep:
		return ErrHalted
	case oscmGreen:
		devices = []ticker{c.T0}
	default:
		devices = []ticker{c.T0, c.T1, c.TC0, c.TC1, c.TC2}
		c.cycleCount++
		if oscm&oscmSlowClock == 0 {
			// USB needs the fast clock.
			devices = append(devices, c.USB)
		}
	}

	if oscm&oscmSlowClock != 0 {
		c.runTime += c.lowSpeedCycleMS
		if err := c.slowTic(); err != nil {
			return err
		}
	} else {
		c.runTime += c.highSpeedCycleMS
		c.slowClock++
		if c.slowClock > c.slowClockThreshold {
			if err := c.slowTic(); err != nil {
				return err
			}
			c.slowClock -= c.slowClockThreshold
		}
	}

	for _, device := range devices {
		if err := device.tic(); err != nil {
			return err
		}
	}
	return nil
}

// wake returns the CPU to instruction fetch after a wake event. Waking
// from sleep restarts the oscillator, which costs 16384 fast cycles plus
// the oscillator stabilization delay.
func (c *CPU) wake() {
	oscm := c.ram[regOSCM]
	switch oscm & oscmModeMask {
	case oscmSleep:
		c.storeRAM(regOSCM, 0x00)
		c.runTime += 16384*c.highSpeedCycleMS + c.oscillatorWakeupMS
	case oscmGreen:
		c.storeRAM(regOSCM, oscm&^oscmModeMask)
	}
}

// ticker is implemented by peripherals driven by the CPU clock.
type ticker interface {
	tic() error
}
