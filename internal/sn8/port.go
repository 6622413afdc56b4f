package sn8

import "math"

// Load is the Thévenin equivalent of whatever is attached to a pin: a
// voltage source behind an impedance. A floating pin is 0V behind an
// infinite impedance.
type Load struct {
	Volts     float64
	Impedance float64
}

// FloatingLoad is an unconnected pin.
var FloatingLoad = Load{Volts: 0, Impedance: math.Inf(1)}

// LoadFunc lets a load be recomputed on every port read, for loads that
// depend on other simulated state (key matrices, other ports).
type LoadFunc func() Load

// Port is one GPIO port. Pins are per-bit input or output with optional
// pull-up. Input levels are resolved electrically: the attached load
// forms a voltage divider with the pull-up, and the resulting voltage is
// compared against the 0.2/0.8 Vdd logic thresholds. A voltage between
// the thresholds is a metastable read and fails hard.
//
// TODO: model wakeup-on-change and the open-drain P4CON mode.
type Port struct {
	vdd             float64
	maxZero         float64
	minOne          float64
	sourceImpedance float64
	sinkImpedance   float64
	pullUpImpedance float64

	loads []LoadFunc

	direction byte // 1 = output
	pullUp    byte
	value     byte
}

func newPort(vdd, sourceCurrent, sinkCurrent, pullUp float64, pinCount int) *Port {
	p := &Port{
		vdd:             vdd,
		maxZero:         vdd * 0.2,
		minOne:          vdd * 0.8,
		sourceImpedance: vdd * 0.8 / sourceCurrent,
		sinkImpedance:   vdd * 0.2 / sinkCurrent,
		pullUpImpedance: pullUp,
		loads:           make([]LoadFunc, pinCount),
	}
	p.Reset()
	return p
}

// Reset puts all pins in input mode, pull-ups off, output latches zero.
func (p *Port) Reset() {
	p.direction = 0x00
	p.pullUp = 0x00
	p.value = 0x00
}

// Vdd returns the supply voltage of this port.
func (p *Port) Vdd() float64 {
	return p.vdd
}

// PinCount returns the number of pins on this port.
func (p *Port) PinCount() int {
	return len(p.loads)
}

// SetLoad attaches an external load to a pin. A nil load leaves the pin
// floating.
func (p *Port) SetLoad(pin int, load LoadFunc) {
	p.loads[pin] = load
}

// InternalAsLoad returns the pin itself seen as a load, for wiring two
// simulated pins together.
func (p *Port) InternalAsLoad(pin int) Load {
	mask := byte(1) << pin
	if p.direction&mask != 0 {
		if p.value&mask != 0 {
			return Load{Volts: p.vdd, Impedance: p.sourceImpedance}
		}
		return Load{Volts: 0, Impedance: p.sinkImpedance}
	}
	if p.pullUp&mask != 0 {
		return Load{Volts: p.vdd, Impedance: p.pullUpImpedance}
	}
	return FloatingLoad
}

// Read resolves the electrical level of every pin. Board models use it
// to sample pins the firmware drives, the cpu uses it for the port data
// register.
func (p *Port) Read() (byte, error) {
	var result byte
	for pin, loadFunc := range p.loads {
		mask := byte(1) << pin
		if p.direction&mask != 0 {
			// Output pins read back the driven value.
			result |= p.value & mask
			continue
		}
		load := FloatingLoad
		if loadFunc != nil {
			load = loadFunc()
		}
		voltage := load.Volts
		if p.pullUp&mask != 0 {
			// Divider across Vdd, the pull-up and the load.
			voltage = p.vdd - (p.vdd-load.Volts)/(load.Impedance+p.pullUpImpedance)*p.pullUpImpedance
		}
		switch {
		case voltage > p.minOne:
			result |= mask
		case voltage > p.maxZero:
			return 0, MetastablePinError{Pin: pin, Voltage: voltage}
		}
	}
	return result, nil
}

func (p *Port) write(value byte) error {
	p.value = value
	return nil
}

func (p *Port) readDirection() (byte, error) {
	return p.direction, nil
}

func (p *Port) writeDirection(value byte) error {
	p.direction = value
	return nil
}

func (p *Port) writePullUp(value byte) error {
	p.pullUp = value
	return nil
}
