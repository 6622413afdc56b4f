// Package i2c implements a bit-banged I2C slave device state machine.
//
// The device samples both bus lines once per step and reacts to edges,
// which matches how a firmware-driven master toggles open-drain pins.
// Only one line may change per step, as both lines changing within a
// single sample period would make start/stop detection ambiguous.
package i2c

import (
	"errors"
	"fmt"
)

// bus states
const (
	stateIdle = iota
	stateAddress
	stateData
	stateIgnore
)

// ErrBusGlitch is returned by Step when SCL and SDA both changed since
// the previous sample.
var ErrBusGlitch = errors.New("scl and sda changed during same step")

// Device is an 8-bit I2C slave driven by sampled bus line levels.
// The zero value is not usable, construct instances with New.
type Device struct {
	readAddress  byte
	writeAddress byte

	// OnAddressed is called when the address byte matches the device
	// address. The argument tells whether the master requests a read.
	// The return value decides between ACK and NAK.
	OnAddressed func(read bool) bool

	// OnStop is called on a stop condition, but only if the device was
	// addressed since the preceding start condition.
	OnStop func()

	// OnDataByteReceived is called for each complete data byte written
	// by the master. The return value decides between ACK and NAK.
	OnDataByteReceived func(value byte) bool

	// GetNextDataByte is called when the device must start shifting a
	// byte out to the master. Returning false means there is nothing
	// left to send, which releases the bus.
	GetNextDataByte func() (byte, bool)

	// SCLFloat and SDAFloat are the open-drain line states driven by
	// the device: true means released, false means pulled low.
	SCLFloat bool
	SDAFloat bool

	previousSCL bool
	previousSDA bool
	state       int
	currentByte byte
	bitCount    int
	sending     bool
	sendingNext bool
	addressed   bool
}

// New returns a device answering to the given 7-bit address.
func New(address byte) (*Device, error) {
	if address > 0x7f {
		return nil, fmt.Errorf("i2c address out of range: %#02x", address)
	}

	d := &Device{
		readAddress:        address<<1 | 1,
		writeAddress:       address << 1,
		OnAddressed:        func(bool) bool { return false },
		OnStop:             func() {},
		OnDataByteReceived: func(byte) bool { return false },
		GetNextDataByte:    func() (byte, bool) { return 0, false },
	}
	d.Reset()
	return d, nil
}

// Reset releases both lines and returns the device to the idle state.
func (d *Device) Reset() {
	d.previousSCL = true
	d.previousSDA = true
	d.SCLFloat = true
	d.SDAFloat = true
	d.state = stateIdle
	d.currentByte = 0
	d.bitCount = 0
	d.sending = false
	d.sendingNext = false
	d.addressed = false
}

// Step feeds the device the current resolved bus levels.
func (d *Device) Step(scl, sda bool) error {
	sclChanged := d.previousSCL != scl
	sdaChanged := d.previousSDA != sda

	switch {
	case sclChanged && sdaChanged:
		return ErrBusGlitch

	case sclChanged:
		d.onClockEdge(scl, sda)
		d.previousSCL = scl

	case sdaChanged:
		d.onDataEdge(scl, sda)
		d.previousSDA = sda
	}
	return nil
}

// shiftOut presents the most significant bit of the current byte on SDA.
func (d *Device) shiftOut() {
	d.SDAFloat = d.currentByte&0x80 != 0
	d.currentByte <<= 1
}

func (d *Device) onByteReceived() {
	switch d.state {
	case stateAddress:
		var ack bool
		switch d.currentByte {
		case d.readAddress:
			d.sendingNext = true
			d.addressed = true
			ack = d.OnAddressed(true)

		case d.writeAddress:
			d.addressed = true
			ack = d.OnAddressed(false)
		}
		if ack {
			d.SDAFloat = false // ACK
			d.state = stateData
		} else {
			d.SDAFloat = true
			d.state = stateIgnore
		}

	case stateData:
		if d.OnDataByteReceived(d.currentByte) {
			d.SDAFloat = false // ACK
		} else {
			d.SDAFloat = true // NAK
			d.state = stateIgnore
		}
	}
}

func (d *Device) onClockEdge(scl, sda bool) {
	if d.state == stateIgnore {
		return
	}
	if scl {
		// Rising edge: sample.
		if d.bitCount < 8 {
			if !d.sending {
				d.currentByte <<= 1
				if sda {
					d.currentByte |= 1
				}
			}
		} else if d.sending && sda {
			// Master NAKed, stop sending.
			d.state = stateIgnore
		}
		return
	}
	// Falling edge: shift.
	switch {
	case d.bitCount < 7:
		d.bitCount++
		if d.sending {
			d.shiftOut()
		}

	case d.bitCount == 7:
		d.bitCount++
		if d.sending {
			// Release SDA so the master may ACK or NAK.
			d.SDAFloat = true
		} else {
			d.onByteReceived()
			d.currentByte = 0
		}

	default:
		// Acknowledge bit time finished.
		d.bitCount = 0
		d.sending = d.sendingNext
		if d.sending {
			next, ok := d.GetNextDataByte()
			if !ok {
				// Master reads more than is available.
				d.SDAFloat = true
				d.state = stateIgnore
			} else {
				d.currentByte = next
				d.shiftOut()
			}
		} else {
			d.SDAFloat = true
		}
	}
}

func (d *Device) onDataEdge(scl, sda bool) {
	if !scl {
		// SDA transitions while SCL is low are ordinary data bit
		// setup, not start or stop conditions.
		return
	}
	if sda {
		// Stop condition.
		if d.addressed {
			d.OnStop()
		}
		d.state = stateIdle
	} else {
		// Start condition.
		d.state = stateAddress
	}
	d.addressed = false
	d.bitCount = -1
	d.sending = false
	d.sendingNext = false
}
