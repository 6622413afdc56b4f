package i2c

import (
	"fmt"
	"strings"
	"testing"

	"github.com/retroenv/retrogolib/assert"
)

// bus drives a device the way an open-drain master would: one line
// transition at a time, resolving wired-AND levels after every change.
type bus struct {
	t   *testing.T
	dev *Device

	masterSCL bool
	masterSDA bool
	lastSCL   bool
	lastSDA   bool
}

func newBus(t *testing.T, dev *Device) *bus {
	return &bus{
		t:         t,
		dev:       dev,
		masterSCL: true,
		masterSDA: true,
		lastSCL:   true,
		lastSDA:   true,
	}
}

// settle feeds resolved line levels to the device until they stop
// changing, since the device may adjust its own drive inside a step.
func (b *bus) settle() {
	for {
		scl := b.masterSCL && b.dev.SCLFloat
		sda := b.masterSDA && b.dev.SDAFloat
		switch {
		case scl != b.lastSCL:
			assert.NoError(b.t, b.dev.Step(scl, b.lastSDA))
			b.lastSCL = scl

		case sda != b.lastSDA:
			assert.NoError(b.t, b.dev.Step(b.lastSCL, sda))
			b.lastSDA = sda

		default:
			return
		}
	}
}

func (b *bus) setSCL(level bool) {
	b.masterSCL = level
	b.settle()
}

func (b *bus) setSDA(level bool) {
	b.masterSDA = level
	b.settle()
}

func (b *bus) start() {
	b.setSDA(true)
	b.setSCL(true)
	b.setSDA(false)
	b.setSCL(false)
}

func (b *bus) stop() {
	b.setSDA(false)
	b.setSCL(true)
	b.setSDA(true)
}

// writeByte shifts a byte out MSB first and reports whether the device
// acknowledged it.
func (b *bus) writeByte(value byte) bool {
	for i := 0; i < 8; i++ {
		b.setSDA(value&0x80 != 0)
		value <<= 1
		b.setSCL(true)
		b.setSCL(false)
	}
	b.setSDA(true)
	b.setSCL(true)
	ack := !b.lastSDA
	b.setSCL(false)
	return ack
}

// readByte clocks a byte in from the device and sends the given
// acknowledge bit.
func (b *bus) readByte(ack bool) byte {
	b.setSDA(true)
	var value byte
	for i := 0; i < 8; i++ {
		b.setSCL(true)
		value <<= 1
		if b.lastSDA {
			value |= 1
		}
		b.setSCL(false)
	}
	b.setSDA(!ack)
	b.setSCL(true)
	b.setSCL(false)
	b.setSDA(true)
	return value
}

func TestNewAddressRange(t *testing.T) {
	_, err := New(0x80)
	assert.Error(t, err)

	dev, err := New(0x2a)
	assert.NoError(t, err)
	assert.True(t, dev.SCLFloat)
	assert.True(t, dev.SDAFloat)
}

func TestWriteThenReadTransaction(t *testing.T) {
	dev, err := New(0x2a)
	assert.NoError(t, err)

	var events []string
	toSend := []byte{0x80, 0x03, 0xfe, 0x02}
	sendIndex := 0

	dev.OnAddressed = func(read bool) bool {
		events = append(events, fmt.Sprintf("addressed read=%t", read))
		return true
	}
	dev.OnDataByteReceived = func(value byte) bool {
		events = append(events, fmt.Sprintf("received 0x%02x", value))
		return true
	}
	dev.GetNextDataByte = func() (byte, bool) {
		events = append(events, fmt.Sprintf("sent 0x%02x", toSend[sendIndex]))
		value := toSend[sendIndex]
		sendIndex++
		return value, true
	}
	dev.OnStop = func() {
		events = append(events, "stop")
	}

	b := newBus(t, dev)

	b.start()
	assert.True(t, b.writeByte(0x2a<<1), "write address not acked")
	assert.True(t, b.writeByte(0x12))
	assert.True(t, b.writeByte(0x34))

	b.start() // repeated start
	assert.True(t, b.writeByte(0x2a<<1|1), "read address not acked")
	for i, want := range toSend {
		last := i == len(toSend)-1
		assert.Equal(t, want, b.readByte(!last))
	}
	b.stop()

	assert.Equal(t, strings.Join([]string{
		"addressed read=false",
		"received 0x12",
		"received 0x34",
		"addressed read=true",
		"sent 0x80",
		"sent 0x03",
		"sent 0xfe",
		"sent 0x02",
		"stop",
	}, "\n"), strings.Join(events, "\n"))
}

func TestAddressMismatch(t *testing.T) {
	dev, err := New(0x2a)
	assert.NoError(t, err)

	addressed := false
	stopped := false
	dev.OnAddressed = func(bool) bool {
		addressed = true
		return true
	}
	dev.OnStop = func() {
		stopped = true
	}

	b := newBus(t, dev)
	b.start()
	assert.False(t, b.writeByte(0x51<<1), "mismatched address acked")
	assert.False(t, b.writeByte(0x12), "byte acked in ignore state")
	b.stop()

	assert.False(t, addressed)
	assert.False(t, stopped, "stop reported for a device that was not addressed")
}

func TestAddressNak(t *testing.T) {
	dev, err := New(0x2a)
	assert.NoError(t, err)
	dev.OnAddressed = func(bool) bool { return false }

	received := false
	dev.OnDataByteReceived = func(byte) bool {
		received = true
		return true
	}

	b := newBus(t, dev)
	b.start()
	assert.False(t, b.writeByte(0x2a<<1))
	b.writeByte(0x12)
	b.stop()

	assert.False(t, received)
}

func TestDataNakStopsReception(t *testing.T) {
	dev, err := New(0x2a)
	assert.NoError(t, err)
	dev.OnAddressed = func(bool) bool { return true }

	var received []byte
	dev.OnDataByteReceived = func(value byte) bool {
		received = append(received, value)
		return false // reject everything
	}

	b := newBus(t, dev)
	b.start()
	assert.True(t, b.writeByte(0x2a<<1))
	assert.False(t, b.writeByte(0x12), "nacked byte reported as acked")
	b.writeByte(0x34)
	b.stop()

	assert.Len(t, received, 1)
	assert.Equal(t, 0x12, received[0])
}

func TestReadRunsOutOfData(t *testing.T) {
	dev, err := New(0x2a)
	assert.NoError(t, err)
	dev.OnAddressed = func(bool) bool { return true }
	sent := false
	dev.GetNextDataByte = func() (byte, bool) {
		if sent {
			return 0, false
		}
		sent = true
		return 0x42, true
	}

	b := newBus(t, dev)
	b.start()
	assert.True(t, b.writeByte(0x2a<<1|1))
	assert.Equal(t, 0x42, b.readByte(true))
	// Nothing left: the device releases SDA, reads as 0xff.
	assert.Equal(t, 0xff, b.readByte(false))
	b.stop()
}

func TestMasterNakEndsRead(t *testing.T) {
	dev, err := New(0x2a)
	assert.NoError(t, err)
	dev.OnAddressed = func(bool) bool { return true }

	var sentCount int
	dev.GetNextDataByte = func() (byte, bool) {
		sentCount++
		return 0x55, true
	}

	b := newBus(t, dev)
	b.start()
	assert.True(t, b.writeByte(0x2a<<1|1))
	assert.Equal(t, 0x55, b.readByte(false)) // NAK after first byte
	b.readByte(false)
	b.stop()

	assert.Equal(t, 1, sentCount)
}

func TestStepBothLinesChanged(t *testing.T) {
	dev, err := New(0x2a)
	assert.NoError(t, err)
	err = dev.Step(false, false)
	assert.ErrorContains(t, err, "changed during same step")
}
