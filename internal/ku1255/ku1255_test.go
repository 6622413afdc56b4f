package ku1255

import (
	"testing"

	"github.com/retroenv/retrogolib/assert"
	"github.com/retroenv/retrogolib/log"

	"github.com/vpelletier/dissn8/internal/sn8"
)

// Register addresses used to drive the pins as firmware would.
const (
	regP0M  = 0xb8
	regUDA  = 0x91
	regP2M  = 0xc2
	regP0   = 0xd0
	regP1   = 0xd1
	regP2   = 0xd2
	regP1UR = 0xe1
)

const (
	sclBit = 0x10
	sdaBit = 0x20
)

func newTestBoard(t *testing.T) *Board {
	board, err := New(log.NewTestLogger(t), make([]uint16, sn8.FlashWords))
	assert.NoError(t, err)
	return board
}

func write(t *testing.T, board *Board, address uint16, value byte) {
	assert.NoError(t, board.CPU.Write(address, value))
}

func read(t *testing.T, board *Board, address uint16) byte {
	value, err := board.CPU.Read(address)
	assert.NoError(t, err)
	return value
}

func TestMatrixScan(t *testing.T) {
	board := newTestBoard(t)
	// Scan setup: row 0 (P0.3) driven low, pull-ups on all columns.
	write(t, board, regP0M, 0x08)
	write(t, board, regP0, 0x00)
	write(t, board, regP1UR, 0xff)

	assert.Equal(t, 0xff, read(t, board, regP1))

	assert.NoError(t, board.PressKey(0, 2))
	assert.Equal(t, 0xfb, read(t, board, regP1))

	// A key on a row that is not driven does not show up.
	assert.NoError(t, board.PressKey(1, 4))
	assert.Equal(t, 0xfb, read(t, board, regP1))

	assert.NoError(t, board.ReleaseKey(0, 2))
	assert.Equal(t, 0xff, read(t, board, regP1))
}

func TestMatrixGhosting(t *testing.T) {
	board := newTestBoard(t)
	write(t, board, regP0M, 0x08)
	write(t, board, regP0, 0x00)
	write(t, board, regP1UR, 0xff)

	// Three keys sharing rows and columns produce a ghost press: with
	// row 0 driven, column 1 reads low through row 1.
	assert.NoError(t, board.PressKey(0, 0))
	assert.NoError(t, board.PressKey(1, 0))
	assert.NoError(t, board.PressKey(1, 1))
	assert.Equal(t, 0xfc, read(t, board, regP1))
}

func TestPressReleaseValidation(t *testing.T) {
	board := newTestBoard(t)

	assert.NoError(t, board.PressKey(3, 5))
	err := board.PressKey(3, 5)
	assert.ErrorContains(t, err, "already pressed")

	assert.NoError(t, board.ReleaseKey(3, 5))
	err = board.ReleaseKey(3, 5)
	assert.ErrorContains(t, err, "already released")

	assert.ErrorContains(t, board.PressKey(16, 0), "row 16 out of range")
	assert.ErrorContains(t, board.PressKey(0, 8), "column 8 out of range")
}

func TestMouseAttention(t *testing.T) {
	board := newTestBoard(t)

	// Idle: SCL, SDA and ATTN all pulled up.
	assert.Equal(t, 0x70, read(t, board, regP2))

	board.SetMouseState(1, -1, true, false, false)
	assert.Equal(t, 0x30, read(t, board, regP2))
}

func TestUSBCallbacks(t *testing.T) {
	board := newTestBoard(t)

	assert.False(t, board.USBEnabled())
	write(t, board, regUDA, 0x80)
	assert.True(t, board.USBEnabled())

	assert.True(t, board.EndpointEnabled(0))
	assert.False(t, board.EndpointEnabled(1))
}

func TestSavedSettings(t *testing.T) {
	board := newTestBoard(t)

	assert.False(t, board.SavedFnLock())
	board.SetSavedFnLock(true)
	assert.True(t, board.SavedFnLock())

	board.SetSavedMouseSpeed(0x0b)
	assert.Equal(t, 0x0b, board.SavedMouseSpeed())
	assert.True(t, board.SavedFnLock())
	assert.Equal(t, 0x0b02, board.CPU.Flash(0x2800))

	board.SetSavedFnLock(false)
	assert.False(t, board.SavedFnLock())
	assert.Equal(t, 0x0b, board.SavedMouseSpeed())
}

// busDriver bit-bangs the I2C lines the way firmware does: releasing a
// line turns the pin back into an input so the pull-up raises it,
// driving low makes it an output with a zero latch.
type busDriver struct {
	t     *testing.T
	board *Board
	p2m   byte
}

func (d *busDriver) setLine(bit byte, high bool) {
	if high {
		d.p2m &^= bit
	} else {
		d.p2m |= bit
	}
	write(d.t, d.board, regP2M, d.p2m)
	assert.NoError(d.t, d.board.Step())
}

func (d *busDriver) setSCL(high bool) { d.setLine(sclBit, high) }
func (d *busDriver) setSDA(high bool) { d.setLine(sdaBit, high) }

func (d *busDriver) readSDA() bool {
	return read(d.t, d.board, regP2)&sdaBit != 0
}

func (d *busDriver) start() {
	d.setSDA(true)
	d.setSCL(true)
	d.setSDA(false)
	d.setSCL(false)
}

func (d *busDriver) stop() {
	d.setSDA(false)
	d.setSCL(true)
	d.setSDA(true)
}

func (d *busDriver) writeByte(value byte) bool {
	for bit := 7; bit >= 0; bit-- {
		d.setSDA(value&(1<<bit) != 0)
		d.setSCL(true)
		d.setSCL(false)
	}
	d.setSDA(true)
	d.setSCL(true)
	ack := !d.readSDA()
	d.setSCL(false)
	return ack
}

func (d *busDriver) readByte(ack bool) byte {
	d.setSDA(true)
	var value byte
	for bit := 0; bit < 8; bit++ {
		d.setSCL(true)
		value <<= 1
		if d.readSDA() {
			value |= 1
		}
		d.setSCL(false)
	}
	d.setSDA(!ack)
	d.setSCL(true)
	d.setSCL(false)
	d.setSDA(true)
	return value
}

func TestMouseInitSequence(t *testing.T) {
	board := newTestBoard(t)
	driver := &busDriver{t: t, board: board}

	assert.Equal(t, MouseIdle, board.MouseState())

	driver.start()
	assert.True(t, driver.writeByte(mouseAddress<<1))
	assert.True(t, driver.writeByte(0xfc))
	driver.stop()
	assert.Equal(t, MouseInit1, board.MouseState())

	driver.start()
	assert.True(t, driver.writeByte(mouseAddress<<1))
	assert.True(t, driver.writeByte(0xc4))
	driver.stop()
	assert.Equal(t, MouseInitialised, board.MouseState())
}

func TestMouseUnknownCommandNaked(t *testing.T) {
	board := newTestBoard(t)
	driver := &busDriver{t: t, board: board}

	driver.start()
	assert.True(t, driver.writeByte(mouseAddress<<1))
	assert.False(t, driver.writeByte(0x42))
	driver.stop()
	assert.Equal(t, MouseIdle, board.MouseState())
}

func TestMouseReportRead(t *testing.T) {
	board := newTestBoard(t)
	driver := &busDriver{t: t, board: board}

	board.SetMouseState(5, -3, true, false, false)
	assert.Equal(t, 0, read(t, board, regP2)&0x40)

	driver.start()
	assert.True(t, driver.writeByte(mouseAddress<<1|1))
	assert.Equal(t, 0x80, driver.readByte(true))
	assert.Equal(t, 0x01, driver.readByte(true)) // left button
	assert.Equal(t, 0x05, driver.readByte(true)) // x
	assert.Equal(t, 0xfd, driver.readByte(false)) // y, NAK ends the read
	driver.stop()

	// The report was fetched, attention is released again.
	assert.Equal(t, 0x40, read(t, board, regP2)&0x40)
}
