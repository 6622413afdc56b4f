// Package ku1255 models the Lenovo ThinkPad Compact USB Keyboard with
// TrackPoint around a simulated SN8F2288: the 16x8 key matrix wired to
// the GPIO ports, the I2C TrackPoint controller on port 2 and the USB
// connection to the host.
package ku1255

import (
	"fmt"
	"math"

	"github.com/retroenv/retrogolib/log"

	"github.com/vpelletier/dissn8/internal/chip"
	"github.com/vpelletier/dissn8/internal/i2c"
	"github.com/vpelletier/dissn8/internal/sn8"
	"github.com/vpelletier/dissn8/internal/usbhost"
)

// TrackPoint controller initialisation states.
const (
	MouseIdle = iota
	MouseInit1
	MouseInitialised
)

// mouseAddress is the I2C address of the TrackPoint controller.
const mouseAddress = 0x2a

// busPullUp is the pull-up resistance on SCL, SDA and ATTN, in Ohms.
const busPullUp = 3300

// settingsAddress is the flash word persisting FnLock and mouse speed.
const settingsAddress = 0x2800

// matrixRowCount by matrixColumnCount keys. Rows spread over ports 0, 2
// and 4, columns occupy all of port 1.
const (
	matrixRowCount    = 16
	matrixColumnCount = 8
)

// ErrTimeout is returned by the Wait helpers when firmware does not
// reach the awaited state in time.
var ErrTimeout = usbhost.ErrTimeout

// Board is the assembled keyboard: CPU, key matrix, TrackPoint and the
// host-side view of the USB connection.
type Board struct {
	CPU  *sn8.CPU
	Host *usbhost.Host

	logger *log.Logger
	mouse  *i2c.Device

	rowLoad      [matrixRowCount]func() sn8.Load
	rowsByColumn [matrixColumnCount][]int
	columnsByRow [matrixRowCount][]int

	usbEnabled      bool
	epEnabled       [5]bool
	wakeupRequested bool

	mouseState  int
	attnFloat   bool
	report      [5]byte
	reportIndex int
	inBuffer    []byte
}

// New wires a board around a firmware image.
func New(logger *log.Logger, image []uint16) (*Board, error) {
	def, err := chip.SN8F2288()
	if err != nil {
		return nil, fmt.Errorf("loading chip definition: %w", err)
	}
	cpu, err := sn8.New(logger, def, image)
	if err != nil {
		return nil, err
	}

	b := &Board{
		CPU:    cpu,
		logger: logger,
	}
	b.Host = usbhost.New(cpu, b.Step)

	// Key matrix rows, in firmware scan order.
	rowPins := []struct {
		port *sn8.Port
		pin  int
	}{
		{cpu.P0, 3}, {cpu.P0, 4}, {cpu.P0, 5}, {cpu.P0, 6},
		{cpu.P2, 0}, {cpu.P2, 1}, {cpu.P2, 2}, {cpu.P2, 3},
		{cpu.P4, 0}, {cpu.P4, 1}, {cpu.P4, 2}, {cpu.P4, 3},
		{cpu.P4, 4}, {cpu.P4, 5}, {cpu.P4, 6}, {cpu.P4, 7},
	}
	for row, wire := range rowPins {
		port, pin := wire.port, wire.pin
		b.rowLoad[row] = func() sn8.Load {
			return port.InternalAsLoad(pin)
		}
	}
	for column := 0; column < matrixColumnCount; column++ {
		column := column
		cpu.P1.SetLoad(column, func() sn8.Load {
			return b.keyLoad(column)
		})
	}

	cpu.USB.OnWakeSignaling = func() { b.wakeupRequested = true }
	cpu.USB.OnEnableChange = func(enabled bool) { b.usbEnabled = enabled }
	cpu.USB.OnEPEnableChange = func(endpoint int, enabled bool) {
		b.epEnabled[endpoint] = enabled
	}

	mouse, err := i2c.New(mouseAddress)
	if err != nil {
		return nil, err
	}
	mouse.OnAddressed = b.onMouseAddressed
	mouse.OnDataByteReceived = b.onMouseDataByte
	mouse.GetNextDataByte = b.nextMouseDataByte
	b.mouse = mouse
	cpu.P2.SetLoad(4, b.sclLoad)
	cpu.P2.SetLoad(5, b.sdaLoad)
	cpu.P2.SetLoad(6, b.attnLoad)

	b.reset()
	return b, nil
}

// Reset simulates a power cycle of the whole board.
func (b *Board) Reset() {
	b.CPU.Reset(sn8.ResetSourceLowVoltage)
	b.reset()
}

func (b *Board) reset() {
	for column := range b.rowsByColumn {
		b.rowsByColumn[column] = nil
	}
	for row := range b.columnsByRow {
		b.columnsByRow[row] = nil
	}
	b.usbEnabled = false
	b.epEnabled = [5]bool{true, false, false, false, false}
	b.wakeupRequested = false
	b.attnFloat = true
	b.mouseState = MouseIdle
	b.report = [5]byte{0x80, 0x00, 0x00, 0x00, 0x00}
	b.reportIndex = 0
	b.inBuffer = nil
	b.mouse.Reset()
}

// Step executes one firmware instruction and propagates the
// master-driven bus levels to the TrackPoint controller.
func (b *Board) Step() error {
	if err := b.CPU.Step(); err != nil {
		return err
	}
	return b.mouse.Step(!b.masterDrivesLow(4), !b.masterDrivesLow(5))
}

// masterDrivesLow reports whether the firmware actively pulls a P2 pin
// low. The TrackPoint samples the master-driven line against the board
// pull-up, its own open-drain pull-downs stay out of its edge detector.
func (b *Board) masterDrivesLow(pin int) bool {
	load := b.CPU.P2.InternalAsLoad(pin)
	return load.Volts == 0 && !math.IsInf(load.Impedance, 1)
}

// Run steps the board for a duration in simulated milliseconds.
func (b *Board) Run(duration float64) error {
	return b.Host.Run(duration)
}

// WaitUSBEnabled steps until firmware enables the USB device function.
func (b *Board) WaitUSBEnabled(timeout float64) error {
	deadline := b.CPU.Now() + timeout
	for !b.usbEnabled {
		if b.CPU.Now() >= deadline {
			return ErrTimeout
		}
		if err := b.Step(); err != nil {
			return err
		}
	}
	return nil
}

// WaitMouseInitialised steps until firmware completed the TrackPoint
// initialisation sequence.
func (b *Board) WaitMouseInitialised(timeout float64) error {
	deadline := b.CPU.Now() + timeout
	for b.mouseState != MouseInitialised {
		if b.CPU.Now() >= deadline {
			return ErrTimeout
		}
		if err := b.Step(); err != nil {
			return err
		}
	}
	return nil
}

// USBEnabled reports whether firmware enabled the USB device function.
func (b *Board) USBEnabled() bool {
	return b.usbEnabled
}

// EndpointEnabled reports whether firmware enabled an endpoint.
func (b *Board) EndpointEnabled(endpoint int) bool {
	return b.epEnabled[endpoint]
}

// WakeupRequested reports whether the device signaled a remote wakeup.
func (b *Board) WakeupRequested() bool {
	return b.wakeupRequested
}

// MouseState returns the TrackPoint initialisation state.
func (b *Board) MouseState() int {
	return b.mouseState
}

// PressKey closes the switch connecting a matrix row to a column.
func (b *Board) PressKey(row, column int) error {
	if err := checkKey(row, column); err != nil {
		return err
	}
	if contains(b.rowsByColumn[column], row) {
		return fmt.Errorf("key at %dx%d already pressed", row, column)
	}
	b.rowsByColumn[column] = append(b.rowsByColumn[column], row)
	b.columnsByRow[row] = append(b.columnsByRow[row], column)
	return nil
}

// ReleaseKey opens the switch connecting a matrix row to a column.
func (b *Board) ReleaseKey(row, column int) error {
	if err := checkKey(row, column); err != nil {
		return err
	}
	if !contains(b.rowsByColumn[column], row) {
		return fmt.Errorf("key at %dx%d already released", row, column)
	}
	b.rowsByColumn[column] = remove(b.rowsByColumn[column], row)
	b.columnsByRow[row] = remove(b.columnsByRow[row], column)
	return nil
}

func checkKey(row, column int) error {
	if row < 0 || row >= matrixRowCount {
		return fmt.Errorf("row %d out of range", row)
	}
	if column < 0 || column >= matrixColumnCount {
		return fmt.Errorf("column %d out of range", column)
	}
	return nil
}

func contains(list []int, value int) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}

func remove(list []int, value int) []int {
	for i, v := range list {
		if v == value {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// SetMouseState loads the next TrackPoint movement report and pulls the
// attention line low so firmware comes fetch it.
func (b *Board) SetMouseState(x, y int8, left, middle, right bool) {
	var buttons byte
	if left {
		buttons |= 1
	}
	if right {
		buttons |= 2
	}
	if middle {
		buttons |= 4
	}
	b.report[1] = buttons
	b.report[2] = byte(x)
	b.report[3] = byte(y)
	b.attnFloat = false
}

// keyLoad computes the load a column pin sees through the key matrix.
// Pressed keys can bridge multiple rows and columns, so the reachable
// set is closed transitively before merging the connected pin loads.
func (b *Board) keyLoad(column int) sn8.Load {
	columnSet := map[int]struct{}{column: {}}
	rowSet := map[int]struct{}{}
	for {
		previousColumns := len(columnSet)
		previousRows := len(rowSet)
		for connectedColumn := range columnSet {
			for _, row := range b.rowsByColumn[connectedColumn] {
				rowSet[row] = struct{}{}
			}
		}
		for connectedRow := range rowSet {
			for _, c := range b.columnsByRow[connectedRow] {
				columnSet[c] = struct{}{}
			}
		}
		if previousColumns == len(columnSet) && previousRows == len(rowSet) {
			break
		}
	}

	impedanceByVoltage := map[float64][]float64{}
	for row := range rowSet {
		load := b.rowLoad[row]()
		if !math.IsInf(load.Impedance, 1) {
			impedanceByVoltage[load.Volts] = append(impedanceByVoltage[load.Volts], load.Impedance)
		}
	}
	for loadColumn := range columnSet {
		if loadColumn == column {
			continue
		}
		load := b.CPU.P1.InternalAsLoad(loadColumn)
		if !math.IsInf(load.Impedance, 1) {
			impedanceByVoltage[load.Volts] = append(impedanceByVoltage[load.Volts], load.Impedance)
		}
	}

	result := sn8.FloatingLoad
	first := true
	for volts, impedances := range impedanceByVoltage {
		// Loads at the same voltage are simply in parallel.
		var conductance float64
		for _, impedance := range impedances {
			conductance += 1 / impedance
		}
		merged := sn8.Load{Volts: volts, Impedance: 1 / conductance}
		if first {
			result = merged
			first = false
			continue
		}
		// Loads at different voltages combine into their Thévenin
		// equivalent.
		if result.Volts < merged.Volts {
			result, merged = merged, result
		}
		result = sn8.Load{
			Volts: merged.Volts + (result.Volts-merged.Volts)*
				merged.Impedance/(result.Impedance+merged.Impedance),
			Impedance: 1 / (1/result.Impedance + 1/merged.Impedance),
		}
	}
	return result
}

// The I2C and attention lines are open-drain with board-level pull-ups
// to the 5V rail. A device driving low is modeled as a short to ground.

func (b *Board) sclLoad() sn8.Load {
	if b.mouse.SCLFloat {
		return sn8.Load{Volts: b.CPU.P1.Vdd(), Impedance: busPullUp}
	}
	return sn8.Load{}
}

func (b *Board) sdaLoad() sn8.Load {
	if b.mouse.SDAFloat {
		return sn8.Load{Volts: b.CPU.P1.Vdd(), Impedance: busPullUp}
	}
	return sn8.Load{}
}

func (b *Board) attnLoad() sn8.Load {
	if b.attnFloat {
		return sn8.Load{Volts: b.CPU.P1.Vdd(), Impedance: busPullUp}
	}
	return sn8.Load{}
}

func (b *Board) onMouseAddressed(read bool) bool {
	if read {
		b.reportIndex = 0
	} else {
		b.inBuffer = nil
	}
	return true
}

func (b *Board) onMouseDataByte(value byte) bool {
	b.inBuffer = append(b.inBuffer, value)
	if len(b.inBuffer) == 1 {
		switch b.inBuffer[0] {
		case 0xfc:
			b.mouseState = MouseInit1
			return true
		case 0xc4:
			b.mouseState = MouseInitialised
			return true
		}
	}
	b.logger.Warn("trackpoint received unknown byte sequence",
		log.String("bytes", fmt.Sprintf("% x", b.inBuffer)))
	return false
}

func (b *Board) nextMouseDataByte() (byte, bool) {
	if b.reportIndex >= len(b.report) {
		return 0, false
	}
	value := b.report[b.reportIndex]
	b.reportIndex++
	if b.reportIndex > 3 {
		// Firmware read buttons and both axes, stop requesting
		// attention.
		b.attnFloat = true
	}
	return value, true
}

// SavedFnLock reads the persisted FnLock state.
func (b *Board) SavedFnLock() bool {
	return b.CPU.Flash(settingsAddress)&0x0002 != 0
}

// SetSavedFnLock writes the persisted FnLock state.
func (b *Board) SetSavedFnLock(locked bool) {
	word := b.CPU.Flash(settingsAddress)
	if locked {
		word |= 0x0002
	} else {
		word &= 0xfffd
	}
	b.CPU.SetFlash(settingsAddress, word)
}

// SavedMouseSpeed reads the persisted TrackPoint speed setting.
func (b *Board) SavedMouseSpeed() byte {
	return byte(b.CPU.Flash(settingsAddress) >> 8 & 0x0f)
}

// SetSavedMouseSpeed writes the persisted TrackPoint speed setting.
func (b *Board) SetSavedMouseSpeed(speed byte) {
	word := b.CPU.Flash(settingsAddress)
	b.CPU.SetFlash(settingsAddress, word&0xf0ff|uint16(speed&0x0f)<<8)
}
