// Package sn8 implements a cycle-level simulator for the SN8F2288
// microcontroller: instruction engine, memory-mapped peripheral dispatch,
// timers, watchdog, GPIO ports with electrical load modeling, the USB
// device controller and the flash self-programming engine.
package sn8

import (
	"fmt"

	"github.com/retroenv/retrogolib/log"
	"github.com/retroenv/retrogolib/set"

	"github.com/vpelletier/dissn8/internal/chip"
)

// ramSize covers the general purpose banks and the register page.
const ramSize = 0x300

// FlashWords is the size of the program flash in 16 bit words.
const FlashWords = 0x3000

// codeOptionAddress is the flash word holding the packed code options.
const codeOptionAddress = 0x2fff

// interruptVector is the address called when an enabled interrupt fires.
const interruptVector = 0x0008

type readFunc func() (byte, error)
type writeFunc func(value byte) error

// regAccess is one entry of the volatile register dispatch table.
// A nil read means the register is write-only, a nil write means it is
// read-only. Accessing the missing direction warns and no-ops.
type regAccess struct {
	read  readFunc
	write writeFunc
}

// irqLine identifies one interrupt request/enable bit pair.
type irqLine struct {
	request uint16
	enable  uint16
	mask    byte
}

// WatchFunc is invoked on watched memory accesses. Watchers must not
// call Step reentrantly.
type WatchFunc func(cpu *CPU, address uint16, value byte)

// peripheral is the shared contract of every device hanging off the core.
type peripheral interface {
	Reset()
}

// CPU is a simulated SN8F2288.
type CPU struct {
	logger *log.Logger
	def    *chip.Definition

	flash [FlashWords]uint16
	ram   [ramSize]byte
	init  [ramSize]bool // cell has been written since power-on
	kind  [ramSize]cellKind

	a byte

	pushA     byte
	pushFlags byte

	runTime    float64 // simulated milliseconds
	cycleCount uint64
	slowClock  float64

	oscillatorWakeupMS float64

	watchdogEnabled    bool
	watchdogAlwaysOn   bool
	highSpeedCycleMS   float64
	lowSpeedCycleMS    float64
	slowClockThreshold float64

	stkpUnderflow bool

	// resumed tracks resuming from a breakpoint so that the very next
	// Step at the same address executes instead of re-triggering.
	resumed  bool
	resumePC uint16

	P0 *Port
	P1 *Port
	P2 *Port
	P4 *Port
	P5 *Port

	T0  *Timer
	T1  *Timer
	TC0 *Timer
	TC1 *Timer
	TC2 *Timer

	Watchdog *Watchdog
	MSP      *MainSeriesPort
	USB      *USB
	UART     *UART
	ADC      *ADC

	volatile map[uint16]regAccess
	masks    map[uint16]byte

	readWatchers  map[uint16]WatchFunc
	writeWatchers map[uint16]WatchFunc

	// Breakpoints aborts Step with a BreakpointError when the program
	// counter is about to execute one of the contained addresses.
	Breakpoints set.Set[uint16]
}

// New creates a CPU with the given flash image loaded. The register
// layout is taken from the chip definition. The CPU comes up as after a
// power-on reset.
func New(logger *log.Logger, def *chip.Definition, image []uint16) (*CPU, error) {
	if len(image) != FlashWords {
		return nil, fmt.Errorf("flash image has %d words, need %d", len(image), FlashWords)
	}

	c := &CPU{
		logger:             logger,
		def:                def,
		oscillatorWakeupMS: 6,
		readWatchers:       map[uint16]WatchFunc{},
		writeWatchers:      map[uint16]WatchFunc{},
		Breakpoints:        set.New[uint16](),
	}
	copy(c.flash[:], image)

	c.P0 = newPort(5, 0.015, 0.015, 40000, 7)
	c.P1 = newPort(5, 0.015, 0.015, 40000, 8)
	c.P2 = newPort(3.3, 0.001, 0.002, 55000, 8)
	c.P4 = newPort(5, 0.015, 0.015, 40000, 8)
	c.P5 = newPort(5, 0.015, 0.015, 40000, 5)

	c.T0 = newTimer(c, 0xff, irqLine{regINTRQ1, regINTEN1, intT0}, 0xf0, true)
	c.T1 = newTimer(c, 0xffff, irqLine{regINTRQ1, regINTEN1, intT1}, 0xf0, true)
	c.TC0 = newTimerCounter(c, irqLine{regINTRQ1, regINTEN1, intTC0})
	c.TC1 = newTimerCounter(c, irqLine{regINTRQ1, regINTEN1, intTC1})
	c.TC2 = newTimerCounter(c, irqLine{regINTRQ1, regINTEN1, intTC2})

	c.Watchdog = newWatchdog(c)
	c.MSP = newMainSeriesPort(irqLine{regINTRQ1, regINTEN1, intMSP})
	c.USB = newUSB(c, irqLine{regINTRQ1, regINTEN1, intUSB})
	c.UART = newUART(irqLine{regINTRQ2, regINTEN2, intUTRX}, irqLine{regINTRQ2, regINTEN2, intUTTX})
	c.ADC = newADC(irqLine{regINTRQ1, regINTEN1, intADC})

	if err := c.buildDispatch(); err != nil {
		return nil, err
	}
	c.buildCellKinds()
	c.masks = map[uint16]byte{
		regPFLAG:    0xc7,
		regRBANK:    0x03,
		regPERAMCNT: 0xfb,
		regOSCM:     0x1e,
		regPCH:      0x3f,
		regSTKP:     0x87,
		regSTK7H:    0x3f,
		regSTK7H + 2:  0x3f,
		regSTK7H + 4:  0x3f,
		regSTK7H + 6:  0x3f,
		regSTK7H + 8:  0x3f,
		regSTK7H + 10: 0x3f,
		regSTK7H + 12: 0x3f,
		regSTK0H:      0x3f,
	}

	c.Reset(ResetSourceLowVoltage)
	return c, nil
}

// buildDispatch wires the volatile register dispatch table. Addresses are
// resolved through the chip definition so that a layout mistake in the
// definition file fails loudly instead of silently misrouting accesses.
func (c *CPU) buildDispatch() error {
	table := map[string]regAccess{
		"TC0M":    {c.TC0.readMode, c.TC0.writeMode},
		"TC0C":    {c.TC0.readLow, c.TC0.writeLow},
		"TC0R":    {nil, c.TC0.writeReload},
		"TC1M":    {c.TC1.readMode, c.TC1.writeMode},
		"TC1C":    {c.TC1.readLow, c.TC1.writeLow},
		"TC1R":    {nil, c.TC1.writeReload},
		"TC2M":    {c.TC2.readMode, c.TC2.writeMode},
		"TC2C":    {c.TC2.readLow, c.TC2.writeLow},
		"TC2R":    {nil, c.TC2.writeReload},
		"UDA":     {c.USB.readAddress, c.USB.writeAddress},
		"USTATUS": {c.USB.readStatus, c.USB.writeStatus},
		"UE0R":    {c.USB.readEP0Enable, c.USB.writeEP0Enable},
		"UE1R":    {c.USB.readEP1Enable, c.USB.writeEP1Enable},
		"UE2R":    {c.USB.readEP2Enable, c.USB.writeEP2Enable},
		"UE3R":    {c.USB.readEP3Enable, c.USB.writeEP3Enable},
		"UE4R":    {c.USB.readEP4Enable, c.USB.writeEP4Enable},
		"UDR0_R":  {c.USB.readFIFO, nil},
		"UDR0_W":  {nil, c.USB.writeFIFO},
		"UPID":    {c.USB.readPinControl, c.USB.writePinControl},
		"UTOGGLE": {c.USB.readToggle, c.USB.writeToggle},
		"URRXD1":  {c.UART.readRXD1, nil},
		"URRXD2":  {c.UART.readRXD2, nil},
		"ADB":     {c.ADC.readADB, nil},
		"ADR":     {c.ADC.readADR, c.ADC.writeADR},
		"P0M":     {c.P0.readDirection, c.P0.writeDirection},
		"P4CON":   {nil, c.writeP4CON},
		"PECMD":   {nil, c.writeProgramEraseCommand},
		"P1M":     {c.P1.readDirection, c.P1.writeDirection},
		"P2M":     {c.P2.readDirection, c.P2.writeDirection},
		"P4M":     {c.P4.readDirection, c.P4.writeDirection},
		"P5M":     {c.P5.readDirection, c.P5.writeDirection},
		"WDTR":    {nil, c.Watchdog.write},
		"P0":      {c.P0.Read, c.P0.write},
		"P1":      {c.P1.Read, c.P1.write},
		"P2":      {c.P2.Read, c.P2.write},
		"P4":      {c.P4.Read, c.P4.write},
		"P5":      {c.P5.Read, c.P5.write},
		"T0M":     {c.T0.readMode, c.T0.writeMode},
		"T0C":     {c.T0.readLow, c.T0.writeLow},
		"T1M":     {c.T1.readMode, c.T1.writeMode},
		"T1CL":    {c.T1.readLow, c.T1.writeLow},
		"T1CH":    {c.T1.readHigh, c.T1.writeHigh},
		"P0UR":    {nil, c.P0.writePullUp},
		"P1UR":    {nil, c.P1.writePullUp},
		"P2UR":    {nil, c.P2.writePullUp},
		"P4UR":    {nil, c.P4.writePullUp},
		"P5UR":    {nil, c.P5.writePullUp},
		"@YZ":     {c.readYZ, c.writeYZ},
		"MSPSTAT": {c.MSP.readStatus, c.MSP.writeStatus},
		"MSPM1":   {c.MSP.readMode1, c.MSP.writeMode1},
		"MSPM2":   {c.MSP.readMode2, c.MSP.writeMode2},
	}

	c.volatile = make(map[uint16]regAccess, len(table))
	for name, access := range table {
		addr, ok := c.def.Address(name)
		if !ok {
			return fmt.Errorf("chip definition is missing register %s", name)
		}
		c.volatile[addr] = access
	}
	return nil
}

// Reset applies a reset of the given source: register page back to reset
// values, reset source recorded in the PFLAG high bits, code options
// re-derived from flash, peripherals reset. General purpose RAM is kept.
func (c *CPU) Reset(source byte) {
	c.applyRegisterResets()
	c.ram[regPFLAG] = (c.ram[regPFLAG] & 0x3f) | (source & 0xc0)
	c.reloadCodeOptions()
	for _, p := range []peripheral{
		c.P0, c.P1, c.P2, c.P4, c.P5,
		c.Watchdog,
		c.T0, c.T1, c.TC0, c.TC1, c.TC2,
		c.MSP, c.UART, c.ADC, c.USB,
	} {
		p.Reset()
	}
}

// A returns the accumulator.
func (c *CPU) A() byte {
	return c.a
}

// SetA sets the accumulator.
func (c *CPU) SetA(value byte) {
	c.a = value
}

// PC returns the program counter.
func (c *CPU) PC() uint16 {
	return uint16(c.ram[regPCH])<<8 | uint16(c.ram[regPCL])
}

// SetPC sets the program counter.
func (c *CPU) SetPC(pc uint16) {
	c.storeRAM(regPCL, byte(pc))
	c.storeRAM(regPCH, byte(pc>>8))
}

// Now returns the simulated run time in milliseconds.
func (c *CPU) Now() float64 {
	return c.runTime
}

// AdvanceTime adds milliseconds to the simulated run time. Used by the
// flash engine and wake sequences to account for non-instruction delays.
func (c *CPU) AdvanceTime(ms float64) {
	c.runTime += ms
}

// CycleCount returns the number of executed instruction cycles.
func (c *CPU) CycleCount() uint64 {
	return c.cycleCount
}

// Flash returns the current content of a flash word.
func (c *CPU) Flash(address uint16) uint16 {
	return c.flash[address]
}

// SetFlash overwrites a flash word, bypassing the program/erase
// command state machine. Board models use it to seed persisted
// settings.
func (c *CPU) SetFlash(address, value uint16) {
	c.flash[address] = value
}

// OnRead registers a read watcher for an address, or removes it when
// callback is nil.
func (c *CPU) OnRead(address uint16, callback WatchFunc) {
	if callback == nil {
		delete(c.readWatchers, address)
		return
	}
	c.readWatchers[address] = callback
}

// OnWrite registers a write watcher for an address, or removes it when
// callback is nil.
func (c *CPU) OnWrite(address uint16, callback WatchFunc) {
	if callback == nil {
		delete(c.writeWatchers, address)
		return
	}
	c.writeWatchers[address] = callback
}

func (c *CPU) flag(mask byte) bool {
	return c.ram[regPFLAG]&mask != 0
}

func (c *CPU) setFlag(mask byte, on bool) {
	value := c.ram[regPFLAG]
	if on {
		value |= mask
	} else {
		value &^= mask
	}
	c.storeRAM(regPFLAG, value)
}

func (c *CPU) carry() byte {
	if c.flag(flagC) {
		return 1
	}
	return 0
}

// FGIE reports the global interrupt enable bit.
func (c *CPU) FGIE() bool {
	return c.ram[regSTKP]&0x80 != 0
}

func (c *CPU) setFGIE(on bool) {
	value := c.ram[regSTKP]
	if on {
		value |= 0x80
	} else {
		value &^= 0x80
	}
	c.storeRAM(regSTKP, value)
}

// bankify resolves a banked RAM operand against the current RBANK.
// Reading RBANK before firmware initialized it is an error, like any
// other uninitialized read.
func (c *CPU) bankify(address byte) (uint16, error) {
	bank, err := c.Read(regRBANK)
	if err != nil {
		return 0, err
	}
	return uint16(bank)<<8 | uint16(address), nil
}

// raise sets an interrupt request bit and enters the interrupt handler
// when the matching enable bit and FGIE allow it.
func (c *CPU) raise(line irqLine) error {
	c.storeRAM(line.request, c.ram[line.request]|line.mask)
	if c.ram[line.enable]&line.mask != 0 {
		return c.interrupt()
	}
	return nil
}

// interrupt enters the interrupt handler if FGIE is set. Entry behaves
// like a regular 2-cycle call, with FGIE cleared until RETI.
func (c *CPU) interrupt() error {
	if !c.FGIE() {
		return nil
	}
	c.setFGIE(false)
	return c.callAddress(interruptVector)
}

func (c *CPU) writeP4CON(value byte) error {
	c.storeRAM(regP4CON, value)
	return nil
}

func (c *CPU) yzAddress() (uint16, error) {
	high, err := c.Read(regY)
	if err != nil {
		return 0, err
	}
	low, err := c.Read(regZ)
	if err != nil {
		return 0, err
	}
	address := uint16(high)<<8 | uint16(low)
	if address == regAtYZ {
		return 0, fmt.Errorf("@YZ points at itself")
	}
	return address, nil
}

func (c *CPU) readYZ() (byte, error) {
	address, err := c.yzAddress()
	if err != nil {
		return 0, err
	}
	return c.Read(address)
}

func (c *CPU) writeYZ(value byte) error {
	address, err := c.yzAddress()
	if err != nil {
		return err
	}
	return c.Write(address, value)
}
