package sn8

// PortState is the serializable state of one GPIO port.
type PortState struct {
	Direction byte
	PullUp    byte
	Value     byte
}

// TimerState is the serializable state of one timer.
type TimerState struct {
	Mode          byte
	Value         uint16
	Reload        byte
	InternalCount byte
	InternalMask  byte
}

// USBState is the serializable state of the USB controller.
type USBState struct {
	Status       byte
	SE0Started   bool
	SE0StartTime float64
	Drive        byte
	Toggle       byte
	Address      byte
	EPEnable     [5]byte
	Buffer       [usbFIFOSize]byte
	BufferInit   [usbFIFOSize]bool
}

// Snapshot captures the complete simulation state. Snapshots are plain
// values: comparing two of them after stripping timing shows exactly
// what an instruction changed, which the instruction tests build on.
type Snapshot struct {
	RunTime    float64
	CycleCount uint64
	SlowClock  float64

	A         byte
	PushA     byte
	PushFlags byte

	RAM     [ramSize]byte
	RAMInit [ramSize]bool
	Flash   [FlashWords]uint16

	P0 PortState
	P1 PortState
	P2 PortState
	P4 PortState
	P5 PortState

	T0  TimerState
	T1  TimerState
	TC0 TimerState
	TC1 TimerState
	TC2 TimerState

	Watchdog  uint32
	MSPStatus byte
	USB       USBState
}

// StripTiming returns a copy with the pure-timing fields zeroed, for
// "nothing changed but time" comparisons.
func (s Snapshot) StripTiming() Snapshot {
	s.RunTime = 0
	s.CycleCount = 0
	s.SlowClock = 0
	return s
}

func (p *Port) state() PortState {
	return PortState{Direction: p.direction, PullUp: p.pullUp, Value: p.value}
}

func (p *Port) restore(state PortState) {
	p.direction = state.Direction
	p.pullUp = state.PullUp
	p.value = state.Value
}

func (t *Timer) state() TimerState {
	return TimerState{
		Mode:          t.mode,
		Value:         t.value,
		Reload:        t.reload,
		InternalCount: t.internalCount,
		InternalMask:  t.internalMask,
	}
}

func (t *Timer) restore(state TimerState) {
	t.mode = state.Mode
	t.value = state.Value
	t.reload = state.Reload
	t.internalCount = state.InternalCount
	t.internalMask = state.InternalMask
}

func (u *USB) state() USBState {
	return USBState{
		Status:       u.status,
		SE0Started:   u.se0Started,
		SE0StartTime: u.se0StartTime,
		Drive:        u.drive,
		Toggle:       u.toggle,
		Address:      u.address,
		EPEnable:     u.epEnable,
		Buffer:       u.epbuf,
		BufferInit:   u.epbufInit,
	}
}

func (u *USB) restore(state USBState) {
	u.status = state.Status
	u.se0Started = state.SE0Started
	u.se0StartTime = state.SE0StartTime
	u.drive = state.Drive
	u.toggle = state.Toggle
	u.address = state.Address
	u.epEnable = state.EPEnable
	u.epbuf = state.Buffer
	u.epbufInit = state.BufferInit
}

// Snapshot captures the current simulation state.
func (c *CPU) Snapshot() Snapshot {
	s := Snapshot{
		RunTime:    c.runTime,
		CycleCount: c.cycleCount,
		SlowClock:  c.slowClock,
		A:          c.a,
		PushA:      c.pushA,
		PushFlags:  c.pushFlags,
		RAM:        c.ram,
		RAMInit:    c.init,
		Flash:      c.flash,
		P0:         c.P0.state(),
		P1:         c.P1.state(),
		P2:         c.P2.state(),
		P4:         c.P4.state(),
		P5:         c.P5.state(),
		T0:         c.T0.state(),
		T1:         c.T1.state(),
		TC0:        c.TC0.state(),
		TC1:        c.TC1.state(),
		TC2:        c.TC2.state(),
		Watchdog:   c.Watchdog.value,
		MSPStatus:  c.MSP.status,
		USB:        c.USB.state(),
	}
	// Volatile and missing cells have no plain storage to capture.
	for address, kind := range c.kind {
		if kind != cellRAM {
			s.RAM[address] = 0
			s.RAMInit[address] = false
		}
	}
	return s
}

// Restore puts the simulation back into a captured state. Code options
// are re-derived since the flash content may differ.
func (c *CPU) Restore(s Snapshot) {
	c.runTime = s.RunTime
	c.cycleCount = s.CycleCount
	c.slowClock = s.SlowClock
	c.a = s.A
	c.pushA = s.PushA
	c.pushFlags = s.PushFlags
	for address, kind := range c.kind {
		if kind == cellRAM {
			c.ram[address] = s.RAM[address]
			c.init[address] = s.RAMInit[address]
		}
	}
	c.flash = s.Flash
	c.P0.restore(s.P0)
	c.P1.restore(s.P1)
	c.P2.restore(s.P2)
	c.P4.restore(s.P4)
	c.P5.restore(s.P5)
	c.T0.restore(s.T0)
	c.T1.restore(s.T1)
	c.TC0.restore(s.TC0)
	c.TC1.restore(s.TC1)
	c.TC2.restore(s.TC2)
	c.Watchdog.value = s.Watchdog
	c.MSP.status = s.MSPStatus
	c.USB.restore(s.USB)
	c.reloadCodeOptions()
}
