package sn8

import "fmt"

// USTATUS bits.
const (
	usbStatusCRCErr   = 0x80
	usbStatusPktErr   = 0x40
	usbStatusSOF      = 0x20
	usbStatusBusReset = 0x10
	usbStatusSuspend  = 0x08
	usbStatusEP0Setup = 0x04
	usbStatusEP0In    = 0x02
	usbStatusEP0Out   = 0x01
)

// UExR endpoint enable register bits.
const (
	usbEPEnable = 0x80
	usbEPStall  = 0x40 // M1
	usbEPAck    = 0x20 // M0
)

// UEPINT ack/nak bits per endpoint 1..4: ack at even bit, nak above it.
// UEPINTEN carries the per-endpoint NAK interrupt enables in bits 0..3
// and the SOF interrupt enable in bit 4.
const usbSOFIntEnable = 0x10

// usbFIFOSize is the size of the shared endpoint buffer.
const usbFIFOSize = 0x136

// USB is the device-side full-speed USB controller. The host side of
// the bus is simulated through SendSETUP, Send and Recv. Callbacks let a
// board model observe what the device signals to its host.
type USB struct {
	cpu  *CPU
	line irqLine

	// OnWakeSignaling fires when the device drives SE0 longer than 1ms,
	// requesting a remote wakeup from the host.
	OnWakeSignaling func()
	// OnEnableChange fires when firmware toggles the device enable bit.
	OnEnableChange func(enabled bool)
	// OnEPEnableChange fires when firmware toggles a non-zero endpoint
	// enable bit.
	OnEPEnableChange func(endpoint int, enabled bool)
	// OnEPEventAvailable fires when firmware arms an endpoint with a
	// stall or ack answer.
	OnEPEventAvailable func(endpoint int, stall, ack bool)
	// OnSetupRead fires when firmware acknowledges the SETUP stage by
	// clearing the EP0 setup status bit.
	OnSetupRead func()

	status       byte
	se0Started   bool
	se0StartTime float64
	nextSOFTime  float64
	epbuf        [usbFIFOSize]byte
	epbufInit    [usbFIFOSize]bool
	drive        byte
	toggle       byte
	address      byte
	epEnable     [5]byte
}

func newUSB(cpu *CPU, line irqLine) *USB {
	u := &USB{cpu: cpu, line: line}
	u.Reset()
	return u
}

// Reset puts the controller back into its power-on state.
func (u *USB) Reset() {
	u.status = 0x00
	u.se0Started = false
	u.epbuf = [usbFIFOSize]byte{}
	u.epbufInit = [usbFIFOSize]bool{}
	u.drive = 0x00
	u.toggle = 0x07
	u.address = 0x00
	u.epEnable = [5]byte{}
}

// Status returns the USTATUS byte.
func (u *USB) Status() byte {
	return u.status
}

// Enabled reports whether firmware enabled the USB device function.
func (u *USB) Enabled() bool {
	return u.address&0x80 != 0
}

// Suspended reports the suspend status bit.
func (u *USB) Suspended() bool {
	return u.status&usbStatusSuspend != 0
}

// EP0Pending reports whether any EP0 event still awaits firmware.
func (u *USB) EP0Pending() bool {
	return u.status&(usbStatusEP0Setup|usbStatusEP0In|usbStatusEP0Out) != 0
}

// EndpointStalled reports whether firmware armed a stall answer.
func (u *USB) EndpointStalled(endpoint int) bool {
	return u.epEnable[endpoint]&usbEPStall != 0
}

// EndpointAcked reports whether firmware armed an ack answer.
func (u *USB) EndpointAcked(endpoint int) bool {
	return u.epEnable[endpoint]&usbEPAck != 0
}

// SetBusReset drives the bus-reset status bit. Setting it raises an
// interrupt.
func (u *USB) SetBusReset(on bool) error {
	return u.setStatusBit(usbStatusBusReset, on)
}

// SetSuspend drives the suspend status bit. Setting it raises an
// interrupt.
func (u *USB) SetSuspend(on bool) error {
	return u.setStatusBit(usbStatusSuspend, on)
}

func (u *USB) setStatusBit(mask byte, on bool) error {
	if !on {
		u.status &^= mask
		return nil
	}
	u.status |= mask
	return u.interrupt()
}

// interrupt raises the USB interrupt request. Raising it while the
// previous request is still pending indicates firmware lost an event and
// fails hard.
func (u *USB) interrupt() error {
	if u.cpu.ram[u.line.request]&u.line.mask != 0 {
		return fmt.Errorf("usb interrupt raised while previous one is still pending")
	}
	return u.cpu.raise(u.line)
}

func (u *USB) readStatus() (byte, error) {
	return u.status, nil
}

func (u *USB) writeStatus(value byte) error {
	if u.OnSetupRead != nil && value&usbStatusEP0Setup == 0 {
		u.OnSetupRead()
	}
	// Bus reset and suspend are bus conditions, firmware cannot clear
	// them.
	u.status = (u.status & 0x18) | (value & 0xe7)
	return nil
}

func (u *USB) readAddress() (byte, error) {
	return u.address, nil
}

func (u *USB) writeAddress(value byte) error {
	if u.OnEnableChange != nil && (u.address^value)&0x80 != 0 {
		u.OnEnableChange(value&0x80 != 0)
	}
	u.address = value
	return nil
}

func (u *USB) readFIFO() (byte, error) {
	offset := u.cpu.ram[regUDP0]
	if !u.epbufInit[offset] {
		return 0, UninitializedReadError{Address: uint16(offset)}
	}
	return u.epbuf[offset], nil
}

func (u *USB) writeFIFO(value byte) error {
	offset := u.cpu.ram[regUDP0]
	u.epbuf[offset] = value
	u.epbufInit[offset] = true
	return nil
}

func (u *USB) readPinControl() (byte, error) {
	return u.drive, nil
}

func (u *USB) writePinControl(value byte) error {
	u.drive = value & 0x07
	if u.drive&0x04 != 0 && u.drive&0x03 == 0 {
		// Driving a single-ended zero.
		if !u.se0Started {
			u.se0Started = true
			u.se0StartTime = u.cpu.runTime
		}
	} else {
		u.se0Started = false
	}
	return nil
}

func (u *USB) readToggle() (byte, error) {
	return u.toggle, nil
}

func (u *USB) writeToggle(value byte) error {
	u.toggle = value & 0x07
	return nil
}

func (u *USB) readEP0Enable() (byte, error) { return u.epEnable[0], nil }
func (u *USB) readEP1Enable() (byte, error) { return u.epEnable[1], nil }
func (u *USB) readEP2Enable() (byte, error) { return u.epEnable[2], nil }
func (u *USB) readEP3Enable() (byte, error) { return u.epEnable[3], nil }
func (u *USB) readEP4Enable() (byte, error) { return u.epEnable[4], nil }

func (u *USB) writeEP0Enable(value byte) error { return u.writeEPEnable(0, value) }
func (u *USB) writeEP1Enable(value byte) error { return u.writeEPEnable(1, value) }
func (u *USB) writeEP2Enable(value byte) error { return u.writeEPEnable(2, value) }
func (u *USB) writeEP3Enable(value byte) error { return u.writeEPEnable(3, value) }
func (u *USB) writeEP4Enable(value byte) error { return u.writeEPEnable(4, value) }

func (u *USB) writeEPEnable(endpoint int, value byte) error {
	current := u.epEnable[endpoint]
	if u.OnEPEnableChange != nil && endpoint != 0 && (value^current)&usbEPEnable != 0 {
		u.OnEPEnableChange(endpoint, value&usbEPEnable != 0)
	}
	if u.OnEPEventAvailable != nil &&
		value&(usbEPStall|usbEPAck) != 0 &&
		(value^current)&(usbEPStall|usbEPAck) != 0 {
		u.OnEPEventAvailable(endpoint, value&usbEPStall != 0, value&usbEPAck != 0)
	}
	u.epEnable[endpoint] = value
	return nil
}

func (u *USB) tic() error {
	now := u.cpu.runTime
	if u.se0Started && u.OnWakeSignaling != nil && now-u.se0StartTime > 1 {
		// Wake signaling reaches the host after 1ms of SE0.
		u.OnWakeSignaling()
	}
	if u.cpu.ram[regUEPINTEN]&usbSOFIntEnable != 0 && now > u.nextSOFTime {
		// Full-speed SOFs arrive every 1ms.
		u.nextSOFTime = now + 1
		return u.setStatusBit(usbStatusSOF, true)
	}
	return nil
}

// SendSETUP queues a SETUP packet on endpoint 0, as the host would.
// Firmware must have enabled the device function and handled all prior
// EP0 events.
func (u *USB) SendSETUP(requestType, request byte, value, index, length uint16) error {
	if !u.Enabled() {
		return fmt.Errorf("usb is disabled by firmware")
	}
	if u.EP0Pending() {
		return fmt.Errorf("firmware has unhandled EP0 events")
	}
	setup := [8]byte{
		requestType,
		request,
		byte(value), byte(value >> 8),
		byte(index), byte(index >> 8),
		byte(length), byte(length >> 8),
	}
	copy(u.epbuf[:8], setup[:])
	for i := 0; i < 8; i++ {
		u.epbufInit[i] = true
	}
	u.epEnable[0] &^= usbEPStall | usbEPAck
	u.status |= usbStatusEP0Setup
	return u.interrupt()
}

// checkEndpoint validates that an endpoint can accept a transaction and
// returns its FIFO bounds.
func (u *USB) checkEndpoint(endpoint int) (start, stop uint16, err error) {
	if !u.Enabled() {
		return 0, 0, fmt.Errorf("usb is disabled by firmware")
	}
	enable := u.epEnable[endpoint]
	enabled := endpoint == 0 || enable&usbEPEnable != 0
	if !enabled {
		return 0, 0, fmt.Errorf("endpoint %d is disabled", endpoint)
	}
	if enable&usbEPStall != 0 {
		return 0, 0, ErrEndpointStall
	}
	if enable&usbEPAck == 0 {
		if endpoint != 0 && u.cpu.ram[regUEPINTEN]&(1<<(endpoint-1)) != 0 {
			u.cpu.storeRAM(regUEPINT, u.cpu.ram[regUEPINT]|u.nakBit(endpoint))
			if err := u.interrupt(); err != nil {
				return 0, 0, err
			}
		}
		return 0, 0, ErrEndpointNAK
	}
	if u.hasPendingEvents(endpoint) {
		return 0, 0, fmt.Errorf("endpoint %d accepts transfer but firmware did not clear pending events", endpoint)
	}

	bounds := [6]uint16{
		0,
		8,
		uint16(u.cpu.ram[regEP2FIFO]),
		uint16(u.cpu.ram[regEP3FIFO]),
		uint16(u.cpu.ram[regEP4FIFO]),
		usbFIFOSize,
	}
	start = bounds[endpoint]
	stop = bounds[endpoint+1]
	if stop == 0 {
		stop = usbFIFOSize
	}
	return start, stop, nil
}

func (u *USB) hasPendingEvents(endpoint int) bool {
	if endpoint == 0 {
		return u.EP0Pending()
	}
	return u.cpu.ram[regUEPINT]&(u.ackBit(endpoint)|u.nakBit(endpoint)) != 0
}

func (u *USB) ackBit(endpoint int) byte {
	return 1 << ((endpoint - 1) * 2)
}

func (u *USB) nakBit(endpoint int) byte {
	return 1 << ((endpoint-1)*2 + 1)
}

// countRegister returns the byte-count register address of an endpoint.
// Endpoint 0 keeps its count in the low nibble of its enable register
// and is handled separately.
func countRegister(endpoint int) uint16 {
	return [5]uint16{0, regUE1RC, regUE2RC, regUE3RC, regUE4RC}[endpoint]
}

// Send writes host data into an endpoint buffer, simulating an OUT
// transaction. It returns ErrEndpointStall or ErrEndpointNAK when the
// endpoint is armed to answer so.
func (u *USB) Send(endpoint int, data []byte) error {
	start, stop, err := u.checkEndpoint(endpoint)
	if err != nil {
		return err
	}
	if len(data) > int(stop-start) {
		return fmt.Errorf("data too long for endpoint %d buffer: %d > %d", endpoint, len(data), stop-start)
	}
	copy(u.epbuf[start:], data)
	for i := range data {
		u.epbufInit[int(start)+i] = true
	}
	u.epEnable[endpoint] &^= usbEPAck
	if endpoint == 0 {
		u.cpu.storeRAM(regEP0OUTCnt, byte(len(data)))
		u.status |= usbStatusEP0Out
	} else {
		u.cpu.storeRAM(countRegister(endpoint), byte(len(data)))
		u.cpu.storeRAM(regUEPINT, u.cpu.ram[regUEPINT]|u.ackBit(endpoint))
	}
	return u.interrupt()
}

// Recv reads pending data from an endpoint buffer, simulating an IN
// transaction. It returns ErrEndpointStall or ErrEndpointNAK when the
// endpoint is armed to answer so.
func (u *USB) Recv(endpoint int) ([]byte, error) {
	start, stop, err := u.checkEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	var count uint16
	if endpoint == 0 {
		count = uint16(u.epEnable[0] & 0x0f)
	} else {
		count = uint16(u.cpu.ram[countRegister(endpoint)])
	}
	if count > stop-start {
		count = stop - start
	}
	result := make([]byte, count)
	for i := range result {
		offset := start + uint16(i)
		if !u.epbufInit[offset] {
			return nil, UninitializedReadError{Address: offset}
		}
		result[i] = u.epbuf[offset]
	}
	u.epEnable[endpoint] &^= usbEPAck
	if endpoint == 0 {
		u.status |= usbStatusEP0In
	} else {
		u.cpu.storeRAM(regUEPINT, u.cpu.ram[regUEPINT]|u.ackBit(endpoint))
	}
	if err := u.interrupt(); err != nil {
		return nil, err
	}
	return result, nil
}
