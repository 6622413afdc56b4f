// Package usbhost drives the device-side USB controller of a simulated
// CPU the way a host controller would: it stages SETUP packets, waits
// for the firmware to handle endpoint 0 events, and moves data in
// packets of the endpoint's maximum packet size.
//
// All timeouts are deadlines in simulated milliseconds, the host steps
// the simulation while waiting.
package usbhost

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/vpelletier/dissn8/internal/sn8"
)

// ErrTimeout is returned when the firmware does not handle an endpoint
// 0 event before the simulated deadline.
var ErrTimeout = errors.New("simulated deadline expired")

// ep0MaxPacket is fixed by the controller for endpoint 0.
const ep0MaxPacket = 8

// DefaultTimeout is the control transfer deadline in simulated
// milliseconds used by the request helpers.
const DefaultTimeout = 5

// Host issues USB transfers against a simulated device.
type Host struct {
	cpu  *sn8.CPU
	step func() error
}

// New returns a host driving cpu. step is called to advance the
// simulation while waiting and must execute one instruction; pass nil
// to use cpu.Step directly. Board models pass their own step function
// so peripherals outside the chip stay in sync.
func New(cpu *sn8.CPU, step func() error) *Host {
	if step == nil {
		step = cpu.Step
	}
	return &Host{cpu: cpu, step: step}
}

// Run steps the simulation for a duration in simulated milliseconds.
func (h *Host) Run(duration float64) error {
	deadline := h.cpu.Now() + duration
	for h.cpu.Now() < deadline {
		if err := h.step(); err != nil {
			return err
		}
	}
	return nil
}

// waitEP0Handled steps until the firmware has acknowledged all pending
// endpoint 0 events.
func (h *Host) waitEP0Handled(deadline float64) error {
	for h.cpu.USB.EP0Pending() {
		if h.cpu.Now() >= deadline {
			return ErrTimeout
		}
		if err := h.step(); err != nil {
			return err
		}
	}
	return nil
}

// waitAckOrStall steps until the firmware armed the endpoint with an
// answer, or the deadline passed. Expiry means the endpoint answered
// only NAK, reported as ErrEndpointNAK wrapped with ErrTimeout.
func (h *Host) waitAckOrStall(endpoint int, deadline float64) error {
	for !h.cpu.USB.EndpointStalled(endpoint) &&
		!h.cpu.USB.EndpointAcked(endpoint) {
		if h.cpu.Now() >= deadline {
			return fmt.Errorf("endpoint %d: %w: %w", endpoint, sn8.ErrEndpointNAK, ErrTimeout)
		}
		if err := h.step(); err != nil {
			return err
		}
	}
	return nil
}

// ControlRead performs a control transfer with an IN data stage.
func (h *Host) ControlRead(requestType, request byte, value, index, length uint16, timeout float64) ([]byte, error) {
	deadline := h.cpu.Now() + timeout
	if err := h.waitEP0Handled(deadline); err != nil {
		return nil, err
	}
	if err := h.cpu.USB.SendSETUP(requestType, request, value, index, length); err != nil {
		return nil, err
	}
	if err := h.waitEP0Handled(deadline); err != nil {
		return nil, err
	}
	return h.readEP(0, int(length), ep0MaxPacket, deadline)
}

// ControlWrite performs a control transfer with an OUT data stage.
func (h *Host) ControlWrite(requestType, request byte, value, index uint16, data []byte, timeout float64) error {
	deadline := h.cpu.Now() + timeout
	if err := h.waitEP0Handled(deadline); err != nil {
		return err
	}
	if err := h.cpu.USB.SendSETUP(requestType, request, value, index, uint16(len(data))); err != nil {
		return err
	}
	if err := h.waitEP0Handled(deadline); err != nil {
		return err
	}
	if err := h.writeEP(0, data, ep0MaxPacket, deadline); err != nil {
		return err
	}
	// The transfer is only complete once the firmware consumed the
	// last OUT packet.
	return h.waitEP0Handled(deadline)
}

// ReadEP reads an IN transfer from an interrupt endpoint.
func (h *Host) ReadEP(endpoint, length, maxPacket int, timeout float64) ([]byte, error) {
	return h.readEP(endpoint, length, maxPacket, h.cpu.Now()+timeout)
}

// WriteEP writes an OUT transfer to an interrupt endpoint.
func (h *Host) WriteEP(endpoint int, data []byte, maxPacket int, timeout float64) error {
	return h.writeEP(endpoint, data, maxPacket, h.cpu.Now()+timeout)
}

func (h *Host) readEP(endpoint, length, maxPacket int, deadline float64) ([]byte, error) {
	var result []byte
	for {
		if err := h.waitAckOrStall(endpoint, deadline); err != nil {
			return nil, err
		}
		chunk, err := h.cpu.USB.Recv(endpoint)
		if err != nil {
			return nil, err
		}
		result = append(result, chunk...)
		if len(result) >= length || len(chunk) < maxPacket {
			return result, nil
		}
	}
}

func (h *Host) writeEP(endpoint int, data []byte, maxPacket int, deadline float64) error {
	for len(data) > 0 {
		if err := h.waitAckOrStall(endpoint, deadline); err != nil {
			return err
		}
		chunk := data
		if len(chunk) > maxPacket {
			chunk = chunk[:maxPacket]
		}
		if err := h.cpu.USB.Send(endpoint, chunk); err != nil {
			return err
		}
		data = data[len(chunk):]
	}
	return nil
}

// Standard device requests.

// GetDescriptor reads a descriptor of the given type and index.
func (h *Host) GetDescriptor(descriptorType byte, length uint16, index byte, language uint16, timeout float64) ([]byte, error) {
	return h.ControlRead(0x80, 6, uint16(descriptorType)<<8|uint16(index), language, length, timeout)
}

// SetAddress assigns the device address.
func (h *Host) SetAddress(address byte) error {
	return h.ControlWrite(0x00, 5, uint16(address), 0, nil, DefaultTimeout)
}

// GetConfiguration returns the active configuration value.
func (h *Host) GetConfiguration() (byte, error) {
	data, err := h.ControlRead(0x80, 8, 0, 0, 1, DefaultTimeout)
	if err != nil {
		return 0, err
	}
	if len(data) != 1 {
		return 0, fmt.Errorf("short configuration response: %d bytes", len(data))
	}
	return data[0], nil
}

// SetConfiguration selects a device configuration.
func (h *Host) SetConfiguration(configuration byte) error {
	return h.ControlWrite(0x00, 9, uint16(configuration), 0, nil, DefaultTimeout)
}

// GetInterface returns the active alternate setting of an interface.
func (h *Host) GetInterface(iface uint16) (byte, error) {
	data, err := h.ControlRead(0x81, 10, 0, iface, 1, DefaultTimeout)
	if err != nil {
		return 0, err
	}
	if len(data) != 1 {
		return 0, fmt.Errorf("short interface response: %d bytes", len(data))
	}
	return data[0], nil
}

// SetInterface selects an alternate setting of an interface.
func (h *Host) SetInterface(iface, altSetting uint16) error {
	return h.ControlWrite(0x01, 11, altSetting, iface, nil, DefaultTimeout)
}

// GetStatus reads the 16-bit status word of a recipient.
func (h *Host) GetStatus(recipient byte, index uint16) (uint16, error) {
	data, err := h.ControlRead(0x80|recipient, 0, 0, index, 2, DefaultTimeout)
	if err != nil {
		return 0, err
	}
	if len(data) != 2 {
		return 0, fmt.Errorf("short status response: %d bytes", len(data))
	}
	return binary.LittleEndian.Uint16(data), nil
}

// ClearFeature clears a feature on a recipient.
func (h *Host) ClearFeature(recipient byte, feature, index uint16) error {
	return h.ControlWrite(recipient, 1, feature, index, nil, DefaultTimeout)
}

// SetFeature sets a feature on a recipient.
func (h *Host) SetFeature(recipient byte, feature, index uint16) error {
	return h.ControlWrite(recipient, 3, feature, index, nil, DefaultTimeout)
}

// HID class requests.

// GetHIDReport reads a report from a HID interface.
func (h *Host) GetHIDReport(reportType, reportID byte, iface, length uint16, timeout float64) ([]byte, error) {
	return h.ControlRead(0xa1, 1, uint16(reportType)<<8|uint16(reportID), iface, length, timeout)
}

// SetHIDReport writes a report to a HID interface.
func (h *Host) SetHIDReport(reportType, reportID byte, iface uint16, data []byte) error {
	return h.ControlWrite(0x21, 9, uint16(reportType)<<8|uint16(reportID), iface, data, DefaultTimeout)
}

// GetHIDIdle returns the idle duration of a report, in 4ms units.
func (h *Host) GetHIDIdle(reportID byte, iface uint16) (byte, error) {
	data, err := h.ControlRead(0xa1, 2, uint16(reportID), iface, 1, DefaultTimeout)
	if err != nil {
		return 0, err
	}
	if len(data) != 1 {
		return 0, fmt.Errorf("short idle response: %d bytes", len(data))
	}
	return data[0], nil
}

// SetHIDIdle sets the idle duration of a report, in 4ms units.
func (h *Host) SetHIDIdle(reportID, duration byte, iface uint16) error {
	return h.ControlWrite(0x21, 10, uint16(duration)<<8|uint16(reportID), iface, nil, DefaultTimeout)
}

// GetHIDProtocol returns the active HID protocol of an interface.
func (h *Host) GetHIDProtocol(iface uint16) (byte, error) {
	data, err := h.ControlRead(0xa1, 3, 0, iface, 1, DefaultTimeout)
	if err != nil {
		return 0, err
	}
	if len(data) != 1 {
		return 0, fmt.Errorf("short protocol response: %d bytes", len(data))
	}
	return data[0], nil
}

// SetHIDProtocol selects the boot or report protocol of an interface.
func (h *Host) SetHIDProtocol(iface, protocol uint16) error {
	return h.ControlWrite(0x21, 11, protocol, iface, nil, DefaultTimeout)
}
