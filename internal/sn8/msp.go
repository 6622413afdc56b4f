package sn8

import "errors"

// errNotImplemented surfaces accesses to peripheral features no firmware
// under simulation has needed so far.
var errNotImplemented = errors.New("not implemented")

// MainSeriesPort is the MSP peripheral, an I2C port under another name.
// Only the status register is modeled.
type MainSeriesPort struct {
	line   irqLine
	status byte
}

func newMainSeriesPort(line irqLine) *MainSeriesPort {
	m := &MainSeriesPort{line: line}
	m.Reset()
	return m
}

// Reset clears the status register.
func (m *MainSeriesPort) Reset() {
	m.status = 0x00
}

// Status returns the MSPSTAT byte.
func (m *MainSeriesPort) Status() byte {
	return m.status
}

func (m *MainSeriesPort) readStatus() (byte, error) {
	return m.status, nil
}

func (m *MainSeriesPort) writeStatus(value byte) error {
	m.status = (m.status & 0xbf) | (value & 0x40)
	return nil
}

func (m *MainSeriesPort) readMode1() (byte, error) {
	return 0, errNotImplemented
}

func (m *MainSeriesPort) writeMode1(byte) error {
	return errNotImplemented
}

func (m *MainSeriesPort) readMode2() (byte, error) {
	return 0, errNotImplemented
}

func (m *MainSeriesPort) writeMode2(byte) error {
	return errNotImplemented
}

// UART is the universal asynchronous receiver/transmitter. Only its
// register presence is modeled.
type UART struct {
	rxLine irqLine
	txLine irqLine
}

func newUART(rxLine, txLine irqLine) *UART {
	return &UART{rxLine: rxLine, txLine: txLine}
}

// Reset is a no-op, the UART holds no modeled state.
func (u *UART) Reset() {}

func (u *UART) readRXD1() (byte, error) {
	return 0, errNotImplemented
}

func (u *UART) readRXD2() (byte, error) {
	return 0, errNotImplemented
}

// ADC is the analog to digital converter. Only its register presence is
// modeled.
type ADC struct {
	line irqLine
}

func newADC(line irqLine) *ADC {
	return &ADC{line: line}
}

// Reset is a no-op, the ADC holds no modeled state.
func (a *ADC) Reset() {}

func (a *ADC) readADB() (byte, error) {
	return 0, errNotImplemented
}

func (a *ADC) readADR() (byte, error) {
	return 0, errNotImplemented
}

func (a *ADC) writeADR(byte) error {
	return errNotImplemented
}
