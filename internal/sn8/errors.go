package sn8

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the CPU and the USB controller.
var (
	// ErrHalted is returned by Step while the CPU is in sleep mode.
	ErrHalted = errors.New("cpu halted")

	// ErrEndpointStall signals a stalled USB endpoint.
	ErrEndpointStall = errors.New("endpoint stalled")

	// ErrEndpointNAK signals a USB endpoint with no data or no room.
	ErrEndpointNAK = errors.New("endpoint naked")
)

// BreakpointError is returned by Step when the program counter hits an
// address in the breakpoint set, before executing the instruction.
type BreakpointError struct {
	PC uint16
}

func (e BreakpointError) Error() string {
	return fmt.Sprintf("breakpoint hit at %#06x", e.PC)
}

// UninitializedReadError is returned when firmware reads a memory cell
// that has not been written since reset.
type UninitializedReadError struct {
	Address uint16
}

func (e UninitializedReadError) Error() string {
	return fmt.Sprintf("reading uninitialized memory at %#06x", e.Address)
}

// MissingMemoryError is returned when firmware reads an address that is
// not backed by any memory cell or register.
type MissingMemoryError struct {
	Address uint16
}

func (e MissingMemoryError) Error() string {
	return fmt.Sprintf("no memory at %#06x", e.Address)
}

// FlashRangeError is returned when instruction fetch or MOVC reaches an
// address beyond the end of flash.
type FlashRangeError struct {
	Address uint16
}

func (e FlashRangeError) Error() string {
	return fmt.Sprintf("no flash at %#06x", e.Address)
}

// MetastablePinError is returned when an input pin voltage lands between
// the logic level thresholds.
type MetastablePinError struct {
	Pin     int
	Voltage float64
}

func (e MetastablePinError) Error() string {
	return fmt.Sprintf("pin %d is metastable: %.3fV", e.Pin, e.Voltage)
}
