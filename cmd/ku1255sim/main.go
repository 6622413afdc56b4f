// Package main implements a KU1255 keyboard simulator: it boots a
// firmware image on the simulated board and drives it through the USB
// enumeration sequence, the TrackPoint and a full key matrix sweep.
package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"unicode/utf16"

	"github.com/davecgh/go-spew/spew"

	"github.com/vpelletier/dissn8/internal/cli"
	"github.com/vpelletier/dissn8/internal/config"
	"github.com/vpelletier/dissn8/internal/ku1255"
	"github.com/vpelletier/dissn8/internal/sn8"
	"github.com/vpelletier/dissn8/internal/usbhost"
)

var (
	version = "0.1.0"
	commit  = ""
	date    = ""
)

// Report sizes from the HID report descriptors, padding included.
const (
	keyboardReportLength = 17
	mouseReportLength    = 5

	interruptMaxPacket = 63
)

type optionFlags struct {
	input string
	debug bool
	dump  bool
	quiet bool
}

func main() {
	tool, options := readArguments()

	if !options.quiet {
		tool.PrintBanner(version, commit, date)
	}

	if err := simulate(options); err != nil {
		fmt.Println(fmt.Errorf("simulation failed: %w", err))
		os.Exit(1)
	}
}

func readArguments() (*cli.Tool, optionFlags) {
	tool := cli.New("ku1255sim", "KU1255 keyboard simulator", "<firmware image>")
	options := optionFlags{}

	tool.Flags.BoolVar(&options.debug, "debug", false, "enable debugging options for extended logging")
	tool.Flags.BoolVar(&options.dump, "dump", false, "dump the simulation state when the scenario fails")
	tool.Flags.BoolVar(&options.quiet, "q", false, "perform operations quietly")

	args, err := tool.Parse(os.Args[1:], 1)
	if err != nil {
		tool.PrintBanner(version, commit, date)
		var usageErr *cli.UsageError
		if errors.As(err, &usageErr) {
			usageErr.ShowUsage()
		} else {
			fmt.Println(err)
		}
		os.Exit(1)
	}
	options.input = args[0]

	return tool, options
}

func simulate(options optionFlags) error {
	logger := config.CreateLogger(options.debug, options.quiet)

	image, err := sn8.LoadImageFile(options.input)
	if err != nil {
		return err
	}
	board, err := ku1255.New(logger, image)
	if err != nil {
		return fmt.Errorf("initializing board: %w", err)
	}

	if err := runScenario(board); err != nil {
		if options.dump {
			spew.Dump(board.CPU.Snapshot())
		}
		return err
	}
	return nil
}

// runScenario follows the enumeration sequence a Linux host performs,
// then exercises the TrackPoint and every key of the matrix.
func runScenario(board *ku1255.Board) error {
	// Firmware must have enabled the USB function by 200ms.
	if err := board.WaitUSBEnabled(200); err != nil {
		return fmt.Errorf("device did not show up on the bus: %w", err)
	}
	if err := board.CPU.USB.SetBusReset(true); err != nil {
		return err
	}
	if err := board.Run(10); err != nil {
		return err
	}
	if err := board.CPU.USB.SetBusReset(false); err != nil {
		return err
	}
	if err := board.Run(100); err != nil {
		return err
	}

	if err := enumerate(board); err != nil {
		return err
	}
	if err := exerciseRequests(board); err != nil {
		return err
	}
	if err := exerciseMouse(board); err != nil {
		return err
	}
	return sweepMatrix(board)
}

func enumerate(board *ku1255.Board) error {
	host := board.Host

	deviceDescriptor, err := host.GetDescriptor(1, 8, 0, 0, usbhost.DefaultTimeout)
	if err != nil {
		return fmt.Errorf("reading device descriptor head: %w", err)
	}
	if err := board.Run(1); err != nil {
		return err
	}
	fmt.Printf("pre-address device desc: % x\n", deviceDescriptor)

	if err := host.SetAddress(1); err != nil {
		return fmt.Errorf("setting address: %w", err)
	}
	if err := board.Run(1); err != nil {
		return err
	}
	fmt.Println("address set")

	deviceDescriptor, err = host.GetDescriptor(1, uint16(deviceDescriptor[0]), 0, 0, usbhost.DefaultTimeout)
	if err != nil {
		return fmt.Errorf("reading device descriptor: %w", err)
	}
	if err := board.Run(1); err != nil {
		return err
	}
	fmt.Printf("full device desc: % x\n", deviceDescriptor)

	// A high-speed qualifier request on a full-speed device may stall.
	for attempt := 0; attempt < 3; attempt++ {
		qualifier, err := host.GetDescriptor(6, 0x0a, 0, 0, usbhost.DefaultTimeout)
		runErr := board.Run(1)
		if errors.Is(err, sn8.ErrEndpointStall) {
			if runErr != nil {
				return runErr
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("reading device qualifier: %w", err)
		}
		fmt.Printf("device qualifier: % x\n", qualifier)
		if runErr != nil {
			return runErr
		}
		break
	}

	configHead, err := host.GetDescriptor(2, 9, 0, 0, usbhost.DefaultTimeout)
	if err != nil {
		return fmt.Errorf("reading configuration descriptor head: %w", err)
	}
	if err := board.Run(1); err != nil {
		return err
	}
	fmt.Printf("config desc head: % x\n", configHead)
	totalLength := binary.LittleEndian.Uint16(configHead[2:4])
	fmt.Println("len", totalLength)

	configDescriptor, err := host.GetDescriptor(2, totalLength, 0, 0, usbhost.DefaultTimeout)
	if err != nil {
		return fmt.Errorf("reading configuration descriptor: %w", err)
	}
	if err := board.Run(1); err != nil {
		return err
	}
	fmt.Printf("config desc: % x\n", configDescriptor)

	languages, err := host.GetDescriptor(3, 255, 0, 0, usbhost.DefaultTimeout)
	if err != nil {
		return fmt.Errorf("reading language descriptor: %w", err)
	}
	if err := board.Run(1); err != nil {
		return err
	}
	language := binary.LittleEndian.Uint16(languages[2:4])

	for _, index := range []byte{2, 1} {
		descriptor, err := host.GetDescriptor(3, 255, index, language, 10)
		if err != nil {
			return fmt.Errorf("reading string descriptor %d: %w", index, err)
		}
		if err := board.Run(1); err != nil {
			return err
		}
		fmt.Printf("string desc %d: %s\n", index, decodeUTF16(descriptor[2:]))
	}

	if err := host.SetConfiguration(1); err != nil {
		return fmt.Errorf("setting configuration: %w", err)
	}
	if err := board.Run(1); err != nil {
		return err
	}

	// HID setup of the keyboard interface.
	if err := host.SetHIDIdle(0, 0, 0); err != nil {
		return fmt.Errorf("setting idle on interface 0: %w", err)
	}
	if err := board.Run(1); err != nil {
		return err
	}
	hidDescriptor, err := host.GetDescriptor(0x22, 0x51, 0, 0, usbhost.DefaultTimeout)
	if err != nil {
		return fmt.Errorf("reading HID report descriptor 0: %w", err)
	}
	if err := board.Run(1); err != nil {
		return err
	}
	fmt.Printf("HID descr interface 0: % x\n", hidDescriptor)
	if err := host.SetHIDReport(2, 0, 0, []byte{0x00}); err != nil {
		return fmt.Errorf("clearing leds: %w", err)
	}
	if err := board.Run(1); err != nil {
		return err
	}
	if err := expectNAK(host.ReadEP(1, keyboardReportLength, interruptMaxPacket, usbhost.DefaultTimeout)); err != nil {
		return fmt.Errorf("endpoint 1 should have no report yet: %w", err)
	}
	if err := board.Run(1); err != nil {
		return err
	}

	// HID setup of the TrackPoint interface.
	if err := host.SetHIDIdle(0, 0, 1); err != nil {
		return fmt.Errorf("setting idle on interface 1: %w", err)
	}
	if err := board.Run(1); err != nil {
		return err
	}
	hidDescriptor, err = host.GetDescriptor(0x22, 0xd3, 0, 1, 15)
	if err != nil {
		return fmt.Errorf("reading HID report descriptor 1: %w", err)
	}
	if err := board.Run(1); err != nil {
		return err
	}
	fmt.Printf("HID descr interface 1: % x\n", hidDescriptor)
	if err := expectNAK(host.ReadEP(2, mouseReportLength, interruptMaxPacket, usbhost.DefaultTimeout)); err != nil {
		return fmt.Errorf("endpoint 2 should have no report yet: %w", err)
	}
	if err := board.Run(1); err != nil {
		return err
	}

	// Vendor feature reports the Linux driver sends at bind time.
	for _, data := range [][]byte{
		{0x13, 0x01, 0x03},
		{0x13, 0x05, 0x01},
		{0x13, 0x02, 0x05},
	} {
		if err := host.SetHIDReport(3, 0x13, 1, data); err != nil {
			return fmt.Errorf("sending feature report % x: %w", data, err)
		}
		if err := board.Run(1); err != nil {
			return err
		}
	}
	return nil
}

func exerciseRequests(board *ku1255.Board) error {
	host := board.Host

	configuration, err := host.GetConfiguration()
	if err != nil {
		return fmt.Errorf("reading active configuration: %w", err)
	}
	if err := board.Run(1); err != nil {
		return err
	}
	fmt.Println("active configuration:", configuration)

	for _, iface := range []uint16{0, 1} {
		altSetting, err := host.GetInterface(iface)
		if err != nil {
			return fmt.Errorf("reading interface %d alt setting: %w", iface, err)
		}
		if err := board.Run(1); err != nil {
			return err
		}
		fmt.Printf("interface %d active alt setting: %d\n", iface, altSetting)
	}

	for _, iface := range []uint16{0, 1} {
		protocol, err := host.GetHIDProtocol(iface)
		if err != nil {
			return fmt.Errorf("reading interface %d HID protocol: %w", iface, err)
		}
		if err := board.Run(1); err != nil {
			return err
		}
		fmt.Printf("HID protocol interface %d: %d\n", iface, protocol)

		idle, err := host.GetHIDIdle(byte(iface), iface)
		if err != nil {
			return fmt.Errorf("reading interface %d HID idle: %w", iface, err)
		}
		if err := board.Run(1); err != nil {
			return err
		}
		fmt.Printf("HID idle interface %d report %d: %d (ms, 0=when needed)\n", iface, iface, int(idle)*4)
	}

	fmt.Println("saved fnLock state:", board.SavedFnLock())
	fmt.Println("saved mouse speed:", board.SavedMouseSpeed())
	return nil
}

func exerciseMouse(board *ku1255.Board) error {
	host := board.Host

	if err := board.WaitMouseInitialised(200); err != nil {
		return fmt.Errorf("trackpoint was not initialised: %w", err)
	}

	for _, state := range []struct {
		x, y int8
		left bool
	}{
		{1, -1, true},
		{0, 0, false},
	} {
		board.SetMouseState(state.x, state.y, state.left, false, false)
		report, err := host.ReadEP(2, mouseReportLength, interruptMaxPacket, usbhost.DefaultTimeout)
		if err != nil {
			return fmt.Errorf("reading trackpoint report: %w", err)
		}
		if err := board.Run(1); err != nil {
			return err
		}
		fmt.Printf("report    interface 1: % x\n", report)

		// One state change produces exactly one report.
		if err := expectNAK(host.ReadEP(2, mouseReportLength, interruptMaxPacket, usbhost.DefaultTimeout)); err != nil {
			return fmt.Errorf("endpoint 2 is not NAKing: %w", err)
		}
		if err := board.Run(1); err != nil {
			return err
		}
	}
	return nil
}

func sweepMatrix(board *ku1255.Board) error {
	for row := 0; row < 16; row++ {
		for column := 0; column < 8; column++ {
			name, err := pressAndName(board, row, column)
			if err != nil {
				return fmt.Errorf("key %d.%d: %w", row, column, err)
			}
			fmt.Printf("%14s ", name)
		}
		fmt.Println()
	}

	// Two keys held at once report modifier plus key.
	report, err := comboReport(board)
	if err != nil {
		return err
	}
	fmt.Printf("% x %s + %s\n", report,
		nameKey(modifierNames, report[0]), nameKey(keyNames, report[2]))
	return nil
}

// pressAndName presses one key, reads the resulting keyboard report and
// returns the reported key name. It releases the key and checks the
// release report is empty.
func pressAndName(board *ku1255.Board, row, column int) (string, error) {
	if err := board.PressKey(row, column); err != nil {
		return "", err
	}
	report, err := readKeyboardReport(board)
	if err != nil {
		return "", err
	}
	if report[1] != 0x00 {
		return "", fmt.Errorf("unexpected report % x", report)
	}
	for _, value := range report[3:] {
		if value != 0x00 {
			return "", fmt.Errorf("unexpected report % x", report)
		}
	}

	name := "(none)"
	if report[0] != 0 {
		if report[2] != 0 {
			return "", fmt.Errorf("modifier and key in one report % x", report)
		}
		name = nameKey(modifierNames, report[0])
	} else if report[2] != 0 {
		name = nameKey(keyNames, report[2])
	}

	if err := board.ReleaseKey(row, column); err != nil {
		return "", err
	}
	report, err = readKeyboardReport(board)
	if err != nil {
		return "", err
	}
	for _, value := range report {
		if value != 0x00 {
			return "", fmt.Errorf("release report not empty: % x", report)
		}
	}
	return name, nil
}

func comboReport(board *ku1255.Board) ([]byte, error) {
	if err := board.PressKey(13, 1); err != nil { // LCTRL
		return nil, err
	}
	if _, err := readKeyboardReport(board); err != nil {
		return nil, err
	}
	if err := board.PressKey(4, 5); err != nil { // C
		return nil, err
	}
	return readKeyboardReport(board)
}

func readKeyboardReport(board *ku1255.Board) ([]byte, error) {
	report, err := board.Host.ReadEP(1, keyboardReportLength, interruptMaxPacket, 500)
	if err != nil {
		return nil, fmt.Errorf("reading keyboard report: %w", err)
	}
	if err := board.Run(1); err != nil {
		return nil, err
	}
	return report, nil
}

// expectNAK turns a successful endpoint read into an error: the caller
// wants the endpoint to have nothing to say.
func expectNAK(data []byte, err error) error {
	if err == nil {
		return fmt.Errorf("got report % x instead of NAK", data)
	}
	if !errors.Is(err, sn8.ErrEndpointNAK) {
		return err
	}
	return nil
}

func nameKey(names map[byte]string, code byte) string {
	if name, ok := names[code]; ok {
		return name
	}
	return fmt.Sprintf("(%#02x)", code)
}

func decodeUTF16(data []byte) string {
	codes := make([]uint16, 0, len(data)/2)
	for i := 0; i+1 < len(data); i += 2 {
		codes = append(codes, binary.LittleEndian.Uint16(data[i:]))
	}
	return string(utf16.Decode(codes))
}
