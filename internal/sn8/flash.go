package sn8

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/retroenv/retrogolib/log"
)

// imageBytes is the byte size of a plain flash image.
const imageBytes = FlashWords * 2

// vendorHeaderBytes is the size of the header some vendor tooling
// prepends to flash images.
const vendorHeaderBytes = 0x100

// LoadImage reads a flash image: little-endian 16 bit words, either
// plain or prefixed with the fixed-size vendor header.
func LoadImage(reader io.Reader) ([]uint16, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading flash image: %w", err)
	}

	switch len(data) {
	case imageBytes:
	case imageBytes + vendorHeaderBytes:
		data = data[vendorHeaderBytes:]
	default:
		return nil, fmt.Errorf("unexpected flash image size %d, want %d or %d",
			len(data), imageBytes, imageBytes+vendorHeaderBytes)
	}

	image := make([]uint16, FlashWords)
	for i := range image {
		image[i] = binary.LittleEndian.Uint16(data[i*2:])
	}
	return image, nil
}

// LoadImageFile reads a flash image from a file.
func LoadImageFile(name string) ([]uint16, error) {
	file, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("opening flash image: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()
	return LoadImage(file)
}

// Flash program/erase engine, driven through the PECMD register.
const (
	pecmdProgram = 0x5a
	pecmdErase   = 0xc3

	erasePageWords = 0x80

	programDurationMS = 2  // 1~2ms to write a page
	eraseDurationMS   = 50 // 25~50ms to erase a page
)

// securityPageStart is the first word of the protected top page. It can
// only be reprogrammed while the security code option is unset.
const securityPageStart = 0x2f80

func (c *CPU) writeProgramEraseCommand(value byte) error {
	if value != pecmdProgram && value != pecmdErase {
		c.logger.Warn("non-standard PECMD write", log.Hex("value", value))
		return nil
	}
	baseAddress := uint16(c.ram[regPEROMH])<<8 | uint16(c.ram[regPEROML])
	if baseAddress >= securityPageStart && baseAddress < FlashWords &&
		c.flash[codeOptionAddress]&0x0002 == 0 {
		c.logger.Warn("firmware attempted to reprogram protected page with security set, ignored")
		return nil
	}

	if value == pecmdProgram {
		ramBase := uint16(c.ram[regPERAMCNT]&0x03)<<8 | uint16(c.ram[regPERAML])
		wordCount := uint16(c.ram[regPERAMCNT]>>3) + 1
		ramCount := wordCount * 2
		if registerPage(ramBase) || registerPage(ramBase+ramCount) {
			return fmt.Errorf("firmware is trying to write register area to flash")
		}
		for index := uint16(0); index < wordCount; index++ {
			low, err := c.Read(ramBase + index*2)
			if err != nil {
				return err
			}
			high, err := c.Read(ramBase + index*2 + 1)
			if err != nil {
				return err
			}
			c.flash[baseAddress+index] = uint16(high)<<8 | uint16(low)
		}
		c.runTime += programDurationMS
		return nil
	}

	baseAddress &^= erasePageWords - 1
	for address := baseAddress; address < baseAddress+erasePageWords; address++ {
		c.flash[address] = 0xffff
	}
	c.runTime += eraseDurationMS
	return nil
}
