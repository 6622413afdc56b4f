package sn8

// System register addresses. The full symbolic map including bit names
// lives in the chip definition file, these constants cover the registers
// the simulator core touches directly.
const (
	regR     = 0x82
	regZ     = 0x83
	regY     = 0x84
	regPFLAG = 0x86
	regRBANK = 0x87

	regTC0M = 0x88
	regTC0C = 0x89
	regTC0R = 0x8a
	regTC1M = 0x8b
	regTC1C = 0x8c
	regTC1R = 0x8d
	regTC2M = 0x8e
	regTC2C = 0x8f
	regTC2R = 0x90

	regUDA        = 0x91
	regUSTATUS    = 0x92
	regEP0OUTCnt  = 0x93
	regUE1RC      = 0x95
	regUE2RC      = 0x96
	regUE0R       = 0x97
	regUE1R       = 0x98
	regUE3RC      = 0x99
	regUE2R       = 0x9a
	regUE4RC      = 0x9b
	regUE3R       = 0x9c
	regEP2FIFO    = 0x9d
	regUE4R       = 0x9e
	regEP3FIFO    = 0x9f
	regEP4FIFO    = 0xa0
	regUDP0       = 0xa1
	regUDR0Read   = 0xa5
	regUDR0Write  = 0xa6
	regUPID       = 0xa7
	regUTOGGLE    = 0xa8
	regUEPINT     = 0xa9
	regUEPINTEN   = 0xaa
	regURRXD1     = 0xae
	regURRXD2     = 0xaf
	regADB        = 0xb5
	regADR        = 0xb7
	regP0M        = 0xb8
	regP4CON      = 0xb9
	regPECMD      = 0xba
	regPEROML     = 0xbb
	regPEROMH     = 0xbc
	regPERAML     = 0xbd
	regPERAMCNT   = 0xbe
	regP1M        = 0xc1
	regP2M        = 0xc2
	regP4M        = 0xc4
	regP5M        = 0xc5
	regINTRQ1     = 0xc6
	regINTRQ2     = 0xc7
	regINTEN1     = 0xc8
	regINTEN2     = 0xc9
	regOSCM       = 0xca
	regWDTR       = 0xcc
	regPCL        = 0xce
	regPCH        = 0xcf
	regP0         = 0xd0
	regP1         = 0xd1
	regP2         = 0xd2
	regP4         = 0xd4
	regP5         = 0xd5
	regT0M        = 0xd8
	regT0C        = 0xd9
	regT1M        = 0xda
	regT1CL       = 0xdb
	regT1CH       = 0xdc
	regSTKP       = 0xdf
	regP0UR       = 0xe0
	regP1UR       = 0xe1
	regP2UR       = 0xe2
	regP4UR       = 0xe4
	regP5UR       = 0xe5
	regAtYZ       = 0xe7
	regMSPSTAT    = 0xea
	regMSPM1      = 0xeb
	regMSPM2      = 0xec
	regSTK7L      = 0xf0
	regSTK7H      = 0xf1
	regSTK0L      = 0xfe
	regSTK0H      = 0xff
)

// PFLAG bits.
const (
	flagZ   = 0x01
	flagDC  = 0x02
	flagC   = 0x04
	flagNPD = 0x40
	flagNT0 = 0x80
)

// INTRQ1/INTEN1 bits.
const (
	intT0  = 0x01
	intT1  = 0x02
	intTC0 = 0x04
	intTC1 = 0x08
	intTC2 = 0x10
	intUSB = 0x20
	intMSP = 0x40
	intADC = 0x80
)

// INTRQ2/INTEN2 bits.
const (
	intUTRX = 0x01
	intUTTX = 0x02
)

// Reset sources, stored in the PFLAG high bits on reset.
const (
	ResetSourceWatchdog   = 0x00
	ResetSourceLowVoltage = 0x80
	ResetSourcePin        = 0xc0
)
