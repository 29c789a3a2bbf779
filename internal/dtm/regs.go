// Package dtm implements a debug transport module: a blocking debug API
// (halt, resume, register and memory access) built from RISC-V debug module
// abstract commands, carried over a DMI port that is ticked by the clock
// stepping loop.
package dtm

// Debug module register addresses, RISC-V debug 0.13.
const (
	RegData0        = 0x04
	RegDMControl    = 0x10
	RegDMStatus     = 0x11
	RegHartInfo     = 0x12
	RegAbstractCS   = 0x16
	RegCommand      = 0x17
	RegAbstractAuto = 0x18
	RegProgBuf0     = 0x20

	MaxDataCount   = 12
	MaxProgBufSize = 16
)

// dmcontrol fields.
const (
	DMControlHaltReq      = 1 << 31
	DMControlResumeReq    = 1 << 30
	DMControlHartReset    = 1 << 29
	DMControlAckHaveReset = 1 << 28
	DMControlHaSel        = 1 << 26
	DMControlNDMReset     = 1 << 1
	DMControlDMActive     = 1 << 0

	dmControlHartSelLoShift = 16
	dmControlHartSelLoMask  = 0x3FF << dmControlHartSelLoShift
)

// HartSel places a hart index in the hartsello field.
func HartSel(hart uint32) uint32 {
	return hart << dmControlHartSelLoShift & dmControlHartSelLoMask
}

// HartSelOf extracts the hartsello field.
func HartSelOf(dmcontrol uint32) uint32 {
	return dmcontrol & dmControlHartSelLoMask >> dmControlHartSelLoShift
}

// dmstatus fields.
const (
	DMStatusAllHaveReset  = 1 << 19
	DMStatusAnyHaveReset  = 1 << 18
	DMStatusAllResumeAck  = 1 << 17
	DMStatusAnyResumeAck  = 1 << 16
	DMStatusAllRunning    = 1 << 11
	DMStatusAnyRunning    = 1 << 10
	DMStatusAllHalted     = 1 << 9
	DMStatusAnyHalted     = 1 << 8
	DMStatusAuthenticated = 1 << 7
	DMStatusVersion013    = 2
)

// abstractcs fields.
const (
	AbstractCSBusy = 1 << 12

	abstractCSProgBufSizeShift = 24
	abstractCSCmdErrShift      = 8
	abstractCSCmdErrMask       = 7 << abstractCSCmdErrShift
	abstractCSDataCountMask    = 0xF

	// AbstractCSClearCmdErr clears cmderr, which is write-1-to-clear.
	AbstractCSClearCmdErr = abstractCSCmdErrMask
)

// AbstractCS builds an abstractcs value.
func AbstractCS(progBufSize, dataCount int, busy bool, cmdErr CmdErr) uint32 {
	v := uint32(progBufSize&0x1F)<<abstractCSProgBufSizeShift |
		uint32(cmdErr&7)<<abstractCSCmdErrShift |
		uint32(dataCount)&abstractCSDataCountMask
	if busy {
		v |= AbstractCSBusy
	}
	return v
}

// ProgBufSize returns the program buffer size field of abstractcs.
func ProgBufSize(abstractcs uint32) int {
	return int(abstractcs >> abstractCSProgBufSizeShift & 0x1F)
}

// DataCount returns the data register count field of abstractcs.
func DataCount(abstractcs uint32) int {
	return int(abstractcs & abstractCSDataCountMask)
}

// CmdErrOf returns the cmderr field of abstractcs.
func CmdErrOf(abstractcs uint32) CmdErr {
	return CmdErr(abstractcs & abstractCSCmdErrMask >> abstractCSCmdErrShift)
}

// abstractauto fields.
const (
	AbstractAutoExecData0 = 1 << 0
)

// Register numbers used with access-register commands.
const (
	RegNoGPR0 = 0x1000
	RegNoDCSR = 0x7B0
	RegNoDPC  = 0x7B1

	DCSRStep = 1 << 2

	GPRS0 = 8
	GPRS1 = 9
)

// RegNoGPR returns the abstract register number of general purpose register x<n>.
func RegNoGPR(n uint32) uint16 {
	return uint16(RegNoGPR0 + n)
}

// DMI operations and responses.
const (
	OpNop   = 0
	OpRead  = 1
	OpWrite = 2

	RespOK     = 0
	RespFailed = 2
	RespBusy   = 3
)
