package dtm

import (
	"fmt"

	"cosim/internal/common"
	"cosim/internal/cosim"
)

// CmdType is the cmdtype field of an abstract command.
type CmdType uint8

const (
	CmdAccessRegister CmdType = 0
	CmdQuickAccess    CmdType = 1
	CmdAccessMemory   CmdType = 2
)

func (t CmdType) String() string {
	switch t {
	case CmdAccessRegister:
		return "access-register"
	case CmdQuickAccess:
		return "quick-access"
	case CmdAccessMemory:
		return "access-memory"
	}
	return fmt.Sprintf("cmdtype-%d", uint8(t))
}

// Command is an abstract command before encoding. Size is the access width
// in bits. For memory access the address travels in the data registers.
type Command struct {
	Type          CmdType
	Size          int
	RegNo         uint16
	Transfer      bool
	Write         bool
	PostExec      bool
	PostIncrement bool
}

const (
	cmdTypeShift      = 24
	cmdSizeShift      = 20
	cmdPostIncrement  = 1 << 19
	cmdPostExec       = 1 << 18
	cmdTransfer       = 1 << 17
	cmdWrite          = 1 << 16
	cmdRegNoMask      = 0xFFFF
	cmdSizeFieldMask  = 7
	cmdTypeFieldWidth = 0xFF
)

func sizeField(bits int) uint32 {
	switch bits {
	case 8:
		return 0
	case 16:
		return 1
	case 64:
		return 3
	case 128:
		return 4
	}
	return 2
}

func sizeBits(field uint32) int {
	switch field {
	case 0:
		return 8
	case 1:
		return 16
	case 3:
		return 64
	case 4:
		return 128
	}
	return 32
}

// Encode returns the 32-bit command register value.
func (c Command) Encode() uint32 {
	w := uint32(c.Type) << cmdTypeShift
	if c.Type == CmdQuickAccess {
		return w
	}
	w |= sizeField(c.Size) << cmdSizeShift
	if c.PostIncrement {
		w |= cmdPostIncrement
	}
	if c.Write {
		w |= cmdWrite
	}
	if c.Type == CmdAccessRegister {
		if c.PostExec {
			w |= cmdPostExec
		}
		if c.Transfer {
			w |= cmdTransfer
		}
		w |= uint32(c.RegNo)
	}
	return w
}

// DecodeCommand unpacks a command register value.
func DecodeCommand(w uint32) Command {
	c := Command{Type: CmdType(w >> cmdTypeShift & cmdTypeFieldWidth)}
	if c.Type == CmdQuickAccess {
		return c
	}
	c.Size = sizeBits(w >> cmdSizeShift & cmdSizeFieldMask)
	c.PostIncrement = w&cmdPostIncrement != 0
	c.Write = w&cmdWrite != 0
	if c.Type == CmdAccessRegister {
		c.PostExec = w&cmdPostExec != 0
		c.Transfer = w&cmdTransfer != 0
		c.RegNo = uint16(w & cmdRegNoMask)
	}
	return c
}

// writesData reports whether the data registers are inputs to the command.
func (c Command) writesData() bool {
	return c.Type == CmdAccessMemory || (c.Transfer && c.Write)
}

// readsData reports whether the data registers hold a result afterwards.
func (c Command) readsData() bool {
	return !c.Write && (c.Transfer || c.Type == CmdAccessMemory)
}

func (c Command) String() string {
	if c.Type == CmdAccessMemory {
		return fmt.Sprintf("%s size=%d write=%v postinc=%v", c.Type, c.Size, c.Write, c.PostIncrement)
	}
	return fmt.Sprintf("%s regno=0x%x size=%d transfer=%v write=%v postexec=%v",
		c.Type, c.RegNo, c.Size, c.Transfer, c.Write, c.PostExec)
}

// CmdErr is the cmderr field of abstractcs.
type CmdErr uint8

const (
	CmdErrNone         CmdErr = 0
	CmdErrBusy         CmdErr = 1
	CmdErrNotSupported CmdErr = 2
	CmdErrException    CmdErr = 3
	CmdErrHaltResume   CmdErr = 4
	CmdErrBus          CmdErr = 5
	CmdErrOther        CmdErr = 7
)

func (e CmdErr) String() string {
	switch e {
	case CmdErrNone:
		return "none"
	case CmdErrBusy:
		return "busy"
	case CmdErrNotSupported:
		return "not supported"
	case CmdErrException:
		return "exception"
	case CmdErrHaltResume:
		return "halt/resume"
	case CmdErrBus:
		return "bus"
	}
	return "other"
}

// Code maps cmderr onto the library error codes.
func (e CmdErr) Code() cosim.Err {
	switch e {
	case CmdErrNone:
		return cosim.OK
	case CmdErrBusy:
		return cosim.ErrCmdBusy
	case CmdErrNotSupported:
		return cosim.ErrCmdNotSupported
	case CmdErrException:
		return cosim.ErrCmdException
	case CmdErrHaltResume:
		return cosim.ErrCmdHaltResume
	case CmdErrBus:
		return cosim.ErrCmdBus
	}
	return cosim.ErrCmdOther
}

func commandError(cmd Command, e CmdErr) *common.Error {
	return common.NewErrorf(e.Code(), "abstract command %s failed: cmderr %d (%s)", cmd, uint8(e), e)
}
