package cosim

// Cycle counts whole target clock cycles since the end of reset.
type Cycle uint64

// BadCycle marks an error or event not tied to a particular cycle.
const BadCycle Cycle = ^Cycle(0)

// General Library Return and Error Codes

// Err represents library error return type
type Err uint32

const (
	OK                     Err = 0
	ErrFail                Err = 1
	ErrNotInit             Err = 2
	ErrInvalidParamVal     Err = 3
	ErrFileError           Err = 4
	ErrAttachTooMany       Err = 5
	ErrAttachCompNotFound  Err = 6
	ErrMalformedHeader     Err = 7
	ErrSequenceMismatch    Err = 8
	ErrUnsupportedCmd      Err = 9
	ErrUnsupportedDataSize Err = 10
	ErrInvalidCore         Err = 11
	ErrTargetTimeout       Err = 12
	ErrTransportTimeout    Err = 13
	ErrCmdBusy             Err = 14
	ErrCmdNotSupported     Err = 15
	ErrCmdException        Err = 16
	ErrCmdHaltResume       Err = 17
	ErrCmdBus              Err = 18
	ErrCmdOther            Err = 19
	ErrDMIFailed           Err = 20
	ErrDMIBusy             Err = 21
	ErrUnaligned           Err = 22
	ErrClosed              Err = 23
	ErrMemAccOverlap       Err = 24
	ErrMemAccRangeInvalid  Err = 25
	ErrMemNacc             Err = 26
	ErrConfigParse         Err = 27
	ErrScript              Err = 28
	ErrLast                Err = 29
)

// IsProtocolFault reports whether the code is fatal to an HTIF session. The
// wire protocol has no resynchronisation so none of these can be recovered.
func IsProtocolFault(e Err) bool {
	switch e {
	case ErrMalformedHeader, ErrSequenceMismatch, ErrUnsupportedCmd,
		ErrUnsupportedDataSize, ErrInvalidCore, ErrTargetTimeout:
		return true
	}
	return false
}

// IsDebugCommandError reports whether the code was raised by the target's
// debug module rather than by the transport.
func IsDebugCommandError(e Err) bool {
	return e >= ErrCmdBusy && e <= ErrCmdOther
}

// ErrSeverity used to indicate the severity of an error or logger verbosity
type ErrSeverity uint32

const (
	ErrSevNone  ErrSeverity = 0
	ErrSevError ErrSeverity = 1
	ErrSevWarn  ErrSeverity = 2
	ErrSevInfo  ErrSeverity = 3
)

// Component name prefixes

const (
	CmpnamePrefixBridge = "HTIF"
	CmpnamePrefixDTM    = "DTM"
	CmpnamePrefixTarget = "TGT"
	CmpnamePrefixHarns  = "HRNS"
	CmpnamePrefixScript = "LUA"
)
