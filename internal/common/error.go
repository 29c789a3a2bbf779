package common

import (
	"errors"
	"fmt"
	"strings"

	"cosim/internal/cosim"
)

// Error represents the library error object.
type Error struct {
	Code    cosim.Err
	Sev     cosim.ErrSeverity
	Cycle   cosim.Cycle
	Message string
}

func NewError(sev cosim.ErrSeverity, code cosim.Err) *Error {
	return &Error{
		Code:  code,
		Sev:   sev,
		Cycle: cosim.BadCycle,
	}
}

func NewErrorMsg(sev cosim.ErrSeverity, code cosim.Err, msg string) *Error {
	return &Error{
		Code:    code,
		Sev:     sev,
		Cycle:   cosim.BadCycle,
		Message: msg,
	}
}

func NewErrorf(code cosim.Err, format string, args ...any) *Error {
	return NewErrorMsg(cosim.ErrSevError, code, fmt.Sprintf(format, args...))
}

func NewErrorWithCycleMsg(sev cosim.ErrSeverity, code cosim.Err, cycle cosim.Cycle, msg string) *Error {
	return &Error{
		Code:    code,
		Sev:     sev,
		Cycle:   cycle,
		Message: msg,
	}
}

// Error implements the standard error interface.
func (e *Error) Error() string {
	var sb strings.Builder

	switch e.Sev {
	case cosim.ErrSevNone:
		return "LIBRARY INTERNAL ERROR: Invalid Error Object"
	case cosim.ErrSevError:
		sb.WriteString("ERROR:")
	case cosim.ErrSevWarn:
		sb.WriteString("WARN :")
	case cosim.ErrSevInfo:
		sb.WriteString("INFO :")
	default:
		return "LIBRARY INTERNAL ERROR: Invalid Error Object"
	}

	sb.WriteString(fmt.Sprintf("0x%04x ", e.Code))

	if desc, ok := ErrorCodeDesc[e.Code]; ok {
		sb.WriteString(fmt.Sprintf("(%s) [%s]; ", desc.Name, desc.Msg))
	} else {
		sb.WriteString("(unknown); ")
	}

	if e.Cycle != cosim.BadCycle {
		sb.WriteString(fmt.Sprintf("Cycle=%d; ", e.Cycle))
	}

	sb.WriteString(e.Message)
	return sb.String()
}

// Is matches another *Error with the same code, so sentinel values built with
// NewError can be used with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Fatal reports whether the error terminates an HTIF session.
func (e *Error) Fatal() bool {
	return cosim.IsProtocolFault(e.Code)
}

// CodeOf returns the library code carried by err, cosim.OK for nil and
// cosim.ErrFail for errors from outside the library.
func CodeOf(err error) cosim.Err {
	if err == nil {
		return cosim.OK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return cosim.ErrFail
}

// ErrDesc names and describes an error code.
type ErrDesc struct {
	Name string
	Msg  string
}

// ErrorCodeDesc is the table of error code names and descriptions.
var ErrorCodeDesc = map[cosim.Err]ErrDesc{
	cosim.OK:                     {"COSIM_OK", "No Error."},
	cosim.ErrFail:                {"COSIM_ERR_FAIL", "General failure."},
	cosim.ErrNotInit:             {"COSIM_ERR_NOT_INIT", "Component not initialised."},
	cosim.ErrInvalidParamVal:     {"COSIM_ERR_INVALID_PARAM_VAL", "Invalid value parameter passed to component."},
	cosim.ErrFileError:           {"COSIM_ERR_FILE_ERROR", "File access error"},
	cosim.ErrAttachTooMany:       {"COSIM_ERR_ATTACH_TOO_MANY", "Cannot attach - attach device limit reached."},
	cosim.ErrAttachCompNotFound:  {"COSIM_ERR_ATTACH_COMP_NOT_FOUND", "Cannot detach - component not found."},
	cosim.ErrMalformedHeader:     {"COSIM_ERR_MALFORMED_HEADER", "Packet header malformed or payload truncated."},
	cosim.ErrSequenceMismatch:    {"COSIM_ERR_SEQUENCE_MISMATCH", "Packet sequence number does not match the expected value."},
	cosim.ErrUnsupportedCmd:      {"COSIM_ERR_UNSUPPORTED_CMD", "Packet command not supported by the bridge."},
	cosim.ErrUnsupportedDataSize: {"COSIM_ERR_UNSUPPORTED_DATA_SIZE", "Packet data size must be exactly one word."},
	cosim.ErrInvalidCore:         {"COSIM_ERR_INVALID_CORE", "Control register access names a core that does not exist."},
	cosim.ErrTargetTimeout:       {"COSIM_ERR_TARGET_TIMEOUT", "Target did not answer a bridge request within the wait bound."},
	cosim.ErrTransportTimeout:    {"COSIM_ERR_TRANSPORT_TIMEOUT", "Abstract command still busy after the idle cycle bound."},
	cosim.ErrCmdBusy:             {"COSIM_ERR_CMD_BUSY", "Debug module busy when command was written."},
	cosim.ErrCmdNotSupported:     {"COSIM_ERR_CMD_NOT_SUPPORTED", "Abstract command not supported by the debug module."},
	cosim.ErrCmdException:        {"COSIM_ERR_CMD_EXCEPTION", "Exception while executing the abstract command."},
	cosim.ErrCmdHaltResume:       {"COSIM_ERR_CMD_HALT_RESUME", "Abstract command needs the hart halted or running."},
	cosim.ErrCmdBus:              {"COSIM_ERR_CMD_BUS", "Bus error during abstract memory access."},
	cosim.ErrCmdOther:            {"COSIM_ERR_CMD_OTHER", "Abstract command failed for an unspecified reason."},
	cosim.ErrDMIFailed:           {"COSIM_ERR_DMI_FAILED", "Debug module interface reported a failed access."},
	cosim.ErrDMIBusy:             {"COSIM_ERR_DMI_BUSY", "Debug module interface reported busy."},
	cosim.ErrUnaligned:           {"COSIM_ERR_UNALIGNED", "Memory access not aligned to the transport granularity."},
	cosim.ErrClosed:              {"COSIM_ERR_CLOSED", "Session closed while a request was pending."},
	cosim.ErrMemAccOverlap:       {"COSIM_ERR_MEM_ACC_OVERLAP", "Attempted to set an overlapping range in memory access map."},
	cosim.ErrMemAccRangeInvalid:  {"COSIM_ERR_MEM_ACC_RANGE_INVALID", "Address range in accessor set to invalid values."},
	cosim.ErrMemNacc:             {"COSIM_ERR_MEM_NACC", "Unable to access required memory address."},
	cosim.ErrConfigParse:         {"COSIM_ERR_CONFIG_PARSE", "Session configuration parse error."},
	cosim.ErrScript:              {"COSIM_ERR_SCRIPT", "Debug script failed."},
	cosim.ErrLast:                {"COSIM_ERR_LAST", "No error - error code end marker"},
}
