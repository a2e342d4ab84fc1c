package canstream

import (
	"errors"
	"fmt"
	"os"

	"github.com/kstaniek/go-canstream/can"
	"github.com/kstaniek/go-canstream/internal/socketcan"
)

// Code is a stable machine-readable failure class. Every error surfaced by
// this package carries one, so callers can branch without string matching
// (the usual case is RECEIVE_TIMEOUT vs LISTENING_ERROR).
type Code string

const (
	CodeNotOpen             Code = "NOT_OPEN"
	CodeInvalidID           Code = "INVALID_ID"
	CodeInvalidDataLength   Code = "INVALID_DATA_LENGTH"
	CodeInvalidCombination  Code = "INVALID_COMBINATION"
	CodeInvalidFilter       Code = "INVALID_FILTER"
	CodeInvalidArgument     Code = "INVALID_ARGUMENT"
	CodeAlreadyListening    Code = "ALREADY_LISTENING"
	CodeReceiverBusy        Code = "RECEIVER_BUSY"
	CodeReceiveTimeout      Code = "RECEIVE_TIMEOUT"
	CodeListeningError      Code = "LISTENING_ERROR"
	CodeTxOverflow          Code = "TX_OVERFLOW"
	CodePlatformUnsupported Code = "PLATFORM_UNSUPPORTED"
	CodeNative              Code = "NATIVE_ERROR"
)

// Error is the uniform failure shape. Op names the operation that failed,
// Err the underlying cause (may be nil for pure precondition failures).
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("canstream: %s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("canstream: %s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Code, enabling errors.Is against the
// sentinels below regardless of Op or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is classification.
var (
	ErrNotOpen          = &Error{Code: CodeNotOpen}
	ErrAlreadyListening = &Error{Code: CodeAlreadyListening}
	ErrReceiverBusy     = &Error{Code: CodeReceiverBusy}
	ErrReceiveTimeout   = &Error{Code: CodeReceiveTimeout}
	ErrListening        = &Error{Code: CodeListeningError}
	ErrTxOverflow       = &Error{Code: CodeTxOverflow}
)

// CodeOf extracts the failure class, or "" for uncoded errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func opErr(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// validationErr maps the classification layer's sentinel errors onto codes.
func validationErr(op string, err error) *Error {
	switch {
	case errors.Is(err, can.ErrInvalidID):
		return opErr(CodeInvalidID, op, err)
	case errors.Is(err, can.ErrInvalidDataLength):
		return opErr(CodeInvalidDataLength, op, err)
	case errors.Is(err, can.ErrInvalidCombination):
		return opErr(CodeInvalidCombination, op, err)
	case errors.Is(err, can.ErrInvalidFilter):
		return opErr(CodeInvalidFilter, op, err)
	default:
		return opErr(CodeNative, op, err)
	}
}

// deviceErr maps backend failures onto codes. Timeouts are recognized across
// backends via os.ErrDeadlineExceeded.
func deviceErr(op string, err error) *Error {
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded):
		return opErr(CodeReceiveTimeout, op, err)
	case errors.Is(err, socketcan.ErrUnsupported):
		return opErr(CodePlatformUnsupported, op, err)
	default:
		return opErr(CodeNative, op, err)
	}
}

func isTimeout(err error) bool { return errors.Is(err, os.ErrDeadlineExceeded) }
