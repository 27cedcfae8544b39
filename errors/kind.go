package errors

import (
	"fmt"
)

// Kind classifies a failure of a relayed request.
type Kind int

const (
	KindUnknown Kind = iota
	// KindSpawn means the agent process could not be started.
	KindSpawn
	// KindProtocol is a failure reported by the agent through an ERROR: frame.
	KindProtocol
	// KindAbnormalExit means the agent exited before writing a terminal frame.
	KindAbnormalExit
	// KindCleanup is a failure to release a temporary resource. Never returned to callers.
	KindCleanup
	// KindParse means structured output from the agent could not be decoded.
	KindParse
	// KindCancelled means the request was cancelled before it finished.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindSpawn:
		return "spawn"
	case KindProtocol:
		return "protocol"
	case KindAbnormalExit:
		return "abnormal_exit"
	case KindCleanup:
		return "cleanup"
	case KindParse:
		return "parse"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrSpawn        = &Error{Kind: KindSpawn}
	ErrProtocol     = &Error{Kind: KindProtocol}
	ErrAbnormalExit = &Error{Kind: KindAbnormalExit}
	ErrCleanup      = &Error{Kind: KindCleanup}
	ErrParse        = &Error{Kind: KindParse}
	ErrCancelled    = &Error{Kind: KindCancelled}
)

// Error is a classified request failure. Message is human readable and is what
// Error() returns, so agent-reported messages reach the caller verbatim.
type Error struct {
	Kind    Kind
	Message string
	// Code is the process exit code for KindAbnormalExit, -1 when killed by a signal.
	Code int
	// Signal is set when the process was terminated by a signal.
	Signal string
	// Where is the file:line that created the error.
	Where string
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message != "" {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels: a target *Error without a message matches on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Message == "" && t.Err == nil {
		return t.Kind == e.Kind
	}
	return t == e
}

// KindOf returns the kind of the first *Error in err's tree.
func KindOf(err error) Kind {
	var e *Error
	if As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Spawn reports that the process could not be started.
func Spawn(err error, format string, a ...interface{}) *Error {
	return &Error{Kind: KindSpawn, Message: fmt.Sprintf(format, a...), Err: err, Where: caller(2)}
}

// Protocol carries a message reported by the agent in an ERROR: frame.
func Protocol(message string) *Error {
	return &Error{Kind: KindProtocol, Message: message, Where: caller(2)}
}

// AbnormalExit reports a process exit observed before any terminal frame.
func AbnormalExit(code int, signal string) *Error {
	msg := fmt.Sprintf("process exited with code %d", code)
	if signal != "" {
		msg = fmt.Sprintf("process terminated by %s", signal)
	}
	return &Error{Kind: KindAbnormalExit, Message: msg, Code: code, Signal: signal, Where: caller(2)}
}

// Cleanup reports a failure to remove a temporary resource.
func Cleanup(err error, format string, a ...interface{}) *Error {
	return &Error{Kind: KindCleanup, Message: fmt.Sprintf(format, a...), Err: err, Where: caller(2)}
}

// Parse reports malformed structured output.
func Parse(err error, format string, a ...interface{}) *Error {
	return &Error{Kind: KindParse, Message: fmt.Sprintf(format, a...), Err: err, Where: caller(2)}
}

// Cancelled reports a cancelled request. cause may be nil.
func Cancelled(cause error) *Error {
	return &Error{Kind: KindCancelled, Message: "request cancelled", Err: cause, Where: caller(2)}
}
