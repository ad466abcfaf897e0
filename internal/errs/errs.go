// Package errs defines the engine's classifiable error surface. Every error
// returned across a component boundary carries a stable machine-readable
// Code plus a serializable Context map, per spec §4.K/§7 — callers branch on
// Code, never on Go type identity or string matching.
package errs

import (
	"fmt"
	"runtime"
	"strings"
)

// Code is a stable, externally-visible error classification. The set is
// closed and is part of the module's compatibility surface.
type Code string

const (
	InvalidInput        Code = "INVALID_INPUT"
	SchemaUnsupported   Code = "SCHEMA_UNSUPPORTED"
	ShardCorruption     Code = "SHARD_CORRUPTION"
	ShardIDOverflow     Code = "SHARD_ID_OVERFLOW"
	CASConflict         Code = "CAS_CONFLICT"
	CASExhausted        Code = "CAS_EXHAUSTED"
	RefNotFound         Code = "REF_NOT_FOUND"
	RefIO               Code = "REF_IO"
	TrustRecordInvalid  Code = "TRUST_RECORD_INVALID"
	TrustIDMismatch     Code = "TRUST_ID_MISMATCH"
	TrustGenesisPinned  Code = "TRUST_GENESIS_PINNED_MISMATCH"
	TrustPrevMismatch   Code = "TRUST_PREV_MISMATCH"
	TrustSigMissing     Code = "TRUST_SIGNATURE_MISSING"
	SyncUntrustedWriter Code = "SYNC_UNTRUSTED_WRITER"
	SyncMalformed       Code = "SYNC_MALFORMED"
	QueryStaleState     Code = "QUERY_STALE_STATE"
	Canceled            Code = "CANCELED"
	Internal            Code = "INTERNAL"
)

// Severity indicates how the caller should treat the error.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// Error is the engine's structured error type.
type Error struct {
	Code       Code
	Severity   Severity
	Message    string
	Cause      error
	Context    map[string]interface{}
	StackTrace string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// Is matches errors of the same Code, per errors.Is conventions.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithContext attaches a context key/value and returns e for chaining.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// IsFatal reports whether the error should stop the current operation
// outright rather than being retried or logged and continued past.
func (e *Error) IsFatal() bool {
	return e.Severity == SeverityCritical
}

// DetailedString renders the error with context and stack trace, for
// --json-less CLI diagnostics.
func (e *Error) DetailedString() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s\n", e.Code, e.Message))
	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf("caused by: %v\n", e.Cause))
	}
	if len(e.Context) > 0 {
		sb.WriteString("context:\n")
		for k, v := range e.Context {
			sb.WriteString(fmt.Sprintf("  %s: %v\n", k, v))
		}
	}
	if e.StackTrace != "" {
		sb.WriteString(fmt.Sprintf("stack:\n%s\n", e.StackTrace))
	}
	return sb.String()
}

func captureStackTrace(skip int) string {
	var sb strings.Builder
	for i := skip; i < skip+10; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			break
		}
		sb.WriteString(fmt.Sprintf("  %s:%d %s\n", file, line, fn.Name()))
	}
	return sb.String()
}

// New creates an Error with the given code, severity, and message.
func New(code Code, severity Severity, message string) *Error {
	return &Error{
		Code:       code,
		Severity:   severity,
		Message:    message,
		Context:    make(map[string]interface{}),
		StackTrace: captureStackTrace(2),
	}
}

// Newf is New with Printf-style formatting.
func Newf(code Code, severity Severity, format string, args ...interface{}) *Error {
	return New(code, severity, fmt.Sprintf(format, args...))
}

// Wrap attaches code/severity/message to an existing error as Cause.
func Wrap(err error, code Code, severity Severity, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:       code,
		Severity:   severity,
		Message:    message,
		Cause:      err,
		Context:    make(map[string]interface{}),
		StackTrace: captureStackTrace(2),
	}
}

// Wrapf is Wrap with Printf-style formatting.
func Wrapf(err error, code Code, severity Severity, format string, args ...interface{}) *Error {
	return Wrap(err, code, severity, fmt.Sprintf(format, args...))
}

// Convenience constructors for the codes that recur across components.

func InvalidInputf(format string, args ...interface{}) *Error {
	return Newf(InvalidInput, SeverityHigh, format, args...)
}

func CASConflictf(format string, args ...interface{}) *Error {
	return Newf(CASConflict, SeverityMedium, format, args...)
}

func CASExhaustedf(format string, args ...interface{}) *Error {
	return Newf(CASExhausted, SeverityHigh, format, args...)
}

func RefIOWrap(err error, format string, args ...interface{}) *Error {
	return Wrapf(err, RefIO, SeverityHigh, format, args...)
}

func InternalWrap(err error, format string, args ...interface{}) *Error {
	return Wrapf(err, Internal, SeverityCritical, format, args...)
}

// IsCode reports whether err is an *Error with the given code.
func IsCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	e, ok := err.(*Error)
	return ok && e.Code == code
}

// IsFatal reports whether err is a fatal *Error.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := err.(*Error); ok {
		return e.IsFatal()
	}
	return false
}
