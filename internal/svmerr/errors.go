// Package svmerr defines the error taxonomy shared by the solver, the device layer
// and the backends.
package svmerr

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
)

// Kind classifies an Error.
type Kind int

const (
	KindDevicePtr Kind = iota + 1
	KindUnsupportedKernelType
	KindUnsupportedBackend
	KindBackend
	KindInvalidParameter
	KindInvalidData
	KindModelFormat
)

func (k Kind) String() string {
	switch k {
	case KindDevicePtr:
		return "device_ptr"
	case KindUnsupportedKernelType:
		return "unsupported_kernel_type"
	case KindUnsupportedBackend:
		return "unsupported_backend"
	case KindBackend:
		return "backend"
	case KindInvalidParameter:
		return "invalid_parameter"
	case KindInvalidData:
		return "invalid_data"
	case KindModelFormat:
		return "model_format"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. Only the Kind is compared.
var (
	ErrDevicePtr             = &Error{Kind: KindDevicePtr}
	ErrUnsupportedKernelType = &Error{Kind: KindUnsupportedKernelType}
	ErrUnsupportedBackend    = &Error{Kind: KindUnsupportedBackend}
	ErrBackend               = &Error{Kind: KindBackend}
	ErrInvalidParameter      = &Error{Kind: KindInvalidParameter}
	ErrInvalidData           = &Error{Kind: KindInvalidData}
	ErrModelFormat           = &Error{Kind: KindModelFormat}
)

// Error is a classified error carrying the operation that failed and the source
// location where it was raised.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Loc  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates an Error of kind k raised by op. The caller's file:line is recorded.
func New(k Kind, op, format string, args ...any) *Error {
	return &Error{Kind: k, Op: op, Msg: fmt.Sprintf(format, args...), Loc: caller(2)}
}

// Wrap classifies err as kind k. A nil err yields nil.
func Wrap(k Kind, op string, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: k, Op: op, Msg: fmt.Sprintf(format, args...), Loc: caller(2), Err: err}
}

func DevicePtr(op, format string, args ...any) *Error {
	return &Error{Kind: KindDevicePtr, Op: op, Msg: fmt.Sprintf(format, args...), Loc: caller(2)}
}

func UnsupportedKernelType(op, format string, args ...any) *Error {
	return &Error{Kind: KindUnsupportedKernelType, Op: op, Msg: fmt.Sprintf(format, args...), Loc: caller(2)}
}

func UnsupportedBackend(format string, args ...any) *Error {
	return &Error{Kind: KindUnsupportedBackend, Msg: fmt.Sprintf(format, args...), Loc: caller(2)}
}

func InvalidParameter(op, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidParameter, Op: op, Msg: fmt.Sprintf(format, args...), Loc: caller(2)}
}

func InvalidData(op, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidData, Op: op, Msg: fmt.Sprintf(format, args...), Loc: caller(2)}
}

func ModelFormat(op, format string, args ...any) *Error {
	return &Error{Kind: KindModelFormat, Op: op, Msg: fmt.Sprintf(format, args...), Loc: caller(2)}
}

// Backend wraps a native driver/runtime error. code is the raw status value
// returned by the failing call.
func Backend(backend, call string, code int, detail string) *Error {
	msg := fmt.Sprintf("%s error %d", backend, code)
	if detail != "" {
		msg += " (" + detail + ")"
	}
	return &Error{Kind: KindBackend, Op: call, Msg: msg, Loc: caller(2)}
}

// Location returns the file:line recorded for the first *Error in err's chain.
func Location(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Loc
	}
	return ""
}

func caller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}
