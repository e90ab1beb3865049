package pipeline

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline failures.
type Kind int

// Failure kinds.
const (
	// KindDeviceUnavailable means a device node could not be opened.
	KindDeviceUnavailable Kind = iota + 1
	// KindDriverMismatch means the capture driver is not the expected one.
	KindDriverMismatch
	// KindDriverRejected means a driver refused a control operation.
	KindDriverRejected
	// KindGeometryMismatch means stages disagree on slot count, geometry or layout.
	KindGeometryMismatch
)

// Sentinels for errors.Is matching against a Kind.
var (
	ErrDeviceUnavailable = errors.New("device unavailable")
	ErrDriverMismatch    = errors.New("driver mismatch")
	ErrDriverRejected    = errors.New("driver rejected")
	ErrGeometryMismatch  = errors.New("geometry mismatch")

	// ErrNotStreaming is returned by Tick outside the Streaming state.
	ErrNotStreaming = errors.New("pipeline not streaming")
	// ErrInvalidState is returned for lifecycle calls made in the wrong state.
	ErrInvalidState = errors.New("invalid pipeline state")
)

func (k Kind) String() string {
	switch k {
	case KindDeviceUnavailable:
		return "device_unavailable"
	case KindDriverMismatch:
		return "driver_mismatch"
	case KindDriverRejected:
		return "driver_rejected"
	case KindGeometryMismatch:
		return "geometry_mismatch"
	default:
		return "unknown"
	}
}

// Fatal reports whether a failure of this kind aborts setup.
// DriverMismatch and DriverRejected degrade the pipeline instead.
func (k Kind) Fatal() bool {
	return k == KindDeviceUnavailable || k == KindGeometryMismatch
}

func (k Kind) sentinel() error {
	switch k {
	case KindDeviceUnavailable:
		return ErrDeviceUnavailable
	case KindDriverMismatch:
		return ErrDriverMismatch
	case KindDriverRejected:
		return ErrDriverRejected
	case KindGeometryMismatch:
		return ErrGeometryMismatch
	default:
		return nil
	}
}

// Error is a classified failure of one operation on one stage.
type Error struct {
	Kind  Kind
	Stage string
	Op    string
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %s", e.Stage, e.Op, e.Kind)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Stage, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the Kind sentinels.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// Fatal reports whether the error aborts setup.
func (e *Error) Fatal() bool { return e.Kind.Fatal() }

func newError(kind Kind, stage, op string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Op: op, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}

// IsFatal reports whether err carries a fatal Kind.
func IsFatal(err error) bool {
	return KindOf(err).Fatal()
}
