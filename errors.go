package serial

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Failure classes. Every error returned by Session carries exactly one of them.
var (
	ErrPortUnavailable     = errors.New("serial port unavailable")
	ErrConfigurationFailed = errors.New("serial port configuration failed")
	ErrIOFailure           = errors.New("serial read failed")
	ErrSignalRegistration  = errors.New("interrupt handler registration failed")
)

// Reasons, for more specific errors.Is checks.
var (
	ErrDeviceNotFound   = errors.New("serial device not found")
	ErrPermissionDenied = errors.New("permission denied accessing serial device")
	ErrDeviceInUse      = errors.New("serial device already in use")
	ErrInvalidBaudRate  = errors.New("invalid baud rate")
	ErrInvalidConfig    = errors.New("invalid serial configuration")
	ErrInvalidTimeouts  = errors.New("invalid read timeouts")
	ErrPortClosed       = errors.New("serial port is closed")
	ErrAlreadyReading   = errors.New("read loop already running")
	ErrHangup           = errors.New("serial device hung up")
)

// PortError describes a failed session operation. Kind is one of the failure
// classes above, Reason an optional finer cause and Err the underlying
// platform error, if any.
type PortError struct {
	Kind   error
	Op     string
	Path   string
	Reason error
	Err    error
}

func (e *PortError) Error() string {
	msg := e.Kind.Error()
	if e.Reason != nil {
		msg = e.Reason.Error()
	}
	if e.Op != "" {
		msg = e.Op + " " + e.Path + ": " + msg
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if code := e.Code(); code != 0 {
		msg = fmt.Sprintf("%s (%d)", msg, code)
	}
	return msg
}

func (e *PortError) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Reason != nil {
		errs = append(errs, e.Reason)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Code returns the platform error number behind the failure, or 0.
func (e *PortError) Code() int {
	var errno unix.Errno
	if errors.As(e.Err, &errno) {
		return int(errno)
	}
	return 0
}

// openReason classifies an errno returned while opening a device.
func openReason(err error) error {
	switch {
	case errors.Is(err, unix.ENOENT), errors.Is(err, unix.ENXIO), errors.Is(err, unix.ENODEV):
		return ErrDeviceNotFound
	case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
		return ErrPermissionDenied
	case errors.Is(err, unix.EBUSY), errors.Is(err, unix.EWOULDBLOCK):
		return ErrDeviceInUse
	default:
		return nil
	}
}

// ErrorCode extracts the platform error number from err, or returns 0.
func ErrorCode(err error) int {
	var pe *PortError
	if errors.As(err, &pe) {
		return pe.Code()
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		return int(errno)
	}
	return 0
}
