package capture

import (
	"errors"
	"fmt"

	"autorec/internal/services"
)

// ErrorKind classifies acquisition failures.
type ErrorKind int

const (
	PermissionDenied ErrorKind = iota + 1
	DeviceNotFound
	Unsupported
	UserCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case PermissionDenied:
		return "permission_denied"
	case DeviceNotFound:
		return "device_not_found"
	case Unsupported:
		return "unsupported"
	case UserCancelled:
		return "user_cancelled"
	default:
		return "unknown"
	}
}

// ErrCancelled is returned by a Prompter when the user dismisses a prompt.
var ErrCancelled = errors.New("cancelled by user")

// AcquisitionError is returned when a stream cannot be acquired.
type AcquisitionError struct {
	Kind   ErrorKind
	Source Kind
	Detail string
	Err    error
}

func (e *AcquisitionError) Error() string {
	msg := fmt.Sprintf("acquire %s: %s", e.Source, e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// Is maps acquisition failures onto the shared service markers.
func (e *AcquisitionError) Is(target error) bool {
	switch target {
	case services.ErrConfiguration:
		return e.Kind == PermissionDenied || e.Kind == Unsupported
	case services.ErrNotFound:
		return e.Kind == DeviceNotFound
	case services.ErrExternalTool:
		return e.Kind == Unsupported
	}
	return false
}

// Remediation returns operator guidance for the failure.
func (e *AcquisitionError) Remediation() string {
	switch e.Kind {
	case PermissionDenied:
		if e.Source == Microphone {
			return "Access to the microphone was denied. Allow microphone access for the terminal (or add your user to the audio group) and try again."
		}
		return "Access to screen or system audio capture was denied. Grant screen recording permission in the system privacy settings, then restart autorec."
	case DeviceNotFound:
		if e.Source == Microphone {
			return "No microphone was found. Check that it is connected and set capture.microphone_device if it is not the default input."
		}
		return "The selected screen or window is no longer available. Run 'autorec sources' to list current sources."
	case Unsupported:
		return "This capture type is not supported on this system. Run 'autorec doctor' to check ffmpeg and its input devices."
	case UserCancelled:
		return "Recording was cancelled."
	default:
		return "Recording failed; check the logs for details."
	}
}

// IsKind reports whether err is an AcquisitionError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var acqErr *AcquisitionError
	return errors.As(err, &acqErr) && acqErr.Kind == kind
}

func newAcquisitionError(kind ErrorKind, source Kind, detail string, err error) *AcquisitionError {
	return &AcquisitionError{Kind: kind, Source: source, Detail: detail, Err: err}
}
