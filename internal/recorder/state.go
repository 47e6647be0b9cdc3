package recorder

import (
	"errors"
	"fmt"
	"time"

	"autorec/internal/services"
)

// State is the session lifecycle state.
type State int

const (
	Idle State = iota
	Recording
	Paused
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

// Mode selects how sources are recorded.
type Mode string

const (
	// ModeSingle produces one artifact, mixed when both sources are used.
	ModeSingle Mode = "single"
	// ModeSeparate records the microphone and the counterpart independently.
	ModeSeparate Mode = "separate"
)

// Sources selects which inputs a session acquires.
type Sources string

const (
	SourcesBoth       Sources = "both"
	SourcesMicrophone Sources = "microphone"
	SourcesScreen     Sources = "screen"
)

// Role identifies what an artifact contains.
type Role string

const (
	RoleCombined    Role = "combined"
	RoleMicrophone  Role = "microphone"
	RoleCounterpart Role = "counterpart"
)

var (
	// ErrAlreadyRecording is returned by Start unless the session is idle.
	ErrAlreadyRecording = errors.New("a recording is already in progress")
	// ErrInvalidTransition is returned for pause, resume and drop requests
	// made from the wrong state.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrTooShort is matched by ArtifactTooSmallError.
	ErrTooShort = errors.New("recording too short")
)

// StateError reports a lifecycle call made from the wrong state. It is never
// retried.
type StateError struct {
	Op   string
	From State
	Err  error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("recorder: cannot %s while %s: %v", e.Op, e.From, e.Err)
}

func (e *StateError) Unwrap() error { return e.Err }

// Is lets callers match the validation marker.
func (e *StateError) Is(target error) bool { return target == services.ErrValidation }

// ArtifactTooSmallError is returned by Stop for sessions under the minimum
// duration. No artifacts are produced.
type ArtifactTooSmallError struct {
	Duration time.Duration
	Minimum  time.Duration
}

func (e *ArtifactTooSmallError) Error() string {
	return fmt.Sprintf("recording too short: %s recorded, at least %s required",
		e.Duration.Round(100*time.Millisecond), e.Minimum)
}

// Is matches ErrTooShort.
func (e *ArtifactTooSmallError) Is(target error) bool { return target == ErrTooShort }
