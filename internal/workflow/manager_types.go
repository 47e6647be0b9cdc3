package workflow

import (
	"context"
	"time"

	"autorec/internal/capture"
	"autorec/internal/mixer"
	"autorec/internal/recorder"
	"autorec/internal/transcription"
)

// CaptureSource acquires streams and publishes liveness events.
// *capture.Adapter satisfies it.
type CaptureSource interface {
	recorder.Acquirer
	Subscribe() (<-chan capture.LivenessEvent, func())
}

// Processor turns a finished recording into a history entry.
// *transcription.Pipeline satisfies it.
type Processor interface {
	Process(ctx context.Context, result *recorder.Result) (*transcription.Outcome, error)
}

// Trigger names what ended a session.
type Trigger string

const (
	TriggerUser       Trigger = "user"
	TriggerSourceLost Trigger = "source_lost"
	TriggerDeviceLost Trigger = "device_lost"
	TriggerShutdown   Trigger = "shutdown"
)

// StartOptions selects what the next session records. Zero values fall back
// to configuration.
type StartOptions struct {
	Mode     recorder.Mode
	Sources  recorder.Sources
	SourceID string
}

// Outcome describes how a session ended.
type Outcome struct {
	SessionID string
	Trigger   Trigger
	Duration  time.Duration
	TooShort  bool
	Result    *recorder.Result
	Pipeline  *transcription.Outcome
	Err       error
}

// Saved reports whether a history entry was written.
func (o *Outcome) Saved() bool {
	return o != nil && o.Pipeline != nil && o.Err == nil
}

// StatusSummary represents lightweight session diagnostics.
type StatusSummary struct {
	State          recorder.State
	SessionID      string
	Mode           recorder.Mode
	Elapsed        time.Duration
	Degraded       bool
	MicrophoneOnly bool
	Levels         map[mixer.Role]mixer.Level
	LastOutcome    *Outcome
}
