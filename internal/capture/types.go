package capture

import (
	"time"
)

// Kind identifies what a capture request acquires.
type Kind int

const (
	Microphone Kind = iota
	Screen
	SystemAudioSidecar
)

func (k Kind) String() string {
	switch k {
	case Microphone:
		return "microphone"
	case Screen:
		return "screen"
	case SystemAudioSidecar:
		return "system_audio_sidecar"
	default:
		return "unknown"
	}
}

// Format describes interleaved signed 16-bit little-endian PCM.
type Format struct {
	SampleRate int
	Channels   int
}

// DefaultFormat is the PCM layout every backend produces.
var DefaultFormat = Format{SampleRate: 44100, Channels: 2}

// BytesPerFrame returns the size of one sample across all channels.
func (f Format) BytesPerFrame() int {
	return 2 * f.Channels
}

// BytesPerSecond returns the PCM data rate.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.BytesPerFrame()
}

// Duration converts a byte count into playback time.
func (f Format) Duration(n int64) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

// Constraints are processing hints passed to the backend.
type Constraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	SampleRate       int
	Channels         int
}

// MicrophoneConstraints returns the constraints used for microphone capture.
func MicrophoneConstraints(echoCancellation, noiseSuppression bool) Constraints {
	return Constraints{
		EchoCancellation: echoCancellation,
		NoiseSuppression: noiseSuppression,
		SampleRate:       DefaultFormat.SampleRate,
		Channels:         DefaultFormat.Channels,
	}
}

// ScreenConstraints returns the constraints used for screen and system audio.
// Processing is always off so the counterpart's audio is captured untouched.
func ScreenConstraints() Constraints {
	return Constraints{
		SampleRate: DefaultFormat.SampleRate,
		Channels:   DefaultFormat.Channels,
	}
}

// Request asks the adapter for one stream. SourceID preselects a screen or
// window and skips the interactive picker.
type Request struct {
	Kind        Kind
	SourceID    string
	Constraints Constraints
}

// SourceKind distinguishes whole screens from application windows.
type SourceKind string

const (
	SourceScreen SourceKind = "screen"
	SourceWindow SourceKind = "window"
)

// Source is a shareable screen or window.
type Source struct {
	ID        string
	Name      string
	Kind      SourceKind
	Thumbnail []byte
}

// LivenessEvent reports that a track stopped delivering data without being
// stopped by its owner.
type LivenessEvent struct {
	StreamID  string
	TrackID   string
	Kind      Kind
	TrackKind TrackKind
	Reason    string
	At        time.Time
}
