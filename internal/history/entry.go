package history

import (
	"fmt"
	"time"
)

// MaxEntries bounds the number of retained history entries. The oldest
// insertions are evicted first.
const MaxEntries = 50

// Entry is one finished recording with its transcription results.
type Entry struct {
	ID                       string
	Date                     time.Time
	DurationMs               int64
	Transcription            string
	Summary                  string
	MicTranscription         string
	CounterpartTranscription string
	IsSeparateRecording      bool
	AudioPath                string
	ErrorMessage             string
}

// Duration returns the recorded length.
func (e Entry) Duration() time.Duration {
	return time.Duration(e.DurationMs) * time.Millisecond
}

// HasTranscription reports whether any transcript text is present.
func (e Entry) HasTranscription() bool {
	return e.Transcription != "" || e.MicTranscription != "" || e.CounterpartTranscription != ""
}

// FormatDuration renders a duration as mm:ss, growing the minutes field as needed.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
