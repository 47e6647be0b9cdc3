package capture

import (
	"sync"
	"sync/atomic"
)

// TrackKind is audio or video.
type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// Track is one logical media track of a Stream. Its liveness may flip to
// ended asynchronously, e.g. when the device disappears.
type Track struct {
	ID    string
	Kind  TrackKind
	Label string

	live   atomic.Bool
	once   sync.Once
	done   chan struct{}
	mu     sync.Mutex
	reason string
}

// NewTrack returns a live track.
func NewTrack(id string, kind TrackKind, label string) *Track {
	t := &Track{ID: id, Kind: kind, Label: label, done: make(chan struct{})}
	t.live.Store(true)
	return t
}

// Live reports whether the track still delivers data.
func (t *Track) Live() bool { return t.live.Load() }

// Done is closed once the track ends.
func (t *Track) Done() <-chan struct{} { return t.done }

// Reason returns why the track ended.
func (t *Track) Reason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}

// end marks the track non-live. It reports true only for the call that ended it.
func (t *Track) end(reason string) bool {
	ended := false
	t.once.Do(func() {
		t.mu.Lock()
		t.reason = reason
		t.mu.Unlock()
		t.live.Store(false)
		close(t.done)
		ended = true
	})
	return ended
}
