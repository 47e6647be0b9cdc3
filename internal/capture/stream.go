package capture

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	pumpChunkSize  = 4096
	tapBufferDepth = 256
	pumpStopWait   = 2 * time.Second
)

var (
	// ErrStreamStopped is returned when tapping a stream that was stopped.
	ErrStreamStopped = errors.New("stream stopped")
	// ErrNoAudio is returned when tapping a stream without audio tracks.
	ErrNoAudio = errors.New("stream has no audio tracks")
)

// Stream is a live capture handle. Audio arrives as PCM in Format and is
// fanned out to every reader returned by Tap; video tracks are logical only.
type Stream struct {
	id       string
	kind     Kind
	sourceID string
	label    string
	format   Format

	mu       sync.Mutex
	tracks   []*Track
	pcm      io.ReadCloser
	taps     map[*tap]struct{}
	pumping  bool
	drained  bool
	stopped  bool
	stoppers []func() error
	spliced  []*Stream
	notify   func(*Stream, *Track, string)
	pumpDone chan struct{}
	dropped  atomic.Uint64
}

// NewStream wraps a PCM source. When pcm is non-nil and no audio track is
// supplied, one audio track is created for it.
func NewStream(kind Kind, sourceID, label string, format Format, pcm io.ReadCloser, tracks ...*Track) *Stream {
	s := &Stream{
		id:       uuid.NewString(),
		kind:     kind,
		sourceID: sourceID,
		label:    label,
		format:   format,
		pcm:      pcm,
		taps:     make(map[*tap]struct{}),
		pumpDone: make(chan struct{}),
	}
	s.tracks = append(s.tracks, tracks...)
	if pcm != nil && len(s.AudioTracks()) == 0 {
		s.tracks = append(s.tracks, NewTrack(s.id+"/audio", TrackAudio, label))
	}
	return s
}

func (s *Stream) ID() string       { return s.id }
func (s *Stream) Kind() Kind       { return s.kind }
func (s *Stream) SourceID() string { return s.sourceID }
func (s *Stream) Label() string    { return s.label }
func (s *Stream) Format() Format   { return s.format }

// Dropped returns how many chunks were discarded for slow readers.
func (s *Stream) Dropped() uint64 { return s.dropped.Load() }

// Tracks returns a snapshot of all tracks.
func (s *Stream) Tracks() []*Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Track(nil), s.tracks...)
}

// AudioTracks returns the audio tracks.
func (s *Stream) AudioTracks() []*Track { return s.tracksOf(TrackAudio) }

// VideoTracks returns the video tracks.
func (s *Stream) VideoTracks() []*Track { return s.tracksOf(TrackVideo) }

func (s *Stream) tracksOf(kind TrackKind) []*Track {
	var out []*Track
	for _, t := range s.Tracks() {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}

// HasAudio reports whether the stream carries at least one audio track.
func (s *Stream) HasAudio() bool { return len(s.AudioTracks()) > 0 }

// Live reports whether any audio track is still live.
func (s *Stream) Live() bool {
	for _, t := range s.AudioTracks() {
		if t.Live() {
			return true
		}
	}
	return false
}

// OnStop registers cleanup run when the stream is stopped.
func (s *Stream) OnStop(fn func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stoppers = append(s.stoppers, fn)
}

func (s *Stream) setNotifier(fn func(*Stream, *Track, string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notify = fn
}

// Tap returns a reader receiving the stream's PCM from now on. The first tap
// starts the pump. Readers hit io.EOF when the source ends.
func (s *Stream) Tap() (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, ErrStreamStopped
	}
	if s.pcm == nil {
		return nil, ErrNoAudio
	}
	t := &tap{stream: s, ch: make(chan []byte, tapBufferDepth), closed: make(chan struct{})}
	if s.drained {
		close(t.ch)
		return t, nil
	}
	s.taps[t] = struct{}{}
	if !s.pumping {
		s.pumping = true
		go s.pump(s.pcm)
	}
	return t, nil
}

// Splice moves other's audio onto s. It is used to attach system audio to a
// screen stream that has none. Stopping s also stops other.
func (s *Stream) Splice(other *Stream) error {
	if other == nil || other == s {
		return errors.New("splice: invalid stream")
	}
	other.mu.Lock()
	pcm := other.pcm
	tracks := other.tracks
	other.mu.Unlock()
	if pcm == nil {
		return fmt.Errorf("splice: %w", ErrNoAudio)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStreamStopped
	}
	if s.pcm != nil {
		return errors.New("splice: stream already carries audio")
	}
	other.mu.Lock()
	other.pcm = nil
	other.mu.Unlock()
	s.pcm = pcm
	for _, t := range tracks {
		if t.Kind == TrackAudio {
			s.tracks = append(s.tracks, t)
		}
	}
	s.spliced = append(s.spliced, other)
	return nil
}

// EndAudio marks every audio track ended and reports the loss to the
// notifier. It does not stop the stream.
func (s *Stream) EndAudio(reason string) {
	s.mu.Lock()
	notify := s.notify
	stopped := s.stopped
	s.mu.Unlock()
	for _, t := range s.AudioTracks() {
		if t.end(reason) && !stopped && notify != nil {
			notify(s, t, reason)
		}
	}
}

// Stop releases the stream. It is safe to call more than once.
func (s *Stream) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	pcm := s.pcm
	pumping := s.pumping
	stoppers := append([]func() error(nil), s.stoppers...)
	spliced := append([]*Stream(nil), s.spliced...)
	tracks := append([]*Track(nil), s.tracks...)
	s.mu.Unlock()

	for _, t := range tracks {
		t.end("stopped")
	}
	var errs []error
	if pcm != nil {
		if err := pcm.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, fn := range stoppers {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, other := range spliced {
		if err := other.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if pumping {
		select {
		case <-s.pumpDone:
		case <-time.After(pumpStopWait):
		}
	}
	return errors.Join(errs...)
}

func (s *Stream) pump(src io.Reader) {
	defer close(s.pumpDone)
	for {
		buf := make([]byte, pumpChunkSize)
		n, err := src.Read(buf)
		if n > 0 {
			s.broadcast(buf[:n])
		}
		if err != nil {
			s.finish(err)
			return
		}
	}
}

func (s *Stream) broadcast(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for t := range s.taps {
		select {
		case t.ch <- chunk:
		default:
			s.dropped.Add(1)
		}
	}
}

func (s *Stream) finish(err error) {
	s.mu.Lock()
	s.drained = true
	for t := range s.taps {
		close(t.ch)
		delete(s.taps, t)
	}
	stopped := s.stopped
	notify := s.notify
	tracks := append([]*Track(nil), s.tracks...)
	s.mu.Unlock()

	reason := "source ended"
	if err != nil && !errors.Is(err, io.EOF) && !stopped {
		reason = err.Error()
	}
	for _, t := range tracks {
		if t.Kind != TrackAudio {
			continue
		}
		if t.end(reason) && !stopped && notify != nil {
			notify(s, t, reason)
		}
	}
}

type tap struct {
	stream    *Stream
	ch        chan []byte
	pending   []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func (t *tap) Read(p []byte) (int, error) {
	if len(t.pending) == 0 {
		select {
		case chunk, ok := <-t.ch:
			if !ok {
				return 0, io.EOF
			}
			t.pending = chunk
		case <-t.closed:
			return 0, io.ErrClosedPipe
		}
	}
	n := copy(p, t.pending)
	t.pending = t.pending[n:]
	return n, nil
}

func (t *tap) Close() error {
	t.closeOnce.Do(func() {
		t.stream.mu.Lock()
		delete(t.stream.taps, t)
		t.stream.mu.Unlock()
		close(t.closed)
	})
	return nil
}
