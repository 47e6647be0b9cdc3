package recorder

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"autorec/internal/capture"
	"autorec/internal/logging"
	"autorec/internal/mixer"
)

// SubState is the state of one sub-recorder.
type SubState string

const (
	SubActive  SubState = "active"
	SubPaused  SubState = "paused"
	SubStopped SubState = "stopped"
)

const (
	readBufferSize = 8192
	readerStopWait = 2 * time.Second
)

// SubRecorder copies one PCM source into a ChunkBuffer, emitting a chunk every
// interval. Data read while paused is discarded.
type SubRecorder struct {
	role     Role
	source   io.Reader
	closer   io.Closer
	buffer   *ChunkBuffer
	format   capture.Format
	interval time.Duration
	latch    *Latch
	logger   *slog.Logger

	paused  atomic.Bool
	stopped atomic.Bool
	peak    atomic.Uint64

	mu      sync.Mutex
	pending []byte
	err     error

	stop       chan struct{}
	stopOnce   sync.Once
	readerDone chan struct{}
	done       chan struct{}
}

func newSubRecorder(role Role, source io.Reader, closer io.Closer, buffer *ChunkBuffer, format capture.Format, interval time.Duration, latch *Latch, logger *slog.Logger) *SubRecorder {
	return &SubRecorder{
		role:       role,
		source:     source,
		closer:     closer,
		buffer:     buffer,
		format:     format,
		interval:   interval,
		latch:      latch,
		logger:     logger.With(logging.String(logging.FieldRole, string(role))),
		stop:       make(chan struct{}),
		readerDone: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (r *SubRecorder) start() {
	go r.read()
	go r.run()
}

// Role returns the artifact role this sub-recorder produces.
func (r *SubRecorder) Role() Role { return r.role }

// State reports whether the sub-recorder is active, paused or stopped.
func (r *SubRecorder) State() SubState {
	switch {
	case r.stopped.Load():
		return SubStopped
	case r.paused.Load():
		return SubPaused
	default:
		return SubActive
	}
}

// Buffer returns the chunk buffer.
func (r *SubRecorder) Buffer() *ChunkBuffer { return r.buffer }

// Err returns the first spool error, if any.
func (r *SubRecorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Done is closed once the sub-recorder has finalized its buffer.
func (r *SubRecorder) Done() <-chan struct{} { return r.done }

func (r *SubRecorder) setPaused(p bool) { r.paused.Store(p) }

// Stop asks the sub-recorder to flush and finish. Completion is reported
// through the session latch.
func (r *SubRecorder) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *SubRecorder) level() mixer.Level {
	return mixer.LevelFromPeak(math.Float64frombits(r.peak.Swap(0)))
}

func (r *SubRecorder) read() {
	defer close(r.readerDone)
	buf := make([]byte, readBufferSize)
	for {
		n, err := r.source.Read(buf)
		if n > 0 && !r.paused.Load() {
			r.record(buf[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) && !r.stopRequested() {
				r.logger.Debug("sub-recorder source ended", logging.Error(err))
			}
			return
		}
	}
}

func (r *SubRecorder) record(chunk []byte) {
	r.mu.Lock()
	r.pending = append(r.pending, chunk...)
	r.mu.Unlock()
	peak := mixer.LevelOf(chunk).Peak
	for {
		cur := r.peak.Load()
		if peak <= math.Float64frombits(cur) || r.peak.CompareAndSwap(cur, math.Float64bits(peak)) {
			return
		}
	}
}

func (r *SubRecorder) stopRequested() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

func (r *SubRecorder) run() {
	defer close(r.done)
	defer r.latch.CountDown()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.flush()
		case <-r.stop:
			r.finish()
			return
		}
	}
}

func (r *SubRecorder) finish() {
	if r.closer != nil {
		if err := r.closer.Close(); err != nil {
			r.logger.Debug("close sub-recorder source", logging.Error(err))
		}
	}
	select {
	case <-r.readerDone:
	case <-time.After(readerStopWait):
		r.logger.Warn("sub-recorder source did not close in time")
	}
	r.flush()
	if err := r.buffer.Close(); err != nil {
		r.setErr(err)
	}
	r.stopped.Store(true)
	r.logger.Debug("sub-recorder finished",
		logging.Int("chunks", r.buffer.Chunks()),
		logging.Int64("bytes", r.buffer.Len()),
	)
}

// flush emits pending audio as one chunk; only whole frames are emitted
// before the final flush.
func (r *SubRecorder) flush() {
	r.mu.Lock()
	chunk := r.pending
	if frame := r.format.BytesPerFrame(); frame > 0 && !r.stopRequested() {
		whole := len(chunk) - len(chunk)%frame
		r.pending = append([]byte(nil), chunk[whole:]...)
		chunk = chunk[:whole]
	} else {
		r.pending = nil
	}
	r.mu.Unlock()
	if err := r.buffer.Append(chunk); err != nil {
		r.setErr(err)
		logging.WarnWithContext(r.logger, "failed to store recording chunk", "chunk_write_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check free space in the spool directory"),
			logging.String(logging.FieldImpact, "part of this recording may be missing"),
		)
	}
}

func (r *SubRecorder) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		r.err = err
	}
}
