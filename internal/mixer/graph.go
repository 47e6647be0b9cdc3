package mixer

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"autorec/internal/capture"
	"autorec/internal/logging"
)

// Role names a mixer input.
type Role string

const (
	RoleMicrophone  Role = "microphone"
	RoleCounterpart Role = "counterpart"
)

// Default per-role gains.
const (
	DefaultMicrophoneGain  = 0.7
	DefaultCounterpartGain = 1.0
)

const (
	frameSize    = 1024
	frameBacklog = 64
	stallTimeout = 250 * time.Millisecond
)

// ErrNoAudio is returned by Build when no input carries audio.
var ErrNoAudio = errors.New("mixer: no input carries audio")

// Source is the part of a capture stream the mixer consumes.
type Source interface {
	HasAudio() bool
	Format() capture.Format
	Tap() (io.ReadCloser, error)
}

// Input is one source fed into the graph.
type Input struct {
	Role   Role
	Gain   float64
	Source Source
}

// Level is a sampled input peak.
type Level struct {
	Peak float64
	DBFS float64
}

// Option customizes Build.
type Option func(*Graph)

// WithCompressor overrides the compressor parameters.
func WithCompressor(p CompressorParams) Option {
	return func(g *Graph) { g.params = p }
}

// WithLogger sets the graph logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Graph) { g.logger = logger }
}

// Graph mixes its inputs into one PCM stream. Output must be drained by a
// single reader.
type Graph struct {
	format      capture.Format
	params      CompressorParams
	logger      *slog.Logger
	passthrough bool
	degraded    atomic.Bool

	mu     sync.Mutex
	inputs []*input
	roles  []Role

	out       *io.PipeReader
	pw        *io.PipeWriter
	done      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once
}

type input struct {
	role    Role
	gain    float64
	reader  io.ReadCloser
	frames  chan []byte
	peak     atomic.Uint32
	detached atomic.Bool
	lagging  bool
	ended   bool
}

// Build wires inputs into a graph. Inputs without audio are dropped and the
// graph reports Degraded; if only one input remains it is passed through
// without gain or compression.
func Build(inputs []Input, opts ...Option) (*Graph, error) {
	g := &Graph{params: DefaultCompressor, done: make(chan struct{}), loopDone: make(chan struct{})}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = logging.NewComponentLogger(g.logger, "mixer")

	var active []Input
	for _, in := range inputs {
		if in.Source == nil || !in.Source.HasAudio() {
			g.degraded.Store(true)
			g.logger.Info("dropping input without audio", logging.String("role", string(in.Role)))
			continue
		}
		active = append(active, in)
	}
	if len(active) == 0 {
		return nil, ErrNoAudio
	}
	g.format = active[0].Source.Format()
	for _, in := range active[1:] {
		if in.Source.Format() != g.format {
			return nil, fmt.Errorf("mixer: input %s format %+v differs from %+v", in.Role, in.Source.Format(), g.format)
		}
	}

	for _, in := range active {
		reader, err := in.Source.Tap()
		if err != nil {
			g.closeInputs()
			return nil, fmt.Errorf("mixer: tap %s: %w", in.Role, err)
		}
		node := &input{role: in.Role, gain: in.Gain, reader: reader, frames: make(chan []byte, frameBacklog)}
		g.inputs = append(g.inputs, node)
		g.roles = append(g.roles, in.Role)
	}
	g.passthrough = len(g.inputs) == 1
	g.out, g.pw = io.Pipe()

	frameBytes := frameSize * g.format.BytesPerFrame()
	for _, node := range g.inputs {
		go node.read(frameBytes, g.done)
	}
	go g.loop(frameBytes)
	return g, nil
}

// Output returns the mixed PCM stream in Format. It reaches io.EOF when every
// input has ended or the graph is closed.
func (g *Graph) Output() io.Reader { return g.out }

// Format returns the PCM layout of Output.
func (g *Graph) Format() capture.Format { return g.format }

// Roles returns the roles that were wired at build time.
func (g *Graph) Roles() []Role { return append([]Role(nil), g.roles...) }

// Degraded reports whether an input was dropped or detached.
func (g *Graph) Degraded() bool { return g.degraded.Load() }

// Levels returns each input's peak since the previous call and resets it.
// Detached inputs are not reported.
func (g *Graph) Levels() map[Role]Level {
	g.mu.Lock()
	inputs := append([]*input(nil), g.inputs...)
	g.mu.Unlock()
	levels := make(map[Role]Level, len(inputs))
	for _, in := range inputs {
		if in.detached.Load() {
			continue
		}
		levels[in.role] = LevelFromPeak(float64(in.peak.Swap(0)) / 32768)
	}
	return levels
}

// Detach removes role from the mix while the graph keeps running.
func (g *Graph) Detach(role Role) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, in := range g.inputs {
		if in.role == role {
			in.detached.Store(true)
			_ = in.reader.Close()
			g.degraded.Store(true)
			g.logger.Info("input detached", logging.String("role", string(role)))
			return true
		}
	}
	return false
}

// Close stops mixing and releases the input taps. Streams themselves are
// owned by the caller.
func (g *Graph) Close() error {
	g.closeOnce.Do(func() {
		close(g.done)
		g.closeInputs()
		_ = g.pw.Close()
		select {
		case <-g.loopDone:
		case <-time.After(time.Second):
		}
	})
	return nil
}

func (g *Graph) closeInputs() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, in := range g.inputs {
		_ = in.reader.Close()
	}
}

// read slices the input into whole frames; a trailing partial frame is
// zero-padded.
func (in *input) read(frameBytes int, done <-chan struct{}) {
	defer close(in.frames)
	for {
		buf := make([]byte, frameBytes)
		n, err := io.ReadFull(in.reader, buf)
		if n > 0 {
			clear(buf[n:])
			select {
			case in.frames <- buf:
			case <-done:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (g *Graph) loop(frameBytes int) {
	defer close(g.loopDone)
	comp := newCompressor(g.format.SampleRate, g.params)
	frames := make([][]byte, len(g.inputs))
	var (
		mix     []float64
		scratch []float64
		outBuf  []byte
	)
	timer := time.NewTimer(stallTimeout)
	defer timer.Stop()

	for {
		got := false
		for i, in := range g.inputs {
			frames[i] = nil
			if in.ended {
				continue
			}
			frame, ok, stopped := g.receive(in, timer)
			if stopped {
				return
			}
			if !ok {
				in.ended = true
				continue
			}
			if frame != nil {
				frames[i] = frame
				got = true
			}
		}
		if g.allEnded() {
			_ = g.pw.Close()
			return
		}
		if !got {
			// Every input stalled; wait on them again instead of spinning.
			for _, in := range g.inputs {
				in.lagging = false
			}
			continue
		}

		if g.passthrough {
			recordPeak(g.inputs[0], peakOf(frames[0]))
			if _, err := g.pw.Write(frames[0]); err != nil {
				return
			}
			continue
		}

		mix = resize(mix, frameBytes/2)
		for i, in := range g.inputs {
			if frames[i] == nil {
				continue
			}
			scratch = decode(scratch, frames[i])
			peak := 0.0
			for j, v := range scratch {
				v *= in.gain
				peak = math.Max(peak, math.Abs(v))
				mix[j] += v
			}
			recordPeak(in, uint32(math.Min(peak, 1)*32768))
		}
		comp.process(mix, g.format.Channels)
		outBuf = encode(outBuf, mix)
		if _, err := g.pw.Write(outBuf); err != nil {
			return
		}
	}
}

// receive waits for the next frame of in. A stalled input is marked lagging
// and polled without waiting until it delivers again, so one silent device
// never holds up the mix.
func (g *Graph) receive(in *input, timer *time.Timer) (frame []byte, ok, stopped bool) {
	if in.lagging {
		select {
		case frame, ok = <-in.frames:
			if ok {
				in.lagging = false
			}
			return frame, ok, false
		case <-g.done:
			return nil, false, true
		default:
			return nil, true, false
		}
	}
	resetTimer(timer, stallTimeout)
	select {
	case frame, ok = <-in.frames:
		return frame, ok, false
	case <-timer.C:
		in.lagging = true
		return nil, true, false
	case <-g.done:
		return nil, false, true
	}
}

func (g *Graph) allEnded() bool {
	for _, in := range g.inputs {
		if !in.ended {
			return false
		}
	}
	return true
}

func recordPeak(in *input, peak uint32) {
	for {
		cur := in.peak.Load()
		if peak <= cur || in.peak.CompareAndSwap(cur, peak) {
			return
		}
	}
}

func resize(buf []float64, n int) []float64 {
	if cap(buf) < n {
		return make([]float64, n)
	}
	buf = buf[:n]
	clear(buf)
	return buf
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
