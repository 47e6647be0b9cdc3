package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"autorec/internal/capture"
	"autorec/internal/logging"
	"autorec/internal/mixer"
	"autorec/internal/services"
)

// ErrFinalizing is returned by Start while the previous session is still
// being cleaned up.
var ErrFinalizing = errors.New("previous recording is still being finalized")

const (
	defaultChunkInterval = 5 * time.Second
	defaultMinDuration   = 3 * time.Second
)

// Acquirer opens capture streams. *capture.Adapter satisfies it.
type Acquirer interface {
	Acquire(ctx context.Context, req capture.Request) (*capture.Stream, error)
	StopSidecar(ctx context.Context) (capture.SidecarInfo, error)
}

// Config holds recorder settings that do not change between sessions.
type Config struct {
	ChunkInterval time.Duration
	MinDuration   time.Duration
	SpoolDir      string
	Encoder       Encoder
}

// Options selects what a single session records.
type Options struct {
	Mode            Mode
	Sources         Sources
	SourceID        string
	Microphone      capture.Constraints
	MicrophoneGain  float64
	CounterpartGain float64
}

// Artifact is one finalized recording.
type Artifact struct {
	Role      Role
	Data      []byte
	MIMEType  string
	Extension string
	Duration  time.Duration
}

// Result is what Stop produces for a finished session.
type Result struct {
	SessionID      string
	StartedAt      time.Time
	Duration       time.Duration
	Mode           Mode
	Sources        Sources
	Artifacts      []Artifact
	SidecarPath    string
	Degraded       bool
	MicrophoneOnly bool
}

// DiscardSidecar removes the system audio file captured by the sidecar, if
// any. Callers that do not hand the result to the pipeline must call it.
func (r *Result) DiscardSidecar() error {
	if r == nil || r.SidecarPath == "" {
		return nil
	}
	path := r.SidecarPath
	r.SidecarPath = ""
	return removeSidecarFile(path)
}

func removeSidecarFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove sidecar audio: %w", err)
	}
	return nil
}

// Artifact returns the artifact for role.
func (r *Result) Artifact(role Role) (Artifact, bool) {
	for _, a := range r.Artifacts {
		if a.Role == role {
			return a, true
		}
	}
	return Artifact{}, false
}

// SessionOption customizes a Session.
type SessionOption func(*Session)

// WithClock substitutes the time source used for elapsed accounting.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = logger }
}

// Session owns the recording lifecycle: the acquired streams, the mixing
// graph and the sub-recorders. One session records at a time; it returns to
// Idle after every Stop and can be started again.
type Session struct {
	acq    Acquirer
	cfg    Config
	now    func() time.Time
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	run         *run
	startedAt   time.Time
	pausedAccum time.Duration
	starting    bool
	finalizing  bool
}

// run holds the resources of one recording cycle.
type run struct {
	id        string
	mode      Mode
	sources   Sources
	createdAt time.Time
	streams   map[Role]*capture.Stream
	subs      []*SubRecorder
	graph     *mixer.Graph
	latch     *Latch
	degraded  bool
	micOnly   bool
	sidecar   capture.SidecarInfo
}

func (r *run) sub(role Role) *SubRecorder {
	for _, s := range r.subs {
		if s.role == role {
			return s
		}
	}
	return nil
}

// NewSession constructs an idle session.
func NewSession(acq Acquirer, cfg Config, opts ...SessionOption) *Session {
	if cfg.ChunkInterval <= 0 {
		cfg.ChunkInterval = defaultChunkInterval
	}
	if cfg.MinDuration < 0 {
		cfg.MinDuration = defaultMinDuration
	}
	if cfg.Encoder == nil {
		cfg.Encoder = WAVEncoder{}
	}
	s := &Session{acq: acq, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.NewComponentLogger(s.logger, "recorder")
	return s
}

// Start acquires streams and begins recording.
func (s *Session) Start(ctx context.Context, opts Options) error {
	s.mu.Lock()
	switch {
	case s.state != Idle || s.starting:
		s.mu.Unlock()
		return &StateError{Op: "start", From: s.state, Err: ErrAlreadyRecording}
	case s.finalizing:
		s.mu.Unlock()
		return &StateError{Op: "start", From: s.state, Err: ErrFinalizing}
	}
	s.starting = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.starting = false
		s.mu.Unlock()
	}()

	if opts.Mode == "" {
		opts.Mode = ModeSingle
	}
	if opts.Sources == "" {
		opts.Sources = SourcesBoth
	}
	if opts.Mode == ModeSeparate && opts.Sources != SourcesBoth {
		return services.Wrap(services.ErrValidation, "recording", "start", "separate mode records both sources", nil)
	}

	r := &run{
		id:        uuid.NewString(),
		mode:      opts.Mode,
		sources:   opts.Sources,
		createdAt: s.now(),
		streams:   make(map[Role]*capture.Stream),
	}
	logger := s.logger.With(logging.String(logging.FieldSessionID, r.id))
	ctx = services.WithSessionID(ctx, r.id)

	if err := s.acquire(ctx, r, opts, logger); err != nil {
		s.cleanup(context.WithoutCancel(ctx), r, false, false)
		return err
	}
	if err := s.wire(r, opts); err != nil {
		s.cleanup(context.WithoutCancel(ctx), r, false, false)
		return err
	}
	for _, sub := range r.subs {
		sub.start()
	}

	s.mu.Lock()
	s.run = r
	s.state = Recording
	s.startedAt = r.createdAt
	s.pausedAccum = 0
	s.mu.Unlock()
	logger.Info("recording started",
		logging.String("mode", string(r.mode)),
		logging.String("sources", string(r.sources)),
		logging.Int("sub_recorders", len(r.subs)),
		logging.Bool("degraded", r.degraded),
	)
	return nil
}

func (s *Session) acquire(ctx context.Context, r *run, opts Options, logger *slog.Logger) error {
	if opts.Sources != SourcesScreen {
		mic, err := s.acq.Acquire(ctx, capture.Request{Kind: capture.Microphone, Constraints: opts.Microphone})
		if err != nil {
			return err
		}
		r.streams[RoleMicrophone] = mic
	}
	if opts.Sources == SourcesMicrophone {
		return nil
	}

	other, err := s.acq.Acquire(ctx, capture.Request{Kind: capture.Screen, SourceID: opts.SourceID, Constraints: capture.ScreenConstraints()})
	if err != nil {
		degradable := opts.Mode == ModeSingle && opts.Sources == SourcesBoth &&
			!capture.IsKind(err, capture.UserCancelled) && ctx.Err() == nil
		if !degradable {
			return err
		}
		logging.WarnWithContext(logger, "counterpart capture failed; recording microphone only", "counterpart_unavailable",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, remediation(err)),
			logging.String(logging.FieldImpact, "only your microphone will be recorded"),
		)
		r.degraded = true
		r.micOnly = true
		return nil
	}
	r.streams[RoleCounterpart] = other
	if opts.Sources == SourcesScreen && !other.HasAudio() {
		return services.Wrap(services.ErrValidation, "recording", "start", "selected source has no audio", capture.ErrNoAudio)
	}
	return nil
}

func remediation(err error) string {
	var acqErr *capture.AcquisitionError
	if errors.As(err, &acqErr) {
		return acqErr.Remediation()
	}
	return services.Hint(err)
}

type subSource struct {
	role   Role
	reader io.Reader
	closer io.Closer
	format capture.Format
}

func (s *Session) wire(r *run, opts Options) error {
	mic := r.streams[RoleMicrophone]
	other := r.streams[RoleCounterpart]
	var sources []subSource

	switch {
	case r.mode == ModeSeparate:
		tapped, err := tapStream(RoleMicrophone, mic)
		if err != nil {
			return err
		}
		sources = append(sources, tapped)
		if other != nil && other.HasAudio() {
			tapped, err := tapStream(RoleCounterpart, other)
			if err != nil {
				_ = sources[0].closer.Close()
				return err
			}
			sources = append(sources, tapped)
		} else {
			r.degraded = true
			r.micOnly = true
		}
	case mic != nil && other != nil:
		graph, err := mixer.Build([]mixer.Input{
			{Role: mixer.RoleMicrophone, Gain: gainOr(opts.MicrophoneGain, mixer.DefaultMicrophoneGain), Source: mic},
			{Role: mixer.RoleCounterpart, Gain: gainOr(opts.CounterpartGain, mixer.DefaultCounterpartGain), Source: other},
		}, mixer.WithLogger(s.logger))
		if err != nil {
			return fmt.Errorf("build mixing graph: %w", err)
		}
		r.graph = graph
		if graph.Degraded() {
			r.degraded = true
			r.micOnly = !other.HasAudio()
		}
		sources = append(sources, subSource{role: RoleCombined, reader: graph.Output(), closer: graph, format: graph.Format()})
	case mic != nil:
		tapped, err := tapStream(RoleCombined, mic)
		if err != nil {
			return err
		}
		sources = append(sources, tapped)
	case other != nil:
		tapped, err := tapStream(RoleCombined, other)
		if err != nil {
			return err
		}
		sources = append(sources, tapped)
	default:
		return services.Wrap(services.ErrValidation, "recording", "start", "no sources selected", nil)
	}

	r.latch = NewLatch(len(sources))
	for _, src := range sources {
		buffer, err := s.newBuffer(r, src)
		if err != nil {
			for _, sub := range r.subs {
				_ = sub.buffer.Remove()
			}
			r.subs = nil
			for _, rest := range sources {
				if rest.closer != nil {
					_ = rest.closer.Close()
				}
			}
			return err
		}
		sub := newSubRecorder(src.role, src.reader, src.closer, buffer, src.format, s.cfg.ChunkInterval, r.latch,
			s.logger.With(logging.String(logging.FieldSessionID, r.id)))
		r.subs = append(r.subs, sub)
	}
	return nil
}

func tapStream(role Role, stream *capture.Stream) (subSource, error) {
	reader, err := stream.Tap()
	if err != nil {
		return subSource{}, fmt.Errorf("tap %s: %w", role, err)
	}
	return subSource{role: role, reader: reader, closer: reader, format: stream.Format()}, nil
}

func gainOr(v, fallback float64) float64 {
	if v <= 0 {
		return fallback
	}
	return v
}

func (s *Session) newBuffer(r *run, src subSource) (*ChunkBuffer, error) {
	if s.cfg.SpoolDir == "" {
		return NewMemoryBuffer(), nil
	}
	return NewSpoolBuffer(filepath.Join(s.cfg.SpoolDir, r.id), spoolMeta(r.id, src.role, src.format, r.createdAt))
}

// Pause suspends chunk emission and freezes elapsed time.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Recording {
		return &StateError{Op: "pause", From: s.state, Err: ErrInvalidTransition}
	}
	s.pausedAccum = s.now().Sub(s.startedAt)
	s.state = Paused
	for _, sub := range s.run.subs {
		sub.setPaused(true)
	}
	s.logger.Info("recording paused", logging.String(logging.FieldSessionID, s.run.id), logging.Duration("elapsed", s.pausedAccum))
	return nil
}

// Resume continues a paused session.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Paused {
		return &StateError{Op: "resume", From: s.state, Err: ErrInvalidTransition}
	}
	s.startedAt = s.now().Add(-s.pausedAccum)
	s.state = Recording
	for _, sub := range s.run.subs {
		sub.setPaused(false)
	}
	s.logger.Info("recording resumed", logging.String(logging.FieldSessionID, s.run.id))
	return nil
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Elapsed returns recorded time excluding pauses.
func (s *Session) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsedLocked()
}

func (s *Session) elapsedLocked() time.Duration {
	switch s.state {
	case Recording:
		return s.now().Sub(s.startedAt)
	case Paused:
		return s.pausedAccum
	default:
		return 0
	}
}

// SessionID returns the active session id, or "" when idle.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return ""
	}
	return s.run.id
}

// Mode returns the active recording mode.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return ""
	}
	return s.run.mode
}

// CounterpartSourceID returns the id of the shared screen or window.
func (s *Session) CounterpartSourceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return ""
	}
	if stream := s.run.streams[RoleCounterpart]; stream != nil {
		return stream.SourceID()
	}
	return ""
}

// StreamRole maps a capture stream id to the role it feeds.
func (s *Session) StreamRole(streamID string) (Role, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return "", false
	}
	for role, stream := range s.run.streams {
		if stream.ID() == streamID {
			return role, true
		}
	}
	return "", false
}

// Degraded reports whether the session lost or never had a source.
func (s *Session) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run != nil && s.run.degraded
}

// MicrophoneOnly reports whether the counterpart is no longer recorded.
func (s *Session) MicrophoneOnly() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run != nil && s.run.micOnly
}

// SubRecorderState returns the state of the sub-recorder for role.
func (s *Session) SubRecorderState(role Role) (SubState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return "", false
	}
	sub := s.run.sub(role)
	if sub == nil {
		return "", false
	}
	return sub.State(), true
}

// StopSubRecorder stops a single sub-recorder; its data is kept for
// finalization.
func (s *Session) StopSubRecorder(role Role) bool {
	s.mu.Lock()
	var sub *SubRecorder
	if s.run != nil {
		sub = s.run.sub(role)
	}
	s.mu.Unlock()
	if sub == nil {
		return false
	}
	sub.Stop()
	<-sub.Done()
	return true
}

// Levels samples input peaks since the previous call. Detached inputs and
// stopped sub-recorders are left out.
func (s *Session) Levels() map[mixer.Role]mixer.Level {
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()
	if r == nil {
		return nil
	}
	if r.graph != nil {
		return r.graph.Levels()
	}
	levels := make(map[mixer.Role]mixer.Level, len(r.subs))
	for _, sub := range r.subs {
		if sub.State() == SubStopped {
			continue
		}
		role := mixer.RoleMicrophone
		if sub.role == RoleCounterpart || (sub.role == RoleCombined && r.streams[RoleMicrophone] == nil) {
			role = mixer.RoleCounterpart
		}
		levels[role] = sub.level()
	}
	return levels
}

// DropCounterpart stops recording the counterpart while the microphone
// continues: the counterpart sub-recorder and stream are stopped, the
// sidecar is stopped and the graph is rewired to the microphone alone.
// Audio captured so far is kept.
func (s *Session) DropCounterpart(ctx context.Context, reason string) error {
	s.mu.Lock()
	if s.state == Idle || s.run == nil {
		s.mu.Unlock()
		return &StateError{Op: "drop counterpart", From: s.state, Err: ErrInvalidTransition}
	}
	r := s.run
	if r.micOnly {
		s.mu.Unlock()
		return nil
	}
	r.micOnly = true
	r.degraded = true
	counterpart := r.streams[RoleCounterpart]
	sub := r.sub(RoleCounterpart)
	graph := r.graph
	s.mu.Unlock()

	if sub != nil {
		sub.Stop()
		<-sub.Done()
	}
	if graph != nil {
		graph.Detach(mixer.RoleCounterpart)
	}
	if counterpart != nil {
		if err := counterpart.Stop(); err != nil {
			s.logger.Debug("stop counterpart stream", logging.Error(err))
		}
	}
	s.stopSidecar(ctx, r)
	logging.WarnWithContext(s.logger, "counterpart dropped; continuing with microphone only", "counterpart_dropped",
		logging.String(logging.FieldSessionID, r.id),
		logging.String("reason", reason),
		logging.String(logging.FieldImpact, "the remaining recording contains only the microphone"),
	)
	return nil
}

// Stop finalizes the session: it signals every sub-recorder, waits for all
// of them on the latch, then builds artifacts. Calling Stop while idle
// returns (nil, nil). Streams, the graph and the sidecar are released on
// every path.
func (s *Session) Stop(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	if s.state == Idle || s.run == nil {
		s.mu.Unlock()
		return nil, nil
	}
	elapsed := s.elapsedLocked()
	r := s.run
	s.run = nil
	s.state = Idle
	s.finalizing = true
	s.mu.Unlock()

	logger := s.logger.With(logging.String(logging.FieldSessionID, r.id))
	keepSpool := false
	handedOff := false
	defer func() { s.cleanup(context.WithoutCancel(ctx), r, keepSpool, handedOff) }()

	for _, sub := range r.subs {
		sub.Stop()
	}
	if err := r.latch.Wait(ctx); err != nil {
		keepSpool = true
		return nil, services.Wrap(services.ErrTimeout, "recording", "stop", "waiting for sub-recorders", err)
	}
	s.stopSidecar(ctx, r)

	if elapsed < s.cfg.MinDuration {
		logger.Info("recording discarded as too short", logging.Duration("elapsed", elapsed))
		return nil, &ArtifactTooSmallError{Duration: elapsed, Minimum: s.cfg.MinDuration}
	}

	result := &Result{
		SessionID:      r.id,
		StartedAt:      r.createdAt,
		Duration:       elapsed,
		Mode:           r.mode,
		Sources:        r.sources,
		SidecarPath:    r.sidecar.Path,
		Degraded:       r.degraded,
		MicrophoneOnly: r.micOnly,
	}
	for _, sub := range r.subs {
		artifact, ok, err := s.finalize(ctx, sub)
		if err != nil {
			keepSpool = true
			return nil, err
		}
		if !ok {
			logger.Warn("sub-recorder captured no audio", logging.String(logging.FieldRole, string(sub.role)))
			continue
		}
		result.Artifacts = append(result.Artifacts, artifact)
	}
	logger.Info("recording finalized",
		logging.Duration("duration", elapsed),
		logging.Int("artifacts", len(result.Artifacts)),
		logging.Bool("degraded", r.degraded),
	)
	handedOff = true
	return result, nil
}

func (s *Session) finalize(ctx context.Context, sub *SubRecorder) (Artifact, bool, error) {
	pcm, err := sub.Buffer().Bytes()
	if err != nil {
		return Artifact{}, false, services.Wrap(services.ErrExternalTool, "recording", "finalize", "read "+string(sub.role)+" chunks", err)
	}
	if len(pcm) == 0 {
		return Artifact{}, false, nil
	}
	data, err := s.cfg.Encoder.Encode(ctx, pcm, sub.format)
	if err != nil {
		return Artifact{}, false, err
	}
	return Artifact{
		Role:      sub.role,
		Data:      data,
		MIMEType:  s.cfg.Encoder.MIMEType(),
		Extension: s.cfg.Encoder.Extension(),
		Duration:  sub.format.Duration(int64(len(pcm))),
	}, true, nil
}

func (s *Session) stopSidecar(ctx context.Context, r *run) {
	info, err := s.acq.StopSidecar(ctx)
	if err != nil {
		logging.WarnWithContext(s.logger, "failed to stop system audio sidecar", "sidecar_stop_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check for a leftover ffmpeg process"),
			logging.String(logging.FieldImpact, "system audio may be incomplete"),
		)
	}
	if info.Path != "" {
		s.mu.Lock()
		r.sidecar = info
		s.mu.Unlock()
	}
}

// cleanup releases every resource of r. It runs after Stop and after a
// failed Start. The sidecar file survives only when its path was handed
// out in a Result.
func (s *Session) cleanup(ctx context.Context, r *run, keepSpool, handedOff bool) {
	for _, sub := range r.subs {
		sub.Stop()
	}
	for role, stream := range r.streams {
		if err := stream.Stop(); err != nil {
			s.logger.Debug("release stream", logging.String(logging.FieldRole, string(role)), logging.Error(err))
		}
	}
	if r.graph != nil {
		_ = r.graph.Close()
	}
	s.stopSidecar(ctx, r)
	if !handedOff {
		s.mu.Lock()
		path := r.sidecar.Path
		s.mu.Unlock()
		if path != "" {
			if err := removeSidecarFile(path); err != nil {
				s.logger.Debug("remove sidecar audio", logging.Error(err))
			}
		}
	}
	for _, sub := range r.subs {
		<-sub.Done()
		if keepSpool {
			continue
		}
		if err := sub.Buffer().Remove(); err != nil {
			s.logger.Debug("remove spool", logging.Error(err))
		}
	}
	if keepSpool && s.cfg.SpoolDir != "" {
		logging.WarnWithContext(s.logger, "recording left in spool", "spool_retained",
			logging.String(logging.FieldSessionID, r.id),
			logging.String(logging.FieldErrorHint, "run 'autorec recover' to export it"),
			logging.String(logging.FieldImpact, "the recording was not processed"),
		)
	}
	s.mu.Lock()
	s.finalizing = false
	s.mu.Unlock()
}
