package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"autorec/internal/logging"
)

// Backend opens raw capture streams.
type Backend interface {
	OpenMicrophone(ctx context.Context, c Constraints) (*Stream, error)
	OpenScreen(ctx context.Context, src Source, c Constraints) (*Stream, error)
	OpenSystemAudio(ctx context.Context, c Constraints) (*Stream, error)
}

// SourceLister enumerates shareable screens and windows.
type SourceLister interface {
	ListSources(ctx context.Context) ([]Source, error)
}

// Prompter asks the user to make capture decisions. Implementations return
// ErrCancelled when the user dismisses a prompt.
type Prompter interface {
	SelectSource(ctx context.Context, sources []Source) (Source, error)
	Confirm(ctx context.Context, question string) (bool, error)
}

// SidecarInfo describes a running system-audio sidecar process.
type SidecarInfo struct {
	PID       int
	Path      string
	StartedAt time.Time
}

// Sidecar records system audio in an external process writing to a file.
type Sidecar interface {
	Start(ctx context.Context, format Format) (SidecarInfo, error)
	Stop(ctx context.Context) (SidecarInfo, error)
}

const subscriberBuffer = 16

// NoAudioQuestion is asked when a shared source brings no audio.
const NoAudioQuestion = "The selected source has no audio and system audio could not be captured. Continue recording the microphone only?"

// Adapter acquires streams with permission and fallback handling. It
// registers every stream's tracks for liveness and fans loss events out to
// subscribers; it never stops recorders itself.
type Adapter struct {
	backend  Backend
	lister   SourceLister
	prompter Prompter
	sidecar  Sidecar
	logger   *slog.Logger

	mu          sync.Mutex
	subscribers map[chan LivenessEvent]struct{}
	streams     map[string]*Stream
	sidecarInfo *SidecarInfo
}

// AdapterOption customizes the adapter.
type AdapterOption func(*Adapter)

// WithLister sets the source lister used by the screen picker.
func WithLister(lister SourceLister) AdapterOption {
	return func(a *Adapter) { a.lister = lister }
}

// WithPrompter sets the interactive prompter.
func WithPrompter(prompter Prompter) AdapterOption {
	return func(a *Adapter) { a.prompter = prompter }
}

// WithSidecar enables the system-audio sidecar fallback.
func WithSidecar(sidecar Sidecar) AdapterOption {
	return func(a *Adapter) { a.sidecar = sidecar }
}

// WithLogger sets the adapter logger.
func WithLogger(logger *slog.Logger) AdapterOption {
	return func(a *Adapter) { a.logger = logger }
}

// NewAdapter constructs an adapter over backend.
func NewAdapter(backend Backend, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		backend:     backend,
		subscribers: make(map[chan LivenessEvent]struct{}),
		streams:     make(map[string]*Stream),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = logging.NewComponentLogger(a.logger, "capture")
	return a
}

// Acquire opens a stream for req.
func (a *Adapter) Acquire(ctx context.Context, req Request) (*Stream, error) {
	var (
		stream *Stream
		err    error
	)
	switch req.Kind {
	case Microphone:
		stream, err = a.backend.OpenMicrophone(ctx, req.Constraints)
	case Screen:
		stream, err = a.acquireScreen(ctx, req)
	case SystemAudioSidecar:
		stream, err = a.startSidecar(ctx)
	default:
		return nil, newAcquisitionError(Unsupported, req.Kind, "unknown capture kind", nil)
	}
	if err != nil {
		return nil, classify(req.Kind, err)
	}
	a.register(stream)
	a.logger.Info("capture stream acquired",
		logging.String("kind", req.Kind.String()),
		logging.String("stream_id", stream.ID()),
		logging.String("label", stream.Label()),
		logging.Int("audio_tracks", len(stream.AudioTracks())),
		logging.Int("video_tracks", len(stream.VideoTracks())),
	)
	return stream, nil
}

func (a *Adapter) acquireScreen(ctx context.Context, req Request) (*Stream, error) {
	source, err := a.chooseSource(ctx, req.SourceID)
	if err != nil {
		return nil, err
	}
	constraints := ScreenConstraints()
	stream, err := a.backend.OpenScreen(ctx, source, constraints)
	if err != nil {
		return nil, err
	}
	if stream.HasAudio() {
		return stream, nil
	}

	audio, err := a.secondaryAudio(ctx, constraints)
	if err == nil {
		if err = stream.Splice(audio); err == nil {
			return stream, nil
		}
		_ = audio.Stop()
	}
	a.warnNoAudio(source, err)

	if a.prompter == nil {
		return stream, nil
	}
	ok, err := a.prompter.Confirm(ctx, NoAudioQuestion)
	if err != nil || !ok {
		_ = stream.Stop()
		return nil, newAcquisitionError(UserCancelled, Screen, "continue without audio declined", err)
	}
	return stream, nil
}

func (a *Adapter) warnNoAudio(source Source, err error) {
	logging.WarnWithContext(a.logger, "shared source has no audio", "capture_no_audio",
		logging.String("source_id", source.ID),
		logging.String("source_name", source.Name),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "set capture.screen_audio_device or enable capture.sidecar_enabled"),
		logging.String(logging.FieldImpact, "the counterpart will not be heard in the recording"),
	)
}

// secondaryAudio tries the in-process system audio backend, then the sidecar.
func (a *Adapter) secondaryAudio(ctx context.Context, c Constraints) (*Stream, error) {
	stream, err := a.backend.OpenSystemAudio(ctx, c)
	if err == nil && stream != nil && stream.HasAudio() {
		return stream, nil
	}
	if stream != nil {
		_ = stream.Stop()
	}
	if a.sidecar == nil {
		if err == nil {
			err = ErrNoAudio
		}
		return nil, err
	}
	a.logger.Debug("system audio backend unavailable; starting sidecar", logging.Error(err))
	return a.startSidecar(ctx)
}

func (a *Adapter) chooseSource(ctx context.Context, sourceID string) (Source, error) {
	if a.lister == nil {
		if sourceID == "" {
			return Source{}, newAcquisitionError(Unsupported, Screen, "no source lister available", nil)
		}
		return Source{ID: sourceID, Name: sourceID}, nil
	}
	sources, err := a.lister.ListSources(ctx)
	if err != nil {
		return Source{}, err
	}
	if sourceID != "" {
		for _, src := range sources {
			if src.ID == sourceID {
				return src, nil
			}
		}
		return Source{}, newAcquisitionError(DeviceNotFound, Screen, "source "+sourceID+" not listed", nil)
	}
	if len(sources) == 0 {
		return Source{}, newAcquisitionError(DeviceNotFound, Screen, "no shareable sources", nil)
	}
	if a.prompter == nil {
		return Source{}, newAcquisitionError(Unsupported, Screen, "no source selected and no interactive prompt available", nil)
	}
	chosen, err := a.prompter.SelectSource(ctx, sources)
	if err != nil {
		return Source{}, newAcquisitionError(UserCancelled, Screen, "source selection dismissed", err)
	}
	return chosen, nil
}

func (a *Adapter) startSidecar(ctx context.Context) (*Stream, error) {
	if a.sidecar == nil {
		return nil, newAcquisitionError(Unsupported, SystemAudioSidecar, "sidecar disabled", nil)
	}
	info, err := a.sidecar.Start(ctx, DefaultFormat)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.sidecarInfo = &info
	a.mu.Unlock()
	a.logger.Info("system audio sidecar started",
		logging.Int("pid", info.PID),
		logging.String("path", info.Path),
	)
	return NewStream(SystemAudioSidecar, "", "system audio (sidecar)", DefaultFormat, newSilenceSource(DefaultFormat)), nil
}

// Sidecar returns information about the running sidecar, if any.
func (a *Adapter) Sidecar() (SidecarInfo, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sidecarInfo == nil {
		return SidecarInfo{}, false
	}
	return *a.sidecarInfo, true
}

// StopSidecar stops the sidecar process and returns where its audio was
// written. It is a no-op when no sidecar runs.
func (a *Adapter) StopSidecar(ctx context.Context) (SidecarInfo, error) {
	a.mu.Lock()
	info := a.sidecarInfo
	a.sidecarInfo = nil
	a.mu.Unlock()
	if info == nil || a.sidecar == nil {
		return SidecarInfo{}, nil
	}
	stopped, err := a.sidecar.Stop(ctx)
	if stopped.Path == "" {
		stopped = *info
	}
	if err != nil {
		return stopped, err
	}
	a.logger.Info("system audio sidecar stopped", logging.Int("pid", stopped.PID), logging.String("path", stopped.Path))
	return stopped, nil
}

// ListSources exposes the configured lister.
func (a *Adapter) ListSources(ctx context.Context) ([]Source, error) {
	if a.lister == nil {
		return nil, newAcquisitionError(Unsupported, Screen, "no source lister available", nil)
	}
	return a.lister.ListSources(ctx)
}

// Subscribe returns a channel of liveness events and a cancel function.
// Slow subscribers miss events rather than blocking capture.
func (a *Adapter) Subscribe() (<-chan LivenessEvent, func()) {
	ch := make(chan LivenessEvent, subscriberBuffer)
	a.mu.Lock()
	a.subscribers[ch] = struct{}{}
	a.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.subscribers, ch)
			a.mu.Unlock()
			close(ch)
		})
	}
}

// EndDevice marks every live stream of kind as having lost its audio.
func (a *Adapter) EndDevice(kind Kind, reason string) {
	a.mu.Lock()
	targets := make([]*Stream, 0, len(a.streams))
	for _, s := range a.streams {
		if s.Kind() == kind {
			targets = append(targets, s)
		}
	}
	a.mu.Unlock()
	for _, s := range targets {
		s.EndAudio(reason)
	}
}

func (a *Adapter) register(stream *Stream) {
	a.mu.Lock()
	a.streams[stream.ID()] = stream
	a.mu.Unlock()
	stream.setNotifier(a.publish)
	stream.OnStop(func() error {
		a.mu.Lock()
		delete(a.streams, stream.ID())
		a.mu.Unlock()
		return nil
	})
}

func (a *Adapter) publish(stream *Stream, track *Track, reason string) {
	event := LivenessEvent{
		StreamID:  stream.ID(),
		TrackID:   track.ID,
		Kind:      stream.Kind(),
		TrackKind: track.Kind,
		Reason:    reason,
		At:        time.Now(),
	}
	logging.WarnWithContext(a.logger, "capture track ended", "capture_track_ended",
		logging.String("stream_id", event.StreamID),
		logging.String("track_id", event.TrackID),
		logging.String("kind", event.Kind.String()),
		logging.String("reason", reason),
		logging.String(logging.FieldImpact, "no further audio from this source"),
	)
	a.mu.Lock()
	defer a.mu.Unlock()
	for ch := range a.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// classify wraps non-acquisition errors so callers always get an AcquisitionError
// for known failure modes; context errors pass through.
func classify(kind Kind, err error) error {
	var acqErr *AcquisitionError
	if errors.As(err, &acqErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, ErrCancelled) {
		return newAcquisitionError(UserCancelled, kind, "", err)
	}
	return newAcquisitionError(Unsupported, kind, "", err)
}
