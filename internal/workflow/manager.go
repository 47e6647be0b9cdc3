package workflow

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"autorec/internal/capture"
	"autorec/internal/config"
	"autorec/internal/logging"
	"autorec/internal/metrics"
	"autorec/internal/mixer"
	"autorec/internal/monitor"
	"autorec/internal/notifications"
	"autorec/internal/recorder"
)

// Manager coordinates the recording session and its background work.
type Manager struct {
	cfg      *config.Config
	capture  CaptureSource
	session  *recorder.Session
	pipeline Processor
	monitor  monitor.Monitor
	notifier notifications.Service
	metrics  *metrics.Metrics
	logger   *slog.Logger
	lock     *sessionLock
	now      func() time.Time

	onFinished func(*Outcome)
	onLevels   func(map[mixer.Role]mixer.Level)

	mu          sync.Mutex
	active      *activeSession
	finalizing  chan struct{}
	lastOutcome *Outcome
	lastLevels  map[mixer.Role]mixer.Level
	starting    bool
	closed      bool
}

// activeSession holds the background work attached to one recording.
type activeSession struct {
	id          string
	mode        recorder.Mode
	base        context.Context
	ctx         context.Context
	cancel      context.CancelFunc
	watch       *monitor.Watch
	events      <-chan capture.LivenessEvent
	unsubscribe func()
	loops       sync.WaitGroup
	sourceLost  atomic.Bool
	micLost     atomic.Bool
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithMonitor sets the shared-source monitor. Without one, a closed window
// is only noticed through capture liveness events.
func WithMonitor(m monitor.Monitor) ManagerOption {
	return func(mgr *Manager) { mgr.monitor = m }
}

// WithNotifier overrides the notification service.
func WithNotifier(n notifications.Service) ManagerOption {
	return func(mgr *Manager) { mgr.notifier = n }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) ManagerOption {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithLogger sets the manager logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(mgr *Manager) { mgr.logger = logger }
}

// WithClock substitutes the time source for the session and the manager.
func WithClock(now func() time.Time) ManagerOption {
	return func(mgr *Manager) { mgr.now = now }
}

// WithOnFinished registers a callback invoked once per finished session,
// whatever ended it.
func WithOnFinished(fn func(*Outcome)) ManagerOption {
	return func(mgr *Manager) { mgr.onFinished = fn }
}

// WithLevelObserver registers a callback receiving each level sample.
func WithLevelObserver(fn func(map[mixer.Role]mixer.Level)) ManagerOption {
	return func(mgr *Manager) { mgr.onLevels = fn }
}

// NewManager constructs a manager. pipeline may be nil to record without
// producing history entries.
func NewManager(cfg *config.Config, source CaptureSource, pipeline Processor, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg:      cfg,
		capture:  source,
		pipeline: pipeline,
		now:      time.Now,
		lock:     newSessionLock(cfg.LockPath()),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.NewNop()
	}
	m.logger = logging.NewComponentLogger(m.logger, "workflow")
	if m.notifier == nil {
		m.notifier = notifications.NewService(cfg)
	}

	spool := ""
	if cfg.Recording.Spool {
		spool = cfg.SpoolDir()
	}
	m.session = recorder.NewSession(source, recorder.Config{
		ChunkInterval: cfg.ChunkInterval(),
		MinDuration:   cfg.MinDuration(),
		SpoolDir:      spool,
		Encoder:       recorder.NewEncoder(cfg.Recording.Format, cfg.Capture.FFmpegBinary),
	}, recorder.WithLogger(m.logger), recorder.WithClock(func() time.Time { return m.now() }))
	return m
}

// Session exposes the underlying recorder session.
func (m *Manager) Session() *recorder.Session { return m.session }

// Status returns the latest session information.
func (m *Manager) Status() StatusSummary {
	m.mu.Lock()
	last := m.lastOutcome
	levels := make(map[mixer.Role]mixer.Level, len(m.lastLevels))
	for role, level := range m.lastLevels {
		levels[role] = level
	}
	m.mu.Unlock()

	return StatusSummary{
		State:          m.session.State(),
		SessionID:      m.session.SessionID(),
		Mode:           m.session.Mode(),
		Elapsed:        m.session.Elapsed(),
		Degraded:       m.session.Degraded(),
		MicrophoneOnly: m.session.MicrophoneOnly(),
		Levels:         levels,
		LastOutcome:    last,
	}
}

// Close stops any active session and waits for it to be finalized. The
// manager rejects new sessions afterwards.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	_, err := m.stopSession(ctx, TriggerShutdown, nil)
	return err
}
