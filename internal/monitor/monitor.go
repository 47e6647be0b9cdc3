package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"autorec/internal/capture"
	"autorec/internal/logging"
)

// DefaultPollInterval is how often PollMonitor lists sources.
const DefaultPollInterval = 1500 * time.Millisecond

// Event reports that a watched source disappeared.
type Event struct {
	SourceID string
	Reason   string
	At       time.Time
}

// Monitor watches a capture source and signals when it goes away.
type Monitor interface {
	Watch(ctx context.Context, sourceID string) (*Watch, error)
}

// Lister enumerates current capture sources.
type Lister interface {
	ListSources(ctx context.Context) ([]capture.Source, error)
}

// Watch is a single active watch. Signal fires at most once.
type Watch struct {
	sourceID string
	signal   chan Event
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
}

// SourceID returns the watched source.
func (w *Watch) SourceID() string { return w.sourceID }

// Signal receives one Event when the source disappears.
func (w *Watch) Signal() <-chan Event { return w.signal }

// Stop tears the watch down and waits for its goroutine. Safe to call more
// than once.
func (w *Watch) Stop() {
	w.once.Do(func() {
		w.cancel()
		<-w.done
	})
}

// PollMonitor checks the source list on a fixed interval.
type PollMonitor struct {
	lister   Lister
	interval time.Duration
	logger   *slog.Logger
}

// NewPollMonitor constructs a polling monitor.
func NewPollMonitor(lister Lister, interval time.Duration, logger *slog.Logger) *PollMonitor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &PollMonitor{
		lister:   lister,
		interval: interval,
		logger:   logging.NewComponentLogger(logger, "monitor"),
	}
}

// Watch starts polling for sourceID. The watch ends when ctx is cancelled,
// Stop is called or the source disappears.
func (m *PollMonitor) Watch(ctx context.Context, sourceID string) (*Watch, error) {
	if m.lister == nil {
		return nil, errors.New("monitor: no source lister")
	}
	if sourceID == "" {
		return nil, errors.New("monitor: empty source id")
	}
	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watch{
		sourceID: sourceID,
		signal:   make(chan Event, 1),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go m.loop(watchCtx, w)
	m.logger.Debug("watching capture source", logging.String("source_id", sourceID), logging.Duration("interval", m.interval))
	return w, nil
}

func (m *PollMonitor) loop(ctx context.Context, w *Watch) {
	defer close(w.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			present, err := m.present(ctx, w.sourceID)
			if err != nil {
				if ctx.Err() == nil {
					m.logger.Debug("source poll failed", logging.String("source_id", w.sourceID), logging.Error(err))
				}
				continue
			}
			if present {
				continue
			}
			m.logger.Info("capture source disappeared", logging.String("source_id", w.sourceID))
			w.signal <- Event{SourceID: w.sourceID, Reason: "source no longer available", At: time.Now()}
			return
		}
	}
}

func (m *PollMonitor) present(ctx context.Context, id string) (bool, error) {
	sources, err := m.lister.ListSources(ctx)
	if err != nil {
		return false, err
	}
	for _, src := range sources {
		if src.ID == id {
			return true, nil
		}
	}
	return false, nil
}
