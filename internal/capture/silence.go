package capture

import (
	"io"
	"sync"
	"time"
)

const silenceTick = 20 * time.Millisecond

// silenceSource produces real-time paced digital silence until closed.
type silenceSource struct {
	format Format
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

func newSilenceSource(format Format) *silenceSource {
	return &silenceSource{
		format: format,
		ticker: time.NewTicker(silenceTick),
		done:   make(chan struct{}),
	}
}

func (s *silenceSource) Read(p []byte) (int, error) {
	select {
	case <-s.done:
		return 0, io.EOF
	case <-s.ticker.C:
	}
	n := s.format.BytesPerSecond() * int(silenceTick/time.Millisecond) / 1000
	n -= n % s.format.BytesPerFrame()
	if n > len(p) {
		n = len(p) - len(p)%s.format.BytesPerFrame()
	}
	clear(p[:n])
	return n, nil
}

func (s *silenceSource) Close() error {
	s.once.Do(func() {
		s.ticker.Stop()
		close(s.done)
	})
	return nil
}
