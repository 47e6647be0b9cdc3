package recorder

import (
	"context"
	"sync"
)

// Latch is a countdown barrier: Wait returns once CountDown has been called
// the number of times the latch was created with.
type Latch struct {
	mu    sync.Mutex
	count int
	done  chan struct{}
}

// NewLatch returns a latch expecting n arrivals. A latch of zero is open.
func NewLatch(n int) *Latch {
	l := &Latch{count: n, done: make(chan struct{})}
	if n <= 0 {
		l.count = 0
		close(l.done)
	}
	return l
}

// CountDown records one arrival. Calls past zero are ignored.
func (l *Latch) CountDown() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.count == 0 {
		return
	}
	l.count--
	if l.count == 0 {
		close(l.done)
	}
}

// Remaining returns the number of outstanding arrivals.
func (l *Latch) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Done is closed when the count reaches zero.
func (l *Latch) Done() <-chan struct{} { return l.done }

// Wait blocks until the latch opens or ctx ends.
func (l *Latch) Wait(ctx context.Context) error {
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
