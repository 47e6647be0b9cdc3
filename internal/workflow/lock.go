package workflow

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// ErrLocked is returned by Start when another autorec process is recording.
var ErrLocked = errors.New("another autorec instance is recording")

// sessionLock keeps two processes from recording into the same state
// directory at once.
type sessionLock struct {
	path string

	mu   sync.Mutex
	lock *flock.Flock
	held bool
}

func newSessionLock(path string) *sessionLock {
	return &sessionLock{path: path}
}

func (l *sessionLock) acquire() error {
	if l == nil || l.path == "" {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	if l.lock == nil {
		l.lock = flock.New(l.path)
	}
	ok, err := l.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w (lock %s)", ErrLocked, l.path)
	}
	l.held = true
	return nil
}

func (l *sessionLock) release() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return nil
	}
	l.held = false
	return l.lock.Unlock()
}

// LockSession takes the session lock outside a Manager, for maintenance
// commands that must not run while a recording is in progress.
func LockSession(path string) (release func() error, err error) {
	l := newSessionLock(path)
	if err := l.acquire(); err != nil {
		return nil, err
	}
	return l.release, nil
}
