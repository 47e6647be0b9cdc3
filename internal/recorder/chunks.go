package recorder

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"autorec/internal/capture"
)

// SpoolMeta describes a spooled PCM file so it can be recovered after a
// crash.
type SpoolMeta struct {
	SessionID  string    `json:"session_id"`
	Role       Role      `json:"role"`
	SampleRate int       `json:"sample_rate"`
	Channels   int       `json:"channels"`
	StartedAt  time.Time `json:"started_at"`
}

const (
	spoolDataExt = ".pcm"
	spoolMetaExt = ".json"
)

// ChunkBuffer accumulates PCM chunks either in memory or in a spool file
// that is synced after every chunk.
type ChunkBuffer struct {
	mu     sync.Mutex
	chunks [][]byte
	file   *os.File
	path   string
	size   int64
	count  int
}

// NewMemoryBuffer returns an in-memory buffer.
func NewMemoryBuffer() *ChunkBuffer {
	return &ChunkBuffer{}
}

// NewSpoolBuffer creates dir/<role>.pcm and its metadata file.
func NewSpoolBuffer(dir string, meta SpoolMeta) (*ChunkBuffer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	base := filepath.Join(dir, string(meta.Role))
	payload, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode spool meta: %w", err)
	}
	if err := os.WriteFile(base+spoolMetaExt, payload, 0o644); err != nil {
		return nil, fmt.Errorf("write spool meta: %w", err)
	}
	file, err := os.OpenFile(base+spoolDataExt, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create spool file: %w", err)
	}
	return &ChunkBuffer{file: file, path: base + spoolDataExt}, nil
}

// Append stores one chunk. Empty chunks are ignored.
func (b *ChunkBuffer) Append(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.file != nil {
		if _, err := b.file.Write(chunk); err != nil {
			return fmt.Errorf("spool write: %w", err)
		}
		if err := b.file.Sync(); err != nil {
			return fmt.Errorf("spool sync: %w", err)
		}
	} else {
		b.chunks = append(b.chunks, append([]byte(nil), chunk...))
	}
	b.size += int64(len(chunk))
	b.count++
	return nil
}

// Len returns the number of buffered bytes.
func (b *ChunkBuffer) Len() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Chunks returns how many chunks were appended.
func (b *ChunkBuffer) Chunks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Path returns the spool file path, or "" for memory buffers.
func (b *ChunkBuffer) Path() string { return b.path }

// Bytes returns everything appended so far.
func (b *ChunkBuffer) Bytes() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.path == "" {
		return bytes.Join(b.chunks, nil), nil
	}
	return os.ReadFile(b.path)
}

// Close closes the spool file, leaving it on disk.
func (b *ChunkBuffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.file == nil {
		return nil
	}
	err := b.file.Close()
	b.file = nil
	return err
}

// Remove closes and deletes the spool file and its metadata.
func (b *ChunkBuffer) Remove() error {
	if err := b.Close(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = nil
	if b.path == "" {
		return nil
	}
	meta := b.path[:len(b.path)-len(spoolDataExt)] + spoolMetaExt
	for _, p := range []string{b.path, meta} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	_ = os.Remove(filepath.Dir(b.path))
	return nil
}

func spoolMeta(sessionID string, role Role, format capture.Format, started time.Time) SpoolMeta {
	return SpoolMeta{
		SessionID:  sessionID,
		Role:       role,
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
		StartedAt:  started.UTC(),
	}
}
