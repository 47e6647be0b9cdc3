package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"autorec/internal/capture"
	"autorec/internal/fileutil"
)

// Recovered describes one spool file turned into an audio file.
type Recovered struct {
	SessionID string
	Role      Role
	Path      string
	Bytes     int64
}

// RecoverSpool wraps every orphaned spool file under spoolDir into an audio
// file in destDir using enc, then deletes the spool. Sessions that are still
// recording must not be passed in; callers hold the session lock.
func RecoverSpool(ctx context.Context, spoolDir, destDir string, enc Encoder) ([]Recovered, error) {
	if enc == nil {
		enc = WAVEncoder{}
	}
	sessions, err := os.ReadDir(spoolDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read spool dir: %w", err)
	}
	var (
		out  []Recovered
		errs []error
	)
	for _, entry := range sessions {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(spoolDir, entry.Name())
		metas, _ := filepath.Glob(filepath.Join(dir, "*"+spoolMetaExt))
		for _, metaPath := range metas {
			if err := ctx.Err(); err != nil {
				return out, err
			}
			rec, err := recoverOne(ctx, metaPath, destDir, enc)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if rec != nil {
				out = append(out, *rec)
			}
		}
		_ = os.Remove(dir)
	}
	return out, errors.Join(errs...)
}

func recoverOne(ctx context.Context, metaPath, destDir string, enc Encoder) (*Recovered, error) {
	raw, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", metaPath, err)
	}
	var meta SpoolMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode %s: %w", metaPath, err)
	}
	dataPath := strings.TrimSuffix(metaPath, spoolMetaExt) + spoolDataExt
	pcm, err := os.ReadFile(dataPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", dataPath, err)
	}
	cleanup := func() {
		_ = os.Remove(dataPath)
		_ = os.Remove(metaPath)
	}
	if len(pcm) == 0 {
		cleanup()
		return nil, nil
	}

	format := capture.Format{SampleRate: meta.SampleRate, Channels: meta.Channels}
	if format.SampleRate <= 0 || format.Channels <= 0 {
		format = capture.DefaultFormat
	}
	pcm = pcm[:len(pcm)-len(pcm)%format.BytesPerFrame()]
	data, err := enc.Encode(ctx, pcm, format)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", dataPath, err)
	}
	name := "recovered-" + meta.StartedAt.Local().Format("2006-01-02-150405") + "-" + string(meta.Role)
	dest := fileutil.UniquePath(destDir, name, enc.Extension())
	if err := fileutil.WriteFileAtomic(dest, data, 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", dest, err)
	}
	cleanup()
	return &Recovered{SessionID: meta.SessionID, Role: meta.Role, Path: dest, Bytes: int64(len(data))}, nil
}
