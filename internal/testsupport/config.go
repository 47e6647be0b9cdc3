package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"autorec/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Network-facing settings are left blank so nothing leaves the process.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.ExportDir = filepath.Join(base, "export")
	cfgVal.Paths.TempDir = filepath.Join(base, "tmp")
	cfgVal.Paths.EnvFile = ""
	cfgVal.OpenAI.APIKey = ""
	cfgVal.Capture.DeviceEvents = false
	cfgVal.Capture.Thumbnails = false
	cfgVal.Metrics.Bind = ""
	if err := os.MkdirAll(cfgVal.Paths.TempDir, 0o755); err != nil {
		t.Fatalf("mkdir temp dir: %v", err)
	}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithAPIKey sets the OpenAI API key and base URL on the test config.
func WithAPIKey(key, baseURL string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.OpenAI.APIKey = key
		if baseURL != "" {
			b.cfg.OpenAI.BaseURL = baseURL
		}
	}
}

// WithMode sets the recording mode and source selection.
func WithMode(mode, sources string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Recording.Mode = mode
		b.cfg.Recording.Sources = sources
	}
}

// WithFastRetries shrinks the retry backoff so tests finish quickly.
func WithFastRetries() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.API.BaseDelayMillis = 1
		b.cfg.API.MaxDelayMillis = 5
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, ffmpeg is stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"ffmpeg"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
