package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"autorec/internal/capture"
	"autorec/internal/config"
	"autorec/internal/history"
	"autorec/internal/recorder"
	"autorec/internal/testsupport"
)

type cliTestEnv struct {
	baseDir    string
	configPath string
	exportDir  string
	stateDir   string
}

func setupCLITestEnv(t *testing.T, extra string) *cliTestEnv {
	t.Helper()
	base := t.TempDir()
	t.Setenv("HOME", filepath.Join(base, "home"))
	t.Setenv("OPENAI_API_KEY", "")
	env := &cliTestEnv{
		baseDir:    base,
		configPath: filepath.Join(base, "config.toml"),
		exportDir:  filepath.Join(base, "export"),
		stateDir:   filepath.Join(base, "state"),
	}
	content := fmt.Sprintf(`[paths]
state_dir = %q
log_dir = %q
export_dir = %q
temp_dir = %q

[capture]
device_events = false

[api]
max_attempts = 1
base_delay_ms = 1
max_delay_ms = 5
%s`, env.stateDir, filepath.Join(base, "logs"), env.exportDir, filepath.Join(base, "tmp"), extra)
	if err := os.WriteFile(env.configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return env
}

func (e *cliTestEnv) config(t *testing.T) *config.Config {
	t.Helper()
	cfg, _, _, err := config.Load(e.configPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func (e *cliTestEnv) seed(t *testing.T, entries ...*history.Entry) {
	t.Helper()
	cfg := e.config(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure dirs: %v", err)
	}
	store := testsupport.MustOpenHistory(t, cfg)
	for _, entry := range entries {
		if _, err := store.Append(context.Background(), entry); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(""))
	flags := []string{}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t, "")

	out, _, err := runCLI(t, []string{"config", "validate"}, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, "Transcription: no")

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected init to refuse overwriting without --overwrite")
	}
}

func TestHistoryCommands(t *testing.T) {
	env := setupCLITestEnv(t, "")
	archived := filepath.Join(env.baseDir, "recordings", "meeting.wav")
	testsupport.WriteFile(t, archived, 2048)
	env.seed(t,
		&history.Entry{
			ID:            "aaaa1111-0000-0000-0000-000000000000",
			Date:          time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
			DurationMs:    65_000,
			Transcription: "Alpha standup notes",
			Summary:       "Alpha summary",
			AudioPath:     archived,
		},
		&history.Entry{
			ID:           "bbbb2222-0000-0000-0000-000000000000",
			Date:         time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
			DurationMs:   5_000,
			ErrorMessage: "transcription disabled: no API key configured",
		},
	)

	out, _, err := runCLI(t, []string{"history", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("history list: %v", err)
	}
	requireContains(t, out, "aaaa1111")
	requireContains(t, out, "01:05")
	requireContains(t, out, "Alpha summary")
	if strings.Index(out, "bbbb2222") > strings.Index(out, "aaaa1111") {
		t.Fatal("expected newest entry listed first")
	}

	out, _, err = runCLI(t, []string{"history", "show", "aaaa"}, env.configPath)
	if err != nil {
		t.Fatalf("history show: %v", err)
	}
	requireContains(t, out, "Alpha standup notes")

	out, _, err = runCLI(t, []string{"history", "show", "--markdown", "aaaa"}, env.configPath)
	if err != nil {
		t.Fatalf("history show --markdown: %v", err)
	}
	requireContains(t, out, "## Summary")

	if _, _, err := runCLI(t, []string{"history", "show", "zzzz"}, env.configPath); err == nil {
		t.Fatal("expected unknown id to fail")
	}

	audioDest := t.TempDir()
	out, _, err = runCLI(t, []string{"history", "audio", "aaaa", audioDest}, env.configPath)
	if err != nil {
		t.Fatalf("history audio: %v", err)
	}
	requireContains(t, out, filepath.Join(audioDest, "meeting.wav"))
	if _, _, err := runCLI(t, []string{"history", "audio", "bbbb", audioDest}, env.configPath); err == nil {
		t.Fatal("expected entry without audio to fail")
	}

	out, _, err = runCLI(t, []string{"history", "delete", "bbbb"}, env.configPath)
	if err != nil {
		t.Fatalf("history delete: %v", err)
	}
	requireContains(t, out, "Deleted bbbb2222")

	if _, _, err := runCLI(t, []string{"history", "clear"}, env.configPath); err == nil {
		t.Fatal("expected clear without --yes to fail")
	}
	out, _, err = runCLI(t, []string{"history", "clear", "--yes"}, env.configPath)
	if err != nil {
		t.Fatalf("history clear: %v", err)
	}
	requireContains(t, out, "Removed 1 entries")

	out, _, err = runCLI(t, []string{"history", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("history list: %v", err)
	}
	requireContains(t, out, "No recordings yet")
}

func TestTranscribeCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/audio/transcriptions"):
			fmt.Fprint(w, `{"text":"  we agreed to ship on friday  "}`)
		case strings.HasSuffix(r.URL.Path, "/chat/completions"):
			fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"Ship Friday."}}]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	env := setupCLITestEnv(t, fmt.Sprintf("\n[openai]\napi_key = \"test-key\"\nbase_url = %q\n", srv.URL))
	audio := filepath.Join(env.baseDir, "meeting.wav")
	pcm := testsupport.SinePCM(44100, 440, 0.3, 44100)
	if err := os.WriteFile(audio, recorder.EncodeWAV(pcm, capture.DefaultFormat), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}

	out, _, err := runCLI(t, []string{"transcribe", audio}, env.configPath)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	requireContains(t, out, "Ship Friday.")

	cfg := env.config(t)
	store := testsupport.MustOpenHistory(t, cfg)
	defer store.Close()
	entries, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Transcription != "we agreed to ship on friday" || entry.Summary != "Ship Friday." {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if entry.Duration() < 900*time.Millisecond || entry.Duration() > 1100*time.Millisecond {
		t.Fatalf("unexpected duration %s", entry.Duration())
	}
	matches, _ := filepath.Glob(filepath.Join(env.exportDir, "meeting-*.md"))
	if len(matches) != 1 {
		t.Fatalf("expected markdown fallback export, got %v", matches)
	}
}

func TestTranscribeRequiresAPIKey(t *testing.T) {
	env := setupCLITestEnv(t, "")
	audio := filepath.Join(env.baseDir, "meeting.wav")
	if err := os.WriteFile(audio, []byte("RIFF"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, _, err := runCLI(t, []string{"transcribe", audio}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "api_key") {
		t.Fatalf("expected missing key error, got %v", err)
	}
}

func TestLoadAudioFileRejectsUnknownRole(t *testing.T) {
	if _, err := loadAudioFile("meeting.wav", recorder.Role("speaker")); err == nil {
		t.Fatal("expected invalid role error")
	}
}

func TestWAVDuration(t *testing.T) {
	pcm := testsupport.SinePCM(22050, 440, 0.3, 44100)
	if got := wavDuration(recorder.EncodeWAV(pcm, capture.DefaultFormat)); got != 500*time.Millisecond {
		t.Fatalf("wavDuration = %s, want 500ms", got)
	}
	if got := wavDuration([]byte("OggS-not-a-wav-file-at-all-but-long-enough-to-check")); got != 0 {
		t.Fatalf("expected zero for non-WAV data, got %s", got)
	}
}

func TestRecoverCommandWithEmptySpool(t *testing.T) {
	env := setupCLITestEnv(t, "")
	out, _, err := runCLI(t, []string{"recover"}, env.configPath)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	requireContains(t, out, "Nothing to recover")
}

func TestLinePrompter(t *testing.T) {
	sources := []capture.Source{
		{ID: "screen:0", Name: "Entire screen", Kind: capture.SourceScreen},
		{ID: "window:0x2", Name: "Meeting", Kind: capture.SourceWindow},
	}
	ctx := context.Background()

	tests := []struct {
		name        string
		input       string
		interactive bool
		wantID      string
		wantErr     error
	}{
		{"non-interactive picks first", "", false, "screen:0", nil},
		{"numbered choice", "2\n", true, "window:0x2", nil},
		{"retries invalid input", "9\nx\n1\n", true, "screen:0", nil},
		{"empty cancels", "\n", true, "", capture.ErrCancelled},
		{"eof cancels", "", true, "", capture.ErrCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			p := newLinePrompter(bufio.NewReader(strings.NewReader(tt.input)), &out, tt.interactive)
			got, err := p.SelectSource(ctx, sources)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("SelectSource: %v", err)
			}
			if got.ID != tt.wantID {
				t.Fatalf("selected %q, want %q", got.ID, tt.wantID)
			}
		})
	}

	var out bytes.Buffer
	p := newLinePrompter(bufio.NewReader(strings.NewReader("n\n")), &out, true)
	ok, err := p.Confirm(ctx, capture.NoAudioQuestion)
	if err != nil || ok {
		t.Fatalf("Confirm(n) = %v, %v", ok, err)
	}
	p = newLinePrompter(bufio.NewReader(strings.NewReader("\n")), &out, true)
	if ok, _ := p.Confirm(ctx, capture.NoAudioQuestion); !ok {
		t.Fatal("expected empty answer to accept")
	}
}

func TestTestNotifyWithoutTopic(t *testing.T) {
	env := setupCLITestEnv(t, "")
	out, _, err := runCLI(t, []string{"test-notify"}, env.configPath)
	if err != nil {
		t.Fatalf("test-notify: %v", err)
	}
	requireContains(t, out, "not configured")
}
