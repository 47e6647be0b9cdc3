package transcription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"autorec/internal/fileutil"
	"autorec/internal/history"
	"autorec/internal/logging"
	"autorec/internal/recorder"
	"autorec/internal/services"
)

// wavHeaderSize is the size of a canonical PCM WAV header. A sidecar file no
// larger than this carries no samples.
const wavHeaderSize = 44

// HistoryStore persists finished entries. *history.Store satisfies it.
type HistoryStore interface {
	Append(ctx context.Context, entry *history.Entry) (int, error)
}

// Exporter publishes an entry after it has been recorded in history.
type Exporter interface {
	Export(ctx context.Context, entry *history.Entry) error
}

// Observer receives per-stage timings, typically for metrics.
type Observer interface {
	StageCompleted(stage string, success bool, elapsed time.Duration)
}

// Outcome reports what Process did. Entry is always set once history has
// been written; stage errors are informational.
type Outcome struct {
	Entry            *history.Entry
	Evicted          int
	TranscriptionErr error
	SummaryErr       error
	ExportErr        error
}

// Pipeline sequences transcription, summarization, history and export.
type Pipeline struct {
	store       HistoryStore
	transcriber Transcriber
	summarizer  Summarizer
	exporter    Exporter
	observer    Observer
	audioDir    string
	keepAudio   bool
	logger      *slog.Logger
	now         func() time.Time
	title       cases.Caser
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithTranscriber enables transcription. Without one, entries are recorded
// with no transcript.
func WithTranscriber(t Transcriber) Option {
	return func(p *Pipeline) { p.transcriber = t }
}

// WithSummarizer enables summarization.
func WithSummarizer(s Summarizer) Option {
	return func(p *Pipeline) { p.summarizer = s }
}

// WithExporter sets the exporter run after history is written.
func WithExporter(e Exporter) Option {
	return func(p *Pipeline) { p.exporter = e }
}

// WithObserver registers a stage timing observer.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// WithAudioArchive saves artifacts under dir. When keep is false audio is
// only saved for sessions that produced no transcript.
func WithAudioArchive(dir string, keep bool) Option {
	return func(p *Pipeline) {
		p.audioDir = dir
		p.keepAudio = keep
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithClock substitutes the time source used for stage timings.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline returns a pipeline writing to store.
func NewPipeline(store HistoryStore, opts ...Option) *Pipeline {
	p := &Pipeline{
		store: store,
		now:   time.Now,
		title: cases.Title(language.English),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logging.NewNop()
	}
	p.logger = logging.NewComponentLogger(p.logger, "pipeline")
	return p
}

// TranscriptionEnabled reports whether a transcriber is configured.
func (p *Pipeline) TranscriptionEnabled() bool { return p.transcriber != nil }

// Process turns result into a history entry. The error is non-nil only when
// the entry could not be recorded.
func (p *Pipeline) Process(ctx context.Context, result *recorder.Result) (*Outcome, error) {
	if result == nil || (len(result.Artifacts) == 0 && result.SidecarPath == "") {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "process", "recording produced no audio", nil)
	}
	ctx = services.WithSessionID(ctx, result.SessionID)
	logger := logging.WithContext(ctx, p.logger)

	artifacts, separate := p.resolveArtifacts(ctx, result)
	if len(artifacts) == 0 {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "process", "recording produced no audio", nil)
	}

	entry := &history.Entry{
		ID:                  result.SessionID,
		Date:                result.StartedAt,
		DurationMs:          result.Duration.Milliseconds(),
		IsSeparateRecording: separate,
	}
	outcome := &Outcome{Entry: entry}

	var summaryInput string
	switch {
	case p.transcriber == nil:
		entry.ErrorMessage = "transcription disabled: no API key configured"
		logger.Info("transcription disabled; recording history only",
			logging.String(logging.FieldEventType, "transcription_skipped"))
	case separate:
		summaryInput, outcome.TranscriptionErr = p.transcribeSeparate(ctx, artifacts, entry)
	default:
		outcome.TranscriptionErr = p.transcribeSingle(ctx, artifacts[0], entry)
		summaryInput = entry.Transcription
	}
	if outcome.TranscriptionErr != nil {
		entry.ErrorMessage = outcome.TranscriptionErr.Error()
	}

	if p.summarizer != nil && strings.TrimSpace(summaryInput) != "" && (separate || outcome.TranscriptionErr == nil) {
		summary, err := p.summarize(ctx, summaryInput)
		if err != nil {
			outcome.SummaryErr = err
			logging.WarnWithContext(logger, "summarization failed", "summary_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, services.Hint(err)),
				logging.String(logging.FieldImpact, "entry saved without a summary"),
			)
		} else {
			entry.Summary = summary
		}
	}

	if p.audioDir != "" && (p.keepAudio || !entry.HasTranscription()) {
		path, err := p.archive(result, artifacts)
		if err != nil {
			logging.WarnWithContext(logger, "failed to save recording audio", "audio_archive_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check paths.export_dir permissions"),
				logging.String(logging.FieldImpact, "audio discarded"),
			)
		} else {
			entry.AudioPath = path
		}
	}

	evicted, err := p.store.Append(ctx, entry)
	if err != nil {
		return outcome, services.Wrap(services.ErrExternalTool, "pipeline", "history", "failed to record history entry", err)
	}
	outcome.Evicted = evicted
	logger.Info("history entry recorded",
		logging.String(logging.FieldEventType, "history_recorded"),
		logging.String("entry_id", entry.ID),
		logging.String("duration", history.FormatDuration(entry.Duration())),
		logging.Bool("separate", separate),
		logging.Bool("summarized", entry.Summary != ""),
		logging.Int("evicted", evicted),
	)

	if p.exporter != nil {
		started := p.now()
		if err := p.exporter.Export(ctx, entry); err != nil {
			outcome.ExportErr = err
			logging.WarnWithContext(logger, "export failed", "export_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, services.Hint(err)),
				logging.String(logging.FieldImpact, "entry kept in history only"),
			)
		}
		p.observe("export", outcome.ExportErr == nil, started)
	}
	return outcome, nil
}

// resolveArtifacts substitutes sidecar audio for the placeholder stream it
// stood in for. The second result reports whether the artifacts are to be
// treated as separate microphone and counterpart recordings.
func (p *Pipeline) resolveArtifacts(ctx context.Context, result *recorder.Result) ([]recorder.Artifact, bool) {
	artifacts := append([]recorder.Artifact(nil), result.Artifacts...)
	separate := result.Mode == recorder.ModeSeparate

	sidecar, ok := p.readSidecar(ctx, result)
	if !ok {
		return artifacts, separate
	}

	switch {
	case separate:
		artifacts = replaceRole(artifacts, recorder.RoleCounterpart, sidecar)
	case result.Sources == recorder.SourcesScreen:
		sidecar.Role = recorder.RoleCombined
		artifacts = replaceRole(artifacts, recorder.RoleCombined, sidecar)
	default:
		// The combined artifact mixed the microphone with placeholder silence,
		// so it stands in for the microphone alone.
		for i := range artifacts {
			if artifacts[i].Role == recorder.RoleCombined {
				artifacts[i].Role = recorder.RoleMicrophone
			}
		}
		artifacts = replaceRole(artifacts, recorder.RoleCounterpart, sidecar)
		separate = true
	}
	return artifacts, separate
}

func (p *Pipeline) readSidecar(ctx context.Context, result *recorder.Result) (recorder.Artifact, bool) {
	path := result.SidecarPath
	if path == "" {
		return recorder.Artifact{}, false
	}
	logger := logging.WithContext(ctx, p.logger)
	data, err := os.ReadFile(path)
	if err != nil {
		logging.WarnWithContext(logger, "failed to read system audio capture", "sidecar_read_failed",
			logging.String("path", path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the sidecar may have exited before writing audio"),
			logging.String(logging.FieldImpact, "counterpart transcribed from the recorded stream"),
		)
		return recorder.Artifact{}, false
	}
	if err := os.Remove(path); err != nil {
		logger.Debug("remove sidecar file failed", logging.String("path", path), logging.Error(err))
	}
	if len(data) <= wavHeaderSize {
		logger.Info("system audio capture was empty",
			logging.String(logging.FieldEventType, "sidecar_empty"),
			logging.Int("bytes", len(data)))
		return recorder.Artifact{}, false
	}
	return recorder.Artifact{
		Role:      recorder.RoleCounterpart,
		Data:      data,
		MIMEType:  "audio/wav",
		Extension: ".wav",
		Duration:  result.Duration,
	}, true
}

func replaceRole(artifacts []recorder.Artifact, role recorder.Role, replacement recorder.Artifact) []recorder.Artifact {
	for i := range artifacts {
		if artifacts[i].Role == role {
			artifacts[i] = replacement
			return artifacts
		}
	}
	return append(artifacts, replacement)
}

func (p *Pipeline) transcribeSingle(ctx context.Context, artifact recorder.Artifact, entry *history.Entry) error {
	text, err := p.transcribe(ctx, artifact)
	if err != nil {
		return err
	}
	entry.Transcription = text
	switch artifact.Role {
	case recorder.RoleMicrophone:
		entry.MicTranscription = text
	case recorder.RoleCounterpart:
		entry.CounterpartTranscription = text
	}
	return nil
}

type section struct {
	role recorder.Role
	text string
	err  error
}

// transcribeSeparate transcribes every role concurrently and assembles the
// combined transcript once all of them have resolved. Failed sections are
// marked in the transcript but left out of the returned summary input.
func (p *Pipeline) transcribeSeparate(ctx context.Context, artifacts []recorder.Artifact, entry *history.Entry) (string, error) {
	sections := make([]section, 0, 2)
	for _, role := range []recorder.Role{recorder.RoleMicrophone, recorder.RoleCounterpart} {
		if _, ok := artifactFor(artifacts, role); ok {
			sections = append(sections, section{role: role})
		}
	}
	if len(sections) == 0 {
		err := p.transcribeSingle(ctx, artifacts[0], entry)
		return entry.Transcription, err
	}

	var g errgroup.Group
	for i := range sections {
		artifact, _ := artifactFor(artifacts, sections[i].role)
		g.Go(func() error {
			roleCtx := services.WithRole(ctx, string(sections[i].role))
			sections[i].text, sections[i].err = p.transcribe(roleCtx, artifact)
			return nil
		})
	}
	_ = g.Wait()

	var (
		blocks    []string
		succeeded []string
		errs      []error
	)
	for _, s := range sections {
		label := p.title.String(string(s.role))
		if s.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.role, s.err))
			blocks = append(blocks, fmt.Sprintf("## %s\n\n[transcription failed: %s]", label, s.err))
			continue
		}
		switch s.role {
		case recorder.RoleMicrophone:
			entry.MicTranscription = s.text
		case recorder.RoleCounterpart:
			entry.CounterpartTranscription = s.text
		}
		block := fmt.Sprintf("## %s\n\n%s", label, s.text)
		blocks = append(blocks, block)
		succeeded = append(succeeded, block)
	}
	entry.Transcription = strings.Join(blocks, "\n\n")
	if len(errs) == len(sections) {
		entry.Transcription = ""
	}
	return strings.Join(succeeded, "\n\n"), errors.Join(errs...)
}

func artifactFor(artifacts []recorder.Artifact, role recorder.Role) (recorder.Artifact, bool) {
	for _, a := range artifacts {
		if a.Role == role {
			return a, true
		}
	}
	return recorder.Artifact{}, false
}

func (p *Pipeline) transcribe(ctx context.Context, artifact recorder.Artifact) (string, error) {
	logger := logging.WithContext(ctx, p.logger)
	started := p.now()
	text, err := p.transcriber.Transcribe(ctx, Audio{
		Data:     artifact.Data,
		MIMEType: artifact.MIMEType,
		Filename: string(artifact.Role) + artifact.Extension,
	})
	p.observe("transcription", err == nil, started)
	if err != nil {
		logging.WarnWithContext(logger, "transcription failed", "transcription_failed",
			logging.String(logging.FieldRole, string(artifact.Role)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, services.Hint(err)),
			logging.String(logging.FieldImpact, "transcript missing for this recording"),
		)
		return "", err
	}
	logger.Info("transcription completed",
		logging.String(logging.FieldEventType, "transcription_completed"),
		logging.String(logging.FieldRole, string(artifact.Role)),
		logging.Int("chars", len(text)),
		logging.Duration("elapsed", p.now().Sub(started)),
	)
	return text, nil
}

func (p *Pipeline) summarize(ctx context.Context, transcript string) (string, error) {
	started := p.now()
	summary, err := p.summarizer.Summarize(ctx, transcript)
	p.observe("summary", err == nil, started)
	return summary, err
}

func (p *Pipeline) archive(result *recorder.Result, artifacts []recorder.Artifact) (string, error) {
	if err := os.MkdirAll(p.audioDir, 0o755); err != nil {
		return "", fmt.Errorf("create audio dir: %w", err)
	}
	stamp := result.StartedAt.Local().Format("20060102-150405")
	var first string
	for _, artifact := range artifacts {
		name := fmt.Sprintf("recording-%s-%s", stamp, artifact.Role)
		path := fileutil.UniquePath(p.audioDir, name, artifact.Extension)
		if err := fileutil.WriteFileAtomic(path, artifact.Data, 0o644); err != nil {
			return first, err
		}
		if first == "" {
			first = path
		}
	}
	return filepath.Clean(first), nil
}

func (p *Pipeline) observe(stage string, ok bool, started time.Time) {
	if p.observer == nil {
		return
	}
	p.observer.StageCompleted(stage, ok, p.now().Sub(started))
}
