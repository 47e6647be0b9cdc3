package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"autorec/internal/apiclient"
	"autorec/internal/config"
	"autorec/internal/history"
	"autorec/internal/logging"
)

// Saver writes a named file and returns its path.
type Saver interface {
	Save(name string, data []byte) (string, error)
}

// Exporter delivers entries to a webhook and falls back to Markdown files.
type Exporter struct {
	client      *apiclient.Client
	webhookURL  string
	saver       Saver
	alwaysWrite bool
	logger      *slog.Logger
}

// Payload is the JSON document posted to the webhook.
type Payload struct {
	ID                       string    `json:"id"`
	Date                     time.Time `json:"date"`
	DurationMs               int64     `json:"duration_ms"`
	Duration                 string    `json:"duration"`
	Transcription            string    `json:"transcription"`
	TranscriptionChunks      []string  `json:"transcription_chunks,omitempty"`
	Summary                  string    `json:"summary,omitempty"`
	MicTranscription         string    `json:"mic_transcription,omitempty"`
	CounterpartTranscription string    `json:"counterpart_transcription,omitempty"`
	IsSeparateRecording      bool      `json:"is_separate_recording"`
	AudioPath                string    `json:"audio_path,omitempty"`
	Error                    string    `json:"error,omitempty"`
}

// New returns an exporter. A nil client or empty webhookURL disables the
// webhook; saver may be nil to disable the Markdown fallback.
func New(client *apiclient.Client, webhookURL string, saver Saver, alwaysWrite bool, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Exporter{
		client:      client,
		webhookURL:  strings.TrimSpace(webhookURL),
		saver:       saver,
		alwaysWrite: alwaysWrite,
		logger:      logging.NewComponentLogger(logger, "export"),
	}
}

// FromConfig wires the exporter from configuration. The webhook client uses
// the shared retry settings and the webhook bearer token.
func FromConfig(cfg *config.Config, observer apiclient.Observer, logger *slog.Logger) *Exporter {
	var client *apiclient.Client
	if cfg.Export.WebhookURL != "" {
		client = apiclient.New("",
			apiclient.WithBearerToken(cfg.Export.WebhookToken),
			apiclient.WithTimeout(time.Duration(cfg.OpenAI.TimeoutSeconds)*time.Second),
			apiclient.WithRetryMaxAttempts(cfg.API.MaxAttempts),
			apiclient.WithRetryBackoff(cfg.RetryBaseDelay(), cfg.RetryMaxDelay()),
			apiclient.WithObserver(observer),
			apiclient.WithLogger(logger),
		)
	}
	return New(client, cfg.Export.WebhookURL, NewMarkdownSaver(cfg.Paths.ExportDir), cfg.Export.AlwaysWriteMarkdown, logger)
}

// NewPayload converts entry into the webhook document.
func NewPayload(entry *history.Entry) Payload {
	return Payload{
		ID:                       entry.ID,
		Date:                     entry.Date.UTC(),
		DurationMs:               entry.DurationMs,
		Duration:                 history.FormatDuration(entry.Duration()),
		Transcription:            entry.Transcription,
		TranscriptionChunks:      SplitText(entry.Transcription, DefaultChunkRunes),
		Summary:                  entry.Summary,
		MicTranscription:         entry.MicTranscription,
		CounterpartTranscription: entry.CounterpartTranscription,
		IsSeparateRecording:      entry.IsSeparateRecording,
		AudioPath:                entry.AudioPath,
		Error:                    entry.ErrorMessage,
	}
}

// Export posts entry to the webhook. The Markdown file is written when the
// webhook is disabled, when it fails, or always when configured so. An error
// is returned only when no destination accepted the entry.
func (e *Exporter) Export(ctx context.Context, entry *history.Entry) error {
	if entry == nil {
		return errors.New("export: entry is nil")
	}
	logger := logging.WithContext(ctx, e.logger)

	var webhookErr error
	delivered := false
	if e.client != nil && e.webhookURL != "" {
		if _, err := e.client.PostJSON(ctx, "webhook", e.webhookURL, NewPayload(entry), nil); err != nil {
			webhookErr = fmt.Errorf("webhook export: %w", err)
		} else {
			delivered = true
			logger.Info("entry exported to webhook",
				logging.String(logging.FieldEventType, "webhook_exported"),
				logging.String("entry_id", entry.ID),
			)
		}
	}
	if delivered && !e.alwaysWrite {
		return nil
	}
	if e.saver == nil {
		return webhookErr
	}

	path, err := e.saver.Save(FileName(entry), RenderMarkdown(entry))
	if err != nil {
		return errors.Join(webhookErr, err)
	}
	logger.Info("entry written as markdown",
		logging.String(logging.FieldEventType, "markdown_exported"),
		logging.String("path", path),
		logging.Bool("webhook_failed", webhookErr != nil),
	)
	if webhookErr != nil {
		logging.WarnWithContext(logger, "webhook export failed; markdown copy saved", "webhook_export_failed",
			logging.Error(webhookErr),
			logging.String("path", path),
			logging.String(logging.FieldErrorHint, "check export.webhook_url and export.webhook_token"),
			logging.String(logging.FieldImpact, "entry available locally only"),
		)
	}
	return nil
}
