package transcription

import (
	"log/slog"
	"time"

	"autorec/internal/apiclient"
	"autorec/internal/config"
)

// NewAPIClient builds the OpenAI client from configuration.
func NewAPIClient(cfg *config.Config, observer apiclient.Observer, logger *slog.Logger) *apiclient.Client {
	return apiclient.New(cfg.OpenAI.BaseURL,
		apiclient.WithBearerToken(cfg.OpenAI.APIKey),
		apiclient.WithTimeout(time.Duration(cfg.OpenAI.TimeoutSeconds)*time.Second),
		apiclient.WithRetryMaxAttempts(cfg.API.MaxAttempts),
		apiclient.WithRetryBackoff(cfg.RetryBaseDelay(), cfg.RetryMaxDelay()),
		apiclient.WithObserver(observer),
		apiclient.WithLogger(logger),
	)
}

// FromConfig assembles a pipeline from configuration. Transcription and
// summarization are left disabled when no API key is configured or when the
// pipeline section turns them off. Extra options are applied last.
func FromConfig(cfg *config.Config, store HistoryStore, client *apiclient.Client, opts ...Option) (*Pipeline, error) {
	base := []Option{WithAudioArchive(cfg.Paths.ExportDir, cfg.Recording.KeepAudio)}
	if cfg.TranscriptionEnabled() && cfg.Pipeline.AutoTranscribe && client != nil {
		transcriber, err := NewOpenAITranscriber(client, cfg.OpenAI.TranscriptionModel, cfg.OpenAI.Language)
		if err != nil {
			return nil, err
		}
		base = append(base, WithTranscriber(transcriber))
		if cfg.Pipeline.AutoSummarize {
			summarizer, err := NewOpenAISummarizer(client, SummarizerConfig{
				Model:       cfg.OpenAI.SummaryModel,
				Prompt:      cfg.OpenAI.SummaryPrompt,
				MaxTokens:   cfg.OpenAI.MaxTokens,
				Temperature: cfg.OpenAI.Temperature,
			})
			if err != nil {
				return nil, err
			}
			base = append(base, WithSummarizer(summarizer))
		}
	}
	return NewPipeline(store, append(base, opts...)...), nil
}
