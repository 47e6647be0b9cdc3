package transcription

import (
	"context"
	"strings"

	"autorec/internal/apiclient"
	"autorec/internal/services"
)

const chatCompletionsPath = "/chat/completions"

// Summarizer condenses a transcript.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

// SummarizerConfig holds chat completion parameters.
type SummarizerConfig struct {
	Model       string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// OpenAISummarizer calls the chat completions endpoint.
type OpenAISummarizer struct {
	client *apiclient.Client
	cfg    SummarizerConfig
}

// NewOpenAISummarizer returns a summarizer using client.
func NewOpenAISummarizer(client *apiclient.Client, cfg SummarizerConfig) (*OpenAISummarizer, error) {
	if client == nil {
		return nil, services.Wrap(services.ErrConfiguration, "summary", "init", "api client required", nil)
	}
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.Model == "" {
		cfg.Model = "gpt-4"
	}
	cfg.Prompt = strings.TrimSpace(cfg.Prompt)
	if cfg.Prompt == "" {
		return nil, services.Wrap(services.ErrConfiguration, "summary", "init", "summary prompt required", nil)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1000
	}
	return &OpenAISummarizer{client: client, cfg: cfg}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// Summarize returns the model's summary of transcript.
func (s *OpenAISummarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return "", services.Wrap(services.ErrValidation, "summary", "summarize", "transcript is empty", nil)
	}
	payload := chatCompletionRequest{
		Model: s.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: s.cfg.Prompt},
			{Role: "user", Content: transcript},
		},
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
	}
	var resp chatCompletionResponse
	if _, err := s.client.PostJSON(ctx, "summary", chatCompletionsPath, payload, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", services.Wrap(services.ErrExternalTool, "summary", "decode", "response contained no choices", nil)
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", services.Wrap(services.ErrExternalTool, "summary", "decode",
			"empty summary (finish_reason="+resp.Choices[0].FinishReason+")", nil)
	}
	return content, nil
}
