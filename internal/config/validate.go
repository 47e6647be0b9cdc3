package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateCapture(); err != nil {
		return err
	}
	if err := c.validateRecording(); err != nil {
		return err
	}
	if err := c.validateOpenAI(); err != nil {
		return err
	}
	if err := c.validateAPI(); err != nil {
		return err
	}
	if err := c.validateExport(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateCapture() error {
	if c.Capture.SampleRate < 8000 || c.Capture.SampleRate > 192000 {
		return fmt.Errorf("capture.sample_rate must be between 8000 and 192000; got %d", c.Capture.SampleRate)
	}
	if c.Capture.Channels != 1 && c.Capture.Channels != 2 {
		return fmt.Errorf("capture.channels must be 1 or 2; got %d", c.Capture.Channels)
	}
	return nil
}

func (c *Config) validateRecording() error {
	switch c.Recording.Mode {
	case "single", "separate":
	default:
		return fmt.Errorf("recording.mode must be 'single' or 'separate'; got %q", c.Recording.Mode)
	}
	switch c.Recording.Sources {
	case "both", "microphone", "screen":
	default:
		return fmt.Errorf("recording.sources must be one of both, microphone, screen; got %q", c.Recording.Sources)
	}
	if c.Recording.Mode == "separate" && c.Recording.Sources != "both" {
		return errors.New("recording.mode 'separate' requires recording.sources 'both'")
	}
	switch c.Recording.Format {
	case "wav", "opus":
	default:
		return fmt.Errorf("recording.format must be 'wav' or 'opus'; got %q", c.Recording.Format)
	}
	if c.Recording.MinDurationSeconds < 0 {
		return errors.New("recording.min_duration_seconds must be zero or positive")
	}
	if c.Recording.MicrophoneGain < 0 || c.Recording.MicrophoneGain > 4 {
		return errors.New("recording.microphone_gain must be between 0 and 4")
	}
	if c.Recording.CounterpartGain < 0 || c.Recording.CounterpartGain > 4 {
		return errors.New("recording.counterpart_gain must be between 0 and 4")
	}
	return nil
}

func (c *Config) validateOpenAI() error {
	if _, err := url.ParseRequestURI(c.OpenAI.BaseURL); err != nil {
		return fmt.Errorf("openai.base_url: %w", err)
	}
	if c.OpenAI.Temperature < 0 || c.OpenAI.Temperature > 2 {
		return errors.New("openai.temperature must be between 0 and 2")
	}
	return nil
}

func (c *Config) validateAPI() error {
	if c.API.MaxAttempts > 10 {
		return errors.New("api.max_attempts must be 10 or fewer")
	}
	if c.API.MaxDelayMillis < c.API.BaseDelayMillis {
		return errors.New("api.max_delay_ms must be greater than or equal to api.base_delay_ms")
	}
	return nil
}

func (c *Config) validateExport() error {
	if c.Export.WebhookURL == "" {
		return nil
	}
	parsed, err := url.Parse(c.Export.WebhookURL)
	if err != nil {
		return fmt.Errorf("export.webhook_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("export.webhook_url must use http or https; got %q", parsed.Scheme)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be 'console' or 'json'; got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}
	if bind := c.Metrics.Bind; bind != "" && !strings.Contains(bind, ":") {
		return fmt.Errorf("metrics.bind must be host:port; got %q", bind)
	}
	return nil
}
