package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeCapture()
	c.normalizeRecording()
	c.normalizeOpenAI()
	c.normalizeExport()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.StateDir, "logs")
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ExportDir) == "" {
		c.Paths.ExportDir = defaultExportDir
	}
	if c.Paths.ExportDir, err = expandPath(c.Paths.ExportDir); err != nil {
		return fmt.Errorf("paths.export_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.TempDir) == "" {
		c.Paths.TempDir = os.TempDir()
	}
	if c.Paths.TempDir, err = expandPath(c.Paths.TempDir); err != nil {
		return fmt.Errorf("paths.temp_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeCapture() {
	c.Capture.FFmpegBinary = strings.TrimSpace(c.Capture.FFmpegBinary)
	if c.Capture.FFmpegBinary == "" {
		c.Capture.FFmpegBinary = defaultFFmpegBinary
	}
	c.Capture.InputFormat = strings.ToLower(strings.TrimSpace(c.Capture.InputFormat))
	if c.Capture.InputFormat == "" {
		c.Capture.InputFormat = defaultInputFormat
	}
	c.Capture.MicrophoneDevice = strings.TrimSpace(c.Capture.MicrophoneDevice)
	if c.Capture.MicrophoneDevice == "" {
		c.Capture.MicrophoneDevice = defaultMicrophoneDevice
	}
	c.Capture.EchoCancelDevice = strings.TrimSpace(c.Capture.EchoCancelDevice)
	c.Capture.ScreenAudioDevice = strings.TrimSpace(c.Capture.ScreenAudioDevice)
	c.Capture.SystemAudioDevice = strings.TrimSpace(c.Capture.SystemAudioDevice)
	c.Capture.SidecarDevice = strings.TrimSpace(c.Capture.SidecarDevice)
	if c.Capture.SampleRate <= 0 {
		c.Capture.SampleRate = defaultSampleRate
	}
	if c.Capture.Channels <= 0 {
		c.Capture.Channels = defaultChannels
	}
	if c.Capture.StartupTimeoutSecs <= 0 {
		c.Capture.StartupTimeoutSecs = defaultStartupTimeout
	}
}

func (c *Config) normalizeRecording() {
	c.Recording.Mode = strings.ToLower(strings.TrimSpace(c.Recording.Mode))
	if c.Recording.Mode == "" {
		c.Recording.Mode = defaultMode
	}
	c.Recording.Sources = strings.ToLower(strings.TrimSpace(c.Recording.Sources))
	if c.Recording.Sources == "" {
		c.Recording.Sources = defaultSources
	}
	c.Recording.Format = strings.ToLower(strings.TrimSpace(c.Recording.Format))
	if c.Recording.Format == "" {
		c.Recording.Format = defaultFormat
	}
	if c.Recording.ChunkIntervalSeconds <= 0 {
		c.Recording.ChunkIntervalSeconds = defaultChunkIntervalSeconds
	}
	if c.Recording.LevelSampleMillis <= 0 {
		c.Recording.LevelSampleMillis = defaultLevelSampleMillis
	}
	if c.Monitor.PollIntervalMillis <= 0 {
		c.Monitor.PollIntervalMillis = defaultPollIntervalMillis
	}
}

func (c *Config) normalizeOpenAI() {
	c.OpenAI.APIKey = strings.TrimSpace(c.OpenAI.APIKey)
	if c.OpenAI.APIKey == "" {
		if value, ok := os.LookupEnv("OPENAI_API_KEY"); ok {
			c.OpenAI.APIKey = strings.TrimSpace(value)
		}
	}
	c.OpenAI.BaseURL = strings.TrimRight(strings.TrimSpace(c.OpenAI.BaseURL), "/")
	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = defaultOpenAIBaseURL
	}
	c.OpenAI.TranscriptionModel = strings.TrimSpace(c.OpenAI.TranscriptionModel)
	if c.OpenAI.TranscriptionModel == "" {
		c.OpenAI.TranscriptionModel = defaultTranscriptionModel
	}
	c.OpenAI.SummaryModel = strings.TrimSpace(c.OpenAI.SummaryModel)
	if c.OpenAI.SummaryModel == "" {
		c.OpenAI.SummaryModel = defaultSummaryModel
	}
	c.OpenAI.Language = strings.TrimSpace(c.OpenAI.Language)
	if c.OpenAI.Language == "" {
		c.OpenAI.Language = defaultLanguage
	}
	if strings.TrimSpace(c.OpenAI.SummaryPrompt) == "" {
		c.OpenAI.SummaryPrompt = DefaultSummaryPrompt
	}
	if c.OpenAI.MaxTokens <= 0 {
		c.OpenAI.MaxTokens = defaultMaxTokens
	}
	if c.OpenAI.TimeoutSeconds <= 0 {
		c.OpenAI.TimeoutSeconds = defaultOpenAITimeout
	}
	if c.API.MaxAttempts <= 0 {
		c.API.MaxAttempts = defaultAPIMaxAttempts
	}
	if c.API.BaseDelayMillis <= 0 {
		c.API.BaseDelayMillis = defaultAPIBaseDelayMillis
	}
	if c.API.MaxDelayMillis <= 0 {
		c.API.MaxDelayMillis = defaultAPIMaxDelayMillis
	}
}

func (c *Config) normalizeExport() {
	c.Export.WebhookURL = strings.TrimSpace(c.Export.WebhookURL)
	c.Export.WebhookToken = strings.TrimSpace(c.Export.WebhookToken)
	if c.Export.WebhookToken == "" {
		if value, ok := os.LookupEnv("AUTOREC_WEBHOOK_TOKEN"); ok {
			c.Export.WebhookToken = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = defaultLogMaxSizeMB
	}
	if c.Logging.MaxBackups < 0 {
		c.Logging.MaxBackups = 0
	}
	if c.Logging.MaxAgeDays < 0 {
		c.Logging.MaxAgeDays = 0
	}
	c.Metrics.Bind = strings.TrimSpace(c.Metrics.Bind)
}
