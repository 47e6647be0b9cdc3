package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StateDir  string `toml:"state_dir"`
	LogDir    string `toml:"log_dir"`
	ExportDir string `toml:"export_dir"`
	TempDir   string `toml:"temp_dir"`
	EnvFile   string `toml:"env_file"`
}

// Capture contains audio acquisition settings used by the ffmpeg backend.
type Capture struct {
	FFmpegBinary      string `toml:"ffmpeg_binary"`
	InputFormat       string `toml:"input_format"`
	MicrophoneDevice  string `toml:"microphone_device"`
	EchoCancelDevice  string `toml:"echo_cancel_device"`
	ScreenAudioDevice string `toml:"screen_audio_device"`
	SystemAudioDevice string `toml:"system_audio_device"`
	SidecarEnabled    bool   `toml:"sidecar_enabled"`
	SidecarDevice     string `toml:"sidecar_device"`
	SampleRate        int    `toml:"sample_rate"`
	Channels          int    `toml:"channels"`
	// EchoCancellation and NoiseSuppression apply to the microphone only.
	// Screen and system audio always request both disabled.
	EchoCancellation   bool `toml:"echo_cancellation"`
	NoiseSuppression   bool `toml:"noise_suppression"`
	StartupTimeoutSecs int  `toml:"startup_timeout_seconds"`
	Thumbnails         bool `toml:"thumbnails"`
	DeviceEvents       bool `toml:"device_events"`
}

// Recording contains session lifecycle and encoding settings.
type Recording struct {
	Mode                 string  `toml:"mode"`
	Sources              string  `toml:"sources"`
	ChunkIntervalSeconds int     `toml:"chunk_interval_seconds"`
	MinDurationSeconds   float64 `toml:"min_duration_seconds"`
	Format               string  `toml:"format"`
	MicrophoneGain       float64 `toml:"microphone_gain"`
	CounterpartGain      float64 `toml:"counterpart_gain"`
	Spool                bool    `toml:"spool"`
	KeepAudio            bool    `toml:"keep_audio"`
	LevelSampleMillis    int     `toml:"level_sample_ms"`
}

// Monitor contains settings for the shared-source watcher.
type Monitor struct {
	PollIntervalMillis int `toml:"poll_interval_ms"`
}

// OpenAI contains transcription and summarization endpoint settings.
type OpenAI struct {
	APIKey             string  `toml:"api_key"`
	BaseURL            string  `toml:"base_url"`
	TranscriptionModel string  `toml:"transcription_model"`
	SummaryModel       string  `toml:"summary_model"`
	Language           string  `toml:"language"`
	SummaryPrompt      string  `toml:"summary_prompt"`
	MaxTokens          int     `toml:"max_tokens"`
	Temperature        float64 `toml:"temperature"`
	TimeoutSeconds     int     `toml:"timeout_seconds"`
}

// API contains retry settings shared by outbound requests.
type API struct {
	MaxAttempts     int `toml:"max_attempts"`
	BaseDelayMillis int `toml:"base_delay_ms"`
	MaxDelayMillis  int `toml:"max_delay_ms"`
}

// Pipeline toggles the post-recording stages.
type Pipeline struct {
	AutoTranscribe bool `toml:"auto_transcribe"`
	AutoSummarize  bool `toml:"auto_summarize"`
}

// Export contains configuration for pushing finished entries elsewhere.
type Export struct {
	WebhookURL          string `toml:"webhook_url"`
	WebhookToken        string `toml:"webhook_token"`
	AlwaysWriteMarkdown bool   `toml:"always_write_markdown"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Saved          bool   `toml:"saved"`
	SourceLost     bool   `toml:"source_lost"`
	Errors         bool   `toml:"errors"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format     string `toml:"format"`
	Level      string `toml:"level"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// Metrics contains configuration for the Prometheus endpoint.
type Metrics struct {
	Bind string `toml:"bind"`
}

// Config encapsulates all configuration values for autorec.
//
// Configuration sections by subsystem:
//   - Paths: state, log, export and temp directories
//   - Capture: ffmpeg devices, microphone processing hints, sidecar
//   - Recording: session mode, chunking, minimum length, mix gains
//   - Monitor: shared window polling
//   - OpenAI: transcription and summarization endpoints
//   - API: retry policy for outbound requests
//   - Pipeline: which post-recording stages run
//   - Export: webhook and Markdown fallback
//   - Notifications: ntfy push notification settings
//   - Logging: log format, level, and rotation
//   - Metrics: Prometheus listener
type Config struct {
	Paths         Paths         `toml:"paths"`
	Capture       Capture       `toml:"capture"`
	Recording     Recording     `toml:"recording"`
	Monitor       Monitor       `toml:"monitor"`
	OpenAI        OpenAI        `toml:"openai"`
	API           API           `toml:"api"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Export        Export        `toml:"export"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
	Metrics       Metrics       `toml:"metrics"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.loadEnvFile(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("autorec.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// loadEnvFile populates unset environment variables from paths.env_file.
// Variables already present in the process environment win.
func (c *Config) loadEnvFile() error {
	envPath := strings.TrimSpace(c.Paths.EnvFile)
	if envPath == "" {
		return nil
	}
	expanded, err := expandPath(envPath)
	if err != nil {
		return fmt.Errorf("paths.env_file: %w", err)
	}
	c.Paths.EnvFile = expanded
	if _, err := os.Stat(expanded); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("paths.env_file: %w", err)
	}
	if err := godotenv.Load(expanded); err != nil {
		return fmt.Errorf("paths.env_file: load %s: %w", expanded, err)
	}
	return nil
}

// EnsureDirectories creates the directories recording sessions write into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.StateDir, c.Paths.LogDir, c.Paths.ExportDir}
	if c.Recording.Spool {
		dirs = append(dirs, c.SpoolDir())
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// HistoryDBPath returns the SQLite database location for recording history.
func (c *Config) HistoryDBPath() string {
	return filepath.Join(c.Paths.StateDir, "history.db")
}

// LockPath returns the file used to guard the single active session.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "session.lock")
}

// SpoolDir returns the directory holding in-progress chunk spools.
func (c *Config) SpoolDir() string {
	return filepath.Join(c.Paths.StateDir, "spool")
}

// ChunkInterval returns the sub-recorder chunk emission interval.
func (c *Config) ChunkInterval() time.Duration {
	return time.Duration(c.Recording.ChunkIntervalSeconds) * time.Second
}

// MinDuration returns the shortest recording that is sent to the pipeline.
func (c *Config) MinDuration() time.Duration {
	return time.Duration(c.Recording.MinDurationSeconds * float64(time.Second))
}

// MonitorInterval returns the shared-source poll interval.
func (c *Config) MonitorInterval() time.Duration {
	return time.Duration(c.Monitor.PollIntervalMillis) * time.Millisecond
}

// LevelSampleInterval returns how often input levels are pulled from the mixer.
func (c *Config) LevelSampleInterval() time.Duration {
	return time.Duration(c.Recording.LevelSampleMillis) * time.Millisecond
}

// RetryBaseDelay returns the first backoff delay for outbound requests.
func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.API.BaseDelayMillis) * time.Millisecond
}

// RetryMaxDelay returns the upper bound for any single retry wait.
func (c *Config) RetryMaxDelay() time.Duration {
	return time.Duration(c.API.MaxDelayMillis) * time.Millisecond
}

// TranscriptionEnabled reports whether an API key is available for the pipeline.
func (c *Config) TranscriptionEnabled() bool {
	return strings.TrimSpace(c.OpenAI.APIKey) != ""
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
