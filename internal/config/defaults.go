package config

const (
	defaultConfigPath           = "~/.config/autorec/config.toml"
	defaultStateDir             = "~/.local/share/autorec"
	defaultLogDir               = "~/.local/share/autorec/logs"
	defaultExportDir            = "~/Documents/autorec"
	defaultEnvFile              = "~/.config/autorec/.env"
	defaultFFmpegBinary         = "ffmpeg"
	defaultInputFormat          = "pulse"
	defaultMicrophoneDevice     = "default"
	defaultSampleRate           = 44100
	defaultChannels             = 2
	defaultStartupTimeout       = 5
	defaultMode                 = "single"
	defaultSources              = "both"
	defaultChunkIntervalSeconds = 5
	defaultMinDurationSeconds   = 3
	defaultFormat               = "wav"
	defaultMicrophoneGain       = 0.7
	defaultCounterpartGain      = 1.0
	defaultLevelSampleMillis    = 1000
	defaultPollIntervalMillis   = 1500
	defaultOpenAIBaseURL        = "https://api.openai.com/v1"
	defaultTranscriptionModel   = "whisper-1"
	defaultSummaryModel         = "gpt-4"
	defaultLanguage             = "auto"
	defaultMaxTokens            = 1000
	defaultTemperature          = 0.3
	defaultOpenAITimeout        = 120
	defaultAPIMaxAttempts       = 3
	defaultAPIBaseDelayMillis   = 1000
	defaultAPIMaxDelayMillis    = 60000
	defaultNotifyTimeout        = 10
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultLogMaxSizeMB         = 20
	defaultLogMaxBackups        = 5
	defaultLogMaxAgeDays        = 30
)

// DefaultSummaryPrompt is the system prompt sent with every summarization request.
const DefaultSummaryPrompt = "You are an assistant that writes concise meeting summaries. " +
	"Summarize the transcript below into key points, decisions made, and action items with owners when they are mentioned. " +
	"Use short Markdown bullet lists and write in the language of the transcript."

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:  defaultStateDir,
			LogDir:    defaultLogDir,
			ExportDir: defaultExportDir,
			EnvFile:   defaultEnvFile,
		},
		Capture: Capture{
			FFmpegBinary:       defaultFFmpegBinary,
			InputFormat:        defaultInputFormat,
			MicrophoneDevice:   defaultMicrophoneDevice,
			SidecarEnabled:     true,
			SampleRate:         defaultSampleRate,
			Channels:           defaultChannels,
			EchoCancellation:   true,
			NoiseSuppression:   true,
			StartupTimeoutSecs: defaultStartupTimeout,
			Thumbnails:         true,
			DeviceEvents:       true,
		},
		Recording: Recording{
			Mode:                 defaultMode,
			Sources:              defaultSources,
			ChunkIntervalSeconds: defaultChunkIntervalSeconds,
			MinDurationSeconds:   defaultMinDurationSeconds,
			Format:               defaultFormat,
			MicrophoneGain:       defaultMicrophoneGain,
			CounterpartGain:      defaultCounterpartGain,
			Spool:                true,
			LevelSampleMillis:    defaultLevelSampleMillis,
		},
		Monitor: Monitor{
			PollIntervalMillis: defaultPollIntervalMillis,
		},
		OpenAI: OpenAI{
			BaseURL:            defaultOpenAIBaseURL,
			TranscriptionModel: defaultTranscriptionModel,
			SummaryModel:       defaultSummaryModel,
			Language:           defaultLanguage,
			SummaryPrompt:      DefaultSummaryPrompt,
			MaxTokens:          defaultMaxTokens,
			Temperature:        defaultTemperature,
			TimeoutSeconds:     defaultOpenAITimeout,
		},
		API: API{
			MaxAttempts:     defaultAPIMaxAttempts,
			BaseDelayMillis: defaultAPIBaseDelayMillis,
			MaxDelayMillis:  defaultAPIMaxDelayMillis,
		},
		Pipeline: Pipeline{
			AutoTranscribe: true,
			AutoSummarize:  true,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Saved:          true,
			SourceLost:     true,
			Errors:         true,
		},
		Logging: Logging{
			Format:     defaultLogFormat,
			Level:      defaultLogLevel,
			MaxSizeMB:  defaultLogMaxSizeMB,
			MaxBackups: defaultLogMaxBackups,
			MaxAgeDays: defaultLogMaxAgeDays,
		},
	}
}
