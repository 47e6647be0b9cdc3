package main

import (
	"context"
	"log/slog"
	"time"

	"autorec/internal/capture"
	"autorec/internal/config"
	"autorec/internal/export"
	"autorec/internal/history"
	"autorec/internal/metrics"
	"autorec/internal/transcription"
)

// captureStack bundles the capture adapter with the lister the monitor and
// the sources command share.
type captureStack struct {
	adapter *capture.Adapter
	lister  *capture.DesktopLister
}

func buildCapture(cfg *config.Config, prompter capture.Prompter, thumbnails bool, logger *slog.Logger) captureStack {
	format := capture.Format{SampleRate: cfg.Capture.SampleRate, Channels: cfg.Capture.Channels}
	backend := capture.NewFFmpegBackend(capture.FFmpegConfig{
		Binary:            cfg.Capture.FFmpegBinary,
		InputFormat:       cfg.Capture.InputFormat,
		MicrophoneDevice:  cfg.Capture.MicrophoneDevice,
		EchoCancelDevice:  cfg.Capture.EchoCancelDevice,
		ScreenAudioDevice: cfg.Capture.ScreenAudioDevice,
		SystemAudioDevice: cfg.Capture.SystemAudioDevice,
		StartupTimeout:    time.Duration(cfg.Capture.StartupTimeoutSecs) * time.Second,
		Format:            format,
	}, logger)
	lister := capture.NewDesktopLister(cfg.Capture.FFmpegBinary, thumbnails, logger)

	opts := []capture.AdapterOption{
		capture.WithLister(lister),
		capture.WithLogger(logger),
	}
	if prompter != nil {
		opts = append(opts, capture.WithPrompter(prompter))
	}
	if cfg.Capture.SidecarEnabled && cfg.Capture.SidecarDevice != "" {
		opts = append(opts, capture.WithSidecar(capture.NewFFmpegSidecar(
			cfg.Capture.FFmpegBinary,
			cfg.Capture.InputFormat,
			cfg.Capture.SidecarDevice,
			cfg.Paths.TempDir,
			logger,
		)))
	}
	return captureStack{adapter: capture.NewAdapter(backend, opts...), lister: lister}
}

// buildPipeline wires transcription, summarization, export and history.
func buildPipeline(cfg *config.Config, store *history.Store, m *metrics.Metrics, logger *slog.Logger) (*transcription.Pipeline, error) {
	client := transcription.NewAPIClient(cfg, m, logger)
	exporter := export.FromConfig(cfg, m, logger)
	return transcription.FromConfig(cfg, store, client,
		transcription.WithExporter(exporter),
		transcription.WithObserver(m),
		transcription.WithLogger(logger),
	)
}

// startMetrics serves the Prometheus endpoint when metrics.bind is set. The
// returned function shuts the server down.
func startMetrics(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (func(), error) {
	if cfg.Metrics.Bind == "" {
		return func() {}, nil
	}
	server := metrics.NewServer(cfg.Metrics.Bind, m, logger)
	if err := server.Start(); err != nil {
		return nil, err
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}, nil
}
