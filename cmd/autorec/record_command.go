package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"autorec/internal/capture"
	"autorec/internal/history"
	"autorec/internal/logging"
	"autorec/internal/metrics"
	"autorec/internal/monitor"
	"autorec/internal/recorder"
	"autorec/internal/workflow"
)

type recordOptions struct {
	mode         string
	sources      string
	sourceID     string
	noTranscribe bool
	noSummarize  bool
	maxDuration  time.Duration
}

func newRecordCommand(ctx *commandContext) *cobra.Command {
	var opts recordOptions

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a meeting interactively",
		Long: "Record the microphone and/or a shared screen or window.\n\n" +
			"While recording: p+Enter pauses or resumes, Enter or s+Enter stops, Ctrl-C stops.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(cmd, ctx, opts)
		},
	}

	cmd.Flags().StringVar(&opts.mode, "mode", "", "Recording mode: single or separate")
	cmd.Flags().StringVar(&opts.sources, "sources", "", "Sources: both, microphone or screen")
	cmd.Flags().StringVar(&opts.sourceID, "source", "", "Screen or window id to share (see `autorec sources`)")
	cmd.Flags().BoolVar(&opts.noTranscribe, "no-transcribe", false, "Save the recording without transcribing it")
	cmd.Flags().BoolVar(&opts.noSummarize, "no-summarize", false, "Transcribe without generating a summary")
	cmd.Flags().DurationVar(&opts.maxDuration, "max-duration", 0, "Stop automatically after this long (0 for no limit)")
	return cmd
}

func runRecord(cmd *cobra.Command, ctx *commandContext, opts recordOptions) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	if opts.noTranscribe {
		cfg.Pipeline.AutoTranscribe = false
	}
	if opts.noSummarize {
		cfg.Pipeline.AutoSummarize = false
	}
	logger := ctx.loggerFor(cfg)
	out := cmd.OutOrStdout()

	store, err := ctx.historyStore()
	if err != nil {
		return err
	}
	m := metrics.New()
	stopMetrics, err := startMetrics(cfg, m, logger)
	if err != nil {
		return err
	}
	defer stopMetrics()

	pipeline, err := buildPipeline(cfg, store, m, logger)
	if err != nil {
		return err
	}
	if !pipeline.TranscriptionEnabled() {
		fmt.Fprintln(out, colorize(out, "33", "Transcription is off; the recording will be saved without a transcript."))
	}

	in := bufio.NewReader(cmd.InOrStdin())
	prompter := newLinePrompter(in, out, isTerminal(cmd.InOrStdin()))
	stack := buildCapture(cfg, prompter, false, logger)

	if cfg.Capture.DeviceEvents {
		watcher := capture.NewDeviceWatcher(stack.adapter, logger)
		if err := watcher.Start(cmd.Context()); err != nil {
			logger.Debug("device watcher unavailable", logging.Error(err))
		} else {
			defer watcher.Stop()
		}
	}

	finished := make(chan *workflow.Outcome, 1)
	manager := workflow.NewManager(cfg, stack.adapter, pipeline,
		workflow.WithMonitor(monitor.NewPollMonitor(stack.lister, cfg.MonitorInterval(), logger)),
		workflow.WithMetrics(m),
		workflow.WithLogger(logger),
		workflow.WithOnFinished(func(o *workflow.Outcome) {
			select {
			case finished <- o:
			default:
			}
		}),
	)

	sigCtx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = manager.Start(sigCtx, workflow.StartOptions{
		Mode:     recorder.Mode(strings.ToLower(opts.mode)),
		Sources:  recorder.Sources(strings.ToLower(opts.sources)),
		SourceID: opts.sourceID,
	})
	if err != nil {
		if capture.IsKind(err, capture.UserCancelled) {
			fmt.Fprintln(out, "Recording cancelled")
			return nil
		}
		return err
	}
	status := manager.Status()
	fmt.Fprintf(out, "%s %s\n", colorize(out, "31", "● Recording"), describeSession(manager))
	fmt.Fprintln(out, "p+Enter pause/resume · Enter stop · Ctrl-C stop")
	logger.Info("interactive recording started", logging.String(logging.FieldSessionID, status.SessionID))

	lines := make(chan string)
	go readCommands(in, lines)

	var limit <-chan time.Time
	if opts.maxDuration > 0 {
		timer := time.NewTimer(opts.maxDuration)
		defer timer.Stop()
		limit = timer.C
	}

	for {
		select {
		case <-sigCtx.Done():
			fmt.Fprintln(out)
			return stopRecording(out, manager)
		case <-limit:
			fmt.Fprintln(out, "Maximum duration reached")
			return stopRecording(out, manager)
		case outcome := <-finished:
			fmt.Fprintf(out, "Recording stopped: %s\n", outcome.Trigger)
			printOutcome(out, outcome)
			return outcome.Err
		case line, ok := <-lines:
			if !ok {
				// Input closed: keep recording until a signal or the limit.
				lines = nil
				continue
			}
			switch strings.ToLower(line) {
			case "p", "pause", "r", "resume":
				if err := togglePause(out, manager); err != nil {
					fmt.Fprintln(out, err)
				}
			case "", "s", "stop", "q":
				return stopRecording(out, manager)
			default:
				fmt.Fprintf(out, "Unknown command %q (p = pause/resume, Enter = stop)\n", line)
			}
		}
	}
}

func readCommands(in *bufio.Reader, lines chan<- string) {
	defer close(lines)
	for {
		line, err := in.ReadString('\n')
		if err != nil && line == "" {
			return
		}
		lines <- strings.TrimSpace(line)
		if err != nil {
			return
		}
	}
}

func togglePause(out io.Writer, manager *workflow.Manager) error {
	status := manager.Status()
	switch status.State {
	case recorder.Recording:
		if err := manager.Pause(); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s at %s\n", colorize(out, "33", "⏸ Paused"), history.FormatDuration(status.Elapsed))
	case recorder.Paused:
		if err := manager.Resume(); err != nil {
			return err
		}
		fmt.Fprintln(out, colorize(out, "31", "● Recording"))
	}
	return nil
}

func stopRecording(out io.Writer, manager *workflow.Manager) error {
	fmt.Fprintln(out, "Finishing recording...")
	outcome, err := manager.Stop(context.Background())
	if outcome == nil {
		if err == nil {
			// Another path finalized the session; report what it produced.
			outcome = manager.Status().LastOutcome
		}
		if outcome == nil {
			return err
		}
	}
	printOutcome(out, outcome)
	return err
}

func describeSession(manager *workflow.Manager) string {
	status := manager.Status()
	parts := []string{string(status.Mode) + " mode"}
	if status.Degraded {
		parts = append(parts, "degraded")
	}
	if status.MicrophoneOnly {
		parts = append(parts, "microphone only")
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func printOutcome(out io.Writer, outcome *workflow.Outcome) {
	switch {
	case outcome.TooShort:
		fmt.Fprintf(out, "Recording discarded: %s is shorter than the minimum\n", history.FormatDuration(outcome.Duration))
	case outcome.Err != nil:
		fmt.Fprintf(out, "Recording failed: %v\n", outcome.Err)
	case outcome.Pipeline == nil || outcome.Pipeline.Entry == nil:
		fmt.Fprintf(out, "Recorded %s\n", history.FormatDuration(outcome.Duration))
	default:
		entry := outcome.Pipeline.Entry
		fmt.Fprintf(out, "Saved %s (%s)\n", shortID(entry.ID), history.FormatDuration(entry.Duration()))
		if entry.ErrorMessage != "" {
			fmt.Fprintf(out, "  %s\n", colorize(out, "33", entry.ErrorMessage))
		}
		if entry.AudioPath != "" {
			fmt.Fprintf(out, "  audio: %s\n", entry.AudioPath)
		}
		if outcome.Pipeline.Evicted > 0 {
			fmt.Fprintf(out, "  %d old entries removed from history\n", outcome.Pipeline.Evicted)
		}
		if entry.Summary != "" {
			fmt.Fprintf(out, "\n%s\n", entry.Summary)
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
