package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"autorec/internal/config"
	"autorec/internal/metrics"
	"autorec/internal/recorder"
)

func newTranscribeCommand(ctx *commandContext) *cobra.Command {
	var role string
	var noSummarize bool

	cmd := &cobra.Command{
		Use:   "transcribe FILE",
		Short: "Transcribe an existing audio file into the history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cfg.TranscriptionEnabled() {
				return errors.New("transcription requires openai.api_key (or OPENAI_API_KEY)")
			}
			cfg.Pipeline.AutoTranscribe = true
			if noSummarize {
				cfg.Pipeline.AutoSummarize = false
			}

			result, err := loadAudioFile(args[0], recorder.Role(strings.ToLower(role)))
			if err != nil {
				return err
			}
			store, err := ctx.historyStore()
			if err != nil {
				return err
			}
			pipeline, err := buildPipeline(cfg, store, metrics.New(), ctx.loggerFor(cfg))
			if err != nil {
				return err
			}
			outcome, err := pipeline.Process(cmd.Context(), result)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			entry := outcome.Entry
			fmt.Fprintf(out, "Saved %s\n", shortID(entry.ID))
			if entry.ErrorMessage != "" {
				fmt.Fprintf(out, "  %s\n", entry.ErrorMessage)
			}
			if entry.Summary != "" {
				fmt.Fprintf(out, "\n%s\n", entry.Summary)
			} else if entry.Transcription != "" {
				fmt.Fprintf(out, "\n%s\n", entry.Transcription)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&role, "role", string(recorder.RoleCombined), "What the file contains: combined, microphone or counterpart")
	cmd.Flags().BoolVar(&noSummarize, "no-summarize", false, "Skip summary generation")
	return cmd
}

// loadAudioFile wraps an audio file as a single-artifact recording.
func loadAudioFile(path string, role recorder.Role) (*recorder.Result, error) {
	switch role {
	case recorder.RoleCombined, recorder.RoleMicrophone, recorder.RoleCounterpart:
	default:
		return nil, fmt.Errorf("invalid --role %q (want combined, microphone or counterpart)", role)
	}
	expanded, err := config.ExpandPath(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(expanded)
	if err != nil {
		return nil, fmt.Errorf("inspect audio file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", expanded)
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("read audio file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(expanded))
	mimeType := mime.TypeByExtension(ext)
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	duration := wavDuration(data)
	return &recorder.Result{
		SessionID: uuid.NewString(),
		StartedAt: info.ModTime().Add(-duration),
		Duration:  duration,
		Mode:      recorder.ModeSingle,
		Artifacts: []recorder.Artifact{{
			Role:      role,
			Data:      data,
			MIMEType:  mimeType,
			Extension: ext,
			Duration:  duration,
		}},
	}, nil
}

// wavDuration reads the byte rate from a canonical RIFF header. Other
// formats report zero.
func wavDuration(data []byte) time.Duration {
	if len(data) <= 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return 0
	}
	byteRate := binary.LittleEndian.Uint32(data[28:32])
	if byteRate == 0 {
		return 0
	}
	return time.Duration(len(data)-44) * time.Second / time.Duration(byteRate)
}
