package preflight

import (
	"context"

	"autorec/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Export directory", cfg.Paths.ExportDir),
	}
	if cfg.Paths.LogDir != "" {
		results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	}
	if cfg.Recording.Spool {
		results = append(results, CheckDirectoryAccess("Spool directory", cfg.SpoolDir()))
	}

	if cfg.TranscriptionEnabled() {
		results = append(results, CheckOpenAI(ctx, cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey))
	} else {
		results = append(results, Result{Name: "OpenAI API", Detail: "API key missing; recordings are saved without transcription"})
	}
	return results
}
