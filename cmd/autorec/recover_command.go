package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"autorec/internal/recorder"
	"autorec/internal/workflow"
)

func newRecoverCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Export audio left in the spool by an interrupted recording",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			release, err := workflow.LockSession(cfg.LockPath())
			if err != nil {
				return fmt.Errorf("recover while recording: %w", err)
			}
			defer release() //nolint:errcheck

			enc := recorder.NewEncoder(cfg.Recording.Format, cfg.Capture.FFmpegBinary)
			recovered, err := recorder.RecoverSpool(cmd.Context(), cfg.SpoolDir(), cfg.Paths.ExportDir, enc)
			out := cmd.OutOrStdout()
			for _, rec := range recovered {
				fmt.Fprintf(out, "Recovered %s %s -> %s\n", shortID(rec.SessionID), rec.Role, rec.Path)
			}
			if len(recovered) == 0 && err == nil {
				fmt.Fprintln(out, "Nothing to recover")
			}
			return err
		},
	}
}
