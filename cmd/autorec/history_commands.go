package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"autorec/internal/export"
	"autorec/internal/fileutil"
	"autorec/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Browse and manage recorded meetings",
	}
	historyCmd.AddCommand(newHistoryListCommand(ctx))
	historyCmd.AddCommand(newHistoryShowCommand(ctx))
	historyCmd.AddCommand(newHistoryAudioCommand(ctx))
	historyCmd.AddCommand(newHistoryDeleteCommand(ctx))
	historyCmd.AddCommand(newHistoryClearCommand(ctx))
	return historyCmd
}

func newHistoryListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List history entries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.historyStore()
			if err != nil {
				return err
			}
			entries, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No recordings yet")
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, entry := range entries {
				rows = append(rows, []string{
					shortID(entry.ID),
					entry.Date.Local().Format("2006-01-02 15:04"),
					history.FormatDuration(entry.Duration()),
					yesNo(entry.IsSeparateRecording),
					yesNo(entry.Summary != ""),
					truncate(preview(entry), 48),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Date", "Length", "Separate", "Summary", "Preview"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}
}

func preview(entry *history.Entry) string {
	switch {
	case entry.Summary != "":
		return entry.Summary
	case entry.Transcription != "":
		return entry.Transcription
	case entry.ErrorMessage != "":
		return "(" + entry.ErrorMessage + ")"
	default:
		return ""
	}
}

func newHistoryShowCommand(ctx *commandContext) *cobra.Command {
	var markdown bool

	cmd := &cobra.Command{
		Use:   "show ID",
		Short: "Show one entry in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.historyStore()
			if err != nil {
				return err
			}
			entry, err := store.Get(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				if errors.Is(err, history.ErrNotFound) {
					return fmt.Errorf("no history entry matches %q", args[0])
				}
				return err
			}
			out := cmd.OutOrStdout()
			if markdown {
				_, err := out.Write(export.RenderMarkdown(entry))
				return err
			}

			rows := [][]string{
				{"ID", entry.ID},
				{"Date", entry.Date.Local().Format("2006-01-02 15:04:05")},
				{"Length", history.FormatDuration(entry.Duration())},
				{"Separate tracks", yesNo(entry.IsSeparateRecording)},
			}
			if entry.AudioPath != "" {
				rows = append(rows, []string{"Audio", entry.AudioPath})
			}
			if entry.ErrorMessage != "" {
				rows = append(rows, []string{"Problem", entry.ErrorMessage})
			}
			fmt.Fprintln(out, renderTable([]string{"Field", "Value"}, rows, nil))
			if entry.Summary != "" {
				fmt.Fprintf(out, "\nSummary\n\n%s\n", entry.Summary)
			}
			if entry.Transcription != "" {
				fmt.Fprintf(out, "\nTranscript\n\n%s\n", entry.Transcription)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&markdown, "markdown", false, "Print the entry as Markdown")
	return cmd
}

func newHistoryAudioCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "audio ID DEST",
		Short: "Copy the saved audio of an entry to DEST",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.historyStore()
			if err != nil {
				return err
			}
			entry, err := store.Get(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				if errors.Is(err, history.ErrNotFound) {
					return fmt.Errorf("no history entry matches %q", args[0])
				}
				return err
			}
			if entry.AudioPath == "" {
				return fmt.Errorf("entry %s has no saved audio", shortID(entry.ID))
			}
			dest := args[1]
			if info, err := os.Stat(dest); err == nil && info.IsDir() {
				dest = filepath.Join(dest, filepath.Base(entry.AudioPath))
			}
			if err := fileutil.CopyFileVerified(entry.AudioPath, dest); err != nil {
				return fmt.Errorf("copy audio: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Copied %s\n", dest)
			return nil
		},
	}
}

func newHistoryDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete one entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.historyStore()
			if err != nil {
				return err
			}
			entry, err := store.Get(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				if errors.Is(err, history.ErrNotFound) {
					return fmt.Errorf("no history entry matches %q", args[0])
				}
				return err
			}
			if err := store.Delete(cmd.Context(), entry.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", shortID(entry.ID))
			return nil
		},
	}
}

func newHistoryClearCommand(ctx *commandContext) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to clear history without --yes")
			}
			store, err := ctx.historyStore()
			if err != nil {
				return err
			}
			removed, err := store.Clear(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d entries\n", removed)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm clearing the history")
	return cmd
}
