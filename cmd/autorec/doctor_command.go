package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"autorec/internal/deps"
	"autorec/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check external dependencies and directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			statuses := deps.CheckBinaries(deps.Requirements(cfg))
			statuses = append(statuses, deps.CheckFFmpegCapabilities(cmd.Context(), cfg)...)
			missingRequired := 0
			rows := make([][]string, 0, len(statuses))
			for _, status := range statuses {
				state := colorize(out, "32", "ok")
				switch {
				case !status.Available && status.Optional:
					state = colorize(out, "33", "missing (optional)")
				case !status.Available:
					state = colorize(out, "31", "missing")
					missingRequired++
				}
				detail := status.Detail
				if detail == "" {
					detail = status.Description
				}
				rows = append(rows, []string{status.Name, status.Command, state, detail})
			}
			fmt.Fprintln(out, renderTable([]string{"Dependency", "Command", "Status", "Detail"}, rows, nil))

			checks := preflight.RunAll(cmd.Context(), cfg)
			checkRows := make([][]string, 0, len(checks))
			for _, check := range checks {
				checkRows = append(checkRows, []string{check.Name, yesNo(check.Passed), check.Detail})
			}
			fmt.Fprintln(out, renderTable([]string{"Check", "Passed", "Detail"}, checkRows, nil))

			if missingRequired > 0 {
				return fmt.Errorf("%d required dependencies missing", missingRequired)
			}
			return nil
		},
	}
}
