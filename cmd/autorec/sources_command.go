package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"autorec/internal/fileutil"
)

func newSourcesCommand(ctx *commandContext) *cobra.Command {
	var thumbnailDir string

	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List shareable screens and windows",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			stack := buildCapture(cfg, nil, thumbnailDir != "", ctx.loggerFor(cfg))
			sources, err := stack.adapter.ListSources(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(sources) == 0 {
				fmt.Fprintln(out, "No shareable sources found")
				return nil
			}

			if thumbnailDir != "" {
				if err := os.MkdirAll(thumbnailDir, 0o755); err != nil {
					return fmt.Errorf("create thumbnail directory: %w", err)
				}
			}
			rows := make([][]string, 0, len(sources))
			for _, src := range sources {
				thumb := ""
				if thumbnailDir != "" && len(src.Thumbnail) > 0 {
					name := strings.NewReplacer(":", "-", "/", "-").Replace(src.ID) + ".png"
					path := filepath.Join(thumbnailDir, name)
					if err := fileutil.WriteFileAtomic(path, src.Thumbnail, 0o644); err != nil {
						return err
					}
					thumb = path
				}
				rows = append(rows, []string{src.ID, string(src.Kind), truncate(src.Name, 40), thumb})
			}
			fmt.Fprintln(out, renderTable([]string{"ID", "Kind", "Name", "Thumbnail"}, rows, nil))
			fmt.Fprintln(out, "Pass an ID to `autorec record --source`.")
			return nil
		},
	}
	cmd.Flags().StringVar(&thumbnailDir, "thumbnails", "", "Write a PNG thumbnail per source into this directory")
	return cmd
}
