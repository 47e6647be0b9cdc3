package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"autorec/internal/fileutil"
	"autorec/internal/history"
)

// MarkdownSaver writes files into a directory without overwriting existing ones.
type MarkdownSaver struct {
	dir string
}

// NewMarkdownSaver returns a saver rooted at dir.
func NewMarkdownSaver(dir string) *MarkdownSaver {
	return &MarkdownSaver{dir: dir}
}

// Save writes data under name, adding a numeric suffix when name is taken.
// It returns the written path.
func (s *MarkdownSaver) Save(name string, data []byte) (string, error) {
	if strings.TrimSpace(s.dir) == "" {
		return "", fmt.Errorf("markdown export: no directory configured")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("markdown export: create dir: %w", err)
	}
	ext := filepath.Ext(name)
	path := fileutil.UniquePath(s.dir, strings.TrimSuffix(name, ext), ext)
	if err := fileutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return "", fmt.Errorf("markdown export: %w", err)
	}
	return path, nil
}

// FileName returns the Markdown file name used for entry.
func FileName(entry *history.Entry) string {
	return "meeting-" + entry.Date.Local().Format("20060102-150405") + ".md"
}

// RenderMarkdown formats entry with the summary ahead of the transcript.
func RenderMarkdown(entry *history.Entry) []byte {
	local := entry.Date.Local()
	stamp := local.Format("2006-01-02 15:04:05")

	var b strings.Builder
	fmt.Fprintf(&b, "# Meeting recording %s\n\n", stamp)
	fmt.Fprintf(&b, "**Duration:** %s\n", history.FormatDuration(entry.Duration()))
	fmt.Fprintf(&b, "**Date:** %s\n", stamp)
	if entry.AudioPath != "" {
		fmt.Fprintf(&b, "**Audio:** %s\n", entry.AudioPath)
	}
	b.WriteString("\n")

	if entry.Summary != "" {
		fmt.Fprintf(&b, "## Summary\n\n%s\n\n", strings.TrimSpace(entry.Summary))
	}
	if entry.Transcription != "" {
		transcript := strings.TrimSpace(entry.Transcription)
		if entry.IsSeparateRecording {
			// Labeled sections become subsections below the heading.
			transcript = strings.ReplaceAll(transcript, "## ", "### ")
		}
		fmt.Fprintf(&b, "## Transcript\n\n%s\n", transcript)
	}
	if entry.ErrorMessage != "" {
		fmt.Fprintf(&b, "\n> %s\n", entry.ErrorMessage)
	}
	return []byte(b.String())
}
