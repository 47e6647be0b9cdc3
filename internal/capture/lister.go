package capture

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"runtime"
	"strings"
	"time"

	"autorec/internal/logging"
)

// ThumbnailWidth and ThumbnailHeight bound source preview images.
const (
	ThumbnailWidth   = 200
	ThumbnailHeight  = 150
	thumbnailTimeout = 3 * time.Second
)

type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execCommandRunner struct{}

func (execCommandRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// DesktopLister lists screens and windows with the platform's tools: wmctrl
// on X11 and ffmpeg's avfoundation device list on macOS.
type DesktopLister struct {
	ffmpeg     string
	thumbnails bool
	display    string
	goos       string
	runner     commandRunner
	logger     *slog.Logger
}

// NewDesktopLister constructs a lister. Thumbnails are captured when enabled.
func NewDesktopLister(ffmpegBinary string, thumbnails bool, logger *slog.Logger) *DesktopLister {
	if ffmpegBinary == "" {
		ffmpegBinary = "ffmpeg"
	}
	display := os.Getenv("DISPLAY")
	if display == "" {
		display = ":0"
	}
	return &DesktopLister{
		ffmpeg:     ffmpegBinary,
		thumbnails: thumbnails,
		display:    display,
		goos:       runtime.GOOS,
		runner:     execCommandRunner{},
		logger:     logging.NewComponentLogger(logger, "capture.sources"),
	}
}

// ListSources returns the current shareable sources.
func (l *DesktopLister) ListSources(ctx context.Context) ([]Source, error) {
	var (
		sources []Source
		err     error
	)
	switch l.goos {
	case "darwin":
		sources, err = l.listAVFoundation(ctx)
	case "linux", "freebsd", "openbsd", "netbsd":
		sources, err = l.listX11(ctx)
	default:
		return nil, newAcquisitionError(Unsupported, Screen, "source listing not available on "+l.goos, nil)
	}
	if err != nil {
		return nil, err
	}
	if l.thumbnails {
		for i := range sources {
			sources[i].Thumbnail = l.thumbnail(ctx, sources[i])
		}
	}
	return sources, nil
}

func (l *DesktopLister) listX11(ctx context.Context) ([]Source, error) {
	sources := []Source{{ID: "screen:0", Name: "Entire screen", Kind: SourceScreen}}
	stdout, stderr, err := l.runner.Run(ctx, "wmctrl", "-l")
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			l.logger.Debug("wmctrl not installed; listing screens only")
			return sources, nil
		}
		return nil, fmt.Errorf("wmctrl -l: %w: %s", err, strings.TrimSpace(string(stderr)))
	}
	return append(sources, parseWmctrl(stdout)...), nil
}

func (l *DesktopLister) listAVFoundation(ctx context.Context) ([]Source, error) {
	stdout, stderr, err := l.runner.Run(ctx, l.ffmpeg, "-hide_banner", "-f", "avfoundation", "-list_devices", "true", "-i", "")
	out := append(append([]byte(nil), stdout...), stderr...)
	sources := parseAVFoundationScreens(out)
	if len(sources) == 0 && err != nil {
		return nil, fmt.Errorf("list avfoundation devices: %w", err)
	}
	return sources, nil
}

func (l *DesktopLister) thumbnail(ctx context.Context, src Source) []byte {
	ctx, cancel := context.WithTimeout(ctx, thumbnailTimeout)
	defer cancel()

	scale := fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", ThumbnailWidth, ThumbnailHeight)
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	switch {
	case l.goos == "darwin":
		args = append(args, "-f", "avfoundation", "-i", strings.TrimPrefix(src.ID, "screen:")+":none")
	case src.Kind == SourceWindow:
		args = append(args, "-f", "x11grab", "-window_id", strings.TrimPrefix(src.ID, "window:"), "-i", l.display)
	default:
		args = append(args, "-f", "x11grab", "-i", l.display)
	}
	args = append(args, "-frames:v", "1", "-vf", scale, "-f", "image2pipe", "-vcodec", "png", "pipe:1")

	stdout, _, err := l.runner.Run(ctx, l.ffmpeg, args...)
	if err != nil || !bytes.HasPrefix(stdout, pngSignature) {
		l.logger.Debug("thumbnail capture failed", logging.String("source_id", src.ID), logging.Error(err))
		return nil
	}
	return stdout
}

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// parseWmctrl parses "wmctrl -l" output: id, desktop, host, title.
func parseWmctrl(out []byte) []Source {
	var sources []Source
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		// Sticky windows use desktop -1 and panels often have no title.
		title := ""
		if len(fields) > 3 {
			title = strings.Join(fields[3:], " ")
		}
		if fields[1] == "-1" || title == "" {
			continue
		}
		sources = append(sources, Source{ID: "window:" + fields[0], Name: title, Kind: SourceWindow})
	}
	return sources
}

var avfScreenPattern = regexp.MustCompile(`\[(\d+)\]\s+(Capture screen.*)$`)

// parseAVFoundationScreens extracts screen capture devices from the
// avfoundation device listing.
func parseAVFoundationScreens(out []byte) []Source {
	var sources []Source
	scanner := bufio.NewScanner(bytes.NewReader(out))
	inVideo := false
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "video devices:"):
			inVideo = true
			continue
		case strings.Contains(line, "audio devices:"):
			inVideo = false
			continue
		}
		if !inVideo {
			continue
		}
		if m := avfScreenPattern.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			sources = append(sources, Source{ID: "screen:" + m[1], Name: strings.TrimSpace(m[2]), Kind: SourceScreen})
		}
	}
	return sources
}
