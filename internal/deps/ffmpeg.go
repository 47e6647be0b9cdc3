package deps

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"autorec/internal/config"
)

const probeTimeout = 5 * time.Second

// CheckFFmpegCapabilities verifies the ffmpeg build can capture from the
// configured input format and, for Opus recordings, encode with libopus.
func CheckFFmpegCapabilities(ctx context.Context, cfg *config.Config) []Status {
	binary := cfg.Capture.FFmpegBinary
	results := []Status{probe(ctx, binary, "-demuxers", cfg.Capture.InputFormat, Status{
		Name:        "FFmpeg input " + cfg.Capture.InputFormat,
		Command:     binary,
		Description: "Capture device demuxer from capture.input_format",
	})}
	if cfg.Recording.Format == "opus" {
		results = append(results, probe(ctx, binary, "-encoders", "libopus", Status{
			Name:        "FFmpeg libopus",
			Command:     binary,
			Description: "Required by recording.format = \"opus\"",
		}))
	}
	return results
}

func probe(ctx context.Context, binary, listFlag, want string, status Status) Status {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, binary, "-hide_banner", listFlag).Output()
	if err != nil {
		status.Detail = fmt.Sprintf("%s %s failed: %v", binary, listFlag, err)
		return status
	}
	if !listed(out, want) {
		status.Detail = fmt.Sprintf("%q not available in this ffmpeg build", want)
		return status
	}
	status.Available = true
	return status
}

// listed reports whether name appears as the second column of an ffmpeg
// capability listing such as " D  pulse  Pulse audio input".
func listed(out []byte, name string) bool {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		for _, candidate := range strings.Split(fields[1], ",") {
			if candidate == name {
				return true
			}
		}
	}
	return false
}
