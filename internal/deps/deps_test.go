package deps

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"autorec/internal/config"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	script := []byte("#!/bin/sh\nexit 0\n")
	if err := os.WriteFile(present, script, 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Blank", Command: "  "},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available || results[0].Detail != "" {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary to be unavailable with detail, got %#v", results[1])
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}
	if results[2].Detail != "command not configured" {
		t.Fatalf("unexpected detail for blank command: %q", results[2].Detail)
	}
}

func TestRequirementsUsesConfiguredFFmpeg(t *testing.T) {
	cfg := config.Default()
	cfg.Capture.FFmpegBinary = "/opt/ffmpeg/bin/ffmpeg"
	reqs := Requirements(&cfg)
	if len(reqs) == 0 || reqs[0].Command != "/opt/ffmpeg/bin/ffmpeg" || reqs[0].Optional {
		t.Fatalf("unexpected requirements %#v", reqs)
	}
	for _, r := range reqs[1:] {
		if !r.Optional {
			t.Fatalf("expected %s to be optional", r.Name)
		}
	}
}

func writeFFmpegStub(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg")
	script := `#!/bin/sh
case "$2" in
-demuxers)
  echo "File formats:"
  echo " D. = Demuxing supported"
  echo " --"
  echo " D  alsa            ALSA audio input"
  echo " D  pulse           Pulse audio input"
  ;;
-encoders)
  echo " A....D aac            AAC (Advanced Audio Coding)"
  echo " A....D pcm_s16le      PCM signed 16-bit little-endian"
  ;;
esac
`
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write ffmpeg stub: %v", err)
	}
	return path
}

func TestCheckFFmpegCapabilities(t *testing.T) {
	cfg := config.Default()
	cfg.Capture.FFmpegBinary = writeFFmpegStub(t)
	cfg.Capture.InputFormat = "pulse"
	cfg.Recording.Format = "opus"

	results := CheckFFmpegCapabilities(context.Background(), &cfg)
	if len(results) != 2 {
		t.Fatalf("expected two probes, got %d", len(results))
	}
	if !results[0].Available {
		t.Fatalf("expected pulse demuxer available: %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected libopus missing: %#v", results[1])
	}
}

func TestCheckFFmpegCapabilitiesMissingDemuxer(t *testing.T) {
	cfg := config.Default()
	cfg.Capture.FFmpegBinary = writeFFmpegStub(t)
	cfg.Capture.InputFormat = "avfoundation"
	cfg.Recording.Format = "wav"

	results := CheckFFmpegCapabilities(context.Background(), &cfg)
	if len(results) != 1 || results[0].Available {
		t.Fatalf("expected avfoundation unavailable: %#v", results)
	}
}

func TestListedHandlesCommaSeparatedNames(t *testing.T) {
	out := []byte(" D  mov,mp4,m4a  QuickTime / MOV\n")
	if !listed(out, "mp4") {
		t.Fatal("expected mp4 listed")
	}
	if listed(out, "mkv") {
		t.Fatal("did not expect mkv listed")
	}
}
