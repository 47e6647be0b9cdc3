package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"autorec/internal/logging"
)

const (
	sidecarSettle = 300 * time.Millisecond
	sidecarGrace  = 5 * time.Second
)

// FFmpegSidecar records system audio into a temporary WAV file with a
// separate ffmpeg process. It is stopped with SIGINT so ffmpeg finalizes the
// WAV header.
type FFmpegSidecar struct {
	binary      string
	inputFormat string
	device      string
	tempDir     string
	logger      *slog.Logger
	now         func() time.Time

	mu   sync.Mutex
	cmd  *exec.Cmd
	info SidecarInfo
	done chan struct{}
}

// NewFFmpegSidecar constructs a sidecar. device is the ffmpeg input name
// (for avfoundation ":1").
func NewFFmpegSidecar(binary, inputFormat, device, tempDir string, logger *slog.Logger) *FFmpegSidecar {
	if binary == "" {
		binary = "ffmpeg"
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &FFmpegSidecar{
		binary:      binary,
		inputFormat: inputFormat,
		device:      device,
		tempDir:     tempDir,
		logger:      logging.NewComponentLogger(logger, "capture.sidecar"),
		now:         time.Now,
	}
}

// Start launches the sidecar. Only one sidecar runs at a time.
func (s *FFmpegSidecar) Start(ctx context.Context, format Format) (SidecarInfo, error) {
	if !sidecarSupported {
		return SidecarInfo{}, newAcquisitionError(Unsupported, SystemAudioSidecar, "sidecar recording needs a unix platform", nil)
	}
	if s.device == "" {
		return SidecarInfo{}, newAcquisitionError(Unsupported, SystemAudioSidecar, "capture.sidecar_device not set", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil {
		return SidecarInfo{}, errors.New("sidecar already running")
	}

	started := s.now()
	path := filepath.Join(s.tempDir, fmt.Sprintf("system_audio_%d.wav", started.UnixMilli()))
	args := []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-f", s.inputFormat,
		"-i", s.device,
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(format.SampleRate),
		"-ac", strconv.Itoa(format.Channels),
		"-y", path,
	}
	cmd := exec.Command(s.binary, args...)
	stderr := &tailBuffer{limit: stderrTailBytes}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return SidecarInfo{}, newAcquisitionError(Unsupported, SystemAudioSidecar, "start sidecar", err)
	}
	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()

	timer := time.NewTimer(sidecarSettle)
	defer timer.Stop()
	select {
	case <-done:
		_ = os.Remove(path)
		return SidecarInfo{}, classifyStartup(SystemAudioSidecar, s.device, stderr.String(), nil)
	case <-ctx.Done():
		_ = killProcess(cmd.Process.Pid)
		<-done
		_ = os.Remove(path)
		return SidecarInfo{}, ctx.Err()
	case <-timer.C:
	}

	s.cmd = cmd
	s.done = done
	s.info = SidecarInfo{PID: cmd.Process.Pid, Path: path, StartedAt: started}
	return s.info, nil
}

// Stop interrupts the sidecar, escalating to SIGKILL after a grace period.
func (s *FFmpegSidecar) Stop(ctx context.Context) (SidecarInfo, error) {
	s.mu.Lock()
	cmd, done, info := s.cmd, s.done, s.info
	s.cmd, s.done = nil, nil
	s.mu.Unlock()
	if cmd == nil {
		return SidecarInfo{}, nil
	}

	if err := interruptProcess(info.PID); err != nil {
		s.logger.Debug("sidecar interrupt failed", logging.Int("pid", info.PID), logging.Error(err))
	}
	timer := time.NewTimer(sidecarGrace)
	defer timer.Stop()
	select {
	case <-done:
		return info, nil
	case <-timer.C:
	case <-ctx.Done():
	}
	logging.WarnWithContext(s.logger, "sidecar did not exit after interrupt; killing", "sidecar_kill",
		logging.Int("pid", info.PID),
		logging.String(logging.FieldImpact, "system audio file may be truncated"),
	)
	if err := killProcess(info.PID); err != nil {
		return info, fmt.Errorf("kill sidecar %d: %w", info.PID, err)
	}
	<-done
	return info, nil
}
