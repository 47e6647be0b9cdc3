package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"autorec/internal/logging"
)

const (
	defaultStartupTimeout = 5 * time.Second
	processStopGrace      = 3 * time.Second
	stderrTailBytes       = 4096
	noiseSuppressFilter   = "afftdn=nf=-25"
)

// FFmpegConfig selects devices for FFmpegBackend.
type FFmpegConfig struct {
	Binary            string
	InputFormat       string
	MicrophoneDevice  string
	EchoCancelDevice  string
	ScreenAudioDevice string
	SystemAudioDevice string
	StartupTimeout    time.Duration
	Format            Format
}

// FFmpegBackend captures audio by running ffmpeg with raw PCM on stdout.
type FFmpegBackend struct {
	cfg    FFmpegConfig
	logger *slog.Logger
}

// NewFFmpegBackend constructs a backend.
func NewFFmpegBackend(cfg FFmpegConfig, logger *slog.Logger) *FFmpegBackend {
	if cfg.Binary == "" {
		cfg.Binary = "ffmpeg"
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = defaultStartupTimeout
	}
	if cfg.Format.SampleRate == 0 {
		cfg.Format = DefaultFormat
	}
	return &FFmpegBackend{cfg: cfg, logger: logging.NewComponentLogger(logger, "capture.ffmpeg")}
}

// OpenMicrophone starts microphone capture honoring the processing hints.
func (b *FFmpegBackend) OpenMicrophone(ctx context.Context, c Constraints) (*Stream, error) {
	device := b.cfg.MicrophoneDevice
	if c.EchoCancellation {
		if b.cfg.EchoCancelDevice != "" {
			device = b.cfg.EchoCancelDevice
		} else {
			b.logger.Debug("echo cancellation requested without capture.echo_cancel_device; using raw microphone")
		}
	}
	var filters []string
	if c.NoiseSuppression {
		filters = append(filters, noiseSuppressFilter)
	}
	pcm, err := b.startPCM(ctx, Microphone, device, filters)
	if err != nil {
		return nil, err
	}
	return NewStream(Microphone, device, "microphone", b.cfg.Format, pcm), nil
}

// OpenScreen returns a stream with a logical video track for src. Audio is
// included only when capture.screen_audio_device names a monitor source.
func (b *FFmpegBackend) OpenScreen(ctx context.Context, src Source, _ Constraints) (*Stream, error) {
	video := NewTrack(src.ID+"/video", TrackVideo, src.Name)
	if b.cfg.ScreenAudioDevice == "" {
		return NewStream(Screen, src.ID, src.Name, b.cfg.Format, nil, video), nil
	}
	pcm, err := b.startPCM(ctx, Screen, b.cfg.ScreenAudioDevice, nil)
	if err != nil {
		return nil, err
	}
	return NewStream(Screen, src.ID, src.Name, b.cfg.Format, pcm, video), nil
}

// OpenSystemAudio captures the configured system audio device.
func (b *FFmpegBackend) OpenSystemAudio(ctx context.Context, _ Constraints) (*Stream, error) {
	if b.cfg.SystemAudioDevice == "" {
		return nil, newAcquisitionError(Unsupported, Screen, "capture.system_audio_device not set", nil)
	}
	pcm, err := b.startPCM(ctx, Screen, b.cfg.SystemAudioDevice, nil)
	if err != nil {
		return nil, err
	}
	return NewStream(Screen, b.cfg.SystemAudioDevice, "system audio", b.cfg.Format, pcm), nil
}

func (b *FFmpegBackend) inputArgs(device string) []string {
	format := b.cfg.InputFormat
	if format == "avfoundation" && !strings.Contains(device, ":") {
		device = ":" + device
	}
	return []string{"-f", format, "-i", device}
}

func (b *FFmpegBackend) pcmArgs(device string, filters []string) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	args = append(args, b.inputArgs(device)...)
	if len(filters) > 0 {
		args = append(args, "-af", strings.Join(filters, ","))
	}
	args = append(args,
		"-ac", strconv.Itoa(b.cfg.Format.Channels),
		"-ar", strconv.Itoa(b.cfg.Format.SampleRate),
		"-acodec", "pcm_s16le",
		"-f", "s16le",
		"pipe:1",
	)
	return args
}

func (b *FFmpegBackend) startPCM(ctx context.Context, kind Kind, device string, filters []string) (io.ReadCloser, error) {
	args := b.pcmArgs(device, filters)
	b.logger.Debug("starting ffmpeg capture", logging.String("kind", kind.String()), logging.String("args", strings.Join(args, " ")))

	cmd := exec.Command(b.cfg.Binary, args...)
	stderr := &tailBuffer{limit: stderrTailBytes}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, newAcquisitionError(Unsupported, kind, "ffmpeg not found in PATH", err)
		}
		return nil, newAcquisitionError(Unsupported, kind, "start ffmpeg", err)
	}

	proc := &pcmProcess{cmd: cmd, reader: bufio.NewReaderSize(stdout, 64<<10), stderr: stderr, done: make(chan struct{})}
	go proc.wait()

	ready := make(chan error, 1)
	go func() {
		_, err := proc.reader.Peek(1)
		ready <- err
	}()

	timer := time.NewTimer(b.cfg.StartupTimeout)
	defer timer.Stop()
	select {
	case err := <-ready:
		if err == nil {
			return proc, nil
		}
		<-proc.done
		return nil, classifyStartup(kind, device, stderr.String(), proc.waitErr)
	case <-timer.C:
		_ = proc.Close()
		return nil, newAcquisitionError(DeviceNotFound, kind, fmt.Sprintf("no audio from %q within %s", device, b.cfg.StartupTimeout), nil)
	case <-ctx.Done():
		_ = proc.Close()
		return nil, ctx.Err()
	}
}

// classifyStartup maps ffmpeg diagnostics to an acquisition failure kind.
func classifyStartup(kind Kind, device, stderr string, waitErr error) *AcquisitionError {
	text := strings.ToLower(stderr)
	detail := strings.TrimSpace(lastLine(stderr))
	if detail == "" {
		detail = "ffmpeg exited before producing audio"
	}
	detail = fmt.Sprintf("%s (device %q)", detail, device)
	switch {
	case containsAny(text, "permission denied", "operation not permitted", "not authorized", "access denied", "not authorised"):
		return newAcquisitionError(PermissionDenied, kind, detail, waitErr)
	case containsAny(text, "no such file", "no such device", "no such entity", "not found", "cannot find", "could not find", "invalid device", "input/output error"):
		return newAcquisitionError(DeviceNotFound, kind, detail, waitErr)
	default:
		return newAcquisitionError(Unsupported, kind, detail, waitErr)
	}
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return lines[len(lines)-1]
}

// pcmProcess adapts a running ffmpeg to io.ReadCloser.
type pcmProcess struct {
	cmd     *exec.Cmd
	reader  *bufio.Reader
	stderr  *tailBuffer
	done    chan struct{}
	waitErr error
	once    sync.Once
}

func (p *pcmProcess) wait() {
	p.waitErr = p.cmd.Wait()
	close(p.done)
}

func (p *pcmProcess) Read(b []byte) (int, error) {
	n, err := p.reader.Read(b)
	if errors.Is(err, io.EOF) {
		<-p.done
		if p.waitErr != nil {
			if tail := strings.TrimSpace(lastLine(p.stderr.String())); tail != "" {
				return n, fmt.Errorf("ffmpeg exited: %s", tail)
			}
			return n, fmt.Errorf("ffmpeg exited: %w", p.waitErr)
		}
	}
	return n, err
}

// Close asks ffmpeg to finish and kills it after a grace period.
func (p *pcmProcess) Close() error {
	p.once.Do(func() {
		if p.cmd.Process == nil {
			return
		}
		_ = p.cmd.Process.Signal(os.Interrupt)
		select {
		case <-p.done:
		case <-time.After(processStopGrace):
			_ = p.cmd.Process.Kill()
			<-p.done
		}
	})
	return nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
