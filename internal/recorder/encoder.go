package recorder

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"autorec/internal/capture"
	"autorec/internal/services"
)

// Encoder turns raw s16le PCM into an artifact payload.
type Encoder interface {
	Encode(ctx context.Context, pcm []byte, format capture.Format) ([]byte, error)
	MIMEType() string
	Extension() string
}

// NewEncoder returns the encoder for a recording.format value.
func NewEncoder(format, ffmpegBinary string) Encoder {
	if strings.EqualFold(format, "opus") {
		return FFmpegEncoder{Binary: ffmpegBinary}
	}
	return WAVEncoder{}
}

// WAVEncoder wraps PCM in a RIFF/WAVE container.
type WAVEncoder struct{}

func (WAVEncoder) MIMEType() string  { return "audio/wav" }
func (WAVEncoder) Extension() string { return ".wav" }

// Encode prepends a 44-byte PCM WAVE header.
func (WAVEncoder) Encode(_ context.Context, pcm []byte, format capture.Format) ([]byte, error) {
	return EncodeWAV(pcm, format), nil
}

// EncodeWAV returns pcm as a 16-bit PCM WAVE file.
func EncodeWAV(pcm []byte, format capture.Format) []byte {
	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	dataLen := uint32(len(pcm))
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, 36+dataLen)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(format.Channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(format.SampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(format.BytesPerSecond()))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(format.BytesPerFrame()))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, dataLen)
	buf.Write(pcm)
	return buf.Bytes()
}

// FFmpegEncoder transcodes to mono 16 kHz Ogg/Opus, which keeps long
// meetings well under transcription upload limits.
type FFmpegEncoder struct {
	Binary string
}

func (FFmpegEncoder) MIMEType() string  { return "audio/ogg" }
func (FFmpegEncoder) Extension() string { return ".ogg" }

// Encode pipes pcm through ffmpeg.
func (e FFmpegEncoder) Encode(ctx context.Context, pcm []byte, format capture.Format) ([]byte, error) {
	bin := e.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	args := []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-f", "s16le",
		"-ar", strconv.Itoa(format.SampleRate),
		"-ac", strconv.Itoa(format.Channels),
		"-i", "pipe:0",
		"-ac", "1", "-ar", "16000",
		"-c:a", "libopus", "-b:a", "32k",
		"-f", "ogg", "pipe:1",
	}
	cmd := exec.CommandContext(ctx, bin, args...) //nolint:gosec
	cmd.Stdin = bytes.NewReader(pcm)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, services.Wrap(services.ErrExternalTool, "recording", "encode", "ffmpeg not found", err)
		}
		detail := strings.TrimSpace(stderr.String())
		return nil, services.Wrap(services.ErrExternalTool, "recording", "encode", fmt.Sprintf("ffmpeg opus encode failed: %s", detail), err)
	}
	return stdout.Bytes(), nil
}
