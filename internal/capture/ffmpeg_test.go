package capture

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestClassifyStartup(t *testing.T) {
	tests := []struct {
		stderr string
		want   ErrorKind
	}{
		{"[pulse @ 0x1] Permission denied", PermissionDenied},
		{"[alsa @ 0x1] cannot open audio device hw:9 (No such device)", DeviceNotFound},
		{"default: Input/output error", DeviceNotFound},
		{"Unknown input format: 'dshow'", Unsupported},
		{"", Unsupported},
	}
	for _, tt := range tests {
		err := classifyStartup(Microphone, "default", tt.stderr, errors.New("exit status 1"))
		if err.Kind != tt.want {
			t.Fatalf("stderr %q: got %s want %s", tt.stderr, err.Kind, tt.want)
		}
		if !strings.Contains(err.Detail, `"default"`) {
			t.Fatalf("expected device in detail, got %q", err.Detail)
		}
	}
}

func TestPCMArgs(t *testing.T) {
	backend := NewFFmpegBackend(FFmpegConfig{InputFormat: "avfoundation"}, nil)
	args := strings.Join(backend.pcmArgs("0", []string{noiseSuppressFilter}), " ")
	for _, want := range []string{"-f avfoundation -i :0", "-af " + noiseSuppressFilter, "-ac 2", "-ar 44100", "-f s16le pipe:1"} {
		if !strings.Contains(args, want) {
			t.Fatalf("expected %q in %q", want, args)
		}
	}

	backend = NewFFmpegBackend(FFmpegConfig{InputFormat: "pulse"}, nil)
	if args := strings.Join(backend.inputArgs("default"), " "); args != "-f pulse -i default" {
		t.Fatalf("unexpected pulse args %q", args)
	}
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stubs require a unix shell")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func TestOpenMicrophoneReadsPCM(t *testing.T) {
	binary := writeScript(t, "printf 'abcdefgh'")
	backend := NewFFmpegBackend(FFmpegConfig{Binary: binary, InputFormat: "pulse", MicrophoneDevice: "default", StartupTimeout: 2 * time.Second}, nil)

	stream, err := backend.OpenMicrophone(context.Background(), MicrophoneConstraints(false, false))
	if err != nil {
		t.Fatalf("OpenMicrophone: %v", err)
	}
	defer stream.Stop()
	reader, err := stream.Tap()
	if err != nil {
		t.Fatalf("Tap: %v", err)
	}
	got, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "abcdefgh" {
		t.Fatalf("unexpected pcm %q", got)
	}
}

func TestOpenMicrophoneStartupFailure(t *testing.T) {
	binary := writeScript(t, "echo 'default: Permission denied' >&2\nexit 1")
	backend := NewFFmpegBackend(FFmpegConfig{Binary: binary, InputFormat: "pulse", MicrophoneDevice: "default", StartupTimeout: 2 * time.Second}, nil)

	_, err := backend.OpenMicrophone(context.Background(), MicrophoneConstraints(false, false))
	if !IsKind(err, PermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
}

func TestOpenMicrophoneStartupTimeout(t *testing.T) {
	binary := writeScript(t, "exec sleep 5")
	backend := NewFFmpegBackend(FFmpegConfig{Binary: binary, InputFormat: "pulse", MicrophoneDevice: "default", StartupTimeout: 100 * time.Millisecond}, nil)

	_, err := backend.OpenMicrophone(context.Background(), MicrophoneConstraints(false, false))
	if !IsKind(err, DeviceNotFound) {
		t.Fatalf("expected device not found on timeout, got %v", err)
	}
}

func TestOpenSystemAudioRequiresDevice(t *testing.T) {
	backend := NewFFmpegBackend(FFmpegConfig{}, nil)
	if _, err := backend.OpenSystemAudio(context.Background(), ScreenConstraints()); !IsKind(err, Unsupported) {
		t.Fatalf("expected unsupported, got %v", err)
	}
	stream, err := backend.OpenScreen(context.Background(), Source{ID: "screen:0", Name: "Entire screen"}, ScreenConstraints())
	if err != nil {
		t.Fatalf("OpenScreen: %v", err)
	}
	if stream.HasAudio() || len(stream.VideoTracks()) != 1 {
		t.Fatal("expected video-only screen stream without screen_audio_device")
	}
}
