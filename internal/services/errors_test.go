package services_test

import (
	"errors"
	"strings"
	"testing"

	"autorec/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "capture", "microphone", "ffmpeg exited", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"capture", "microphone", "ffmpeg exited"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected placeholder detail, got %q", err.Error())
	}
}

func TestHintAndRetryable(t *testing.T) {
	tests := []struct {
		marker    error
		hint      string
		retryable bool
	}{
		{services.ErrConfiguration, "configuration", false},
		{services.ErrExternalTool, "doctor", false},
		{services.ErrNotFound, "exists", false},
		{services.ErrTimeout, "in time", true},
		{services.ErrTransient, "retry", true},
	}
	for _, tt := range tests {
		err := services.Wrap(tt.marker, "pipeline", "op", "", nil)
		if hint := services.Hint(err); !strings.Contains(hint, tt.hint) {
			t.Fatalf("hint for %v = %q, want fragment %q", tt.marker, hint, tt.hint)
		}
		if got := services.Retryable(err); got != tt.retryable {
			t.Fatalf("Retryable(%v) = %v, want %v", tt.marker, got, tt.retryable)
		}
	}
	if services.Hint(nil) != "" || services.Retryable(nil) {
		t.Fatal("expected nil error to have no hint and not be retryable")
	}
}
