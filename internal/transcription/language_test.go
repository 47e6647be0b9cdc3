package transcription

import (
	"errors"
	"testing"

	"autorec/internal/services"
)

func TestNormalizeLanguage(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"auto", ""},
		{"AUTO", ""},
		{"en", "en"},
		{"en-US", "en"},
		{"ja_JP", "ja"},
		{"de-CH", "de"},
		{"zh-Hant-TW", "zh"},
	}
	for _, tt := range tests {
		got, err := NormalizeLanguage(tt.in)
		if err != nil {
			t.Fatalf("NormalizeLanguage(%q) returned error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("NormalizeLanguage(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeLanguageRejectsMalformedTags(t *testing.T) {
	_, err := NormalizeLanguage("!!")
	if err == nil {
		t.Fatal("expected error for malformed tag")
	}
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
