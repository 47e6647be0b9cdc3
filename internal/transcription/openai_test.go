package transcription_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"autorec/internal/apiclient"
	"autorec/internal/services"
	"autorec/internal/transcription"
)

func newClient(t *testing.T, server *httptest.Server) *apiclient.Client {
	t.Helper()
	return apiclient.New(server.URL+"/v1",
		apiclient.WithBearerToken("test-key"),
		apiclient.WithRetryBackoff(time.Millisecond, 5*time.Millisecond),
		apiclient.WithSleeper(func(time.Duration) {}),
	)
}

func TestOpenAITranscriberSendsMultipartForm(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		if got := r.FormValue("model"); got != "whisper-1" {
			t.Errorf("model = %q", got)
		}
		if got := r.FormValue("language"); got != "ja" {
			t.Errorf("language = %q", got)
		}
		if got := r.FormValue("response_format"); got != "json" {
			t.Errorf("response_format = %q", got)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if string(data) != "RIFFdata" {
			t.Errorf("unexpected file payload %q", data)
		}
		if header.Filename != "microphone.wav" {
			t.Errorf("filename = %q", header.Filename)
		}
		if ct := header.Header.Get("Content-Type"); ct != "audio/wav" {
			t.Errorf("file content type = %q", ct)
		}
		_, _ = w.Write([]byte(`{"text":"  こんにちは  "}`))
	}))
	defer server.Close()

	transcriber, err := transcription.NewOpenAITranscriber(newClient(t, server), "whisper-1", "ja-JP")
	if err != nil {
		t.Fatalf("NewOpenAITranscriber: %v", err)
	}
	text, err := transcriber.Transcribe(context.Background(), transcription.Audio{
		Data:     []byte("RIFFdata"),
		MIMEType: "audio/wav",
		Filename: "microphone.wav",
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "こんにちは" {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestOpenAITranscriberOmitsAutoLanguage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if _, ok := r.MultipartForm.Value["language"]; ok {
			t.Error("expected no language field for auto detection")
		}
		_, _ = w.Write([]byte(`{"text":"hello"}`))
	}))
	defer server.Close()

	transcriber, err := transcription.NewOpenAITranscriber(newClient(t, server), "", "auto")
	if err != nil {
		t.Fatalf("NewOpenAITranscriber: %v", err)
	}
	if _, err := transcriber.Transcribe(context.Background(), transcription.Audio{Data: []byte{1}}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
}

func TestOpenAITranscriberRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"text":"third time"}`))
	}))
	defer server.Close()

	transcriber, err := transcription.NewOpenAITranscriber(newClient(t, server), "whisper-1", "")
	if err != nil {
		t.Fatalf("NewOpenAITranscriber: %v", err)
	}
	text, err := transcriber.Transcribe(context.Background(), transcription.Audio{Data: []byte{1}})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "third time" || calls.Load() != 3 {
		t.Fatalf("unexpected result %q after %d calls", text, calls.Load())
	}
}

func TestOpenAITranscriberRejectsEmptyAudio(t *testing.T) {
	client := apiclient.New("http://127.0.0.1:1")
	transcriber, err := transcription.NewOpenAITranscriber(client, "whisper-1", "")
	if err != nil {
		t.Fatalf("NewOpenAITranscriber: %v", err)
	}
	_, err = transcriber.Transcribe(context.Background(), transcription.Audio{})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestOpenAISummarizerPostsChatCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
			MaxTokens   int     `json:"max_tokens"`
			Temperature float64 `json:"temperature"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "gpt-4" || req.MaxTokens != 256 || req.Temperature != 0.3 {
			t.Errorf("unexpected parameters %+v", req)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Role != "user" {
			t.Errorf("unexpected messages %+v", req.Messages)
		} else if req.Messages[0].Content != "Summarize." || req.Messages[1].Content != "we agreed" {
			t.Errorf("unexpected message content %+v", req.Messages)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"- agreed"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	summarizer, err := transcription.NewOpenAISummarizer(newClient(t, server), transcription.SummarizerConfig{
		Model:       "gpt-4",
		Prompt:      "Summarize.",
		MaxTokens:   256,
		Temperature: 0.3,
	})
	if err != nil {
		t.Fatalf("NewOpenAISummarizer: %v", err)
	}
	summary, err := summarizer.Summarize(context.Background(), "we agreed")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if summary != "- agreed" {
		t.Fatalf("unexpected summary %q", summary)
	}
}

func TestOpenAISummarizerEmptyChoicesIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	summarizer, err := transcription.NewOpenAISummarizer(newClient(t, server), transcription.SummarizerConfig{Prompt: "p"})
	if err != nil {
		t.Fatalf("NewOpenAISummarizer: %v", err)
	}
	_, err = summarizer.Summarize(context.Background(), "text")
	if err == nil || !strings.Contains(err.Error(), "no choices") {
		t.Fatalf("expected no choices error, got %v", err)
	}
}

func TestOpenAISummarizerDoesNotRetryAuthFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
	}))
	defer server.Close()

	summarizer, err := transcription.NewOpenAISummarizer(newClient(t, server), transcription.SummarizerConfig{Prompt: "p"})
	if err != nil {
		t.Fatalf("NewOpenAISummarizer: %v", err)
	}
	_, err = summarizer.Summarize(context.Background(), "text")
	apiErr, ok := apiclient.AsAPIError(err)
	if !ok {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Kind != apiclient.KindAuth || apiErr.Message != "invalid api key" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}
