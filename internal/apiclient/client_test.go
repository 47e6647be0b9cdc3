package apiclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"autorec/internal/services"
)

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) sleep(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
}

func (s *recordingSleeper) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

type stubObserver struct {
	mu        sync.Mutex
	completed []int
	retries   int
}

func (o *stubObserver) RequestCompleted(_ string, status int, _ int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completed = append(o.completed, status)
}

func (o *stubObserver) RetryScheduled(string, int, time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries++
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(`{"text":"ok"}`))
	}))
	defer server.Close()

	client := New(server.URL+"/v1", WithBearerToken("secret"))
	resp, err := client.Do(context.Background(), Request{Path: "audio/transcriptions", Body: []byte("x")})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if resp.Attempts != 1 || string(resp.Body) != `{"text":"ok"}` {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestDoHonorsRetryAfterAndExhausts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"slow down"}}`))
	}))
	defer server.Close()

	sleeper := &recordingSleeper{}
	observer := &stubObserver{}
	client := New(server.URL, WithSleeper(sleeper.sleep), WithObserver(observer))

	_, err := client.Do(context.Background(), Request{Path: "chat/completions", Body: []byte("{}")})
	apiErr, ok := AsAPIError(err)
	if !ok {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusTooManyRequests || apiErr.Kind != KindRateLimited {
		t.Fatalf("unexpected error classification: %+v", apiErr)
	}
	if apiErr.Message != "slow down" {
		t.Fatalf("expected parsed message, got %q", apiErr.Message)
	}
	if apiErr.Attempts != 3 || calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d (calls=%d)", apiErr.Attempts, calls.Load())
	}
	delays := sleeper.recorded()
	if len(delays) != 2 {
		t.Fatalf("expected 2 waits between 3 attempts, got %v", delays)
	}
	for _, d := range delays {
		if d < 2*time.Second {
			t.Fatalf("expected each wait to honor Retry-After of 2s, got %s", d)
		}
	}
	if !errors.Is(err, services.ErrTransient) {
		t.Fatal("expected rate limit to classify as transient")
	}
	if observer.retries != 2 || len(observer.completed) != 1 || observer.completed[0] != http.StatusTooManyRequests {
		t.Fatalf("unexpected observer calls: %+v", observer)
	}
}

func TestDoUsesExponentialBackoffWithoutRetryAfter(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 4 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "payload" {
			t.Errorf("expected body to be resent, got %q", body)
		}
		w.Write([]byte("{}"))
	}))
	defer server.Close()

	sleeper := &recordingSleeper{}
	client := New(server.URL, WithSleeper(sleeper.sleep), WithRetryMaxAttempts(4), WithRetryBackoff(time.Second, time.Minute))
	resp, err := client.Do(context.Background(), Request{Path: "x", Body: []byte("payload")})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if resp.Attempts != 4 {
		t.Fatalf("expected success on attempt 4, got %d", resp.Attempts)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	got := sleeper.recorded()
	if len(got) != len(want) {
		t.Fatalf("unexpected delays %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("delay %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestDoDoesNotRetryClientErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		kind    Kind
		message string
		marker  error
	}{
		{"bad request nested", http.StatusBadRequest, `{"error":{"message":"file too large"}}`, KindBadRequest, "file too large", services.ErrValidation},
		{"auth string", http.StatusUnauthorized, `{"error":"invalid key"}`, KindAuth, "invalid key", services.ErrConfiguration},
		{"not found message", http.StatusNotFound, `{"message":"no model"}`, KindBadRequest, "no model", services.ErrValidation},
		{"plain text", http.StatusUnprocessableEntity, `nope`, KindBadRequest, "nope", services.ErrValidation},
		{"request timeout", http.StatusRequestTimeout, `{"message":"upload stalled"}`, KindBadRequest, "upload stalled", services.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			sleeper := &recordingSleeper{}
			client := New(server.URL, WithSleeper(sleeper.sleep))
			_, err := client.Do(context.Background(), Request{Path: "x"})
			apiErr, ok := AsAPIError(err)
			if !ok {
				t.Fatalf("expected APIError, got %v", err)
			}
			if calls.Load() != 1 || len(sleeper.recorded()) != 0 {
				t.Fatalf("expected a single attempt without waits, calls=%d", calls.Load())
			}
			if apiErr.Kind != tt.kind || apiErr.Message != tt.message || apiErr.Status != tt.status {
				t.Fatalf("unexpected error %+v", apiErr)
			}
			if !errors.Is(err, tt.marker) {
				t.Fatalf("expected marker %v", tt.marker)
			}
		})
	}
}

func TestDoRetriesNetworkFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	sleeper := &recordingSleeper{}
	client := New(url, WithSleeper(sleeper.sleep), WithRetryBackoff(10*time.Millisecond, time.Second))
	_, err := client.Do(context.Background(), Request{Path: "x"})
	apiErr, ok := AsAPIError(err)
	if !ok {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Kind != KindNetwork || apiErr.Status != 0 || apiErr.Attempts != 3 {
		t.Fatalf("unexpected network error: %+v", apiErr)
	}
	if got := sleeper.recorded(); len(got) != 2 || got[0] != 10*time.Millisecond || got[1] != 20*time.Millisecond {
		t.Fatalf("unexpected delays: %v", got)
	}
}

func TestDoStopsWhenContextCancelledDuringWait(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	client := New(server.URL, WithSleeper(func(time.Duration) { cancel() }))
	_, err := client.Do(ctx, Request{Path: "x"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected no attempt after cancellation, got %d", calls.Load())
	}
}

func TestDoRealTimerRespectsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	client := New(server.URL, WithRetryBackoff(10*time.Second, time.Minute))
	start := time.Now()
	_, err := client.Do(ctx, Request{Path: "x"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("wait ignored context cancellation (%s)", elapsed)
	}
}

func TestPostJSONDecodes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		w.Write([]byte(`{"id":"abc"}`))
	}))
	defer server.Close()

	var out struct {
		ID string `json:"id"`
	}
	client := New("")
	if _, err := client.PostJSON(context.Background(), "webhook", server.URL+"/hook", map[string]string{"a": "b"}, &out); err != nil {
		t.Fatalf("PostJSON returned error: %v", err)
	}
	if out.ID != "abc" {
		t.Fatalf("unexpected decoded payload: %+v", out)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		value string
		want  time.Duration
		ok    bool
	}{
		{"2", 2 * time.Second, true},
		{" 0 ", 0, true},
		{"-1", 0, false},
		{"", 0, false},
		{now.Add(5 * time.Second).Format(http.TimeFormat), 5 * time.Second, true},
		{now.Add(-5 * time.Second).Format(http.TimeFormat), 0, false},
		{"soon", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseRetryAfter(tt.value, now)
		if ok != tt.ok || got != tt.want {
			t.Fatalf("parseRetryAfter(%q) = %s,%v want %s,%v", tt.value, got, ok, tt.want, tt.ok)
		}
	}
}

func TestBackoffDelayCaps(t *testing.T) {
	client := New("http://x", WithRetryBackoff(time.Second, 5*time.Second))
	wants := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, want := range wants {
		if got := client.backoffDelay(i + 1); got != want {
			t.Fatalf("backoffDelay(%d) = %s, want %s", i+1, got, want)
		}
	}
}
