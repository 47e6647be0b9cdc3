package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"autorec/internal/logging"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 1 * time.Second
	defaultMaxDelay    = 60 * time.Second
	defaultHTTPTimeout = 120 * time.Second
	maxResponseBytes   = 32 << 20
)

// Request describes one logical API call. Body is resent verbatim on every
// attempt. Path may be relative to the client base URL or an absolute URL.
type Request struct {
	Name        string
	Method      string
	Path        string
	Body        []byte
	ContentType string
	Header      http.Header
}

// Response is a successful (2xx) reply.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Attempts   int
}

// Observer receives request outcomes, typically for metrics.
type Observer interface {
	RequestCompleted(name string, status int, attempts int, elapsed time.Duration)
	RetryScheduled(name string, status int, delay time.Duration)
}

// Client issues HTTP requests with bounded retries. It holds no state that is
// mutated by calls, so one Client is safe for concurrent use.
type Client struct {
	baseURL     string
	token       string
	userAgent   string
	httpClient  *http.Client
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	sleeper     func(time.Duration)
	now         func() time.Time
	observer    Observer
	logger      *slog.Logger
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout sets the per-attempt HTTP timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

// WithBearerToken sets the Authorization header for every request.
func WithBearerToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithRetryMaxAttempts overrides the attempt budget (defaults to 3).
func WithRetryMaxAttempts(attempts int) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.maxAttempts = attempts
		}
	}
}

// WithRetryBackoff overrides the retry backoff delays.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		if baseDelay >= 0 {
			c.baseDelay = baseDelay
		}
		if maxDelay > 0 {
			c.maxDelay = maxDelay
		}
	}
}

// WithSleeper overrides how retry waits are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// WithObserver registers a request outcome observer.
func WithObserver(observer Observer) Option {
	return func(c *Client) {
		c.observer = observer
	}
}

// WithLogger sets the logger used for retry warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New constructs a client rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	client := &Client{
		baseURL:     strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		userAgent:   "autorec",
		httpClient:  &http.Client{Timeout: defaultHTTPTimeout},
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
		maxDelay:    defaultMaxDelay,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.logger == nil {
		client.logger = logging.NewNop()
	}
	client.logger = logging.NewComponentLogger(client.logger, "apiclient")
	return client
}

// MaxAttempts returns the attempt budget.
func (c *Client) MaxAttempts() int { return c.maxAttempts }

// Do executes req until it succeeds, fails permanently, or the attempt budget
// is exhausted. Every failure is returned as *APIError unless ctx ends first,
// in which case the context error is returned.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	endpoint, err := c.resolve(req.Path)
	if err != nil {
		return nil, err
	}
	method := req.Method
	if method == "" {
		method = http.MethodPost
	}
	name := req.Name
	if name == "" {
		name = req.Path
	}
	logger := logging.WithContext(ctx, c.logger)

	started := c.now()
	var lastErr *APIError
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		resp, apiErr := c.attempt(ctx, method, endpoint, req)
		if apiErr == nil {
			resp.Attempts = attempt
			c.observeCompleted(name, resp.StatusCode, attempt, started)
			return resp, nil
		}
		apiErr.Attempts = attempt
		lastErr = apiErr

		delay, retry := c.retryDelay(ctx, apiErr, attempt)
		if !retry {
			break
		}
		if c.observer != nil {
			c.observer.RetryScheduled(name, apiErr.Status, delay)
		}
		logging.WarnWithContext(logger, "api request failed; retrying", "api_retry",
			logging.String("request", name),
			logging.Int("status", apiErr.Status),
			logging.String("kind", string(apiErr.Kind)),
			logging.Int("attempt", attempt),
			logging.Int("max_attempts", c.maxAttempts),
			logging.Duration("delay", delay),
			logging.String("message", apiErr.Message),
			logging.String(logging.FieldErrorHint, "transient upstream failure; the request is retried automatically"),
			logging.String(logging.FieldImpact, "result delayed"),
		)
		if err := c.sleep(ctx, delay); err != nil {
			c.observeCompleted(name, 0, attempt, started)
			return nil, err
		}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		c.observeCompleted(name, 0, lastErr.Attempts, started)
		return nil, ctxErr
	}
	c.observeCompleted(name, lastErr.Status, lastErr.Attempts, started)
	return nil, lastErr
}

// PostJSON marshals payload, posts it, and decodes a JSON reply into out when out is non-nil.
func (c *Client) PostJSON(ctx context.Context, name, path string, payload, out any) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", name, err)
	}
	resp, err := c.Do(ctx, Request{
		Name:        name,
		Method:      http.MethodPost,
		Path:        path,
		Body:        body,
		ContentType: "application/json",
	})
	if err != nil {
		return nil, err
	}
	if out != nil && len(bytes.TrimSpace(resp.Body)) > 0 {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return resp, fmt.Errorf("decode %s response: %w", name, err)
		}
	}
	return resp, nil
}

func (c *Client) attempt(ctx context.Context, method, endpoint string, req Request) (*Response, *APIError) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, &APIError{Kind: KindBadRequest, Message: err.Error(), Err: err}
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	if c.token != "" && httpReq.Header.Get("Authorization") == "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &APIError{Kind: KindNetwork, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &APIError{Kind: KindNetwork, Status: 0, Message: "read response: " + err.Error(), Err: err}
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"), c.now())
		return nil, &APIError{
			Status:     resp.StatusCode,
			Kind:       kindForStatus(resp.StatusCode),
			Message:    parseErrorMessage(resp.StatusCode, payload),
			RetryAfter: retryAfter,
		}
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: payload}, nil
}

func (c *Client) resolve(path string) (string, error) {
	path = strings.TrimSpace(path)
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path, nil
	}
	if c.baseURL == "" {
		return "", fmt.Errorf("api request %q: no base url configured", path)
	}
	endpoint, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return "", fmt.Errorf("api request: build url: %w", err)
	}
	return endpoint, nil
}

func (c *Client) observeCompleted(name string, status, attempts int, started time.Time) {
	if c.observer == nil {
		return
	}
	c.observer.RequestCompleted(name, status, attempts, c.now().Sub(started))
}
