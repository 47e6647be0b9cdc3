package apiclient

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// retryDelay reports whether a failed attempt should be retried and how long
// to wait first. attempt is 1-based.
func (c *Client) retryDelay(ctx context.Context, apiErr *APIError, attempt int) (time.Duration, bool) {
	if attempt >= c.maxAttempts || apiErr == nil {
		return 0, false
	}
	if ctx.Err() != nil {
		return 0, false
	}
	if apiErr.Kind == KindNetwork {
		if errors.Is(apiErr.Err, context.Canceled) || errors.Is(apiErr.Err, context.DeadlineExceeded) {
			return 0, false
		}
		return c.backoffDelay(attempt), true
	}
	if !apiErr.Retryable() {
		return 0, false
	}
	if apiErr.RetryAfter > 0 {
		return c.capDelay(apiErr.RetryAfter), true
	}
	return c.backoffDelay(attempt), true
}

// backoffDelay returns base * 2^(attempt-1), capped at the configured maximum.
func (c *Client) backoffDelay(attempt int) time.Duration {
	if c.baseDelay <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		if c.maxDelay > 0 && delay > c.maxDelay/2 {
			delay = c.maxDelay
			break
		}
		delay *= 2
	}
	return c.capDelay(delay)
}

func (c *Client) capDelay(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	if c.maxDelay > 0 && delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

// sleep waits for delay or until ctx is done. The context is checked again
// after the wait so a cancellation during the wait is never missed.
func (c *Client) sleep(ctx context.Context, delay time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if delay <= 0 {
		return nil
	}
	if c.sleeper != nil {
		c.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ctx.Err()
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := when.Sub(now)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}
