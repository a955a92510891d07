package fetcher

import (
	"log/slog"
	"time"

	"resty.dev/v3"
)

const (
	// Default retry configuration
	defaultRetryWaitTime    = 1 * time.Second
	defaultRetryMaxWaitTime = 10 * time.Second

	defaultTimeout   = 15 * time.Second
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// ClientOptions configures the shared HTTP client.
type ClientOptions struct {
	Timeout time.Duration
	// UserAgent is sent on every request; the source sites reject bare clients.
	UserAgent string
	// RetryCount is zero for sweeps: a failed page is recorded, not retried.
	RetryCount int
	// RetryWait is the initial backoff between retries.
	RetryWait time.Duration
	// Headers are added to every request, e.g. the Referer the listing
	// endpoint checks.
	Headers map[string]string
}

// NewHTTPClient creates a new HTTP client with browser-like headers and
// optional retry with exponential backoff
func NewHTTPClient(opts ClientOptions) *resty.Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = defaultRetryWaitTime
	}

	client := resty.New().
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", opts.UserAgent).
		SetHeader("Accept-Language", "ko-KR,ko;q=0.9,en-US;q=0.8").
		SetHeader("Cache-Control", "no-cache").
		SetHeaders(opts.Headers)

	if opts.RetryCount > 0 {
		client.
			SetRetryCount(opts.RetryCount).
			SetRetryWaitTime(opts.RetryWait).
			SetRetryMaxWaitTime(defaultRetryMaxWaitTime).
			AddRetryConditions(retryCondition).
			AddRetryHooks(retryHook)
	}

	return client
}

// retryCondition retries exactly the failures the FetchError taxonomy marks
// retryable
func retryCondition(r *resty.Response, err error) bool {
	if err != nil {
		return ClassifyTransportError(err).Retryable
	}
	if r.IsSuccess() {
		return false
	}
	return ClassifyHTTPError(r.StatusCode()).Retryable
}

// retryHook logs retry attempts for observability
func retryHook(r *resty.Response, err error) {
	if err != nil {
		slog.Debug("retrying request due to error",
			"url", r.Request.URL,
			"attempt", r.Request.Attempt,
			"error", err.Error())
		return
	}

	slog.Debug("retrying request due to status code",
		"url", r.Request.URL,
		"attempt", r.Request.Attempt,
		"status_code", r.StatusCode())
}
