package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"resty.dev/v3"

	"valuesweep/internal/ratelimit"
)

// PageFetcher is the transport used by the directory sync and the
// fundamentals sweep. Every failure it returns is a *FetchError.
type PageFetcher interface {
	// GetText retrieves url and returns its body decoded to UTF-8 using the
	// declared or sniffed charset.
	GetText(ctx context.Context, url string) (string, error)

	// PostJSON submits form to url and decodes the JSON response into out.
	PostJSON(ctx context.Context, url string, form map[string]string, out any) error
}

// Waiter blocks until a request against source may proceed.
type Waiter interface {
	Wait(ctx context.Context, source ratelimit.Source) error
}

// Client implements PageFetcher on a resty client. All of its requests are
// paced against a single rate-limit source.
type Client struct {
	http    *resty.Client
	limiter Waiter
	source  ratelimit.Source
}

// New creates a Client. A nil limiter disables pacing.
func New(http *resty.Client, limiter Waiter, source ratelimit.Source) *Client {
	return &Client{
		http:    http,
		limiter: limiter,
		source:  source,
	}
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx, c.source); err != nil {
		return ClassifyTransportError(err)
	}
	return nil
}

// GetText implements PageFetcher.
func (c *Client) GetText(ctx context.Context, url string) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8").
		Get(url)
	if err != nil {
		return "", ClassifyTransportError(err)
	}

	if !resp.IsSuccess() {
		return "", ClassifyHTTPError(resp.StatusCode())
	}

	return decodeText(resp.Bytes(), resp.Header().Get("Content-Type"))
}

// PostJSON implements PageFetcher.
func (c *Client) PostJSON(ctx context.Context, url string, form map[string]string, out any) error {
	if err := c.wait(ctx); err != nil {
		return err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json, text/javascript, */*; q=0.01").
		SetHeader("X-Requested-With", "XMLHttpRequest").
		SetFormData(form).
		Post(url)
	if err != nil {
		return ClassifyTransportError(err)
	}

	if !resp.IsSuccess() {
		return ClassifyHTTPError(resp.StatusCode())
	}

	if err := json.Unmarshal(resp.Bytes(), out); err != nil {
		return NewDecodeError(fmt.Errorf("invalid JSON from %s: %w", url, err))
	}
	return nil
}

// decodeText converts body to UTF-8. Legacy pages are served as EUC-KR,
// either declared in the Content-Type header or in a meta tag.
func decodeText(body []byte, contentType string) (string, error) {
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return "", NewDecodeError(err)
	}

	text, err := io.ReadAll(r)
	if err != nil {
		return "", NewDecodeError(err)
	}

	if !utf8.Valid(text) {
		return "", NewDecodeError(fmt.Errorf("body is not valid %s text", describeCharset(contentType)))
	}
	return string(text), nil
}

func describeCharset(contentType string) string {
	if contentType == "" {
		return "UTF-8"
	}
	return fmt.Sprintf("%q", contentType)
}
