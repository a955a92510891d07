package fundamentals

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"valuesweep/internal/extract"
	"valuesweep/internal/fetcher"
)

// CodePlaceholder is replaced by the instrument code in page URL patterns.
const CodePlaceholder = "{code}"

// Source returns the raw text of one template page for an instrument.
type Source interface {
	Fetch(ctx context.Context, code string, template extract.Template) (string, error)
}

// PageSource resolves template pages from URL patterns and fetches them.
type PageSource struct {
	fetcher  fetcher.PageFetcher
	patterns map[extract.Template]string
}

// NewPageSource creates a PageSource. Each pattern must contain CodePlaceholder.
func NewPageSource(f fetcher.PageFetcher, patterns map[extract.Template]string) (*PageSource, error) {
	for t, p := range patterns {
		if !strings.Contains(p, CodePlaceholder) {
			return nil, fmt.Errorf("%s url pattern %q has no %s placeholder", t, p, CodePlaceholder)
		}
	}
	return &PageSource{fetcher: f, patterns: patterns}, nil
}

// URL returns the page address of template for code.
func (s *PageSource) URL(code string, template extract.Template) (string, error) {
	pattern, ok := s.patterns[template]
	if !ok {
		return "", fmt.Errorf("no url pattern for template %s", template)
	}
	return strings.ReplaceAll(pattern, CodePlaceholder, url.QueryEscape(code)), nil
}

// Fetch implements Source.
func (s *PageSource) Fetch(ctx context.Context, code string, template extract.Template) (string, error) {
	u, err := s.URL(code, template)
	if err != nil {
		return "", err
	}
	return s.fetcher.GetText(ctx, u)
}
