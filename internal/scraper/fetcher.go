package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/maltedev/reseller-monitor/internal/browser"
	"github.com/maltedev/reseller-monitor/internal/ratelimit"
)

// ErrHTTPStatus is returned when a page answers with an error status.
var ErrHTTPStatus = errors.New("page returned error status")

// Page is raw markup plus the content type it was served with.
type Page struct {
	Body        []byte
	ContentType string
}

// Fetcher acquires the markup of a page.
type Fetcher interface {
	Fetch(ctx context.Context, url string, set SelectorSet) (*Page, error)
}

// StaticFetcher downloads pages with plain HTTP. Scripts are not executed.
type StaticFetcher struct {
	client *resty.Client
	gate   ratelimit.RateLimiter
}

type StaticOptions struct {
	Timeout   time.Duration
	UserAgent string
}

func NewStaticFetcher(opts StaticOptions, gate ratelimit.RateLimiter) *StaticFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}

	client := resty.New().
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8").
		SetHeader("Accept-Language", "ko-KR,ko;q=0.9,en;q=0.8")
	if opts.UserAgent != "" {
		client.SetHeader("User-Agent", opts.UserAgent)
	}

	return &StaticFetcher{client: client, gate: gate}
}

func (f *StaticFetcher) Fetch(ctx context.Context, url string, _ SelectorSet) (*Page, error) {
	if f.gate != nil {
		if err := f.gate.Wait(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := f.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: %d", ErrHTTPStatus, resp.StatusCode())
	}

	return &Page{
		Body:        resp.Body(),
		ContentType: resp.Header().Get("Content-Type"),
	}, nil
}

// Renderer runs a page's scripts and returns the resulting HTML.
type Renderer interface {
	Render(ctx context.Context, url string, opts browser.RenderOptions) (string, error)
}

// DynamicFetcher renders pages in a browser, waiting for the selector set's
// wait selectors before capturing the markup.
type DynamicFetcher struct {
	renderer Renderer
	gate     ratelimit.RateLimiter
	timeout  time.Duration
}

func NewDynamicFetcher(renderer Renderer, gate ratelimit.RateLimiter, timeout time.Duration) *DynamicFetcher {
	return &DynamicFetcher{renderer: renderer, gate: gate, timeout: timeout}
}

func (f *DynamicFetcher) Fetch(ctx context.Context, url string, set SelectorSet) (*Page, error) {
	if f.gate != nil {
		if err := f.gate.Wait(ctx); err != nil {
			return nil, err
		}
	}

	html, err := f.renderer.Render(ctx, url, browser.RenderOptions{
		WaitSelectors: set.WaitSelectors,
		Timeout:       f.timeout,
	})
	if err != nil {
		return nil, err
	}

	return &Page{Body: []byte(html), ContentType: "text/html; charset=utf-8"}, nil
}
