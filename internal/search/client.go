package search

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/maltedev/reseller-monitor/internal/apperr"
	"github.com/maltedev/reseller-monitor/internal/config"
	"github.com/maltedev/reseller-monitor/internal/models"
	"github.com/maltedev/reseller-monitor/internal/ratelimit"
)

const (
	DefaultBaseURL = "https://openapi.naver.com"
	shopPath       = "/v1/search/shop.json"

	// MaxPageSize is the largest display value the shop API accepts.
	MaxPageSize = 100
	// MaxStart is the largest start offset the shop API accepts.
	MaxStart = 1000
)

// Sort orders supported by the shop API.
const (
	SortRelevance = "sim"
	SortDate      = "date"
	SortPriceAsc  = "asc"
	SortPriceDesc = "dsc"
)

type Options struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	PageSize     int
	Sort         string
	Timeout      time.Duration
	Backoff      ratelimit.Backoff
}

func DefaultOptions() Options {
	return Options{
		BaseURL:  DefaultBaseURL,
		PageSize: MaxPageSize,
		Sort:     SortRelevance,
		Timeout:  10 * time.Second,
		Backoff:  ratelimit.DefaultBackoff(),
	}
}

// OptionsFromConfig maps the search and retry sections of the app config.
func OptionsFromConfig(search config.SearchConfig, limits config.RateLimitConfig) Options {
	return Options{
		BaseURL:      search.BaseURL,
		ClientID:     search.ClientID,
		ClientSecret: search.ClientSecret,
		PageSize:     search.PageSize,
		Sort:         search.Sort,
		Timeout:      search.Timeout,
		Backoff: ratelimit.Backoff{
			MaxAttempts:     limits.MaxAttempts,
			Base:            limits.BackoffBase,
			Factor:          limits.BackoffFactor,
			RateLimitBase:   limits.RateLimitBase,
			RateLimitFactor: limits.RateLimitFactor,
			Max:             limits.BackoffMax,
		},
	}
}

// Client queries the shop search API. Every request goes through gate.
type Client struct {
	http    *resty.Client
	gate    ratelimit.RateLimiter
	opts    Options
	backoff ratelimit.Backoff
	logger  *slog.Logger
}

type shopResponse struct {
	Total   int        `json:"total"`
	Start   int        `json:"start"`
	Display int        `json:"display"`
	Items   []shopItem `json:"items"`
}

type shopItem struct {
	Title     string `json:"title"`
	Link      string `json:"link"`
	Image     string `json:"image"`
	LPrice    string `json:"lprice"`
	MallName  string `json:"mallName"`
	ProductID string `json:"productId"`
	Brand     string `json:"brand"`
	Category1 string `json:"category1"`
	Category2 string `json:"category2"`
	Category3 string `json:"category3"`
	Category4 string `json:"category4"`
}

type apiError struct {
	ErrorMessage string `json:"errorMessage"`
	ErrorCode    string `json:"errorCode"`
}

// retryableError marks failures worth another attempt.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// NewClient fails with a credential error when either credential is empty.
func NewClient(opts Options, gate ratelimit.RateLimiter, logger *slog.Logger) (*Client, error) {
	if opts.ClientID == "" || opts.ClientSecret == "" {
		return nil, apperr.Credential("new_search_client", apperr.ErrMissingCredentials)
	}

	defaults := DefaultOptions()
	if opts.BaseURL == "" {
		opts.BaseURL = defaults.BaseURL
	}
	if opts.PageSize <= 0 || opts.PageSize > MaxPageSize {
		opts.PageSize = MaxPageSize
	}
	if opts.Sort == "" {
		opts.Sort = defaults.Sort
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}
	if opts.Backoff.MaxAttempts <= 0 {
		opts.Backoff = defaults.Backoff
	}
	if gate == nil {
		gate = ratelimit.NewGate(100*time.Millisecond, 1)
	}
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetHeader("X-Naver-Client-Id", opts.ClientID).
		SetHeader("X-Naver-Client-Secret", opts.ClientSecret).
		SetHeader("Accept", "application/json")

	return &Client{
		http:    httpClient,
		gate:    gate,
		opts:    opts,
		backoff: opts.Backoff,
		logger:  logger.With("component", "search_client"),
	}, nil
}

// Search returns a lazy sequence of hits for keyword, at most maxResults long.
// Each range over the sequence starts a new paginated session. On failure the
// sequence yields one final (zero hit, error) pair and stops.
func (c *Client) Search(ctx context.Context, keyword string, maxResults int) iter.Seq2[models.RawHit, error] {
	return func(yield func(models.RawHit, error) bool) {
		if maxResults <= 0 {
			return
		}

		collected := 0
		start := 1

		for collected < maxResults && start <= MaxStart {
			display := min(c.opts.PageSize, maxResults-collected)

			page, err := c.fetchPage(ctx, keyword, start, display)
			if err != nil {
				yield(models.RawHit{}, err)
				return
			}

			c.logger.Debug("page fetched",
				"keyword", keyword,
				"start", start,
				"items", len(page.Items),
				"total", page.Total)

			for _, item := range page.Items {
				if collected >= maxResults {
					return
				}
				if !yield(toRawHit(item), nil) {
					return
				}
				collected++
			}

			if len(page.Items) < display {
				return
			}
			if page.Total > 0 && start+len(page.Items) > page.Total {
				return
			}
			start += display
		}
	}
}

// Collect drains Search into a slice.
func (c *Client) Collect(ctx context.Context, keyword string, maxResults int) ([]models.RawHit, error) {
	return CollectAll(c.Search(ctx, keyword, maxResults))
}

// CollectAll drains a hit sequence, stopping at the first error.
func CollectAll(seq iter.Seq2[models.RawHit, error]) ([]models.RawHit, error) {
	var hits []models.RawHit
	for hit, err := range seq {
		if err != nil {
			return nil, err
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// fetchPage performs one page request with retry and backoff.
func (c *Client) fetchPage(ctx context.Context, keyword string, start, display int) (*shopResponse, error) {
	var lastErr error

	for attempt := 1; attempt <= c.backoff.MaxAttempts; attempt++ {
		if err := c.gate.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate gate: %w", err)
		}

		page, err := c.doRequest(ctx, keyword, start, display)
		if err == nil {
			return page, nil
		}

		var retryable *retryableError
		if !errors.As(err, &retryable) {
			if apperr.IsKind(err, apperr.KindCredential) {
				return nil, err
			}
			return nil, apperr.SearchFailure(keyword, attempt, err)
		}

		lastErr = err
		if attempt == c.backoff.MaxAttempts {
			break
		}

		delay := c.backoff.Delay(attempt, errors.Is(err, apperr.ErrRateLimited))
		c.logger.Warn("search request failed, backing off",
			"keyword", keyword,
			"start", start,
			"attempt", attempt,
			"delay", delay,
			"error", err)

		if err := ratelimit.Sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("backoff interrupted: %w", err)
		}
	}

	return nil, apperr.SearchFailure(keyword, c.backoff.MaxAttempts, lastErr)
}

func (c *Client) doRequest(ctx context.Context, keyword string, start, display int) (*shopResponse, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"query":   keyword,
			"display": strconv.Itoa(display),
			"start":   strconv.Itoa(start),
			"sort":    c.opts.Sort,
		}).
		SetResult(&shopResponse{}).
		SetError(&apiError{}).
		Get(shopPath)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, &retryableError{err: fmt.Errorf("request failed: %w", err)}
	}

	status := resp.StatusCode()
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return nil, apperr.Credential("search", fmt.Errorf("%w: status %d%s",
			apperr.ErrUnauthorized, status, describeAPIError(resp)))
	case status == http.StatusTooManyRequests:
		return nil, &retryableError{err: fmt.Errorf("%w: status %d%s",
			apperr.ErrRateLimited, status, describeAPIError(resp))}
	case status >= 500:
		return nil, &retryableError{err: fmt.Errorf("%w: status %d%s",
			apperr.ErrServerError, status, describeAPIError(resp))}
	case status == http.StatusRequestTimeout:
		return nil, &retryableError{err: fmt.Errorf("request timed out: status %d", status)}
	case resp.IsError():
		return nil, fmt.Errorf("unexpected status %d%s", status, describeAPIError(resp))
	}

	page, ok := resp.Result().(*shopResponse)
	if !ok || page == nil {
		return nil, &retryableError{err: errors.New("empty or malformed response body")}
	}

	return page, nil
}

func describeAPIError(resp *resty.Response) string {
	if apiErr, ok := resp.Error().(*apiError); ok && apiErr != nil && apiErr.ErrorMessage != "" {
		return fmt.Sprintf(" (%s: %s)", apiErr.ErrorCode, apiErr.ErrorMessage)
	}
	return ""
}

func toRawHit(item shopItem) models.RawHit {
	return models.RawHit{
		ProductID:  item.ProductID,
		Title:      StripMarkup(item.Title),
		Price:      strings.TrimSpace(item.LPrice),
		MallName:   strings.TrimSpace(item.MallName),
		ProductURL: strings.TrimSpace(item.Link),
		ImageURL:   strings.TrimSpace(item.Image),
		Brand:      strings.TrimSpace(item.Brand),
		Category:   joinCategories(item.Category1, item.Category2, item.Category3, item.Category4),
	}
}

// StripMarkup removes emphasis tags and decodes entities in an API title.
func StripMarkup(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.TrimSpace(s)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(doc.Text())
}

func joinCategories(parts ...string) string {
	var nonEmpty []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, ">")
}
