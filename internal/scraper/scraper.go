package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maltedev/reseller-monitor/internal/apperr"
	"github.com/maltedev/reseller-monitor/internal/models"
)

type Strategy int

const (
	// Static fetches markup over plain HTTP.
	Static Strategy = iota
	// Dynamic renders the page in a browser first.
	Dynamic
)

func (s Strategy) String() string {
	if s == Dynamic {
		return "dynamic"
	}
	return "static"
}

func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "static":
		return Static, nil
	case "dynamic":
		return Dynamic, nil
	default:
		return Static, fmt.Errorf("unknown scrape strategy %q", s)
	}
}

// ErrStrategyUnavailable is returned when no fetcher is configured for a strategy.
var ErrStrategyUnavailable = errors.New("scrape strategy not available")

// Scraper extracts a ScrapedRecord from a single product page. Failures are
// never retried.
type Scraper struct {
	registry *SelectorRegistry
	static   Fetcher
	dynamic  Fetcher
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a scraper. dynamic may be nil when no browser is available.
func New(registry *SelectorRegistry, static, dynamic Fetcher, logger *slog.Logger) *Scraper {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry, _ = NewSelectorRegistry(nil, "")
	}
	return &Scraper{
		registry: registry,
		static:   static,
		dynamic:  dynamic,
		logger:   logger.With("component", "page_scraper"),
		now:      time.Now,
	}
}

// Scrape fetches, parses and extracts url using the selector set registered
// for its host. Any stage failure is returned as a scrape error carrying the
// stage; no partial record is produced.
func (s *Scraper) Scrape(ctx context.Context, url string, strategy Strategy) (*models.ScrapedRecord, error) {
	return s.ScrapeWith(ctx, url, strategy, s.registry.ForURL(url))
}

// ScrapeWith is Scrape with an explicit selector set.
func (s *Scraper) ScrapeWith(ctx context.Context, url string, strategy Strategy, set SelectorSet) (*models.ScrapedRecord, error) {
	fetcher := s.static
	if strategy == Dynamic {
		fetcher = s.dynamic
	}
	if fetcher == nil {
		return nil, apperr.Scrape(url, apperr.StageFetch,
			fmt.Errorf("%w: %s", ErrStrategyUnavailable, strategy))
	}

	page, err := fetcher.Fetch(ctx, url, set)
	if err != nil {
		return nil, s.fail(apperr.Scrape(url, apperr.StageFetch, err), strategy)
	}

	doc, err := ParseDocument(bytes.NewReader(page.Body), page.ContentType)
	if err != nil {
		return nil, s.fail(apperr.Scrape(url, apperr.StageParse, err), strategy)
	}

	ex, err := extract(url, doc, set)
	if err != nil {
		return nil, s.fail(err, strategy)
	}

	rec := ex.record(url, s.now())

	s.logger.Info("page scraped",
		"url", url,
		"strategy", strategy.String(),
		"selectors", set.Name,
		"title", rec.Title,
		"price", rec.Price,
		"stock", rec.Stock)

	return rec, nil
}

func (s *Scraper) fail(err error, strategy Strategy) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		s.logger.Warn("scrape failed",
			"url", appErr.Subject,
			"strategy", strategy.String(),
			"stage", appErr.Stage,
			"error", appErr.Err)
	}
	return err
}
