package scraper

import (
	"fmt"
	"log/slog"

	"github.com/maltedev/reseller-monitor/internal/config"
	"github.com/maltedev/reseller-monitor/internal/ratelimit"
)

// FromConfig builds a scraper whose static and dynamic fetchers share one
// gate. renderer may be nil, leaving the dynamic strategy unavailable.
func FromConfig(cfg config.ScraperConfig, renderer Renderer, logger *slog.Logger) (*Scraper, error) {
	registry, err := LoadSelectorRegistry(cfg.SelectorsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load selectors: %w", err)
	}

	gate := ratelimit.NewSimpleRateLimiter(cfg.RateLimitMin, cfg.RateLimitMax)
	static := NewStaticFetcher(StaticOptions{Timeout: cfg.Timeout, UserAgent: cfg.UserAgent}, gate)

	var dynamic Fetcher
	if renderer != nil {
		dynamic = NewDynamicFetcher(renderer, gate, cfg.Timeout)
	}

	return New(registry, static, dynamic, logger), nil
}
