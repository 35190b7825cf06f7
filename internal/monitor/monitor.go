package monitor

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/reseller-monitor/internal/apperr"
	"github.com/maltedev/reseller-monitor/internal/discount"
	"github.com/maltedev/reseller-monitor/internal/filter"
	"github.com/maltedev/reseller-monitor/internal/models"
	"github.com/maltedev/reseller-monitor/internal/ratelimit"
)

// Searcher is the part of the search client the monitor needs.
type Searcher interface {
	Search(ctx context.Context, keyword string, maxResults int) iter.Seq2[models.RawHit, error]
}

type Filter interface {
	FilterWithStats(hits []models.RawHit, rules models.FilterRules) ([]models.Listing, filter.Stats)
}

type Config struct {
	MaxResultsPerProduct int
	// ProductDelay paces the start of each product after the first. Zero disables it.
	ProductDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxResultsPerProduct: 100,
		ProductDelay:         time.Second,
	}
}

// Monitor runs monitoring cycles: search, filter and annotate for each product.
type Monitor struct {
	searcher Searcher
	filter   Filter
	pacer    ratelimit.RateLimiter
	config   Config
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

func New(searcher Searcher, f Filter, config Config, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if config.MaxResultsPerProduct <= 0 {
		config.MaxResultsPerProduct = DefaultConfig().MaxResultsPerProduct
	}

	var pacer ratelimit.RateLimiter
	if config.ProductDelay > 0 {
		pacer = ratelimit.NewSimpleRateLimiter(config.ProductDelay, config.ProductDelay)
	}

	return &Monitor{
		searcher: searcher,
		filter:   f,
		pacer:    pacer,
		config:   config,
		logger:   logger.With("component", "product_monitor"),
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// Run performs one monitoring cycle over configs in order. A product whose
// search fails gets an empty result and marks the run partial. A credential
// failure or cancellation aborts the run.
func (m *Monitor) Run(ctx context.Context, configs []models.ProductConfig, rules models.FilterRules) (*models.MonitoringRun, error) {
	run := &models.MonitoringRun{
		ID:       m.newID(),
		Order:    make([]string, 0, len(configs)),
		Products: make(map[string]models.ProductResult, len(configs)),
	}

	m.logger.Info("monitoring run started", "run_id", run.ID, "products", len(configs))

	for _, cfg := range configs {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("monitoring run cancelled: %w", err)
		}
		if _, dup := run.Products[cfg.Name]; dup {
			m.logger.Warn("duplicate product name, keeping first", "product", cfg.Name)
			continue
		}

		if m.pacer != nil {
			if err := m.pacer.Wait(ctx); err != nil {
				return nil, fmt.Errorf("monitoring run cancelled: %w", err)
			}
		}

		result, err := m.runProduct(ctx, cfg, rules)
		if err != nil {
			if apperr.IsKind(err, apperr.KindCredential) {
				return nil, err
			}
			if ctx.Err() != nil {
				return nil, fmt.Errorf("monitoring run cancelled: %w", ctx.Err())
			}

			m.logger.Warn("product search failed, skipping",
				"product", cfg.Name,
				"keyword", cfg.Keyword,
				"error", err)

			result = models.ProductResult{
				Name:          cfg.Name,
				Keyword:       cfg.Keyword,
				OriginalPrice: cfg.OriginalPrice,
				Records:       []models.DiscountRecord{},
				Failed:        true,
				Error:         err.Error(),
			}
			run.Partial = true
		}

		run.Order = append(run.Order, cfg.Name)
		run.Products[cfg.Name] = result
		run.TotalResellers += result.Summary.ResellerCount
	}

	run.TotalProducts = len(run.Order)
	run.Timestamp = m.now()

	m.logger.Info("monitoring run completed",
		"run_id", run.ID,
		"products", run.TotalProducts,
		"resellers", run.TotalResellers,
		"partial", run.Partial)

	return run, nil
}

func (m *Monitor) runProduct(ctx context.Context, cfg models.ProductConfig, rules models.FilterRules) (models.ProductResult, error) {
	var hits []models.RawHit
	for hit, err := range m.searcher.Search(ctx, cfg.Keyword, m.config.MaxResultsPerProduct) {
		if err != nil {
			return models.ProductResult{}, err
		}
		hits = append(hits, hit)
	}

	listings, stats := m.filter.FilterWithStats(hits, rules)
	records := discount.Annotate(listings, cfg.OriginalPrice)
	summary := discount.Summarize(records)

	m.logger.Info("product processed",
		"product", cfg.Name,
		"hits", stats.Input,
		"listings", stats.Kept,
		"dropped", stats.Dropped,
		"min_price", summary.MinPrice)

	return models.ProductResult{
		Name:          cfg.Name,
		Keyword:       cfg.Keyword,
		OriginalPrice: cfg.OriginalPrice,
		Records:       records,
		Summary:       summary,
		TotalHits:     stats.Input,
		FilteredCount: stats.Kept,
	}, nil
}
