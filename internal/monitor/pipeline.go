package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/maltedev/reseller-monitor/internal/config"
	"github.com/maltedev/reseller-monitor/internal/models"
)

// ErrRunInProgress is returned when Execute is called while a run is active.
var ErrRunInProgress = errors.New("a monitoring run is already in progress")

// ProductLoader supplies the products and settings for the next run.
type ProductLoader func() (*config.ProductFile, error)

// Recorder receives every completed run, e.g. a store or an exporter.
type Recorder interface {
	Record(ctx context.Context, run *models.MonitoringRun) error
}

type RecorderFunc func(ctx context.Context, run *models.MonitoringRun) error

func (f RecorderFunc) Record(ctx context.Context, run *models.MonitoringRun) error {
	return f(ctx, run)
}

// Pipeline loads the product config, runs the monitor and hands the result
// to its recorders. Only one run executes at a time.
type Pipeline struct {
	searcher  Searcher
	filter    Filter
	config    Config
	load      ProductLoader
	recorders []Recorder
	mu        sync.Mutex
	logger    *slog.Logger
}

func NewPipeline(searcher Searcher, f Filter, cfg Config, load ProductLoader, logger *slog.Logger, recorders ...Recorder) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		searcher:  searcher,
		filter:    f,
		config:    cfg,
		load:      load,
		recorders: recorders,
		logger:    logger,
	}
}

// Execute performs one full run. When recording fails the run is still
// returned together with the joined recorder errors.
func (p *Pipeline) Execute(ctx context.Context) (*models.MonitoringRun, error) {
	if !p.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer p.mu.Unlock()

	products, err := p.load()
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}
	for _, rejected := range products.Rejected {
		p.logger.Warn("product entry rejected", "error", rejected)
	}

	cfg := p.config
	if products.Settings.MaxResultsPerProduct > 0 {
		cfg.MaxResultsPerProduct = products.Settings.MaxResultsPerProduct
	}

	run, err := New(p.searcher, p.filter, cfg, p.logger).Run(ctx, products.Products, products.Settings.Rules())
	if err != nil {
		return nil, err
	}

	var errs []error
	for _, r := range p.recorders {
		if err := r.Record(ctx, run); err != nil {
			p.logger.Error("failed to record run", "run_id", run.ID, "error", err)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return run, fmt.Errorf("run %s completed but recording failed: %w", run.ID, errors.Join(errs...))
	}

	return run, nil
}
