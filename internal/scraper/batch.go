package scraper

import (
	"context"

	"github.com/maltedev/reseller-monitor/internal/models"
	"golang.org/x/sync/errgroup"
)

// Result is the outcome of scraping one URL in a batch.
type Result struct {
	URL    string                `json:"url"`
	Record *models.ScrapedRecord `json:"record,omitempty"`
	Err    error                 `json:"-"`
}

// ScrapeAll scrapes urls with at most concurrency pages in flight. Results are
// in input order; a failed URL does not stop the others. Fetchers acquire
// their shared gate before every request.
func (s *Scraper) ScrapeAll(ctx context.Context, urls []string, strategy Strategy, concurrency int) []Result {
	if concurrency < 1 {
		concurrency = 1
	}

	results := make([]Result, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, url := range urls {
		results[i].URL = url
		g.Go(func() error {
			rec, err := s.Scrape(gctx, url, strategy)
			results[i].Record = rec
			results[i].Err = err
			return nil
		})
	}
	g.Wait()

	return results
}

// Records returns the successful records of a batch.
func Records(results []Result) []models.ScrapedRecord {
	var out []models.ScrapedRecord
	for _, r := range results {
		if r.Err == nil && r.Record != nil {
			out = append(out, *r.Record)
		}
	}
	return out
}
