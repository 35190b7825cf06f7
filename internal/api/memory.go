package api

import (
	"context"
	"slices"
	"sync"

	"github.com/maltedev/reseller-monitor/internal/database"
	"github.com/maltedev/reseller-monitor/internal/models"
)

// MemoryStore keeps the most recent runs in process for deployments
// without a database.
type MemoryStore struct {
	mu    sync.RWMutex
	runs  []*models.MonitoringRun
	limit int
}

func NewMemoryStore(limit int) *MemoryStore {
	if limit < 1 {
		limit = 50
	}
	return &MemoryStore{limit: limit}
}

// Save appends run, evicting the oldest run when full.
func (s *MemoryStore) Save(_ context.Context, run *models.MonitoringRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs = append(s.runs, run)
	if len(s.runs) > s.limit {
		s.runs = slices.Delete(s.runs, 0, len(s.runs)-s.limit)
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.MonitoringRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, run := range s.runs {
		if run.ID == id {
			return run, nil
		}
	}
	return nil, database.ErrRunNotFound
}

func (s *MemoryStore) Latest(_ context.Context) (*models.MonitoringRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.runs) == 0 {
		return nil, database.ErrRunNotFound
	}
	return s.runs[len(s.runs)-1], nil
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]database.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []database.RunSummary
	for i := len(s.runs) - 1; i >= 0 && len(out) < limit; i-- {
		run := s.runs[i]
		out = append(out, database.RunSummary{
			ID:             run.ID,
			Timestamp:      run.Timestamp,
			Partial:        run.Partial,
			TotalProducts:  run.TotalProducts,
			TotalResellers: run.TotalResellers,
		})
	}
	return out, nil
}

func (s *MemoryStore) PriceHistory(_ context.Context, product string, limit int) ([]database.PricePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []database.PricePoint
	for i := len(s.runs) - 1; i >= 0 && len(out) < limit; i-- {
		run := s.runs[i]
		res, ok := run.Products[product]
		if !ok || len(res.Records) == 0 {
			continue
		}

		point := database.PricePoint{
			RunID:           run.ID,
			Timestamp:       run.Timestamp,
			MinPrice:        res.Summary.MinPrice,
			MaxPrice:        res.Summary.MaxPrice,
			ResellerCount:   res.Summary.ResellerCount,
			MaxDiscountRate: res.Records[0].DiscountPercent,
		}
		for _, rec := range res.Records[1:] {
			point.MaxDiscountRate = max(point.MaxDiscountRate, rec.DiscountPercent)
		}
		out = append(out, point)
	}
	return out, nil
}
