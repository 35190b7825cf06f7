package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/maltedev/reseller-monitor/internal/apperr"
	"github.com/maltedev/reseller-monitor/internal/database"
	"github.com/maltedev/reseller-monitor/internal/export"
	"github.com/maltedev/reseller-monitor/internal/models"
	"github.com/maltedev/reseller-monitor/internal/monitor"
	"github.com/maltedev/reseller-monitor/internal/scraper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockTrigger struct {
	mock.Mock
}

func (m *MockTrigger) Execute(ctx context.Context) (*models.MonitoringRun, error) {
	args := m.Called()
	run, _ := args.Get(0).(*models.MonitoringRun)
	return run, args.Error(1)
}

type MockScraper struct {
	mock.Mock
}

func (m *MockScraper) Scrape(ctx context.Context, url string, strategy scraper.Strategy) (*models.ScrapedRecord, error) {
	args := m.Called(url, strategy)
	rec, _ := args.Get(0).(*models.ScrapedRecord)
	return rec, args.Error(1)
}

func (m *MockScraper) ScrapeAll(ctx context.Context, urls []string, strategy scraper.Strategy, concurrency int) []scraper.Result {
	args := m.Called(urls, strategy, concurrency)
	return args.Get(0).([]scraper.Result)
}

type MockOutboxStats struct {
	mock.Mock
}

func (m *MockOutboxStats) PendingCount(ctx context.Context) (int64, error) {
	args := m.Called()
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockOutboxStats) DeadLetterCount(ctx context.Context) (int64, error) {
	args := m.Called()
	return args.Get(0).(int64), args.Error(1)
}

func sampleRun(id string, ts time.Time) *models.MonitoringRun {
	return &models.MonitoringRun{
		ID:        id,
		Timestamp: ts,
		Order:     []string{"오딧세이 블랙"},
		Products: map[string]models.ProductResult{
			"오딧세이 블랙": {
				Name:          "오딧세이 블랙",
				OriginalPrice: 79800,
				Records: []models.DiscountRecord{
					{Listing: models.Listing{Title: "a", Price: 65000, MallName: "m"}, ReferencePrice: 79800, DiscountPercent: 18.546},
					{Listing: models.Listing{Title: "b", Price: 90000, MallName: "n"}, ReferencePrice: 79800, DiscountPercent: -12.78},
				},
				Summary: models.Summary{ResellerCount: 2, MinPrice: 65000, MaxPrice: 90000, MinPriceMall: "m", MinPriceDiscount: 18.5},
			},
		},
		TotalProducts:  1,
		TotalResellers: 2,
	}
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type testServer struct {
	handler http.Handler
	store   *MemoryStore
	trigger *MockTrigger
	pages   *MockScraper
}

func newTestServer(t *testing.T, outbox OutboxStats) *testServer {
	t.Helper()
	ts := &testServer{
		store:   NewMemoryStore(10),
		trigger: new(MockTrigger),
		pages:   new(MockScraper),
	}
	h := NewHandlers(ts.store, ts.trigger, ts.pages, outbox, nil)
	ts.handler = NewRouter(h, nil, time.Second)
	return ts
}

func (ts *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	t.Run("without outbox", func(t *testing.T) {
		ts := newTestServer(t, nil)
		rec := ts.do(http.MethodGet, "/health", nil)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	})

	t.Run("dead letters degrade status", func(t *testing.T) {
		stats := new(MockOutboxStats)
		stats.On("PendingCount").Return(int64(3), nil)
		stats.On("DeadLetterCount").Return(int64(101), nil)

		ts := newTestServer(t, stats)
		rec := ts.do(http.MethodGet, "/health", nil)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "error", body["status"])
		assert.Equal(t, float64(3), body["outbox"].(map[string]any)["pending"])
	})

	t.Run("database reachable", func(t *testing.T) {
		h := NewHandlers(NewMemoryStore(1), nil, nil, nil, nil).
			WithDatabase(pingFunc(func(context.Context) error { return nil }))
		rec := httptest.NewRecorder()
		h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ok","database":"ok"}`, rec.Body.String())
	})

	t.Run("database unreachable", func(t *testing.T) {
		h := NewHandlers(NewMemoryStore(1), nil, nil, nil, nil).
			WithDatabase(pingFunc(func(context.Context) error { return errors.New("connection refused") }))
		rec := httptest.NewRecorder()
		h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.JSONEq(t, `{"status":"error","database":"unreachable"}`, rec.Body.String())
	})
}

func TestTriggerRun(t *testing.T) {
	run := sampleRun("run-001", time.Now())

	tests := []struct {
		name   string
		run    *models.MonitoringRun
		err    error
		status int
	}{
		{"success", run, nil, http.StatusCreated},
		{"recorded with warning", run, errors.New("recording failed"), http.StatusCreated},
		{"in progress", nil, monitor.ErrRunInProgress, http.StatusConflict},
		{"credentials", nil, apperr.Credential("search", apperr.ErrUnauthorized), http.StatusBadGateway},
		{"failure", nil, errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			ts.trigger.On("Execute").Return(tt.run, tt.err)

			rec := ts.do(http.MethodPost, "/api/v1/runs", nil)
			assert.Equal(t, tt.status, rec.Code)

			if tt.status == http.StatusCreated {
				var resp TriggerRunResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, "run-001", resp.Run.RunID)
				if tt.err != nil {
					assert.Equal(t, tt.err.Error(), resp.Warning)
				}
			}
		})
	}
}

func TestRunQueries(t *testing.T) {
	ts := newTestServer(t, nil)
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, ts.store.Save(context.Background(), sampleRun("run-001", base)))
	require.NoError(t, ts.store.Save(context.Background(), sampleRun("run-002", base.Add(time.Hour))))

	t.Run("latest", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/api/v1/runs/latest", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var doc export.Document
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
		assert.Equal(t, "run-002", doc.RunID)
	})

	t.Run("output schema", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/api/v1/runs/run-001", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Products map[string]map[string]json.RawMessage `json:"products"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		product := body.Products["오딧세이 블랙"]
		require.Contains(t, product, "listings")
		require.Contains(t, product, "reseller_count")
		assert.NotContains(t, product, "records")
		assert.JSONEq(t, `2`, string(product["reseller_count"]))
		assert.JSONEq(t, `79800`, string(product["original_price"]))

		var listings []map[string]any
		require.NoError(t, json.Unmarshal(product["listings"], &listings))
		require.Len(t, listings, 2)
		assert.Equal(t, "a", listings[0]["title"])
		assert.Equal(t, 65000.0, listings[0]["price"])
		assert.Equal(t, "m", listings[0]["mall_name"])
		assert.Contains(t, listings[0], "url")
		assert.Equal(t, 18.5, listings[0]["discount_percent"])
		assert.Equal(t, -12.8, listings[1]["discount_percent"])
	})

	t.Run("by id", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/api/v1/runs/run-001", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"run_id":"run-001"`)
	})

	t.Run("unknown id", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/api/v1/runs/nope", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("list", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/api/v1/runs?limit=1", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var runs []database.RunSummary
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
		require.Len(t, runs, 1)
		assert.Equal(t, "run-002", runs[0].ID)
	})

	t.Run("bad limit", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/api/v1/runs?limit=-4", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("history", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/api/v1/products/"+"%EC%98%A4%EB%94%A7%EC%84%B8%EC%9D%B4%20%EB%B8%94%EB%9E%99"+"/history", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var points []database.PricePoint
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &points))
		require.Len(t, points, 2)
		assert.Equal(t, "run-002", points[0].RunID)
		assert.Equal(t, 65000.0, points[0].MinPrice)
		assert.Equal(t, 18.546, points[0].MaxDiscountRate)
	})

	t.Run("history of unknown product", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/api/v1/products/none/history", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[]`, rec.Body.String())
	})
}

func TestLatestRunEmptyStore(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(http.MethodGet, "/api/v1/runs/latest", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScrapePage(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		ts := newTestServer(t, nil)
		ts.pages.On("Scrape", "https://shop.example/1", scraper.Dynamic).
			Return(&models.ScrapedRecord{URL: "https://shop.example/1", Title: "퍼터", Price: 65000, Stock: 3}, nil)

		rec := ts.do(http.MethodPost, "/api/v1/scraper/page", ScrapePageRequest{URL: "https://shop.example/1", Strategy: "dynamic"})
		require.Equal(t, http.StatusOK, rec.Code)

		var record models.ScrapedRecord
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
		assert.Equal(t, 65000.0, record.Price)
		assert.Equal(t, 3, record.Stock)
	})

	t.Run("scrape error carries stage", func(t *testing.T) {
		ts := newTestServer(t, nil)
		ts.pages.On("Scrape", "https://shop.example/2", scraper.Static).
			Return(nil, apperr.Scrape("https://shop.example/2", apperr.StageExtractPrice, apperr.ErrSelectorNotFound))

		rec := ts.do(http.MethodPost, "/api/v1/scraper/page", ScrapePageRequest{URL: "https://shop.example/2"})
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

		var failure ScrapeFailure
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &failure))
		assert.Equal(t, apperr.StageExtractPrice, failure.Stage)
	})

	t.Run("strategy unavailable", func(t *testing.T) {
		ts := newTestServer(t, nil)
		ts.pages.On("Scrape", "https://shop.example/3", scraper.Dynamic).
			Return(nil, scraper.ErrStrategyUnavailable)

		rec := ts.do(http.MethodPost, "/api/v1/scraper/page", ScrapePageRequest{URL: "https://shop.example/3", Strategy: "dynamic"})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("validation", func(t *testing.T) {
		ts := newTestServer(t, nil)
		assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/api/v1/scraper/page", ScrapePageRequest{}).Code)
		assert.Equal(t, http.StatusBadRequest,
			ts.do(http.MethodPost, "/api/v1/scraper/page", ScrapePageRequest{URL: "x", Strategy: "magic"}).Code)
		ts.pages.AssertNotCalled(t, "Scrape", mock.Anything, mock.Anything)
	})
}

func TestComparePages(t *testing.T) {
	ts := newTestServer(t, nil)
	urls := []string{"https://a.example/1", "https://b.example/1", "https://c.example/1"}
	ts.pages.On("ScrapeAll", urls, scraper.Static, 2).Return([]scraper.Result{
		{URL: urls[0], Record: &models.ScrapedRecord{URL: urls[0], Price: 70000}},
		{URL: urls[1], Record: &models.ScrapedRecord{URL: urls[1], Price: 65000}},
		{URL: urls[2], Err: apperr.Scrape(urls[2], apperr.StageFetch, errors.New("timeout"))},
	})

	rec := ts.do(http.MethodPost, "/api/v1/scraper/compare", CompareRequest{
		URLs:        append([]string{" "}, urls...),
		TargetPrice: 79800,
		Concurrency: 2,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp CompareResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Len(t, resp.Records, 2)
	assert.Equal(t, 2, resp.Comparison.Count)
	require.NotNil(t, resp.Comparison.BestPrice)
	assert.Equal(t, urls[1], resp.Comparison.BestPrice.URL)
	require.Len(t, resp.Failures, 1)
	assert.Equal(t, apperr.StageFetch, resp.Failures[0].Stage)
}

func TestComparePagesValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodPost, "/api/v1/scraper/compare", CompareRequest{URLs: []string{"", " "}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	many := make([]string, maxCompareURLs+1)
	for i := range many {
		many[i] = "https://shop.example/p"
	}
	rec = ts.do(http.MethodPost, "/api/v1/scraper/compare", CompareRequest{URLs: many})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMemoryStoreEvictsOldest(t *testing.T) {
	store := NewMemoryStore(2)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Save(ctx, &models.MonitoringRun{ID: id}))
	}

	_, err := store.Get(ctx, "a")
	assert.ErrorIs(t, err, database.ErrRunNotFound)

	runs, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)
}
