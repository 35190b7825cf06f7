package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/maltedev/reseller-monitor/internal/apperr"
	"github.com/maltedev/reseller-monitor/internal/database"
	"github.com/maltedev/reseller-monitor/internal/export"
	"github.com/maltedev/reseller-monitor/internal/models"
	"github.com/maltedev/reseller-monitor/internal/monitor"
	"github.com/maltedev/reseller-monitor/internal/scraper"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
	maxCompareURLs   = 20
)

// RunReader serves stored monitoring runs.
type RunReader interface {
	Get(ctx context.Context, id string) (*models.MonitoringRun, error)
	Latest(ctx context.Context) (*models.MonitoringRun, error)
	List(ctx context.Context, limit int) ([]database.RunSummary, error)
	PriceHistory(ctx context.Context, product string, limit int) ([]database.PricePoint, error)
}

// RunTrigger starts a monitoring run and waits for it.
type RunTrigger interface {
	Execute(ctx context.Context) (*models.MonitoringRun, error)
}

type PageScraper interface {
	Scrape(ctx context.Context, url string, strategy scraper.Strategy) (*models.ScrapedRecord, error)
	ScrapeAll(ctx context.Context, urls []string, strategy scraper.Strategy, concurrency int) []scraper.Result
}

// OutboxStats reports the event relay backlog.
type OutboxStats interface {
	PendingCount(ctx context.Context) (int64, error)
	DeadLetterCount(ctx context.Context) (int64, error)
}

// Pinger checks a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handlers struct {
	runs    RunReader
	trigger RunTrigger
	scraper PageScraper
	outbox  OutboxStats
	db      Pinger
	logger  *slog.Logger
}

// NewHandlers wires the API. outbox may be nil when events are disabled.
func NewHandlers(runs RunReader, trigger RunTrigger, pages PageScraper, outbox OutboxStats, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		runs:    runs,
		trigger: trigger,
		scraper: pages,
		outbox:  outbox,
		logger:  logger.With("component", "api"),
	}
}

// WithDatabase makes Health report the database connection.
func (h *Handlers) WithDatabase(db Pinger) *Handlers {
	h.db = db
	return h
}

// Health reports service status and, when available, the database connection
// and the outbox backlog.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{"status": "ok"}
	status := http.StatusOK

	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			h.logger.Error("database ping failed", "error", err)
			h.respondJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status":   "error",
				"database": "unreachable",
			})
			return
		}
		health["database"] = "ok"
	}

	if h.outbox != nil {
		pendingCount, err := h.outbox.PendingCount(r.Context())
		if err != nil {
			h.logger.Warn("failed to count pending events", "error", err)
		}
		deadLetterCount, err := h.outbox.DeadLetterCount(r.Context())
		if err != nil {
			h.logger.Warn("failed to count dead letter events", "error", err)
		}

		health["outbox"] = map[string]any{
			"pending":     pendingCount,
			"dead_letter": deadLetterCount,
		}
		if pendingCount > 1000 {
			health["status"] = "warning"
			health["message"] = "High number of pending outbox events"
		}
		if deadLetterCount > 100 {
			health["status"] = "error"
			health["message"] = "High number of dead letter events"
			status = http.StatusServiceUnavailable
		}
	}

	h.respondJSON(w, status, health)
}

// TriggerRunResponse is returned after an on-demand run.
type TriggerRunResponse struct {
	Run     export.Document `json:"run"`
	Warning string          `json:"warning,omitempty"`
}

// TriggerRun executes a monitoring run synchronously. Runs are served in the
// same document form as the JSON export.
func (h *Handlers) TriggerRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.trigger.Execute(r.Context())
	switch {
	case errors.Is(err, monitor.ErrRunInProgress):
		h.respondError(w, http.StatusConflict, err.Error())
		return
	case run == nil && apperr.IsKind(err, apperr.KindCredential):
		h.logger.Error("monitoring run aborted", "error", err)
		h.respondError(w, http.StatusBadGateway, "search service rejected credentials")
		return
	case run == nil:
		h.logger.Error("monitoring run failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "monitoring run failed")
		return
	}

	resp := TriggerRunResponse{Run: export.NewDocument(run)}
	if err != nil {
		resp.Warning = err.Error()
	}
	h.respondJSON(w, http.StatusCreated, resp)
}

func (h *Handlers) LatestRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.Latest(r.Context())
	h.respondRun(w, run, err)
}

func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if runID == "" {
		h.respondError(w, http.StatusBadRequest, "run ID is required")
		return
	}

	run, err := h.runs.Get(r.Context(), runID)
	h.respondRun(w, run, err)
}

// ListRuns returns run summaries, newest first. ?limit caps the count.
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.limitParam(w, r)
	if !ok {
		return
	}

	runs, err := h.runs.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []database.RunSummary{}
	}

	h.respondJSON(w, http.StatusOK, runs)
}

// ProductHistory returns the per-run price points of one product.
func (h *Handlers) ProductHistory(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(chi.URLParam(r, "name"))
	if name == "" {
		h.respondError(w, http.StatusBadRequest, "product name is required")
		return
	}
	limit, ok := h.limitParam(w, r)
	if !ok {
		return
	}

	points, err := h.runs.PriceHistory(r.Context(), name, limit)
	if err != nil {
		h.logger.Error("failed to load price history", "error", err, "product", name)
		h.respondError(w, http.StatusInternalServerError, "failed to load price history")
		return
	}
	if points == nil {
		points = []database.PricePoint{}
	}

	h.respondJSON(w, http.StatusOK, points)
}

// ScrapePageRequest asks for one product page.
type ScrapePageRequest struct {
	URL      string `json:"url"`
	Strategy string `json:"strategy"`
}

// ScrapeFailure describes a page that could not be scraped.
type ScrapeFailure struct {
	URL   string `json:"url"`
	Stage string `json:"stage,omitempty"`
	Error string `json:"error"`
}

func (h *Handlers) ScrapePage(w http.ResponseWriter, r *http.Request) {
	var req ScrapePageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		h.respondError(w, http.StatusBadRequest, "url is required")
		return
	}
	strategy, err := scraper.ParseStrategy(req.Strategy)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	record, err := h.scraper.Scrape(r.Context(), req.URL, strategy)
	if err != nil {
		if errors.Is(err, scraper.ErrStrategyUnavailable) {
			h.respondError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		h.respondJSON(w, http.StatusUnprocessableEntity, failureOf(req.URL, err))
		return
	}

	h.respondJSON(w, http.StatusOK, record)
}

// CompareRequest asks for several pages of the same product to be ranked.
type CompareRequest struct {
	URLs        []string `json:"urls"`
	Strategy    string   `json:"strategy"`
	TargetPrice float64  `json:"target_price"`
	Concurrency int      `json:"concurrency"`
}

type CompareResponse struct {
	Comparison scraper.Comparison     `json:"comparison"`
	Records    []models.ScrapedRecord `json:"records"`
	Failures   []ScrapeFailure        `json:"failures,omitempty"`
}

func (h *Handlers) ComparePages(w http.ResponseWriter, r *http.Request) {
	var req CompareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var urls []string
	for _, u := range req.URLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		h.respondError(w, http.StatusBadRequest, "at least one url is required")
		return
	}
	if len(urls) > maxCompareURLs {
		h.respondError(w, http.StatusBadRequest, "too many urls, max "+strconv.Itoa(maxCompareURLs))
		return
	}
	strategy, err := scraper.ParseStrategy(req.Strategy)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	results := h.scraper.ScrapeAll(r.Context(), urls, strategy, req.Concurrency)

	resp := CompareResponse{Records: scraper.Records(results)}
	for _, res := range results {
		if res.Err != nil {
			resp.Failures = append(resp.Failures, failureOf(res.URL, res.Err))
		}
	}
	if resp.Records == nil {
		resp.Records = []models.ScrapedRecord{}
	}
	resp.Comparison = scraper.Compare(resp.Records, req.TargetPrice)

	h.respondJSON(w, http.StatusOK, resp)
}

func failureOf(url string, err error) ScrapeFailure {
	return ScrapeFailure{URL: url, Stage: apperr.StageOf(err), Error: err.Error()}
}

func (h *Handlers) respondRun(w http.ResponseWriter, run *models.MonitoringRun, err error) {
	if errors.Is(err, database.ErrRunNotFound) {
		h.respondError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to load run", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	h.respondJSON(w, http.StatusOK, export.NewDocument(run))
}

func (h *Handlers) limitParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		h.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	return min(limit, maxListLimit), true
}

// Helper methods
func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
