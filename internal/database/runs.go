package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/maltedev/reseller-monitor/internal/models"
)

// ErrRunNotFound is returned when no stored run matches a lookup.
var ErrRunNotFound = errors.New("monitoring run not found")

// RunSummary is a stored run without its records.
type RunSummary struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	Partial        bool      `json:"partial"`
	TotalProducts  int       `json:"total_products"`
	TotalResellers int       `json:"total_resellers"`
}

// PricePoint is the cheapest listing of a product in one run.
type PricePoint struct {
	RunID           string    `json:"run_id"`
	Timestamp       time.Time `json:"timestamp"`
	MinPrice        float64   `json:"min_price"`
	MaxPrice        float64   `json:"max_price"`
	ResellerCount   int       `json:"reseller_count"`
	MaxDiscountRate float64   `json:"max_discount_percent"`
}

// RunRepository stores monitoring runs. The full run is kept as JSON for
// retrieval; records are also stored row by row for history queries.
type RunRepository struct {
	db *DB
}

func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

var recordColumns = []string{
	"run_id", "product_name", "position", "title", "price", "mall_name",
	"url", "seller_label", "reference_price", "discount_percent",
}

// InsertWithTx writes run and all of its records within tx.
func (r *RunRepository) InsertWithTx(ctx context.Context, tx pgx.Tx, run *models.MonitoringRun) error {
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO monitoring_runs (id, created_at, partial, total_products, total_resellers, payload)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.Timestamp, run.Partial, run.TotalProducts, run.TotalResellers, payload)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	rows := recordRows(run)
	if len(rows) == 0 {
		return nil
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{"monitoring_records"}, recordColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to insert records: %w", err)
	}
	if int(n) != len(rows) {
		return fmt.Errorf("inserted %d of %d records", n, len(rows))
	}

	return nil
}

// Save stores run in its own transaction.
func (r *RunRepository) Save(ctx context.Context, run *models.MonitoringRun) error {
	return r.db.Transaction(ctx, func(tx pgx.Tx) error {
		return r.InsertWithTx(ctx, tx, run)
	})
}

func (r *RunRepository) Get(ctx context.Context, id string) (*models.MonitoringRun, error) {
	return r.scanRun(r.db.pool.QueryRow(ctx,
		"SELECT payload FROM monitoring_runs WHERE id = $1", id))
}

func (r *RunRepository) Latest(ctx context.Context) (*models.MonitoringRun, error) {
	return r.scanRun(r.db.pool.QueryRow(ctx,
		"SELECT payload FROM monitoring_runs ORDER BY created_at DESC LIMIT 1"))
}

func (r *RunRepository) List(ctx context.Context, limit int) ([]RunSummary, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id::text, created_at, partial, total_products, total_resellers
		FROM monitoring_runs
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	runs, err := pgx.CollectRows(rows, pgx.RowToStructByPos[RunSummary])
	if err != nil {
		return nil, fmt.Errorf("failed to scan runs: %w", err)
	}
	return runs, nil
}

// PriceHistory returns per-run price points for a product, newest first.
func (r *RunRepository) PriceHistory(ctx context.Context, product string, limit int) ([]PricePoint, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT r.id::text, r.created_at, MIN(m.price), MAX(m.price), COUNT(*), MAX(m.discount_percent)
		FROM monitoring_records m
		JOIN monitoring_runs r ON r.id = m.run_id
		WHERE m.product_name = $1
		GROUP BY r.id, r.created_at
		ORDER BY r.created_at DESC
		LIMIT $2`, product, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query price history: %w", err)
	}

	points, err := pgx.CollectRows(rows, pgx.RowToStructByPos[PricePoint])
	if err != nil {
		return nil, fmt.Errorf("failed to scan price history: %w", err)
	}
	return points, nil
}

func (r *RunRepository) scanRun(row pgx.Row) (*models.MonitoringRun, error) {
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to load run: %w", err)
	}

	var run models.MonitoringRun
	if err := json.Unmarshal(payload, &run); err != nil {
		return nil, fmt.Errorf("failed to decode run: %w", err)
	}
	return &run, nil
}

// recordRows flattens a run's records into copy rows, products in run order
// and records in price order.
func recordRows(run *models.MonitoringRun) [][]any {
	var rows [][]any
	for _, res := range run.Results() {
		for i, rec := range res.Records {
			rows = append(rows, []any{
				run.ID, res.Name, i, rec.Title, rec.Price, rec.MallName,
				rec.ProductURL, rec.SellerLabel, rec.ReferencePrice, rec.DiscountPercent,
			})
		}
	}
	return rows
}
