package database

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS monitoring_runs (
	id              TEXT PRIMARY KEY,
	created_at      TIMESTAMPTZ NOT NULL,
	partial         BOOLEAN NOT NULL DEFAULT FALSE,
	total_products  INTEGER NOT NULL,
	total_resellers INTEGER NOT NULL,
	payload         JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_monitoring_runs_created_at ON monitoring_runs (created_at DESC);

CREATE TABLE IF NOT EXISTS monitoring_records (
	run_id           TEXT NOT NULL REFERENCES monitoring_runs (id) ON DELETE CASCADE,
	product_name     TEXT NOT NULL,
	position         INTEGER NOT NULL,
	title            TEXT NOT NULL,
	price            DOUBLE PRECISION NOT NULL,
	mall_name        TEXT NOT NULL,
	url              TEXT NOT NULL,
	seller_label     TEXT NOT NULL,
	reference_price  DOUBLE PRECISION NOT NULL,
	discount_percent DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (run_id, product_name, position)
);

CREATE INDEX IF NOT EXISTS idx_monitoring_records_product ON monitoring_records (product_name, run_id);

CREATE TABLE IF NOT EXISTS outbox_event (
	id             UUID PRIMARY KEY,
	aggregate_type TEXT NOT NULL,
	aggregate_id   TEXT NOT NULL,
	event_type     TEXT NOT NULL,
	payload        JSONB NOT NULL,
	target_stream  TEXT NOT NULL,
	status         TEXT NOT NULL,
	retry_count    INTEGER NOT NULL DEFAULT 0,
	error_message  TEXT,
	created_at     TIMESTAMPTZ NOT NULL,
	processed_at   TIMESTAMPTZ,
	next_retry_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_outbox_event_pending ON outbox_event (status, next_retry_at);
`

// Migrate creates the tables the monitor uses if they do not exist.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
