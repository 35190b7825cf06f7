package database

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboxEventPrepare(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("fills defaults", func(t *testing.T) {
		event := &OutboxEvent{
			AggregateType: "monitoring_run",
			AggregateID:   "run-001",
			EventType:     "MONITORING_RUN_COMPLETED",
		}
		require.NoError(t, event.prepare(now))

		assert.NotEqual(t, uuid.Nil, event.ID)
		assert.Equal(t, OutboxStatusPending, event.Status)
		assert.Equal(t, DefaultStream, event.TargetStream)
		assert.JSONEq(t, `{}`, string(event.Payload))
		assert.Equal(t, now, event.CreatedAt)
		require.NotNil(t, event.NextRetryAt)
		assert.Equal(t, now, *event.NextRetryAt)
	})

	t.Run("keeps explicit values", func(t *testing.T) {
		id := uuid.New()
		event := &OutboxEvent{
			ID:            id,
			AggregateType: "monitoring_run",
			AggregateID:   "run-001",
			EventType:     "MONITORING_RUN_COMPLETED",
			TargetStream:  "stream:other",
			Payload:       json.RawMessage(`{"run_id":"run-001"}`),
		}
		require.NoError(t, event.prepare(now))

		assert.Equal(t, id, event.ID)
		assert.Equal(t, "stream:other", event.TargetStream)
	})

	t.Run("validate required fields", func(t *testing.T) {
		testCases := []struct {
			name  string
			event *OutboxEvent
		}{
			{"missing aggregate type", &OutboxEvent{AggregateID: "run-001", EventType: "MONITORING_RUN_COMPLETED"}},
			{"missing aggregate id", &OutboxEvent{AggregateType: "monitoring_run", EventType: "MONITORING_RUN_COMPLETED"}},
			{"missing event type", &OutboxEvent{AggregateType: "monitoring_run", AggregateID: "run-001"}},
		}

		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				assert.Error(t, tc.event.prepare(now))
			})
		}
	})
}

func TestNextAttempt(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		retryCount int
		status     string
		delay      time.Duration
	}{
		{1, OutboxStatusFailed, 2 * time.Second},
		{2, OutboxStatusFailed, 4 * time.Second},
		{4, OutboxStatusFailed, 16 * time.Second},
		{MaxRetryCount, OutboxStatusDeadLetter, 32 * time.Second},
		{9, OutboxStatusDeadLetter, 5 * time.Minute},
		{40, OutboxStatusDeadLetter, 5 * time.Minute},
	}

	for _, tt := range tests {
		status, next := nextAttempt(tt.retryCount, now)
		assert.Equal(t, tt.status, status, "retry %d", tt.retryCount)
		assert.Equal(t, now.Add(tt.delay), next, "retry %d", tt.retryCount)
	}
}

func TestOutboxRepository_Integration(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewOutboxRepository(db)

	t.Run("insert and process", func(t *testing.T) {
		event := &OutboxEvent{
			AggregateType: "monitoring_run",
			AggregateID:   uuid.NewString(),
			EventType:     "MONITORING_RUN_COMPLETED",
			Payload:       json.RawMessage(`{"total_products":2}`),
		}

		err := db.Transaction(ctx, func(tx pgx.Tx) error {
			return repo.InsertWithTx(ctx, tx, event)
		})
		require.NoError(t, err)

		pending, err := repo.GetPending(ctx, 100)
		require.NoError(t, err)
		assert.True(t, containsEvent(pending, event.ID))

		require.NoError(t, repo.MarkProcessed(ctx, event.ID))

		pending, err = repo.GetPending(ctx, 100)
		require.NoError(t, err)
		assert.False(t, containsEvent(pending, event.ID))
	})

	t.Run("rollback on transaction failure", func(t *testing.T) {
		event := &OutboxEvent{
			AggregateType: "monitoring_run",
			AggregateID:   uuid.NewString(),
			EventType:     "MONITORING_RUN_COMPLETED",
		}

		err := db.Transaction(ctx, func(tx pgx.Tx) error {
			if err := repo.InsertWithTx(ctx, tx, event); err != nil {
				return err
			}
			return pgx.ErrTxClosed
		})
		assert.Error(t, err)

		pending, err := repo.GetPending(ctx, 100)
		require.NoError(t, err)
		assert.False(t, containsEvent(pending, event.ID))
	})

	t.Run("mark unknown event", func(t *testing.T) {
		assert.ErrorIs(t, repo.MarkProcessed(ctx, uuid.New()), ErrEventNotFound)
		assert.ErrorIs(t, repo.MarkFailed(ctx, uuid.New(), assert.AnError), ErrEventNotFound)
	})
}

func containsEvent(events []*OutboxEvent, id uuid.UUID) bool {
	for _, e := range events {
		if e.ID == id {
			return true
		}
	}
	return false
}

// setupTestDB connects to TEST_DATABASE_URL when integration tests are enabled.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if os.Getenv("INTEGRATION_TEST") != "true" || dsn == "" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true and TEST_DATABASE_URL to run")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)

	db := &DB{pool: pool}
	require.NoError(t, db.Migrate(ctx))
	return db
}
