package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/reseller-monitor/internal/database"
	"github.com/maltedev/reseller-monitor/internal/models"
)

// EventType represents the type of event
type EventType string

const (
	// EventTypeRunCompleted is published once a monitoring run has been stored
	EventTypeRunCompleted EventType = "MONITORING_RUN_COMPLETED"

	aggregateRun = "monitoring_run"
)

// ProductDigest is the per-product part of a run event.
type ProductDigest struct {
	Name             string  `json:"name"`
	Failed           bool    `json:"failed"`
	ResellerCount    int     `json:"reseller_count"`
	MinPrice         float64 `json:"min_price"`
	MinPriceMall     string  `json:"min_price_mall,omitempty"`
	MinPriceDiscount float64 `json:"min_price_discount"`
}

// RunCompletedPayload represents the payload for MONITORING_RUN_COMPLETED
type RunCompletedPayload struct {
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	Timestamp      time.Time       `json:"timestamp"`
	RunID          string          `json:"run_id"`
	RunTimestamp   time.Time       `json:"run_timestamp"`
	Partial        bool            `json:"partial"`
	TotalProducts  int             `json:"total_products"`
	TotalResellers int             `json:"total_resellers"`
	Products       []ProductDigest `json:"products"`
}

// NewRunCompletedPayload digests run into an event payload.
func NewRunCompletedPayload(run *models.MonitoringRun) *RunCompletedPayload {
	payload := &RunCompletedPayload{
		RunID:          run.ID,
		RunTimestamp:   run.Timestamp,
		Partial:        run.Partial,
		TotalProducts:  run.TotalProducts,
		TotalResellers: run.TotalResellers,
	}
	for _, res := range run.Results() {
		payload.Products = append(payload.Products, ProductDigest{
			Name:             res.Name,
			Failed:           res.Failed,
			ResellerCount:    res.Summary.ResellerCount,
			MinPrice:         res.Summary.MinPrice,
			MinPriceMall:     res.Summary.MinPriceMall,
			MinPriceDiscount: res.Summary.MinPriceDiscount,
		})
	}
	return payload
}

// TxRunner runs fn inside one database transaction.
type TxRunner interface {
	Transaction(ctx context.Context, fn func(pgx.Tx) error) error
}

type RunWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, run *models.MonitoringRun) error
}

type OutboxWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error
}

// Publisher stores runs and their completion events using the transactional outbox pattern
type Publisher struct {
	db     TxRunner
	runs   RunWriter
	outbox OutboxWriter
	stream string
	logger *slog.Logger
	now    func() time.Time
}

// NewPublisher wires a publisher onto db with its default repositories.
func NewPublisher(db *database.DB, logger *slog.Logger) *Publisher {
	return NewPublisherWith(db, database.NewRunRepository(db), database.NewOutboxRepository(db), logger)
}

func NewPublisherWith(db TxRunner, runs RunWriter, outbox OutboxWriter, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		db:     db,
		runs:   runs,
		outbox: outbox,
		stream: database.DefaultStream,
		logger: logger.With("component", "event_publisher"),
		now:    time.Now,
	}
}

// PublishRunCompleted stores run and queues its MONITORING_RUN_COMPLETED
// event in the same transaction. Either both are written or neither is.
func (p *Publisher) PublishRunCompleted(ctx context.Context, run *models.MonitoringRun) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("run without id cannot be published")
	}

	payload := NewRunCompletedPayload(run)
	payload.EventID = uuid.New().String()
	payload.EventType = string(EventTypeRunCompleted)
	payload.Timestamp = p.now()

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	outboxEvent := &database.OutboxEvent{
		AggregateType: aggregateRun,
		AggregateID:   run.ID,
		EventType:     string(EventTypeRunCompleted),
		Payload:       data,
		TargetStream:  p.stream,
	}

	err = p.db.Transaction(ctx, func(tx pgx.Tx) error {
		if err := p.runs.InsertWithTx(ctx, tx, run); err != nil {
			return fmt.Errorf("failed to store run: %w", err)
		}
		if err := p.outbox.InsertWithTx(ctx, tx, outboxEvent); err != nil {
			return fmt.Errorf("failed to insert outbox event: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Info("event published to outbox",
		"type", payload.EventType,
		"event_id", payload.EventID,
		"run_id", run.ID,
		"outbox_id", outboxEvent.ID,
	)

	return nil
}
