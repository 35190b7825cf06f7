package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisClient is the part of the redis client the relay uses.
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// OutboxRepo is the part of the outbox repository the relay uses.
type OutboxRepo interface {
	GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, err error) error
	CountByStatus(ctx context.Context, statuses ...string) (int64, error)
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// Source is recorded in every published envelope.
	Source string
	// StreamMaxLen approximately caps each stream's length. Zero keeps everything.
	StreamMaxLen int64
}

// Relay drains the outbox into Redis streams. An event is marked processed
// only after XADD succeeded, so consumers may see an event twice but never
// miss one.
type Relay struct {
	redis  RedisClient
	outbox OutboxRepo
	config RelayConfig
	logger *slog.Logger
}

// BatchStats summarizes one drain of the outbox.
type BatchStats struct {
	Fetched   int
	Published int
	Failed    int
}

// envelope is the JSON document stored in the stream entry's data field.
type envelope struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     string          `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
	Source        string          `json:"source"`
	Attempt       int             `json:"attempt"`
}

func NewRelay(outbox OutboxRepo, redisClient RedisClient, logger *slog.Logger, config RelayConfig) *Relay {
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.Source == "" {
		config.Source = "reseller-monitor"
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Relay{
		redis:  redisClient,
		outbox: outbox,
		config: config,
		logger: logger.With("component", "relay"),
	}
}

// Start drains the outbox immediately and then every poll interval until ctx
// is done.
func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info("relay started",
		"interval", r.config.PollInterval,
		"batch_size", r.config.BatchSize)

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := r.Drain(ctx); err != nil {
			r.logger.Error("outbox drain failed", "error", err)
		}

		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Drain publishes one batch of due events. Individual publish failures are
// recorded on the event and counted; only a failure to read the outbox is
// returned.
func (r *Relay) Drain(ctx context.Context) (BatchStats, error) {
	events, err := r.outbox.GetPending(ctx, r.config.BatchSize)
	if err != nil {
		return BatchStats{}, fmt.Errorf("failed to get pending events: %w", err)
	}

	stats := BatchStats{Fetched: len(events)}
	for _, event := range events {
		if err := r.relay(ctx, event); err != nil {
			stats.Failed++
			r.logger.Warn("event not relayed",
				"event_id", event.ID,
				"run_id", event.AggregateID,
				"attempt", event.RetryCount+1,
				"error", err)
			continue
		}
		stats.Published++
	}

	if stats.Fetched > 0 {
		r.logger.Info("outbox drained",
			"fetched", stats.Fetched,
			"published", stats.Published,
			"failed", stats.Failed)
	}
	return stats, nil
}

func (r *Relay) relay(ctx context.Context, event *OutboxEvent) error {
	args, err := r.streamArgs(event)
	if err == nil {
		_, err = r.redis.XAdd(ctx, args).Result()
		if err != nil {
			err = fmt.Errorf("xadd %s: %w", event.TargetStream, err)
		}
	}
	if err != nil {
		if markErr := r.outbox.MarkFailed(ctx, event.ID, err); markErr != nil {
			r.logger.Error("failed to record relay failure", "event_id", event.ID, "error", markErr)
		}
		return err
	}

	if err := r.outbox.MarkProcessed(ctx, event.ID); err != nil {
		return fmt.Errorf("published but not marked processed: %w", err)
	}
	return nil
}

// streamArgs builds the stream entry for an event. Flat fields allow
// consumers to filter without decoding data.
func (r *Relay) streamArgs(event *OutboxEvent) (*redis.XAddArgs, error) {
	if !json.Valid(event.Payload) {
		return nil, fmt.Errorf("event %s has an invalid JSON payload", event.ID)
	}

	data, err := json.Marshal(envelope{
		ID:            event.ID.String(),
		Type:          event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Timestamp:     event.CreatedAt.UTC().Format(time.RFC3339),
		Payload:       event.Payload,
		Source:        r.config.Source,
		Attempt:       event.RetryCount + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: event.TargetStream,
		Values: map[string]any{
			"data":           string(data),
			"event_type":     event.EventType,
			"aggregate_type": event.AggregateType,
			"aggregate_id":   event.AggregateID,
			"outbox_id":      event.ID.String(),
			"created_at":     strconv.FormatInt(event.CreatedAt.UnixMilli(), 10),
		},
	}
	if r.config.StreamMaxLen > 0 {
		args.MaxLen = r.config.StreamMaxLen
		args.Approx = true
	}
	return args, nil
}

// PendingCount returns the number of events still waiting to be relayed.
func (r *Relay) PendingCount(ctx context.Context) (int64, error) {
	return r.outbox.CountByStatus(ctx, OutboxStatusPending, OutboxStatusFailed)
}

// DeadLetterCount returns the number of events that exhausted their retries.
func (r *Relay) DeadLetterCount(ctx context.Context) (int64, error) {
	return r.outbox.CountByStatus(ctx, OutboxStatusDeadLetter)
}
