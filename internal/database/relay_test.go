package database

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRedisClient struct {
	mock.Mock
}

func (m *MockRedisClient) XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd {
	mockArgs := m.Called(ctx, args)
	cmd := redis.NewStringCmd(ctx)
	if err := mockArgs.Error(0); err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal("1700000000000-0")
	}
	return cmd
}

func (m *MockRedisClient) Close() error {
	return m.Called().Error(0)
}

type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*OutboxEvent), args.Error(1)
}

func (m *MockOutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, err error) error {
	return m.Called(ctx, id, err).Error(0)
}

func (m *MockOutboxRepository) CountByStatus(ctx context.Context, statuses ...string) (int64, error) {
	args := m.Called(ctx, statuses)
	return args.Get(0).(int64), args.Error(1)
}

func runEvent(runID string, payload string) *OutboxEvent {
	return &OutboxEvent{
		ID:            uuid.New(),
		AggregateType: "monitoring_run",
		AggregateID:   runID,
		EventType:     "MONITORING_RUN_COMPLETED",
		Payload:       json.RawMessage(payload),
		TargetStream:  DefaultStream,
		CreatedAt:     time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
	}
}

// streamValues returns the flat field map the relay stores in XAddArgs.Values.
func streamValues(args *redis.XAddArgs) map[string]any {
	values, _ := args.Values.(map[string]any)
	return values
}

func forRun(runID string) any {
	return mock.MatchedBy(func(args *redis.XAddArgs) bool {
		return streamValues(args)["aggregate_id"] == runID
	})
}

func TestRelayDrain(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes and marks every event", func(t *testing.T) {
		redisClient := new(MockRedisClient)
		outbox := new(MockOutboxRepository)
		relay := NewRelay(outbox, redisClient, nil, RelayConfig{BatchSize: 10})

		first := runEvent("run-001", `{"run_id":"run-001","total_products":2}`)
		second := runEvent("run-002", `{"run_id":"run-002","total_products":1}`)
		outbox.On("GetPending", ctx, 10).Return([]*OutboxEvent{first, second}, nil)

		for _, event := range []*OutboxEvent{first, second} {
			redisClient.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
				return args.Stream == DefaultStream &&
					streamValues(args)["event_type"] == "MONITORING_RUN_COMPLETED" &&
					streamValues(args)["outbox_id"] == event.ID.String()
			})).Return(nil)
			outbox.On("MarkProcessed", ctx, event.ID).Return(nil)
		}

		stats, err := relay.Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, BatchStats{Fetched: 2, Published: 2}, stats)

		redisClient.AssertExpectations(t)
		outbox.AssertExpectations(t)
	})

	t.Run("failed publish is recorded and the batch continues", func(t *testing.T) {
		redisClient := new(MockRedisClient)
		outbox := new(MockOutboxRepository)
		relay := NewRelay(outbox, redisClient, nil, RelayConfig{BatchSize: 10})

		failing := runEvent("run-001", `{"run_id":"run-001"}`)
		ok := runEvent("run-002", `{"run_id":"run-002"}`)
		outbox.On("GetPending", ctx, 10).Return([]*OutboxEvent{failing, ok}, nil)

		redisClient.On("XAdd", ctx, forRun("run-001")).Return(errors.New("connection refused"))
		outbox.On("MarkFailed", ctx, failing.ID, mock.MatchedBy(func(err error) bool {
			return err.Error() == "xadd stream:reseller_monitor: connection refused"
		})).Return(nil)

		redisClient.On("XAdd", ctx, forRun("run-002")).Return(nil)
		outbox.On("MarkProcessed", ctx, ok.ID).Return(nil)

		stats, err := relay.Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, BatchStats{Fetched: 2, Published: 1, Failed: 1}, stats)

		redisClient.AssertExpectations(t)
		outbox.AssertExpectations(t)
	})

	t.Run("invalid payload is never sent", func(t *testing.T) {
		redisClient := new(MockRedisClient)
		outbox := new(MockOutboxRepository)
		relay := NewRelay(outbox, redisClient, nil, RelayConfig{BatchSize: 10})

		broken := runEvent("run-003", `{"run_id":`)
		outbox.On("GetPending", ctx, 10).Return([]*OutboxEvent{broken}, nil)
		outbox.On("MarkFailed", ctx, broken.ID, mock.Anything).Return(nil)

		stats, err := relay.Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Failed)
		redisClient.AssertNotCalled(t, "XAdd", mock.Anything, mock.Anything)
	})

	t.Run("empty outbox", func(t *testing.T) {
		redisClient := new(MockRedisClient)
		outbox := new(MockOutboxRepository)
		relay := NewRelay(outbox, redisClient, nil, RelayConfig{BatchSize: 10})

		outbox.On("GetPending", ctx, 10).Return([]*OutboxEvent{}, nil)

		stats, err := relay.Drain(ctx)
		require.NoError(t, err)
		assert.Zero(t, stats)
		redisClient.AssertNotCalled(t, "XAdd", mock.Anything, mock.Anything)
	})

	t.Run("outbox read failure", func(t *testing.T) {
		outbox := new(MockOutboxRepository)
		relay := NewRelay(outbox, new(MockRedisClient), nil, RelayConfig{BatchSize: 10})

		outbox.On("GetPending", ctx, 10).Return(nil, errors.New("pool closed"))

		_, err := relay.Drain(ctx)
		assert.ErrorContains(t, err, "pool closed")
	})
}

func TestRelayStreamArgs(t *testing.T) {
	relay := NewRelay(new(MockOutboxRepository), new(MockRedisClient), nil, RelayConfig{StreamMaxLen: 5000})

	event := runEvent("run-001", `{"run_id":"run-001","total_resellers":12,"partial":false}`)
	event.RetryCount = 2

	args, err := relay.streamArgs(event)
	require.NoError(t, err)

	assert.Equal(t, DefaultStream, args.Stream)
	assert.Equal(t, int64(5000), args.MaxLen)
	assert.True(t, args.Approx)
	values := streamValues(args)
	require.NotNil(t, values)
	assert.Equal(t, "1772357400000", values["created_at"])

	data, ok := values["data"].(string)
	require.True(t, ok)
	var env envelope
	require.NoError(t, json.Unmarshal([]byte(data), &env))
	assert.Equal(t, event.ID.String(), env.ID)
	assert.Equal(t, "MONITORING_RUN_COMPLETED", env.Type)
	assert.Equal(t, "run-001", env.AggregateID)
	assert.Equal(t, "2026-03-01T09:30:00Z", env.Timestamp)
	assert.Equal(t, "reseller-monitor", env.Source)
	assert.Equal(t, 3, env.Attempt)
	assert.JSONEq(t, string(event.Payload), string(env.Payload))
}

func TestRelayStartStopsOnCancel(t *testing.T) {
	outbox := new(MockOutboxRepository)
	relay := NewRelay(outbox, new(MockRedisClient), nil, RelayConfig{
		PollInterval: 20 * time.Millisecond,
		BatchSize:    10,
	})

	outbox.On("GetPending", mock.Anything, 10).Return([]*OutboxEvent{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- relay.Start(ctx)
	}()

	time.Sleep(60 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop on context cancellation")
	}
	outbox.AssertCalled(t, "GetPending", mock.Anything, 10)
}

func TestRelayCounts(t *testing.T) {
	ctx := context.Background()
	outbox := new(MockOutboxRepository)
	relay := NewRelay(outbox, new(MockRedisClient), nil, RelayConfig{})

	outbox.On("CountByStatus", ctx, []string{OutboxStatusPending, OutboxStatusFailed}).Return(int64(3), nil)
	outbox.On("CountByStatus", ctx, []string{OutboxStatusDeadLetter}).Return(int64(1), nil)

	pending, err := relay.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), pending)

	dead, err := relay.DeadLetterCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), dead)
}

func TestNewRelayDefaults(t *testing.T) {
	relay := NewRelay(new(MockOutboxRepository), new(MockRedisClient), nil, RelayConfig{})

	assert.Equal(t, 5*time.Second, relay.config.PollInterval)
	assert.Equal(t, 100, relay.config.BatchSize)
	assert.Equal(t, "reseller-monitor", relay.config.Source)
	assert.Zero(t, relay.config.StreamMaxLen)
}
