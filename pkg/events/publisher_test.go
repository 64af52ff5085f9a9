package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/bookpipe/pkg/logging"
)

func TestBaseEvent(t *testing.T) {
	event := NewBaseEvent("run.completed", "run-1")

	assert.Equal(t, "run.completed", event.EventType)
	assert.Equal(t, "run-1", event.RunID)
	assert.Equal(t, "bookpipe", event.Source)
	assert.Equal(t, "1.0", event.Version)
	assert.False(t, event.Timestamp.IsZero())
}

func TestRunCompletedEvent_JSON(t *testing.T) {
	started := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	event := RunCompletedEvent{
		BaseEvent:       NewBaseEvent("run.completed", "run-1"),
		Stages:          []string{"catalog", "ratings", "join"},
		CompletedStages: []string{"catalog"},
		FailedStage:     "ratings",
		ErrorCode:       "missing_source",
		StartedAt:       started,
		CompletedAt:     started.Add(2 * time.Second),
		DurationSeconds: 2,
	}

	data, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "run-1", decoded["run_id"])
	assert.Equal(t, "ratings", decoded["failed_stage"])
	assert.Equal(t, "missing_source", decoded["error_code"])
	assert.Equal(t, false, decoded["success"])
}

func TestStageCompletedEvent_OmitsEmptyError(t *testing.T) {
	data, err := json.Marshal(StageCompletedEvent{
		BaseEvent: NewBaseEvent("stage.completed", "run-1"),
		Stage:     "catalog",
		Success:   true,
		Counters:  map[string]int64{"output_rows": 3},
	})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "error_code")
	assert.Contains(t, string(data), `"output_rows":3`)
}

func TestNoOpEmitter(t *testing.T) {
	var e Emitter = NoOpEmitter{}
	ctx := context.Background()
	assert.NoError(t, e.EmitStageCompleted(ctx, StageCompletedEvent{}))
	assert.NoError(t, e.EmitRunCompleted(ctx, RunCompletedEvent{}))
	assert.NoError(t, e.Close())
}

func TestPublisher_UnreachableRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	p := NewPublisher(client, logging.NewNopLogger())
	defer p.Close()

	err := p.EmitRunCompleted(context.Background(), RunCompletedEvent{BaseEvent: NewBaseEvent("run.completed", "run-1")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), ChannelRunCompleted)
}

func TestNewPublisherFromConfig_PingFails(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := NewPublisherFromConfig(ctx, PublisherConfig{Addr: "127.0.0.1:1"}, logging.NewNopLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to Redis")
}
