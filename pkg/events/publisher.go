// Package events publishes pipeline run notifications to Redis.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/otherjamesbrown/bookpipe/pkg/logging"
)

// Redis channels
const (
	ChannelStageCompleted = "events.bookpipe.stage.completed"
	ChannelRunCompleted   = "events.bookpipe.run.completed"
)

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id"`
	Source    string    `json:"source"`
	Version   string    `json:"version"`
}

// NewBaseEvent creates a BaseEvent with sensible defaults.
func NewBaseEvent(eventType, runID string) BaseEvent {
	return BaseEvent{
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		RunID:     runID,
		Source:    "bookpipe",
		Version:   "1.0",
	}
}

// StageCompletedEvent is published after every stage, successful or not.
type StageCompletedEvent struct {
	BaseEvent

	Stage      string           `json:"stage"`
	Success    bool             `json:"success"`
	ErrorCode  string           `json:"error_code,omitempty"`
	Error      string           `json:"error,omitempty"`
	DurationMs int64            `json:"duration_ms"`
	Counters   map[string]int64 `json:"counters"`
}

// RunCompletedEvent is published when a run finishes.
type RunCompletedEvent struct {
	BaseEvent

	Stages          []string  `json:"stages"`
	CompletedStages []string  `json:"completed_stages"`
	FailedStage     string    `json:"failed_stage,omitempty"`
	ErrorCode       string    `json:"error_code,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	CompletedAt     time.Time `json:"completed_at"`
	DurationSeconds float64   `json:"duration_seconds"`
	Success         bool      `json:"success"`
	MasterRows      int       `json:"master_rows"`
}

// Emitter publishes pipeline events.
type Emitter interface {
	EmitStageCompleted(ctx context.Context, event StageCompletedEvent) error
	EmitRunCompleted(ctx context.Context, event RunCompletedEvent) error
	Close() error
}

// Publisher publishes pipeline events to Redis.
type Publisher struct {
	client *redis.Client
	logger logging.Logger
}

// PublisherConfig holds Redis connection configuration.
type PublisherConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewPublisher creates a new event publisher.
func NewPublisher(client *redis.Client, logger logging.Logger) *Publisher {
	return &Publisher{
		client: client,
		logger: logger.With(logging.F("component", "event_publisher")),
	}
}

// NewPublisherFromConfig creates a publisher with a new Redis connection.
func NewPublisherFromConfig(ctx context.Context, cfg PublisherConfig, logger logging.Logger) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}

	return NewPublisher(client, logger), nil
}

// EmitStageCompleted publishes a stage completion event.
func (p *Publisher) EmitStageCompleted(ctx context.Context, event StageCompletedEvent) error {
	return p.publish(ctx, ChannelStageCompleted, event)
}

// EmitRunCompleted publishes a run completion event.
func (p *Publisher) EmitRunCompleted(ctx context.Context, event RunCompletedEvent) error {
	return p.publish(ctx, ChannelRunCompleted, event)
}

// publish serializes and publishes an event to Redis.
func (p *Publisher) publish(ctx context.Context, channel string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		p.logger.Error("Failed to publish event",
			logging.Err(err),
			logging.F("channel", channel))
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}

	p.logger.Debug("Event published",
		logging.F("channel", channel),
		logging.F("payload_size", len(data)))

	return nil
}

// Close closes the Redis connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}

// NoOpEmitter discards every event. Used when no Redis address is configured.
type NoOpEmitter struct{}

// EmitStageCompleted does nothing.
func (NoOpEmitter) EmitStageCompleted(context.Context, StageCompletedEvent) error { return nil }

// EmitRunCompleted does nothing.
func (NoOpEmitter) EmitRunCompleted(context.Context, RunCompletedEvent) error { return nil }

// Close does nothing.
func (NoOpEmitter) Close() error { return nil }
