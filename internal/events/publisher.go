// Package events publishes run lifecycle events to Redis.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MacJediWizard/resticron/internal/backup"
	"github.com/MacJediWizard/resticron/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Channel is the Redis channel run events are published on.
const Channel = "resticron:runs"

const publishTimeout = 2 * time.Second

// Event types.
const (
	TypeRunStarted   = "run.started"
	TypeRunCompleted = "run.completed"
	TypeRunFailed    = "run.failed"
)

// Event is the JSON message published for a run transition.
type Event struct {
	Type         string           `json:"type"`
	RunID        uuid.UUID        `json:"run_id"`
	RepositoryID uuid.UUID        `json:"repository_id"`
	TaskID       *uuid.UUID       `json:"task_id,omitempty"`
	Status       models.RunStatus `json:"status"`
	SourcePath   string           `json:"source_path"`
	SnapshotID   string           `json:"snapshot_id,omitempty"`
	Message      string           `json:"message,omitempty"`
	StartTime    time.Time        `json:"start_time"`
	EndTime      *time.Time       `json:"end_time,omitempty"`
	BytesAdded   int64            `json:"bytes_added,omitempty"`
}

// Publisher sends run events to a Redis channel. Publish failures are
// logged and never reach the run.
type Publisher struct {
	client *redis.Client
	logger zerolog.Logger
}

var _ backup.RunNotifier = (*Publisher)(nil)

// NewPublisher connects to the Redis server at redisURL.
func NewPublisher(ctx context.Context, redisURL string, logger zerolog.Logger) (*Publisher, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return newPublisher(client, logger), nil
}

func newPublisher(client *redis.Client, logger zerolog.Logger) *Publisher {
	return &Publisher{
		client: client,
		logger: logger.With().Str("component", "events").Logger(),
	}
}

// RunStarted publishes a run.started event.
func (p *Publisher) RunStarted(ctx context.Context, run *models.Run) {
	p.publish(ctx, NewEvent(TypeRunStarted, run))
}

// RunFinished publishes run.completed or run.failed.
func (p *Publisher) RunFinished(ctx context.Context, run *models.Run) {
	eventType := TypeRunFailed
	if run.Status == models.RunStatusCompleted {
		eventType = TypeRunCompleted
	}
	p.publish(ctx, NewEvent(eventType, run))
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}

func (p *Publisher) publish(ctx context.Context, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error().Err(err).Str("type", event.Type).Msg("failed to encode run event")
		return
	}

	// The run context may already be cancelled when a run is abandoned.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := p.client.Publish(ctx, Channel, payload).Err(); err != nil {
		p.logger.Warn().
			Err(err).
			Str("type", event.Type).
			Str("run_id", event.RunID.String()).
			Msg("failed to publish run event")
	}
}

// NewEvent builds the event for a run.
func NewEvent(eventType string, run *models.Run) Event {
	return Event{
		Type:         eventType,
		RunID:        run.ID,
		RepositoryID: run.RepositoryID,
		TaskID:       run.TaskID,
		Status:       run.Status,
		SourcePath:   run.SourcePath,
		SnapshotID:   run.SnapshotID,
		Message:      run.Message,
		StartTime:    run.StartTime,
		EndTime:      run.EndTime,
		BytesAdded:   run.BytesAdded,
	}
}
