// Package events publishes job lifecycle notifications to a Redis stream
// so downstream consumers can react to completed scrapes. Publishing is
// best effort and never fails the job it describes.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	TypeJobStarted   = "scrape.job.started"
	TypeJobCompleted = "scrape.job.completed"
	TypeJobFailed    = "scrape.job.failed"
)

// RedisClient interface for Redis operations (for testing)
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// JobEvent is the payload carried in the stream entry's data field.
type JobEvent struct {
	JobID     string `json:"job_id"`
	Adapter   string `json:"adapter"`
	TargetURL string `json:"target_url"`
	Route     string `json:"route,omitempty"`
	Products  int    `json:"products,omitempty"`
	Artifact  string `json:"artifact,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Publisher appends lifecycle events to one Redis stream. A nil
// Publisher drops every event, which is how tests run.
type Publisher struct {
	redis  RedisClient
	stream string
	logger *slog.Logger
}

func NewPublisher(client RedisClient, stream string, logger *slog.Logger) *Publisher {
	return &Publisher{
		redis:  client,
		stream: stream,
		logger: logger.With("component", "events"),
	}
}

func (p *Publisher) JobStarted(ctx context.Context, ev JobEvent) {
	p.publish(ctx, TypeJobStarted, ev)
}

func (p *Publisher) JobCompleted(ctx context.Context, ev JobEvent) {
	p.publish(ctx, TypeJobCompleted, ev)
}

func (p *Publisher) JobFailed(ctx context.Context, ev JobEvent) {
	p.publish(ctx, TypeJobFailed, ev)
}

func (p *Publisher) publish(ctx context.Context, eventType string, ev JobEvent) {
	if p == nil || p.redis == nil {
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("failed to marshal event payload", "event_type", eventType, "error", err)
		return
	}

	now := time.Now()
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"id":         uuid.New().String(),
			"event_type": eventType,
			"job_id":     ev.JobID,
			"timestamp":  fmt.Sprintf("%d", now.UnixNano()),
			"data":       string(payload),
		},
	}

	if _, err := p.redis.XAdd(ctx, args).Result(); err != nil {
		p.logger.Error("failed to publish event",
			"event_type", eventType,
			"job_id", ev.JobID,
			"stream", p.stream,
			"error", err)
		return
	}

	p.logger.Debug("event published", "event_type", eventType, "job_id", ev.JobID)
}
