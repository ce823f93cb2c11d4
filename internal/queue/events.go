/**
 * Job event publishing over Redis pub/sub. Subscribers (API gateways,
 * websocket bridges) receive one event per document status change.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventsChannel is the pub/sub channel job events are published on.
const EventsChannel = "translate:jobs:events"

// JobEvent is one document status change notification.
type JobEvent struct {
	DocumentID string    `json:"documentId"`
	Status     string    `json:"status"`
	Progress   int       `json:"progress"`
	Timestamp  time.Time `json:"timestamp"`
}

// EventPublisher broadcasts job status changes. A nil *RedisPublisher is a
// valid no-op publisher.
type EventPublisher interface {
	PublishJobEvent(ctx context.Context, event *JobEvent) error
}

// RedisPublisher publishes job events on a Redis pub/sub channel.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher creates a publisher using the given Redis client.
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// PublishJobEvent broadcasts one event. Publish failures are logged and
// swallowed: events are advisory, the store remains the source of truth.
func (p *RedisPublisher) PublishJobEvent(ctx context.Context, event *JobEvent) error {
	if p == nil || p.client == nil {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal job event: %w", err)
	}

	if err := p.client.Publish(ctx, EventsChannel, data).Err(); err != nil {
		log.Printf("[Job %s] Warning: failed to publish %s event: %v",
			event.DocumentID, event.Status, err)
	}
	return nil
}
