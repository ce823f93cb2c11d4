/**
 * Task producer: the submission path enqueues one task per document on the
 * translate queue.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"
)

// Enqueuer submits document jobs for asynchronous processing. Implemented by
// Producer; tests substitute fakes.
type Enqueuer interface {
	EnqueueDocument(ctx context.Context, documentID, filename string) error
}

// Producer enqueues translation tasks via Asynq.
type Producer struct {
	client *asynq.Client
}

// NewProducer creates a producer connected to the given Redis instance.
func NewProducer(redisURL string) (*Producer, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return &Producer{client: asynq.NewClient(redisOpt)}, nil
}

// EnqueueDocument places one document job on the translate queue.
func (p *Producer) EnqueueDocument(ctx context.Context, documentID, filename string) error {
	payload, err := json.Marshal(TaskPayload{DocumentID: documentID, Filename: filename})
	if err != nil {
		return fmt.Errorf("failed to marshal task payload: %w", err)
	}

	task := asynq.NewTask(TypeTranslateDocument, payload)
	info, err := p.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueTranslate),
		asynq.MaxRetry(3),
		asynq.Timeout(30*time.Minute),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue document %s: %w", documentID, err)
	}

	log.Printf("[Job %s] Enqueued task %s on queue %s", documentID, info.ID, info.Queue)
	return nil
}

// Close releases the underlying Redis connection.
func (p *Producer) Close() error {
	return p.client.Close()
}
