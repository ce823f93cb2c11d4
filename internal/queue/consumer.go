/**
 * Queue consumer for the translation worker.
 *
 * Consumes document translation tasks from Redis via Asynq. The submission
 * path enqueues one task per document; the consumer fans pages out inside
 * the process.
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

// TypeTranslateDocument is the Asynq task type for one document job.
const TypeTranslateDocument = "document:translate"

// QueueTranslate is the queue documents are enqueued on.
const QueueTranslate = "translate"

// TaskPayload is the Asynq task body. Everything else about the job lives in
// the store under the document ID.
type TaskPayload struct {
	DocumentID string `json:"documentId"`
	Filename   string `json:"filename,omitempty"`
}

// DocumentProcessor runs one document job end to end. Implemented by the
// service layer.
type DocumentProcessor interface {
	ProcessDocument(ctx context.Context, documentID string) error
}

// Consumer handles task consumption from the Redis queue.
type Consumer struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor DocumentProcessor
	config    *ConsumerConfig
}

// ConsumerConfig holds consumer configuration.
type ConsumerConfig struct {
	RedisURL          string
	Concurrency       int
	Processor         DocumentProcessor
	ProcessingTimeout int64 // per-document timeout in milliseconds
}

// NewConsumer creates a queue consumer bound to the translate queue.
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				QueueTranslate: 10,
				"default":      1,
			},
			// Exponential backoff: 5s, 10s, 20s, capped at 60s.
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				delay := time.Duration(5*(1<<uint(n))) * time.Second
				if delay > 60*time.Second {
					delay = 60 * time.Second
				}
				return delay
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Printf("Task processing error: type=%s, payload=%s, error=%v",
					task.Type(), string(task.Payload()), err)
			}),
		},
	)

	mux := asynq.NewServeMux()
	consumer := &Consumer{
		server:    server,
		mux:       mux,
		processor: cfg.Processor,
		config:    cfg,
	}
	mux.HandleFunc(TypeTranslateDocument, consumer.handleTranslateDocument)

	return consumer, nil
}

// Start starts the consumer loop in the background.
func (c *Consumer) Start(ctx context.Context) error {
	log.Printf("Starting queue consumer (concurrency=%d, queue=%s)...",
		c.config.Concurrency, QueueTranslate)

	go func() {
		if err := c.server.Run(c.mux); err != nil {
			log.Printf("Queue consumer error: %v", err)
		}
	}()

	return nil
}

// Stop drains in-flight tasks and shuts the consumer down.
func (c *Consumer) Stop(ctx context.Context) error {
	log.Printf("Stopping queue consumer...")
	c.server.Shutdown()
	log.Printf("Queue consumer stopped")
	return nil
}

// handleTranslateDocument runs one document under the processing timeout.
// Returned errors make Asynq retry the task with backoff.
func (c *Consumer) handleTranslateDocument(ctx context.Context, task *asynq.Task) error {
	startTime := time.Now()

	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}
	if payload.DocumentID == "" {
		return fmt.Errorf("task payload is missing documentId")
	}

	log.Printf("[Job %s] Translating document: filename=%s", payload.DocumentID, payload.Filename)

	timeout := 10 * time.Minute
	if c.config.ProcessingTimeout > 0 {
		timeout = time.Duration(c.config.ProcessingTimeout) * time.Millisecond
	}
	processCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := c.processor.ProcessDocument(processCtx, payload.DocumentID)
	duration := time.Since(startTime)

	if err != nil {
		if processCtx.Err() == context.DeadlineExceeded {
			log.Printf("[Job %s] Processing timed out after %v (timeout: %v)",
				payload.DocumentID, duration, timeout)
			return fmt.Errorf("processing timeout: %w", err)
		}
		log.Printf("[Job %s] Processing failed after %v: %v", payload.DocumentID, duration, err)
		return fmt.Errorf("document processing failed: %w", err)
	}

	log.Printf("[Job %s] Processing completed in %v", payload.DocumentID, duration)
	return nil
}

// GetStatistics returns consumer statistics.
func (c *Consumer) GetStatistics() map[string]interface{} {
	return map[string]interface{}{
		"concurrency": c.config.Concurrency,
		"queue":       QueueTranslate,
		"redisURL":    c.config.RedisURL,
	}
}
