/**
 * Manga Translation Worker - Main Entry Point
 *
 * Go worker for automatic manga page translation.
 *
 * Architecture:
 * - Asynq consumer for Redis-backed job queue
 * - Per-document pipeline: region detection, Tesseract OCR,
 *   machine translation, text re-rendering, page reassembly
 * - PostgreSQL persistence for jobs, pages and status history
 * - Redis pub/sub for document status events
 */

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/mangaden/translate-worker/internal/config"
	"github.com/mangaden/translate-worker/internal/pdfutil"
	"github.com/mangaden/translate-worker/internal/pipeline"
	"github.com/mangaden/translate-worker/internal/queue"
	"github.com/mangaden/translate-worker/internal/service"
	"github.com/mangaden/translate-worker/internal/storage"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env not found, using system environment variables")
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Manga translation worker starting...")
	log.Printf("Configuration loaded: Redis=%s, PostgreSQL=%s, Workers=%d, PageConcurrency=%d",
		cfg.RedisURL, cfg.DatabaseURL, cfg.WorkerConcurrency, cfg.MaxPageConcurrency)

	// Initialize storage
	log.Printf("Connecting to PostgreSQL...")
	store, err := storage.NewPostgresStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()
	log.Printf("Storage initialized")

	// Redis client shared by the translation cache and the event publisher
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to parse Redis URL: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	// Pipeline engines
	detector := pipeline.NewThresholdDetector()
	extractor := pipeline.NewExtractor(pipeline.NewTesseractEngine(), cfg.MinOCRConfidence)

	var translator pipeline.Translator = pipeline.NewOpenAITranslator(
		cfg.TranslatorAPIKey,
		cfg.TranslatorAPIURL,
		cfg.TranslatorModel,
		time.Duration(cfg.TranslationTimeoutMs)*time.Millisecond,
	)
	translator = pipeline.NewCachedTranslator(translator, pipeline.NewRedisCache(redisClient, 7*24*time.Hour))

	renderer, err := pipeline.NewBoxRendererFromFile(cfg.FontPath, cfg.MinFontSize)
	if err != nil {
		log.Fatalf("Failed to initialize renderer: %v", err)
	}

	pagePipeline := pipeline.NewPagePipeline(detector, extractor, translator, renderer, 4)
	docPipeline := pipeline.NewDocumentPipeline(
		pdfutil.NewSplitter(cfg.TempDir),
		pagePipeline,
		cfg.MaxPageConcurrency,
	)
	log.Printf("Pipeline initialized (min confidence=%.2f, min font=%dpt)",
		cfg.MinOCRConfidence, cfg.MinFontSize)

	// Service layer
	producer, err := queue.NewProducer(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to initialize task producer: %v", err)
	}
	defer producer.Close()

	svc, err := service.New(service.Config{
		Store:       store,
		Enqueuer:    producer,
		Events:      queue.NewRedisPublisher(redisClient),
		Documents:   docPipeline,
		Assembler:   pdfutil.NewAssembler(cfg.TempDir),
		MaxFileSize: cfg.MaxFileSize,
	})
	if err != nil {
		log.Fatalf("Failed to initialize service: %v", err)
	}

	// Queue consumer
	log.Printf("Connecting to Redis queue...")
	consumer, err := queue.NewConsumer(&queue.ConsumerConfig{
		RedisURL:          cfg.RedisURL,
		Concurrency:       cfg.WorkerConcurrency,
		Processor:         svc,
		ProcessingTimeout: int64(cfg.ProcessingTimeout),
	})
	if err != nil {
		log.Fatalf("Failed to initialize queue consumer: %v", err)
	}

	ctx := context.Background()
	if err := consumer.Start(ctx); err != nil {
		log.Fatalf("Failed to start queue consumer: %v", err)
	}

	log.Printf("===========================================")
	log.Printf("Manga translation worker is READY")
	log.Printf("===========================================")
	log.Printf("Queue: %s", queue.QueueTranslate)
	log.Printf("Workers: %d", cfg.WorkerConcurrency)
	log.Printf("Page concurrency: %d", cfg.MaxPageConcurrency)
	log.Printf("Max file size: %d bytes", cfg.MaxFileSize)
	log.Printf("===========================================")
	log.Printf("Waiting for jobs...")

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigChan
	log.Printf("Received signal %v, initiating graceful shutdown...", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := consumer.Stop(shutdownCtx); err != nil {
		log.Printf("Error stopping queue consumer: %v", err)
	}

	if err := store.Close(); err != nil {
		log.Printf("Error closing storage: %v", err)
	}

	log.Printf("Shutdown complete")
}
