/**
 * Persistence contracts for document translation jobs.
 *
 * The store keeps the document record, its per-page records, the
 * append-only status log, and the raw source/result bytes. Workers and
 * the submission path share one Store.
 */

package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a document, source or result does not exist.
var ErrNotFound = errors.New("not found")

// DocumentRecord is the persisted state of one translation job.
type DocumentRecord struct {
	ID               string
	Filename         string
	MimeType         string
	FileSize         int64
	SourceLang       string
	TargetLang       string
	Status           string
	Progress         int
	PageCount        int
	ErrorCode        string
	ErrorMessage     string
	ProcessingTimeMs int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// DocumentUpdate carries the fields a worker is allowed to change after
// submission. Zero values leave the stored value untouched.
type DocumentUpdate struct {
	ID               string
	Status           string
	Progress         int
	PageCount        int
	ErrorCode        string
	ErrorMessage     string
	ProcessingTimeMs int64
}

// PageRecord is the persisted state of one page of a document.
type PageRecord struct {
	DocumentID      string
	PageIndex       int
	Status          string
	RegionCount     int
	TranslatedCount int
	ErrorCode       string
	ErrorMessage    string
	UpdatedAt       time.Time
}

// LogRecord is one persisted status log line. PageIndex is nil for
// document-level entries.
type LogRecord struct {
	DocumentID string
	PageIndex  *int
	Message    string
	Timestamp  time.Time
}

// Store persists translation jobs. All methods are safe for concurrent use.
type Store interface {
	CreateDocument(ctx context.Context, rec *DocumentRecord) error
	UpdateDocument(ctx context.Context, update *DocumentUpdate) error
	GetDocument(ctx context.Context, id string) (*DocumentRecord, error)

	UpsertPage(ctx context.Context, rec *PageRecord) error
	ListPages(ctx context.Context, documentID string) ([]PageRecord, error)

	AppendLog(ctx context.Context, rec *LogRecord) error
	ListLog(ctx context.Context, documentID string) ([]LogRecord, error)

	PutSource(ctx context.Context, documentID string, data []byte) error
	GetSource(ctx context.Context, documentID string) ([]byte, error)
	PutResult(ctx context.Context, documentID string, data []byte, mimeType string) error
	GetResult(ctx context.Context, documentID string) ([]byte, string, error)

	Ping(ctx context.Context) error
	Close() error
}
