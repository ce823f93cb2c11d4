/**
 * PostgreSQL implementation of the job store.
 *
 * Schema:
 *   documents  (id uuid PK, filename, mime_type, file_size, source_lang,
 *               target_lang, status, progress, page_count, error_code,
 *               error_message, processing_time_ms, source_data bytea,
 *               result_data bytea, result_mime, created_at, updated_at)
 *   pages      (document_id, page_index, status, region_count,
 *               translated_count, error_code, error_message, updated_at,
 *               PRIMARY KEY (document_id, page_index))
 *   status_log (id bigserial PK, document_id, page_index, message, ts)
 */

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	pkgerrors "github.com/mangaden/translate-worker/internal/errors"
)

// PostgresStore persists documents, pages and log entries in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool and verifies connectivity.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// CreateDocument inserts a fresh document record.
func (p *PostgresStore) CreateDocument(ctx context.Context, rec *DocumentRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("document ID is required")
	}

	query := `
		INSERT INTO documents (
			id, filename, mime_type, file_size, source_lang, target_lang,
			status, progress, page_count, created_at, updated_at
		) VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, 0, 0, NOW(), NOW())
	`
	_, err := p.db.ExecContext(ctx, query,
		rec.ID, rec.Filename, rec.MimeType, rec.FileSize,
		rec.SourceLang, rec.TargetLang, rec.Status,
	)
	if err != nil {
		return pkgerrors.NewStorageError("create document", err)
	}
	return nil
}

// UpdateDocument applies a worker-side status update. Zero-valued numeric
// fields and empty strings leave the stored values untouched.
func (p *PostgresStore) UpdateDocument(ctx context.Context, update *DocumentUpdate) error {
	if update.ID == "" {
		return fmt.Errorf("document ID is required")
	}
	query := `
		UPDATE documents SET
			status = COALESCE(NULLIF($2, ''), status),
			progress = GREATEST(progress, $3),
			page_count = COALESCE(NULLIF($4, 0), page_count),
			error_code = COALESCE(NULLIF($5, ''), error_code),
			error_message = COALESCE(NULLIF($6, ''), error_message),
			processing_time_ms = COALESCE(NULLIF($7, 0), processing_time_ms),
			updated_at = NOW()
		WHERE id = $1::uuid
	`
	res, err := p.db.ExecContext(ctx, query,
		update.ID, update.Status, update.Progress, update.PageCount,
		update.ErrorCode, update.ErrorMessage, update.ProcessingTimeMs,
	)
	if err != nil {
		return pkgerrors.NewStorageError("update document", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetDocument loads one document record.
func (p *PostgresStore) GetDocument(ctx context.Context, id string) (*DocumentRecord, error) {
	query := `
		SELECT id, filename, mime_type, file_size, source_lang, target_lang,
		       status, progress, page_count, error_code, error_message,
		       processing_time_ms, created_at, updated_at
		FROM documents WHERE id = $1::uuid
	`
	var (
		rec              DocumentRecord
		errorCode        sql.NullString
		errorMessage     sql.NullString
		processingTimeMs sql.NullInt64
	)
	err := p.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID, &rec.Filename, &rec.MimeType, &rec.FileSize,
		&rec.SourceLang, &rec.TargetLang, &rec.Status, &rec.Progress,
		&rec.PageCount, &errorCode, &errorMessage, &processingTimeMs,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, pkgerrors.NewStorageError("get document", err)
	}
	rec.ErrorCode = errorCode.String
	rec.ErrorMessage = errorMessage.String
	rec.ProcessingTimeMs = processingTimeMs.Int64
	return &rec, nil
}

// UpsertPage writes the current state of one page. A worker may report the
// same page several times as it moves through the pipeline.
func (p *PostgresStore) UpsertPage(ctx context.Context, rec *PageRecord) error {
	query := `
		INSERT INTO pages (
			document_id, page_index, status, region_count,
			translated_count, error_code, error_message, updated_at
		) VALUES ($1::uuid, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), NOW())
		ON CONFLICT (document_id, page_index) DO UPDATE SET
			status = EXCLUDED.status,
			region_count = GREATEST(pages.region_count, EXCLUDED.region_count),
			translated_count = GREATEST(pages.translated_count, EXCLUDED.translated_count),
			error_code = COALESCE(EXCLUDED.error_code, pages.error_code),
			error_message = COALESCE(EXCLUDED.error_message, pages.error_message),
			updated_at = NOW()
	`
	_, err := p.db.ExecContext(ctx, query,
		rec.DocumentID, rec.PageIndex, rec.Status, rec.RegionCount,
		rec.TranslatedCount, rec.ErrorCode, rec.ErrorMessage,
	)
	if err != nil {
		return pkgerrors.NewStorageError("upsert page", err)
	}
	return nil
}

// ListPages returns the page records of a document in index order.
func (p *PostgresStore) ListPages(ctx context.Context, documentID string) ([]PageRecord, error) {
	query := `
		SELECT document_id, page_index, status, region_count,
		       translated_count, error_code, error_message, updated_at
		FROM pages WHERE document_id = $1::uuid ORDER BY page_index
	`
	rows, err := p.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, pkgerrors.NewStorageError("list pages", err)
	}
	defer rows.Close()

	var pages []PageRecord
	for rows.Next() {
		var (
			rec          PageRecord
			errorCode    sql.NullString
			errorMessage sql.NullString
		)
		if err := rows.Scan(
			&rec.DocumentID, &rec.PageIndex, &rec.Status, &rec.RegionCount,
			&rec.TranslatedCount, &errorCode, &errorMessage, &rec.UpdatedAt,
		); err != nil {
			return nil, pkgerrors.NewStorageError("scan page", err)
		}
		rec.ErrorCode = errorCode.String
		rec.ErrorMessage = errorMessage.String
		pages = append(pages, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.NewStorageError("list pages", err)
	}
	return pages, nil
}

// AppendLog persists one status log line.
func (p *PostgresStore) AppendLog(ctx context.Context, rec *LogRecord) error {
	query := `
		INSERT INTO status_log (document_id, page_index, message, ts)
		VALUES ($1::uuid, $2, $3, $4)
	`
	_, err := p.db.ExecContext(ctx, query, rec.DocumentID, rec.PageIndex, rec.Message, rec.Timestamp)
	if err != nil {
		return pkgerrors.NewStorageError("append log", err)
	}
	return nil
}

// ListLog returns the status log of a document in append order.
func (p *PostgresStore) ListLog(ctx context.Context, documentID string) ([]LogRecord, error) {
	query := `
		SELECT document_id, page_index, message, ts
		FROM status_log WHERE document_id = $1::uuid ORDER BY id
	`
	rows, err := p.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, pkgerrors.NewStorageError("list log", err)
	}
	defer rows.Close()

	var entries []LogRecord
	for rows.Next() {
		var rec LogRecord
		if err := rows.Scan(&rec.DocumentID, &rec.PageIndex, &rec.Message, &rec.Timestamp); err != nil {
			return nil, pkgerrors.NewStorageError("scan log", err)
		}
		entries = append(entries, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.NewStorageError("list log", err)
	}
	return entries, nil
}

// PutSource stores the uploaded document bytes.
func (p *PostgresStore) PutSource(ctx context.Context, documentID string, data []byte) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE documents SET source_data = $2, updated_at = NOW() WHERE id = $1::uuid`,
		documentID, data,
	)
	if err != nil {
		return pkgerrors.NewStorageError("put source", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSource loads the uploaded document bytes.
func (p *PostgresStore) GetSource(ctx context.Context, documentID string) ([]byte, error) {
	var data []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT source_data FROM documents WHERE id = $1::uuid`, documentID,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, pkgerrors.NewStorageError("get source", err)
	}
	if data == nil {
		return nil, ErrNotFound
	}
	return data, nil
}

// PutResult stores the assembled output bytes and their MIME type.
func (p *PostgresStore) PutResult(ctx context.Context, documentID string, data []byte, mimeType string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE documents SET result_data = $2, result_mime = $3, updated_at = NOW() WHERE id = $1::uuid`,
		documentID, data, mimeType,
	)
	if err != nil {
		return pkgerrors.NewStorageError("put result", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetResult loads the assembled output bytes and their MIME type.
func (p *PostgresStore) GetResult(ctx context.Context, documentID string) ([]byte, string, error) {
	var (
		data []byte
		mime sql.NullString
	)
	err := p.db.QueryRowContext(ctx,
		`SELECT result_data, result_mime FROM documents WHERE id = $1::uuid`, documentID,
	).Scan(&data, &mime)
	if err == sql.ErrNoRows {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", pkgerrors.NewStorageError("get result", err)
	}
	if data == nil {
		return nil, "", ErrNotFound
	}
	return data, mime.String, nil
}

// Ping checks database connectivity.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the connection pool.
func (p *PostgresStore) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// Stats returns connection pool statistics.
func (p *PostgresStore) Stats() sql.DBStats {
	return p.db.Stats()
}
