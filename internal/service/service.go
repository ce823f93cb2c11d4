/**
 * Service layer: validates submissions, runs document jobs pulled from the
 * queue, and answers status/result queries.
 *
 * SubmitDocument is the producer side; ProcessDocument is the consumer side
 * invoked by the queue worker. Both share one Store.
 */

package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/mangaden/translate-worker/internal/errors"
	"github.com/mangaden/translate-worker/internal/pdfutil"
	"github.com/mangaden/translate-worker/internal/pipeline"
	"github.com/mangaden/translate-worker/internal/queue"
	"github.com/mangaden/translate-worker/internal/storage"
)

// Assembler folds processed page images into final document bytes.
type Assembler interface {
	Assemble(ctx context.Context, pages []image.Image, mimeType string) ([]byte, string, error)
}

// SubmitRequest is one document upload.
type SubmitRequest struct {
	Filename   string
	Data       []byte
	SourceLang string
	TargetLang string
}

// PageStatus is the externally visible state of one page.
type PageStatus struct {
	Index           int    `json:"index"`
	Status          string `json:"status"`
	RegionCount     int    `json:"regionCount"`
	TranslatedCount int    `json:"translatedCount"`
	ErrorCode       string `json:"errorCode,omitempty"`
	ErrorMessage    string `json:"errorMessage,omitempty"`
}

// StatusResponse answers a status query for one document.
type StatusResponse struct {
	DocumentID   string       `json:"documentId"`
	Status       string       `json:"status"`
	Progress     int          `json:"progress"`
	PageCount    int          `json:"pageCount"`
	Pages        []PageStatus `json:"pages"`
	Log          []LogLine    `json:"log"`
	ErrorCode    string       `json:"errorCode,omitempty"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// LogLine is one externally visible status log entry.
type LogLine struct {
	Timestamp time.Time `json:"timestamp"`
	PageIndex *int      `json:"pageIndex,omitempty"`
	Message   string    `json:"message"`
}

// Service implements document submission, processing and queries.
type Service struct {
	store       storage.Store
	enqueuer    queue.Enqueuer
	events      queue.EventPublisher
	docs        *pipeline.DocumentPipeline
	assembler   Assembler
	maxFileSize int64
}

// Config wires a Service.
type Config struct {
	Store       storage.Store
	Enqueuer    queue.Enqueuer
	Events      queue.EventPublisher
	Documents   *pipeline.DocumentPipeline
	Assembler   Assembler
	MaxFileSize int64
}

// New creates the service. Events may be nil when no publisher is configured.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Documents == nil {
		return nil, fmt.Errorf("document pipeline is required")
	}
	if cfg.Assembler == nil {
		return nil, fmt.Errorf("assembler is required")
	}
	return &Service{
		store:       cfg.Store,
		enqueuer:    cfg.Enqueuer,
		events:      cfg.Events,
		docs:        cfg.Documents,
		assembler:   cfg.Assembler,
		maxFileSize: cfg.MaxFileSize,
	}, nil
}

// SubmitDocument validates an upload, persists it and enqueues the job.
// Returns the new document ID.
func (s *Service) SubmitDocument(ctx context.Context, req *SubmitRequest) (string, error) {
	if len(req.Data) == 0 {
		return "", pkgerrors.NewEmptyDocumentError()
	}
	if s.maxFileSize > 0 && int64(len(req.Data)) > s.maxFileSize {
		return "", pkgerrors.NewFileTooLargeError(int64(len(req.Data)), s.maxFileSize)
	}

	// The upload's claimed type is ignored; content decides.
	mimeType := pdfutil.DetectMimeType(req.Data)
	if !pdfutil.Supported(mimeType) {
		return "", pkgerrors.NewUnsupportedFormatError(mimeType)
	}

	if !pipeline.SupportedLanguage(req.SourceLang) {
		return "", pkgerrors.NewUnsupportedLanguageError(req.SourceLang)
	}
	if !pipeline.SupportedLanguage(req.TargetLang) {
		return "", pkgerrors.NewUnsupportedLanguageError(req.TargetLang)
	}

	docID := uuid.New().String()
	rec := &storage.DocumentRecord{
		ID:         docID,
		Filename:   req.Filename,
		MimeType:   mimeType,
		FileSize:   int64(len(req.Data)),
		SourceLang: req.SourceLang,
		TargetLang: req.TargetLang,
		Status:     string(pipeline.DocPending),
	}
	if err := s.store.CreateDocument(ctx, rec); err != nil {
		return "", err
	}
	if err := s.store.PutSource(ctx, docID, req.Data); err != nil {
		return "", err
	}

	// A same-language pair is accepted: the run degenerates to detect,
	// recognize and re-render without changing the text.
	if req.SourceLang == req.TargetLang {
		log.Printf("[Job %s] Warning: source and target language are both %q", docID, req.SourceLang)
		s.appendLog(ctx, docID, nil, fmt.Sprintf("warning: source and target language are both %q", req.SourceLang))
	}

	if s.enqueuer != nil {
		if err := s.enqueuer.EnqueueDocument(ctx, docID, req.Filename); err != nil {
			return "", err
		}
	}
	s.publishEvent(ctx, docID, string(pipeline.DocPending), 0)

	log.Printf("[Job %s] Submitted: filename=%s, mime=%s, size=%d, %s -> %s",
		docID, req.Filename, mimeType, len(req.Data), req.SourceLang, req.TargetLang)
	return docID, nil
}

// ProcessDocument runs one queued document end to end. Validation failures
// are recorded as terminal and not returned, so the queue does not retry
// them; infrastructure failures are returned for retry.
func (s *Service) ProcessDocument(ctx context.Context, documentID string) error {
	start := time.Now()

	rec, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if pipeline.DocumentStatus(rec.Status).Terminal() {
		log.Printf("[Job %s] Already %s, skipping", documentID, rec.Status)
		return nil
	}

	data, err := s.store.GetSource(ctx, documentID)
	if err != nil {
		return err
	}

	if err := s.store.UpdateDocument(ctx, &storage.DocumentUpdate{
		ID:     documentID,
		Status: string(pipeline.DocProcessing),
	}); err != nil {
		return err
	}
	s.publishEvent(ctx, documentID, string(pipeline.DocProcessing), 0)

	// Log lines are persisted as they are produced so that a status query
	// during the run sees the trail so far.
	slog := pipeline.NewStatusLog(func(entry pipeline.StatusLogEntry) {
		s.appendLog(ctx, documentID, entry.PageIndex, entry.Message)
	})

	// Each page is persisted the moment it reaches a terminal status, so a
	// status query mid-run sees page records and a live progress value.
	onPage := func(page *pipeline.Page, progress int) {
		s.upsertPage(ctx, documentID, page)
		if err := s.store.UpdateDocument(ctx, &storage.DocumentUpdate{
			ID:       documentID,
			Progress: progress,
		}); err != nil {
			log.Printf("[Job %s] Warning: failed to persist progress: %v", documentID, err)
		}
		s.publishEvent(ctx, documentID, string(pipeline.DocProcessing), progress)
	}

	result, err := s.docs.Run(ctx, documentID, data, rec.MimeType, rec.SourceLang, rec.TargetLang, slog, onPage)
	if err != nil {
		return s.finishFailed(ctx, documentID, err, start)
	}

	output, outputMime, err := s.assembler.Assemble(ctx, result.Outputs, rec.MimeType)
	if err != nil {
		return s.finishFailed(ctx, documentID, err, start)
	}
	if err := s.store.PutResult(ctx, documentID, output, outputMime); err != nil {
		return err
	}

	update := &storage.DocumentUpdate{
		ID:               documentID,
		Status:           string(result.Status),
		Progress:         100,
		PageCount:        len(result.Pages),
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}
	if result.Status == pipeline.DocFailed && len(result.Pages) > 0 {
		if pageErr := result.Pages[0].Err; pageErr != nil {
			update.ErrorCode = string(pkgerrors.CodeOf(pageErr))
			update.ErrorMessage = pageErr.Error()
		}
	}
	if err := s.store.UpdateDocument(ctx, update); err != nil {
		return err
	}
	s.publishEvent(ctx, documentID, string(result.Status), 100)
	return nil
}

// GetStatus answers a status query, including per-page states and the log.
func (s *Service) GetStatus(ctx context.Context, documentID string) (*StatusResponse, error) {
	rec, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	pages, err := s.store.ListPages(ctx, documentID)
	if err != nil {
		return nil, err
	}
	logRecs, err := s.store.ListLog(ctx, documentID)
	if err != nil {
		return nil, err
	}

	resp := &StatusResponse{
		DocumentID:   rec.ID,
		Status:       rec.Status,
		Progress:     rec.Progress,
		PageCount:    rec.PageCount,
		ErrorCode:    rec.ErrorCode,
		ErrorMessage: rec.ErrorMessage,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
	for _, p := range pages {
		resp.Pages = append(resp.Pages, PageStatus{
			Index:           p.PageIndex,
			Status:          p.Status,
			RegionCount:     p.RegionCount,
			TranslatedCount: p.TranslatedCount,
			ErrorCode:       p.ErrorCode,
			ErrorMessage:    p.ErrorMessage,
		})
	}
	for _, l := range logRecs {
		resp.Log = append(resp.Log, LogLine{Timestamp: l.Timestamp, PageIndex: l.PageIndex, Message: l.Message})
	}
	return resp, nil
}

// GetResult returns the assembled document bytes once the job is terminal.
func (s *Service) GetResult(ctx context.Context, documentID string) ([]byte, string, error) {
	rec, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, "", err
	}
	if !pipeline.DocumentStatus(rec.Status).Terminal() {
		return nil, "", &pkgerrors.NotReadyError{DocumentID: documentID, Status: rec.Status}
	}
	return s.store.GetResult(ctx, documentID)
}

// finishFailed records a terminal failure. Validation errors are absorbed
// (nil return) so the queue does not retry unprocessable input.
func (s *Service) finishFailed(ctx context.Context, documentID string, cause error, start time.Time) error {
	code := pkgerrors.CodeOf(cause)
	update := &storage.DocumentUpdate{
		ID:               documentID,
		Status:           string(pipeline.DocFailed),
		Progress:         100,
		ErrorCode:        string(code),
		ErrorMessage:     cause.Error(),
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}
	if err := s.store.UpdateDocument(ctx, update); err != nil {
		return err
	}
	s.publishEvent(ctx, documentID, string(pipeline.DocFailed), 100)

	var ve *pkgerrors.ValidationError
	if errors.As(cause, &ve) {
		log.Printf("[Job %s] Rejected: %v", documentID, cause)
		return nil
	}
	return cause
}

func (s *Service) upsertPage(ctx context.Context, documentID string, page *pipeline.Page) {
	translated := 0
	for _, block := range page.Blocks {
		if block.TranslatedText != nil {
			translated++
		}
	}
	rec := &storage.PageRecord{
		DocumentID:      documentID,
		PageIndex:       page.Index,
		Status:          string(page.Status),
		RegionCount:     len(page.Blocks),
		TranslatedCount: translated,
	}
	if page.Err != nil {
		rec.ErrorCode = string(pkgerrors.CodeOf(page.Err))
		rec.ErrorMessage = page.Err.Error()
	}
	if err := s.store.UpsertPage(ctx, rec); err != nil {
		log.Printf("[Job %s] Warning: failed to persist page %d: %v", documentID, page.Index, err)
	}
}

func (s *Service) appendLog(ctx context.Context, documentID string, pageIndex *int, message string) {
	rec := &storage.LogRecord{
		DocumentID: documentID,
		PageIndex:  pageIndex,
		Message:    message,
		Timestamp:  time.Now().UTC(),
	}
	if err := s.store.AppendLog(ctx, rec); err != nil {
		log.Printf("[Job %s] Warning: failed to persist log entry: %v", documentID, err)
	}
}

func (s *Service) publishEvent(ctx context.Context, documentID, status string, progress int) {
	if s.events == nil {
		return
	}
	_ = s.events.PublishJobEvent(ctx, &queue.JobEvent{
		DocumentID: documentID,
		Status:     status,
		Progress:   progress,
	})
}
