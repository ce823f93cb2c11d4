/**
 * Service tests: submission validation, end to end processing against the
 * in-memory store, and result gating.
 */

package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"
	"sync"
	"testing"

	pkgerrors "github.com/mangaden/translate-worker/internal/errors"
	"github.com/mangaden/translate-worker/internal/pdfutil"
	"github.com/mangaden/translate-worker/internal/pipeline"
	"github.com/mangaden/translate-worker/internal/storage"
)

type stubDetector struct {
	regions []pipeline.Region
}

func (s *stubDetector) Detect(image.Image) ([]pipeline.Region, error) {
	return s.regions, nil
}

type stubExtractor struct {
	text string
}

func (s *stubExtractor) Extract(_ context.Context, _ image.Image, region pipeline.Region, sourceLang, targetLang string) (*pipeline.TextBlock, error) {
	return &pipeline.TextBlock{
		Region:     region,
		SourceText: s.text,
		Confidence: 0.95,
		SourceLang: sourceLang,
		TargetLang: targetLang,
	}, nil
}

type stubTranslator struct {
	out string
}

func (s *stubTranslator) Translate(_ context.Context, text, _, _ string) (string, error) {
	if s.out != "" {
		return s.out, nil
	}
	return text, nil
}

type stubRenderer struct{}

func (stubRenderer) Render(*image.RGBA, *pipeline.TextBlock) error { return nil }

type stubEnqueuer struct {
	ids []string
}

func (s *stubEnqueuer) EnqueueDocument(_ context.Context, documentID, _ string) error {
	s.ids = append(s.ids, documentID)
	return nil
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 200, 200))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func newTestService(t *testing.T, store storage.Store, enqueuer *stubEnqueuer) *Service {
	t.Helper()
	pagePipeline := pipeline.NewPagePipeline(
		&stubDetector{regions: []pipeline.Region{{X: 20, Y: 20, Width: 100, Height: 50}}},
		&stubExtractor{text: "こんにちは"},
		&stubTranslator{out: "Hello"},
		stubRenderer{},
		2,
	)
	docPipeline := pipeline.NewDocumentPipeline(pdfutil.NewSplitter(t.TempDir()), pagePipeline, 2)

	svc, err := New(Config{
		Store:       store,
		Enqueuer:    enqueuer,
		Documents:   docPipeline,
		Assembler:   pdfutil.NewAssembler(t.TempDir()),
		MaxFileSize: 1 << 20,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return svc
}

func TestSubmitDocumentValidation(t *testing.T) {
	svc := newTestService(t, storage.NewMemoryStore(), &stubEnqueuer{})
	ctx := context.Background()

	cases := []struct {
		name string
		req  *SubmitRequest
		code pkgerrors.ErrorCode
	}{
		{
			"empty upload",
			&SubmitRequest{Filename: "empty.png", SourceLang: "Japanese", TargetLang: "English"},
			pkgerrors.CodeEmptyDocument,
		},
		{
			"unsupported format",
			&SubmitRequest{Filename: "notes.txt", Data: []byte("just some plain text content"), SourceLang: "Japanese", TargetLang: "English"},
			pkgerrors.CodeUnsupportedFormat,
		},
		{
			"unsupported source language",
			&SubmitRequest{Filename: "page.png", Data: pngBytes(t), SourceLang: "Klingon", TargetLang: "English"},
			pkgerrors.CodeUnsupportedLanguagePair,
		},
		{
			"unsupported target language",
			&SubmitRequest{Filename: "page.png", Data: pngBytes(t), SourceLang: "Japanese", TargetLang: "Klingon"},
			pkgerrors.CodeUnsupportedLanguagePair,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.SubmitDocument(ctx, tc.req)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if code := pkgerrors.CodeOf(err); code != tc.code {
				t.Errorf("expected %s, got %s (%v)", tc.code, code, err)
			}
			// Submission rejections are always validation-class errors.
			var ve *pkgerrors.ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("expected a validation error, got %T (%v)", err, err)
			}
		})
	}
}

func TestSubmitDocumentFileTooLarge(t *testing.T) {
	store := storage.NewMemoryStore()
	pagePipeline := pipeline.NewPagePipeline(&stubDetector{}, &stubExtractor{}, &stubTranslator{}, stubRenderer{}, 2)
	svc, err := New(Config{
		Store:       store,
		Documents:   pipeline.NewDocumentPipeline(pdfutil.NewSplitter(t.TempDir()), pagePipeline, 2),
		Assembler:   pdfutil.NewAssembler(t.TempDir()),
		MaxFileSize: 64,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	_, err = svc.SubmitDocument(context.Background(), &SubmitRequest{
		Filename:   "big.png",
		Data:       pngBytes(t),
		SourceLang: "Japanese",
		TargetLang: "English",
	})
	if code := pkgerrors.CodeOf(err); code != pkgerrors.CodeFileTooLarge {
		t.Errorf("expected %s, got %s (%v)", pkgerrors.CodeFileTooLarge, code, err)
	}
}

func TestSubmitDocumentSameLanguageWarnsAndProceeds(t *testing.T) {
	store := storage.NewMemoryStore()
	enqueuer := &stubEnqueuer{}
	svc := newTestService(t, store, enqueuer)
	ctx := context.Background()

	docID, err := svc.SubmitDocument(ctx, &SubmitRequest{
		Filename:   "page.png",
		Data:       pngBytes(t),
		SourceLang: "English",
		TargetLang: "English",
	})
	if err != nil {
		t.Fatalf("same-language submission must be accepted: %v", err)
	}
	if len(enqueuer.ids) != 1 || enqueuer.ids[0] != docID {
		t.Errorf("expected one enqueued job for %s, got %v", docID, enqueuer.ids)
	}

	entries, err := store.ListLog(ctx, docID)
	if err != nil {
		t.Fatalf("ListLog failed: %v", err)
	}
	warned := false
	for _, e := range entries {
		if strings.Contains(e.Message, "warning") {
			warned = true
		}
	}
	if !warned {
		t.Error("expected a same-language warning in the status log")
	}
}

func TestProcessDocumentEndToEnd(t *testing.T) {
	store := storage.NewMemoryStore()
	svc := newTestService(t, store, &stubEnqueuer{})
	ctx := context.Background()

	docID, err := svc.SubmitDocument(ctx, &SubmitRequest{
		Filename:   "page.png",
		Data:       pngBytes(t),
		SourceLang: "Japanese",
		TargetLang: "English",
	})
	if err != nil {
		t.Fatalf("SubmitDocument failed: %v", err)
	}

	// Before processing the result is gated.
	if _, _, err := svc.GetResult(ctx, docID); err == nil {
		t.Fatal("expected not-ready error before processing")
	} else if code := pkgerrors.CodeOf(err); code != pkgerrors.CodeNotReady {
		t.Errorf("expected %s, got %s (%v)", pkgerrors.CodeNotReady, code, err)
	}

	if err := svc.ProcessDocument(ctx, docID); err != nil {
		t.Fatalf("ProcessDocument failed: %v", err)
	}

	status, err := svc.GetStatus(ctx, docID)
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if status.Status != string(pipeline.DocDone) {
		t.Errorf("expected %s, got %s", pipeline.DocDone, status.Status)
	}
	if status.Progress != 100 {
		t.Errorf("expected progress 100, got %d", status.Progress)
	}
	if status.PageCount != 1 || len(status.Pages) != 1 {
		t.Fatalf("expected 1 page, got count=%d pages=%v", status.PageCount, status.Pages)
	}
	page := status.Pages[0]
	if page.Status != string(pipeline.PageDone) || page.RegionCount != 1 || page.TranslatedCount != 1 {
		t.Errorf("unexpected page state %+v", page)
	}
	if len(status.Log) == 0 {
		t.Error("status log is empty")
	}

	data, mime, err := svc.GetResult(ctx, docID)
	if err != nil {
		t.Fatalf("GetResult failed: %v", err)
	}
	if mime != pdfutil.MimePNG {
		t.Errorf("expected %s result, got %s", pdfutil.MimePNG, mime)
	}
	if _, err := png.Decode(bytes.NewReader(data)); err != nil {
		t.Errorf("result does not decode as PNG: %v", err)
	}

	// Reprocessing a terminal document is a no-op.
	if err := svc.ProcessDocument(ctx, docID); err != nil {
		t.Fatalf("reprocessing terminal document must be a no-op: %v", err)
	}
}

// recordingStore captures document updates so tests can observe writes made
// while a run is still in flight.
type recordingStore struct {
	storage.Store
	mu      sync.Mutex
	updates []storage.DocumentUpdate
}

func (r *recordingStore) UpdateDocument(ctx context.Context, update *storage.DocumentUpdate) error {
	r.mu.Lock()
	r.updates = append(r.updates, *update)
	r.mu.Unlock()
	return r.Store.UpdateDocument(ctx, update)
}

func TestProcessDocumentPersistsProgressPerPage(t *testing.T) {
	store := &recordingStore{Store: storage.NewMemoryStore()}
	svc := newTestService(t, store, &stubEnqueuer{})
	ctx := context.Background()

	docID, err := svc.SubmitDocument(ctx, &SubmitRequest{
		Filename:   "page.png",
		Data:       pngBytes(t),
		SourceLang: "Japanese",
		TargetLang: "English",
	})
	if err != nil {
		t.Fatalf("SubmitDocument failed: %v", err)
	}
	if err := svc.ProcessDocument(ctx, docID); err != nil {
		t.Fatalf("ProcessDocument failed: %v", err)
	}

	// A progress-only update (status left blank) lands when the page
	// finishes, before the terminal status write.
	pageProgressAt, terminalAt := -1, -1
	for i, u := range store.updates {
		if u.Status == "" && u.Progress == 100 && pageProgressAt == -1 {
			pageProgressAt = i
		}
		if pipeline.DocumentStatus(u.Status).Terminal() && terminalAt == -1 {
			terminalAt = i
		}
	}
	if pageProgressAt == -1 {
		t.Fatal("no per-page progress update was persisted")
	}
	if terminalAt == -1 {
		t.Fatal("no terminal status update was persisted")
	}
	if pageProgressAt > terminalAt {
		t.Errorf("page progress written at %d, after terminal update at %d", pageProgressAt, terminalAt)
	}

	// The page record was written by the same hook, so its state is queryable.
	pages, err := store.ListPages(ctx, docID)
	if err != nil {
		t.Fatalf("ListPages failed: %v", err)
	}
	if len(pages) != 1 || pages[0].Status != string(pipeline.PageDone) {
		t.Fatalf("unexpected page records %+v", pages)
	}
}

func TestProcessDocumentUndecodableInputIsTerminalFailure(t *testing.T) {
	store := storage.NewMemoryStore()
	svc := newTestService(t, store, &stubEnqueuer{})
	ctx := context.Background()

	// A PNG signature with a garbage body passes sniffing but fails decode.
	data := append([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, []byte("garbage body")...)
	docID, err := svc.SubmitDocument(ctx, &SubmitRequest{
		Filename:   "corrupt.png",
		Data:       data,
		SourceLang: "Japanese",
		TargetLang: "English",
	})
	if err != nil {
		t.Fatalf("SubmitDocument failed: %v", err)
	}

	// Validation failures are terminal, not retryable: no error returned.
	if err := svc.ProcessDocument(ctx, docID); err != nil {
		t.Fatalf("validation failure must be absorbed, got %v", err)
	}

	doc, err := store.GetDocument(ctx, docID)
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if doc.Status != string(pipeline.DocFailed) {
		t.Errorf("expected %s, got %s", pipeline.DocFailed, doc.Status)
	}
	if doc.ErrorCode != string(pkgerrors.CodeUnsupportedFormat) {
		t.Errorf("expected error code %s, got %s", pkgerrors.CodeUnsupportedFormat, doc.ErrorCode)
	}
}

func TestGetStatusUnknownDocument(t *testing.T) {
	svc := newTestService(t, storage.NewMemoryStore(), &stubEnqueuer{})
	if _, err := svc.GetStatus(context.Background(), "no-such-doc"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
