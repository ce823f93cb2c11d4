/**
 * In-memory store tests. The same behaviors are expected of the Postgres
 * implementation.
 */

package storage

import (
	"context"
	"errors"
	"testing"
)

func newDoc(id string) *DocumentRecord {
	return &DocumentRecord{
		ID:         id,
		Filename:   "page.png",
		MimeType:   "image/png",
		FileSize:   1024,
		SourceLang: "Japanese",
		TargetLang: "English",
		Status:     "pending",
	}
}

func TestMemoryStoreDocumentLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.CreateDocument(ctx, newDoc("doc-1")); err != nil {
		t.Fatalf("CreateDocument failed: %v", err)
	}

	doc, err := store.GetDocument(ctx, "doc-1")
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if doc.Status != "pending" || doc.SourceLang != "Japanese" {
		t.Errorf("unexpected record %+v", doc)
	}

	if err := store.UpdateDocument(ctx, &DocumentUpdate{ID: "doc-1", Status: "processing", Progress: 40, PageCount: 3}); err != nil {
		t.Fatalf("UpdateDocument failed: %v", err)
	}
	doc, _ = store.GetDocument(ctx, "doc-1")
	if doc.Status != "processing" || doc.Progress != 40 || doc.PageCount != 3 {
		t.Errorf("update not applied: %+v", doc)
	}

	// Progress never regresses.
	if err := store.UpdateDocument(ctx, &DocumentUpdate{ID: "doc-1", Status: "processing", Progress: 10}); err != nil {
		t.Fatalf("UpdateDocument failed: %v", err)
	}
	doc, _ = store.GetDocument(ctx, "doc-1")
	if doc.Progress != 40 {
		t.Errorf("progress regressed to %d", doc.Progress)
	}

	// A progress-only update leaves the stored status untouched.
	if err := store.UpdateDocument(ctx, &DocumentUpdate{ID: "doc-1", Progress: 60}); err != nil {
		t.Fatalf("UpdateDocument failed: %v", err)
	}
	doc, _ = store.GetDocument(ctx, "doc-1")
	if doc.Status != "processing" || doc.Progress != 60 {
		t.Errorf("partial update clobbered state: %+v", doc)
	}

	if _, err := store.GetDocument(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.UpdateDocument(ctx, &DocumentUpdate{ID: "missing", Status: "done"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStorePages(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, idx := range []int{2, 0, 1} {
		if err := store.UpsertPage(ctx, &PageRecord{DocumentID: "doc-1", PageIndex: idx, Status: "pending"}); err != nil {
			t.Fatalf("UpsertPage failed: %v", err)
		}
	}

	pages, err := store.ListPages(ctx, "doc-1")
	if err != nil {
		t.Fatalf("ListPages failed: %v", err)
	}
	if len(pages) != 3 {
		t.Fatalf("expected 3 pages, got %d", len(pages))
	}
	for i, p := range pages {
		if p.PageIndex != i {
			t.Errorf("pages not listed in index order: %v", pages)
		}
	}

	// Re-upsert keeps the larger counts and the earlier error.
	if err := store.UpsertPage(ctx, &PageRecord{DocumentID: "doc-1", PageIndex: 0, Status: "failed", RegionCount: 5, TranslatedCount: 4, ErrorCode: "DETECTION_FAILED"}); err != nil {
		t.Fatalf("UpsertPage failed: %v", err)
	}
	if err := store.UpsertPage(ctx, &PageRecord{DocumentID: "doc-1", PageIndex: 0, Status: "failed", RegionCount: 2}); err != nil {
		t.Fatalf("UpsertPage failed: %v", err)
	}
	pages, _ = store.ListPages(ctx, "doc-1")
	if pages[0].RegionCount != 5 || pages[0].TranslatedCount != 4 {
		t.Errorf("counts must be monotonic: %+v", pages[0])
	}
	if pages[0].ErrorCode != "DETECTION_FAILED" {
		t.Errorf("error code lost: %+v", pages[0])
	}
}

func TestMemoryStoreLogOrder(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	idx := 1
	msgs := []string{"submitted", "page 1: detecting", "done"}
	for i, msg := range msgs {
		rec := &LogRecord{DocumentID: "doc-1", Message: msg}
		if i == 1 {
			rec.PageIndex = &idx
		}
		if err := store.AppendLog(ctx, rec); err != nil {
			t.Fatalf("AppendLog failed: %v", err)
		}
	}

	entries, err := store.ListLog(ctx, "doc-1")
	if err != nil {
		t.Fatalf("ListLog failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.Message != msgs[i] {
			t.Errorf("log out of order at %d: %q", i, e.Message)
		}
	}
	if entries[1].PageIndex == nil || *entries[1].PageIndex != 1 {
		t.Error("page index lost on log entry")
	}
}

func TestMemoryStoreBlobs(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.PutSource(ctx, "missing", []byte("x")); !errors.Is(err, ErrNotFound) {
		t.Errorf("PutSource for unknown doc: expected ErrNotFound, got %v", err)
	}

	if err := store.CreateDocument(ctx, newDoc("doc-1")); err != nil {
		t.Fatalf("CreateDocument failed: %v", err)
	}
	if err := store.PutSource(ctx, "doc-1", []byte("source-bytes")); err != nil {
		t.Fatalf("PutSource failed: %v", err)
	}
	src, err := store.GetSource(ctx, "doc-1")
	if err != nil || string(src) != "source-bytes" {
		t.Fatalf("GetSource = %q, %v", src, err)
	}

	if _, _, err := store.GetResult(ctx, "doc-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("result before put: expected ErrNotFound, got %v", err)
	}
	if err := store.PutResult(ctx, "doc-1", []byte("result-bytes"), "application/pdf"); err != nil {
		t.Fatalf("PutResult failed: %v", err)
	}
	res, mime, err := store.GetResult(ctx, "doc-1")
	if err != nil || string(res) != "result-bytes" || mime != "application/pdf" {
		t.Fatalf("GetResult = %q, %q, %v", res, mime, err)
	}
}
