/**
 * Document pipeline tests: page fan-out, index-order assembly and failure
 * tolerance.
 */

package pipeline

import (
	"context"
	"image"
	"sync"
	"testing"
	"time"

	pkgerrors "github.com/mangaden/translate-worker/internal/errors"
)

// fakeSplitter returns pre-built page images. Pages are sized (100+i)x100 so
// tests can tell them apart in the assembled output.
type fakeSplitter struct {
	count int
	err   error
}

func (f *fakeSplitter) Split(context.Context, []byte, string) ([]image.Image, error) {
	if f.err != nil {
		return nil, f.err
	}
	images := make([]image.Image, f.count)
	for i := range images {
		images[i] = image.NewRGBA(image.Rect(0, 0, 100+i, 100))
	}
	return images, nil
}

// indexDetector fails on scripted page widths and optionally delays, to force
// completion order to differ from index order.
type indexDetector struct {
	failWidth  int
	delayWidth int
	mu         sync.Mutex
	order      []int
}

func (d *indexDetector) Detect(img image.Image) ([]Region, error) {
	width := img.Bounds().Dx()
	if width == d.delayWidth {
		time.Sleep(50 * time.Millisecond)
	}
	d.mu.Lock()
	d.order = append(d.order, width-100)
	d.mu.Unlock()
	if width == d.failWidth {
		return nil, pkgerrors.NewDetectionError("scripted failure", nil)
	}
	return nil, nil
}

func newTestDocPipeline(splitter PageSplitter, detector RegionDetector, concurrency int) *DocumentPipeline {
	pp := NewPagePipeline(detector, &fakeExtractor{}, &fakeTranslator{}, &fakeRenderer{}, 2)
	return NewDocumentPipeline(splitter, pp, concurrency)
}

func TestDocumentRunAllPagesSucceed(t *testing.T) {
	dp := newTestDocPipeline(&fakeSplitter{count: 4}, &fakeDetector{}, 2)

	result, err := dp.Run(context.Background(), "doc-1", []byte("data"), "application/pdf", "Japanese", "English", NewStatusLog(nil), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Status != DocDone {
		t.Errorf("expected %s, got %s", DocDone, result.Status)
	}
	if result.Done != 4 || result.Failed != 0 {
		t.Errorf("expected 4 done / 0 failed, got %d/%d", result.Done, result.Failed)
	}
	if len(result.Outputs) != 4 {
		t.Fatalf("expected 4 outputs, got %d", len(result.Outputs))
	}
}

func TestDocumentRunAssemblyFollowsIndexOrder(t *testing.T) {
	// Page 0 is the slowest; later pages finish first.
	detector := &indexDetector{failWidth: -1, delayWidth: 100}
	dp := newTestDocPipeline(&fakeSplitter{count: 3}, detector, 3)

	result, err := dp.Run(context.Background(), "doc-1", []byte("data"), "application/pdf", "Japanese", "English", NewStatusLog(nil), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Outputs are keyed by width: page i is (100+i) wide.
	for i, out := range result.Outputs {
		if got := out.Bounds().Dx(); got != 100+i {
			t.Errorf("output %d has width %d, want %d: assembly does not follow index order", i, got, 100+i)
		}
	}
}

func TestDocumentRunOnePageFailureIsPartial(t *testing.T) {
	// Page 1 (width 101) fails detection.
	detector := &indexDetector{failWidth: 101}
	dp := newTestDocPipeline(&fakeSplitter{count: 3}, detector, 2)

	result, err := dp.Run(context.Background(), "doc-1", []byte("data"), "application/pdf", "Japanese", "English", NewStatusLog(nil), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Status != DocPartiallyFailed {
		t.Errorf("expected %s, got %s", DocPartiallyFailed, result.Status)
	}
	if result.Done != 2 || result.Failed != 1 {
		t.Errorf("expected 2 done / 1 failed, got %d/%d", result.Done, result.Failed)
	}

	// The failed page still contributes an image, its original pixels.
	failed := result.Pages[1]
	if failed.Status != PageFailed {
		t.Fatalf("expected page 1 failed, got %s", failed.Status)
	}
	if result.Outputs[1] != failed.Source {
		t.Error("failed page must contribute its original image")
	}
}

func TestDocumentRunAllPagesFailed(t *testing.T) {
	dp := newTestDocPipeline(&fakeSplitter{count: 2}, &fakeDetector{err: pkgerrors.NewDetectionError("down", nil)}, 2)

	result, err := dp.Run(context.Background(), "doc-1", []byte("data"), "application/pdf", "Japanese", "English", NewStatusLog(nil), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Status != DocFailed {
		t.Errorf("expected %s, got %s", DocFailed, result.Status)
	}
}

func TestDocumentRunZeroPages(t *testing.T) {
	dp := newTestDocPipeline(&fakeSplitter{count: 0}, &fakeDetector{}, 2)

	_, err := dp.Run(context.Background(), "doc-1", []byte("data"), "application/pdf", "Japanese", "English", NewStatusLog(nil), nil)
	if err == nil {
		t.Fatal("expected empty document error")
	}
	if code := pkgerrors.CodeOf(err); code != pkgerrors.CodeEmptyDocument {
		t.Errorf("expected %s, got %s (%v)", pkgerrors.CodeEmptyDocument, code, err)
	}
}

func TestDocumentRunCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dp := newTestDocPipeline(&fakeSplitter{count: 3}, &fakeDetector{}, 1)
	result, err := dp.Run(ctx, "doc-1", []byte("data"), "application/pdf", "Japanese", "English", NewStatusLog(nil), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Status != DocFailed {
		t.Errorf("expected %s after cancellation, got %s", DocFailed, result.Status)
	}
	for i, page := range result.Pages {
		if !page.Status.Terminal() {
			t.Errorf("page %d left non-terminal: %s", i, page.Status)
		}
		if page.Status == PageFailed {
			if code := pkgerrors.CodeOf(page.Err); code != pkgerrors.CodeCancelled {
				t.Errorf("page %d expected %s, got %s", i, pkgerrors.CodeCancelled, code)
			}
			if result.Outputs[i] != page.Source {
				t.Errorf("cancelled page %d must contribute its original image", i)
			}
		}
	}
}

func TestDocumentRunPageHookReportsProgress(t *testing.T) {
	dp := newTestDocPipeline(&fakeSplitter{count: 4}, &fakeDetector{}, 2)

	type report struct {
		index    int
		progress int
	}
	var mu sync.Mutex
	var reports []report
	hook := func(page *Page, progress int) {
		if !page.Status.Terminal() {
			t.Errorf("hook called with non-terminal page %d (%s)", page.Index, page.Status)
		}
		mu.Lock()
		reports = append(reports, report{page.Index, progress})
		mu.Unlock()
	}

	_, err := dp.Run(context.Background(), "doc-1", []byte("data"), "application/pdf", "Japanese", "English", NewStatusLog(nil), hook)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(reports) != 4 {
		t.Fatalf("expected one hook call per page, got %d", len(reports))
	}
	// Progress climbs with each finished page regardless of completion order.
	for i, r := range reports {
		if want := (i + 1) * 100 / 4; r.progress != want {
			t.Errorf("report %d: progress = %d, want %d", i, r.progress, want)
		}
	}
	if last := reports[len(reports)-1].progress; last != 100 {
		t.Errorf("final reported progress = %d, want 100", last)
	}
}

func TestDocumentRunPageHookCoversCancelledPages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var mu sync.Mutex
	calls := 0
	last := 0
	hook := func(_ *Page, progress int) {
		mu.Lock()
		calls++
		last = progress
		mu.Unlock()
	}

	dp := newTestDocPipeline(&fakeSplitter{count: 3}, &fakeDetector{}, 1)
	if _, err := dp.Run(ctx, "doc-1", []byte("data"), "application/pdf", "Japanese", "English", NewStatusLog(nil), hook); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected hook for every page including unscheduled ones, got %d calls", calls)
	}
	if last != 100 {
		t.Errorf("final reported progress = %d, want 100", last)
	}
}

func TestProgress(t *testing.T) {
	cases := []struct {
		terminal, total, want int
	}{
		{0, 4, 0},
		{1, 4, 25},
		{3, 4, 75},
		{4, 4, 100},
		{0, 0, 0},
	}
	for _, tc := range cases {
		if got := Progress(tc.terminal, tc.total); got != tc.want {
			t.Errorf("Progress(%d, %d) = %d, want %d", tc.terminal, tc.total, got, tc.want)
		}
	}
}
