/**
 * Document pipeline: split into pages, run each page through the page
 * pipeline on a bounded worker pool, then assemble the results in page
 * index order once every page has reached a terminal status.
 *
 * A failed page contributes its original pixels to the assembled output;
 * the document finishes PartiallyFailed instead of Failed as long as at
 * least one page completed.
 */

package pipeline

import (
	"context"
	"image"
	"log"
	"sync"
	"time"

	pkgerrors "github.com/mangaden/translate-worker/internal/errors"
)

// PageSplitter turns raw document bytes into one image per page, in page
// order. Implementations handle the supported input formats (PDF, PNG, JPEG).
type PageSplitter interface {
	Split(ctx context.Context, data []byte, mimeType string) ([]image.Image, error)
}

// PageHook observes each page as it reaches a terminal status. progress is
// the document completion percentage after that page. Invocations are
// serialized and arrive in completion order.
type PageHook func(page *Page, progress int)

// DocumentResult is the outcome of a full document run. Outputs holds one
// image per page in index order regardless of the order pages finished in.
type DocumentResult struct {
	Status   DocumentStatus
	Pages    []*Page
	Outputs  []image.Image
	Done     int
	Failed   int
	Duration time.Duration
}

// DocumentPipeline fans a document out to page workers and folds the results
// back together. Safe for concurrent use across documents.
type DocumentPipeline struct {
	splitter           PageSplitter
	pages              *PagePipeline
	maxPageConcurrency int
}

// NewDocumentPipeline wires a document pipeline. maxPageConcurrency bounds how
// many pages are in flight at once; values below 1 fall back to 1.
func NewDocumentPipeline(splitter PageSplitter, pages *PagePipeline, maxPageConcurrency int) *DocumentPipeline {
	if maxPageConcurrency < 1 {
		maxPageConcurrency = 1
	}
	return &DocumentPipeline{
		splitter:           splitter,
		pages:              pages,
		maxPageConcurrency: maxPageConcurrency,
	}
}

// Run processes one document end to end. It returns an error only for
// validation and split failures; page-level failures are folded into the
// result status instead. onPage may be nil when no per-page reporting is
// wanted.
func (d *DocumentPipeline) Run(ctx context.Context, docID string, data []byte, mimeType, sourceLang, targetLang string, slog *StatusLog, onPage PageHook) (*DocumentResult, error) {
	start := time.Now()

	images, err := d.splitter.Split(ctx, data, mimeType)
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, pkgerrors.NewEmptyDocumentError()
	}
	slog.Append("document split into %d pages", len(images))

	pages := make([]*Page, len(images))
	for i, img := range images {
		pages[i] = &Page{Index: i, Source: img, Status: PagePending}
	}

	// notify serializes the page hook and keeps the reported progress
	// monotonic regardless of completion order.
	var mu sync.Mutex
	terminal := 0
	notify := func(page *Page) {
		mu.Lock()
		defer mu.Unlock()
		terminal++
		if onPage != nil {
			onPage(page, Progress(terminal, len(pages)))
		}
	}

	// Bounded worker pool over pages. Once ctx is cancelled no new page is
	// started; pages already running stop at their next boundary.
	sem := make(chan struct{}, d.maxPageConcurrency)
	var wg sync.WaitGroup

	for _, page := range pages {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(page *Page) {
			defer wg.Done()
			defer func() { <-sem }()
			d.pages.Run(ctx, docID, page, sourceLang, targetLang, slog)
			notify(page)
		}(page)
	}
	wg.Wait()

	// Pages never scheduled because of cancellation are marked failed here so
	// every page is terminal before assembly.
	for _, page := range pages {
		if !page.Status.Terminal() {
			page.Status = PageFailed
			page.Err = pkgerrors.NewCancelledError("page")
			slog.AppendPage(page.Index, "page %d cancelled before start", page.Index)
			notify(page)
		}
	}

	result := assemble(pages, time.Since(start))
	slog.Append("document %s: %d pages done, %d failed", result.Status, result.Done, result.Failed)
	log.Printf("[doc %s] finished %s in %v (%d done, %d failed)", docID, result.Status, result.Duration, result.Done, result.Failed)
	return result, nil
}

// assemble folds terminal pages into the final result. Output order follows
// page index, never completion order.
func assemble(pages []*Page, elapsed time.Duration) *DocumentResult {
	result := &DocumentResult{Pages: pages, Duration: elapsed}
	result.Outputs = make([]image.Image, len(pages))
	for i, page := range pages {
		result.Outputs[i] = page.Output()
		if page.Status == PageDone {
			result.Done++
		} else {
			result.Failed++
		}
	}
	switch {
	case result.Failed == 0:
		result.Status = DocDone
	case result.Done == 0:
		result.Status = DocFailed
	default:
		result.Status = DocPartiallyFailed
	}
	return result
}

// Progress converts a terminal page count into the document completion
// percentage. Run calls it after every page finishes to derive the value
// handed to the page hook; stores keep it monotonic by taking the maximum
// of the stored and reported values.
func Progress(terminal, total int) int {
	if total <= 0 {
		return 0
	}
	return terminal * 100 / total
}
