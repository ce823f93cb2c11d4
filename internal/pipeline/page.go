/**
 * Page pipeline: Pending -> Detecting -> Extracting -> Translating ->
 * Rendering -> Done, with Failed reachable from any step.
 *
 * A detection failure is page-fatal. OCR and translation failures are
 * region-local: the block is skipped and the page continues. A render
 * failure for one block keeps that block's original pixels.
 */

package pipeline

import (
	"context"
	"errors"
	"image"
	"image/draw"
	"log"
	"sync"
	"unicode/utf8"

	pkgerrors "github.com/mangaden/translate-worker/internal/errors"
)

// TextExtractor recognizes the text in one region of a page image.
type TextExtractor interface {
	Extract(ctx context.Context, img image.Image, region Region, sourceLang, targetLang string) (*TextBlock, error)
}

// PagePipeline runs one page through detection, extraction, translation and
// rendering. All collaborators are injected; the pipeline itself is
// stateless and safe for concurrent use across pages.
type PagePipeline struct {
	detector   RegionDetector
	extractor  TextExtractor
	translator Translator
	renderer   Renderer

	// regionConcurrency bounds concurrent OCR/translation calls within a
	// page. Rendering always serializes on the page buffer.
	regionConcurrency int
}

// NewPagePipeline wires a page pipeline from its four collaborators.
func NewPagePipeline(detector RegionDetector, extractor TextExtractor, translator Translator, renderer Renderer, regionConcurrency int) *PagePipeline {
	if regionConcurrency < 1 {
		regionConcurrency = 4
	}
	return &PagePipeline{
		detector:          detector,
		extractor:         extractor,
		translator:        translator,
		renderer:          renderer,
		regionConcurrency: regionConcurrency,
	}
}

// Run executes the state machine for one page, mutating only that page.
// Status log entries are appended at every transition and every
// skip/retry/degradation so callers can explain partial results.
func (p *PagePipeline) Run(ctx context.Context, docID string, page *Page, sourceLang, targetLang string, slog *StatusLog) {
	transition := func(status PageStatus) {
		page.Status = status
		slog.AppendPage(page.Index, "page %d: %s", page.Index, status)
	}

	fail := func(err error) {
		page.Status = PageFailed
		page.Err = err
		slog.AppendPage(page.Index, "page %d failed: %v", page.Index, err)
		log.Printf("[doc %s] page %d failed: %v", docID, page.Index, err)
	}

	if err := ctx.Err(); err != nil {
		fail(pkgerrors.NewCancelledError("page"))
		return
	}

	// Step 1: region detection. Failure here is page-fatal.
	transition(PageDetecting)
	regions, err := p.detector.Detect(page.Source)
	if err != nil {
		fail(pkgerrors.NewDetectionError("region detection failed", err))
		return
	}
	slog.AppendPage(page.Index, "page %d: detected %d text regions", page.Index, len(regions))

	if len(regions) == 0 {
		// No text to translate is a valid result: the page passes through.
		page.Processed = cloneRGBA(page.Source)
		transition(PageDone)
		return
	}

	// Step 2: OCR each region. Low confidence or decode failures skip the
	// region, never the page.
	transition(PageExtracting)
	blocks, cancelled := p.extractRegions(ctx, page, regions, sourceLang, targetLang, slog)
	if cancelled {
		fail(pkgerrors.NewCancelledError("page"))
		return
	}

	// Step 3: translate extracted blocks. A block whose translation fails
	// keeps its original pixels.
	transition(PageTranslating)
	if cancelled := p.translateBlocks(ctx, page.Index, blocks, slog); cancelled {
		fail(pkgerrors.NewCancelledError("page"))
		return
	}
	page.Blocks = blocks

	// Step 4: render. One writer at a time on the page buffer; blocks render
	// in region index order so overlap resolution is deterministic.
	transition(PageRendering)
	buf := cloneRGBA(page.Source)
	for i := range blocks {
		if err := p.renderer.Render(buf, &blocks[i]); err != nil {
			slog.AppendPage(page.Index, "page %d: render skipped for region %s: %v", page.Index, blocks[i].Region, err)
			log.Printf("[doc %s] page %d render error on region %s: %v", docID, page.Index, blocks[i].Region, err)
		}
	}
	page.Processed = buf
	transition(PageDone)
}

// extractRegions runs OCR over the regions with bounded concurrency and
// returns the successful blocks ordered by region index.
func (p *PagePipeline) extractRegions(ctx context.Context, page *Page, regions []Region, sourceLang, targetLang string, slog *StatusLog) ([]TextBlock, bool) {
	results := make([]*TextBlock, len(regions))
	sem := make(chan struct{}, p.regionConcurrency)
	var wg sync.WaitGroup

	for i, region := range regions {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, region Region) {
			defer wg.Done()
			defer func() { <-sem }()
			if ctx.Err() != nil {
				return
			}
			block, err := p.extractor.Extract(ctx, page.Source, region, sourceLang, targetLang)
			if err != nil {
				slog.AppendPage(page.Index, "page %d: region %s skipped: %v", page.Index, region, err)
				return
			}
			results[i] = block
		}(i, region)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return nil, true
	}

	blocks := make([]TextBlock, 0, len(results))
	for _, b := range results {
		if b != nil {
			blocks = append(blocks, *b)
		}
	}
	slog.AppendPage(page.Index, "page %d: extracted text from %d of %d regions", page.Index, len(blocks), len(regions))
	return blocks, false
}

// translateBlocks fills TranslatedText on each block, retrying once with a
// truncated input on timeout before skipping the block.
func (p *PagePipeline) translateBlocks(ctx context.Context, pageIndex int, blocks []TextBlock, slog *StatusLog) bool {
	sem := make(chan struct{}, p.regionConcurrency)
	var wg sync.WaitGroup

	for i := range blocks {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(block *TextBlock) {
			defer wg.Done()
			defer func() { <-sem }()
			if ctx.Err() != nil {
				return
			}
			out, err := p.translateWithRetry(ctx, block, pageIndex, slog)
			if err != nil {
				slog.AppendPage(pageIndex, "page %d: translation skipped for region %s: %v", pageIndex, block.Region, err)
				return
			}
			block.TranslatedText = &out
		}(&blocks[i])
	}
	wg.Wait()
	return ctx.Err() != nil
}

// translateWithRetry applies the timeout policy: on a translation timeout,
// retry once with the input truncated to half before surfacing the failure.
func (p *PagePipeline) translateWithRetry(ctx context.Context, block *TextBlock, pageIndex int, slog *StatusLog) (string, error) {
	out, err := p.translator.Translate(ctx, block.SourceText, block.SourceLang, block.TargetLang)
	if err == nil {
		return out, nil
	}

	var te *pkgerrors.TranslationError
	if !errors.As(err, &te) || te.Code != pkgerrors.CodeTranslationTimeout {
		return "", err
	}

	truncated := truncateHalf(block.SourceText)
	if truncated == block.SourceText {
		return "", err
	}
	slog.AppendPage(pageIndex, "page %d: translation timeout for region %s, retrying truncated input", pageIndex, block.Region)
	return p.translator.Translate(ctx, truncated, block.SourceLang, block.TargetLang)
}

// truncateHalf cuts the text to its first half, on a rune boundary.
func truncateHalf(text string) string {
	n := utf8.RuneCountInString(text)
	if n < 2 {
		return text
	}
	runes := []rune(text)
	return string(runes[:n/2])
}

// cloneRGBA copies any image into a fresh RGBA buffer.
func cloneRGBA(src image.Image) *image.RGBA {
	bounds := src.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, src, bounds.Min, draw.Src)
	return dst
}
