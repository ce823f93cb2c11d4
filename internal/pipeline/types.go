/**
 * Shared data structures for the manga translation pipeline.
 *
 * Regions are produced by detection, consumed by OCR and rendering.
 * TextBlocks are created by OCR and filled in once by translation.
 */

package pipeline

import (
	"fmt"
	"image"
	"sync"
	"time"
)

// Region is a rectangular area of a page image containing translatable text,
// in page-pixel coordinates.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rect converts the region to an image.Rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// Valid reports whether the region has positive dimensions and lies within
// the given page bounds.
func (r Region) Valid(bounds image.Rectangle) bool {
	return r.Width > 0 && r.Height > 0 && r.Rect().In(bounds)
}

func (r Region) String() string {
	return fmt.Sprintf("(%d,%d %dx%d)", r.X, r.Y, r.Width, r.Height)
}

// TextBlock is the OCR and translation result for one region. TranslatedText
// stays nil until translation completes; a block whose translation was
// skipped keeps nil and its original pixels.
type TextBlock struct {
	Region         Region  `json:"region"`
	SourceText     string  `json:"sourceText"`
	Confidence     float64 `json:"confidence"`
	TranslatedText *string `json:"translatedText,omitempty"`
	SourceLang     string  `json:"sourceLang"`
	TargetLang     string  `json:"targetLang"`
}

// PageStatus tracks a page through the pipeline state machine.
type PageStatus string

const (
	PagePending     PageStatus = "pending"
	PageDetecting   PageStatus = "detecting"
	PageExtracting  PageStatus = "extracting"
	PageTranslating PageStatus = "translating"
	PageRendering   PageStatus = "rendering"
	PageDone        PageStatus = "done"
	PageFailed      PageStatus = "failed"
)

// Terminal reports whether no further transitions occur for this status.
func (s PageStatus) Terminal() bool {
	return s == PageDone || s == PageFailed
}

// Page holds the state for one page of a document. A page is mutated only by
// the worker executing its pipeline; the document pipeline owns the page list.
type Page struct {
	Index     int
	Source    image.Image
	Blocks    []TextBlock
	Processed *image.RGBA // nil until rendering completes
	Status    PageStatus
	Err       error
}

// Output returns the image this page contributes to the assembled document:
// the processed image when rendering completed, the original otherwise.
func (p *Page) Output() image.Image {
	if p.Processed != nil {
		return p.Processed
	}
	return p.Source
}

// DocumentStatus tracks the overall document lifecycle.
type DocumentStatus string

const (
	DocPending         DocumentStatus = "pending"
	DocProcessing      DocumentStatus = "processing"
	DocDone            DocumentStatus = "done"
	DocPartiallyFailed DocumentStatus = "partially_failed"
	DocFailed          DocumentStatus = "failed"
)

// Terminal reports whether the document reached a final status.
func (s DocumentStatus) Terminal() bool {
	return s == DocDone || s == DocPartiallyFailed || s == DocFailed
}

// Document is the only entity with cross-page invariants: page indices are
// contiguous from 0 and assembly waits for every page to reach a terminal
// status.
type Document struct {
	ID        string
	Pages     []*Page
	Status    DocumentStatus
	CreatedAt time.Time
}

// StatusLogEntry is one line of the append-only audit trail. PageIndex is nil
// for document-level entries.
type StatusLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	PageIndex *int      `json:"pageIndex,omitempty"`
	Message   string    `json:"message"`
}

// StatusLog is an append-only event log, safe for concurrent append from
// multiple page workers. Entries are never mutated once written.
type StatusLog struct {
	mu      sync.Mutex
	entries []StatusLogEntry
	sink    func(StatusLogEntry)
}

// NewStatusLog creates a log. sink, if non-nil, is invoked synchronously for
// each appended entry (used to persist entries as they are produced).
func NewStatusLog(sink func(StatusLogEntry)) *StatusLog {
	return &StatusLog{sink: sink}
}

// Append records a document-level entry.
func (l *StatusLog) Append(format string, args ...interface{}) {
	l.append(nil, fmt.Sprintf(format, args...))
}

// AppendPage records an entry scoped to a page index.
func (l *StatusLog) AppendPage(pageIndex int, format string, args ...interface{}) {
	idx := pageIndex
	l.append(&idx, fmt.Sprintf(format, args...))
}

func (l *StatusLog) append(pageIndex *int, msg string) {
	entry := StatusLogEntry{Timestamp: time.Now().UTC(), PageIndex: pageIndex, Message: msg}
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	sink := l.sink
	l.mu.Unlock()
	if sink != nil {
		sink(entry)
	}
}

// Entries returns a snapshot of the log in append order.
func (l *StatusLog) Entries() []StatusLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]StatusLogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
