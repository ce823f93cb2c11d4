/**
 * Region rendering: erase the source lettering and draw the translation.
 *
 * Layout rule: the largest integer font size whose word-wrapped lines fit the
 * region box, centered both ways. When nothing at or above the minimum size
 * fits, the text is drawn at the minimum size and clipped to the box rather
 * than failing the region.
 */

package pipeline

import (
	"image"
	"image/color"
	"os"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"

	pkgerrors "github.com/mangaden/translate-worker/internal/errors"
)

// Renderer draws one translated text block onto the shared page buffer.
// Calls for the same page must be serialized by the caller.
type Renderer interface {
	Render(dst *image.RGBA, block *TextBlock) error
}

// BoxRenderer erases the region with a white fill and draws the translated
// text in black, mirroring hand-lettered speech bubble conventions.
type BoxRenderer struct {
	font        *truetype.Font
	minFontSize int
}

// NewBoxRenderer creates a renderer using the bundled Go Regular face.
func NewBoxRenderer(minFontSize int) (*BoxRenderer, error) {
	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, pkgerrors.NewRenderError("parse bundled font", err)
	}
	return &BoxRenderer{font: f, minFontSize: minFontSize}, nil
}

// NewBoxRendererFromFile creates a renderer with a TTF loaded from disk,
// falling back to the bundled face when the file cannot be read.
func NewBoxRendererFromFile(path string, minFontSize int) (*BoxRenderer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return NewBoxRenderer(minFontSize)
	}
	f, err := truetype.Parse(data)
	if err != nil {
		return NewBoxRenderer(minFontSize)
	}
	return &BoxRenderer{font: f, minFontSize: minFontSize}, nil
}

// Render erases the block's region and draws its translation. Blocks without
// a translation are left untouched.
func (r *BoxRenderer) Render(dst *image.RGBA, block *TextBlock) error {
	if block.TranslatedText == nil || *block.TranslatedText == "" {
		return nil
	}
	region := block.Region
	if !region.Valid(dst.Bounds()) {
		return pkgerrors.NewRenderError("region "+region.String()+" outside page bounds", nil)
	}

	dc := gg.NewContextForRGBA(dst)

	dc.SetColor(color.White)
	dc.DrawRectangle(float64(region.X), float64(region.Y), float64(region.Width), float64(region.Height))
	dc.Fill()

	text := *block.TranslatedText
	size, lines := r.fitText(dc, text, region)

	if size < r.minFontSize {
		// Nothing fits: draw at the minimum size; the clip below swallows
		// the overflow.
		size = r.minFontSize
		r.setFace(dc, size)
		lines = dc.WordWrap(text, float64(region.Width))
	} else {
		r.setFace(dc, size)
	}

	// All ink is confined to the region, including antialiased glyph edges.
	dc.Push()
	dc.DrawRectangle(float64(region.X), float64(region.Y), float64(region.Width), float64(region.Height))
	dc.Clip()

	lineHeight := dc.FontHeight() * 1.2
	totalHeight := lineHeight * float64(len(lines))
	startY := float64(region.Y) + (float64(region.Height)-totalHeight)/2
	centerX := float64(region.X) + float64(region.Width)/2

	dc.SetColor(color.Black)
	for i, line := range lines {
		y := startY + (float64(i)+0.5)*lineHeight
		dc.DrawStringAnchored(line, centerX, y, 0.5, 0.35)
	}

	dc.Pop()
	return nil
}

// setFace installs a face of the given point size on the drawing context.
func (r *BoxRenderer) setFace(dc *gg.Context, size int) {
	dc.SetFontFace(truetype.NewFace(r.font, &truetype.Options{Size: float64(size)}))
}

// fitText finds the largest integer font size at or above the minimum whose
// wrapped lines fit the region, returning that size and its line split. A
// size below the minimum signals that nothing fits.
func (r *BoxRenderer) fitText(dc *gg.Context, text string, region Region) (int, []string) {
	lo, hi := r.minFontSize, region.Height
	if hi < lo {
		hi = lo
	}

	best := r.minFontSize - 1
	var bestLines []string
	for lo <= hi {
		mid := (lo + hi) / 2
		if lines, ok := r.fitsAt(dc, text, region, mid); ok {
			best = mid
			bestLines = lines
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return best, bestLines
}

func (r *BoxRenderer) fitsAt(dc *gg.Context, text string, region Region, size int) ([]string, bool) {
	r.setFace(dc, size)
	lines := dc.WordWrap(text, float64(region.Width))
	if len(lines) == 0 {
		return lines, true
	}
	lineHeight := dc.FontHeight() * 1.2
	if lineHeight*float64(len(lines)) > float64(region.Height) {
		return nil, false
	}
	// WordWrap cannot split a single word wider than the box.
	for _, line := range lines {
		w, _ := dc.MeasureString(line)
		if w > float64(region.Width) {
			return nil, false
		}
	}
	return lines, true
}
