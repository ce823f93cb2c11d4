/**
 * OCR extraction for detected text regions.
 *
 * The Extractor crops a region out of the page image, hands the encoded crop
 * to an OCREngine, and applies the confidence policy: recognized text below
 * the configured threshold is a skippable region-local failure, never a page
 * abort.
 */

package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"strings"

	"github.com/otiai10/gosseract/v2"

	pkgerrors "github.com/mangaden/translate-worker/internal/errors"
)

// OCRText is the raw output of a recognition engine for one region crop.
type OCRText struct {
	Text       string
	Confidence float64 // 0..1, averaged over recognized words
}

// OCREngine recognizes text in an encoded (PNG) image crop. The language
// hint is a Tesseract trained-data code such as "jpn" or "eng".
type OCREngine interface {
	Name() string
	Recognize(ctx context.Context, imageData []byte, lang string) (OCRText, error)
}

// tesseractLangs maps language names accepted on submission to Tesseract
// trained-data codes.
var tesseractLangs = map[string]string{
	"Japanese":   "jpn",
	"English":    "eng",
	"Chinese":    "chi_sim",
	"Korean":     "kor",
	"Spanish":    "spa",
	"French":     "fra",
	"German":     "deu",
	"Russian":    "rus",
	"Italian":    "ita",
	"Portuguese": "por",
	"Arabic":     "ara",
}

// TesseractLang maps a submission language name to a Tesseract trained-data
// code, defaulting to English for unknown names.
func TesseractLang(language string) string {
	if code, ok := tesseractLangs[language]; ok {
		return code
	}
	return "eng"
}

// SupportedLanguage reports whether a language name is recognized by the
// pipeline's OCR and translation layers.
func SupportedLanguage(language string) bool {
	_, ok := tesseractLangs[language]
	return ok
}

// Extractor runs OCR on one region at a time. Safe for concurrent use when
// the underlying engine is.
type Extractor struct {
	engine        OCREngine
	minConfidence float64
}

// NewExtractor creates an extractor with the given engine and minimum
// acceptable confidence in [0,1].
func NewExtractor(engine OCREngine, minConfidence float64) *Extractor {
	return &Extractor{engine: engine, minConfidence: minConfidence}
}

// Extract recognizes the text inside one region of the page image. A region
// with no recognizable text returns (nil, nil); confidence below the
// threshold returns an OCRError the caller is expected to skip on.
func (e *Extractor) Extract(ctx context.Context, img image.Image, region Region, sourceLang, targetLang string) (*TextBlock, error) {
	crop, err := cropRegion(img, region)
	if err != nil {
		return nil, pkgerrors.NewOCRDecodeError(err)
	}

	res, err := e.engine.Recognize(ctx, crop, TesseractLang(sourceLang))
	if err != nil {
		return nil, pkgerrors.NewOCRDecodeError(err)
	}

	// Collapse runs of whitespace and newlines from the engine output.
	text := strings.Join(strings.Fields(res.Text), " ")
	if text == "" {
		return nil, nil
	}
	if res.Confidence < e.minConfidence {
		return nil, pkgerrors.NewLowConfidenceError(res.Confidence, e.minConfidence)
	}

	return &TextBlock{
		Region:     region,
		SourceText: text,
		Confidence: res.Confidence,
		SourceLang: sourceLang,
		TargetLang: targetLang,
	}, nil
}

// cropRegion extracts the region pixels into a PNG-encoded buffer.
func cropRegion(img image.Image, region Region) ([]byte, error) {
	rect := region.Rect()
	if !region.Valid(img.Bounds()) {
		return nil, fmt.Errorf("region %s outside page bounds %v", region, img.Bounds())
	}
	crop := image.NewRGBA(image.Rect(0, 0, region.Width, region.Height))
	draw.Draw(crop, crop.Bounds(), img, rect.Min, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, crop); err != nil {
		return nil, fmt.Errorf("encode region crop: %w", err)
	}
	return buf.Bytes(), nil
}

// TesseractEngine implements OCREngine using the gosseract client. A fresh
// client is created per call; gosseract clients are not safe for concurrent
// reuse.
type TesseractEngine struct {
	clientFactory func() *gosseract.Client
}

// NewTesseractEngine constructs the default Tesseract-backed engine.
func NewTesseractEngine() *TesseractEngine {
	return &TesseractEngine{clientFactory: gosseract.NewClient}
}

func (t *TesseractEngine) Name() string { return "tesseract" }

// Recognize performs OCR on a single encoded region crop.
func (t *TesseractEngine) Recognize(ctx context.Context, imageData []byte, lang string) (OCRText, error) {
	if err := ctx.Err(); err != nil {
		return OCRText{}, err
	}

	client := t.clientFactory()
	defer client.Close()

	if err := client.SetImageFromBytes(imageData); err != nil {
		return OCRText{}, fmt.Errorf("set image: %w", err)
	}
	if lang != "" {
		if err := client.SetLanguage(lang); err != nil {
			return OCRText{}, fmt.Errorf("set language %s: %w", lang, err)
		}
	}
	// Sparse text mode: manga lettering is scattered, not laid out in
	// paragraphs.
	if err := client.SetPageSegMode(gosseract.PSM_SPARSE_TEXT); err != nil {
		return OCRText{}, fmt.Errorf("set page seg mode: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return OCRText{}, fmt.Errorf("tesseract recognize: %w", err)
	}

	return OCRText{Text: text, Confidence: wordConfidence(client)}, nil
}

// wordConfidence averages word-level confidences, scaled to [0,1]. Zero when
// no words were recognized.
func wordConfidence(client *gosseract.Client) float64 {
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return 0
	}
	var sum float64
	for _, b := range boxes {
		sum += b.Confidence / 100.0
	}
	return sum / float64(len(boxes))
}
