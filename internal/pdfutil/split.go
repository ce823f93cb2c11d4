/**
 * Document splitting and reassembly. A PNG or JPEG upload is a one-page
 * document; a PDF is split into its page scans and reassembled from the
 * processed images. The output always keeps the input's format family.
 */

package pdfutil

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sort"

	// Scanned PDFs occasionally embed TIFF or WebP page images.
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	pkgerrors "github.com/mangaden/translate-worker/internal/errors"
	"github.com/mangaden/translate-worker/internal/logging"
)

const jpegQuality = 92

var logger = logging.NewLogger("pdfutil")

// Splitter turns raw document bytes into per-page images. PDF splitting goes
// through scratch files in TempDir because pdfcpu's page APIs are file based.
type Splitter struct {
	TempDir string
}

// NewSplitter creates a splitter writing scratch files under tempDir, or the
// OS default when tempDir is empty.
func NewSplitter(tempDir string) *Splitter {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Splitter{TempDir: tempDir}
}

// Split decodes the document into one image per page, in page order.
func (s *Splitter) Split(ctx context.Context, data []byte, mimeType string) ([]image.Image, error) {
	switch mimeType {
	case MimePNG, MimeJPEG:
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, pkgerrors.NewUnsupportedFormatError(mimeType)
		}
		return []image.Image{img}, nil
	case MimePDF:
		return s.splitPDF(ctx, data)
	default:
		return nil, pkgerrors.NewUnsupportedFormatError(mimeType)
	}
}

// splitPDF extracts the page scan images from a PDF. Scanned documents carry
// one full-page image per page, which is exactly what the pipeline needs.
func (s *Splitter) splitPDF(ctx context.Context, data []byte) ([]image.Image, error) {
	workDir, err := os.MkdirTemp(s.TempDir, "split-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	inPath := filepath.Join(workDir, "input.pdf")
	if err := os.WriteFile(inPath, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write scratch PDF: %w", err)
	}

	outDir := filepath.Join(workDir, "pages")
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create page directory: %w", err)
	}

	if err := api.ExtractImagesFile(inPath, outDir, nil, nil); err != nil {
		return nil, fmt.Errorf("failed to extract PDF page images: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	files, err := listImageFiles(outDir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, pkgerrors.NewEmptyDocumentError()
	}

	images := make([]image.Image, 0, len(files))
	for _, file := range files {
		f, err := os.Open(file)
		if err != nil {
			return nil, fmt.Errorf("failed to open page image %s: %w", filepath.Base(file), err)
		}
		img, _, err := image.Decode(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to decode page image %s: %w", filepath.Base(file), err)
		}
		images = append(images, img)
	}
	logger.Info("split PDF into page images", "pages", len(images))
	return images, nil
}

// listImageFiles returns the image files in dir sorted by name. pdfcpu names
// extracted images by page number, so name order is page order.
func listImageFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list page images: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch filepath.Ext(entry.Name()) {
		case ".png", ".jpg", ".jpeg", ".tif", ".tiff", ".webp":
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// Assembler folds processed page images back into a document of the original
// format family.
type Assembler struct {
	TempDir string
}

// NewAssembler creates an assembler writing scratch files under tempDir, or
// the OS default when tempDir is empty.
func NewAssembler(tempDir string) *Assembler {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Assembler{TempDir: tempDir}
}

// Assemble encodes the page images into final document bytes. Image inputs
// produce a single image of the same encoding; PDF inputs produce a PDF with
// one full-size page per image.
func (a *Assembler) Assemble(ctx context.Context, pages []image.Image, mimeType string) ([]byte, string, error) {
	if len(pages) == 0 {
		return nil, "", pkgerrors.NewEmptyDocumentError()
	}

	switch mimeType {
	case MimePNG:
		var buf bytes.Buffer
		if err := png.Encode(&buf, pages[0]); err != nil {
			return nil, "", fmt.Errorf("failed to encode PNG result: %w", err)
		}
		return buf.Bytes(), MimePNG, nil
	case MimeJPEG:
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, pages[0], &jpeg.Options{Quality: jpegQuality}); err != nil {
			return nil, "", fmt.Errorf("failed to encode JPEG result: %w", err)
		}
		return buf.Bytes(), MimeJPEG, nil
	case MimePDF:
		data, err := a.assemblePDF(ctx, pages)
		if err != nil {
			return nil, "", err
		}
		return data, MimePDF, nil
	default:
		return nil, "", pkgerrors.NewUnsupportedFormatError(mimeType)
	}
}

// assemblePDF writes each page as a PNG and imports them into a fresh PDF.
// A nil import configuration makes every page exactly the image's size.
func (a *Assembler) assemblePDF(ctx context.Context, pages []image.Image) ([]byte, error) {
	workDir, err := os.MkdirTemp(a.TempDir, "assemble-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	files := make([]string, 0, len(pages))
	for i, page := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := filepath.Join(workDir, fmt.Sprintf("page_%05d.png", i))
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("failed to create page file: %w", err)
		}
		err = png.Encode(f, page)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to encode page %d: %w", i, err)
		}
		files = append(files, path)
	}

	outPath := filepath.Join(workDir, "output.pdf")
	if err := api.ImportImagesFile(files, outPath, nil, nil); err != nil {
		return nil, fmt.Errorf("failed to build output PDF: %w", err)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read output PDF: %w", err)
	}
	return data, nil
}
