/**
 * Text region detection for manga pages.
 *
 * Locates speech bubbles and caption boxes by inverse binary thresholding
 * followed by morphological dilation/erosion and connected-component
 * labeling. An image with zero detected regions is a valid result.
 */

package pipeline

import (
	"image"
	"image/color"
	"sort"
)

// RegionDetector locates text-bearing regions in a raster page image. The
// returned order is deterministic for a given image.
type RegionDetector interface {
	Detect(img image.Image) ([]Region, error)
}

// ThresholdDetector implements RegionDetector with a classical
// binarize-dilate-erode pass. Dark ink on a light page becomes foreground;
// dilation merges glyphs into blobs; erosion trims the merge artifacts.
type ThresholdDetector struct {
	// Threshold is the grayscale cutoff: pixels darker than this are
	// considered ink.
	Threshold uint8
	// Padding is added around each detected box, clamped to page bounds.
	Padding int
	// MinSide filters out boxes smaller than this on either side.
	MinSide int
	// MaxFraction filters out boxes wider or taller than this fraction of
	// the page (full-page borders, panel frames).
	MaxFraction float64

	DilateIterations int
	ErodeIterations  int
}

// NewThresholdDetector returns a detector with the stock manga tuning.
func NewThresholdDetector() *ThresholdDetector {
	return &ThresholdDetector{
		Threshold:        180,
		Padding:          5,
		MinSide:          20,
		MaxFraction:      0.9,
		DilateIterations: 4,
		ErodeIterations:  2,
	}
}

// Detect returns the bounding boxes of candidate text regions, ordered top to
// bottom, then left to right.
func (d *ThresholdDetector) Detect(img image.Image) ([]Region, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil, nil
	}

	mask := binarize(img, d.Threshold)
	for i := 0; i < d.DilateIterations; i++ {
		mask = dilate(mask, w, h, 2)
	}
	for i := 0; i < d.ErodeIterations; i++ {
		mask = erode(mask, w, h, 2)
	}

	boxes := componentBoxes(mask, w, h)

	regions := make([]Region, 0, len(boxes))
	for _, b := range boxes {
		bw, bh := b.Dx(), b.Dy()
		if bw < d.MinSide || bh < d.MinSide {
			continue
		}
		if float64(bw) > float64(w)*d.MaxFraction || float64(bh) > float64(h)*d.MaxFraction {
			continue
		}
		x := max(0, b.Min.X-d.Padding)
		y := max(0, b.Min.Y-d.Padding)
		bw = min(w-x, bw+2*d.Padding)
		bh = min(h-y, bh+2*d.Padding)
		regions = append(regions, Region{
			X:      bounds.Min.X + x,
			Y:      bounds.Min.Y + y,
			Width:  bw,
			Height: bh,
		})
	}

	sort.Slice(regions, func(i, j int) bool {
		if regions[i].Y != regions[j].Y {
			return regions[i].Y < regions[j].Y
		}
		return regions[i].X < regions[j].X
	})
	return regions, nil
}

// binarize produces an inverse binary mask: true where the pixel is darker
// than the threshold.
func binarize(img image.Image, threshold uint8) []bool {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	mask := make([]bool, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			g := color.GrayModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray)
			if g.Y < threshold {
				mask[y*w+x] = true
			}
		}
	}
	return mask
}

// dilate applies a (2r+1)x(2r+1) rectangular max filter, separated into a
// horizontal and a vertical pass.
func dilate(mask []bool, w, h, r int) []bool {
	tmp := make([]bool, w*h)
	for y := 0; y < h; y++ {
		row := y * w
		for x := 0; x < w; x++ {
			for k := max(0, x-r); k <= min(w-1, x+r); k++ {
				if mask[row+k] {
					tmp[row+x] = true
					break
				}
			}
		}
	}
	out := make([]bool, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for k := max(0, y-r); k <= min(h-1, y+r); k++ {
				if tmp[k*w+x] {
					out[y*w+x] = true
					break
				}
			}
		}
	}
	return out
}

// erode applies a (2r+1)x(2r+1) rectangular min filter, separated like dilate.
func erode(mask []bool, w, h, r int) []bool {
	tmp := make([]bool, w*h)
	for y := 0; y < h; y++ {
		row := y * w
		for x := 0; x < w; x++ {
			keep := true
			for k := max(0, x-r); k <= min(w-1, x+r); k++ {
				if !mask[row+k] {
					keep = false
					break
				}
			}
			tmp[row+x] = keep
		}
	}
	out := make([]bool, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			keep := true
			for k := max(0, y-r); k <= min(h-1, y+r); k++ {
				if !tmp[k*w+x] {
					keep = false
					break
				}
			}
			out[y*w+x] = keep
		}
	}
	return out
}

// componentBoxes labels 4-connected foreground components and returns their
// bounding boxes in mask-local coordinates.
func componentBoxes(mask []bool, w, h int) []image.Rectangle {
	visited := make([]bool, w*h)
	var boxes []image.Rectangle
	stack := make([]int, 0, 256)

	for start := 0; start < w*h; start++ {
		if !mask[start] || visited[start] {
			continue
		}
		minX, minY := start%w, start/w
		maxX, maxY := minX, minY
		stack = append(stack[:0], start)
		visited[start] = true
		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := idx%w, idx/w
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}
			if x > 0 && mask[idx-1] && !visited[idx-1] {
				visited[idx-1] = true
				stack = append(stack, idx-1)
			}
			if x < w-1 && mask[idx+1] && !visited[idx+1] {
				visited[idx+1] = true
				stack = append(stack, idx+1)
			}
			if y > 0 && mask[idx-w] && !visited[idx-w] {
				visited[idx-w] = true
				stack = append(stack, idx-w)
			}
			if y < h-1 && mask[idx+w] && !visited[idx+w] {
				visited[idx+w] = true
				stack = append(stack, idx+w)
			}
		}
		boxes = append(boxes, image.Rect(minX, minY, maxX+1, maxY+1))
	}
	return boxes
}
