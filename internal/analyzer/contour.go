package analyzer

import (
	"fmt"
	"image"
	"math"

	"github.com/ivlev/ticketsplit/internal/config"
	terrors "github.com/ivlev/ticketsplit/internal/errors"
	"github.com/ivlev/ticketsplit/internal/source"
	"github.com/ivlev/ticketsplit/internal/system"
)

// ContourDetector finds rectangular ticket outlines from edges: paper on a
// scanner bed or a ticket border shows up as a closed, roughly four-sided contour.
type ContourDetector struct {
	MinArea        int     // Minimum bounding box area in pixels²
	MaxAreaRatio   float64 // Maximum bounding box area as a fraction of the page
	MinAspectRatio float64
	MaxAspectRatio float64
	CannyLow       float64
	CannyHigh      float64
	BlurKernel     int // Odd Gaussian aperture
	MorphKernel    int // Closing kernel side
}

// NewContourDetector creates a detector from the contour section of the config
func NewContourDetector(cfg config.ContourConfig) *ContourDetector {
	return &ContourDetector{
		MinArea:        cfg.MinArea,
		MaxAreaRatio:   cfg.MaxAreaRatio,
		MinAspectRatio: cfg.MinAspectRatio,
		MaxAspectRatio: cfg.MaxAspectRatio,
		CannyLow:       cfg.CannyLow,
		CannyHigh:      cfg.CannyHigh,
		BlurKernel:     cfg.BlurKernel,
		MorphKernel:    cfg.MorphKernel,
	}
}

func (d *ContourDetector) Name() string {
	return SourceContour
}

// Detect finds ticket outlines using edge detection and morphology
func (d *ContourDetector) Detect(page *source.Page) (candidates []Candidate, err error) {
	defer func() {
		if r := recover(); r != nil {
			candidates = nil
			err = terrors.NewDetectionError(page.Number, d.Name(), fmt.Errorf("contour analysis panicked: %v", r))
		}
	}()

	bounds := page.Bounds()

	// Step 1: Convert to grayscale
	gray := system.GetGray(bounds)
	defer system.PutGray(gray)
	toGrayscale(page.Image, gray)

	// Step 2: Gaussian blur to suppress paper texture
	blurred := system.GetGray(bounds)
	defer system.PutGray(blurred)
	gaussianBlur(gray, blurred, d.BlurKernel)

	// Step 3: Canny edges, reusing the grayscale buffer
	edges := gray
	canny(blurred, edges, d.CannyLow, d.CannyHigh)

	// Step 4: Morphological closing to join broken outlines
	closed := blurred
	morphClose(edges, closed, d.MorphKernel)

	// Step 5: Outer contours, filtered by size and shape
	pageArea := bounds.Dx() * bounds.Dy()
	maxArea := int(float64(pageArea) * d.MaxAreaRatio)

	candidates = []Candidate{}
	for _, c := range findExternalContours(closed) {
		w, h := c.bounds.Dx(), c.bounds.Dy()
		area := w * h
		if area < d.MinArea || area > maxArea {
			continue
		}

		aspect := 0.0
		if short := min(w, h); short > 0 {
			aspect = float64(max(w, h)) / float64(short)
		}
		if aspect < d.MinAspectRatio || aspect > d.MaxAspectRatio {
			continue
		}

		confidence, ok := contourConfidence(c.points, area)
		if !ok {
			continue
		}

		cand, err := NewCandidate(c.bounds, confidence, SourceContour, page.Number)
		if err != nil {
			continue
		}
		candidates = append(candidates, cand)
	}

	return candidates, nil
}

// contourConfidence averages how close the outline is to four corners with
// how much of its bounding box it fills. Downstream thresholds rely on this
// exact scale.
func contourConfidence(points []image.Point, boxArea int) (float64, bool) {
	perimeter := arcLength(points)
	if perimeter == 0 || boxArea <= 0 {
		return 0, false
	}
	approx := approxPolyClosed(points, 0.02*perimeter)
	vertexScore := 1.0 - math.Min(math.Abs(float64(len(approx)-4))/10.0, 0.5)
	fill := math.Min(polygonArea(points)/float64(boxArea), 1.0)
	return (vertexScore + fill) / 2.0, true
}

// EdgeMap returns the closed edge map that contours are traced on.
// Useful for tuning the Canny thresholds on a real scan.
func (d *ContourDetector) EdgeMap(img image.Image) *image.Gray {
	bounds := image.Rect(0, 0, img.Bounds().Dx(), img.Bounds().Dy())
	gray := image.NewGray(bounds)
	toGrayscale(img, gray)
	blurred := image.NewGray(bounds)
	gaussianBlur(gray, blurred, d.BlurKernel)
	edges := image.NewGray(bounds)
	canny(blurred, edges, d.CannyLow, d.CannyHigh)
	closed := image.NewGray(bounds)
	morphClose(edges, closed, d.MorphKernel)
	return closed
}
