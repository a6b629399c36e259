package analyzer

import (
	"fmt"
	"image"
	"math"

	"github.com/ivlev/ticketsplit/internal/config"
	terrors "github.com/ivlev/ticketsplit/internal/errors"
	"github.com/ivlev/ticketsplit/internal/source"
)

// Point is a vertex reported by a text-line locator, in page pixels.
type Point struct {
	X, Y float64
}

// Polygon is a text-line outline. Only four-vertex polygons are used.
type Polygon []Point

// PolygonFromRect returns the corners of r in TL, TR, BR, BL order.
func PolygonFromRect(r image.Rectangle) Polygon {
	return Polygon{
		{X: float64(r.Min.X), Y: float64(r.Min.Y)},
		{X: float64(r.Max.X), Y: float64(r.Min.Y)},
		{X: float64(r.Max.X), Y: float64(r.Max.Y)},
		{X: float64(r.Min.X), Y: float64(r.Max.Y)},
	}
}

func (p Polygon) centroid() Point {
	var c Point
	for _, v := range p {
		c.X += v.X
		c.Y += v.Y
	}
	n := float64(len(p))
	return Point{X: c.X / n, Y: c.Y / n}
}

// TextLineLocator finds text lines on a page image.
type TextLineLocator interface {
	Locate(img image.Image) ([]Polygon, error)
}

// LocatorFunc adapts a plain function to TextLineLocator.
type LocatorFunc func(img image.Image) ([]Polygon, error)

func (f LocatorFunc) Locate(img image.Image) ([]Polygon, error) {
	return f(img)
}

// TextClusterDetector groups text lines into tickets: lines printed on the
// same ticket sit close together, so density clusters of line centroids
// outline the individual tickets.
type TextClusterDetector struct {
	Locator      TextLineLocator
	MinTextBoxes int
	MinArea      int
	Eps          float64
	MinSamples   int
}

func NewTextClusterDetector(locator TextLineLocator, cfg config.TextClusterConfig) *TextClusterDetector {
	return &TextClusterDetector{
		Locator:      locator,
		MinTextBoxes: cfg.MinTextBoxes,
		MinArea:      cfg.MinArea,
		Eps:          cfg.Eps,
		MinSamples:   cfg.MinSamples,
	}
}

func (d *TextClusterDetector) Name() string {
	return SourceTextCluster
}

func (d *TextClusterDetector) Detect(page *source.Page) ([]Candidate, error) {
	if d.Locator == nil {
		return nil, terrors.NewDetectionError(page.Number, d.Name(), fmt.Errorf("no text-line locator configured"))
	}

	polygons, err := d.locate(page.Image)
	if err != nil {
		return nil, terrors.NewDetectionError(page.Number, d.Name(), err)
	}

	var boxes []Polygon
	var centers []Point
	for _, p := range polygons {
		if len(p) != 4 {
			continue
		}
		boxes = append(boxes, p)
		centers = append(centers, p.centroid())
	}

	if len(centers) < d.MinTextBoxes {
		return []Candidate{}, nil
	}

	labels := dbscan(centers, d.Eps, d.MinSamples)

	candidates := []Candidate{}
	for _, members := range clusterMembers(labels) {
		if len(members) < d.MinTextBoxes {
			continue
		}

		rect := enclosingRect(boxes, members)
		area := rect.Dx() * rect.Dy()
		if area <= 0 || area < d.MinArea {
			continue
		}

		density := float64(len(members)) / (float64(area) / 1000.0)
		confidence := math.Min(density/10.0, 1.0)

		cand, err := NewCandidate(rect, confidence, SourceTextCluster, page.Number)
		if err != nil {
			continue
		}
		candidates = append(candidates, cand)
	}

	return candidates, nil
}

// locate shields the pipeline from locators that panic.
func (d *TextClusterDetector) locate(img image.Image) (polygons []Polygon, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("text-line locator panicked: %v", r)
		}
	}()
	return d.Locator.Locate(img)
}

// enclosingRect returns the integer rectangle around every vertex of the
// selected boxes. Coordinates are truncated toward zero.
func enclosingRect(boxes []Polygon, members []int) image.Rectangle {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, i := range members {
		for _, v := range boxes[i] {
			minX = math.Min(minX, v.X)
			minY = math.Min(minY, v.Y)
			maxX = math.Max(maxX, v.X)
			maxY = math.Max(maxY, v.Y)
		}
	}
	return image.Rect(int(minX), int(minY), int(maxX), int(maxY))
}
