package analyzer

import (
	"image"
	"math"
	"time"

	terrors "github.com/ivlev/ticketsplit/internal/errors"
	"github.com/ivlev/ticketsplit/internal/source"
)

// Candidate sources
const (
	SourceTextCluster = "ocr-cluster"
	SourceContour     = "contour"
	SourceFullPage    = "full-page"
)

// Candidate is a rectangle believed to contain one ticket.
// Rect is expressed in page pixels with the origin at the top-left corner.
type Candidate struct {
	Rect       image.Rectangle
	Confidence float64
	Source     string
	Page       int
}

// NewCandidate validates geometry and confidence.
func NewCandidate(rect image.Rectangle, confidence float64, source string, page int) (Candidate, error) {
	if rect.Max.X <= rect.Min.X || rect.Max.Y <= rect.Min.Y {
		return Candidate{}, terrors.NewInvalidGeometryError("degenerate rectangle %v", rect)
	}
	if math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
		return Candidate{}, terrors.NewInvalidGeometryError("confidence %v outside [0, 1]", confidence)
	}
	return Candidate{Rect: rect, Confidence: confidence, Source: source, Page: page}, nil
}

// NewCandidateXYWH builds a candidate from an origin and a size.
func NewCandidateXYWH(x, y, w, h int, confidence float64, source string, page int) (Candidate, error) {
	return NewCandidate(image.Rect(x, y, x+w, y+h), confidence, source, page)
}

func (c Candidate) X() int      { return c.Rect.Min.X }
func (c Candidate) Y() int      { return c.Rect.Min.Y }
func (c Candidate) Width() int  { return c.Rect.Dx() }
func (c Candidate) Height() int { return c.Rect.Dy() }
func (c Candidate) Area() int   { return c.Rect.Dx() * c.Rect.Dy() }

// IOU returns intersection over union. Touching or disjoint rectangles give 0.
func IOU(a, b image.Rectangle) float64 {
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0
	}
	interArea := float64(inter.Dx() * inter.Dy())
	union := float64(a.Dx()*a.Dy()) + float64(b.Dx()*b.Dy()) - interArea
	if union <= 0 {
		return 0
	}
	return interArea / union
}

// ExpandWithPadding grows r by padding on every side and clips it to a
// width x height page. The result may be empty if r lies outside the page.
func ExpandWithPadding(r image.Rectangle, padding, width, height int) image.Rectangle {
	expanded := image.Rect(r.Min.X-padding, r.Min.Y-padding, r.Max.X+padding, r.Max.Y+padding)
	return expanded.Intersect(image.Rect(0, 0, width, height))
}

// Detector finds ticket candidates on a rendered page.
type Detector interface {
	Name() string
	Detect(page *source.Page) ([]Candidate, error)
}

// Result is the output of one detector run on one page.
type Result struct {
	Page       int
	Candidates []Candidate
	Elapsed    time.Duration
}

// Run executes d on page and records the elapsed time.
func Run(d Detector, page *source.Page) (Result, error) {
	start := time.Now()
	candidates, err := d.Detect(page)
	res := Result{Page: page.Number, Candidates: candidates, Elapsed: time.Since(start)}
	if err != nil {
		return res, err
	}
	if res.Candidates == nil {
		res.Candidates = []Candidate{}
	}
	return res, nil
}

// toGrayscale writes the luma of img into dst, an origin-based buffer of the same size.
func toGrayscale(img image.Image, dst *image.Gray) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	if src, ok := img.(*image.Gray); ok {
		for y := 0; y < h; y++ {
			so := src.PixOffset(bounds.Min.X, bounds.Min.Y+y)
			copy(dst.Pix[y*dst.Stride:y*dst.Stride+w], src.Pix[so:so+w])
		}
		return
	}

	if src, ok := img.(*image.RGBA); ok {
		for y := 0; y < h; y++ {
			so := src.PixOffset(bounds.Min.X, bounds.Min.Y+y)
			row := dst.Pix[y*dst.Stride : y*dst.Stride+w]
			for x := range row {
				p := src.Pix[so+4*x : so+4*x+3 : so+4*x+3]
				row[x] = luma(uint32(p[0]), uint32(p[1]), uint32(p[2]))
			}
		}
		return
	}

	for y := 0; y < h; y++ {
		row := dst.Pix[y*dst.Stride : y*dst.Stride+w]
		for x := range row {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			row[x] = luma(r>>8, g>>8, b>>8)
		}
	}
}

// luma uses the ITU-R BT.601 weights, same as color.GrayModel.
func luma(r, g, b uint32) uint8 {
	return uint8((19595*r + 38470*g + 7471*b + 1<<15) >> 16)
}
