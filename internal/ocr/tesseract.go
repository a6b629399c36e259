// Package ocr locates printed text lines with Tesseract. Only the layout
// analysis is used: the recognized text itself is discarded.
package ocr

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/otiai10/gosseract/v2"

	"github.com/ivlev/ticketsplit/internal/analyzer"
)

// TesseractLocator implements analyzer.TextLineLocator using gosseract.
// A client is created per call because gosseract clients are not safe for
// concurrent use and pages are processed in parallel.
type TesseractLocator struct {
	Languages   []string
	PageSegMode int
	DPI         int

	clientFactory func() *gosseract.Client
}

// NewTesseractLocator constructs a Tesseract-backed locator.
func NewTesseractLocator(languages []string, pageSegMode, dpi int) *TesseractLocator {
	return &TesseractLocator{
		Languages:     languages,
		PageSegMode:   pageSegMode,
		DPI:           dpi,
		clientFactory: gosseract.NewClient,
	}
}

// Version reports the linked Tesseract version, handy for startup diagnostics.
func Version() string {
	c := gosseract.NewClient()
	defer c.Close()
	return c.Version()
}

func (l *TesseractLocator) Locate(img image.Image) ([]analyzer.Polygon, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode page: %w", err)
	}

	c := l.clientFactory()
	defer c.Close()

	if err := c.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}
	if len(l.Languages) > 0 {
		if err := c.SetLanguage(l.Languages...); err != nil {
			return nil, fmt.Errorf("set languages: %w", err)
		}
	}
	if l.PageSegMode > 0 {
		if err := c.SetPageSegMode(gosseract.PageSegMode(l.PageSegMode)); err != nil {
			return nil, fmt.Errorf("set page segmentation mode: %w", err)
		}
	}
	if l.DPI > 0 {
		if err := c.SetVariable(gosseract.SettableVariable("user_defined_dpi"), fmt.Sprint(l.DPI)); err != nil {
			return nil, fmt.Errorf("set dpi: %w", err)
		}
	}

	boxes, err := c.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("text line layout: %w", err)
	}

	// Boxes come back relative to the encoded image, which is origin-based like page coordinates.
	polygons := make([]analyzer.Polygon, 0, len(boxes))
	for _, b := range boxes {
		if b.Box.Empty() {
			continue
		}
		polygons = append(polygons, analyzer.PolygonFromRect(b.Box))
	}
	return polygons, nil
}
