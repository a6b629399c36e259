package source

import (
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// Source is a paged input: a PDF document or a set of scanned images.
// Page indices are zero-based.
type Source interface {
	PageCount() int
	GetPageDimensions(index int) (width, height float64, err error)
	RenderPage(index int, dpi int) (image.Image, error)
	Close() error
}

// Page is one rasterized page. Number is 1-based.
type Page struct {
	Number   int
	Document string
	DPI      int
	Image    image.Image
}

// NewPage wraps a rendered image; empty or missing images are rejected.
func NewPage(number int, document string, dpi int, img image.Image) (*Page, error) {
	if img == nil {
		return nil, fmt.Errorf("page %d: no image", number)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("page %d: empty image %v", number, img.Bounds())
	}
	return &Page{Number: number, Document: document, DPI: dpi, Image: img}, nil
}

func (p *Page) Width() int {
	return p.Image.Bounds().Dx()
}

func (p *Page) Height() int {
	return p.Image.Bounds().Dy()
}

// Bounds returns the page rectangle in origin-based pixel coordinates.
func (p *Page) Bounds() image.Rectangle {
	return image.Rect(0, 0, p.Width(), p.Height())
}

// FitzPDFSource renders PDF pages with MuPDF. Each render opens its own
// document handle so that pages can be rendered from several workers.
type FitzPDFSource struct {
	doc  *fitz.Document
	path string
	data []byte
}

func NewFitzPDFSource(path string) (*FitzPDFSource, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf %s: %w", path, err)
	}
	return &FitzPDFSource{doc: doc, path: path}, nil
}

// NewFitzPDFSourceFromBytes opens an in-memory PDF.
func NewFitzPDFSourceFromBytes(data []byte) (*FitzPDFSource, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("open pdf: empty input")
	}
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("open pdf from memory: %w", err)
	}
	return &FitzPDFSource{doc: doc, data: data}, nil
}

func (f *FitzPDFSource) PageCount() int {
	return f.doc.NumPage()
}

func (f *FitzPDFSource) GetPageDimensions(index int) (float64, float64, error) {
	rect, err := f.doc.Bound(index)
	if err != nil {
		return 0, 0, err
	}
	return float64(rect.Dx()), float64(rect.Dy()), nil
}

func (f *FitzPDFSource) RenderPage(index int, dpi int) (image.Image, error) {
	if index < 0 || index >= f.PageCount() {
		return nil, fmt.Errorf("page index %d out of range [0, %d)", index, f.PageCount())
	}

	var workerDoc *fitz.Document
	var err error
	if f.data != nil {
		workerDoc, err = fitz.NewFromMemory(f.data)
	} else {
		workerDoc, err = fitz.New(f.path)
	}
	if err != nil {
		return nil, err
	}
	defer workerDoc.Close()
	return workerDoc.ImageDPI(index, float64(dpi))
}

func (f *FitzPDFSource) Close() error {
	return f.doc.Close()
}

// Open picks a source for path: PDF files go through MuPDF, everything else
// is treated as an image file or a directory of images.
func Open(path string) (Source, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return NewFitzPDFSource(path)
	}
	return NewImageSource(path)
}

// DocumentName derives the output folder name from an input path.
func DocumentName(path string) string {
	base := filepath.Base(filepath.Clean(path))
	name := strings.TrimSuffix(base, filepath.Ext(base))
	name = strings.ReplaceAll(name, " ", "_")
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "unnamed"
	}
	return name
}
