package splitter

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"

	"github.com/ivlev/ticketsplit/internal/analyzer"
	"github.com/ivlev/ticketsplit/internal/config"
	terrors "github.com/ivlev/ticketsplit/internal/errors"
	"github.com/ivlev/ticketsplit/internal/source"
)

const defaultJPEGQuality = 95

// Options controls how candidates are cut out and where they go.
type Options struct {
	OutputRoot  string
	Padding     int
	Format      string
	JPEGQuality int
	SaveToDisk  bool
	ReturnBytes bool
}

func OptionsFromConfig(e config.ExportConfig) Options {
	return Options{
		OutputRoot:  e.OutputRoot,
		Padding:     e.Padding,
		Format:      e.Format,
		JPEGQuality: e.JPEGQuality,
		SaveToDisk:  e.SaveToDisk,
		ReturnBytes: e.ReturnBytes,
	}
}

// Ticket is one exported crop.
type Ticket struct {
	Page      int
	Index     int
	Candidate analyzer.Candidate
	Rect      image.Rectangle // crop rectangle after padding and clipping
	Width     int
	Height    int
	Path      string // empty unless saved to disk
	Data      []byte // encoded image, only when requested
}

// Splitter turns candidates into ticket images.
type Splitter interface {
	Split(page *source.Page, candidates []analyzer.Candidate) ([]Ticket, error)
}

// ImageSplitter crops tickets from the page raster.
type ImageSplitter struct {
	opts Options
}

func New(opts Options) (*ImageSplitter, error) {
	if opts.Padding < 0 {
		return nil, fmt.Errorf("padding cannot be negative, got %d", opts.Padding)
	}
	if opts.Format == "" {
		opts.Format = "png"
	}
	opts.Format = strings.ToLower(opts.Format)
	if !config.IsSupportedFormat(opts.Format) {
		return nil, fmt.Errorf("unsupported export format %q", opts.Format)
	}
	if opts.SaveToDisk && strings.TrimSpace(opts.OutputRoot) == "" {
		return nil, fmt.Errorf("output root cannot be empty when saving to disk")
	}
	if opts.JPEGQuality == 0 {
		opts.JPEGQuality = defaultJPEGQuality
	}
	return &ImageSplitter{opts: opts}, nil
}

func (s *ImageSplitter) Options() Options {
	return s.opts
}

// Dir is the folder that receives tickets of document.
func (s *ImageSplitter) Dir(document string) string {
	return filepath.Join(s.opts.OutputRoot, documentDir(document))
}

// Split exports candidates in input order. The first failure aborts the page.
func (s *ImageSplitter) Split(page *source.Page, candidates []analyzer.Candidate) ([]Ticket, error) {
	tickets := make([]Ticket, 0, len(candidates))
	if len(candidates) == 0 {
		return tickets, nil
	}

	dir := s.Dir(page.Document)
	if s.opts.SaveToDisk {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, terrors.NewExportError(page.Number, -1, fmt.Errorf("create %s: %w", dir, err))
		}
	}

	for i, c := range candidates {
		ticket, err := s.export(page, dir, i, c)
		if err != nil {
			return nil, terrors.NewExportError(page.Number, i, err)
		}
		tickets = append(tickets, ticket)
	}

	return tickets, nil
}

func (s *ImageSplitter) export(page *source.Page, dir string, index int, c analyzer.Candidate) (Ticket, error) {
	rect := c.Rect
	if s.opts.Padding > 0 {
		rect = analyzer.ExpandWithPadding(rect, s.opts.Padding, page.Width(), page.Height())
	}
	if rect.Empty() {
		return Ticket{}, fmt.Errorf("crop %v lies outside the %dx%d page", c.Rect, page.Width(), page.Height())
	}

	crop := Crop(page.Image, rect)
	ticket := Ticket{
		Page:      page.Number,
		Index:     index,
		Candidate: c,
		Rect:      rect,
		Width:     crop.Bounds().Dx(),
		Height:    crop.Bounds().Dy(),
	}

	if !s.opts.SaveToDisk && !s.opts.ReturnBytes {
		return ticket, nil
	}

	var buf bytes.Buffer
	if err := Encode(&buf, crop, s.opts.Format, s.opts.JPEGQuality); err != nil {
		return Ticket{}, err
	}

	if s.opts.SaveToDisk {
		path := filepath.Join(dir, Filename(page.Number, index, s.opts.Format))
		if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
			return Ticket{}, fmt.Errorf("write %s: %w", path, err)
		}
		ticket.Path = path
	}
	if s.opts.ReturnBytes {
		ticket.Data = buf.Bytes()
	}

	return ticket, nil
}

// Filename returns the deterministic name of a ticket file.
func Filename(page, index int, format string) string {
	return fmt.Sprintf("page_%d_ticket_%d.%s", page, index, strings.ToLower(format))
}

// Crop copies rect, given in origin-based page coordinates, into a new
// image with its own pixels. Parts of rect outside the page stay transparent black.
func Crop(img image.Image, rect image.Rectangle) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), img, rect.Min.Add(img.Bounds().Min), draw.Src)
	return dst
}

// Encode writes img in the given format.
func Encode(w io.Writer, img image.Image, format string, quality int) error {
	var err error
	switch strings.ToLower(format) {
	case "png":
		err = png.Encode(w, img)
	case "jpg", "jpeg":
		err = jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
	case "tiff":
		err = tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	case "bmp":
		err = bmp.Encode(w, img)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
	if err != nil {
		return fmt.Errorf("encode %s: %w", format, err)
	}
	return nil
}

func documentDir(document string) string {
	name := strings.TrimSpace(document)
	if name == "" {
		return "unnamed"
	}
	return strings.NewReplacer("/", "_", "\\", "_", " ", "_").Replace(name)
}
