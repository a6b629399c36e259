package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ivlev/ticketsplit/internal/analyzer"
	"github.com/ivlev/ticketsplit/internal/config"
	terrors "github.com/ivlev/ticketsplit/internal/errors"
	"github.com/ivlev/ticketsplit/internal/manifest"
	"github.com/ivlev/ticketsplit/internal/source"
	"github.com/ivlev/ticketsplit/internal/splitter"
	"github.com/ivlev/ticketsplit/internal/system"
)

// State of a page inside the pipeline.
type State string

const (
	StateLoading   State = "loading"
	StateDetecting State = "detecting"
	StateSplitting State = "splitting"
	StateDone      State = "done"
	StateFailed    State = "failed"
)

// Processor runs render, detection and export for every page of a document.
type Processor struct {
	cfg      config.Config
	detector analyzer.Detector
	splitter splitter.Splitter
	locator  analyzer.TextLineLocator
	logger   *slog.Logger
	workers  int
}

type Option func(*Processor)

// WithDetector replaces the detector built from the configured strategies.
func WithDetector(d analyzer.Detector) Option {
	return func(p *Processor) { p.detector = d }
}

// WithSplitter replaces the splitter built from the export settings.
func WithSplitter(s splitter.Splitter) Option {
	return func(p *Processor) { p.splitter = s }
}

// WithLocator supplies the text-line locator needed by the ocr strategy.
func WithLocator(l analyzer.TextLineLocator) Option {
	return func(p *Processor) { p.locator = l }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// WithWorkers bounds the number of pages processed at once.
func WithWorkers(n int) Option {
	return func(p *Processor) { p.workers = n }
}

func NewProcessor(cfg config.Config, opts ...Option) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	p := &Processor{cfg: cfg, logger: slog.Default(), workers: cfg.Workers}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.complete(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Processor) complete() error {
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.detector == nil {
		d, err := analyzer.Build(p.cfg, p.locator, p.logger)
		if err != nil {
			return fmt.Errorf("build detector: %w", err)
		}
		p.detector = d
	}
	if p.splitter == nil {
		s, err := splitter.New(splitter.OptionsFromConfig(p.cfg.Export))
		if err != nil {
			return fmt.Errorf("build splitter: %w", err)
		}
		p.splitter = s
	}
	if p.workers <= 0 {
		p.workers = system.RecommendedWorkers()
	}
	return nil
}

// With returns a copy of the processor with some components overridden,
// for example a different detector for a single document. A new locator
// without a new detector rebuilds the detector from the configured strategies.
func (p *Processor) With(opts ...Option) (*Processor, error) {
	cp := *p
	var override Processor
	for _, opt := range opts {
		opt(&cp)
		opt(&override)
	}
	if cp.workers <= 0 {
		cp.workers = p.workers
	}
	if cp.logger == nil {
		cp.logger = p.logger
	}
	if override.locator != nil && override.detector == nil {
		d, err := analyzer.Build(cp.cfg, cp.locator, cp.logger)
		if err != nil {
			return nil, fmt.Errorf("build detector: %w", err)
		}
		cp.detector = d
	}
	return &cp, nil
}

func (p *Processor) Detector() analyzer.Detector {
	return p.detector
}

// ProcessFile opens a PDF, an image or a folder of images and processes it.
func (p *Processor) ProcessFile(ctx context.Context, path string) (*Report, error) {
	src, err := source.Open(path)
	if err != nil {
		return nil, terrors.NewStageError(terrors.StageLoading, 0, err)
	}
	defer src.Close()

	return p.Process(ctx, src, source.DocumentName(path))
}

// ProcessBytes processes an in-memory PDF.
func (p *Processor) ProcessBytes(ctx context.Context, data []byte, document string) (*Report, error) {
	src, err := source.NewFitzPDFSourceFromBytes(data)
	if err != nil {
		return nil, terrors.NewStageError(terrors.StageLoading, 0, err)
	}
	defer src.Close()

	return p.Process(ctx, src, document)
}

// Process handles every page of src. Pages run in parallel; the first failing
// page cancels the rest and its error, tagged with the stage, is returned.
func (p *Processor) Process(ctx context.Context, src source.Source, document string) (*Report, error) {
	start := time.Now()

	pageCount := src.PageCount()
	if pageCount == 0 {
		return nil, terrors.NewStageError(terrors.StageLoading, 0, fmt.Errorf("document %q has no pages", document))
	}

	report := &Report{
		RunID:      uuid.NewString(),
		Document:   document,
		TotalPages: pageCount,
		Pages:      make([]PageResult, pageCount),
	}

	p.logger.Info("processing document",
		"document", document, "pages", pageCount, "detector", p.detector.Name(),
		"workers", p.workers, "run_id", report.RunID)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for i := 0; i < pageCount; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				report.Pages[i] = PageResult{Page: i + 1, State: StateFailed}
				return err
			}
			res, err := p.processPage(src, i, document)
			report.Pages[i] = res
			return err
		})
	}

	if err := g.Wait(); err != nil {
		p.logger.Error("document failed", "document", document, "stage", terrors.StageOf(err), "error", err)
		return nil, err
	}

	for _, pr := range report.Pages {
		report.TotalTickets += len(pr.Tickets)
	}

	if err := p.writeManifest(report); err != nil {
		return nil, terrors.NewStageError(terrors.StageSplitting, 0, err)
	}

	report.Elapsed = time.Since(start)
	p.logger.Info("document processed",
		"document", document, "pages", report.TotalPages, "tickets", report.TotalTickets,
		"elapsed", report.Elapsed.Round(time.Millisecond))

	return report, nil
}

func (p *Processor) processPage(src source.Source, index int, document string) (PageResult, error) {
	number := index + 1
	res := PageResult{Page: number, State: StateLoading}

	renderStart := time.Now()
	img, err := src.RenderPage(index, p.cfg.DPI)
	if err != nil {
		res.State = StateFailed
		return res, terrors.NewStageError(terrors.StageLoading, number, fmt.Errorf("render page: %w", err))
	}
	page, err := source.NewPage(number, document, p.cfg.DPI, img)
	if err != nil {
		res.State = StateFailed
		return res, terrors.NewStageError(terrors.StageLoading, number, err)
	}
	res.RenderElapsed = time.Since(renderStart)

	res.State = StateDetecting
	det, err := analyzer.Run(p.detector, page)
	res.Detection = det
	if err != nil {
		res.State = StateFailed
		return res, terrors.NewStageError(terrors.StageDetection, number, err)
	}

	res.State = StateSplitting
	splitStart := time.Now()
	tickets, err := p.splitter.Split(page, det.Candidates)
	if err != nil {
		res.State = StateFailed
		return res, terrors.NewStageError(terrors.StageSplitting, number, err)
	}
	res.Tickets = tickets
	res.SplitElapsed = time.Since(splitStart)
	res.State = StateDone

	if p.cfg.Debug {
		p.logger.Debug("page processed",
			"page", number, "size", fmt.Sprintf("%dx%d", page.Width(), page.Height()),
			"candidates", len(det.Candidates), "tickets", len(tickets),
			"render", res.RenderElapsed.Round(time.Millisecond),
			"detect", det.Elapsed.Round(time.Millisecond),
			"split", res.SplitElapsed.Round(time.Millisecond))
		for _, t := range tickets {
			p.logger.Debug("ticket exported",
				"page", number, "index", t.Index, "source", t.Candidate.Source,
				"confidence", fmt.Sprintf("%.3f", t.Candidate.Confidence),
				"rect", t.Rect.String(), "path", t.Path)
		}
	}

	return res, nil
}

// writeManifest records saved tickets next to them. Tickets kept only in
// memory are left out; nothing is written when no ticket reached the disk or
// the splitter has no output folder.
func (p *Processor) writeManifest(report *Report) error {
	if !p.cfg.Export.SaveToDisk || !p.cfg.Export.WriteManifest {
		return nil
	}
	dirSplitter, ok := p.splitter.(interface{ Dir(document string) string })
	if !ok {
		return nil
	}

	var saved []splitter.Ticket
	for _, t := range report.Tickets() {
		if t.Path != "" {
			saved = append(saved, t)
		}
	}
	if len(saved) == 0 {
		return nil
	}

	path := manifest.Path(dirSplitter.Dir(report.Document))
	m := manifest.New(report.RunID, report.Document, report.TotalPages, saved)
	if err := manifest.Write(m, path); err != nil {
		return fmt.Errorf("write manifest %s: %w", filepath.Base(path), err)
	}
	report.ManifestPath = path
	return nil
}
