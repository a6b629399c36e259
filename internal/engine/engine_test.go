package engine

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ivlev/ticketsplit/internal/analyzer"
	"github.com/ivlev/ticketsplit/internal/config"
	terrors "github.com/ivlev/ticketsplit/internal/errors"
	"github.com/ivlev/ticketsplit/internal/manifest"
	"github.com/ivlev/ticketsplit/internal/source"
	"github.com/ivlev/ticketsplit/internal/splitter"
)

// memorySource serves pre-built pages.
type memorySource struct {
	pages     []image.Image
	failIndex int
}

func newMemorySource(n, w, h int) *memorySource {
	s := &memorySource{failIndex: -1}
	for i := 0; i < n; i++ {
		img := image.NewGray(image.Rect(0, 0, w, h))
		for j := range img.Pix {
			img.Pix[j] = 255
		}
		s.pages = append(s.pages, img)
	}
	return s
}

func (s *memorySource) PageCount() int { return len(s.pages) }

func (s *memorySource) GetPageDimensions(index int) (float64, float64, error) {
	b := s.pages[index].Bounds()
	return float64(b.Dx()), float64(b.Dy()), nil
}

func (s *memorySource) RenderPage(index int, dpi int) (image.Image, error) {
	if index == s.failIndex {
		return nil, errors.New("corrupt page stream")
	}
	return s.pages[index], nil
}

func (s *memorySource) Close() error { return nil }

type failingDetector struct{}

func (failingDetector) Name() string { return "broken" }

func (failingDetector) Detect(*source.Page) ([]analyzer.Candidate, error) {
	return nil, errors.New("model not loaded")
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Strategies = []string{config.StrategyFullPage}
	cfg.Export.OutputRoot = t.TempDir()
	cfg.Export.Padding = 0
	cfg.Workers = 2
	cfg.Debug = true
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestProcessFullPage(t *testing.T) {
	cfg := testConfig(t)
	p, err := NewProcessor(cfg, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewProcessor failed: %v", err)
	}

	report, err := p.Process(context.Background(), newMemorySource(3, 60, 40), "batch")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if report.TotalPages != 3 || report.TotalTickets != 3 {
		t.Fatalf("report totals = %d pages / %d tickets", report.TotalPages, report.TotalTickets)
	}
	if report.RunID == "" {
		t.Error("run id should be set")
	}

	for i, pr := range report.Pages {
		if pr.Page != i+1 || pr.State != StateDone {
			t.Errorf("page %d: number/state = %d/%s", i, pr.Page, pr.State)
		}
		if len(pr.Tickets) != 1 {
			t.Fatalf("page %d: %d tickets", i+1, len(pr.Tickets))
		}
		want := filepath.Join(cfg.Export.OutputRoot, "batch", splitter.Filename(i+1, 0, "png"))
		if pr.Tickets[0].Path != want {
			t.Errorf("path = %s, want %s", pr.Tickets[0].Path, want)
		}
		if _, err := os.Stat(want); err != nil {
			t.Errorf("ticket file missing: %v", err)
		}
	}

	m, err := manifest.Read(report.ManifestPath)
	if err != nil {
		t.Fatalf("manifest: %v", err)
	}
	if m.RunID != report.RunID || len(m.Tickets) != 3 {
		t.Errorf("manifest = %+v", m)
	}
	if m.Tickets[2].Page != 3 {
		t.Errorf("manifest entries out of page order: %+v", m.Tickets)
	}
}

func TestProcessStageFailures(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(t *testing.T, cfg *config.Config, src *memorySource) []Option
		wantStage terrors.Stage
		wantCode  terrors.ErrorCode
	}{
		{
			name: "render failure",
			setup: func(t *testing.T, cfg *config.Config, src *memorySource) []Option {
				src.failIndex = 1
				return nil
			},
			wantStage: terrors.StageLoading,
		},
		{
			name: "detector failure",
			setup: func(t *testing.T, cfg *config.Config, src *memorySource) []Option {
				return []Option{WithDetector(failingDetector{})}
			},
			wantStage: terrors.StageDetection,
		},
		{
			name: "export failure",
			setup: func(t *testing.T, cfg *config.Config, src *memorySource) []Option {
				blocked := filepath.Join(t.TempDir(), "file")
				os.WriteFile(blocked, []byte("x"), 0644)
				cfg.Export.OutputRoot = blocked
				return nil
			},
			wantStage: terrors.StageSplitting,
			wantCode:  terrors.ErrorExportFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			src := newMemorySource(3, 50, 50)
			opts := append(tt.setup(t, &cfg, src), WithLogger(quietLogger()))

			p, err := NewProcessor(cfg, opts...)
			if err != nil {
				t.Fatal(err)
			}

			report, err := p.Process(context.Background(), src, "doc")
			if err == nil {
				t.Fatalf("expected failure, got report %+v", report)
			}
			if report != nil {
				t.Error("no report expected on failure")
			}
			if terrors.CodeOf(err) != terrors.ErrorStageFailed {
				t.Errorf("code = %q, want stage failure: %v", terrors.CodeOf(err), err)
			}
			if got := terrors.StageOf(err); got != tt.wantStage {
				t.Errorf("stage = %q, want %q", got, tt.wantStage)
			}
			if tt.wantCode != "" && !terrors.HasCode(err, tt.wantCode) {
				t.Errorf("expected %s in chain: %v", tt.wantCode, err)
			}
		})
	}
}

func TestProcessEmptyDocument(t *testing.T) {
	p, err := NewProcessor(testConfig(t), WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.Process(context.Background(), newMemorySource(0, 10, 10), "empty")
	if terrors.StageOf(err) != terrors.StageLoading {
		t.Fatalf("expected loading failure, got %v", err)
	}
}

func TestProcessNoCandidates(t *testing.T) {
	cfg := testConfig(t)
	cfg.Strategies = []string{config.StrategyContour}
	p, err := NewProcessor(cfg, WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}

	report, err := p.Process(context.Background(), newMemorySource(2, 80, 80), "blank")
	if err != nil {
		t.Fatal(err)
	}
	if report.TotalTickets != 0 {
		t.Errorf("blank pages produced %d tickets", report.TotalTickets)
	}
	if report.ManifestPath != "" {
		t.Error("no manifest expected without tickets")
	}
	if _, err := os.Stat(filepath.Join(cfg.Export.OutputRoot, "blank")); !os.IsNotExist(err) {
		t.Error("document folder should not exist")
	}
}

func TestProcessorWithOverride(t *testing.T) {
	cfg := testConfig(t)
	base, err := NewProcessor(cfg, WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}

	memOnly, err := splitter.New(splitter.Options{ReturnBytes: true})
	if err != nil {
		t.Fatal(err)
	}
	p, err := base.With(WithSplitter(memOnly))
	if err != nil {
		t.Fatal(err)
	}

	// The in-memory splitter resolves its folder against the working directory
	t.Chdir(t.TempDir())

	report, err := p.Process(context.Background(), newMemorySource(1, 30, 30), "mem")
	if err != nil {
		t.Fatal(err)
	}
	tk := report.Pages[0].Tickets[0]
	if tk.Path != "" || len(tk.Data) == 0 {
		t.Errorf("expected in-memory ticket, got path=%q bytes=%d", tk.Path, len(tk.Data))
	}
	if base.splitter == p.splitter {
		t.Error("override must not change the base processor")
	}

	// Nothing reached the disk, so there is nothing to list
	if report.ManifestPath != "" {
		t.Errorf("manifest written for in-memory tickets: %s", report.ManifestPath)
	}
	if _, err := os.Stat(manifest.Path(memOnly.Dir("mem"))); !os.IsNotExist(err) {
		t.Errorf("manifest file should not exist, stat err = %v", err)
	}
}

func TestProcessorWithLocatorRebuildsDetector(t *testing.T) {
	cfg := testConfig(t)
	cfg.Strategies = []string{config.StrategyOCR}

	var firstCalls, secondCalls int
	first := analyzer.LocatorFunc(func(image.Image) ([]analyzer.Polygon, error) {
		firstCalls++
		return nil, nil
	})
	second := analyzer.LocatorFunc(func(image.Image) ([]analyzer.Polygon, error) {
		secondCalls++
		return nil, nil
	})

	base, err := NewProcessor(cfg, WithLocator(first), WithLogger(quietLogger()), WithWorkers(1))
	if err != nil {
		t.Fatal(err)
	}
	p, err := base.With(WithLocator(second))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := p.Process(context.Background(), newMemorySource(1, 40, 40), "relocated"); err != nil {
		t.Fatal(err)
	}
	if firstCalls != 0 || secondCalls != 1 {
		t.Errorf("locator calls = %d/%d, want 0/1", firstCalls, secondCalls)
	}

	// An explicit detector wins over the locator
	q, err := base.With(WithLocator(second), WithDetector(analyzer.FullPageDetector{}))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := q.Detector().(analyzer.FullPageDetector); !ok {
		t.Errorf("detector = %T, want the explicit override", q.Detector())
	}
}

func TestProcessCancelled(t *testing.T) {
	p, err := NewProcessor(testConfig(t), WithLogger(quietLogger()), WithWorkers(1))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Process(ctx, newMemorySource(4, 20, 20), "cancelled"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewProcessorRequiresLocatorForOCR(t *testing.T) {
	cfg := testConfig(t)
	cfg.Strategies = []string{config.StrategyOCR, config.StrategyContour}
	if _, err := NewProcessor(cfg); err == nil {
		t.Fatal("expected error without a text-line locator")
	}

	locator := analyzer.LocatorFunc(func(image.Image) ([]analyzer.Polygon, error) { return nil, nil })
	p, err := NewProcessor(cfg, WithLocator(locator), WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.Detector().(*analyzer.Fusion); !ok {
		t.Errorf("detector = %T, want fusion", p.Detector())
	}
}

func TestProcessFileImageFolder(t *testing.T) {
	cfg := testConfig(t)
	dir := filepath.Join(t.TempDir(), "scans")
	os.MkdirAll(dir, 0755)

	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	if err := splitter.Encode(&buf, img, "png", 0); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(dir, "a.png"), buf.Bytes(), 0644)
	os.WriteFile(filepath.Join(dir, "b.png"), buf.Bytes(), 0644)

	p, err := NewProcessor(cfg, WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	report, err := p.ProcessFile(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if report.Document != "scans" || report.TotalTickets != 2 {
		t.Errorf("report = %s / %d tickets", report.Document, report.TotalTickets)
	}

	var stats bytes.Buffer
	report.WriteStats(&stats, "test")
	if !strings.Contains(stats.String(), "2 tickets") {
		t.Errorf("stats missing ticket count:\n%s", stats.String())
	}

	logPath := filepath.Join(t.TempDir(), "benchmark.log")
	if err := report.AppendBenchmarkLog(logPath, "test"); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(logPath)
	if !strings.Contains(string(data), "Input: scans") {
		t.Errorf("benchmark log = %q", data)
	}
}

func TestProcessFileMissing(t *testing.T) {
	p, err := NewProcessor(testConfig(t), WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.ProcessFile(context.Background(), filepath.Join(t.TempDir(), "missing.png"))
	if terrors.StageOf(err) != terrors.StageLoading {
		t.Fatalf("expected loading failure, got %v", err)
	}
}
