package main

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/ivlev/ticketsplit/internal/analyzer"
	"github.com/ivlev/ticketsplit/internal/config"
	"github.com/ivlev/ticketsplit/internal/manifest"
	"github.com/ivlev/ticketsplit/internal/source"
	"github.com/ivlev/ticketsplit/internal/splitter"
)

func main() {
	outDir := filepath.Join(os.TempDir(), "ticketsplit_demo")
	cfg := config.Default()

	fmt.Println("=== Ticket Split Demo ===")
	fmt.Printf("Output: %s\n\n", outDir)

	// Step 1: Create synthetic scan
	fmt.Println("[1/4] Creating synthetic scan with three receipts...")
	img := createTestImage(1700, 2200)
	page, err := source.NewPage(1, "demo_scan", cfg.DPI, img)
	if err != nil {
		log.Fatalf("Failed to create page: %v", err)
	}
	fmt.Printf("✓ Created test page (%dx%d)\n\n", page.Width(), page.Height())

	// Step 2: Detect ticket outlines
	fmt.Println("[2/4] Detecting ticket outlines...")
	cfg.Strategies = []string{config.StrategyContour}
	detector, err := analyzer.Build(cfg, nil, nil)
	if err != nil {
		log.Fatalf("Failed to create detector: %v", err)
	}

	result, err := analyzer.Run(detector, page)
	if err != nil {
		log.Fatalf("Failed to detect tickets: %v", err)
	}
	fmt.Printf("✓ Detected %d tickets in %v\n", len(result.Candidates), result.Elapsed)
	for i, c := range result.Candidates {
		fmt.Printf("  Ticket %d: %v (confidence: %.2f)\n", i, c.Rect, c.Confidence)
	}
	fmt.Println()

	// Step 3: Export crops
	fmt.Println("[3/4] Exporting crops...")
	opts := splitter.OptionsFromConfig(cfg.Export)
	opts.OutputRoot = outDir
	s, err := splitter.New(opts)
	if err != nil {
		log.Fatalf("Failed to create splitter: %v", err)
	}
	tickets, err := s.Split(page, result.Candidates)
	if err != nil {
		log.Fatalf("Failed to export tickets: %v", err)
	}
	for _, t := range tickets {
		fmt.Printf("✓ %s (%dx%d)\n", t.Path, t.Width, t.Height)
	}
	fmt.Println()

	// Step 4: Manifest and edge map for threshold tuning
	fmt.Println("[4/4] Writing manifest and edge map...")
	dir := s.Dir(page.Document)
	m := manifest.New(uuid.NewString(), page.Document, 1, tickets)
	if err := manifest.Write(m, manifest.Path(dir)); err != nil {
		log.Fatalf("Failed to write manifest: %v", err)
	}

	if cd, ok := detector.(*analyzer.ContourDetector); ok {
		edgesPath := filepath.Join(dir, "edges.png")
		f, err := os.Create(edgesPath)
		if err != nil {
			log.Fatalf("Failed to create edge map: %v", err)
		}
		defer f.Close()
		if err := png.Encode(f, cd.EdgeMap(img)); err != nil {
			log.Fatalf("Failed to encode edge map: %v", err)
		}
		fmt.Printf("✓ Edge map: %s\n", edgesPath)
	}
	fmt.Printf("✓ Manifest: %s\n", manifest.Path(dir))
}

// createTestImage draws grey receipts with dark text lines on a white scanner bed
func createTestImage(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{255, 255, 255, 255})
		}
	}

	receipts := []image.Rectangle{
		image.Rect(120, 150, 720, 1150),
		image.Rect(900, 200, 1550, 900),
		image.Rect(300, 1350, 1300, 2000),
	}

	for _, r := range receipts {
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				img.Set(x, y, color.RGBA{150, 150, 150, 255})
			}
		}
		// Text lines
		for ly := r.Min.Y + 40; ly+12 < r.Max.Y-40; ly += 45 {
			for y := ly; y < ly+12; y++ {
				for x := r.Min.X + 40; x < r.Max.X-120; x++ {
					img.Set(x, y, color.RGBA{40, 40, 40, 255})
				}
			}
		}
	}

	return img
}
