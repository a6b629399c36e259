package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if cfg.DPI != 220 {
		t.Errorf("DPI = %d, want 220", cfg.DPI)
	}
	if !reflect.DeepEqual(cfg.Strategies, []string{"ocr", "contour"}) {
		t.Errorf("Strategies = %v", cfg.Strategies)
	}
	if cfg.Export.Padding != 10 {
		t.Errorf("Padding = %d, want 10", cfg.Export.Padding)
	}
}

func TestParseStrategies(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr string
	}{
		{"single", "ocr", []string{"ocr"}, ""},
		{"trim and lowercase", " OCR , Contour ", []string{"ocr", "contour"}, ""},
		{"duplicates collapse", "contour,contour", []string{"contour"}, ""},
		{"full page", "full-page", []string{"full-page"}, ""},
		{"invalid", "ocr,magic", nil, "invalid detection strategy"},
		{"empty", " , ", nil, "at least one detection strategy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStrategies(tt.input)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"negative padding", func(c *Config) { c.Export.Padding = -1 }, "padding cannot be negative"},
		{"blank output root", func(c *Config) { c.Export.OutputRoot = "   " }, "output root cannot be empty"},
		{"blank root without saving", func(c *Config) { c.Export.OutputRoot = ""; c.Export.SaveToDisk = false }, ""},
		{"no strategies", func(c *Config) { c.Strategies = nil }, "at least one detection strategy"},
		{"bad strategy", func(c *Config) { c.Strategies = []string{"yolo"} }, "invalid detection strategy"},
		{"iou above one", func(c *Config) { c.IOUThreshold = 1.5 }, "iou threshold"},
		{"even blur kernel", func(c *Config) { c.Contour.BlurKernel = 4 }, "blur_kernel"},
		{"canny inverted", func(c *Config) { c.Contour.CannyLow = 200 }, "canny"},
		{"zero dpi", func(c *Config) { c.DPI = 0 }, "dpi"},
		{"bad format", func(c *Config) { c.Export.Format = "gif" }, "unsupported export format"},
		{"uppercase format", func(c *Config) { c.Export.Format = "JPEG" }, ""},
		{"zero eps", func(c *Config) { c.TextCluster.Eps = 0 }, "eps"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ticketsplit.yaml")
	content := `
dpi: 150
strategies: [" Contour "]
export:
  padding: 4
  format: jpg
contour:
  min_area: 1200
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DPI != 150 {
		t.Errorf("DPI = %d, want 150", cfg.DPI)
	}
	if !reflect.DeepEqual(cfg.Strategies, []string{"contour"}) {
		t.Errorf("Strategies = %v, want [contour]", cfg.Strategies)
	}
	if cfg.Export.Padding != 4 || cfg.Export.Format != "jpg" {
		t.Errorf("Export = %+v", cfg.Export)
	}
	// Untouched fields keep their defaults
	if cfg.Export.OutputRoot != "./outputs/tickets" {
		t.Errorf("OutputRoot = %q", cfg.Export.OutputRoot)
	}
	if cfg.Contour.MinArea != 1200 || cfg.Contour.CannyHigh != 150 {
		t.Errorf("Contour = %+v", cfg.Contour)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config should validate: %v", err)
	}
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Error("empty path should return defaults")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
