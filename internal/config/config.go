package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Detection strategy names accepted in Config.Strategies.
const (
	StrategyOCR      = "ocr"
	StrategyContour  = "contour"
	StrategyFullPage = "full-page"
)

// Export formats understood by the splitter.
var SupportedFormats = []string{"png", "jpg", "jpeg", "tiff", "bmp"}

type Config struct {
	DPI          int               `yaml:"dpi"`
	Workers      int               `yaml:"workers"` // 0 - по числу ядер и свободной памяти
	Strategies   []string          `yaml:"strategies"`
	IOUThreshold float64           `yaml:"iou_threshold"`
	TextCluster  TextClusterConfig `yaml:"text_cluster"`
	Contour      ContourConfig     `yaml:"contour"`
	Export       ExportConfig      `yaml:"export"`
	OCR          OCRConfig         `yaml:"ocr"`
	Debug        bool              `yaml:"debug"`
}

type TextClusterConfig struct {
	MinTextBoxes int     `yaml:"min_text_boxes"`
	MinArea      int     `yaml:"min_area"`
	Eps          float64 `yaml:"eps"`
	MinSamples   int     `yaml:"min_samples"`
}

type ContourConfig struct {
	MinArea        int     `yaml:"min_area"`
	MaxAreaRatio   float64 `yaml:"max_area_ratio"`
	MinAspectRatio float64 `yaml:"min_aspect_ratio"`
	MaxAspectRatio float64 `yaml:"max_aspect_ratio"`
	CannyLow       float64 `yaml:"canny_low"`
	CannyHigh      float64 `yaml:"canny_high"`
	BlurKernel     int     `yaml:"blur_kernel"`
	MorphKernel    int     `yaml:"morph_kernel"`
}

type ExportConfig struct {
	OutputRoot    string `yaml:"output_root"`
	Padding       int    `yaml:"padding"`
	Format        string `yaml:"format"`
	JPEGQuality   int    `yaml:"jpeg_quality"`
	SaveToDisk    bool   `yaml:"save_to_disk"`
	ReturnBytes   bool   `yaml:"return_bytes"`
	WriteManifest bool   `yaml:"write_manifest"`
}

type OCRConfig struct {
	Languages   []string `yaml:"languages"`
	PageSegMode int      `yaml:"page_seg_mode"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		DPI:          220,
		Strategies:   []string{StrategyOCR, StrategyContour},
		IOUThreshold: 0.5,
		TextCluster: TextClusterConfig{
			MinTextBoxes: 3,
			MinArea:      10000,
			Eps:          50.0,
			MinSamples:   2,
		},
		Contour: ContourConfig{
			MinArea:        5000,
			MaxAreaRatio:   0.9,
			MinAspectRatio: 0.3,
			MaxAspectRatio: 3.0,
			CannyLow:       50,
			CannyHigh:      150,
			BlurKernel:     5,
			MorphKernel:    5,
		},
		Export: ExportConfig{
			OutputRoot:    "./outputs/tickets",
			Padding:       10,
			Format:        "png",
			JPEGQuality:   95,
			SaveToDisk:    true,
			WriteManifest: true,
		},
		OCR: OCRConfig{
			Languages:   []string{"eng"},
			PageSegMode: 3,
		},
	}
}

// Load overlays a YAML file on top of Default. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	if len(cfg.Strategies) > 0 {
		strategies, err := normalizeStrategies(cfg.Strategies)
		if err != nil {
			return cfg, err
		}
		cfg.Strategies = strategies
	}

	return cfg, nil
}

// ParseStrategies parses a comma separated strategy list such as "OCR, contour".
func ParseStrategies(value string) ([]string, error) {
	return normalizeStrategies(strings.Split(value, ","))
}

func normalizeStrategies(values []string) ([]string, error) {
	var strategies []string
	seen := make(map[string]bool)
	for _, v := range values {
		name := strings.ToLower(strings.TrimSpace(v))
		if name == "" {
			continue
		}
		if !isStrategy(name) {
			return nil, fmt.Errorf("invalid detection strategy %q: expected one of %s, %s, %s",
				name, StrategyOCR, StrategyContour, StrategyFullPage)
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		strategies = append(strategies, name)
	}
	if len(strategies) == 0 {
		return nil, fmt.Errorf("at least one detection strategy must be configured")
	}
	return strategies, nil
}

func isStrategy(name string) bool {
	switch name {
	case StrategyOCR, StrategyContour, StrategyFullPage:
		return true
	}
	return false
}

// Validate checks every field that the detectors, splitter and pipeline depend on.
func (c Config) Validate() error {
	if c.DPI <= 0 {
		return fmt.Errorf("dpi must be positive, got %d", c.DPI)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers cannot be negative, got %d", c.Workers)
	}
	if _, err := normalizeStrategies(c.Strategies); err != nil {
		return err
	}
	if c.IOUThreshold < 0 || c.IOUThreshold > 1 {
		return fmt.Errorf("iou threshold must be within [0, 1], got %v", c.IOUThreshold)
	}

	tc := c.TextCluster
	if tc.MinTextBoxes < 1 {
		return fmt.Errorf("text_cluster.min_text_boxes must be at least 1, got %d", tc.MinTextBoxes)
	}
	if tc.Eps <= 0 {
		return fmt.Errorf("text_cluster.eps must be positive, got %v", tc.Eps)
	}
	if tc.MinSamples < 1 {
		return fmt.Errorf("text_cluster.min_samples must be at least 1, got %d", tc.MinSamples)
	}
	if tc.MinArea < 0 {
		return fmt.Errorf("text_cluster.min_area cannot be negative, got %d", tc.MinArea)
	}

	cc := c.Contour
	if cc.MinArea < 0 {
		return fmt.Errorf("contour.min_area cannot be negative, got %d", cc.MinArea)
	}
	if cc.MaxAreaRatio <= 0 || cc.MaxAreaRatio > 1 {
		return fmt.Errorf("contour.max_area_ratio must be within (0, 1], got %v", cc.MaxAreaRatio)
	}
	if cc.MinAspectRatio <= 0 || cc.MinAspectRatio > cc.MaxAspectRatio {
		return fmt.Errorf("contour aspect bounds are invalid: [%v, %v]", cc.MinAspectRatio, cc.MaxAspectRatio)
	}
	if cc.CannyLow < 0 || cc.CannyLow > cc.CannyHigh {
		return fmt.Errorf("contour canny thresholds are invalid: low=%v high=%v", cc.CannyLow, cc.CannyHigh)
	}
	if cc.BlurKernel < 1 || cc.BlurKernel%2 == 0 {
		return fmt.Errorf("contour.blur_kernel must be a positive odd number, got %d", cc.BlurKernel)
	}
	if cc.MorphKernel < 1 {
		return fmt.Errorf("contour.morph_kernel must be positive, got %d", cc.MorphKernel)
	}

	return c.Export.Validate()
}

// Validate checks the export section on its own; the splitter reuses it.
func (e ExportConfig) Validate() error {
	if e.Padding < 0 {
		return fmt.Errorf("padding cannot be negative, got %d", e.Padding)
	}
	if e.SaveToDisk && strings.TrimSpace(e.OutputRoot) == "" {
		return fmt.Errorf("output root cannot be empty when saving to disk")
	}
	if !IsSupportedFormat(e.Format) {
		return fmt.Errorf("unsupported export format %q: expected one of %s",
			e.Format, strings.Join(SupportedFormats, ", "))
	}
	if e.JPEGQuality < 1 || e.JPEGQuality > 100 {
		return fmt.Errorf("jpeg quality must be within [1, 100], got %d", e.JPEGQuality)
	}
	return nil
}

func IsSupportedFormat(format string) bool {
	format = strings.ToLower(format)
	for _, f := range SupportedFormats {
		if f == format {
			return true
		}
	}
	return false
}

// HasStrategy reports whether name is among the configured strategies.
func (c Config) HasStrategy(name string) bool {
	for _, s := range c.Strategies {
		if s == name {
			return true
		}
	}
	return false
}
