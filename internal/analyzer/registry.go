package analyzer

import (
	"fmt"
	"log/slog"

	"github.com/ivlev/ticketsplit/internal/config"
	"github.com/ivlev/ticketsplit/internal/source"
)

// FullPageDetector reports the whole page as a single ticket. It serves as a
// fallback for pages that hold exactly one receipt.
type FullPageDetector struct{}

func (FullPageDetector) Name() string {
	return SourceFullPage
}

func (FullPageDetector) Detect(page *source.Page) ([]Candidate, error) {
	cand, err := NewCandidate(page.Bounds(), 1.0, SourceFullPage, page.Number)
	if err != nil {
		return nil, err
	}
	return []Candidate{cand}, nil
}

// New creates the detector registered under name
func New(name string, cfg config.Config, locator TextLineLocator) (Detector, error) {
	switch name {
	case config.StrategyOCR:
		if locator == nil {
			return nil, fmt.Errorf("ocr strategy requires a text-line locator")
		}
		return NewTextClusterDetector(locator, cfg.TextCluster), nil
	case config.StrategyContour:
		return NewContourDetector(cfg.Contour), nil
	case config.StrategyFullPage:
		return FullPageDetector{}, nil
	default:
		return nil, fmt.Errorf("unknown detection strategy: %s", name)
	}
}

// Build composes every configured strategy. A single strategy is returned as
// is, so its failures reach the caller; several are wrapped in a Fusion.
func Build(cfg config.Config, locator TextLineLocator, logger *slog.Logger) (Detector, error) {
	if len(cfg.Strategies) == 0 {
		return nil, fmt.Errorf("at least one detection strategy must be configured")
	}

	detectors := make([]Detector, 0, len(cfg.Strategies))
	for _, name := range cfg.Strategies {
		d, err := New(name, cfg, locator)
		if err != nil {
			return nil, err
		}
		detectors = append(detectors, d)
	}

	if len(detectors) == 1 {
		return detectors[0], nil
	}
	return NewFusion(cfg.IOUThreshold, logger, detectors...)
}
