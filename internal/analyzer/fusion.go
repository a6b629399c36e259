package analyzer

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/ivlev/ticketsplit/internal/source"
)

// Fusion runs several strategies on the same page and merges their
// candidates with greedy overlap suppression.
type Fusion struct {
	Detectors    []Detector
	IOUThreshold float64
	Logger       *slog.Logger
}

// NewFusion composes detectors in the given order.
func NewFusion(threshold float64, logger *slog.Logger, detectors ...Detector) (*Fusion, error) {
	if len(detectors) == 0 {
		return nil, fmt.Errorf("fusion requires at least one detector")
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("iou threshold must be within [0, 1], got %v", threshold)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fusion{Detectors: detectors, IOUThreshold: threshold, Logger: logger}, nil
}

func (f *Fusion) Name() string {
	names := make([]string, len(f.Detectors))
	for i, d := range f.Detectors {
		names[i] = d.Name()
	}
	return "fusion(" + strings.Join(names, ",") + ")"
}

// Detect never fails: a strategy that errors is logged and skipped.
func (f *Fusion) Detect(page *source.Page) ([]Candidate, error) {
	var all []Candidate
	for _, d := range f.Detectors {
		cands, err := d.Detect(page)
		if err != nil {
			f.Logger.Warn("detection strategy failed, skipping",
				"strategy", d.Name(), "page", page.Number, "error", err)
			continue
		}
		f.Logger.Debug("detection strategy finished",
			"strategy", d.Name(), "page", page.Number, "candidates", len(cands))
		all = append(all, cands...)
	}

	if len(all) == 0 {
		return []Candidate{}, nil
	}
	return Suppress(all, f.IOUThreshold), nil
}

// Suppress keeps candidates in descending confidence order and drops every
// candidate whose IOU with an already kept one exceeds threshold. Ties keep
// their input order. The input slice is not modified.
func Suppress(candidates []Candidate, threshold float64) []Candidate {
	sorted := append([]Candidate(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	kept := []Candidate{}
	for _, c := range sorted {
		overlaps := false
		for _, k := range kept {
			if IOU(c.Rect, k.Rect) > threshold {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, c)
		}
	}
	return kept
}
