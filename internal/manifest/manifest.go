package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ivlev/ticketsplit/internal/splitter"
)

const (
	Version  = "1"
	FileName = "manifest.yaml"
)

// Manifest describes every ticket exported from one document
type Manifest struct {
	Version   string    `yaml:"version"`
	RunID     string    `yaml:"run_id"`
	Document  string    `yaml:"document"`
	CreatedAt time.Time `yaml:"created_at"`
	Pages     int       `yaml:"pages"`
	Tickets   []Entry   `yaml:"tickets"`
}

// Entry is a single exported ticket
type Entry struct {
	Page       int       `yaml:"page"`
	Index      int       `yaml:"index"`
	Source     string    `yaml:"source"` // Detection strategy that produced the region
	Confidence float64   `yaml:"confidence"`
	Region     Rectangle `yaml:"region"` // Detected region before padding
	Crop       Rectangle `yaml:"crop"`   // Exported rectangle after padding
	File       string    `yaml:"file,omitempty"`
}

// Rectangle represents a bounding box
type Rectangle struct {
	X int `yaml:"x"`
	Y int `yaml:"y"`
	W int `yaml:"w"`
	H int `yaml:"h"`
}

// New builds a manifest from tickets in page order
func New(runID, document string, pages int, tickets []splitter.Ticket) *Manifest {
	m := &Manifest{
		Version:   Version,
		RunID:     runID,
		Document:  document,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		Pages:     pages,
		Tickets:   make([]Entry, 0, len(tickets)),
	}

	for _, t := range tickets {
		file := ""
		if t.Path != "" {
			file = filepath.Base(t.Path)
		}
		r := t.Candidate.Rect
		m.Tickets = append(m.Tickets, Entry{
			Page:       t.Page,
			Index:      t.Index,
			Source:     t.Candidate.Source,
			Confidence: t.Candidate.Confidence,
			Region:     Rectangle{X: r.Min.X, Y: r.Min.Y, W: r.Dx(), H: r.Dy()},
			Crop:       Rectangle{X: t.Rect.Min.X, Y: t.Rect.Min.Y, W: t.Width, H: t.Height},
			File:       file,
		})
	}

	return m
}

// Path returns the manifest location inside a document's ticket folder
func Path(dir string) string {
	return filepath.Join(dir, FileName)
}

// Write writes a manifest to a YAML file
func Write(m *Manifest, path string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Read reads a manifest from a YAML file
func Read(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}

	return &m, nil
}
