package manifest

import (
	"image"
	"path/filepath"
	"testing"

	"github.com/ivlev/ticketsplit/internal/analyzer"
	"github.com/ivlev/ticketsplit/internal/splitter"
)

func TestWriteAndRead(t *testing.T) {
	dir := t.TempDir()

	cand, err := analyzer.NewCandidate(image.Rect(100, 80, 300, 220), 0.92, analyzer.SourceContour, 2)
	if err != nil {
		t.Fatal(err)
	}
	tickets := []splitter.Ticket{{
		Page:      2,
		Index:     0,
		Candidate: cand,
		Rect:      image.Rect(90, 70, 310, 230),
		Width:     220,
		Height:    160,
		Path:      filepath.Join(dir, "page_2_ticket_0.png"),
	}}

	m := New("run-1", "invoices", 3, tickets)
	path := Path(filepath.Join(dir, "invoices"))
	if err := Write(m, path); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	if got.Version != Version || got.RunID != "run-1" || got.Document != "invoices" || got.Pages != 3 {
		t.Errorf("header = %+v", got)
	}
	if !got.CreatedAt.Equal(m.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, m.CreatedAt)
	}
	if len(got.Tickets) != 1 {
		t.Fatalf("got %d tickets", len(got.Tickets))
	}

	e := got.Tickets[0]
	if e.File != "page_2_ticket_0.png" {
		t.Errorf("file = %s", e.File)
	}
	if e.Region != (Rectangle{X: 100, Y: 80, W: 200, H: 140}) {
		t.Errorf("region = %+v", e.Region)
	}
	if e.Crop != (Rectangle{X: 90, Y: 70, W: 220, H: 160}) {
		t.Errorf("crop = %+v", e.Crop)
	}
	if e.Source != analyzer.SourceContour || e.Confidence != 0.92 {
		t.Errorf("entry = %+v", e)
	}
}

func TestReadMissing(t *testing.T) {
	if _, err := Read(filepath.Join(t.TempDir(), FileName)); err == nil {
		t.Error("expected error for missing manifest")
	}
}
