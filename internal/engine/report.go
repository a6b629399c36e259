package engine

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ivlev/ticketsplit/internal/analyzer"
	"github.com/ivlev/ticketsplit/internal/splitter"
)

// PageResult is the outcome of one page.
type PageResult struct {
	Page          int
	State         State
	Detection     analyzer.Result
	Tickets       []splitter.Ticket
	RenderElapsed time.Duration
	SplitElapsed  time.Duration
}

// Report aggregates every page of a processed document.
type Report struct {
	RunID        string
	Document     string
	Pages        []PageResult
	TotalPages   int
	TotalTickets int
	Elapsed      time.Duration
	ManifestPath string
}

// Tickets returns all tickets in page order.
func (r *Report) Tickets() []splitter.Ticket {
	tickets := make([]splitter.Ticket, 0, r.TotalTickets)
	for _, p := range r.Pages {
		tickets = append(tickets, p.Tickets...)
	}
	return tickets
}

type timings struct {
	render, detect, split time.Duration
}

func (r *Report) timings() timings {
	var t timings
	for _, p := range r.Pages {
		t.render += p.RenderElapsed
		t.detect += p.Detection.Elapsed
		t.split += p.SplitElapsed
	}
	return t
}

// WriteStats prints the performance report. Stage times are summed over
// workers, so they can exceed the wall time.
func (r *Report) WriteStats(w io.Writer, build string) {
	t := r.timings()
	pagesPerSec := 0.0
	if r.Elapsed > 0 {
		pagesPerSec = float64(r.TotalPages) / r.Elapsed.Seconds()
	}
	fmt.Fprintf(w,
		"--- [PERFORMANCE REPORT] ---\n"+
			"Build: %s\n"+
			"Document: %s (%d pages, %d tickets)\n"+
			"Total Time: %.2fs\n"+
			"Rendering: %.2fs\n"+
			"Detection: %.2fs\n"+
			"Export: %.2fs\n"+
			"Pages/s: %.2f\n"+
			"----------------------------\n",
		build, r.Document, r.TotalPages, r.TotalTickets, r.Elapsed.Seconds(),
		t.render.Seconds(), t.detect.Seconds(), t.split.Seconds(), pagesPerSec,
	)
}

// AppendBenchmarkLog appends a one-line summary to path.
func (r *Report) AppendBenchmarkLog(path, build string) error {
	t := r.timings()
	entry := fmt.Sprintf("[%s] Build: %s | Input: %s | Pages: %d | Tickets: %d | Total: %.2fs | Render: %.2fs | Detect: %.2fs | Export: %.2fs\n",
		time.Now().Format("2006-01-02 15:04:05"),
		build, r.Document, r.TotalPages, r.TotalTickets,
		r.Elapsed.Seconds(), t.render.Seconds(), t.detect.Seconds(), t.split.Seconds(),
	)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(entry)
	return err
}
