package ingest

import (
	"fmt"
	"io"
	"sync"
	"time"

	"dota-ingest/internal/cursor"
	"dota-ingest/internal/opendota"
)

// StopReason says why a run ended
type StopReason string

const (
	StopExhausted  StopReason = "exhausted"
	StopMaxPages   StopReason = "max_pages"
	StopTimeBudget StopReason = "time_budget"
	StopCaughtUp   StopReason = "caught_up"
	StopCancelled  StopReason = "cancelled"
	StopFailed     StopReason = "failed"
	StopItemError  StopReason = "item_error"
)

// Report summarises one Driver run
type Report struct {
	RunID   string
	Bracket opendota.Bracket
	Mode    Mode

	StartedAt  time.Time
	FinishedAt time.Time

	Pages     int
	Summaries int
	Details   int
	Replays   []string // paths of downloaded replays
	// ReplayBytes is the total size of downloaded replays
	ReplayBytes int64

	ItemErrors []ItemError
	// Duplicates counts summaries whose id the run had probably emitted before
	Duplicates int
	// Abandoned counts selected matches left unprocessed because the run was cancelled
	Abandoned int

	StartCursor cursor.Cursor
	FinalCursor cursor.Cursor
	HighWater   uint64

	StopReason StopReason

	mu sync.Mutex
}

// Duration returns the wall time of the run
func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// ErrorsByStage counts item errors per stage
func (r *Report) ErrorsByStage() map[Stage]int {
	counts := make(map[Stage]int)
	for _, e := range r.ItemErrors {
		counts[e.Stage]++
	}
	return counts
}

func (r *Report) addItemError(e ItemError) {
	r.mu.Lock()
	r.ItemErrors = append(r.ItemErrors, e)
	r.mu.Unlock()
}

func (r *Report) addDetail() {
	r.mu.Lock()
	r.Details++
	r.mu.Unlock()
}

func (r *Report) addReplay(path string, size int64) {
	r.mu.Lock()
	r.Replays = append(r.Replays, path)
	r.ReplayBytes += size
	r.mu.Unlock()
}

func (r *Report) addAbandoned() {
	r.mu.Lock()
	r.Abandoned++
	r.mu.Unlock()
}

// PrintSummary writes a human readable summary of the run
func (r *Report) PrintSummary(w io.Writer) {
	elapsed := r.Duration()

	fmt.Fprintf(w, "\n=== Ingest Run %s ===\n", r.RunID)
	fmt.Fprintf(w, "Bracket: %s (%s)\n", r.Bracket.Key(), r.Mode)
	fmt.Fprintf(w, "Total time: %s\n", FormatDuration(elapsed))
	fmt.Fprintf(w, "Stopped: %s\n", r.StopReason)
	fmt.Fprintf(w, "Pages fetched: %d\n", r.Pages)
	fmt.Fprintf(w, "Summaries emitted: %d\n", r.Summaries)
	if r.Duplicates > 0 {
		fmt.Fprintf(w, "Suspected duplicates: %d\n", r.Duplicates)
	}
	fmt.Fprintf(w, "Details fetched: %d\n", r.Details)
	fmt.Fprintf(w, "Replays downloaded: %d (%.1f MB)\n", len(r.Replays), float64(r.ReplayBytes)/(1024*1024))
	fmt.Fprintf(w, "Cursor: %s -> %s (high water %d)\n", r.StartCursor, r.FinalCursor, r.HighWater)

	if len(r.ItemErrors) > 0 {
		fmt.Fprintf(w, "Item errors: %d\n", len(r.ItemErrors))
		for stage, n := range r.ErrorsByStage() {
			fmt.Fprintf(w, "  %s: %d\n", stage, n)
		}
	}
	if r.Abandoned > 0 {
		fmt.Fprintf(w, "Abandoned on shutdown: %d\n", r.Abandoned)
	}

	if r.Summaries > 0 && elapsed > 0 {
		fmt.Fprintf(w, "Throughput: %.1f matches/min\n", float64(r.Summaries)/elapsed.Minutes())
	}
}

// FormatDuration renders d as 12.3s, 4m05s or 1h02m03s
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	} else if d < time.Hour {
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%02ds", mins, secs)
	}
	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	secs := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh%02dm%02ds", hours, mins, secs)
}
