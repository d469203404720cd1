package ingest

import (
	"fmt"
	"time"

	"dota-ingest/internal/opendota"
)

// Mode selects the direction of a walk
type Mode string

const (
	// ModeBackfill resumes from the stored cursor and walks into history
	ModeBackfill Mode = "backfill"
	// ModeCatchUp starts at the newest page and stops at the stored high water mark
	ModeCatchUp Mode = "catchup"
)

// ExhaustedAction says what to do when the feed returns an empty page
type ExhaustedAction string

const (
	OnExhaustedStop ExhaustedAction = "stop"
	OnExhaustedWait ExhaustedAction = "wait"
)

// Policy configures a Driver run
type Policy struct {
	Bracket opendota.Bracket
	Mode    Mode

	// MaxPages stops the walk after this many pages (0 = unlimited)
	MaxPages int
	// TimeBudget stops the walk once elapsed (0 = none). In-flight work still finishes.
	TimeBudget time.Duration

	OnExhausted       ExhaustedAction
	ExhaustedWait     time.Duration
	MaxExhaustedWaits int

	FetchDetails bool
	// DetailsPerPage caps detail lookups per page (0 = every emitted match)
	DetailsPerPage  int
	DownloadReplays bool
	Concurrency     int

	AbortOnItemError bool

	Retry RetryPolicy
}

// DefaultPolicy returns a configuration with sensible defaults
func DefaultPolicy() Policy {
	return Policy{
		Bracket:           opendota.Bracket{MinRank: 80, MaxRank: 80},
		Mode:              ModeBackfill,
		MaxPages:          10,
		OnExhausted:       OnExhaustedStop,
		ExhaustedWait:     time.Minute,
		MaxExhaustedWaits: 5,
		FetchDetails:      false,
		Concurrency:       4,
		Retry: RetryPolicy{
			MaxAttempts:    4,
			InitialBackoff: 2 * time.Second,
			MaxBackoff:     30 * time.Second,
		},
	}
}

// Validate checks the policy for values the driver cannot run with
func (p Policy) Validate() error {
	if p.Bracket.MinRank > p.Bracket.MaxRank {
		return fmt.Errorf("bracket min rank %d above max rank %d", p.Bracket.MinRank, p.Bracket.MaxRank)
	}
	switch p.Mode {
	case ModeBackfill, ModeCatchUp:
	default:
		return fmt.Errorf("unknown mode %q", p.Mode)
	}
	switch p.OnExhausted {
	case OnExhaustedStop, OnExhaustedWait:
	default:
		return fmt.Errorf("unknown on_exhausted action %q", p.OnExhausted)
	}
	if p.MaxPages < 0 || p.DetailsPerPage < 0 || p.MaxExhaustedWaits < 0 {
		return fmt.Errorf("page limits must not be negative")
	}
	if p.TimeBudget < 0 || p.ExhaustedWait < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if p.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", p.Concurrency)
	}
	if p.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be at least 1, got %d", p.Retry.MaxAttempts)
	}
	if p.DownloadReplays && !p.FetchDetails {
		return fmt.Errorf("download_replays requires fetch_details")
	}
	return nil
}
