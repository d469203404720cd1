package ingest

import (
	"context"
	"errors"
	"time"

	"dota-ingest/internal/opendota"
)

// RecordKind tags what a Record carries
type RecordKind string

const (
	KindSummary RecordKind = "summary"
	KindDetail  RecordKind = "detail"
	KindReplay  RecordKind = "replay"
)

// ReplayFile describes a downloaded replay artifact
type ReplayFile struct {
	URL   string `json:"url"`
	Path  string `json:"path"`
	Bytes int64  `json:"bytes"`
}

// Record is the envelope handed to sinks. Exactly one of Summary, Detail or
// Replay is set, matching Kind.
type Record struct {
	Kind      RecordKind             `json:"kind"`
	RunID     string                 `json:"run_id"`
	Bracket   string                 `json:"bracket"`
	MatchID   uint64                 `json:"match_id"`
	FetchedAt time.Time              `json:"fetched_at"`
	Summary   *opendota.MatchSummary `json:"summary,omitempty"`
	Detail    *opendota.MatchDetail  `json:"detail,omitempty"`
	Replay    *ReplayFile            `json:"replay,omitempty"`
}

// Sink receives records. Emit is called from the pagination goroutine for
// summaries and from fan-out workers for details and replays, so
// implementations must be safe for concurrent use.
type Sink interface {
	Emit(ctx context.Context, rec Record) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, rec Record) error

func (f SinkFunc) Emit(ctx context.Context, rec Record) error {
	return f(ctx, rec)
}

// MultiSink emits to every sink in order. All sinks are attempted; the
// returned error joins every failure.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every record
var Discard Sink = SinkFunc(func(context.Context, Record) error { return nil })
