package main

import (
	"context"
	"io"
	"sync"

	"github.com/goccy/go-json"

	"dota-ingest/internal/ingest"
)

// lineSink writes one JSON record per line, for piping into other tools
type lineSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newLineSink(w io.Writer) *lineSink {
	return &lineSink{enc: json.NewEncoder(w)}
}

func (s *lineSink) Emit(ctx context.Context, rec ingest.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(rec)
}
