package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"dota-ingest/internal/opendota"
)

// fakeFeed serves ids newest first, pageSize at a time, honouring less_than_match_id
type fakeFeed struct {
	mu       sync.Mutex
	ids      []uint64 // descending
	pageSize int
	queries  []opendota.PublicMatchesQuery
	calls    int

	// fail, if set, is consulted before every call
	fail  func(call int) error
	// fixed, if set, is returned regardless of the query
	fixed []uint64
	delay time.Duration
}

func descending(from, to uint64) []uint64 {
	ids := make([]uint64, 0, from-to+1)
	for id := from; id >= to; id-- {
		ids = append(ids, id)
	}
	return ids
}

func (f *fakeFeed) ListPublicMatches(ctx context.Context, q opendota.PublicMatchesQuery) ([]opendota.MatchSummary, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.queries = append(f.queries, q)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail != nil {
		if err := f.fail(call); err != nil {
			return nil, err
		}
	}

	if f.fixed != nil {
		return summariesOf(f.fixed), nil
	}

	var page []uint64
	for _, id := range f.ids {
		if q.LessThanMatchID != 0 && id >= q.LessThanMatchID {
			continue
		}
		page = append(page, id)
		if len(page) == f.pageSize {
			break
		}
	}
	return summariesOf(page), nil
}

func (f *fakeFeed) Queries() []opendota.PublicMatchesQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]opendota.PublicMatchesQuery(nil), f.queries...)
}

func summariesOf(ids []uint64) []opendota.MatchSummary {
	out := make([]opendota.MatchSummary, len(ids))
	for i, id := range ids {
		out[i] = opendota.MatchSummary{MatchID: id, StartTime: 1700000000 + int64(id)}
	}
	return out
}

// fakeDetails returns a detail with a replay URL unless told otherwise
type fakeDetails struct {
	mu       sync.Mutex
	errs     map[uint64]error
	noReplay map[uint64]bool
	calls    map[uint64]int
	delay    time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeDetails() *fakeDetails {
	return &fakeDetails{
		errs:     make(map[uint64]error),
		noReplay: make(map[uint64]bool),
		calls:    make(map[uint64]int),
	}
}

func (f *fakeDetails) GetMatchDetails(ctx context.Context, id uint64) (*opendota.MatchDetail, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.maxInFlight.Load()
		if n <= peak || f.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls[id]++
	err := f.errs[id]
	noReplay := f.noReplay[id]
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if err != nil {
		return nil, err
	}

	d := &opendota.MatchDetail{MatchID: id}
	if !noReplay {
		d.ReplayURL = fmt.Sprintf("http://replay.example/570/%d_1.dem.bz2", id)
	}
	return d, nil
}

func (f *fakeDetails) Calls(id uint64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

// fakeReplays writes a small file per match
type fakeReplays struct {
	dir  string
	errs map[uint64]error
}

func (f *fakeReplays) Destination(id uint64, url string) string {
	return filepath.Join(f.dir, fmt.Sprintf("%d.dem.bz2", id))
}

func (f *fakeReplays) DownloadReplay(ctx context.Context, url, dest string) error {
	var id uint64
	fmt.Sscanf(filepath.Base(dest), "%d.", &id)
	if err := f.errs[id]; err != nil {
		return err
	}
	return os.WriteFile(dest, []byte("PBDEMS2"), 0644)
}

// recordingSink keeps every record; failKind makes Emit fail for that kind
type recordingSink struct {
	mu       sync.Mutex
	records  []Record
	failKind RecordKind
}

func (s *recordingSink) Emit(ctx context.Context, rec Record) error {
	if s.failKind != "" && rec.Kind == s.failKind {
		return fmt.Errorf("sink unavailable")
	}
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) IDs(kind RecordKind) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uint64
	for _, r := range s.records {
		if r.Kind == kind {
			ids = append(ids, r.MatchID)
		}
	}
	return ids
}

// testPolicy walks the 80/80 bracket with fast retries
func testPolicy() Policy {
	p := DefaultPolicy()
	p.MaxPages = 0
	p.Concurrency = 2
	p.Retry = RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
	return p
}
