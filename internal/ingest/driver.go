// Package ingest walks the public matches feed page by page, hands every
// record to the configured sinks and fans selected matches out to detail
// and replay workers.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/google/uuid"

	"dota-ingest/internal/cursor"
	"dota-ingest/internal/opendota"
)

// FeedReader lists one page of public matches. *opendota.Client implements it.
type FeedReader interface {
	ListPublicMatches(ctx context.Context, q opendota.PublicMatchesQuery) ([]opendota.MatchSummary, error)
}

// DetailReader looks up one match. *opendota.Client implements it.
type DetailReader interface {
	GetMatchDetails(ctx context.Context, matchID uint64) (*opendota.MatchDetail, error)
}

// ReplayFetcher downloads replays. *replay.Fetcher implements it.
type ReplayFetcher interface {
	Destination(matchID uint64, replayURL string) string
	DownloadReplay(ctx context.Context, replayURL, destination string) error
}

// Driver runs the ingestion loop for one bracket. A Driver runs one walk at a time.
type Driver struct {
	feed    FeedReader
	details DetailReader
	replays ReplayFetcher
	store   cursor.Store
	sink    Sink
	policy  Policy

	// Set per run
	runID    string
	report   *Report
	abortMu  sync.Mutex
	abortErr *ItemError
	cancel   context.CancelFunc
}

// NewDriver creates a driver. details and replays may be nil when the policy
// does not use them; a nil store keeps the checkpoint in memory and a nil
// sink discards records.
func NewDriver(feed FeedReader, details DetailReader, replays ReplayFetcher, store cursor.Store, sink Sink, policy Policy) *Driver {
	if store == nil {
		store = cursor.NewMemoryStore()
	}
	if sink == nil {
		sink = Discard
	}
	return &Driver{
		feed:    feed,
		details: details,
		replays: replays,
		store:   store,
		sink:    sink,
		policy:  policy,
	}
}

// Run walks the feed until the policy says stop, the feed is exhausted or
// ctx is cancelled. The report is returned even when err is non-nil.
// Cancellation is not an error: the report's StopReason says so and the
// checkpoint holds the last fully processed page.
func (d *Driver) Run(ctx context.Context) (*Report, error) {
	p := d.policy
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	if p.FetchDetails && d.details == nil {
		return nil, errors.New("policy fetches details but no detail reader was given")
	}
	if p.DownloadReplays && d.replays == nil {
		return nil, errors.New("policy downloads replays but no replay fetcher was given")
	}

	d.runID = uuid.NewString()
	d.abortErr = nil
	report := &Report{
		RunID:     d.runID,
		Bracket:   p.Bracket,
		Mode:      p.Mode,
		StartedAt: time.Now(),
	}
	d.report = report

	key := p.Bracket.Key()
	cp, err := d.store.Load(ctx, key)
	if err != nil && !errors.Is(err, cursor.ErrNotFound) {
		report.StopReason = StopFailed
		report.FinishedAt = time.Now()
		return report, &StageError{Stage: StageCursor, Err: err}
	}

	// Catch-up walks from the newest page down to the stored high water mark
	// and leaves the backfill bound alone.
	var cur cursor.Cursor
	stopAt := uint64(0)
	if p.Mode == ModeBackfill {
		cur = cp.Cursor()
	} else {
		stopAt = cp.HighWater
	}
	report.StartCursor = cur
	report.HighWater = cp.HighWater

	log.Printf("[Driver] Run %s: bracket %s, mode %s, cursor %s, high water %d",
		d.runID, key, p.Mode, cur, cp.HighWater)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.cancel = cancel

	var pool *fanout
	if p.FetchDetails {
		pool = startFanout(runCtx, p.Concurrency, d.processMatch, report.addAbandoned)
	}

	var deadline time.Time
	if p.TimeBudget > 0 {
		deadline = report.StartedAt.Add(p.TimeBudget)
	}

	seen := bloom.NewWithEstimates(500000, 0.001)
	highWater := cp.HighWater
	exhaustedWaits := 0
	var fatal error

loop:
	for {
		switch {
		case runCtx.Err() != nil:
			report.StopReason = StopCancelled
			break loop
		case p.MaxPages > 0 && report.Pages >= p.MaxPages:
			report.StopReason = StopMaxPages
			break loop
		case !deadline.IsZero() && !time.Now().Before(deadline):
			report.StopReason = StopTimeBudget
			break loop
		}

		pageNo := report.Pages + 1
		q := opendota.PublicMatchesQuery{Bracket: p.Bracket, LessThanMatchID: cur.LessThan()}
		page, err := withRetry(runCtx, p.Retry, fmt.Sprintf("page %d", pageNo), func() ([]opendota.MatchSummary, error) {
			return d.feed.ListPublicMatches(runCtx, q)
		})
		if err != nil {
			if runCtx.Err() != nil {
				report.StopReason = StopCancelled
				break loop
			}
			fatal = &StageError{Stage: StageFeed, Page: pageNo, Err: err}
			report.StopReason = StopFailed
			break loop
		}
		report.Pages++

		if len(page) == 0 {
			if p.OnExhausted == OnExhaustedWait && exhaustedWaits < p.MaxExhaustedWaits {
				exhaustedWaits++
				log.Printf("[Driver] Feed exhausted below %s, waiting %s (%d/%d)",
					cur, p.ExhaustedWait, exhaustedWaits, p.MaxExhaustedWaits)
				if !sleepCtx(runCtx, d.clampToDeadline(p.ExhaustedWait, deadline)) {
					report.StopReason = StopCancelled
					break loop
				}
				continue
			}
			log.Printf("[Driver] Feed exhausted below %s", cur)
			report.StopReason = StopExhausted
			break loop
		}
		exhaustedWaits = 0

		// Entries the bound excludes are reported, never emitted
		admitted := make([]opendota.MatchSummary, 0, len(page))
		for _, m := range page {
			if !cur.Admits(m.MatchID) {
				err := fmt.Errorf("%w: %d >= %s", ErrOutOfBound, m.MatchID, cur)
				if m.MatchID == 0 {
					err = fmt.Errorf("%w: zero match id", ErrOutOfBound)
				}
				report.addItemError(ItemError{Stage: StageFeed, MatchID: m.MatchID, Err: err})
				continue
			}
			admitted = append(admitted, m)
		}
		if len(admitted) == 0 {
			fatal = &StageError{Stage: StageFeed, Page: pageNo, Err: ErrFeedStalled}
			report.StopReason = StopFailed
			break loop
		}

		fresh := admitted
		caughtUp := false
		if stopAt > 0 {
			fresh = make([]opendota.MatchSummary, 0, len(admitted))
			for _, m := range admitted {
				if m.MatchID > stopAt {
					fresh = append(fresh, m)
				} else {
					caughtUp = true
				}
			}
		}

		if err := d.emitSummaries(runCtx, fresh, seen); err != nil {
			if runCtx.Err() != nil {
				report.StopReason = StopCancelled
				break loop
			}
			fatal = &StageError{Stage: StageSink, Page: pageNo, Err: err}
			report.StopReason = StopFailed
			break loop
		}

		next := cur.Advance(admitted)
		for _, m := range fresh {
			if m.MatchID > highWater {
				highWater = m.MatchID
			}
		}

		// Checkpoint before fan-out so a crash never rewinds past emitted summaries
		saved := cp
		saved.UpdatedAt = time.Time{}
		// A catch-up walk only moves the high water mark once the gap is closed
		if p.Mode == ModeBackfill {
			saved.LessThan = next.LessThan()
			saved.HighWater = highWater
		} else if stopAt == 0 || caughtUp {
			saved.HighWater = highWater
		}
		if err := d.store.Save(ctx, key, saved); err != nil {
			fatal = &StageError{Stage: StageCursor, Page: pageNo, Err: err}
			report.StopReason = StopFailed
			break loop
		}
		cp = saved
		cur = next
		report.FinalCursor = cur
		report.HighWater = cp.HighWater

		log.Printf("[Driver] Page %d: %d matches (%d emitted), cursor -> %s",
			pageNo, len(page), len(fresh), cur)

		if pool != nil {
			selected := fresh
			if p.DetailsPerPage > 0 && len(selected) > p.DetailsPerPage {
				selected = selected[:p.DetailsPerPage]
			}
			for _, m := range selected {
				pool.submit(runCtx, matchJob{Page: pageNo, Summary: m})
			}
		}

		if caughtUp {
			log.Printf("[Driver] Reached high water mark %d", stopAt)
			report.StopReason = StopCaughtUp
			break loop
		}
	}

	if pool != nil {
		pool.close()
	}

	report.FinalCursor = cur
	report.FinishedAt = time.Now()

	if fatal != nil {
		log.Printf("[Driver] Run %s failed: %v", d.runID, fatal)
		return report, fatal
	}

	d.abortMu.Lock()
	abortErr := d.abortErr
	d.abortMu.Unlock()
	if abortErr != nil {
		report.StopReason = StopItemError
		return report, abortErr
	}

	log.Printf("[Driver] Run %s finished: %s after %d pages", d.runID, report.StopReason, report.Pages)
	return report, nil
}

// emitSummaries hands each summary of a page to the sink in feed order
func (d *Driver) emitSummaries(ctx context.Context, page []opendota.MatchSummary, seen *bloom.BloomFilter) error {
	bracket := d.policy.Bracket.Key()
	for i := range page {
		m := page[i]
		if seen.TestAndAddString(strconv.FormatUint(m.MatchID, 10)) {
			d.report.Duplicates++
		}
		rec := Record{
			Kind:      KindSummary,
			RunID:     d.runID,
			Bracket:   bracket,
			MatchID:   m.MatchID,
			FetchedAt: time.Now().UTC(),
			Summary:   &m,
		}
		if err := d.sink.Emit(ctx, rec); err != nil {
			return fmt.Errorf("emit summary %d: %w", m.MatchID, err)
		}
		d.report.Summaries++
	}
	return nil
}

// processMatch runs on a fan-out worker: detail, then optionally the replay
func (d *Driver) processMatch(ctx context.Context, job matchJob) {
	id := job.Summary.MatchID
	p := d.policy

	detail, err := withRetry(ctx, p.Retry, fmt.Sprintf("detail %d", id), func() (*opendota.MatchDetail, error) {
		return d.details.GetMatchDetails(ctx, id)
	})
	if err != nil {
		d.itemFailed(ItemError{Stage: StageDetail, MatchID: id, Err: err})
		return
	}
	d.report.addDetail()

	err = d.sink.Emit(ctx, Record{
		Kind:      KindDetail,
		RunID:     d.runID,
		Bracket:   p.Bracket.Key(),
		MatchID:   id,
		FetchedAt: time.Now().UTC(),
		Detail:    detail,
	})
	if err != nil {
		d.itemFailed(ItemError{Stage: StageSink, MatchID: id, Err: err})
		return
	}

	if !p.DownloadReplays {
		return
	}
	if !detail.HasReplay() {
		d.itemFailed(ItemError{Stage: StageReplay, MatchID: id, Err: ErrNoReplay})
		return
	}

	dest := d.replays.Destination(id, detail.ReplayURL)
	_, err = withRetry(ctx, p.Retry, fmt.Sprintf("replay %d", id), func() (struct{}, error) {
		return struct{}{}, d.replays.DownloadReplay(ctx, detail.ReplayURL, dest)
	})
	if err != nil {
		d.itemFailed(ItemError{Stage: StageReplay, MatchID: id, Err: err})
		return
	}

	var size int64
	if info, err := os.Stat(dest); err == nil {
		size = info.Size()
	}
	d.report.addReplay(dest, size)

	err = d.sink.Emit(ctx, Record{
		Kind:      KindReplay,
		RunID:     d.runID,
		Bracket:   p.Bracket.Key(),
		MatchID:   id,
		FetchedAt: time.Now().UTC(),
		Replay:    &ReplayFile{URL: detail.ReplayURL, Path: dest, Bytes: size},
	})
	if err != nil {
		d.itemFailed(ItemError{Stage: StageSink, MatchID: id, Err: err})
	}
}

// itemFailed records a per-match failure and aborts the run if the policy says so
func (d *Driver) itemFailed(e ItemError) {
	log.Printf("  [Worker] %v", &e)
	d.report.addItemError(e)

	if !d.policy.AbortOnItemError || errors.Is(e.Err, context.Canceled) {
		return
	}
	d.abortMu.Lock()
	if d.abortErr == nil {
		d.abortErr = &e
		d.cancel()
	}
	d.abortMu.Unlock()
}

func (d *Driver) clampToDeadline(wait time.Duration, deadline time.Time) time.Duration {
	if deadline.IsZero() {
		return wait
	}
	if remaining := time.Until(deadline); remaining < wait {
		return remaining
	}
	return wait
}

// sleepCtx waits for d or until ctx is done. It reports false on cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
