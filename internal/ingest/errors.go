package ingest

import (
	"errors"
	"fmt"
)

// Stage names the step of the pipeline an error came from
type Stage string

const (
	StageFeed   Stage = "feed"
	StageDetail Stage = "detail"
	StageReplay Stage = "replay"
	StageSink   Stage = "sink"
	StageCursor Stage = "cursor"
)

var (
	// ErrNoReplay is recorded for a match whose detail has no replay_url
	// when replays were requested.
	ErrNoReplay = errors.New("no replay available")

	// ErrOutOfBound is recorded for feed entries at or above the cursor bound
	ErrOutOfBound = errors.New("match id not below cursor bound")

	// ErrFeedStalled ends a run when a page contains no entry the cursor can advance past
	ErrFeedStalled = errors.New("feed returned no usable entries below the cursor")
)

// StageError is a terminal failure that ended a run
type StageError struct {
	Stage Stage
	Page  int
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed on page %d: %v", e.Stage, e.Page, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// ItemError is a per-match failure. It is recorded in the report and
// only ends the run when the policy aborts on item errors.
type ItemError struct {
	Stage   Stage
	MatchID uint64
	Err     error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("match %d: %s: %v", e.MatchID, e.Stage, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}
