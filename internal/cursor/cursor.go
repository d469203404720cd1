// Package cursor tracks the less_than_match_id bound of a walk through the
// public matches feed and persists it between runs.
package cursor

import (
	"strconv"

	"dota-ingest/internal/opendota"
)

// Cursor is the exclusive upper bound for the next feed page.
// The zero value is unset: the next request carries no bound.
type Cursor struct {
	bound uint64
}

// At returns a cursor bounded at id. At(0) is unset.
func At(id uint64) Cursor {
	return Cursor{bound: id}
}

// Bound returns the bound and whether it is set
func (c Cursor) Bound() (uint64, bool) {
	return c.bound, c.bound != 0
}

// IsSet reports whether the cursor carries a bound
func (c Cursor) IsSet() bool {
	return c.bound != 0
}

// LessThan returns the value for PublicMatchesQuery.LessThanMatchID (0 when unset)
func (c Cursor) LessThan() uint64 {
	return c.bound
}

// Admits reports whether a match id lies strictly below the bound.
// Every non-zero id is admitted by an unset cursor. Zero is never admitted:
// advancing to it would unset the cursor.
func (c Cursor) Admits(matchID uint64) bool {
	if matchID == 0 {
		return false
	}
	return c.bound == 0 || matchID < c.bound
}

// Advance returns the cursor for the page after batch: the smallest match id
// in the batch, never higher than the current bound. An empty batch leaves
// the cursor unchanged.
func (c Cursor) Advance(batch []opendota.MatchSummary) Cursor {
	if len(batch) == 0 {
		return c
	}

	next := batch[0].MatchID
	for _, m := range batch[1:] {
		if m.MatchID < next {
			next = m.MatchID
		}
	}
	if c.bound != 0 && c.bound < next {
		return c
	}
	return Cursor{bound: next}
}

func (c Cursor) String() string {
	if c.bound == 0 {
		return "unset"
	}
	return strconv.FormatUint(c.bound, 10)
}
