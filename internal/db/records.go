package db

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"dota-ingest/internal/ingest"
)

// MatchRecorder is an ingest.Sink that upserts records into match_records,
// one row per (match_id, kind).
type MatchRecorder struct {
	db *DB
}

// NewMatchRecorder wraps db. Migrate must have been run.
func NewMatchRecorder(db *DB) *MatchRecorder {
	return &MatchRecorder{db: db}
}

// Emit stores the record's payload, replacing an earlier row for the same match and kind
func (r *MatchRecorder) Emit(ctx context.Context, rec ingest.Record) error {
	var payload interface{}
	var startTime *time.Time
	var replayURL *string

	switch rec.Kind {
	case ingest.KindSummary:
		if rec.Summary == nil {
			return fmt.Errorf("summary record %d has no summary", rec.MatchID)
		}
		payload = rec.Summary
		started := rec.Summary.StartedAt()
		startTime = &started
	case ingest.KindDetail:
		if rec.Detail == nil {
			return fmt.Errorf("detail record %d has no detail", rec.MatchID)
		}
		payload = rec.Detail
		if rec.Detail.HasReplay() {
			replayURL = &rec.Detail.ReplayURL
		}
	case ingest.KindReplay:
		if rec.Replay == nil {
			return fmt.Errorf("replay record %d has no replay", rec.MatchID)
		}
		payload = rec.Replay
		replayURL = &rec.Replay.URL
	default:
		return fmt.Errorf("unknown record kind %q", rec.Kind)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", rec.Kind, err)
	}

	fetchedAt := rec.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now().UTC()
	}

	_, err = r.db.pool.Exec(ctx, `
		INSERT INTO match_records (match_id, kind, run_id, bracket, start_time, replay_url, payload, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (match_id, kind) DO UPDATE
		SET run_id = EXCLUDED.run_id,
		    bracket = EXCLUDED.bracket,
		    start_time = COALESCE(EXCLUDED.start_time, match_records.start_time),
		    replay_url = COALESCE(EXCLUDED.replay_url, match_records.replay_url),
		    payload = EXCLUDED.payload,
		    fetched_at = EXCLUDED.fetched_at
	`, int64(rec.MatchID), string(rec.Kind), rec.RunID, rec.Bracket, startTime, replayURL, string(data), fetchedAt)
	if err != nil {
		return fmt.Errorf("failed to store %s for match %d: %w", rec.Kind, rec.MatchID, err)
	}
	return nil
}

// RecordCount returns how many rows of kind are stored
func (db *DB) RecordCount(ctx context.Context, kind ingest.RecordKind) (int, error) {
	var count int
	err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM match_records WHERE kind = $1`, string(kind)).Scan(&count)
	return count, err
}

// MatchIDs returns the stored match ids of kind for a bracket, newest first
func (db *DB) MatchIDs(ctx context.Context, bracket string, kind ingest.RecordKind) ([]uint64, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT match_id
		FROM match_records
		WHERE bracket = $1 AND kind = $2
		ORDER BY match_id DESC
	`, bracket, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uint64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, uint64(id))
	}
	return ids, rows.Err()
}

// Payload returns the stored JSON payload for a match and kind
func (db *DB) Payload(ctx context.Context, matchID uint64, kind ingest.RecordKind) ([]byte, error) {
	var payload []byte
	err := db.pool.QueryRow(ctx, `
		SELECT payload::text FROM match_records WHERE match_id = $1 AND kind = $2
	`, int64(matchID), string(kind)).Scan(&payload)
	return payload, err
}
