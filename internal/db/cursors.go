package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"dota-ingest/internal/cursor"
)

// CursorStore is a PostgreSQL cursor.Store backed by ingest_cursors
type CursorStore struct {
	db *DB
}

// NewCursorStore wraps db. Migrate must have been run.
func NewCursorStore(db *DB) *CursorStore {
	return &CursorStore{db: db}
}

func (s *CursorStore) Load(ctx context.Context, key string) (cursor.Checkpoint, error) {
	var lessThan, highWater int64
	var updatedAt time.Time
	err := s.db.pool.QueryRow(ctx, `
		SELECT less_than_match_id, high_water, updated_at
		FROM ingest_cursors
		WHERE bracket = $1
	`, key).Scan(&lessThan, &highWater, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return cursor.Checkpoint{}, cursor.ErrNotFound
		}
		return cursor.Checkpoint{}, err
	}

	return cursor.Checkpoint{
		LessThan:  uint64(lessThan),
		HighWater: uint64(highWater),
		UpdatedAt: updatedAt.UTC(),
	}, nil
}

func (s *CursorStore) Save(ctx context.Context, key string, cp cursor.Checkpoint) error {
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}

	_, err := s.db.pool.Exec(ctx, `
		INSERT INTO ingest_cursors (bracket, less_than_match_id, high_water, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (bracket) DO UPDATE
		SET less_than_match_id = EXCLUDED.less_than_match_id,
		    high_water = EXCLUDED.high_water,
		    updated_at = EXCLUDED.updated_at
	`, key, int64(cp.LessThan), int64(cp.HighWater), cp.UpdatedAt)
	return err
}

// Close is a no-op; the pool belongs to DB
func (s *CursorStore) Close() error {
	return nil
}
