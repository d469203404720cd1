package cursor

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned by Store.Load when no checkpoint exists for a key
var ErrNotFound = errors.New("checkpoint not found")

// Checkpoint is the persisted walk state for one bracket
type Checkpoint struct {
	// LessThan is the committed cursor bound (0 = unset)
	LessThan uint64 `json:"less_than_match_id"`

	// HighWater is the largest match id ever emitted for the bracket
	HighWater uint64 `json:"high_water"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Cursor returns the committed cursor
func (cp Checkpoint) Cursor() Cursor {
	return At(cp.LessThan)
}

// Store persists checkpoints keyed by bracket ("<min>-<max>")
type Store interface {
	Load(ctx context.Context, key string) (Checkpoint, error)
	Save(ctx context.Context, key string, cp Checkpoint) error
	Close() error
}

// MemoryStore keeps checkpoints for the lifetime of the process
type MemoryStore struct {
	mu    sync.Mutex
	state map[string]Checkpoint
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: make(map[string]Checkpoint)}
}

func (s *MemoryStore) Load(ctx context.Context, key string) (Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.state[key]
	if !ok {
		return Checkpoint{}, ErrNotFound
	}
	return cp, nil
}

func (s *MemoryStore) Save(ctx context.Context, key string, cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	s.state[key] = cp
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
