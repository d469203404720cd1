package cursor

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures a RedisStore
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string // defaults to "dota-ingest"
}

// RedisStore keeps each checkpoint in a hash at "<prefix>:cursor:<bracket>"
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to redis and verifies the connection
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "dota-ingest"
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (s *RedisStore) key(bracket string) string {
	return fmt.Sprintf("%s:cursor:%s", s.prefix, bracket)
}

func (s *RedisStore) Load(ctx context.Context, key string) (Checkpoint, error) {
	fields, err := s.client.HGetAll(ctx, s.key(key)).Result()
	if err != nil {
		return Checkpoint{}, fmt.Errorf("loading checkpoint: %w", err)
	}
	if len(fields) == 0 {
		return Checkpoint{}, ErrNotFound
	}

	var cp Checkpoint
	if cp.LessThan, err = parseField(fields, "less_than_match_id"); err != nil {
		return Checkpoint{}, err
	}
	if cp.HighWater, err = parseField(fields, "high_water"); err != nil {
		return Checkpoint{}, err
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["updated_at"]); err == nil {
		cp.UpdatedAt = t
	}
	return cp, nil
}

func (s *RedisStore) Save(ctx context.Context, key string, cp Checkpoint) error {
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	err := s.client.HSet(ctx, s.key(key),
		"less_than_match_id", strconv.FormatUint(cp.LessThan, 10),
		"high_water", strconv.FormatUint(cp.HighWater, 10),
		"updated_at", cp.UpdatedAt.UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("saving checkpoint: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func parseField(fields map[string]string, name string) (uint64, error) {
	raw, ok := fields[name]
	if !ok || raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("checkpoint field %s: %w", name, err)
	}
	return v, nil
}
