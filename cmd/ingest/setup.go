package main

import (
	"context"
	"fmt"
	"io"
	"log"

	"dota-ingest/internal/config"
	"dota-ingest/internal/cursor"
	"dota-ingest/internal/db"
	"dota-ingest/internal/ingest"
	"dota-ingest/internal/publish"
	"dota-ingest/internal/storage"
)

// resources owns everything opened for a run and closes it in reverse order
type resources struct {
	dbs     map[string]*db.DB
	closers []func() error

	rotator   *storage.Rotator
	publisher *publish.WebSocketPublisher
}

func newResources() *resources {
	return &resources{dbs: make(map[string]*db.DB)}
}

// database opens (once per url) and migrates a PostgreSQL database
func (r *resources) database(ctx context.Context, url string) (*db.DB, error) {
	if d, ok := r.dbs[url]; ok {
		return d, nil
	}
	d, err := db.New(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := d.Migrate(); err != nil {
		d.Close()
		return nil, err
	}
	r.dbs[url] = d
	r.closers = append(r.closers, func() error { d.Close(); return nil })
	return d, nil
}

func (r *resources) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			log.Printf("Error closing resource: %v", err)
		}
	}
	r.closers = nil
}

// openCursorStore builds the cursor.Store named by cfg.Cursor.Backend
func (r *resources) openCursorStore(ctx context.Context, cfg config.CursorConfig) (cursor.Store, error) {
	var (
		store cursor.Store
		err   error
	)

	switch cfg.Backend {
	case config.BackendMemory:
		store = cursor.NewMemoryStore()
	case config.BackendFile:
		store, err = cursor.NewFileStore(cfg.Path)
	case config.BackendSQLite:
		store, err = cursor.OpenSQLite(ctx, cfg.Path)
	case config.BackendLibSQL:
		store, err = cursor.OpenLibSQL(ctx, cfg.DSN, cfg.AuthToken)
	case config.BackendPostgres:
		var d *db.DB
		d, err = r.database(ctx, cfg.DSN)
		if err == nil {
			store = db.NewCursorStore(d)
		}
	case config.BackendRedis:
		store, err = cursor.NewRedisStore(ctx, cursor.RedisOptions{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.KeyPrefix,
		})
	default:
		return nil, fmt.Errorf("unknown cursor backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s cursor store: %w", cfg.Backend, err)
	}

	r.closers = append(r.closers, store.Close)
	return store, nil
}

// openSinks builds the record sinks enabled by cfg.Output. stdout, when
// non-nil, also receives one JSON line per record.
func (r *resources) openSinks(ctx context.Context, cfg config.OutputConfig, stdout io.Writer) (ingest.Sink, error) {
	var sinks ingest.MultiSink

	if stdout != nil {
		sinks = append(sinks, newLineSink(stdout))
	}

	if cfg.Dir != "" {
		rot, err := storage.NewRotator(cfg.Dir,
			storage.WithMaxRecords(cfg.MaxRecords),
			storage.WithMaxAge(cfg.MaxFileAge),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create file rotator: %w", err)
		}
		r.rotator = rot
		r.closers = append(r.closers, rot.Close)
		sinks = append(sinks, rot)
	}

	if cfg.PostgresURL != "" {
		d, err := r.database(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open record database: %w", err)
		}
		sinks = append(sinks, db.NewMatchRecorder(d))
	}

	if cfg.WebSocketURL != "" {
		pub := publish.NewWebSocketPublisher(cfg.WebSocketURL, nil)
		r.publisher = pub
		r.closers = append(r.closers, pub.Close)
		sinks = append(sinks, pub)
	}

	if len(sinks) == 0 {
		log.Println("[Setup] No output configured, records are discarded")
		return ingest.Discard, nil
	}
	return sinks, nil
}
