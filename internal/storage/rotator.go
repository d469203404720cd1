// Package storage writes ingest records to rotating JSONL files.
//
// Files move through three directories: hot (open for writing), warm
// (closed, complete) and cold (gzip archives).
package storage

import (
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"dota-ingest/internal/ingest"
)

const (
	// Rotation triggers
	DefaultMaxRecordsPerFile = 1000
	DefaultMaxFileAge        = 1 * time.Hour
)

// Rotator is an ingest.Sink that appends one JSON line per record
type Rotator struct {
	mu sync.Mutex

	hotDir  string
	warmDir string
	coldDir string

	maxRecords int
	maxAge     time.Duration

	currentFile   *os.File
	currentWriter *bufio.Writer
	currentPath   string
	recordCount   int
	fileOpenedAt  time.Time
	seq           int
}

// Option configures a Rotator
type Option func(*Rotator)

// WithMaxRecords sets how many records a file holds before rotation
func WithMaxRecords(n int) Option {
	return func(r *Rotator) {
		if n > 0 {
			r.maxRecords = n
		}
	}
}

// WithMaxAge sets how long a file stays open before rotation
func WithMaxAge(d time.Duration) Option {
	return func(r *Rotator) {
		if d > 0 {
			r.maxAge = d
		}
	}
}

// WithColdDir stores archives somewhere other than <base>/cold
func WithColdDir(dir string) Option {
	return func(r *Rotator) {
		if dir != "" {
			r.coldDir = dir
		}
	}
}

// NewRotator creates the hot/warm/cold directories under baseDir. The first
// file is opened lazily on the first record.
func NewRotator(baseDir string, opts ...Option) (*Rotator, error) {
	r := &Rotator{
		hotDir:     filepath.Join(baseDir, "hot"),
		warmDir:    filepath.Join(baseDir, "warm"),
		coldDir:    filepath.Join(baseDir, "cold"),
		maxRecords: DefaultMaxRecordsPerFile,
		maxAge:     DefaultMaxFileAge,
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, dir := range []string{r.hotDir, r.warmDir, r.coldDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return r, nil
}

// ColdDir returns the archive directory
func (r *Rotator) ColdDir() string {
	return r.coldDir
}

// Emit writes rec as one JSON line and flushes it
func (r *Rotator) Emit(ctx context.Context, rec ingest.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.shouldRotate() {
		if err := r.rotate(); err != nil {
			return err
		}
	}

	if _, err := r.currentWriter.Write(data); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := r.currentWriter.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	if err := r.currentWriter.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}
	r.recordCount++
	return nil
}

func (r *Rotator) shouldRotate() bool {
	if r.currentFile == nil {
		return true
	}
	if r.recordCount >= r.maxRecords {
		return true
	}
	return time.Since(r.fileOpenedAt) >= r.maxAge
}

// rotate closes the current file, moves it to warm and opens a new one
func (r *Rotator) rotate() error {
	if err := r.closeCurrent(); err != nil {
		return err
	}

	r.seq++
	timestamp := time.Now().UTC().Format("2006-01-02_15-04-05")
	filename := fmt.Sprintf("records_%s_%04d.jsonl", timestamp, r.seq)
	r.currentPath = filepath.Join(r.hotDir, filename)

	file, err := os.Create(r.currentPath)
	if err != nil {
		return fmt.Errorf("failed to create new file: %w", err)
	}

	r.currentFile = file
	r.currentWriter = bufio.NewWriterSize(file, 64*1024)
	r.recordCount = 0
	r.fileOpenedAt = time.Now()

	log.Printf("[Rotator] Opened new file: %s", filename)
	return nil
}

// closeCurrent moves a non-empty file to warm and removes an empty one
func (r *Rotator) closeCurrent() error {
	if r.currentFile == nil {
		return nil
	}

	if err := r.currentWriter.Flush(); err != nil {
		return fmt.Errorf("failed to flush before rotation: %w", err)
	}
	if err := r.currentFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := r.currentFile.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	r.currentFile = nil

	if r.recordCount == 0 {
		os.Remove(r.currentPath)
		return nil
	}

	warmPath := filepath.Join(r.warmDir, filepath.Base(r.currentPath))
	if err := os.Rename(r.currentPath, warmPath); err != nil {
		return fmt.Errorf("failed to move to warm storage: %w", err)
	}
	log.Printf("[Rotator] Moved %s to warm storage (%d records)", filepath.Base(r.currentPath), r.recordCount)
	return nil
}

// Close flushes the current file and moves it to warm storage
func (r *Rotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeCurrent()
}

// Stats returns the record count and name of the file being written
func (r *Rotator) Stats() (recordsInCurrentFile int, currentFileName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.currentFile == nil {
		return 0, ""
	}
	return r.recordCount, filepath.Base(r.currentPath)
}

// WarmFiles lists completed files, oldest first
func (r *Rotator) WarmFiles() ([]string, error) {
	entries, err := os.ReadDir(r.warmDir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".jsonl") {
			files = append(files, filepath.Join(r.warmDir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// Archive compresses every warm file into the cold directory and returns the archive paths
func (r *Rotator) Archive() ([]string, error) {
	files, err := r.WarmFiles()
	if err != nil {
		return nil, err
	}

	var archived []string
	for _, f := range files {
		coldPath, err := CompressToCold(f, r.coldDir)
		if err != nil {
			return archived, fmt.Errorf("failed to archive %s: %w", filepath.Base(f), err)
		}
		archived = append(archived, coldPath)
	}
	return archived, nil
}

// CompressToCold gzips a warm file into coldDir and removes the original.
// The archive is written under a temporary name and renamed once complete.
func CompressToCold(warmPath, coldDir string) (string, error) {
	src, err := os.Open(warmPath)
	if err != nil {
		return "", err
	}
	defer src.Close()

	coldPath := filepath.Join(coldDir, filepath.Base(warmPath)+".gz")
	tmpPath := coldPath + ".tmp"
	dst, err := os.Create(tmpPath)
	if err != nil {
		return "", err
	}

	gzWriter := gzip.NewWriter(dst)
	gzWriter.Name = filepath.Base(warmPath)
	if _, err := io.Copy(gzWriter, src); err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return "", err
	}
	if err := gzWriter.Close(); err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return "", err
	}
	if err := os.Rename(tmpPath, coldPath); err != nil {
		os.Remove(tmpPath)
		return "", err
	}

	if err := os.Remove(warmPath); err != nil {
		return coldPath, err
	}

	log.Printf("[Rotator] Compressed %s to cold storage", filepath.Base(warmPath))
	return coldPath, nil
}
