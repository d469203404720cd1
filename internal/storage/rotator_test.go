package storage

import (
	"bufio"
	"compress/gzip"
	"context"
	stdjson "encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"

	"dota-ingest/internal/ingest"
	"dota-ingest/internal/opendota"
)

func summaryRecord(id uint64) ingest.Record {
	return ingest.Record{
		Kind:    ingest.KindSummary,
		RunID:   "run-1",
		Bracket: "80-80",
		MatchID: id,
		Summary: &opendota.MatchSummary{
			MatchID:   id,
			StartTime: 1700000000,
			Attributes: map[string]stdjson.RawMessage{
				"radiant_win": stdjson.RawMessage(`true`),
			},
		},
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}

func TestRotator_WritesJSONLines(t *testing.T) {
	r, err := NewRotator(t.TempDir())
	if err != nil {
		t.Fatalf("NewRotator failed: %v", err)
	}

	for _, id := range []uint64{3, 2, 1} {
		if err := r.Emit(context.Background(), summaryRecord(id)); err != nil {
			t.Fatalf("Emit failed: %v", err)
		}
	}
	if n, name := r.Stats(); n != 3 || !strings.HasSuffix(name, ".jsonl") {
		t.Errorf("Unexpected stats: %d %q", n, name)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	files, err := r.WarmFiles()
	if err != nil || len(files) != 1 {
		t.Fatalf("Expected 1 warm file, got %v (err=%v)", files, err)
	}

	lines := readLines(t, files[0])
	if len(lines) != 3 {
		t.Fatalf("Expected 3 lines, got %d", len(lines))
	}

	var rec struct {
		Kind    string `json:"kind"`
		MatchID uint64 `json:"match_id"`
		Summary struct {
			MatchID    uint64 `json:"match_id"`
			StartTime  int64  `json:"start_time"`
			RadiantWin bool   `json:"radiant_win"`
		} `json:"summary"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if rec.Kind != "summary" || rec.MatchID != 3 || rec.Summary.StartTime != 1700000000 || !rec.Summary.RadiantWin {
		t.Errorf("Unexpected record: %+v", rec)
	}
}

func TestRotator_RotatesByCount(t *testing.T) {
	r, err := NewRotator(t.TempDir(), WithMaxRecords(2))
	if err != nil {
		t.Fatalf("NewRotator failed: %v", err)
	}

	for id := uint64(1); id <= 5; id++ {
		if err := r.Emit(context.Background(), summaryRecord(id)); err != nil {
			t.Fatalf("Emit failed: %v", err)
		}
	}
	r.Close()

	files, _ := r.WarmFiles()
	if len(files) != 3 {
		t.Fatalf("Expected 3 warm files (2+2+1), got %d", len(files))
	}
	total := 0
	for _, f := range files {
		total += len(readLines(t, f))
	}
	if total != 5 {
		t.Errorf("Expected 5 records across files, got %d", total)
	}
}

func TestRotator_CloseWithoutRecords(t *testing.T) {
	base := t.TempDir()
	r, _ := NewRotator(base)
	if err := r.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	files, _ := r.WarmFiles()
	if len(files) != 0 {
		t.Errorf("Expected no warm files, got %v", files)
	}
	entries, _ := os.ReadDir(filepath.Join(base, "hot"))
	if len(entries) != 0 {
		t.Errorf("Expected empty hot dir, got %d entries", len(entries))
	}
}

func TestRotator_ConcurrentEmit(t *testing.T) {
	r, _ := NewRotator(t.TempDir(), WithMaxRecords(7))

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				r.Emit(context.Background(), summaryRecord(uint64(w*100+i+1)))
			}
		}(w)
	}
	wg.Wait()
	r.Close()

	files, _ := r.WarmFiles()
	total := 0
	for _, f := range files {
		for _, line := range readLines(t, f) {
			if !json.Valid([]byte(line)) {
				t.Fatalf("Corrupt line in %s: %q", f, line)
			}
			total++
		}
	}
	if total != 100 {
		t.Errorf("Expected 100 records, got %d", total)
	}
}

func TestRotator_Archive(t *testing.T) {
	r, _ := NewRotator(t.TempDir(), WithMaxRecords(1))
	r.Emit(context.Background(), summaryRecord(1))
	r.Emit(context.Background(), summaryRecord(2))
	r.Close()

	archived, err := r.Archive()
	if err != nil {
		t.Fatalf("Archive failed: %v", err)
	}
	if len(archived) != 2 {
		t.Fatalf("Expected 2 archives, got %v", archived)
	}
	if files, _ := r.WarmFiles(); len(files) != 0 {
		t.Errorf("Warm files should be removed after archiving, got %v", files)
	}

	f, err := os.Open(archived[0])
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip.NewReader failed: %v", err)
	}
	sc := bufio.NewScanner(gz)
	if !sc.Scan() || !strings.Contains(sc.Text(), `"match_id":1`) {
		t.Errorf("Unexpected archive content: %q", sc.Text())
	}
}

func TestRotator_ImplementsSink(t *testing.T) {
	var _ ingest.Sink = (*Rotator)(nil)
}
