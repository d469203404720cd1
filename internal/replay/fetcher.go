// Package replay downloads match replay artifacts to durable local files.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultExt is used when the replay URL carries no usable extension
const DefaultExt = ".dem"

// Opener streams the body of an absolute URL. *opendota.Client implements it.
type Opener interface {
	Open(ctx context.Context, rawURL string) (io.ReadCloser, int64, error)
}

// Fetcher writes replays under a base directory
type Fetcher struct {
	opener Opener
	dir    string
}

// NewFetcher creates a fetcher that stores replays in dir
func NewFetcher(opener Opener, dir string) *Fetcher {
	return &Fetcher{opener: opener, dir: dir}
}

// Destination returns the file path for a match's replay: <dir>/<match_id><ext>
func (f *Fetcher) Destination(matchID uint64, replayURL string) string {
	return filepath.Join(f.dir, FileName(matchID, replayURL))
}

// FileName derives "<match_id><ext>" with the extension taken from the URL path,
// e.g. 8646005800.dem.bz2 for Valve replay URLs.
func FileName(matchID uint64, replayURL string) string {
	return strconv.FormatUint(matchID, 10) + extension(replayURL)
}

func extension(replayURL string) string {
	u, err := url.Parse(replayURL)
	if err != nil {
		return DefaultExt
	}
	base := path.Base(u.Path)
	idx := strings.Index(base, ".")
	if idx <= 0 {
		return DefaultExt
	}

	ext := strings.ToLower(base[idx:])
	if len(ext) > 16 {
		return DefaultExt
	}
	for _, r := range ext {
		if r != '.' && (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return DefaultExt
		}
	}
	return ext
}

// DownloadReplay streams replayURL into destination. The bytes land in a temp
// file in the same directory, which is synced, closed and then renamed over
// destination, so either the complete artifact exists or nothing new does.
// An existing file at destination is only replaced on success.
func (f *Fetcher) DownloadReplay(ctx context.Context, replayURL, destination string) error {
	dir := filepath.Dir(destination)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &ReplayError{Kind: StorageFailure, Path: destination, Err: err}
	}

	body, size, err := f.opener.Open(ctx, replayURL)
	if err != nil {
		return &ReplayError{Kind: TransportFailure, Path: destination, Err: err}
	}
	defer body.Close()

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(destination)+".*.part")
	if err != nil {
		return &ReplayError{Kind: StorageFailure, Path: destination, Err: err}
	}
	tmpPath := tmp.Name()

	fail := func(kind ErrorKind, err error) error {
		tmp.Close()
		os.Remove(tmpPath)
		return &ReplayError{Kind: kind, Path: destination, Err: err}
	}

	src := &sourceReader{r: body}
	written, err := io.Copy(tmp, src)
	if err != nil {
		if src.err != nil {
			return fail(TransportFailure, err)
		}
		return fail(StorageFailure, err)
	}
	if err := ctx.Err(); err != nil {
		return fail(TransportFailure, err)
	}
	if size >= 0 && written != size {
		return fail(TransportFailure, fmt.Errorf("short body: got %d of %d bytes: %w", written, size, io.ErrUnexpectedEOF))
	}

	if err := tmp.Sync(); err != nil {
		return fail(StorageFailure, err)
	}
	if err := tmp.Chmod(0644); err != nil {
		return fail(StorageFailure, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &ReplayError{Kind: StorageFailure, Path: destination, Err: err}
	}
	if err := os.Rename(tmpPath, destination); err != nil {
		os.Remove(tmpPath)
		return &ReplayError{Kind: StorageFailure, Path: destination, Err: err}
	}

	log.Printf("[Replay] Saved %s (%s)", destination, formatBytes(written))
	return nil
}

// sourceReader remembers read failures so io.Copy errors can be attributed
type sourceReader struct {
	r   io.Reader
	err error
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		s.err = err
	}
	return n, err
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
