package opendota

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(serverURL string, opts ...Option) *Client {
	base := []Option{WithBaseURL(serverURL), WithRequestsPerMinute(0)}
	return NewClient(append(base, opts...)...)
}

// TestListPublicMatches_FirstPageHasNoBound tests that the first call omits less_than_match_id
func TestListPublicMatches_FirstPageHasNoBound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/publicMatches" {
			t.Errorf("Expected /publicMatches, got %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("min_rank") != "70" || q.Get("max_rank") != "80" {
			t.Errorf("Unexpected bracket params: %s", r.URL.RawQuery)
		}
		if q.Has("less_than_match_id") {
			t.Errorf("First page should not send less_than_match_id, got %s", r.URL.RawQuery)
		}
		w.Write([]byte(`[{"match_id": 8646005900, "start_time": 1700000100, "avg_rank_tier": 75}]`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	matches, err := client.ListPublicMatches(context.Background(), PublicMatchesQuery{
		Bracket: Bracket{MinRank: 70, MaxRank: 80},
	})
	if err != nil {
		t.Fatalf("ListPublicMatches failed: %v", err)
	}
	if len(matches) != 1 || matches[0].MatchID != 8646005900 {
		t.Fatalf("Unexpected matches: %+v", matches)
	}

	var tier int
	if ok, err := matches[0].Attr("avg_rank_tier", &tier); !ok || err != nil || tier != 75 {
		t.Errorf("Expected pass-through avg_rank_tier=75, got %d (ok=%v, err=%v)", tier, ok, err)
	}
}

// TestListPublicMatches_PassesBoundVerbatim tests the pagination bound and api key parameters
func TestListPublicMatches_PassesBoundVerbatim(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if got := q.Get("less_than_match_id"); got != "8646005862" {
			t.Errorf("Expected less_than_match_id=8646005862, got %q", got)
		}
		if got := q.Get("api_key"); got != "test-key" {
			t.Errorf("Expected api_key=test-key, got %q", got)
		}
		w.Write([]byte(`[
			{"match_id": 8646005800, "start_time": 1700000000},
			{"match_id": 8646005850, "start_time": 1700000050}
		]`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, WithAPIKey("test-key"))
	matches, err := client.ListPublicMatches(context.Background(), PublicMatchesQuery{
		Bracket:         Bracket{MinRank: 80, MaxRank: 80},
		LessThanMatchID: 8646005862,
	})
	if err != nil {
		t.Fatalf("ListPublicMatches failed: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("Expected 2 matches, got %d", len(matches))
	}
	// Order is preserved exactly as received
	if matches[0].MatchID != 8646005800 || matches[1].MatchID != 8646005850 {
		t.Errorf("Order not preserved: %d, %d", matches[0].MatchID, matches[1].MatchID)
	}
}

// TestListPublicMatches_EmptyArray tests that exhaustion is a valid, non-error result
func TestListPublicMatches_EmptyArray(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	matches, err := newTestClient(server.URL).ListPublicMatches(context.Background(), PublicMatchesQuery{})
	if err != nil {
		t.Fatalf("Expected no error for empty page, got: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("Expected 0 matches, got %d", len(matches))
	}
}

// TestListPublicMatches_PartialDecodeFails tests that one bad element fails the whole page
func TestListPublicMatches_PartialDecodeFails(t *testing.T) {
	bodies := map[string]string{
		"missing start_time": `[{"match_id": 1, "start_time": 10}, {"match_id": 2}]`,
		"missing match_id":   `[{"start_time": 10}]`,
		"null match_id":      `[{"match_id": null, "start_time": 10}]`,
		"zero match_id":      `[{"match_id": 50, "start_time": 10}, {"match_id": 0, "start_time": 10}]`,
		"null element":       `[{"match_id": 1, "start_time": 10}, null]`,
		"wrong type":         `[{"match_id": "abc", "start_time": 10}]`,
		"object body":        `{"error": "rate limited"}`,
		"null body":          `null`,
		"truncated":          `[{"match_id": 1, "start_ti`,
	}

	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			}))
			defer server.Close()

			matches, err := newTestClient(server.URL).ListPublicMatches(context.Background(), PublicMatchesQuery{})
			if !errors.Is(err, ErrDecode) {
				t.Fatalf("Expected decode error, got: %v", err)
			}
			if matches != nil {
				t.Errorf("Expected no partial result, got %d matches", len(matches))
			}
			if IsTransient(err) {
				t.Error("Decode errors must not be transient")
			}
		})
	}
}

// TestGetMatchDetails_Success tests detail decoding with an optional replay url
func TestGetMatchDetails_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/matches/8646005800" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		w.Write([]byte(`{"match_id": 8646005800, "duration": 2400, "replay_url": "http://replay191.valve.net/570/8646005800_1234.dem.bz2"}`))
	}))
	defer server.Close()

	detail, err := newTestClient(server.URL).GetMatchDetails(context.Background(), 8646005800)
	if err != nil {
		t.Fatalf("GetMatchDetails failed: %v", err)
	}
	if detail.MatchID != 8646005800 {
		t.Errorf("Expected match 8646005800, got %d", detail.MatchID)
	}
	if !detail.HasReplay() || !strings.HasSuffix(detail.ReplayURL, ".dem.bz2") {
		t.Errorf("Unexpected replay url: %q", detail.ReplayURL)
	}
}

// TestGetMatchDetails_NoReplay tests that an absent or null replay_url is not an error
func TestGetMatchDetails_NoReplay(t *testing.T) {
	for _, body := range []string{`{"match_id": 5}`, `{"match_id": 5, "replay_url": null}`} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		}))

		detail, err := newTestClient(server.URL).GetMatchDetails(context.Background(), 5)
		server.Close()
		if err != nil {
			t.Fatalf("GetMatchDetails(%s) failed: %v", body, err)
		}
		if detail.HasReplay() {
			t.Errorf("Expected no replay for %s", body)
		}
	}
}

// TestGetMatchDetails_NotFound tests that unknown matches are NotFound, not decode errors
func TestGetMatchDetails_NotFound(t *testing.T) {
	cases := map[string]func(w http.ResponseWriter){
		"404 status": func(w http.ResponseWriter) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"Not Found"}`))
		},
		"200 with error body": func(w http.ResponseWriter) {
			w.Write([]byte(`{"error":"Not Found"}`))
		},
	}

	for name, respond := range cases {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				respond(w)
			}))
			defer server.Close()

			_, err := newTestClient(server.URL).GetMatchDetails(context.Background(), 1)
			if !errors.Is(err, ErrNotFound) {
				t.Fatalf("Expected ErrNotFound, got: %v", err)
			}
			if errors.Is(err, ErrDecode) {
				t.Error("NotFound must not be reported as a decode error")
			}
		})
	}
}

// TestGetMatchDetails_MissingMatchID tests that a detail without match_id is a decode error
func TestGetMatchDetails_MissingMatchID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"duration": 10}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).GetMatchDetails(context.Background(), 1)
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("Expected decode error, got: %v", err)
	}
}

// TestGetMatchDetails_WrongMatch tests that a record for another match is rejected
func TestGetMatchDetails_WrongMatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"match_id": 8646005801, "duration": 10}`))
	}))
	defer server.Close()

	detail, err := newTestClient(server.URL).GetMatchDetails(context.Background(), 8646005800)
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("Expected decode error, got: %v", err)
	}
	if detail != nil {
		t.Errorf("Expected no detail, got %+v", detail)
	}
	if IsTransient(err) {
		t.Error("A mismatched record must not be retried")
	}
}

// TestFetch_StatusErrors tests status classification and transience
func TestFetch_StatusErrors(t *testing.T) {
	cases := []struct {
		status    int
		transient bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusTooManyRequests, true},
		{http.StatusBadRequest, false},
		{http.StatusForbidden, false},
	}

	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))

		_, err := newTestClient(server.URL).Fetch(context.Background(), server.URL+"/x")
		server.Close()

		var te *TransportError
		if !errors.As(err, &te) || te.Kind != KindStatus || te.StatusCode != tc.status {
			t.Errorf("status %d: expected status TransportError, got %v", tc.status, err)
			continue
		}
		if IsTransient(err) != tc.transient {
			t.Errorf("status %d: expected transient=%v", tc.status, tc.transient)
		}
	}
}

// TestFetch_Timeout tests that a slow server produces a transient timeout error
func TestFetch_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, WithTimeout(50*time.Millisecond))
	_, err := client.Fetch(context.Background(), server.URL+"/slow")

	var te *TransportError
	if !errors.As(err, &te) || te.Kind != KindTimeout {
		t.Fatalf("Expected timeout TransportError, got: %v", err)
	}
	if !IsTransient(err) {
		t.Error("Timeouts should be transient")
	}
}

// TestFetch_NetworkError tests that a dropped connection is a network failure
func TestFetch_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		if ok {
			conn, _, _ := hj.Hijack()
			conn.Close()
		}
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Fetch(context.Background(), server.URL+"/drop")

	var te *TransportError
	if !errors.As(err, &te) || te.Kind != KindNetwork {
		t.Fatalf("Expected network TransportError, got: %v", err)
	}
}

// TestFetch_CancelledContext tests that a cancelled call is not retried
func TestFetch_CancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(server.URL).Fetch(ctx, server.URL+"/x")
	if err == nil {
		t.Fatal("Expected error for cancelled context")
	}
	if IsTransient(err) {
		t.Error("Cancelled calls must not be transient")
	}
}

// TestFetch_InvalidURL tests the absolute URL precondition
func TestFetch_InvalidURL(t *testing.T) {
	client := NewClient(WithRequestsPerMinute(0))
	for _, u := range []string{"", "/matches/1", "replay.dem", "://bad"} {
		if _, err := client.Fetch(context.Background(), u); !errors.Is(err, ErrInvalidURL) {
			t.Errorf("Fetch(%q): expected ErrInvalidURL, got %v", u, err)
		}
	}
}

// TestRateLimit_WaitsForWindow tests that pacing honours context cancellation
func TestRateLimit_WaitsForWindow(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL), WithRequestsPerMinute(2))
	for i := 0; i < 2; i++ {
		if _, err := client.Fetch(context.Background(), server.URL+"/x"); err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := client.Fetch(ctx, server.URL+"/x"); err == nil {
		t.Fatal("Expected third request to block until the context expired")
	}
	if hits.Load() != 2 {
		t.Errorf("Expected 2 requests to reach the server, got %d", hits.Load())
	}
}

// TestRedact tests that api keys never appear in error messages
func TestRedact(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(server.URL, WithAPIKey("super-secret-key"))
	_, err := client.ListPublicMatches(context.Background(), PublicMatchesQuery{})
	if err == nil {
		t.Fatal("Expected error")
	}
	if strings.Contains(err.Error(), "super-secret-key") {
		t.Errorf("API key leaked into error: %v", err)
	}
}
