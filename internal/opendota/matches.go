package opendota

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Bracket is an inclusive rank-tier filter for the public matches feed
// (OpenDota rank tiers: 10-15 Herald ... 80 Immortal).
type Bracket struct {
	MinRank int
	MaxRank int
}

// Key identifies the bracket in cursor stores, e.g. "80-80"
func (b Bracket) Key() string {
	return fmt.Sprintf("%d-%d", b.MinRank, b.MaxRank)
}

// PublicMatchesQuery holds the /publicMatches parameters.
// LessThanMatchID == 0 means no upper bound (first page of a walk).
type PublicMatchesQuery struct {
	Bracket
	LessThanMatchID uint64
}

// ListPublicMatches fetches one page of recently completed public matches.
// Ranks are passed through unvalidated. Every element must decode or the whole
// call fails with a *DecodeError; an empty slice means history is exhausted.
func (c *Client) ListPublicMatches(ctx context.Context, q PublicMatchesQuery) ([]MatchSummary, error) {
	params := url.Values{}
	params.Set("min_rank", strconv.Itoa(q.MinRank))
	params.Set("max_rank", strconv.Itoa(q.MaxRank))
	if q.LessThanMatchID != 0 {
		params.Set("less_than_match_id", strconv.FormatUint(q.LessThanMatchID, 10))
	}

	body, err := c.Fetch(ctx, c.endpoint("/publicMatches", params))
	if err != nil {
		return nil, err
	}

	return DecodePublicMatches(body)
}

// DecodePublicMatches decodes a /publicMatches response body
func DecodePublicMatches(body []byte) ([]MatchSummary, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, &DecodeError{What: "public matches", Err: errors.New("expected JSON array")}
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(trimmed, &elems); err != nil {
		return nil, &DecodeError{What: "public matches", Err: err}
	}

	matches := make([]MatchSummary, 0, len(elems))
	for i, raw := range elems {
		var m MatchSummary
		if isNull(raw) {
			return nil, &DecodeError{What: fmt.Sprintf("public matches element %d", i), Err: errors.New("null element")}
		}
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, &DecodeError{What: fmt.Sprintf("public matches element %d", i), Err: err}
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// GetMatchDetails fetches the full record for one match. Unknown or unprocessed
// matches return an error wrapping ErrNotFound.
func (c *Client) GetMatchDetails(ctx context.Context, matchID uint64) (*MatchDetail, error) {
	body, err := c.Fetch(ctx, c.endpoint("/matches/"+strconv.FormatUint(matchID, 10), nil))
	if err != nil {
		if StatusCode(err) == http.StatusNotFound {
			return nil, fmt.Errorf("match %d: %w", matchID, ErrNotFound)
		}
		return nil, err
	}

	return DecodeMatchDetail(matchID, body)
}

// DecodeMatchDetail decodes a /matches/{id} response body
func DecodeMatchDetail(matchID uint64, body []byte) (*MatchDetail, error) {
	if isNull(body) {
		return nil, &DecodeError{What: fmt.Sprintf("match %d", matchID), Err: errors.New("null body")}
	}

	// The API answers some lookups with 200 {"error": "Not Found"}
	var envelope struct {
		Error   json.RawMessage `json:"error"`
		MatchID json.RawMessage `json:"match_id"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &DecodeError{What: fmt.Sprintf("match %d", matchID), Err: err}
	}
	if len(envelope.Error) > 0 && !isNull(envelope.Error) && (len(envelope.MatchID) == 0 || isNull(envelope.MatchID)) {
		return nil, fmt.Errorf("match %d: %s: %w", matchID, string(envelope.Error), ErrNotFound)
	}

	var detail MatchDetail
	if err := json.Unmarshal(body, &detail); err != nil {
		return nil, &DecodeError{What: fmt.Sprintf("match %d", matchID), Err: err}
	}
	if detail.MatchID != matchID {
		return nil, &DecodeError{What: fmt.Sprintf("match %d", matchID),
			Err: fmt.Errorf("response is for match %d", detail.MatchID)}
	}
	return &detail, nil
}
