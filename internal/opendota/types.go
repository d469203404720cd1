package opendota

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MatchSummary is one row of the /publicMatches feed.
// MatchID and StartTime are required; every other field is carried through
// untouched in Attributes (match_seq_num, radiant_win, duration, lobby_type,
// game_mode, avg_rank_tier, num_rank_tier, cluster, radiant_team, dire_team, ...).
type MatchSummary struct {
	MatchID    uint64
	StartTime  int64 // epoch seconds, exactly as received
	Attributes map[string]json.RawMessage
}

// StartedAt returns StartTime as an absolute UTC timestamp. StartTime is left unchanged.
func (m MatchSummary) StartedAt() time.Time {
	return time.Unix(m.StartTime, 0).UTC()
}

// EpochSeconds converts a timestamp back to the feed's integer representation.
// EpochSeconds(m.StartedAt()) == m.StartTime for every summary.
func EpochSeconds(t time.Time) int64 {
	return t.Unix()
}

// Attr decodes one pass-through attribute into v. It reports false if the key is absent.
func (m MatchSummary) Attr(key string, v interface{}) (bool, error) {
	raw, ok := m.Attributes[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, v)
}

func (m *MatchSummary) UnmarshalJSON(data []byte) error {
	fields, err := decodeObject(data)
	if err != nil {
		return err
	}

	id, err := requiredMatchID(fields)
	if err != nil {
		return err
	}
	startTime, err := requiredInt64(fields, "start_time")
	if err != nil {
		return err
	}

	delete(fields, "match_id")
	delete(fields, "start_time")

	m.MatchID = id
	m.StartTime = startTime
	m.Attributes = fields
	return nil
}

func (m MatchSummary) MarshalJSON() ([]byte, error) {
	return encodeObject(m.Attributes, map[string]interface{}{
		"match_id":   m.MatchID,
		"start_time": m.StartTime,
	})
}

// MatchDetail is the full record returned by /matches/{match_id}.
// Only MatchID is required. ReplayURL is empty when the service has no replay
// (expired, never recorded or not yet requested).
type MatchDetail struct {
	MatchID    uint64
	ReplayURL  string
	Attributes map[string]json.RawMessage
}

// HasReplay reports whether a replay URL is present
func (d *MatchDetail) HasReplay() bool {
	return d.ReplayURL != ""
}

// Attr decodes one pass-through attribute into v. It reports false if the key is absent.
func (d *MatchDetail) Attr(key string, v interface{}) (bool, error) {
	raw, ok := d.Attributes[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, v)
}

func (d *MatchDetail) UnmarshalJSON(data []byte) error {
	fields, err := decodeObject(data)
	if err != nil {
		return err
	}

	id, err := requiredMatchID(fields)
	if err != nil {
		return err
	}

	var replayURL string
	if raw, ok := fields["replay_url"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &replayURL); err != nil {
			return fmt.Errorf("field replay_url: %w", err)
		}
	}

	delete(fields, "match_id")
	delete(fields, "replay_url")

	d.MatchID = id
	d.ReplayURL = replayURL
	d.Attributes = fields
	return nil
}

func (d MatchDetail) MarshalJSON() ([]byte, error) {
	known := map[string]interface{}{"match_id": d.MatchID}
	if d.ReplayURL != "" {
		known["replay_url"] = d.ReplayURL
	}
	return encodeObject(d.Attributes, known)
}

// errMissingField is wrapped for absent or null required fields
var errMissingField = errors.New("missing required field")

// errZeroMatchID is returned for "match_id": 0, which no real match carries
var errZeroMatchID = errors.New("match_id must be non-zero")

func decodeObject(data []byte) (map[string]json.RawMessage, error) {
	if isNull(data) {
		return nil, errors.New("expected object, got null")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func requiredUint64(fields map[string]json.RawMessage, key string) (uint64, error) {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return 0, fmt.Errorf("%w %q", errMissingField, key)
	}
	var v uint64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("field %s: %w", key, err)
	}
	return v, nil
}

func requiredMatchID(fields map[string]json.RawMessage) (uint64, error) {
	id, err := requiredUint64(fields, "match_id")
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, errZeroMatchID
	}
	return id, nil
}

func requiredInt64(fields map[string]json.RawMessage, key string) (int64, error) {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return 0, fmt.Errorf("%w %q", errMissingField, key)
	}
	var v int64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("field %s: %w", key, err)
	}
	return v, nil
}

func isNull(raw []byte) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// encodeObject merges the typed fields over the pass-through attributes
func encodeObject(attrs map[string]json.RawMessage, known map[string]interface{}) ([]byte, error) {
	out := make(map[string]interface{}, len(attrs)+len(known))
	for k, v := range attrs {
		out[k] = v
	}
	for k, v := range known {
		out[k] = v
	}
	return json.Marshal(out)
}
