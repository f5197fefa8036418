// Package store persists proposals, votes, sessions, and discussions behind
// a transactional key/record contract. SQLite is the default backend;
// Postgres is the server-grade variant. Both enforce the one-effective-vote
// invariant with an upsert keyed on (session, agent, proposal) and turn
// concurrent phase updates into clean conflicts via conditional writes.
package store

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound reports a missing record.
	ErrNotFound = errors.New("record not found")
	// ErrConflict reports a phase update that lost a race: the proposal's
	// stored phase no longer matches the expected one.
	ErrConflict = errors.New("conditional update conflict")
)

func marshalMetadata(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalMetadata(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
