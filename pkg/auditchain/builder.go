// Package auditchain rebuilds the tamper-evident record of a governance
// session. The chain is derived on read, never stored: given the same
// session and vote set, every rebuild yields a byte-identical sequence of
// hash-linked entries. Re-deriving the chain and comparing its head against
// a previously recorded value detects any insertion, deletion, reordering,
// or mutation of vote history.
package auditchain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/plenum-labs/plenum/pkg/canonicalize"
	"github.com/plenum-labs/plenum/pkg/contracts"
)

// GenesisHash anchors every chain: 64 hex zeros.
var GenesisHash = strings.Repeat("0", 64)

var (
	ErrChainBroken  = errors.New("audit chain is broken")
	ErrHashMismatch = errors.New("audit chain hash mismatch")
)

// EntryType categorizes chain entries.
type EntryType string

const (
	EntrySession EntryType = "session"
	EntryVote    EntryType = "vote"
)

// Entry is one link in the chain. Hash = SHA-256(canonical(payload) ++
// previous hash); payload is the canonical serialization of the session or
// vote record.
type Entry struct {
	ID           string    `json:"id"`
	Type         EntryType `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
	Hash         string    `json:"hash"`
	PreviousHash string    `json:"previous_hash"`
	Payload      string    `json:"payload"`
}

// SessionSource yields the session record for a chain rebuild. A missing
// session is reported as (nil, nil): the chain then starts at the first vote.
type SessionSource interface {
	GetSession(ctx context.Context, sessionID string) (*contracts.VotingSession, error)
}

// VoteSource yields a session's votes ordered by cast time, ties broken by
// stable insertion order. The builder relies on the source's ordering and
// does not re-sort: the tie-break lives in storage where insertion order is
// known.
type VoteSource interface {
	ListVotesBySession(ctx context.Context, sessionID string) ([]contracts.Vote, error)
}

// Builder folds a session and its votes into a verifiable chain.
type Builder struct {
	sessions SessionSource
	votes    VoteSource
}

// NewBuilder creates a chain builder over the given sources.
func NewBuilder(sessions SessionSource, votes VoteSource) *Builder {
	return &Builder{sessions: sessions, votes: votes}
}

// Build rebuilds the full chain for a session. The rebuild is read-only and
// safe to run concurrently with writes; callers needing a consistent
// snapshot must read within one transaction.
func (b *Builder) Build(ctx context.Context, sessionID string) ([]Entry, error) {
	session, err := b.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("audit chain: load session %s: %w", sessionID, err)
	}
	votes, err := b.votes.ListVotesBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("audit chain: load votes for %s: %w", sessionID, err)
	}
	return Fold(sessionID, session, votes)
}

// Head returns the final hash of the session's chain, or GenesisHash for an
// empty chain. This is the value callers record for later verification.
func (b *Builder) Head(ctx context.Context, sessionID string) (string, error) {
	entries, err := b.Build(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return Head(entries), nil
}

// Head returns the final hash of a chain, or GenesisHash when it is empty.
func Head(entries []Entry) string {
	if len(entries) == 0 {
		return GenesisHash
	}
	return entries[len(entries)-1].Hash
}

// Fold is the pure chaining primitive: it links a session record (optional)
// and an ordered vote stream into a chain. Exposed separately so results
// aggregation and tests can replay in-memory data without a store.
func Fold(sessionID string, session *contracts.VotingSession, votes []contracts.Vote) ([]Entry, error) {
	entries := make([]Entry, 0, len(votes)+1)
	prev := GenesisHash
	seq := 0

	if session != nil {
		entry, err := link(sessionID, seq, EntrySession, session.Date, session, prev)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
		prev = entry.Hash
		seq++
	}

	for _, vote := range votes {
		entry, err := link(sessionID, seq, EntryVote, vote.CastAt, vote, prev)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
		prev = entry.Hash
		seq++
	}
	return entries, nil
}

// link canonicalizes the payload and hashes it against the previous hash.
// Entry IDs are positional so rebuilds stay byte-identical.
func link(sessionID string, seq int, typ EntryType, ts time.Time, payload any, prev string) (Entry, error) {
	canonical, err := canonicalize.Marshal(payload)
	if err != nil {
		return Entry{}, fmt.Errorf("audit chain: canonicalize %s entry %d: %w", typ, seq, err)
	}
	hash := canonicalize.HashBytes(append(canonical, []byte(prev)...))
	return Entry{
		ID:           fmt.Sprintf("%s/%05d", sessionID, seq),
		Type:         typ,
		Timestamp:    ts.UTC(),
		Hash:         hash,
		PreviousHash: prev,
		Payload:      string(canonical),
	}, nil
}

// Verify walks a chain and recomputes every link. It fails on a broken
// previous-hash pointer or a hash that does not match its payload.
func Verify(entries []Entry) error {
	prev := GenesisHash
	for i, e := range entries {
		if e.PreviousHash != prev {
			return fmt.Errorf("%w: entry %d has previous_hash %s, expected %s",
				ErrChainBroken, i, e.PreviousHash, prev)
		}
		computed := canonicalize.HashBytes(append([]byte(e.Payload), []byte(prev)...))
		if computed != e.Hash {
			return fmt.Errorf("%w: entry %d (computed %s, stored %s)",
				ErrHashMismatch, i, computed, e.Hash)
		}
		prev = e.Hash
	}
	return nil
}
