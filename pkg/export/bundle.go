// Package export packages a session's audit chain into a self-verifying
// bundle and ships it to object storage. Bundles are immutable snapshots:
// re-exporting a session with new votes produces a new bundle, never an
// overwrite of a verified one.
package export

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/plenum-labs/plenum/pkg/auditchain"
	"github.com/plenum-labs/plenum/pkg/canonicalize"
)

// Bundle is one exported audit snapshot. BundleHash covers every other
// field, so a bundle carries its own integrity proof.
type Bundle struct {
	ID          string             `json:"id"`
	SessionID   string             `json:"session_id"`
	GeneratedAt time.Time          `json:"generated_at"`
	ChainHead   string             `json:"chain_head"`
	Entries     []auditchain.Entry `json:"entries"`
	BundleHash  string             `json:"bundle_hash"`
}

// NewBundle snapshots a session's audit chain. The chain is verified before
// packaging; a broken chain never leaves the building.
func NewBundle(sessionID string, entries []auditchain.Entry, now time.Time) (*Bundle, error) {
	if err := auditchain.Verify(entries); err != nil {
		return nil, fmt.Errorf("bundle %s: %w", sessionID, err)
	}

	b := &Bundle{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		GeneratedAt: now.UTC(),
		ChainHead:   auditchain.Head(entries),
		Entries:     entries,
	}
	hash, err := b.computeHash()
	if err != nil {
		return nil, fmt.Errorf("bundle %s: %w", sessionID, err)
	}
	b.BundleHash = hash
	return b, nil
}

// computeHash hashes the bundle's canonical form with BundleHash zeroed.
func (b *Bundle) computeHash() (string, error) {
	shadow := *b
	shadow.BundleHash = ""
	data, err := canonicalize.Marshal(shadow)
	if err != nil {
		return "", fmt.Errorf("canonicalize: %w", err)
	}
	return canonicalize.HashBytes(data), nil
}

// Verify checks the bundle hash and the embedded chain. It detects any
// mutation to entries, head, or identity fields after packaging.
func (b *Bundle) Verify() error {
	hash, err := b.computeHash()
	if err != nil {
		return err
	}
	if hash != b.BundleHash {
		return fmt.Errorf("bundle %s: hash mismatch", b.ID)
	}
	if err := auditchain.Verify(b.Entries); err != nil {
		return fmt.Errorf("bundle %s: %w", b.ID, err)
	}
	if auditchain.Head(b.Entries) != b.ChainHead {
		return fmt.Errorf("bundle %s: chain head mismatch", b.ID)
	}
	return nil
}

// Marshal renders the bundle in canonical JSON, byte-stable across exports.
func (b *Bundle) Marshal() ([]byte, error) {
	return canonicalize.Marshal(b)
}
