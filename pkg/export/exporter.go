package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/plenum-labs/plenum/pkg/auditchain"
)

// Exporter builds a session's bundle and ships it to object storage.
type Exporter struct {
	chains *auditchain.Builder
	store  ObjectStore
	now    func() time.Time
	logger *slog.Logger
}

// NewExporter wires an exporter. A nil now uses time.Now, a nil logger uses
// slog.Default.
func NewExporter(chains *auditchain.Builder, store ObjectStore, now func() time.Time, logger *slog.Logger) *Exporter {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		chains: chains,
		store:  store,
		now:    now,
		logger: logger.With("component", "export"),
	}
}

// Export snapshots the session's audit chain and uploads the bundle. The
// object key is sessions/<session>/<bundle>.json; returns the key.
func (e *Exporter) Export(ctx context.Context, sessionID string) (string, *Bundle, error) {
	entries, err := e.chains.Build(ctx, sessionID)
	if err != nil {
		return "", nil, fmt.Errorf("export %s: %w", sessionID, err)
	}

	bundle, err := NewBundle(sessionID, entries, e.now())
	if err != nil {
		return "", nil, fmt.Errorf("export %s: %w", sessionID, err)
	}

	data, err := bundle.Marshal()
	if err != nil {
		return "", nil, fmt.Errorf("export %s: %w", sessionID, err)
	}

	key := fmt.Sprintf("sessions/%s/%s.json", sessionID, bundle.ID)
	if err := e.store.Put(ctx, key, data); err != nil {
		return "", nil, fmt.Errorf("export %s: %w", sessionID, err)
	}

	e.logger.Info("session exported",
		"session_id", sessionID,
		"bundle_id", bundle.ID,
		"key", key,
		"entries", len(bundle.Entries),
		"chain_head", bundle.ChainHead,
	)
	return key, bundle, nil
}
