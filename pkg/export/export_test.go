package export

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plenum-labs/plenum/pkg/auditchain"
	"github.com/plenum-labs/plenum/pkg/contracts"
)

type memSources struct {
	session *contracts.VotingSession
	votes   []contracts.Vote
}

func (m *memSources) GetSession(context.Context, string) (*contracts.VotingSession, error) {
	return m.session, nil
}

func (m *memSources) ListVotesBySession(context.Context, string) ([]contracts.Vote, error) {
	return m.votes, nil
}

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (s *memStore) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.objects == nil {
		s.objects = make(map[string][]byte)
	}
	s.objects[key] = data
	return nil
}

func testSources() *memSources {
	date := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	return &memSources{
		session: &contracts.VotingSession{ID: "s-1", Title: "Cycle 9", Date: date},
		votes: []contracts.Vote{
			{SessionID: "s-1", AgentID: "a", ProposalID: "p-1", Decision: contracts.DecisionApprove, Weight: 2, CastAt: date.Add(time.Hour)},
			{SessionID: "s-1", AgentID: "b", ProposalID: "p-1", Decision: contracts.DecisionReject, Weight: 1, CastAt: date.Add(2 * time.Hour)},
		},
	}
}

func TestBundleRoundTripVerifies(t *testing.T) {
	src := testSources()
	entries, err := auditchain.Fold("s-1", src.session, src.votes)
	require.NoError(t, err)

	bundle, err := NewBundle("s-1", entries, time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NoError(t, bundle.Verify())

	data, err := bundle.Marshal()
	require.NoError(t, err)

	var restored Bundle
	require.NoError(t, json.Unmarshal(data, &restored))
	assert.NoError(t, restored.Verify())
	assert.Equal(t, bundle.BundleHash, restored.BundleHash)
}

func TestBundleDetectsEntryTampering(t *testing.T) {
	src := testSources()
	entries, err := auditchain.Fold("s-1", src.session, src.votes)
	require.NoError(t, err)

	bundle, err := NewBundle("s-1", entries, time.Now())
	require.NoError(t, err)

	bundle.Entries[1].Payload = `{"decision":"approve","forged":true}`
	assert.Error(t, bundle.Verify())
}

func TestBundleDetectsHeadSwap(t *testing.T) {
	src := testSources()
	entries, err := auditchain.Fold("s-1", src.session, src.votes)
	require.NoError(t, err)

	bundle, err := NewBundle("s-1", entries, time.Now())
	require.NoError(t, err)

	bundle.ChainHead = auditchain.GenesisHash
	assert.Error(t, bundle.Verify())
}

func TestNewBundleRefusesBrokenChain(t *testing.T) {
	src := testSources()
	entries, err := auditchain.Fold("s-1", src.session, src.votes)
	require.NoError(t, err)
	entries[0].Hash = auditchain.GenesisHash

	_, err = NewBundle("s-1", entries, time.Now())
	assert.Error(t, err)
}

func TestExporterWritesVerifiableObject(t *testing.T) {
	src := testSources()
	store := &memStore{}
	now := func() time.Time { return time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC) }
	e := NewExporter(auditchain.NewBuilder(src, src), store, now, nil)

	key, bundle, err := e.Export(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, "sessions/s-1/"+bundle.ID+".json", key)

	data, ok := store.objects[key]
	require.True(t, ok)

	var restored Bundle
	require.NoError(t, json.Unmarshal(data, &restored))
	require.NoError(t, restored.Verify())
	assert.Len(t, restored.Entries, 3)
	assert.Equal(t, bundle.ChainHead, restored.ChainHead)
}

func TestFileStorePut(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, fs.Put(context.Background(), "sessions/s-1/b-1.json", []byte(`{"ok":true}`)))

	data, err := os.ReadFile(filepath.Join(dir, "sessions", "s-1", "b-1.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(data))
}

func TestNewStoreFromEnvDefaultsToFS(t *testing.T) {
	t.Setenv("EXPORT_STORAGE_TYPE", "")
	t.Setenv("EXPORT_DIR", t.TempDir())

	store, err := NewStoreFromEnv(context.Background())
	require.NoError(t, err)
	_, ok := store.(*FileStore)
	assert.True(t, ok)
}

func TestNewStoreFromEnvRejectsUnknownType(t *testing.T) {
	t.Setenv("EXPORT_STORAGE_TYPE", "tape")
	_, err := NewStoreFromEnv(context.Background())
	assert.Error(t, err)
}
