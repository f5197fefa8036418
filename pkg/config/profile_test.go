package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plenum-labs/plenum/pkg/contracts"
)

func writeProfile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultProfile(t *testing.T) {
	p := DefaultProfile()

	discussion := p.Phase(contracts.PhaseDiscussion)
	assert.Equal(t, 48*time.Hour, discussion.DefaultDuration.Std())
	assert.Equal(t, 12*time.Hour, discussion.MinDuration.Std())
	assert.Equal(t, 3, discussion.MinParticipants)

	voting := p.Phase(contracts.PhaseVoting)
	assert.Equal(t, 72*time.Hour, voting.DefaultDuration.Std())
	assert.Equal(t, 5, voting.MinParticipants)
	assert.Equal(t, 0.7, p.ConsensusThreshold())
}

func TestLoadProfile(t *testing.T) {
	path := writeProfile(t, `
version: "1.2.0"
eligible_voters: 12
phases:
  DISCUSSION:
    default_duration: 24h
    min_duration: 6h
    min_participants: 2
  VOTING:
    default_duration: 48h
    min_participants: 4
    consensus_threshold: 0.6
`)
	p, err := LoadProfile(path)
	require.NoError(t, err)

	assert.Equal(t, 12, p.EligibleVoters)
	assert.Equal(t, 24*time.Hour, p.Phase(contracts.PhaseDiscussion).DefaultDuration.Std())
	assert.Equal(t, 4, p.Phase(contracts.PhaseVoting).MinParticipants)
	assert.Equal(t, 0.6, p.ConsensusThreshold())
}

func TestLoadProfileRejectsUnsupportedVersion(t *testing.T) {
	path := writeProfile(t, `
version: "2.0.0"
phases: {}
`)
	_, err := LoadProfile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside supported range")
}

func TestLoadProfileRejectsMissingVersion(t *testing.T) {
	path := writeProfile(t, `
phases: {}
`)
	_, err := LoadProfile(path)
	require.Error(t, err)
}

func TestLoadProfileRejectsUnknownPhase(t *testing.T) {
	path := writeProfile(t, `
version: "1.0.0"
phases:
  LIMBO:
    min_participants: 1
`)
	_, err := LoadProfile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown phase")
}

func TestLoadProfileRejectsBadDuration(t *testing.T) {
	path := writeProfile(t, `
version: "1.0.0"
phases:
  VOTING:
    default_duration: three days
`)
	_, err := LoadProfile(path)
	require.Error(t, err)
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SWEEP_INTERVAL", "90s")

	cfg := Load()
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, "plenum.db", cfg.DatabaseURL)
	assert.Equal(t, 90*time.Second, cfg.SweepInterval)
}
