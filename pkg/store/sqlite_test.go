package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plenum-labs/plenum/pkg/contracts"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, db, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	// One connection so every statement sees the same in-memory database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return s
}

func newProposal(id string) *contracts.Proposal {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &contracts.Proposal{
		ID:             id,
		Title:          "Upgrade the relay",
		Proposer:       "agent-prop",
		CurrentPhase:   contracts.PhaseProposal,
		CurrentStatus:  contracts.StatusDraft,
		PhaseStartedAt: now,
		Metadata:       map[string]any{"category": "infra"},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestProposalRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateProposal(ctx, newProposal("p-1")))

	got, err := s.GetProposal(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.PhaseProposal, got.CurrentPhase)
	assert.Equal(t, contracts.StatusDraft, got.CurrentStatus)
	assert.Equal(t, "infra", got.Metadata["category"])
	assert.Nil(t, got.Deadline)
}

func TestGetProposalNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetProposal(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateProposalPhase(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateProposal(ctx, newProposal("p-1")))

	started := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	deadline := started.Add(48 * time.Hour)
	err := s.UpdateProposalPhase(ctx, "p-1", contracts.PhaseProposal,
		contracts.PhaseDiscussion, contracts.StatusDiscussion, started, &deadline)
	require.NoError(t, err)

	got, err := s.GetProposal(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.PhaseDiscussion, got.CurrentPhase)
	assert.Equal(t, started, got.PhaseStartedAt)
	require.NotNil(t, got.Deadline)
	assert.Equal(t, deadline, *got.Deadline)
}

func TestUpdateProposalPhaseConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateProposal(ctx, newProposal("p-1")))

	started := time.Now().UTC()
	// First transition wins.
	require.NoError(t, s.UpdateProposalPhase(ctx, "p-1", contracts.PhaseProposal,
		contracts.PhaseDiscussion, contracts.StatusDiscussion, started, nil))

	// A second transition still expecting PROPOSAL loses the race.
	err := s.UpdateProposalPhase(ctx, "p-1", contracts.PhaseProposal,
		contracts.PhaseDiscussion, contracts.StatusDiscussion, started, nil)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestListActiveProposals(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	active := newProposal("p-active")
	require.NoError(t, s.CreateProposal(ctx, active))

	rejected := newProposal("p-rejected")
	rejected.CurrentStatus = contracts.StatusRejected
	require.NoError(t, s.CreateProposal(ctx, rejected))

	executed := newProposal("p-executed")
	executed.CurrentPhase = contracts.PhaseExecution
	executed.CurrentStatus = contracts.StatusExecuted
	require.NoError(t, s.CreateProposal(ctx, executed))

	// Approved-in-resolution still sweeps toward EXECUTION.
	approved := newProposal("p-approved")
	approved.CurrentPhase = contracts.PhaseResolution
	approved.CurrentStatus = contracts.StatusApproved
	require.NoError(t, s.CreateProposal(ctx, approved))

	got, err := s.ListActiveProposals(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(got))
	for _, p := range got {
		ids = append(ids, p.ID)
	}
	assert.ElementsMatch(t, []string{"p-active", "p-approved"}, ids)
}

func TestUpsertVoteReplacesEffectiveBallot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)

	first := contracts.Vote{
		SessionID: "s-1", AgentID: "agent-a", ProposalID: "p-1",
		Decision: contracts.DecisionReject, Weight: 2, CastAt: base,
	}
	require.NoError(t, s.UpsertVote(ctx, first))

	changed := first
	changed.Decision = contracts.DecisionApprove
	changed.Comment = "changed my mind"
	changed.CastAt = base.Add(time.Hour)
	require.NoError(t, s.UpsertVote(ctx, changed))

	votes, err := s.ListVotesBySession(ctx, "s-1")
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.Equal(t, contracts.DecisionApprove, votes[0].Decision)
	assert.Equal(t, "changed my mind", votes[0].Comment)
}

func TestListVotesOrderedByCastTime(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)

	mk := func(agent string, offset time.Duration) contracts.Vote {
		return contracts.Vote{
			SessionID: "s-1", AgentID: agent, ProposalID: "p-1",
			Decision: contracts.DecisionApprove, Weight: 1, CastAt: base.Add(offset),
		}
	}
	// Inserted out of chronological order; the tie pair shares a cast time.
	require.NoError(t, s.UpsertVote(ctx, mk("late", 2*time.Hour)))
	require.NoError(t, s.UpsertVote(ctx, mk("tie-first", time.Hour)))
	require.NoError(t, s.UpsertVote(ctx, mk("tie-second", time.Hour)))
	require.NoError(t, s.UpsertVote(ctx, mk("early", 0)))

	votes, err := s.ListVotesBySession(ctx, "s-1")
	require.NoError(t, err)
	require.Len(t, votes, 4)
	assert.Equal(t, "early", votes[0].AgentID)
	assert.Equal(t, "tie-first", votes[1].AgentID)
	assert.Equal(t, "tie-second", votes[2].AgentID)
	assert.Equal(t, "late", votes[3].AgentID)
}

func TestSessionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	session := &contracts.VotingSession{
		ID:      "s-1",
		Title:   "Cycle 12 governance",
		Date:    time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		Summary: "quarterly infrastructure vote",
	}
	require.NoError(t, s.UpsertSession(ctx, session))

	got, err := s.GetSession(ctx, "s-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, session.Title, got.Title)
	assert.Equal(t, session.Date, got.Date)
}

func TestGetSessionMissingIsNil(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetSession(context.Background(), "absent")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestContextProviderParticipantUnion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := newProposal("p-1")
	p.PhaseStartedAt = time.Now().UTC().Add(-13 * time.Hour)
	require.NoError(t, s.CreateProposal(ctx, p))

	require.NoError(t, s.AddDiscussion(ctx, contracts.Discussion{
		ProposalID: "p-1", AgentID: "agent-d1", Body: "concerns about cost",
		PostedAt: time.Now().UTC(),
	}))
	require.NoError(t, s.UpsertVote(ctx, contracts.Vote{
		SessionID: "s-1", AgentID: "agent-v1", ProposalID: "p-1",
		Decision: contracts.DecisionApprove, Weight: 1, CastAt: time.Now().UTC(),
	}))
	// Voter who also discussed counts once.
	require.NoError(t, s.AddDiscussion(ctx, contracts.Discussion{
		ProposalID: "p-1", AgentID: "agent-v1", Body: "clarified",
		PostedAt: time.Now().UTC(),
	}))

	provider := NewContextProvider(s, 10, nil)
	pc, err := provider.Get(ctx, "p-1")
	require.NoError(t, err)

	assert.Equal(t, []string{"agent-d1", "agent-prop", "agent-v1"}, pc.Participants)
	assert.Equal(t, 10, pc.EligibleVoters)
	assert.InDelta(t, 13*time.Hour, pc.TimeInPhase, float64(time.Minute))
	require.Len(t, pc.Votes, 1)
	require.Len(t, pc.Discussions, 2)
}
