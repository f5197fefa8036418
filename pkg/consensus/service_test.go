package consensus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plenum-labs/plenum/pkg/auditchain"
	"github.com/plenum-labs/plenum/pkg/contracts"
)

type memSource struct {
	session *contracts.VotingSession
	votes   []contracts.Vote
}

func (m *memSource) GetSession(_ context.Context, _ string) (*contracts.VotingSession, error) {
	return m.session, nil
}

func (m *memSource) ListVotesBySession(_ context.Context, _ string) ([]contracts.Vote, error) {
	return m.votes, nil
}

func (m *memSource) ListVotesByProposal(_ context.Context, _, proposalID string) ([]contracts.Vote, error) {
	var out []contracts.Vote
	for _, v := range m.votes {
		if v.ProposalID == proposalID {
			out = append(out, v)
		}
	}
	return out, nil
}

func sessionFixture() *memSource {
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	mk := func(agent, proposal string, d contracts.Decision, w float64, offset int) contracts.Vote {
		return contracts.Vote{
			SessionID: "s-1", AgentID: agent, ProposalID: proposal,
			Decision: d, Weight: w, CastAt: base.Add(time.Duration(offset) * time.Minute),
		}
	}
	return &memSource{
		session: &contracts.VotingSession{ID: "s-1", Title: "Cycle 12", Date: base},
		votes: []contracts.Vote{
			mk("a", "p-1", contracts.DecisionApprove, 6, 0),
			mk("b", "p-1", contracts.DecisionApprove, 3, 1),
			mk("c", "p-1", contracts.DecisionReject, 1, 2),
			mk("a", "p-2", contracts.DecisionReject, 6, 3),
			mk("d", "p-2", contracts.DecisionReject, 2, 4),
		},
	}
}

func TestGetVotingResult(t *testing.T) {
	src := sessionFixture()
	svc := NewService(src, src, Thresholds{MinParticipants: 3, ConsensusThreshold: 0.7}, 10)

	r, err := svc.GetVotingResult(context.Background(), "s-1", "p-1")
	require.NoError(t, err)
	assert.Equal(t, 90.0, r.ConsensusPercentage)
	assert.Equal(t, VerdictApproved, r.Result)
}

func TestGetSessionResults(t *testing.T) {
	src := sessionFixture()
	svc := NewService(src, src, Thresholds{MinParticipants: 3, ConsensusThreshold: 0.7}, 8)

	res, err := svc.GetSessionResults(context.Background(), "s-1")
	require.NoError(t, err)

	assert.Equal(t, 5, res.TotalVotes)
	assert.Equal(t, 4, res.TotalAgents)
	assert.Equal(t, 0.5, res.ParticipationRate)
	require.Len(t, res.ResultsByProposal, 2)

	// Sorted by proposal ID for stable output.
	assert.Equal(t, "p-1", res.ResultsByProposal[0].ProposalID)
	assert.Equal(t, VerdictApproved, res.ResultsByProposal[0].Result)
	assert.Equal(t, "p-2", res.ResultsByProposal[1].ProposalID)
	// Two ballots on p-2 sit below the 3-ballot quorum.
	assert.Equal(t, VerdictPending, res.ResultsByProposal[1].Result)

	// Chain covers the session record plus every vote, and verifies.
	require.Len(t, res.AuditChain, 6)
	require.NoError(t, auditchain.Verify(res.AuditChain))
}
