package consensus

import (
	"context"
	"fmt"
	"sort"

	"github.com/plenum-labs/plenum/pkg/auditchain"
	"github.com/plenum-labs/plenum/pkg/contracts"
)

// VoteSource supplies votes for result derivation. ListVotesBySession must
// return votes ordered by cast time with stable insertion-order tie-break;
// ListVotesByProposal scopes to one proposal within a session.
type VoteSource interface {
	ListVotesBySession(ctx context.Context, sessionID string) ([]contracts.Vote, error)
	ListVotesByProposal(ctx context.Context, sessionID, proposalID string) ([]contracts.Vote, error)
}

// SessionSource supplies session records. A missing session is (nil, nil).
type SessionSource interface {
	GetSession(ctx context.Context, sessionID string) (*contracts.VotingSession, error)
}

// SessionResults is the full derived picture of one governance session.
type SessionResults struct {
	Session           *contracts.VotingSession `json:"session,omitempty"`
	TotalVotes        int                      `json:"total_votes"`
	TotalAgents       int                      `json:"total_agents"`
	ParticipationRate float64                  `json:"participation_rate"`
	ResultsByProposal []VotingResult           `json:"results_by_proposal"`
	AuditChain        []auditchain.Entry       `json:"audit_chain"`
}

// Service derives voting results and session summaries on demand.
type Service struct {
	votes      VoteSource
	sessions   SessionSource
	thresholds Thresholds
	// eligibleVoters is the population quorum and participation are
	// measured against. Zero disables the participation rate.
	eligibleVoters int
}

// NewService creates a result service. eligibleVoters may be zero when the
// voter population is unknown.
func NewService(votes VoteSource, sessions SessionSource, th Thresholds, eligibleVoters int) *Service {
	return &Service{votes: votes, sessions: sessions, thresholds: th, eligibleVoters: eligibleVoters}
}

// GetVotingResult computes the result for one proposal within a session.
func (s *Service) GetVotingResult(ctx context.Context, sessionID, proposalID string) (VotingResult, error) {
	votes, err := s.votes.ListVotesByProposal(ctx, sessionID, proposalID)
	if err != nil {
		return VotingResult{}, fmt.Errorf("voting result for %s/%s: %w", sessionID, proposalID, err)
	}
	return Calculate(proposalID, votes, s.thresholds), nil
}

// GetSessionResults derives per-proposal results, participation, and the
// audit chain for a whole session in one pass over its votes.
func (s *Service) GetSessionResults(ctx context.Context, sessionID string) (*SessionResults, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session results %s: %w", sessionID, err)
	}
	votes, err := s.votes.ListVotesBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session results %s: %w", sessionID, err)
	}

	byProposal := make(map[string][]contracts.Vote)
	agents := make(map[string]struct{})
	for _, v := range votes {
		byProposal[v.ProposalID] = append(byProposal[v.ProposalID], v)
		agents[v.AgentID] = struct{}{}
	}

	proposalIDs := make([]string, 0, len(byProposal))
	for id := range byProposal {
		proposalIDs = append(proposalIDs, id)
	}
	sort.Strings(proposalIDs)

	results := make([]VotingResult, 0, len(proposalIDs))
	for _, id := range proposalIDs {
		results = append(results, Calculate(id, byProposal[id], s.thresholds))
	}

	chain, err := auditchain.Fold(sessionID, session, votes)
	if err != nil {
		return nil, fmt.Errorf("session results %s: %w", sessionID, err)
	}

	return &SessionResults{
		Session:           session,
		TotalVotes:        len(votes),
		TotalAgents:       len(agents),
		ParticipationRate: ParticipationRate(len(agents), s.eligibleVoters),
		ResultsByProposal: results,
		AuditChain:        chain,
	}, nil
}
