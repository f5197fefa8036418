package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/plenum-labs/plenum/pkg/contracts"
)

// Records is the slice of the store contract the context provider needs.
// Both SQLiteStore and PostgresStore satisfy it.
type Records interface {
	GetProposal(ctx context.Context, id string) (*contracts.Proposal, error)
	ListVotesForProposal(ctx context.Context, proposalID string) ([]contracts.Vote, error)
	ListDiscussionsByProposal(ctx context.Context, proposalID string) ([]contracts.Discussion, error)
}

// ContextProvider assembles the ProposalContext the phase engine evaluates
// transition conditions against.
type ContextProvider struct {
	records        Records
	eligibleVoters int
	now            func() time.Time
}

// NewContextProvider creates a provider. eligibleVoters may be zero when
// the voter population is unknown. If now is nil, wall-clock time is used.
func NewContextProvider(records Records, eligibleVoters int, now func() time.Time) *ContextProvider {
	if now == nil {
		now = time.Now
	}
	return &ContextProvider{records: records, eligibleVoters: eligibleVoters, now: now}
}

// Get builds a fresh context for one proposal. The participant set is the
// union of proposer, discussion participants, and voters.
func (p *ContextProvider) Get(ctx context.Context, proposalID string) (*contracts.ProposalContext, error) {
	proposal, err := p.records.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	votes, err := p.records.ListVotesForProposal(ctx, proposalID)
	if err != nil {
		return nil, fmt.Errorf("context for %s: %w", proposalID, err)
	}
	discussions, err := p.records.ListDiscussionsByProposal(ctx, proposalID)
	if err != nil {
		return nil, fmt.Errorf("context for %s: %w", proposalID, err)
	}

	seen := make(map[string]struct{})
	if proposal.Proposer != "" {
		seen[proposal.Proposer] = struct{}{}
	}
	for _, d := range discussions {
		seen[d.AgentID] = struct{}{}
	}
	for _, v := range votes {
		seen[v.AgentID] = struct{}{}
	}
	participants := make([]string, 0, len(seen))
	for agent := range seen {
		participants = append(participants, agent)
	}
	sort.Strings(participants)

	now := p.now().UTC()
	return &contracts.ProposalContext{
		Proposal:       proposal,
		TimeInPhase:    now.Sub(proposal.PhaseStartedAt),
		Participants:   participants,
		Votes:          votes,
		Discussions:    discussions,
		EligibleVoters: p.eligibleVoters,
		Now:            now,
	}, nil
}
