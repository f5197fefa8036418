// Package consensus turns vote sets into verdicts. The calculator is pure:
// no side effects, no clock, no store access. Aggregation over sessions
// lives in the Service, which pulls votes from storage and replays them
// through the calculator and the audit chain builder.
package consensus

import (
	"math"

	"github.com/plenum-labs/plenum/pkg/contracts"
)

// Verdict is the outcome of a consensus calculation.
type Verdict string

const (
	VerdictApproved Verdict = "approved"
	VerdictRejected Verdict = "rejected"
	VerdictPending  Verdict = "pending"
)

// Thresholds parameterize quorum and consensus checks.
//
// Quorum is an absolute minimum-participant count. The system this replaces
// compared the observed vote count against a ceiling derived from that same
// count, which trivially passes once a single vote exists; quorum here is
// measured against an externally supplied floor instead.
type Thresholds struct {
	// MinParticipants is the minimum number of votes for quorum.
	MinParticipants int
	// ConsensusThreshold is the approve-weight fraction required for
	// approval once quorum is met, in [0,1].
	ConsensusThreshold float64
}

// DefaultThresholds mirror the default voting-phase configuration:
// quorum of 5 ballots, 70% approve weight.
func DefaultThresholds() Thresholds {
	return Thresholds{MinParticipants: 5, ConsensusThreshold: 0.7}
}

// VotingResult is the derived outcome for one proposal within a scope.
// It is recomputed on demand and never persisted.
type VotingResult struct {
	ProposalID          string  `json:"proposal_id"`
	TotalVotes          int     `json:"total_votes"`
	ApproveCount        int     `json:"approve_count"`
	RejectCount         int     `json:"reject_count"`
	AbstainCount        int     `json:"abstain_count"`
	ApproveWeight       float64 `json:"approve_weight"`
	RejectWeight        float64 `json:"reject_weight"`
	AbstainWeight       float64 `json:"abstain_weight"`
	TotalWeight         float64 `json:"total_weight"`
	ConsensusPercentage float64 `json:"consensus_percentage"`
	QuorumMet           bool    `json:"quorum_met"`
	ConsensusMet        bool    `json:"consensus_met"`
	Result              Verdict `json:"result"`
}

// Calculate derives a VotingResult from the votes for a single proposal.
//
// All weights count toward the total, abstentions included. Weights are
// taken as supplied; validating non-negative voting power is the agent
// subsystem's responsibility, not the calculator's.
func Calculate(proposalID string, votes []contracts.Vote, th Thresholds) VotingResult {
	r := VotingResult{ProposalID: proposalID, TotalVotes: len(votes)}

	for _, v := range votes {
		switch v.Decision {
		case contracts.DecisionApprove:
			r.ApproveCount++
			r.ApproveWeight += v.Weight
		case contracts.DecisionReject:
			r.RejectCount++
			r.RejectWeight += v.Weight
		default:
			r.AbstainCount++
			r.AbstainWeight += v.Weight
		}
	}
	r.TotalWeight = r.ApproveWeight + r.RejectWeight + r.AbstainWeight

	if r.TotalWeight > 0 {
		r.ConsensusPercentage = r.ApproveWeight / r.TotalWeight * 100
	}

	r.QuorumMet = th.MinParticipants > 0 && r.TotalVotes >= th.MinParticipants
	r.ConsensusMet = r.ConsensusPercentage >= th.ConsensusThreshold*100

	switch {
	// No weight on the table means nothing to decide, regardless of how
	// many zero-weight ballots arrived.
	case r.TotalWeight == 0:
		r.Result = VerdictPending
	case !r.QuorumMet:
		r.Result = VerdictPending
	case r.ConsensusMet:
		r.Result = VerdictApproved
	default:
		r.Result = VerdictRejected
	}
	return r
}

// ParticipationRate returns voters/eligible as a fraction in [0,1].
// Zero eligible voters yields zero rather than a division error.
func ParticipationRate(voters, eligible int) float64 {
	if eligible <= 0 {
		return 0
	}
	rate := float64(voters) / float64(eligible)
	return math.Min(rate, 1.0)
}
