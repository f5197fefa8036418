package consensus

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/plenum-labs/plenum/pkg/contracts"
)

func vote(agent string, d contracts.Decision, w float64) contracts.Vote {
	return contracts.Vote{SessionID: "s-1", AgentID: agent, ProposalID: "p-1", Decision: d, Weight: w}
}

func TestCalculateWeightedApproval(t *testing.T) {
	votes := []contracts.Vote{
		vote("a", contracts.DecisionApprove, 6),
		vote("b", contracts.DecisionApprove, 3),
		vote("c", contracts.DecisionReject, 1),
	}
	r := Calculate("p-1", votes, Thresholds{MinParticipants: 3, ConsensusThreshold: 0.7})

	assert.Equal(t, 10.0, r.TotalWeight)
	assert.Equal(t, 9.0, r.ApproveWeight)
	assert.Equal(t, 90.0, r.ConsensusPercentage)
	assert.True(t, r.QuorumMet)
	assert.True(t, r.ConsensusMet)
	assert.Equal(t, VerdictApproved, r.Result)
}

func TestCalculateZeroVotes(t *testing.T) {
	r := Calculate("p-1", nil, DefaultThresholds())

	assert.Equal(t, 0.0, r.TotalWeight)
	assert.Equal(t, 0.0, r.ConsensusPercentage)
	assert.False(t, r.QuorumMet)
	assert.Equal(t, VerdictPending, r.Result)
}

func TestCalculateQuorumNotMet(t *testing.T) {
	votes := []contracts.Vote{
		vote("a", contracts.DecisionApprove, 5),
		vote("b", contracts.DecisionApprove, 5),
		vote("c", contracts.DecisionApprove, 5),
	}
	r := Calculate("p-1", votes, DefaultThresholds())

	// 100% approval still pends below the 5-ballot quorum floor.
	assert.Equal(t, 100.0, r.ConsensusPercentage)
	assert.False(t, r.QuorumMet)
	assert.Equal(t, VerdictPending, r.Result)
}

func TestCalculateRejectedBelowThreshold(t *testing.T) {
	votes := []contracts.Vote{
		vote("a", contracts.DecisionApprove, 3),
		vote("b", contracts.DecisionReject, 3),
		vote("c", contracts.DecisionReject, 2),
		vote("d", contracts.DecisionAbstain, 1),
		vote("e", contracts.DecisionAbstain, 1),
	}
	r := Calculate("p-1", votes, DefaultThresholds())

	assert.True(t, r.QuorumMet)
	assert.Equal(t, 30.0, r.ConsensusPercentage)
	assert.False(t, r.ConsensusMet)
	assert.Equal(t, VerdictRejected, r.Result)
}

func TestCalculateAbstainCountsTowardTotalWeight(t *testing.T) {
	votes := []contracts.Vote{
		vote("a", contracts.DecisionApprove, 7),
		vote("b", contracts.DecisionAbstain, 3),
	}
	r := Calculate("p-1", votes, Thresholds{MinParticipants: 2, ConsensusThreshold: 0.7})

	assert.Equal(t, 10.0, r.TotalWeight)
	assert.Equal(t, 70.0, r.ConsensusPercentage)
	assert.True(t, r.ConsensusMet) // threshold is inclusive
}

func TestCalculateExactThresholdBoundary(t *testing.T) {
	votes := []contracts.Vote{
		vote("a", contracts.DecisionApprove, 69),
		vote("b", contracts.DecisionReject, 31),
	}
	r := Calculate("p-1", votes, Thresholds{MinParticipants: 2, ConsensusThreshold: 0.7})
	assert.False(t, r.ConsensusMet)
	assert.Equal(t, VerdictRejected, r.Result)
}

func TestParticipationRate(t *testing.T) {
	assert.Equal(t, 0.0, ParticipationRate(3, 0))
	assert.Equal(t, 0.5, ParticipationRate(5, 10))
	assert.Equal(t, 1.0, ParticipationRate(12, 10))
}

// Property: the weight partition is exact for any vote set.
func TestWeightPartitionProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	genVote := gen.Struct(reflect.TypeOf(contracts.Vote{}), map[string]gopter.Gen{
		"AgentID":  gen.Identifier(),
		"Decision": gen.OneConstOf(contracts.DecisionApprove, contracts.DecisionReject, contracts.DecisionAbstain),
		"Weight":   gen.Float64Range(0, 1000),
	})

	properties.Property("approve+reject+abstain == total", prop.ForAll(
		func(votes []contracts.Vote) bool {
			r := Calculate("p-prop", votes, DefaultThresholds())
			return r.ApproveWeight+r.RejectWeight+r.AbstainWeight == r.TotalWeight &&
				r.ApproveCount+r.RejectCount+r.AbstainCount == r.TotalVotes
		},
		gen.SliceOf(genVote),
	))

	properties.Property("zero total weight implies pending", prop.ForAll(
		func(n int) bool {
			votes := make([]contracts.Vote, n)
			for i := range votes {
				votes[i] = vote("a", contracts.DecisionApprove, 0)
			}
			r := Calculate("p-prop", votes, Thresholds{MinParticipants: 1, ConsensusThreshold: 0.7})
			return r.ConsensusPercentage == 0 && r.Result == VerdictPending
		},
		gen.IntRange(0, 20),
	))

	properties.TestingRun(t)
}
