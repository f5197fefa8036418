// Package phase owns the proposal lifecycle: the transition rule table,
// the condition-gated state machine, and the automatic sweep. Rules are
// immutable after construction; the engine re-evaluates conditions against
// fresh context on every check and again at execution time.
package phase

import (
	"fmt"
	"time"

	"github.com/plenum-labs/plenum/pkg/config"
	"github.com/plenum-labs/plenum/pkg/contracts"
)

// ConditionKind categorizes what a condition gates on.
type ConditionKind string

const (
	ConditionManual        ConditionKind = "manual"
	ConditionTime          ConditionKind = "time"
	ConditionParticipation ConditionKind = "participation"
	ConditionConsensus     ConditionKind = "consensus"
)

// Condition is one requirement on a transition. The predicate is evaluated
// against a freshly assembled context; an error is treated as "not met"
// (fail-closed), never as fatal.
type Condition struct {
	Kind        ConditionKind
	Description string
	Predicate   func(ctx *contracts.ProposalContext) (bool, error)
}

// Rule authorizes one (from, to) transition when all its conditions hold.
type Rule struct {
	From       contracts.Phase
	To         contracts.Phase
	Conditions []Condition
	// Automatic rules are picked up by the sweep once TimeInPhase has
	// reached Timeout. Manual rules fire only on explicit request.
	Automatic bool
	Timeout   time.Duration
	// AllowedRoles restricts who may trigger the rule manually. Empty
	// means unrestricted.
	AllowedRoles []string
}

// RuleTable is the immutable transition rule set. Order matters: the sweep
// tries automatic rules in table order and the first eligible rule wins.
type RuleTable struct {
	rules []Rule
}

// NewRuleTable builds a table from rules in precedence order.
func NewRuleTable(rules ...Rule) *RuleTable {
	return &RuleTable{rules: rules}
}

// Find returns the rule for (from, to), or false when no rule exists.
func (t *RuleTable) Find(from, to contracts.Phase) (Rule, bool) {
	for _, r := range t.rules {
		if r.From == from && r.To == to {
			return r, true
		}
	}
	return Rule{}, false
}

// FromPhase returns all rules leaving a phase, in table order.
func (t *RuleTable) FromPhase(from contracts.Phase) []Rule {
	var out []Rule
	for _, r := range t.rules {
		if r.From == from {
			out = append(out, r)
		}
	}
	return out
}

// Len returns the number of rules.
func (t *RuleTable) Len() int { return len(t.rules) }

// DefaultRuleTable builds the standard governance chain from a profile:
//
//	PROPOSAL -> DISCUSSION   manual, proposal submitted
//	DISCUSSION -> REVISION   automatic, min discussion time + participation
//	REVISION -> VOTING       manual, revision complete
//	VOTING -> RESOLUTION     automatic, quorum + full voting window
//	RESOLUTION -> EXECUTION  automatic, resolution approved
//
// A phase's optional CEL gate expression is appended to every rule leaving
// that phase.
func DefaultRuleTable(profile *config.Profile) (*RuleTable, error) {
	discussion := profile.Phase(contracts.PhaseDiscussion)
	voting := profile.Phase(contracts.PhaseVoting)

	minDiscussion := discussion.MinDuration.Std()
	minDiscussants := discussion.MinParticipants
	votingWindow := voting.DefaultDuration.Std()
	quorum := voting.MinParticipants

	rules := []Rule{
		{
			From: contracts.PhaseProposal,
			To:   contracts.PhaseDiscussion,
			Conditions: []Condition{{
				Kind:        ConditionManual,
				Description: "proposal has been submitted and is in DRAFT status",
				Predicate: func(ctx *contracts.ProposalContext) (bool, error) {
					return ctx.Proposal.CurrentStatus == contracts.StatusDraft, nil
				},
			}},
		},
		{
			From:      contracts.PhaseDiscussion,
			To:        contracts.PhaseRevision,
			Automatic: true,
			Timeout:   discussion.DefaultDuration.Std(),
			Conditions: []Condition{
				{
					Kind:        ConditionTime,
					Description: fmt.Sprintf("minimum discussion time of %s has elapsed", minDiscussion),
					Predicate: func(ctx *contracts.ProposalContext) (bool, error) {
						return ctx.TimeInPhase >= minDiscussion, nil
					},
				},
				{
					Kind:        ConditionParticipation,
					Description: fmt.Sprintf("at least %d discussion participants have joined", minDiscussants),
					Predicate: func(ctx *contracts.ProposalContext) (bool, error) {
						return len(ctx.Participants) >= minDiscussants, nil
					},
				},
			},
		},
		{
			From: contracts.PhaseRevision,
			To:   contracts.PhaseVoting,
			Conditions: []Condition{{
				Kind:        ConditionManual,
				Description: "revision is complete and the proposal is in REVISION status",
				Predicate: func(ctx *contracts.ProposalContext) (bool, error) {
					return ctx.Proposal.CurrentStatus == contracts.StatusRevision, nil
				},
			}},
		},
		{
			From:      contracts.PhaseVoting,
			To:        contracts.PhaseResolution,
			Automatic: true,
			Timeout:   votingWindow,
			Conditions: []Condition{
				{
					Kind:        ConditionParticipation,
					Description: fmt.Sprintf("quorum of %d ballots has been reached", quorum),
					Predicate: func(ctx *contracts.ProposalContext) (bool, error) {
						return len(ctx.Votes) >= quorum, nil
					},
				},
				{
					Kind:        ConditionTime,
					Description: fmt.Sprintf("voting window of %s has fully elapsed", votingWindow),
					Predicate: func(ctx *contracts.ProposalContext) (bool, error) {
						return ctx.TimeInPhase >= votingWindow, nil
					},
				},
			},
		},
		{
			From:      contracts.PhaseResolution,
			To:        contracts.PhaseExecution,
			Automatic: true,
			Conditions: []Condition{{
				Kind:        ConditionConsensus,
				Description: "resolution has been approved",
				Predicate: func(ctx *contracts.ProposalContext) (bool, error) {
					return ctx.Proposal.CurrentStatus == contracts.StatusApproved, nil
				},
			}},
		},
	}

	for i := range rules {
		gate := profile.Phase(rules[i].From).Gate
		if gate == "" {
			continue
		}
		cond, err := NewCELCondition(ConditionManual,
			fmt.Sprintf("%s gate expression holds", rules[i].From), gate)
		if err != nil {
			return nil, fmt.Errorf("rule %s->%s: %w", rules[i].From, rules[i].To, err)
		}
		rules[i].Conditions = append(rules[i].Conditions, cond)
	}

	return NewRuleTable(rules...), nil
}
