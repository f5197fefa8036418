// Package contracts defines the shared data contracts of the PLENUM
// governance core: proposals, votes, sessions, and the transition events
// exchanged between the phase engine and its collaborators.
package contracts

import (
	"time"
)

// Phase is one of the six ordered governance stages a proposal moves through.
type Phase string

const (
	PhaseProposal   Phase = "PROPOSAL"
	PhaseDiscussion Phase = "DISCUSSION"
	PhaseRevision   Phase = "REVISION"
	PhaseVoting     Phase = "VOTING"
	PhaseResolution Phase = "RESOLUTION"
	PhaseExecution  Phase = "EXECUTION"
)

// PhaseOrder lists all phases in their canonical progression order.
var PhaseOrder = []Phase{
	PhaseProposal,
	PhaseDiscussion,
	PhaseRevision,
	PhaseVoting,
	PhaseResolution,
	PhaseExecution,
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case PhaseProposal, PhaseDiscussion, PhaseRevision, PhaseVoting, PhaseResolution, PhaseExecution:
		return true
	}
	return false
}

// Terminal reports whether the phase has no outgoing rule in the default
// rule table. EXECUTION is the end of the chain.
func (p Phase) Terminal() bool {
	return p == PhaseExecution
}

// Status is the finer-grained lifecycle label correlated with Phase.
type Status string

const (
	StatusDraft      Status = "DRAFT"
	StatusDiscussion Status = "DISCUSSION"
	StatusRevision   Status = "REVISION"
	StatusVoting     Status = "VOTING"
	StatusApproved   Status = "APPROVED"
	StatusRejected   Status = "REJECTED"
	StatusExecuted   Status = "EXECUTED"
)

// CanonicalStatus returns the status a proposal carries on entry to the
// given phase. RESOLUTION defaults to APPROVED pending determination; the
// phase engine overrides it with the actual voting verdict when one exists.
func CanonicalStatus(p Phase) Status {
	switch p {
	case PhaseProposal:
		return StatusDraft
	case PhaseDiscussion:
		return StatusDiscussion
	case PhaseRevision:
		return StatusRevision
	case PhaseVoting:
		return StatusVoting
	case PhaseResolution:
		return StatusApproved
	case PhaseExecution:
		return StatusExecuted
	}
	return StatusDraft
}

// Settled reports whether the status ends a proposal's lifecycle for the
// purposes of the automatic sweep. APPROVED is deliberately not settled:
// an approved proposal in RESOLUTION still advances to EXECUTION.
func (s Status) Settled() bool {
	return s == StatusRejected || s == StatusExecuted
}

// Proposal is the unit of governance. Mutated only by the phase engine;
// never deleted by the core.
type Proposal struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Proposer       string         `json:"proposer"`
	CurrentPhase   Phase          `json:"current_phase"`
	CurrentStatus  Status         `json:"current_status"`
	PhaseStartedAt time.Time      `json:"phase_started_at"`
	Deadline       *time.Time     `json:"deadline,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Decision is an agent's stance on a proposal.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionAbstain Decision = "abstain"
)

// Valid reports whether d is a known decision.
func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject || d == DecisionAbstain
}

// Vote is a weighted ballot cast by an agent within a session. Identity is
// the (SessionID, AgentID, ProposalID) triple; later submissions upsert.
type Vote struct {
	SessionID  string    `json:"session_id"`
	AgentID    string    `json:"agent_id"`
	ProposalID string    `json:"proposal_id"`
	Decision   Decision  `json:"decision"`
	Weight     float64   `json:"weight"`
	Comment    string    `json:"comment,omitempty"`
	CastAt     time.Time `json:"cast_at"`
}

// VotingSession groups votes under a governance cycle. One session can host
// votes across multiple proposals.
type VotingSession struct {
	ID       string         `json:"id"`
	Title    string         `json:"title"`
	Date     time.Time      `json:"date"`
	Summary  string         `json:"summary,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Discussion is a single contribution to a proposal's discussion phase.
type Discussion struct {
	ProposalID string    `json:"proposal_id"`
	AgentID    string    `json:"agent_id"`
	Body       string    `json:"body"`
	PostedAt   time.Time `json:"posted_at"`
}

// ProposalContext is the evidence bundle the phase engine evaluates
// transition conditions against. It is assembled fresh on every check.
type ProposalContext struct {
	Proposal    *Proposal
	TimeInPhase time.Duration
	// Participants is the union of proposer, discussion participants,
	// and voters.
	Participants []string
	Votes        []Vote
	Discussions  []Discussion
	// EligibleVoters is the size of the population quorum is measured
	// against. Zero means unknown; quorum then falls back to the phase
	// configuration's minimum-participant count.
	EligibleVoters int
	Now            time.Time
}

// TransitionEvent records one executed phase change. Emitted to external
// subscribers after the proposal's state has been persisted.
type TransitionEvent struct {
	EventID     string    `json:"event_id"`
	ProposalID  string    `json:"proposal_id"`
	FromPhase   Phase     `json:"from_phase"`
	ToPhase     Phase     `json:"to_phase"`
	FromStatus  Status    `json:"from_status"`
	ToStatus    Status    `json:"to_status"`
	TriggeredBy string    `json:"triggered_by"`
	TriggeredAt time.Time `json:"triggered_at"`
	Reason      string    `json:"reason,omitempty"`
	Automatic   bool      `json:"automatic"`
}

// Actor identifies who is requesting a transition, with the roles the rule
// table may gate on.
type Actor struct {
	ID    string
	Roles []string
}

// HasRole reports whether the actor carries the given role.
func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// SystemActor is the identity used by the automatic transition sweep.
var SystemActor = Actor{ID: "system:scheduler", Roles: []string{"system"}}
