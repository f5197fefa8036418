package phase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/plenum-labs/plenum/pkg/config"
	"github.com/plenum-labs/plenum/pkg/consensus"
	"github.com/plenum-labs/plenum/pkg/contracts"
	"github.com/plenum-labs/plenum/pkg/events"
	"github.com/plenum-labs/plenum/pkg/metadata"
	"github.com/plenum-labs/plenum/pkg/store"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production clock.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// ContextProvider assembles the evidence bundle a transition is judged
// against.
type ContextProvider interface {
	Get(ctx context.Context, proposalID string) (*contracts.ProposalContext, error)
}

// ProposalStore is the subset of the persistence layer the machine mutates
// through. Phase updates are conditional on the expected current phase;
// store.ErrConflict signals a lost race.
type ProposalStore interface {
	ListActiveProposals(ctx context.Context) ([]*contracts.Proposal, error)
	UpdateProposalPhase(ctx context.Context, id string, expect, to contracts.Phase, toStatus contracts.Status, startedAt time.Time, deadline *time.Time) error
	UpdateProposalDeadline(ctx context.Context, id string, expect contracts.Phase, deadline time.Time) error
	SetProposalMetadata(ctx context.Context, id string, metadata map[string]any) error
}

// Observer mirrors the observability provider's operation tracking. Optional.
type Observer interface {
	TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error))
}

// ValidationError reports a transition that was refused, with the
// human-readable reasons the caller can surface.
type ValidationError struct {
	ProposalID string
	From       contracts.Phase
	To         contracts.Phase
	Reasons    []string
}

// Error implements error.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("transition %s: %s -> %s refused: %s",
		e.ProposalID, e.From, e.To, strings.Join(e.Reasons, "; "))
}

// CheckResult is the outcome of a non-mutating transition check.
type CheckResult struct {
	CanTransition bool
	Reasons       []string
}

// SweepReport summarizes one automatic-transition pass.
type SweepReport struct {
	Scanned      int
	Transitioned int
	Errors       int
}

// Machine executes phase transitions. All mutations go through the
// conditional phase update, so two racing transitions on one proposal
// resolve to exactly one winner even across processes; the per-proposal
// lock only keeps a single process from doing redundant work.
type Machine struct {
	rules    *RuleTable
	profile  *config.Profile
	provider ContextProvider
	store    ProposalStore
	sink     events.Sink
	clock    Clock
	logger   *slog.Logger

	obs       Observer
	validator *metadata.Validator

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewMachine wires a machine. A nil sink drops events, a nil clock uses the
// system clock, a nil logger uses slog.Default.
func NewMachine(rules *RuleTable, profile *config.Profile, provider ContextProvider, st ProposalStore, sink events.Sink, clock Clock, logger *slog.Logger) *Machine {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		rules:    rules,
		profile:  profile,
		provider: provider,
		store:    st,
		sink:     sink,
		clock:    clock,
		logger:   logger.With("component", "phase"),
		locks:    make(map[string]*sync.Mutex),
	}
}

// SetObservability attaches operation tracking after construction.
func (m *Machine) SetObservability(obs Observer) { m.obs = obs }

// SetMetadataValidator gates submission on the proposal metadata schema:
// with a validator set, a proposal cannot leave PROPOSAL until its metadata
// validates.
func (m *Machine) SetMetadataValidator(v *metadata.Validator) { m.validator = v }

func (m *Machine) lockFor(proposalID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[proposalID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[proposalID] = l
	}
	return l
}

// CanTransition checks whether a proposal could move to the target phase
// right now, without mutating anything. A missing rule is a reason, not an
// error; errors are reserved for unknown proposals and store failures.
func (m *Machine) CanTransition(ctx context.Context, proposalID string, to contracts.Phase) (CheckResult, error) {
	pctx, err := m.provider.Get(ctx, proposalID)
	if err != nil {
		return CheckResult{}, fmt.Errorf("can transition %s: %w", proposalID, err)
	}

	from := pctx.Proposal.CurrentPhase
	rule, ok := m.rules.Find(from, to)
	if !ok {
		return CheckResult{
			Reasons: []string{fmt.Sprintf("no transition rule from %s to %s", from, to)},
		}, nil
	}

	reasons := m.unmetConditions(rule, pctx)
	return CheckResult{CanTransition: len(reasons) == 0, Reasons: reasons}, nil
}

// unmetConditions evaluates every condition of a rule and collects the
// descriptions of those that do not hold. Predicate errors fail closed.
func (m *Machine) unmetConditions(rule Rule, pctx *contracts.ProposalContext) []string {
	var reasons []string
	if m.validator != nil && rule.From == contracts.PhaseProposal {
		if err := m.validator.Validate(metadata.KindProposal, pctx.Proposal.Metadata); err != nil {
			reasons = append(reasons, fmt.Sprintf("proposal metadata is invalid: %v", err))
		}
	}
	for _, cond := range rule.Conditions {
		ok, err := cond.Predicate(pctx)
		if err != nil {
			m.logger.Warn("condition evaluation failed",
				"proposal_id", pctx.Proposal.ID,
				"condition", cond.Description,
				"error", err,
			)
			reasons = append(reasons, cond.Description)
			continue
		}
		if !ok {
			reasons = append(reasons, cond.Description)
		}
	}
	return reasons
}

// TransitionPhase moves a proposal to the target phase. Conditions are
// re-evaluated against fresh context under the proposal's lock, the phase
// update is conditional on the phase the context was read in, and the
// transition event is emitted only after the state has been persisted.
func (m *Machine) TransitionPhase(ctx context.Context, proposalID string, to contracts.Phase, actor contracts.Actor, reason string) (event *contracts.TransitionEvent, err error) {
	if m.obs != nil {
		var done func(error)
		ctx, done = m.obs.TrackOperation(ctx, "phase.transition",
			attribute.String("proposal.id", proposalID),
			attribute.String("phase.to", string(to)),
		)
		defer func() { done(err) }()
	}

	lock := m.lockFor(proposalID)
	lock.Lock()
	defer lock.Unlock()

	pctx, err := m.provider.Get(ctx, proposalID)
	if err != nil {
		return nil, fmt.Errorf("transition %s: %w", proposalID, err)
	}
	from := pctx.Proposal.CurrentPhase
	fromStatus := pctx.Proposal.CurrentStatus

	rule, ok := m.rules.Find(from, to)
	if !ok {
		return nil, &ValidationError{
			ProposalID: proposalID, From: from, To: to,
			Reasons: []string{fmt.Sprintf("no transition rule from %s to %s", from, to)},
		}
	}

	if len(rule.AllowedRoles) > 0 && !hasAnyRole(actor, rule.AllowedRoles) {
		return nil, &ValidationError{
			ProposalID: proposalID, From: from, To: to,
			Reasons: []string{fmt.Sprintf("actor %s lacks a required role (%s)",
				actor.ID, strings.Join(rule.AllowedRoles, ", "))},
		}
	}

	if reasons := m.unmetConditions(rule, pctx); len(reasons) > 0 {
		return nil, &ValidationError{ProposalID: proposalID, From: from, To: to, Reasons: reasons}
	}

	now := m.clock.Now()
	toStatus := m.statusOnEntry(to, pctx)
	deadline := m.deadlineOnEntry(to, now)

	if err := m.store.UpdateProposalPhase(ctx, proposalID, from, to, toStatus, now, deadline); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, &ValidationError{
				ProposalID: proposalID, From: from, To: to,
				Reasons: []string{"proposal state changed concurrently"},
			}
		}
		return nil, fmt.Errorf("transition %s: persist %s -> %s: %w", proposalID, from, to, err)
	}

	event = &contracts.TransitionEvent{
		EventID:     uuid.NewString(),
		ProposalID:  proposalID,
		FromPhase:   from,
		ToPhase:     to,
		FromStatus:  fromStatus,
		ToStatus:    toStatus,
		TriggeredBy: actor.ID,
		TriggeredAt: now,
		Reason:      reason,
		Automatic:   actor.ID == contracts.SystemActor.ID,
	}
	m.emit(ctx, event)
	return event, nil
}

// statusOnEntry derives the status a proposal carries into the target phase.
// Entry to RESOLUTION is the determination point: the verdict over the votes
// cast so far decides APPROVED or REJECTED; with no decisive verdict the
// canonical APPROVED-pending-determination stands.
func (m *Machine) statusOnEntry(to contracts.Phase, pctx *contracts.ProposalContext) contracts.Status {
	if to != contracts.PhaseResolution {
		return contracts.CanonicalStatus(to)
	}

	voting := m.profile.Phase(contracts.PhaseVoting)
	result := consensus.Calculate(pctx.Proposal.ID, pctx.Votes, consensus.Thresholds{
		MinParticipants:    voting.MinParticipants,
		ConsensusThreshold: m.profile.ConsensusThreshold(),
	})
	switch result.Result {
	case consensus.VerdictApproved:
		return contracts.StatusApproved
	case consensus.VerdictRejected:
		return contracts.StatusRejected
	default:
		return contracts.CanonicalStatus(to)
	}
}

// deadlineOnEntry computes the target phase's deadline, nil when the phase
// has no configured duration.
func (m *Machine) deadlineOnEntry(to contracts.Phase, now time.Time) *time.Time {
	dur := m.profile.Phase(to).DefaultDuration.Std()
	if dur <= 0 {
		return nil
	}
	d := now.Add(dur)
	return &d
}

func (m *Machine) emit(ctx context.Context, event *contracts.TransitionEvent) {
	if m.sink == nil {
		return
	}
	if err := m.sink.Emit(ctx, event); err != nil {
		m.logger.Warn("event delivery failed",
			"event_id", event.EventID,
			"proposal_id", event.ProposalID,
			"error", err,
		)
	}
}

// ProcessAutomaticTransitions sweeps every active proposal once. Automatic
// rules whose timeout has elapsed are tried in table order and the first
// whose conditions hold fires; at most one transition per proposal per
// sweep. A failing proposal never blocks the rest of the sweep.
func (m *Machine) ProcessAutomaticTransitions(ctx context.Context) (report SweepReport, err error) {
	if m.obs != nil {
		var done func(error)
		ctx, done = m.obs.TrackOperation(ctx, "phase.sweep")
		defer func() { done(err) }()
	}

	proposals, err := m.store.ListActiveProposals(ctx)
	if err != nil {
		return report, fmt.Errorf("sweep: %w", err)
	}
	report.Scanned = len(proposals)

	for _, p := range proposals {
		transitioned, perr := m.sweepProposal(ctx, p)
		if perr != nil {
			report.Errors++
			m.logger.Error("sweep failed for proposal",
				"proposal_id", p.ID,
				"phase", p.CurrentPhase,
				"error", perr,
			)
			continue
		}
		if transitioned {
			report.Transitioned++
		}
	}
	return report, nil
}

func (m *Machine) sweepProposal(ctx context.Context, p *contracts.Proposal) (bool, error) {
	pctx, err := m.provider.Get(ctx, p.ID)
	if err != nil {
		return false, err
	}

	for _, rule := range m.rules.FromPhase(pctx.Proposal.CurrentPhase) {
		if !rule.Automatic {
			continue
		}
		if pctx.TimeInPhase < rule.Timeout {
			continue
		}
		if len(m.unmetConditions(rule, pctx)) > 0 {
			continue
		}

		// TransitionPhase re-reads context and re-validates; a proposal
		// that changed since the check above surfaces as a refusal, not
		// an error.
		_, err := m.TransitionPhase(ctx, p.ID, rule.To, contracts.SystemActor, "automatic transition")
		var verr *ValidationError
		if errors.As(err, &verr) {
			m.logger.Debug("automatic transition refused on re-validation",
				"proposal_id", p.ID,
				"to", rule.To,
				"reasons", strings.Join(verr.Reasons, "; "),
			)
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// extensionsUsedKey records in proposal metadata how many deadline
// extensions the current phase has consumed. Reset on phase entry is not
// needed: the key is namespaced by phase.
func extensionsUsedKey(p contracts.Phase) string {
	return fmt.Sprintf("extensions_used_%s", strings.ToLower(string(p)))
}

// ExtendDeadline pushes the proposal's current-phase deadline out by the
// phase's configured extension, bounded by its allowed extension count.
func (m *Machine) ExtendDeadline(ctx context.Context, proposalID string, actor contracts.Actor) (time.Time, error) {
	lock := m.lockFor(proposalID)
	lock.Lock()
	defer lock.Unlock()

	pctx, err := m.provider.Get(ctx, proposalID)
	if err != nil {
		return time.Time{}, fmt.Errorf("extend %s: %w", proposalID, err)
	}
	p := pctx.Proposal
	settings := m.profile.Phase(p.CurrentPhase)

	if settings.AllowedExtensions == 0 || settings.ExtensionDuration.Std() <= 0 {
		return time.Time{}, &ValidationError{
			ProposalID: proposalID, From: p.CurrentPhase, To: p.CurrentPhase,
			Reasons: []string{fmt.Sprintf("phase %s does not allow deadline extensions", p.CurrentPhase)},
		}
	}

	used := extensionsUsed(p)
	if used >= settings.AllowedExtensions {
		return time.Time{}, &ValidationError{
			ProposalID: proposalID, From: p.CurrentPhase, To: p.CurrentPhase,
			Reasons: []string{fmt.Sprintf("all %d extensions for phase %s already used",
				settings.AllowedExtensions, p.CurrentPhase)},
		}
	}

	base := m.clock.Now()
	if p.Deadline != nil && p.Deadline.After(base) {
		base = *p.Deadline
	}
	newDeadline := base.Add(settings.ExtensionDuration.Std())

	if err := m.store.UpdateProposalDeadline(ctx, proposalID, p.CurrentPhase, newDeadline); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return time.Time{}, &ValidationError{
				ProposalID: proposalID, From: p.CurrentPhase, To: p.CurrentPhase,
				Reasons: []string{"proposal state changed concurrently"},
			}
		}
		return time.Time{}, fmt.Errorf("extend %s: %w", proposalID, err)
	}

	metadata := p.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata[extensionsUsedKey(p.CurrentPhase)] = used + 1
	if err := m.store.SetProposalMetadata(ctx, proposalID, metadata); err != nil {
		return time.Time{}, fmt.Errorf("extend %s: record extension: %w", proposalID, err)
	}

	m.logger.Info("deadline extended",
		"proposal_id", proposalID,
		"phase", p.CurrentPhase,
		"deadline", newDeadline,
		"extensions_used", used+1,
		"actor", actor.ID,
	)
	return newDeadline, nil
}

func extensionsUsed(p *contracts.Proposal) int {
	raw, ok := p.Metadata[extensionsUsedKey(p.CurrentPhase)]
	if !ok {
		return 0
	}
	switch v := raw.(type) {
	case int:
		return v
	case float64:
		// JSON round-trip through the store yields float64.
		return int(v)
	default:
		return 0
	}
}

func hasAnyRole(actor contracts.Actor, roles []string) bool {
	for _, r := range roles {
		if actor.HasRole(r) {
			return true
		}
	}
	return false
}
