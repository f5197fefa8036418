package phase

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/plenum-labs/plenum/pkg/contracts"
)

var (
	celEnvOnce sync.Once
	celEnv     *cel.Env
	celEnvErr  error
)

// celEnvironment builds the shared evaluation environment exposing the
// proposal context to gate expressions.
func celEnvironment() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(
			cel.Variable("phase", cel.StringType),
			cel.Variable("status", cel.StringType),
			cel.Variable("hours_in_phase", cel.DoubleType),
			cel.Variable("participants", cel.IntType),
			cel.Variable("votes", cel.IntType),
			cel.Variable("discussions", cel.IntType),
			cel.Variable("eligible_voters", cel.IntType),
			cel.Variable("metadata", cel.DynType),
		)
	})
	return celEnv, celEnvErr
}

// NewCELCondition compiles a gate expression into a Condition. Compilation
// happens once, up front, so a malformed expression fails at startup rather
// than silently blocking transitions. Evaluation errors at runtime are
// fail-closed: the condition reports unmet.
func NewCELCondition(kind ConditionKind, description, expr string) (Condition, error) {
	env, err := celEnvironment()
	if err != nil {
		return Condition{}, fmt.Errorf("cel environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return Condition{}, fmt.Errorf("compile gate %q: %w", expr, issues.Err())
	}
	prg, err := env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return Condition{}, fmt.Errorf("program gate %q: %w", expr, err)
	}

	return Condition{
		Kind:        kind,
		Description: description,
		Predicate: func(ctx *contracts.ProposalContext) (bool, error) {
			metadata := ctx.Proposal.Metadata
			if metadata == nil {
				metadata = map[string]any{}
			}
			out, _, err := prg.Eval(map[string]any{
				"phase":           string(ctx.Proposal.CurrentPhase),
				"status":          string(ctx.Proposal.CurrentStatus),
				"hours_in_phase":  ctx.TimeInPhase.Hours(),
				"participants":    len(ctx.Participants),
				"votes":           len(ctx.Votes),
				"discussions":     len(ctx.Discussions),
				"eligible_voters": ctx.EligibleVoters,
				"metadata":        metadata,
			})
			if err != nil {
				return false, fmt.Errorf("eval gate %q: %w", expr, err)
			}
			val, ok := out.Value().(bool)
			if !ok {
				return false, fmt.Errorf("gate %q: result is not a bool", expr)
			}
			return val, nil
		},
	}, nil
}
