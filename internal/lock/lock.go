package lock

import (
	"encoding/json"
	"time"

	"github.com/toolgate/toolgate/internal/models"
)

// Kind discriminates the lock reason variants.
type Kind int

// Lock reason kinds.
const (
	// KindNone means the run is allowed.
	KindNone Kind = iota
	// KindCooldown means a tool-specific cooldown is still running.
	KindCooldown
	// KindPlan means the effective plan does not include the tool.
	KindPlan
	// KindTokens means the token budget cannot cover the run.
	KindTokens
	// KindMulti composes two or more simultaneous reasons.
	KindMulti
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindCooldown:
		return "cooldown"
	case KindPlan:
		return "plan"
	case KindTokens:
		return "tokens"
	case KindMulti:
		return "multi"
	default:
		return "unknown"
	}
}

// Reason is a tagged variant: exactly the fields of its Kind are
// meaningful. It is computed fresh on every check and never persisted.
type Reason struct {
	Kind Kind

	TokensRemaining int64     // KindTokens: tokens still available this window.
	ResetAt         time.Time // KindTokens: when the window resets.

	RequiredPlanSlug string // KindPlan: cheapest plan that includes the tool.

	AvailableAt time.Time // KindCooldown: when the tool unlocks.

	Reasons []Reason // KindMulti: the composed reasons.
}

// None reports the run as allowed.
func None() Reason { return Reason{Kind: KindNone} }

// Tokens builds a token budget lock.
func Tokens(remaining int64, resetAt time.Time) Reason {
	return Reason{Kind: KindTokens, TokensRemaining: remaining, ResetAt: resetAt}
}

// Plan builds a plan inclusion lock.
func Plan(requiredPlanSlug string) Reason {
	return Reason{Kind: KindPlan, RequiredPlanSlug: requiredPlanSlug}
}

// Cooldown builds a cooldown lock.
func Cooldown(availableAt time.Time) Reason {
	return Reason{Kind: KindCooldown, AvailableAt: availableAt}
}

// Multi composes reasons; callers pass two or more.
func Multi(reasons []Reason) Reason {
	return Reason{Kind: KindMulti, Reasons: reasons}
}

// Locked reports whether the reason blocks the run.
func (r Reason) Locked() bool { return r.Kind != KindNone }

// MarshalJSON emits the discriminated wire form.
func (r Reason) MarshalJSON() ([]byte, error) {
	out := map[string]any{"kind": r.Kind.String()}
	switch r.Kind {
	case KindTokens:
		out["tokens_remaining"] = r.TokensRemaining
		out["resets_at"] = r.ResetAt.UTC().Format(time.RFC3339)
	case KindPlan:
		out["required_plan"] = r.RequiredPlanSlug
	case KindCooldown:
		out["available_at"] = r.AvailableAt.UTC().Format(time.RFC3339)
	case KindMulti:
		out["reasons"] = r.Reasons
	}
	return json.Marshal(out)
}

// Input is everything Compute needs: static config plus a usage snapshot
// taken at the instant of the check. Compute performs no I/O.
type Input struct {
	Tool models.Tool
	Caps models.Plan

	Window           models.UsageWindow
	PurchasedBalance int64

	RemainingBonusRuns int64
	CooldownUntil      time.Time // Zero when no cooldown is active.

	RequiredPlanSlug string // Cheapest plan including the tool; "" when none.

	Now time.Time
}

// Compute derives the lock state for one (actor, tool) check. It is a
// pure function: the display badge and the authoritative pre-run gate
// call it with the same inputs and must observe the same answer.
func Compute(in Input) Reason {
	var reasons []Reason

	if r, blocked := tokensReason(in); blocked {
		reasons = append(reasons, r)
	}
	if !in.Tool.IncludesPlan(in.Caps.Slug) && in.RemainingBonusRuns <= 0 {
		// Bonus runs grant temporary trial access regardless of plan
		// inclusion, so any remaining bonus suppresses this reason.
		reasons = append(reasons, Plan(in.RequiredPlanSlug))
	}
	if in.CooldownUntil.After(in.Now) {
		reasons = append(reasons, Cooldown(in.CooldownUntil))
	}

	switch len(reasons) {
	case 0:
		return None()
	case 1:
		return reasons[0]
	default:
		return Multi(reasons)
	}
}

// tokensReason checks the token budget and the daily run slot. Run-slot
// exhaustion shares the tokens variant: both resolve at the same daily
// reset and carry the same remedy.
func tokensReason(in Input) (Reason, bool) {
	allowanceLeft := in.Caps.DailyTokenCap - in.Window.TokensUsed
	if allowanceLeft < 0 {
		allowanceLeft = 0
	}
	available := allowanceLeft + in.PurchasedBalance
	if available < 0 {
		available = 0
	}

	if available < in.Tool.TokensPerRun && !in.Caps.AllowsTokenOverage {
		return Tokens(available, in.Window.WindowResetAt), true
	}

	runCap := in.Caps.DailyRunCap
	if override, ok := in.Tool.DailyRunsFor(in.Caps.Slug); ok {
		runCap = override
	}
	if runCap > 0 && in.Window.RunsUsed >= runCap {
		return Tokens(available, in.Window.WindowResetAt), true
	}
	return Reason{}, false
}

// severity ranks kinds for Worst. Tokens and plan are the same severity
// tier; the rank gap between them encodes the tokens-wins tie-break.
func severity(k Kind) int {
	switch k {
	case KindMulti:
		return 4
	case KindTokens:
		return 3
	case KindPlan:
		return 2
	case KindCooldown:
		return 1
	default:
		return 0
	}
}

// Worst picks the most severe reason across several checks, e.g. the
// single badge summarizing a tool group. Severity: multi > tokens = plan
// > cooldown > none, with tokens winning token/plan ties.
func Worst(reasons ...Reason) Reason {
	worst := None()
	worstRank := severity(KindNone)
	for _, r := range reasons {
		if rank := severity(r.Kind); rank > worstRank {
			worst = r
			worstRank = rank
		}
	}
	return worst
}
