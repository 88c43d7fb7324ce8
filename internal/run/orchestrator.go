package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/toolgate/toolgate/internal/bonus"
	"github.com/toolgate/toolgate/internal/catalog"
	"github.com/toolgate/toolgate/internal/cooldown"
	"github.com/toolgate/toolgate/internal/entitlement"
	"github.com/toolgate/toolgate/internal/ledger"
	"github.com/toolgate/toolgate/internal/lock"
	"github.com/toolgate/toolgate/internal/metering"
	"github.com/toolgate/toolgate/internal/metrics"
	"github.com/toolgate/toolgate/internal/models"
	"github.com/toolgate/toolgate/internal/usagewindow"
)

// Run result statuses.
const (
	StatusOK     = "ok"
	StatusLocked = "locked"
	StatusError  = "error"
)

// ErrToolDisabled indicates the tool exists but does not accept runs.
var ErrToolDisabled = errors.New("run: tool disabled")

// Request is one validated tool run request.
type Request struct {
	Identity entitlement.Identity
	ToolSlug string
	RunID    string // Caller-supplied idempotence key; generated when empty.
	Input    json.RawMessage
}

// Metering summarizes the charge attached to a completed run.
type Metering struct {
	ChargedTokens   int64     `json:"charged_tokens"`
	RemainingTokens int64     `json:"remaining_tokens"`
	RunsUsed        int64     `json:"runs_used"`
	RunsCap         int64     `json:"runs_cap"`
	ResetsAt        time.Time `json:"resets_at"`
	MeteringMode    string    `json:"metering_mode"`
}

// Result is the outcome of a run request. Locks are data, not errors.
type Result struct {
	Status      string          `json:"status"`
	RunID       string          `json:"run_id"`
	Lock        *lock.Reason    `json:"lock,omitempty"`
	LockMessage string          `json:"lock_message,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
	Metering    *Metering       `json:"metering,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// Snapshot is the usage state behind one lock check, reused by display
// surfaces so badge and gate decisions come from identical inputs.
type Snapshot struct {
	Tool     models.Tool
	Caps     models.Plan
	Subject  entitlement.Subject
	Window   models.UsageWindow
	Balance  int64
	Reason   lock.Reason
	RunsCap  int64
}

// Orchestrator wires the gate: resolve entitlement, roll the usage
// window forward, compute the lock, charge, execute, report.
type Orchestrator struct {
	catalog     *catalog.Catalog
	entitlement *entitlement.Resolver
	windows     *usagewindow.Tracker
	ledger      *ledger.Store
	bonus       *bonus.Store
	cooldowns   *cooldown.Manager
	meter       *metering.Meter
	executor    Executor
	nowFn       func() time.Time
}

// NewOrchestrator constructs an Orchestrator. A nil nowFn uses time.Now.
func NewOrchestrator(cat *catalog.Catalog, ent *entitlement.Resolver, windows *usagewindow.Tracker, ledgerStore *ledger.Store, bonusStore *bonus.Store, cooldowns *cooldown.Manager, meter *metering.Meter, executor Executor, nowFn func() time.Time) *Orchestrator {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Orchestrator{
		catalog:     cat,
		entitlement: ent,
		windows:     windows,
		ledger:      ledgerStore,
		bonus:       bonusStore,
		cooldowns:   cooldowns,
		meter:       meter,
		executor:    executor,
		nowFn:       nowFn,
	}
}

// CheckLock computes the lock state for one (identity, tool) pair. The
// catalog badge endpoint and the pre-run gate both go through here.
func (o *Orchestrator) CheckLock(ctx context.Context, identity entitlement.Identity, tool models.Tool) (Snapshot, error) {
	now := o.nowFn()

	resolution, errResolve := o.entitlement.Resolve(ctx, identity)
	if errResolve != nil {
		return Snapshot{}, errResolve
	}

	window, rolledOver, errWindow := o.windows.EnsureCurrent(ctx, resolution.Subject, now)
	if errWindow != nil {
		return Snapshot{}, errWindow
	}
	if rolledOver && resolution.Caps.RolloverCapTokens > 0 {
		if _, errCap := o.ledger.ApplyRolloverCap(ctx, identity.ActorID, resolution.Caps.RolloverCapTokens, window.WindowStartAt, now); errCap != nil {
			return Snapshot{}, errCap
		}
	}

	balance, errBalance := o.ledger.Balance(ctx, identity.ActorID)
	if errBalance != nil {
		return Snapshot{}, errBalance
	}
	remainingBonus, errBonus := o.bonus.Remaining(ctx, identity.ActorID, tool.Slug, now)
	if errBonus != nil {
		return Snapshot{}, errBonus
	}
	cooldownUntil, errCooldown := o.cooldowns.AvailableAt(ctx, identity.ActorID, tool.Slug)
	if errCooldown != nil {
		return Snapshot{}, errCooldown
	}
	requiredPlan, errRequired := o.catalog.CheapestPlanIncluding(ctx, &tool)
	if errRequired != nil {
		return Snapshot{}, errRequired
	}

	reason := lock.Compute(lock.Input{
		Tool:               tool,
		Caps:               resolution.Caps,
		Window:             window,
		PurchasedBalance:   balance,
		RemainingBonusRuns: remainingBonus,
		CooldownUntil:      cooldownUntil,
		RequiredPlanSlug:   requiredPlan,
		Now:                now,
	})

	return Snapshot{
		Tool:    tool,
		Caps:    resolution.Caps,
		Subject: resolution.Subject,
		Window:  window,
		Balance: balance,
		Reason:  reason,
		RunsCap: effectiveRunCap(tool, resolution.Caps),
	}, nil
}

// Run gates, charges and executes one tool run. Faults during the charge
// step abort before execution; a recorded charge is final.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Result, error) {
	toolSlug := strings.TrimSpace(req.ToolSlug)
	tool, errTool := o.catalog.ToolBySlug(ctx, toolSlug)
	if errTool != nil {
		return Result{}, errTool
	}
	if !tool.Enabled {
		return Result{}, ErrToolDisabled
	}

	snapshot, errCheck := o.CheckLock(ctx, req.Identity, tool)
	if errCheck != nil {
		metrics.RunDecisions.WithLabelValues("fault", "").Inc()
		return Result{}, errCheck
	}
	if snapshot.Reason.Locked() {
		metrics.RunDecisions.WithLabelValues("locked", snapshot.Reason.Kind.String()).Inc()
		return o.lockedResult(req, snapshot.Reason), nil
	}

	runID := strings.TrimSpace(req.RunID)
	if runID == "" {
		runID = uuid.NewString()
	}
	now := o.nowFn()

	outcome, errCharge := o.meter.Charge(ctx, req.Identity.ActorID, tool, snapshot.Caps, snapshot.Window.ID, runID, now)
	if errCharge != nil {
		if errors.Is(errCharge, metering.ErrInsufficientTokens) {
			// Lost a race for the last tokens between check and charge;
			// the loser is told the same thing a fresh check would say.
			reason := lock.Tokens(0, snapshot.Window.WindowResetAt)
			metrics.RunDecisions.WithLabelValues("locked", reason.Kind.String()).Inc()
			return o.lockedResult(req, reason), nil
		}
		metrics.RunDecisions.WithLabelValues("fault", "").Inc()
		return Result{}, fmt.Errorf("run: charge for %s: %w", toolSlug, errCharge)
	}
	metrics.RunDecisions.WithLabelValues("allowed", lock.KindNone.String()).Inc()
	metrics.Charges.WithLabelValues(outcome.Mode).Inc()
	if outcome.ChargedTokens > 0 {
		metrics.ChargedTokens.Add(float64(outcome.ChargedTokens))
	}

	output, errExec := o.executor.Execute(ctx, tool.Slug, req.Input)

	if tool.CooldownSeconds > 0 && errExec == nil {
		if errCooldown := o.cooldowns.Start(ctx, req.Identity.ActorID, tool.Slug, time.Duration(tool.CooldownSeconds)*time.Second); errCooldown != nil {
			log.WithError(errCooldown).Warn("run: failed to start cooldown")
		}
	}

	meteringSummary, errSummary := o.meteringSummary(ctx, req.Identity, snapshot, outcome, now)
	if errSummary != nil {
		// The charge is durable and the tool ran; a failed summary read
		// must not discard the output.
		log.WithError(errSummary).Warn("run: failed to load metering summary")
		meteringSummary = &Metering{
			ChargedTokens: outcome.ChargedTokens,
			ResetsAt:      snapshot.Window.WindowResetAt,
			MeteringMode:  outcome.Mode,
		}
	}

	if errExec != nil {
		log.WithError(errExec).WithFields(log.Fields{
			"tool":   tool.Slug,
			"run_id": runID,
		}).Error("run: tool execution failed")
		return Result{
			Status:   StatusError,
			RunID:    runID,
			Metering: meteringSummary,
			Error:    "tool execution failed",
		}, nil
	}

	return Result{
		Status:   StatusOK,
		RunID:    runID,
		Output:   output,
		Metering: meteringSummary,
	}, nil
}

func (o *Orchestrator) lockedResult(req Request, reason lock.Reason) Result {
	return Result{
		Status:      StatusLocked,
		RunID:       strings.TrimSpace(req.RunID),
		Lock:        &reason,
		LockMessage: lock.Message(reason),
	}
}

// meteringSummary re-reads the post-charge state so the response reports
// what the next check will see.
func (o *Orchestrator) meteringSummary(ctx context.Context, identity entitlement.Identity, snapshot Snapshot, outcome metering.Outcome, now time.Time) (*Metering, error) {
	window, _, errWindow := o.windows.EnsureCurrent(ctx, snapshot.Subject, now)
	if errWindow != nil {
		return nil, errWindow
	}
	balance, errBalance := o.ledger.Balance(ctx, identity.ActorID)
	if errBalance != nil {
		return nil, errBalance
	}

	allowanceLeft := snapshot.Caps.DailyTokenCap - window.TokensUsed
	if allowanceLeft < 0 {
		allowanceLeft = 0
	}
	remaining := allowanceLeft + balance
	if remaining < 0 {
		remaining = 0
	}

	return &Metering{
		ChargedTokens:   outcome.ChargedTokens,
		RemainingTokens: remaining,
		RunsUsed:        window.RunsUsed,
		RunsCap:         snapshot.RunsCap,
		ResetsAt:        window.WindowResetAt,
		MeteringMode:    outcome.Mode,
	}, nil
}

func effectiveRunCap(tool models.Tool, caps models.Plan) int64 {
	if override, ok := tool.DailyRunsFor(caps.Slug); ok {
		return override
	}
	return caps.DailyRunCap
}

// UsageSummary is the account-level view of the current window and
// purchased balance.
type UsageSummary struct {
	PlanSlug       string    `json:"plan_slug"`
	SubjectType    string    `json:"subject_type"`
	SubjectID      string    `json:"subject_id"`
	RunsUsed       int64     `json:"runs_used"`
	DailyRunCap    int64     `json:"daily_run_cap"`
	TokensUsed     int64     `json:"tokens_used"`
	DailyTokenCap  int64     `json:"daily_token_cap"`
	TokenBalance   int64     `json:"token_balance"`
	WindowStartsAt time.Time `json:"window_starts_at"`
	ResetsAt       time.Time `json:"resets_at"`
}

// Usage reports the caller's current window counters and purchased
// balance without reference to any particular tool.
func (o *Orchestrator) Usage(ctx context.Context, identity entitlement.Identity) (UsageSummary, error) {
	now := o.nowFn()

	resolution, errResolve := o.entitlement.Resolve(ctx, identity)
	if errResolve != nil {
		return UsageSummary{}, errResolve
	}
	window, rolledOver, errWindow := o.windows.EnsureCurrent(ctx, resolution.Subject, now)
	if errWindow != nil {
		return UsageSummary{}, errWindow
	}
	if rolledOver && resolution.Caps.RolloverCapTokens > 0 {
		if _, errCap := o.ledger.ApplyRolloverCap(ctx, identity.ActorID, resolution.Caps.RolloverCapTokens, window.WindowStartAt, now); errCap != nil {
			return UsageSummary{}, errCap
		}
	}
	balance, errBalance := o.ledger.Balance(ctx, identity.ActorID)
	if errBalance != nil {
		return UsageSummary{}, errBalance
	}

	return UsageSummary{
		PlanSlug:       resolution.Caps.Slug,
		SubjectType:    resolution.Subject.Type,
		SubjectID:      resolution.Subject.ID,
		RunsUsed:       window.RunsUsed,
		DailyRunCap:    resolution.Caps.DailyRunCap,
		TokensUsed:     window.TokensUsed,
		DailyTokenCap:  resolution.Caps.DailyTokenCap,
		TokenBalance:   balance,
		WindowStartsAt: window.WindowStartAt,
		ResetsAt:       window.WindowResetAt,
	}, nil
}
