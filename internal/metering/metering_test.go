package metering

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/toolgate/toolgate/internal/bonus"
	"github.com/toolgate/toolgate/internal/clock"
	"github.com/toolgate/toolgate/internal/db"
	"github.com/toolgate/toolgate/internal/entitlement"
	"github.com/toolgate/toolgate/internal/ledger"
	"github.com/toolgate/toolgate/internal/models"
	"github.com/toolgate/toolgate/internal/usagewindow"
	"gorm.io/gorm"
)

type meterFixture struct {
	conn    *gorm.DB
	meter   *Meter
	ledger  *ledger.Store
	bonus   *bonus.Store
	windows *usagewindow.Tracker
}

func newMeterFixture(t *testing.T) *meterFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	resolver, errResolver := clock.NewResolver("UTC")
	if errResolver != nil {
		t.Fatalf("resolver: %v", errResolver)
	}
	ledgerStore := ledger.NewStore(conn)
	bonusStore := bonus.NewStore(conn)
	windows := usagewindow.NewTracker(conn, resolver)
	return &meterFixture{
		conn:    conn,
		meter:   NewMeter(conn, ledgerStore, bonusStore, windows),
		ledger:  ledgerStore,
		bonus:   bonusStore,
		windows: windows,
	}
}

func (f *meterFixture) openWindow(t *testing.T, actorID string, now time.Time) models.UsageWindow {
	t.Helper()
	subject := entitlement.Subject{Type: models.SubjectUser, ID: actorID}
	window, _, errEnsure := f.windows.EnsureCurrent(context.Background(), subject, now)
	if errEnsure != nil {
		t.Fatalf("ensure window: %v", errEnsure)
	}
	return window
}

func freeCaps() models.Plan {
	return models.Plan{Slug: "free", DailyRunCap: 10, DailyTokenCap: 2000}
}

func summarizeTool() models.Tool {
	return models.Tool{Slug: "summarize", TokensPerRun: 900, Enabled: true}
}

var meterNow = time.Date(2025, 6, 14, 12, 0, 0, 0, time.UTC)

func TestCharge_AllowanceAbsorbsCost(t *testing.T) {
	f := newMeterFixture(t)
	ctx := context.Background()
	window := f.openWindow(t, "u1", meterNow)

	outcome, errCharge := f.meter.Charge(ctx, "u1", summarizeTool(), freeCaps(), window.ID, "run-1", meterNow)
	if errCharge != nil {
		t.Fatalf("charge: %v", errCharge)
	}
	if outcome.Mode != models.RunModeTokens || outcome.ChargedTokens != 900 || outcome.Replayed {
		t.Fatalf("unexpected outcome %+v", outcome)
	}

	reloaded, errReload := f.windows.Reload(f.conn, window.ID)
	if errReload != nil {
		t.Fatalf("reload: %v", errReload)
	}
	if reloaded.RunsUsed != 1 || reloaded.TokensUsed != 900 {
		t.Fatalf("expected window 1 run / 900 tokens, got %d/%d", reloaded.RunsUsed, reloaded.TokensUsed)
	}

	// The allowance covered everything; the ledger saw no spend.
	balance, errBalance := f.ledger.Balance(ctx, "u1")
	if errBalance != nil {
		t.Fatalf("balance: %v", errBalance)
	}
	if balance != 0 {
		t.Fatalf("expected untouched ledger, balance %d", balance)
	}
}

func TestCharge_IdempotentByRunID(t *testing.T) {
	f := newMeterFixture(t)
	ctx := context.Background()
	window := f.openWindow(t, "u1", meterNow)

	first, errFirst := f.meter.Charge(ctx, "u1", summarizeTool(), freeCaps(), window.ID, "run-1", meterNow)
	if errFirst != nil {
		t.Fatalf("first charge: %v", errFirst)
	}
	second, errSecond := f.meter.Charge(ctx, "u1", summarizeTool(), freeCaps(), window.ID, "run-1", meterNow)
	if errSecond != nil {
		t.Fatalf("replayed charge: %v", errSecond)
	}
	if !second.Replayed {
		t.Fatalf("expected replay to be flagged")
	}
	if second.Mode != first.Mode || second.ChargedTokens != first.ChargedTokens {
		t.Fatalf("expected replay to report the recorded outcome, got %+v vs %+v", second, first)
	}

	reloaded, _ := f.windows.Reload(f.conn, window.ID)
	if reloaded.RunsUsed != 1 || reloaded.TokensUsed != 900 {
		t.Fatalf("expected counters applied once, got %d/%d", reloaded.RunsUsed, reloaded.TokensUsed)
	}
}

func TestCharge_BonusBeforeTokens(t *testing.T) {
	f := newMeterFixture(t)
	ctx := context.Background()
	window := f.openWindow(t, "u1", meterNow)

	grant, errGrant := f.bonus.Grant(ctx, "u1", "summarize", 1, models.BonusGrantReasonFeedback, nil, "system")
	if errGrant != nil {
		t.Fatalf("grant: %v", errGrant)
	}

	outcome, errCharge := f.meter.Charge(ctx, "u1", summarizeTool(), freeCaps(), window.ID, "run-1", meterNow)
	if errCharge != nil {
		t.Fatalf("charge: %v", errCharge)
	}
	if outcome.Mode != models.RunModeBonus {
		t.Fatalf("expected bonus mode, got %q", outcome.Mode)
	}
	if outcome.BonusGrantID == nil || *outcome.BonusGrantID != grant.ID {
		t.Fatalf("expected consumption from grant %d, got %+v", grant.ID, outcome.BonusGrantID)
	}

	// Bonus runs sit outside plan accounting: no counters, no spend.
	reloaded, _ := f.windows.Reload(f.conn, window.ID)
	if reloaded.RunsUsed != 0 || reloaded.TokensUsed != 0 {
		t.Fatalf("expected untouched window, got %d/%d", reloaded.RunsUsed, reloaded.TokensUsed)
	}

	// The grant is spent; the next run falls through to tokens.
	next, errNext := f.meter.Charge(ctx, "u1", summarizeTool(), freeCaps(), window.ID, "run-2", meterNow)
	if errNext != nil {
		t.Fatalf("second charge: %v", errNext)
	}
	if next.Mode != models.RunModeTokens {
		t.Fatalf("expected token mode after exhaustion, got %q", next.Mode)
	}
}

func TestCharge_ExcessHitsLedger(t *testing.T) {
	f := newMeterFixture(t)
	ctx := context.Background()
	window := f.openWindow(t, "u1", meterNow)

	if _, errAppend := f.ledger.Append(ctx, models.LedgerEntry{
		ActorID: "u1", EventType: models.LedgerEventPurchase, TokensDelta: 1000, CorrelationID: "pay-1",
	}); errAppend != nil {
		t.Fatalf("seed purchase: %v", errAppend)
	}
	// Burn the allowance down to 100 remaining.
	if applied, errUsage := f.windows.RecordUsage(f.conn, window.ID, 0, 2, 1900); errUsage != nil || !applied {
		t.Fatalf("seed usage: applied=%v err=%v", applied, errUsage)
	}

	outcome, errCharge := f.meter.Charge(ctx, "u1", summarizeTool(), freeCaps(), window.ID, "run-1", meterNow)
	if errCharge != nil {
		t.Fatalf("charge: %v", errCharge)
	}
	if outcome.Mode != models.RunModeTokens || outcome.ChargedTokens != 900 {
		t.Fatalf("unexpected outcome %+v", outcome)
	}

	// 100 came from the allowance, 800 from the purchased balance.
	balance, _ := f.ledger.Balance(ctx, "u1")
	if balance != 200 {
		t.Fatalf("expected balance 200 after excess spend, got %d", balance)
	}
	reloaded, _ := f.windows.Reload(f.conn, window.ID)
	if reloaded.TokensUsed != 2800 {
		t.Fatalf("expected window tokens 2800, got %d", reloaded.TokensUsed)
	}
}

func TestCharge_InsufficientTokensRollsBack(t *testing.T) {
	f := newMeterFixture(t)
	ctx := context.Background()
	window := f.openWindow(t, "u1", meterNow)

	// Allowance exhausted, nothing purchased, no overage on the plan.
	if applied, errUsage := f.windows.RecordUsage(f.conn, window.ID, 0, 3, 2000); errUsage != nil || !applied {
		t.Fatalf("seed usage: applied=%v err=%v", applied, errUsage)
	}

	_, errCharge := f.meter.Charge(ctx, "u1", summarizeTool(), freeCaps(), window.ID, "run-1", meterNow)
	if !errors.Is(errCharge, ErrInsufficientTokens) {
		t.Fatalf("expected ErrInsufficientTokens, got %v", errCharge)
	}

	// The whole transaction rolled back: no run record, no counters moved.
	var count int64
	if errCount := f.conn.Model(&models.RunRecord{}).Where("run_id = ?", "run-1").Count(&count).Error; errCount != nil {
		t.Fatalf("count run records: %v", errCount)
	}
	if count != 0 {
		t.Fatalf("expected no run record after rollback, got %d", count)
	}
	reloaded, _ := f.windows.Reload(f.conn, window.ID)
	if reloaded.RunsUsed != 3 || reloaded.TokensUsed != 2000 {
		t.Fatalf("expected counters unchanged, got %d/%d", reloaded.RunsUsed, reloaded.TokensUsed)
	}
}

func TestCharge_OveragePlanSpendsWhatBalanceCovers(t *testing.T) {
	f := newMeterFixture(t)
	ctx := context.Background()
	window := f.openWindow(t, "u1", meterNow)
	caps := models.Plan{Slug: "pro_monthly", DailyRunCap: 200, DailyTokenCap: 2000, AllowsTokenOverage: true}

	if _, errAppend := f.ledger.Append(ctx, models.LedgerEntry{
		ActorID: "u1", EventType: models.LedgerEventPurchase, TokensDelta: 300, CorrelationID: "pay-1",
	}); errAppend != nil {
		t.Fatalf("seed purchase: %v", errAppend)
	}
	if applied, errUsage := f.windows.RecordUsage(f.conn, window.ID, 0, 3, 2000); errUsage != nil || !applied {
		t.Fatalf("seed usage: applied=%v err=%v", applied, errUsage)
	}

	outcome, errCharge := f.meter.Charge(ctx, "u1", summarizeTool(), caps, window.ID, "run-1", meterNow)
	if errCharge != nil {
		t.Fatalf("charge: %v", errCharge)
	}
	if outcome.Mode != models.RunModeTokens || outcome.ChargedTokens != 900 {
		t.Fatalf("unexpected outcome %+v", outcome)
	}

	// The balance is drained to zero and the window carries the overage.
	balance, _ := f.ledger.Balance(ctx, "u1")
	if balance != 0 {
		t.Fatalf("expected drained balance, got %d", balance)
	}
	reloaded, _ := f.windows.Reload(f.conn, window.ID)
	if reloaded.TokensUsed != 2900 {
		t.Fatalf("expected window tokens 2900, got %d", reloaded.TokensUsed)
	}
}
