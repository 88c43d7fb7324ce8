package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/toolgate/toolgate/internal/db"
	"github.com/toolgate/toolgate/internal/models"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func TestAppend_BalanceIsSumOfDeltas(t *testing.T) {
	conn := openTestDB(t)
	store := NewStore(conn)
	ctx := context.Background()

	entries := []models.LedgerEntry{
		{ActorID: "u1", EventType: models.LedgerEventPurchase, TokensDelta: 1000, CorrelationID: "pay-1"},
		{ActorID: "u1", EventType: models.LedgerEventAdminAdjustment, TokensDelta: -200, Reason: "correction"},
		{ActorID: "u1", EventType: models.LedgerEventRefund, TokensDelta: 50, CorrelationID: "pay-1"},
		{ActorID: "u2", EventType: models.LedgerEventPurchase, TokensDelta: 9999, CorrelationID: "pay-2"},
	}
	for _, entry := range entries {
		if _, errAppend := store.Append(ctx, entry); errAppend != nil {
			t.Fatalf("append: %v", errAppend)
		}
	}

	balance, errBalance := store.Balance(ctx, "u1")
	if errBalance != nil {
		t.Fatalf("balance: %v", errBalance)
	}
	if balance != 850 {
		t.Fatalf("expected balance 850, got %d", balance)
	}
}

func TestAppend_RejectsInvalidEntries(t *testing.T) {
	conn := openTestDB(t)
	store := NewStore(conn)
	ctx := context.Background()

	if _, errAppend := store.Append(ctx, models.LedgerEntry{EventType: models.LedgerEventPurchase, TokensDelta: 10}); errAppend != ErrInvalidEntry {
		t.Fatalf("expected ErrInvalidEntry for empty actor, got %v", errAppend)
	}
	if _, errAppend := store.Append(ctx, models.LedgerEntry{ActorID: "u1", TokensDelta: 10}); errAppend != ErrInvalidEntry {
		t.Fatalf("expected ErrInvalidEntry for empty event type, got %v", errAppend)
	}
}

func TestAppend_IdempotentByCorrelation(t *testing.T) {
	conn := openTestDB(t)
	store := NewStore(conn)
	ctx := context.Background()

	entry := models.LedgerEntry{
		ActorID:       "u1",
		EventType:     models.LedgerEventPurchase,
		TokensDelta:   1000,
		CorrelationID: "pay-42",
	}
	first, errFirst := store.Append(ctx, entry)
	if errFirst != nil {
		t.Fatalf("first append: %v", errFirst)
	}
	second, errSecond := store.Append(ctx, entry)
	if errSecond != nil {
		t.Fatalf("second append: %v", errSecond)
	}
	if second.ID != first.ID {
		t.Fatalf("expected replay to return the original entry, got id %d vs %d", second.ID, first.ID)
	}

	balance, errBalance := store.Balance(ctx, "u1")
	if errBalance != nil {
		t.Fatalf("balance: %v", errBalance)
	}
	if balance != 1000 {
		t.Fatalf("expected replayed purchase to apply once, balance %d", balance)
	}
}

func TestAppendSpend_BalanceGuard(t *testing.T) {
	conn := openTestDB(t)
	store := NewStore(conn)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, errAppend := store.Append(ctx, models.LedgerEntry{
		ActorID: "u1", EventType: models.LedgerEventPurchase, TokensDelta: 100, CorrelationID: "pay-1",
	}); errAppend != nil {
		t.Fatalf("seed purchase: %v", errAppend)
	}

	spent, errSpend := store.AppendSpend(conn, "u1", 150, "run-1", now)
	if errSpend != nil {
		t.Fatalf("over-balance spend: %v", errSpend)
	}
	if spent {
		t.Fatalf("expected spend above balance to be rejected")
	}

	spent, errSpend = store.AppendSpend(conn, "u1", 60, "run-2", now)
	if errSpend != nil {
		t.Fatalf("spend: %v", errSpend)
	}
	if !spent {
		t.Fatalf("expected covered spend to apply")
	}
	balance, errBalance := store.Balance(ctx, "u1")
	if errBalance != nil {
		t.Fatalf("balance: %v", errBalance)
	}
	if balance != 40 {
		t.Fatalf("expected balance 40 after spend, got %d", balance)
	}
}

func TestAppendSpend_ReplayByRunID(t *testing.T) {
	conn := openTestDB(t)
	store := NewStore(conn)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, errAppend := store.Append(ctx, models.LedgerEntry{
		ActorID: "u1", EventType: models.LedgerEventPurchase, TokensDelta: 100, CorrelationID: "pay-1",
	}); errAppend != nil {
		t.Fatalf("seed purchase: %v", errAppend)
	}

	for i := 0; i < 3; i++ {
		spent, errSpend := store.AppendSpend(conn, "u1", 60, "run-1", now)
		if errSpend != nil {
			t.Fatalf("spend attempt %d: %v", i, errSpend)
		}
		if !spent {
			t.Fatalf("spend attempt %d reported not spent", i)
		}
	}

	balance, errBalance := store.Balance(ctx, "u1")
	if errBalance != nil {
		t.Fatalf("balance: %v", errBalance)
	}
	if balance != 40 {
		t.Fatalf("expected retried run id to debit once, balance %d", balance)
	}
}

func TestApplyRolloverCap(t *testing.T) {
	conn := openTestDB(t)
	store := NewStore(conn)
	ctx := context.Background()
	boundary := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)

	if _, errAppend := store.Append(ctx, models.LedgerEntry{
		ActorID: "u1", EventType: models.LedgerEventPurchase, TokensDelta: 5000,
		CorrelationID: "pay-1", CreatedAt: boundary.Add(-12 * time.Hour),
	}); errAppend != nil {
		t.Fatalf("seed purchase: %v", errAppend)
	}

	applied, errApply := store.ApplyRolloverCap(ctx, "u1", 2000, boundary, boundary.Add(time.Hour))
	if errApply != nil {
		t.Fatalf("apply cap: %v", errApply)
	}
	if !applied {
		t.Fatalf("expected carried balance above the cap to be truncated")
	}
	balance, _ := store.Balance(ctx, "u1")
	if balance != 2000 {
		t.Fatalf("expected balance truncated to 2000, got %d", balance)
	}

	// Same boundary again is a no-op; the correlation id absorbs retries
	// and concurrent instances.
	applied, errApply = store.ApplyRolloverCap(ctx, "u1", 2000, boundary, boundary.Add(2*time.Hour))
	if errApply != nil {
		t.Fatalf("second apply: %v", errApply)
	}
	if applied {
		t.Fatalf("expected boundary replay to be a no-op")
	}
	balance, _ = store.Balance(ctx, "u1")
	if balance != 2000 {
		t.Fatalf("expected balance unchanged on replay, got %d", balance)
	}

	// A balance at or under the cap is never forfeited.
	nextBoundary := boundary.Add(24 * time.Hour)
	applied, errApply = store.ApplyRolloverCap(ctx, "u1", 3000, nextBoundary, nextBoundary.Add(time.Hour))
	if errApply != nil {
		t.Fatalf("under-cap apply: %v", errApply)
	}
	if applied {
		t.Fatalf("expected under-cap balance untouched")
	}
}

func TestApplyRolloverCap_PurchaseAfterBoundaryIsExempt(t *testing.T) {
	conn := openTestDB(t)
	store := NewStore(conn)
	ctx := context.Background()
	boundary := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)

	if _, errAppend := store.Append(ctx, models.LedgerEntry{
		ActorID: "u1", EventType: models.LedgerEventPurchase, TokensDelta: 5000,
		CorrelationID: "pay-1", CreatedAt: boundary.Add(-12 * time.Hour),
	}); errAppend != nil {
		t.Fatalf("seed carried purchase: %v", errAppend)
	}
	// Bought after the reset but before the day's first request; the cap
	// only bounds what crosses the boundary.
	if _, errAppend := store.Append(ctx, models.LedgerEntry{
		ActorID: "u1", EventType: models.LedgerEventPurchase, TokensDelta: 1000,
		CorrelationID: "pay-2", CreatedAt: boundary.Add(time.Hour),
	}); errAppend != nil {
		t.Fatalf("seed fresh purchase: %v", errAppend)
	}

	applied, errApply := store.ApplyRolloverCap(ctx, "u1", 2000, boundary, boundary.Add(2*time.Hour))
	if errApply != nil {
		t.Fatalf("apply cap: %v", errApply)
	}
	if !applied {
		t.Fatalf("expected carried balance above the cap to be truncated")
	}

	// 5000 carried truncated to 2000; the fresh 1000 rides on top.
	balance, errBalance := store.Balance(ctx, "u1")
	if errBalance != nil {
		t.Fatalf("balance: %v", errBalance)
	}
	if balance != 3000 {
		t.Fatalf("expected balance 3000, got %d", balance)
	}
}
