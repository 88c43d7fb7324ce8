package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/toolgate/toolgate/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidEntry indicates an append that violates ledger invariants.
var ErrInvalidEntry = errors.New("ledger: invalid entry")

// Store is the append-only token ledger. Entries are immutable; an
// actor's balance is always derived by summing deltas, never kept as a
// mutable running total.
type Store struct {
	db *gorm.DB
}

// NewStore constructs a Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Append inserts an entry. When a correlation id is present and an entry
// with the same (actor, correlation id, event type) already exists, the
// call is a no-op that returns the existing entry, so webhook and client
// retries never double-apply.
func (s *Store) Append(ctx context.Context, entry models.LedgerEntry) (models.LedgerEntry, error) {
	entry.ActorID = strings.TrimSpace(entry.ActorID)
	entry.CorrelationID = strings.TrimSpace(entry.CorrelationID)
	if entry.ActorID == "" || entry.EventType == "" {
		return models.LedgerEntry{}, ErrInvalidEntry
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	if entry.CorrelationID == "" {
		if errCreate := s.db.WithContext(ctx).Create(&entry).Error; errCreate != nil {
			return models.LedgerEntry{}, fmt.Errorf("ledger: append: %w", errCreate)
		}
		return entry, nil
	}

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "actor_id"},
			{Name: "correlation_id"},
			{Name: "event_type"},
		},
		TargetWhere: clause.Where{Exprs: []clause.Expression{
			gorm.Expr("correlation_id <> ''"),
		}},
		DoNothing: true,
	}).Create(&entry)
	if res.Error != nil {
		return models.LedgerEntry{}, fmt.Errorf("ledger: append: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return entry, nil
	}

	var existing models.LedgerEntry
	if errFind := s.db.WithContext(ctx).
		Where("actor_id = ? AND correlation_id = ? AND event_type = ?",
			entry.ActorID, entry.CorrelationID, entry.EventType).
		First(&existing).Error; errFind != nil {
		return models.LedgerEntry{}, fmt.Errorf("ledger: load existing entry: %w", errFind)
	}
	return existing, nil
}

// Balance returns the actor's current token balance.
func (s *Store) Balance(ctx context.Context, actorID string) (int64, error) {
	return balanceIn(s.db.WithContext(ctx), actorID)
}

// BalanceIn returns the balance as observed inside the caller's transaction.
func (s *Store) BalanceIn(tx *gorm.DB, actorID string) (int64, error) {
	return balanceIn(tx, actorID)
}

func balanceIn(tx *gorm.DB, actorID string) (int64, error) {
	var balance int64
	if errSum := tx.Model(&models.LedgerEntry{}).
		Where("actor_id = ?", actorID).
		Select("COALESCE(SUM(tokens_delta), 0)").
		Scan(&balance).Error; errSum != nil {
		return 0, fmt.Errorf("ledger: balance: %w", errSum)
	}
	return balance, nil
}

// AppendSpend debits the actor inside the caller's transaction. The
// balance guard lives in the same statement as the insert: when the
// current balance is below amount, nothing is written and ok is false.
// The run id correlation makes a retried spend a no-op, reported as ok.
func (s *Store) AppendSpend(tx *gorm.DB, actorID string, amount int64, runID string, now time.Time) (bool, error) {
	actorID = strings.TrimSpace(actorID)
	runID = strings.TrimSpace(runID)
	if actorID == "" || runID == "" || amount <= 0 {
		return false, ErrInvalidEntry
	}

	res := tx.Exec(`
		INSERT INTO ledger_entries (actor_id, event_type, tokens_delta, reason, correlation_id, created_at)
		SELECT ?, ?, ?, ?, ?, ?
		WHERE (SELECT COALESCE(SUM(tokens_delta), 0) FROM ledger_entries WHERE actor_id = ?) >= ?
		ON CONFLICT (actor_id, correlation_id, event_type) WHERE correlation_id <> '' DO NOTHING
	`, actorID, models.LedgerEventSpend, -amount, "tool run", runID, now.UTC(), actorID, amount)
	if res.Error != nil {
		return false, fmt.Errorf("ledger: append spend: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	// Zero rows means either an insufficient balance or an idempotent
	// replay of the same run id; only the replay counts as spent.
	var count int64
	if errCount := tx.Model(&models.LedgerEntry{}).
		Where("actor_id = ? AND correlation_id = ? AND event_type = ?",
			actorID, runID, models.LedgerEventSpend).
		Count(&count).Error; errCount != nil {
		return false, fmt.Errorf("ledger: check spend replay: %w", errCount)
	}
	return count > 0, nil
}

// ApplyRolloverCap truncates the balance carried across a window reset
// to capTokens by appending a reset entry for the excess. Only entries
// written before the boundary count toward the carried balance, so a
// purchase made after the reset but before the day's first request is
// never touched. The delta and the balance check share one statement,
// and the boundary-derived correlation id keeps concurrent instances
// from applying the cap twice. Carried balance at or under the cap is
// untouched; resets never forfeit it.
func (s *Store) ApplyRolloverCap(ctx context.Context, actorID string, capTokens int64, boundary, now time.Time) (bool, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" || capTokens < 0 {
		return false, ErrInvalidEntry
	}

	correlationID := fmt.Sprintf("reset:%d", boundary.UTC().Unix())
	res := s.db.WithContext(ctx).Exec(`
		INSERT INTO ledger_entries (actor_id, event_type, tokens_delta, reason, correlation_id, created_at)
		SELECT ?, ?, ? - b.bal, ?, ?, ?
		FROM (SELECT COALESCE(SUM(tokens_delta), 0) AS bal FROM ledger_entries WHERE actor_id = ? AND created_at < ?) AS b
		WHERE b.bal > ?
		ON CONFLICT (actor_id, correlation_id, event_type) WHERE correlation_id <> '' DO NOTHING
	`, actorID, models.LedgerEventReset, capTokens, "rollover cap", correlationID, now.UTC(), actorID, boundary.UTC(), capTokens)
	if res.Error != nil {
		return false, fmt.Errorf("ledger: apply rollover cap: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// List returns an actor's entries, newest first.
func (s *Store) List(ctx context.Context, actorID string, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var entries []models.LedgerEntry
	q := s.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if actorID = strings.TrimSpace(actorID); actorID != "" {
		q = q.Where("actor_id = ?", actorID)
	}
	if errFind := q.Find(&entries).Error; errFind != nil {
		return nil, fmt.Errorf("ledger: list: %w", errFind)
	}
	return entries, nil
}
