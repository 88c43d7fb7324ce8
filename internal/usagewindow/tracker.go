package usagewindow

import (
	"context"
	"fmt"
	"time"

	"github.com/toolgate/toolgate/internal/clock"
	"github.com/toolgate/toolgate/internal/entitlement"
	"github.com/toolgate/toolgate/internal/models"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Tracker maintains per-subject daily usage windows. Rollover is lazy:
// the first access past the reset boundary creates the next window; no
// background sweep exists and superseded rows are never deleted.
type Tracker struct {
	db    *gorm.DB
	clock *clock.Resolver
	group singleflight.Group
}

// NewTracker constructs a Tracker.
func NewTracker(db *gorm.DB, resolver *clock.Resolver) *Tracker {
	return &Tracker{db: db, clock: resolver}
}

// ensured pairs a window with whether this call rolled a prior one over.
type ensured struct {
	window     models.UsageWindow
	rolledOver bool
}

// EnsureCurrent returns the window covering now for the subject, creating
// it when absent or stale. Concurrent callers for the same subject are
// deduped in process and serialized at the database by an idempotent
// upsert keyed by (subject, reset boundary), so the losing creator
// observes the winner's row. rolledOver reports whether this call
// superseded an earlier window, which is the moment reset side effects
// key on. A subject's first-ever window is a creation, not a rollover,
// so no reset side effects fire for it.
func (t *Tracker) EnsureCurrent(ctx context.Context, subject entitlement.Subject, now time.Time) (models.UsageWindow, bool, error) {
	resetAt := t.clock.NextReset(now)
	startAt := t.clock.WindowStart(now)

	key := subject.Type + ":" + subject.ID + ":" + resetAt.UTC().Format(time.RFC3339)
	v, errEnsure, _ := t.group.Do(key, func() (any, error) {
		return t.ensure(ctx, subject, startAt, resetAt)
	})
	if errEnsure != nil {
		return models.UsageWindow{}, false, errEnsure
	}
	result, ok := v.(ensured)
	if !ok {
		return models.UsageWindow{}, false, fmt.Errorf("usagewindow: unexpected singleflight value")
	}
	// Deduped callers may all observe rolledOver=true; reset side effects
	// stay correct because they are idempotent by boundary key.
	return result.window, result.rolledOver, nil
}

func (t *Tracker) ensure(ctx context.Context, subject entitlement.Subject, startAt, resetAt time.Time) (ensured, error) {
	row := models.UsageWindow{
		SubjectType:   subject.Type,
		SubjectID:     subject.ID,
		WindowStartAt: startAt.UTC(),
		WindowResetAt: resetAt.UTC(),
	}
	res := t.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "subject_type"},
			{Name: "subject_id"},
			{Name: "window_reset_at"},
		},
		DoNothing: true,
	}).Create(&row)
	if res.Error != nil {
		return ensured{}, fmt.Errorf("usagewindow: upsert window: %w", res.Error)
	}
	rolledOver := false
	if res.RowsAffected == 1 {
		var prior int64
		if errCount := t.db.WithContext(ctx).Model(&models.UsageWindow{}).
			Where("subject_type = ? AND subject_id = ? AND window_reset_at < ?",
				subject.Type, subject.ID, resetAt.UTC()).
			Count(&prior).Error; errCount != nil {
			return ensured{}, fmt.Errorf("usagewindow: count prior windows: %w", errCount)
		}
		rolledOver = prior > 0
	}

	var window models.UsageWindow
	if errFind := t.db.WithContext(ctx).
		Where("subject_type = ? AND subject_id = ? AND window_reset_at = ?",
			subject.Type, subject.ID, resetAt.UTC()).
		First(&window).Error; errFind != nil {
		return ensured{}, fmt.Errorf("usagewindow: load window: %w", errFind)
	}
	return ensured{window: window, rolledOver: rolledOver}, nil
}

// RecordUsage applies counter deltas to the window row, guarded by the
// caller's observed tokens_used value. A false return means another
// writer got there first; the caller re-reads and retries instead of
// losing or double-applying the update.
func (t *Tracker) RecordUsage(tx *gorm.DB, windowID uint64, priorTokensUsed, runsDelta, tokensDelta int64) (bool, error) {
	res := tx.Model(&models.UsageWindow{}).
		Where("id = ? AND tokens_used = ?", windowID, priorTokensUsed).
		Updates(map[string]any{
			"runs_used":   gorm.Expr("runs_used + ?", runsDelta),
			"tokens_used": gorm.Expr("tokens_used + ?", tokensDelta),
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("usagewindow: record usage: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Reload fetches the window row by id, for retry after a lost guard.
func (t *Tracker) Reload(tx *gorm.DB, windowID uint64) (models.UsageWindow, error) {
	var window models.UsageWindow
	if errFind := tx.First(&window, windowID).Error; errFind != nil {
		return models.UsageWindow{}, fmt.Errorf("usagewindow: reload window: %w", errFind)
	}
	return window, nil
}
