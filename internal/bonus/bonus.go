package bonus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/toolgate/toolgate/internal/models"
	"gorm.io/gorm"
)

// Grant validation errors.
var (
	// ErrInvalidGrant indicates malformed grant parameters.
	ErrInvalidGrant = errors.New("bonus: invalid grant")
	// ErrFeedbackGrantExists indicates an active feedback grant already
	// covers the (actor, tool) pair; one feedback grant per pair.
	ErrFeedbackGrantExists = errors.New("bonus: active feedback grant already exists")
)

// ConsumeResult reports the outcome of a bonus run consumption attempt.
type ConsumeResult struct {
	OK             bool
	ConsumedFromID uint64
}

// Store manages per-(actor, tool) bonus run grants.
type Store struct {
	db *gorm.DB
}

// NewStore constructs a Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Grant awards bonus runs. Feedback-triggered grants are limited to one
// active grant per (actor, tool); admin-issued grants are exempt.
func (s *Store) Grant(ctx context.Context, actorID, toolSlug string, runsGranted int64, reason string, expiresAt *time.Time, grantedBy string) (models.BonusGrant, error) {
	actorID = strings.TrimSpace(actorID)
	toolSlug = strings.TrimSpace(toolSlug)
	reason = strings.TrimSpace(reason)
	grantedBy = strings.TrimSpace(grantedBy)
	if actorID == "" || toolSlug == "" || runsGranted <= 0 || grantedBy == "" {
		return models.BonusGrant{}, ErrInvalidGrant
	}

	if reason == models.BonusGrantReasonFeedback {
		active, errActive := s.hasActiveFeedbackGrant(ctx, actorID, toolSlug, time.Now().UTC())
		if errActive != nil {
			return models.BonusGrant{}, errActive
		}
		if active {
			return models.BonusGrant{}, ErrFeedbackGrantExists
		}
	}

	grant := models.BonusGrant{
		ActorID:     actorID,
		ToolSlug:    toolSlug,
		RunsGranted: runsGranted,
		ExpiresAt:   expiresAt,
		GrantedBy:   grantedBy,
		Reason:      reason,
	}
	if errCreate := s.db.WithContext(ctx).Create(&grant).Error; errCreate != nil {
		return models.BonusGrant{}, fmt.Errorf("bonus: create grant: %w", errCreate)
	}
	return grant, nil
}

func (s *Store) hasActiveFeedbackGrant(ctx context.Context, actorID, toolSlug string, now time.Time) (bool, error) {
	var count int64
	if errCount := s.db.WithContext(ctx).Model(&models.BonusGrant{}).
		Where("actor_id = ? AND tool_slug = ? AND reason = ?", actorID, toolSlug, models.BonusGrantReasonFeedback).
		Where("runs_consumed < runs_granted").
		Where("expires_at IS NULL OR expires_at > ?", now).
		Count(&count).Error; errCount != nil {
		return false, fmt.Errorf("bonus: check feedback grant: %w", errCount)
	}
	return count > 0, nil
}

// Remaining sums unconsumed runs across non-expired grants for the pair.
func (s *Store) Remaining(ctx context.Context, actorID, toolSlug string, now time.Time) (int64, error) {
	return remainingIn(s.db.WithContext(ctx), actorID, toolSlug, now)
}

// RemainingIn is Remaining as observed inside the caller's transaction.
func (s *Store) RemainingIn(tx *gorm.DB, actorID, toolSlug string, now time.Time) (int64, error) {
	return remainingIn(tx, actorID, toolSlug, now)
}

func remainingIn(tx *gorm.DB, actorID, toolSlug string, now time.Time) (int64, error) {
	var remaining int64
	if errSum := tx.Model(&models.BonusGrant{}).
		Where("actor_id = ? AND tool_slug = ?", actorID, toolSlug).
		Where("expires_at IS NULL OR expires_at > ?", now.UTC()).
		Select("COALESCE(SUM(runs_granted - runs_consumed), 0)").
		Scan(&remaining).Error; errSum != nil {
		return 0, fmt.Errorf("bonus: remaining: %w", errSum)
	}
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// ConsumeOne takes one run from the oldest eligible grant. The capacity
// guard sits in the UPDATE itself, so two racers for the last unit cannot
// both win: the loser walks to the next candidate and reports OK=false
// when none is left, signaling the caller to fall back to token metering.
func (s *Store) ConsumeOne(tx *gorm.DB, actorID, toolSlug string, now time.Time) (ConsumeResult, error) {
	var candidates []models.BonusGrant
	if errFind := tx.
		Where("actor_id = ? AND tool_slug = ?", strings.TrimSpace(actorID), strings.TrimSpace(toolSlug)).
		Where("runs_consumed < runs_granted").
		Where("expires_at IS NULL OR expires_at > ?", now.UTC()).
		Order("created_at ASC, id ASC").
		Find(&candidates).Error; errFind != nil {
		return ConsumeResult{}, fmt.Errorf("bonus: load grants: %w", errFind)
	}

	for _, grant := range candidates {
		res := tx.Model(&models.BonusGrant{}).
			Where("id = ? AND runs_consumed < runs_granted", grant.ID).
			Updates(map[string]any{
				"runs_consumed": gorm.Expr("runs_consumed + 1"),
				"updated_at":    now.UTC(),
			})
		if res.Error != nil {
			return ConsumeResult{}, fmt.Errorf("bonus: consume grant: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			return ConsumeResult{OK: true, ConsumedFromID: grant.ID}, nil
		}
	}
	return ConsumeResult{OK: false}, nil
}

// List returns grants, optionally filtered by actor, newest first.
func (s *Store) List(ctx context.Context, actorID string, limit int) ([]models.BonusGrant, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var grants []models.BonusGrant
	q := s.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if actorID = strings.TrimSpace(actorID); actorID != "" {
		q = q.Where("actor_id = ?", actorID)
	}
	if errFind := q.Find(&grants).Error; errFind != nil {
		return nil, fmt.Errorf("bonus: list grants: %w", errFind)
	}
	return grants, nil
}
