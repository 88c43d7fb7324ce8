package metering

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/toolgate/toolgate/internal/bonus"
	"github.com/toolgate/toolgate/internal/ledger"
	"github.com/toolgate/toolgate/internal/models"
	"github.com/toolgate/toolgate/internal/usagewindow"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInsufficientTokens indicates the balance guard rejected the spend:
// another request took the last tokens between the lock check and the
// charge. The run must not execute.
var ErrInsufficientTokens = errors.New("metering: insufficient tokens")

// errReplayed signals the run id was already charged; the transaction
// rolls back and the recorded outcome is returned instead.
var errReplayed = errors.New("metering: run already charged")

// errWindowConflict signals a lost window counter guard; the charge is
// retried with fresh reads.
var errWindowConflict = errors.New("metering: window counter conflict")

const maxChargeAttempts = 3

// Outcome reports how a run was paid for.
type Outcome struct {
	Mode          string // models.RunModeBonus or models.RunModeTokens.
	ChargedTokens int64
	BonusGrantID  *uint64
	Replayed      bool // True when a retried run id hit the recorded charge.
}

// Meter decides and durably records how each run is paid: a bonus grant
// when one remains, token deduction otherwise. Every path is idempotent
// by run id.
type Meter struct {
	db      *gorm.DB
	ledger  *ledger.Store
	bonus   *bonus.Store
	windows *usagewindow.Tracker
}

// NewMeter constructs a Meter.
func NewMeter(db *gorm.DB, ledgerStore *ledger.Store, bonusStore *bonus.Store, windows *usagewindow.Tracker) *Meter {
	return &Meter{db: db, ledger: ledgerStore, bonus: bonusStore, windows: windows}
}

// Charge records payment for one run before it executes. The run record
// insert is the idempotence gate; bonus consumption and token spend sit
// behind it in the same transaction, so a crash mid-charge leaves no
// partial state and a retried run id charges exactly once.
func (m *Meter) Charge(ctx context.Context, actorID string, tool models.Tool, caps models.Plan, windowID uint64, runID string, now time.Time) (Outcome, error) {
	for attempt := 0; attempt < maxChargeAttempts; attempt++ {
		outcome, errCharge := m.chargeOnce(ctx, actorID, tool, caps, windowID, runID, now)
		switch {
		case errCharge == nil:
			return outcome, nil
		case errors.Is(errCharge, errReplayed):
			return m.loadReplay(ctx, runID)
		case errors.Is(errCharge, errWindowConflict):
			continue
		default:
			return Outcome{}, errCharge
		}
	}
	return Outcome{}, fmt.Errorf("metering: charge contention for run %s: %w", runID, errWindowConflict)
}

func (m *Meter) chargeOnce(ctx context.Context, actorID string, tool models.Tool, caps models.Plan, windowID uint64, runID string, now time.Time) (Outcome, error) {
	var out Outcome
	errTx := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := models.RunRecord{
			RunID:    runID,
			ActorID:  actorID,
			ToolSlug: tool.Slug,
			Mode:     models.RunModeTokens,
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}},
			DoNothing: true,
		}).Create(&record)
		if res.Error != nil {
			return fmt.Errorf("metering: insert run record: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errReplayed
		}

		remaining, errRemaining := m.bonus.RemainingIn(tx, actorID, tool.Slug, now)
		if errRemaining != nil {
			return errRemaining
		}
		if remaining > 0 {
			consume, errConsume := m.bonus.ConsumeOne(tx, actorID, tool.Slug, now)
			if errConsume != nil {
				return errConsume
			}
			if consume.OK {
				grantID := consume.ConsumedFromID
				if errUpdate := tx.Model(&models.RunRecord{}).
					Where("id = ?", record.ID).
					Updates(map[string]any{
						"mode":           models.RunModeBonus,
						"charged_tokens": 0,
						"bonus_grant_id": grantID,
					}).Error; errUpdate != nil {
					return fmt.Errorf("metering: update run record: %w", errUpdate)
				}
				out = Outcome{Mode: models.RunModeBonus, BonusGrantID: &grantID}
				return nil
			}
			// Lost the race for the last bonus unit; fall through to
			// token charging rather than failing the run.
		}

		return m.chargeTokens(tx, &out, actorID, tool, caps, windowID, record.ID, runID, now)
	})
	if errTx != nil {
		return Outcome{}, errTx
	}
	return out, nil
}

// chargeTokens debits the run cost: the daily allowance absorbs what it
// can via the window counters, and only the excess hits the purchased
// token ledger. The spend guard and counter guard each live inside their
// own statement.
func (m *Meter) chargeTokens(tx *gorm.DB, out *Outcome, actorID string, tool models.Tool, caps models.Plan, windowID, recordID uint64, runID string, now time.Time) error {
	window, errReload := m.windows.Reload(tx, windowID)
	if errReload != nil {
		return errReload
	}

	cost := tool.TokensPerRun
	allowanceLeft := caps.DailyTokenCap - window.TokensUsed
	if allowanceLeft < 0 {
		allowanceLeft = 0
	}
	ledgerPortion := cost - allowanceLeft
	if ledgerPortion < 0 {
		ledgerPortion = 0
	}

	if ledgerPortion > 0 && caps.AllowsTokenOverage {
		// Overage plans run even with an empty balance: spend what the
		// balance covers and let the window carry the rest as overage.
		balance, errBalance := m.ledger.BalanceIn(tx, actorID)
		if errBalance != nil {
			return errBalance
		}
		if balance < ledgerPortion {
			ledgerPortion = balance
		}
		if ledgerPortion < 0 {
			ledgerPortion = 0
		}
	}

	if ledgerPortion > 0 {
		spent, errSpend := m.ledger.AppendSpend(tx, actorID, ledgerPortion, runID, now)
		if errSpend != nil {
			return errSpend
		}
		if !spent {
			return ErrInsufficientTokens
		}
	}

	applied, errApply := m.windows.RecordUsage(tx, window.ID, window.TokensUsed, 1, cost)
	if errApply != nil {
		return errApply
	}
	if !applied {
		return errWindowConflict
	}

	if errUpdate := tx.Model(&models.RunRecord{}).
		Where("id = ?", recordID).
		Update("charged_tokens", cost).Error; errUpdate != nil {
		return fmt.Errorf("metering: update run record: %w", errUpdate)
	}
	*out = Outcome{Mode: models.RunModeTokens, ChargedTokens: cost}
	return nil
}

// loadReplay returns the outcome recorded by the first attempt for this
// run id.
func (m *Meter) loadReplay(ctx context.Context, runID string) (Outcome, error) {
	var record models.RunRecord
	if errFind := m.db.WithContext(ctx).Where("run_id = ?", runID).First(&record).Error; errFind != nil {
		return Outcome{}, fmt.Errorf("metering: load replayed run %s: %w", runID, errFind)
	}
	log.WithField("run_id", runID).Debug("metering: idempotent replay")
	return Outcome{
		Mode:          record.Mode,
		ChargedTokens: record.ChargedTokens,
		BonusGrantID:  record.BonusGrantID,
		Replayed:      true,
	}, nil
}
