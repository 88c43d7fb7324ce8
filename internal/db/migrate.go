package db

import (
	"errors"
	"fmt"

	"github.com/toolgate/toolgate/internal/models"
	"gorm.io/gorm"
)

// Migrate runs schema migrations and seeds the rows the engine requires.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}

	if errAutoMigrate := conn.AutoMigrate(
		&models.Plan{},
		&models.Tool{},
		&models.Organization{},
		&models.UsageWindow{},
		&models.LedgerEntry{},
		&models.BonusGrant{},
		&models.RunRecord{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}

	if errIndex := ensureLedgerCorrelationIndex(conn); errIndex != nil {
		return errIndex
	}
	if errSeed := ensureFreePlan(conn); errSeed != nil {
		return errSeed
	}
	return nil
}

// ensureLedgerCorrelationIndex creates the partial unique index that makes
// correlated ledger appends idempotent. Uncorrelated entries (empty
// correlation id) stay outside the index and never collide.
func ensureLedgerCorrelationIndex(conn *gorm.DB) error {
	stmt := `
		CREATE UNIQUE INDEX IF NOT EXISTS uk_ledger_actor_correlation_event
		ON ledger_entries (actor_id, correlation_id, event_type)
		WHERE correlation_id <> ''
	`
	if errExec := conn.Exec(stmt).Error; errExec != nil {
		return fmt.Errorf("db: create ledger correlation index: %w", errExec)
	}
	return nil
}

// ensureFreePlan seeds the free tier. Cap resolution falls back to the
// cheapest enabled plan, so one must always exist.
func ensureFreePlan(conn *gorm.DB) error {
	var existing models.Plan
	errFind := conn.Where("slug = ?", "free").First(&existing).Error
	if errFind == nil {
		return nil
	}
	if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return fmt.Errorf("db: query free plan: %w", errFind)
	}

	plan := models.Plan{
		Slug:          "free",
		Name:          "Free",
		MonthPrice:    0,
		DailyRunCap:   10,
		DailyTokenCap: 2000,
		IsEnabled:     true,
	}
	if errCreate := conn.Create(&plan).Error; errCreate != nil {
		return fmt.Errorf("db: create free plan: %w", errCreate)
	}
	return nil
}
