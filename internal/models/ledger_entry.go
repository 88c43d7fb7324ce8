package models

import "time"

// LedgerEventType classifies a token ledger entry.
type LedgerEventType string

// LedgerEventType constants define the balance-affecting events.
const (
	// LedgerEventPurchase credits tokens from a confirmed payment.
	LedgerEventPurchase LedgerEventType = "purchase"
	// LedgerEventSpend debits tokens for a tool run.
	LedgerEventSpend LedgerEventType = "spend"
	// LedgerEventAdminAdjustment is a privileged manual correction.
	LedgerEventAdminAdjustment LedgerEventType = "admin_adjustment"
	// LedgerEventRefund credits back a previously spent amount.
	LedgerEventRefund LedgerEventType = "refund"
	// LedgerEventReset records a rollover-cap truncation at a window reset.
	LedgerEventReset LedgerEventType = "reset"
)

// LedgerEntry is an immutable, append-only token balance event. The
// actor's balance is always the sum of TokensDelta over its entries;
// no running total is stored anywhere.
type LedgerEntry struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ActorID   string          `gorm:"type:varchar(128);not null;index"` // Owning actor.
	EventType LedgerEventType `gorm:"type:varchar(32);not null"`        // Event classification.

	TokensDelta int64 `gorm:"not null"` // Signed token amount.

	Reason        string `gorm:"type:text"`                 // Free-form audit note.
	CorrelationID string `gorm:"type:varchar(128);index"`   // Idempotence key (payment id, run id); empty when none.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
