package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/toolgate/toolgate/internal/ledger"
	"github.com/toolgate/toolgate/internal/models"
)

// LedgerHandler manages admin endpoints for the token ledger.
type LedgerHandler struct {
	ledger *ledger.Store
}

// NewLedgerHandler constructs a ledger handler.
func NewLedgerHandler(store *ledger.Store) *LedgerHandler {
	return &LedgerHandler{ledger: store}
}

// createLedgerEntryRequest captures the payload for appending an entry.
type createLedgerEntryRequest struct {
	ActorID       string `json:"actor_id"`       // Owning actor.
	EventType     string `json:"event_type"`     // purchase, admin_adjustment or refund.
	TokensDelta   int64  `json:"tokens_delta"`   // Signed token amount.
	Reason        string `json:"reason"`         // Audit note.
	CorrelationID string `json:"correlation_id"` // Idempotence key (e.g. payment id).
}

// Create appends a balance-affecting entry. Spend and reset events are
// written by the engine itself and cannot be submitted here.
func (h *LedgerHandler) Create(c *gin.Context) {
	var body createLedgerEntryRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.ActorID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "actor_id is required"})
		return
	}

	eventType := models.LedgerEventType(strings.TrimSpace(body.EventType))
	switch eventType {
	case models.LedgerEventPurchase, models.LedgerEventAdminAdjustment, models.LedgerEventRefund:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event_type"})
		return
	}

	entry, errAppend := h.ledger.Append(c.Request.Context(), models.LedgerEntry{
		ActorID:       strings.TrimSpace(body.ActorID),
		EventType:     eventType,
		TokensDelta:   body.TokensDelta,
		Reason:        strings.TrimSpace(body.Reason),
		CorrelationID: strings.TrimSpace(body.CorrelationID),
	})
	if errAppend != nil {
		if errors.Is(errAppend, ledger.ErrInvalidEntry) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid entry"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "append entry failed"})
		return
	}
	c.JSON(http.StatusCreated, entry)
}

// List returns an actor's ledger entries, newest first.
func (h *LedgerHandler) List(c *gin.Context) {
	actorID := strings.TrimSpace(c.Query("actor_id"))
	if actorID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "actor_id is required"})
		return
	}
	limit := 100
	if limitQ := strings.TrimSpace(c.Query("limit")); limitQ != "" {
		parsed, errParse := strconv.Atoi(limitQ)
		if errParse != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	entries, errList := h.ledger.List(c.Request.Context(), actorID, limit)
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list entries failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// Balance returns an actor's derived token balance.
func (h *LedgerHandler) Balance(c *gin.Context) {
	actorID := strings.TrimSpace(c.Query("actor_id"))
	if actorID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "actor_id is required"})
		return
	}
	balance, errBalance := h.ledger.Balance(c.Request.Context(), actorID)
	if errBalance != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "balance query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"actor_id": actorID, "balance": balance})
}
