package entitlement

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/toolgate/toolgate/internal/catalog"
	"github.com/toolgate/toolgate/internal/models"
	"gorm.io/gorm"
)

// Identity is the resolved caller handed over by the upstream gateway.
// The engine trusts it without re-verifying authentication.
type Identity struct {
	ActorID  string // Acting user.
	PlanSlug string // Personal plan slug.
	OrgID    string // Active organization id, empty when acting personally.
}

// Subject is the key usage accrues against: the actor itself, or the
// organization when org seats pool into one budget.
type Subject struct {
	Type string // models.SubjectUser or models.SubjectOrg.
	ID   string
}

// Resolution carries the effective cap table and the usage subject.
type Resolution struct {
	Caps    models.Plan
	Subject Subject
}

// Resolver maps an identity to its effective caps. An active org with an
// org-tier plan fully overrides the personal plan; caps are never merged.
type Resolver struct {
	db      *gorm.DB
	catalog *catalog.Catalog
}

// NewResolver constructs a Resolver.
func NewResolver(db *gorm.DB, cat *catalog.Catalog) *Resolver {
	return &Resolver{db: db, catalog: cat}
}

// Resolve returns the cap table and usage subject governing the identity.
func (r *Resolver) Resolve(ctx context.Context, id Identity) (Resolution, error) {
	actorID := strings.TrimSpace(id.ActorID)
	if actorID == "" {
		return Resolution{}, fmt.Errorf("entitlement: empty actor id")
	}

	if orgID := strings.TrimSpace(id.OrgID); orgID != "" {
		var org models.Organization
		errFind := r.db.WithContext(ctx).
			Preload("Plan").
			Where("org_id = ? AND is_enabled = ?", orgID, true).
			First(&org).Error
		switch {
		case errFind == nil:
			if org.PlanID != nil && org.Plan != nil && org.Plan.IsEnabled {
				return Resolution{
					Caps:    *org.Plan,
					Subject: Subject{Type: models.SubjectOrg, ID: org.OrgID},
				}, nil
			}
			// Org without its own cap table: members keep personal caps.
		case errors.Is(errFind, gorm.ErrRecordNotFound):
			// Unknown org falls through to personal caps.
		default:
			return Resolution{}, fmt.Errorf("entitlement: load org %q: %w", orgID, errFind)
		}
	}

	caps, errPlan := r.catalog.PlanBySlug(ctx, id.PlanSlug)
	if errPlan != nil {
		return Resolution{}, errPlan
	}
	return Resolution{
		Caps:    caps,
		Subject: Subject{Type: models.SubjectUser, ID: actorID},
	}, nil
}
