package inventory

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/rodovia-recon/internal/recon"
)

// Ops is the primitive mutation surface the mutator drives. The store
// supplies an implementation scoped to the approval transaction; in the
// SQL store GetElement takes a row-level lock so two approvals touching
// the same element serialize.
type Ops interface {
	GetElement(ctx context.Context, id string) (recon.InventoryElement, error)
	CreateElement(ctx context.Context, el recon.InventoryElement) error
	SetElementActive(ctx context.Context, id string, active bool) error
	RecountCounters(ctx context.Context, lotID, highwayID string, elementType recon.ElementType) (recon.Counters, error)
}

// Apply executes the approved effect against the live inventory and
// then recomputes the affected counters row from first principles. The
// full recount, instead of incremental bookkeeping, makes the
// totalActive invariant self-healing after any earlier bug or partial
// failure.
func Apply(ctx context.Context, ops Ops, eff Effect) error {
	log := logrus.WithFields(logrus.Fields{
		"reconciliation_id": eff.ReconciliationID,
		"effect":            eff.Kind,
	})

	if eff.DeactivateElementID != "" {
		el, err := ops.GetElement(ctx, eff.DeactivateElementID)
		if err != nil {
			return fmt.Errorf("failed to load element %s: %w", eff.DeactivateElementID, err)
		}
		if !el.Active {
			// Another approval got here first.
			return &recon.ConflictError{
				ReconciliationID: eff.ReconciliationID,
				ElementID:        eff.DeactivateElementID,
			}
		}
		if err := ops.SetElementActive(ctx, eff.DeactivateElementID, false); err != nil {
			return fmt.Errorf("failed to deactivate element %s: %w", eff.DeactivateElementID, err)
		}
		log.WithField("element_id", eff.DeactivateElementID).Info("element deactivated")
	}

	if eff.NewElement != nil {
		if err := ops.CreateElement(ctx, *eff.NewElement); err != nil {
			return fmt.Errorf("failed to create element: %w", err)
		}
		log.WithField("element_id", eff.NewElement.ID).Info("element created")
	}

	counters, err := ops.RecountCounters(ctx, eff.LotID, eff.HighwayID, eff.ElementType)
	if err != nil {
		return fmt.Errorf("failed to recount counters: %w", err)
	}
	log.WithFields(logrus.Fields{
		"baseline_active":         counters.BaselineActive,
		"created_by_match_active": counters.CreatedByMatchActive,
		"total_active":            counters.TotalActive,
	}).Debug("counters recomputed")

	return nil
}
