// Package store persists needs, inventory elements, reconciliations
// and counters. Needs are read-only here; the baseline inventory only
// ever flips its active flag. The two transactional entry points,
// ApproveTx and RejectTx, own the state machine preconditions.
package store

import (
	"context"

	"github.com/rodovia-recon/internal/inventory"
	"github.com/rodovia-recon/internal/recon"
)

// Store is the persistence boundary of the reconciliation engine.
type Store interface {
	// Needs returns the needs for one lot/highway/elementType scope.
	Needs(ctx context.Context, lotID, highwayID string, elementType recon.ElementType) ([]recon.Need, error)
	// Need returns one need by id, or a NotFoundError.
	Need(ctx context.Context, id string) (recon.Need, error)

	// ActiveElements returns the active inventory for one scope.
	ActiveElements(ctx context.Context, lotID, highwayID string, elementType recon.ElementType) ([]recon.InventoryElement, error)
	// Element returns one inventory element by id, or a NotFoundError.
	Element(ctx context.Context, id string) (recon.InventoryElement, error)

	// CreateReconciliation persists a freshly classified reconciliation
	// in pending_approval.
	CreateReconciliation(ctx context.Context, rec recon.Reconciliation) error
	// Reconciliation returns one reconciliation by id, or a NotFoundError.
	Reconciliation(ctx context.Context, id string) (recon.Reconciliation, error)
	// ReconciliationForNeed returns the reconciliation covering a need,
	// or nil when the need has never been audited.
	ReconciliationForNeed(ctx context.Context, needID string) (*recon.Reconciliation, error)
	// DeletePendingForNeed removes a still-pending reconciliation so a
	// forced re-audit can replace it. Terminal records are never touched.
	DeletePendingForNeed(ctx context.Context, needID string) error
	// Reconciliations lists reconciliations for one scope, newest first.
	Reconciliations(ctx context.Context, lotID, highwayID string, elementType recon.ElementType) ([]recon.Reconciliation, error)

	// Counters returns the persisted counters row for one scope. A scope
	// that was never counted yields a zero row.
	Counters(ctx context.Context, lotID, highwayID string, elementType recon.ElementType) (recon.Counters, error)

	// ApproveTx atomically checks the pending precondition, runs apply
	// against transactional inventory ops, and stamps the reconciliation
	// approved. A terminal record yields InvalidStateTransition and no
	// effect. apply failure rolls everything back.
	ApproveTx(ctx context.Context, reconciliationID, approverID string,
		apply func(ctx context.Context, ops inventory.Ops) error) (recon.Reconciliation, error)
	// RejectTx atomically checks the pending precondition and stamps the
	// reconciliation rejected with the justification.
	RejectTx(ctx context.Context, reconciliationID, approverID, justification string) (recon.Reconciliation, error)
}
