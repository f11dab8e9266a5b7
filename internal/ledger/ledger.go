// Package ledger owns the reconciliation approval state machine:
// pending_approval transitions exactly once to approved or rejected,
// approval applies the inventory effect in the same transaction, and
// rejection raises a defect report with the external collaborator.
package ledger

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/rodovia-recon/internal/inventory"
	"github.com/rodovia-recon/internal/recon"
	"github.com/rodovia-recon/internal/store"
)

// DefectNotifier requests a defect/non-conformity record from the
// external collaborator when a reconciliation is rejected. The engine
// only guarantees the request is issued exactly once; delivery is the
// collaborator's problem.
type DefectNotifier interface {
	RaiseDefect(ctx context.Context, rec recon.Reconciliation, justification string) error
}

// NopNotifier discards defect requests. Used when no collaborator is
// wired, and by tests that only care about the state machine.
type NopNotifier struct{}

func (NopNotifier) RaiseDefect(ctx context.Context, rec recon.Reconciliation, justification string) error {
	return nil
}

// Ledger drives reconciliations through the approval workflow.
type Ledger struct {
	store    store.Store
	notifier DefectNotifier
	log      *logrus.Entry
}

// New creates a ledger. A nil notifier falls back to NopNotifier.
func New(st store.Store, notifier DefectNotifier) *Ledger {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Ledger{
		store:    st,
		notifier: notifier,
		log:      logrus.WithField("component", "ledger"),
	}
}

// Approve transitions a pending reconciliation to approved and applies
// its inventory effect. Verdicts without an automatic match require an
// operator resolution naming the chosen element or a create-new intent.
// A conflicting concurrent approval is retried once against fresh state
// before ConflictError surfaces.
func (l *Ledger) Approve(ctx context.Context, reconciliationID, approverID string, res *inventory.Resolution) (recon.Reconciliation, error) {
	if approverID == "" {
		return recon.Reconciliation{}, &recon.ValidationError{Field: "approver_id", Reason: "must not be empty"}
	}

	updated, err := l.approveOnce(ctx, reconciliationID, approverID, res)
	var conflict *recon.ConflictError
	if errors.As(err, &conflict) {
		l.log.WithFields(logrus.Fields{
			"reconciliation_id": reconciliationID,
			"element_id":        conflict.ElementID,
		}).Warn("approval conflict, retrying against fresh state")
		updated, err = l.approveOnce(ctx, reconciliationID, approverID, res)
	}
	if err != nil {
		return recon.Reconciliation{}, err
	}

	l.log.WithFields(logrus.Fields{
		"reconciliation_id": updated.ID,
		"need_id":           updated.NeedID,
		"verdict":           updated.Verdict,
		"approver":          approverID,
	}).Info("reconciliation approved")
	return updated, nil
}

func (l *Ledger) approveOnce(ctx context.Context, reconciliationID, approverID string, res *inventory.Resolution) (recon.Reconciliation, error) {
	rec, err := l.store.Reconciliation(ctx, reconciliationID)
	if err != nil {
		return recon.Reconciliation{}, err
	}
	if rec.Status != recon.StatusPendingApproval {
		return recon.Reconciliation{}, &recon.InvalidStateTransition{
			ReconciliationID: reconciliationID,
			Current:          rec.Status,
			Attempted:        recon.StatusApproved,
		}
	}
	if rec.MatchedElementID == nil && res == nil {
		return recon.Reconciliation{}, &recon.ValidationError{
			Field:  "resolution",
			Reason: "verdict " + string(rec.Verdict) + " has no automatic match; a resolution is required",
		}
	}

	need, err := l.store.Need(ctx, rec.NeedID)
	if err != nil {
		return recon.Reconciliation{}, err
	}

	eff, err := inventory.BuildEffect(need, rec, res)
	if err != nil {
		return recon.Reconciliation{}, err
	}

	return l.store.ApproveTx(ctx, reconciliationID, approverID, func(ctx context.Context, ops inventory.Ops) error {
		return inventory.Apply(ctx, ops, eff)
	})
}

// Reject transitions a pending reconciliation to rejected. The
// justification is mandatory. After the transition commits, a defect
// record is requested from the collaborator; a notifier failure is
// logged, not surfaced, since the transition itself already happened.
func (l *Ledger) Reject(ctx context.Context, reconciliationID, approverID, justification string) (recon.Reconciliation, error) {
	if approverID == "" {
		return recon.Reconciliation{}, &recon.ValidationError{Field: "approver_id", Reason: "must not be empty"}
	}
	if justification == "" {
		return recon.Reconciliation{}, &recon.ValidationError{Field: "justification", Reason: "must not be empty"}
	}

	updated, err := l.store.RejectTx(ctx, reconciliationID, approverID, justification)
	if err != nil {
		return recon.Reconciliation{}, err
	}

	if err := l.notifier.RaiseDefect(ctx, updated, justification); err != nil {
		l.log.WithFields(logrus.Fields{
			"reconciliation_id": updated.ID,
			"need_id":           updated.NeedID,
		}).WithError(err).Error("defect notification failed")
	}

	l.log.WithFields(logrus.Fields{
		"reconciliation_id": updated.ID,
		"need_id":           updated.NeedID,
		"approver":          approverID,
	}).Info("reconciliation rejected")
	return updated, nil
}

// Get returns one reconciliation.
func (l *Ledger) Get(ctx context.Context, reconciliationID string) (recon.Reconciliation, error) {
	return l.store.Reconciliation(ctx, reconciliationID)
}
