package recon

import "fmt"

// ValidationError reports malformed input caught before any
// persistence: bad coordinates, missing required need fields, empty
// justification on reject.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// InvalidStateTransition reports an approve/reject attempt on a
// reconciliation that is no longer pending. The record is unchanged.
type InvalidStateTransition struct {
	ReconciliationID string
	Current          Status
	Attempted        Status
}

func (e *InvalidStateTransition) Error() string {
	return fmt.Sprintf("reconciliation %s is %s, cannot transition to %s",
		e.ReconciliationID, e.Current, e.Attempted)
}

// ConflictError reports concurrent approvals racing on the same
// inventory element. The losing transaction is retried once before
// this surfaces.
type ConflictError struct {
	ReconciliationID string
	ElementID        string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("reconciliation %s conflicts on element %s",
		e.ReconciliationID, e.ElementID)
}

// TransientStoreError wraps a read/write failure at the persistence
// boundary. Safe to retry; never exposes the raw driver error to the
// end user message.
type TransientStoreError struct {
	Op  string
	ID  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("store failure during %s for %s: %v", e.Op, e.ID, e.Err)
}

func (e *TransientStoreError) Unwrap() error { return e.Err }

// NotFoundError reports a missing need or reconciliation id.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}
