package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rodovia-recon/internal/inventory"
	"github.com/rodovia-recon/internal/recon"
)

// Memory is an in-process Store used by tests and dry runs. A single
// mutex stands in for the row-level serialization the SQL store gets
// from the database.
type Memory struct {
	mu              sync.Mutex
	needs           map[string]recon.Need
	elements        map[string]recon.InventoryElement
	reconciliations map[string]recon.Reconciliation
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		needs:           make(map[string]recon.Need),
		elements:        make(map[string]recon.InventoryElement),
		reconciliations: make(map[string]recon.Reconciliation),
	}
}

// AddNeed seeds a need.
func (m *Memory) AddNeed(need recon.Need) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.needs[need.ID] = need
}

// AddElement seeds an inventory element.
func (m *Memory) AddElement(el recon.InventoryElement) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.elements[el.ID] = el
}

func (m *Memory) Needs(ctx context.Context, lotID, highwayID string, elementType recon.ElementType) ([]recon.Need, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []recon.Need
	for _, need := range m.needs {
		if need.LotID == lotID && need.HighwayID == highwayID && need.ElementType == elementType {
			out = append(out, need)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Need(ctx context.Context, id string) (recon.Need, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	need, ok := m.needs[id]
	if !ok {
		return recon.Need{}, &recon.NotFoundError{Kind: "need", ID: id}
	}
	return need, nil
}

func (m *Memory) ActiveElements(ctx context.Context, lotID, highwayID string, elementType recon.ElementType) ([]recon.InventoryElement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []recon.InventoryElement
	for _, el := range m.elements {
		if el.LotID == lotID && el.HighwayID == highwayID && el.ElementType == elementType && el.Active {
			out = append(out, el)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Element(ctx context.Context, id string) (recon.InventoryElement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.elementLocked(id)
}

func (m *Memory) elementLocked(id string) (recon.InventoryElement, error) {
	el, ok := m.elements[id]
	if !ok {
		return recon.InventoryElement{}, &recon.NotFoundError{Kind: "element", ID: id}
	}
	return el, nil
}

func (m *Memory) CreateReconciliation(ctx context.Context, rec recon.Reconciliation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconciliations[rec.ID] = rec
	return nil
}

func (m *Memory) Reconciliation(ctx context.Context, id string) (recon.Reconciliation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.reconciliations[id]
	if !ok {
		return recon.Reconciliation{}, &recon.NotFoundError{Kind: "reconciliation", ID: id}
	}
	return rec, nil
}

func (m *Memory) ReconciliationForNeed(ctx context.Context, needID string) (*recon.Reconciliation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range m.reconciliations {
		if rec.NeedID == needID {
			out := rec
			return &out, nil
		}
	}
	return nil, nil
}

func (m *Memory) DeletePendingForNeed(ctx context.Context, needID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, rec := range m.reconciliations {
		if rec.NeedID == needID && rec.Status == recon.StatusPendingApproval {
			delete(m.reconciliations, id)
		}
	}
	return nil
}

func (m *Memory) Reconciliations(ctx context.Context, lotID, highwayID string, elementType recon.ElementType) ([]recon.Reconciliation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []recon.Reconciliation
	for _, rec := range m.reconciliations {
		if rec.LotID == lotID && rec.HighwayID == highwayID && rec.ElementType == elementType {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) Counters(ctx context.Context, lotID, highwayID string, elementType recon.ElementType) (recon.Counters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recountLocked(lotID, highwayID, elementType), nil
}

func (m *Memory) ApproveTx(ctx context.Context, reconciliationID, approverID string,
	apply func(ctx context.Context, ops inventory.Ops) error) (recon.Reconciliation, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.reconciliations[reconciliationID]
	if !ok {
		return recon.Reconciliation{}, &recon.NotFoundError{Kind: "reconciliation", ID: reconciliationID}
	}
	if rec.Status != recon.StatusPendingApproval {
		return recon.Reconciliation{}, &recon.InvalidStateTransition{
			ReconciliationID: reconciliationID,
			Current:          rec.Status,
			Attempted:        recon.StatusApproved,
		}
	}

	// Stage mutations so an apply failure leaves nothing behind.
	ops := &memoryOps{store: m, staged: make(map[string]recon.InventoryElement)}
	if err := apply(ctx, ops); err != nil {
		return recon.Reconciliation{}, err
	}
	for id, el := range ops.staged {
		m.elements[id] = el
	}

	now := time.Now().UTC()
	rec.Status = recon.StatusApproved
	rec.DecidedBy = approverID
	rec.DecidedAt = &now
	m.reconciliations[reconciliationID] = rec
	return rec, nil
}

func (m *Memory) RejectTx(ctx context.Context, reconciliationID, approverID, justification string) (recon.Reconciliation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.reconciliations[reconciliationID]
	if !ok {
		return recon.Reconciliation{}, &recon.NotFoundError{Kind: "reconciliation", ID: reconciliationID}
	}
	if rec.Status != recon.StatusPendingApproval {
		return recon.Reconciliation{}, &recon.InvalidStateTransition{
			ReconciliationID: reconciliationID,
			Current:          rec.Status,
			Attempted:        recon.StatusRejected,
		}
	}

	now := time.Now().UTC()
	rec.Status = recon.StatusRejected
	rec.DecidedBy = approverID
	rec.DecidedAt = &now
	rec.Justification = justification
	m.reconciliations[reconciliationID] = rec
	return rec, nil
}

func (m *Memory) recountLocked(lotID, highwayID string, elementType recon.ElementType) recon.Counters {
	counters := recon.Counters{LotID: lotID, HighwayID: highwayID, ElementType: elementType}
	for _, el := range m.elements {
		if el.LotID != lotID || el.HighwayID != highwayID || el.ElementType != elementType {
			continue
		}
		counters.TotalAll++
		switch {
		case el.Active && el.Origin == recon.OriginBaseline:
			counters.BaselineActive++
		case el.Active && el.Origin == recon.OriginCreatedByMatch:
			counters.CreatedByMatchActive++
		case !el.Active && el.Origin == recon.OriginBaseline:
			counters.BaselineInactive++
		}
	}
	counters.TotalActive = counters.BaselineActive + counters.CreatedByMatchActive
	return counters
}

// memoryOps applies inventory mutations against a staged view; the
// caller folds the staged elements in only when apply succeeds. The
// store mutex is already held for the whole transaction.
type memoryOps struct {
	store  *Memory
	staged map[string]recon.InventoryElement
}

func (o *memoryOps) GetElement(ctx context.Context, id string) (recon.InventoryElement, error) {
	if el, ok := o.staged[id]; ok {
		return el, nil
	}
	return o.store.elementLocked(id)
}

func (o *memoryOps) CreateElement(ctx context.Context, el recon.InventoryElement) error {
	o.staged[el.ID] = el
	return nil
}

func (o *memoryOps) SetElementActive(ctx context.Context, id string, active bool) error {
	el, err := o.GetElement(ctx, id)
	if err != nil {
		return err
	}
	el.Active = active
	o.staged[id] = el
	return nil
}

func (o *memoryOps) RecountCounters(ctx context.Context, lotID, highwayID string, elementType recon.ElementType) (recon.Counters, error) {
	// Count over committed plus staged state.
	merged := make(map[string]recon.InventoryElement, len(o.store.elements)+len(o.staged))
	for id, el := range o.store.elements {
		merged[id] = el
	}
	for id, el := range o.staged {
		merged[id] = el
	}

	counters := recon.Counters{LotID: lotID, HighwayID: highwayID, ElementType: elementType}
	for _, el := range merged {
		if el.LotID != lotID || el.HighwayID != highwayID || el.ElementType != elementType {
			continue
		}
		counters.TotalAll++
		switch {
		case el.Active && el.Origin == recon.OriginBaseline:
			counters.BaselineActive++
		case el.Active && el.Origin == recon.OriginCreatedByMatch:
			counters.CreatedByMatchActive++
		case !el.Active && el.Origin == recon.OriginBaseline:
			counters.BaselineInactive++
		}
	}
	counters.TotalActive = counters.BaselineActive + counters.CreatedByMatchActive
	return counters, nil
}
