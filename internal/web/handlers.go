package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/rodovia-recon/internal/audit"
	"github.com/rodovia-recon/internal/inventory"
	"github.com/rodovia-recon/internal/ledger"
	"github.com/rodovia-recon/internal/recon"
	"github.com/rodovia-recon/internal/store"
)

var validate = validator.New()

// Handler serves the engine's API endpoints.
type Handler struct {
	Store  store.Store
	Ledger *ledger.Ledger
	Jobs   *audit.Manager
}

// StartAudit launches a batch audit and returns its job handle.
func (h *Handler) StartAudit(w http.ResponseWriter, r *http.Request) {
	var spec audit.Spec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(spec); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job := h.Jobs.Start(spec)
	writeJSON(w, http.StatusAccepted, job.Snapshot())
}

// ListAudits returns all known job handles.
func (h *Handler) ListAudits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Jobs.List())
}

// GetAudit returns the status, progress and (when finished) summary of
// one batch job.
func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.Jobs.Get(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, "audit job not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// CancelAudit requests cooperative cancellation of a running batch.
func (h *Handler) CancelAudit(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !h.Jobs.Cancel(id) {
		writeError(w, http.StatusNotFound, "audit job not found")
		return
	}
	snap, _ := h.Jobs.Get(id)
	writeJSON(w, http.StatusOK, snap)
}

// ListReconciliations lists the reconciliations of one scope.
func (h *Handler) ListReconciliations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lotID, highwayID := q.Get("lot_id"), q.Get("highway_id")
	elementType := recon.ElementType(q.Get("element_type"))
	if lotID == "" || highwayID == "" || elementType == "" {
		writeError(w, http.StatusBadRequest, "lot_id, highway_id and element_type are required")
		return
	}

	recs, err := h.Store.Reconciliations(r.Context(), lotID, highwayID, elementType)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// GetReconciliation returns one reconciliation by id.
func (h *Handler) GetReconciliation(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Ledger.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type approveRequest struct {
	ApproverID string                `json:"approver_id" validate:"required"`
	Resolution *inventory.Resolution `json:"resolution,omitempty"`
}

// Approve transitions a pending reconciliation to approved and applies
// the inventory effect.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := h.Ledger.Approve(r.Context(), mux.Vars(r)["id"], req.ApproverID, req.Resolution)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type rejectRequest struct {
	ApproverID    string `json:"approver_id" validate:"required"`
	Justification string `json:"justification" validate:"required"`
}

// Reject transitions a pending reconciliation to rejected and raises a
// defect report.
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := h.Ledger.Reject(r.Context(), mux.Vars(r)["id"], req.ApproverID, req.Justification)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GetCounters returns the counters row of one scope.
func (h *Handler) GetCounters(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lotID, highwayID := q.Get("lot_id"), q.Get("highway_id")
	elementType := recon.ElementType(q.Get("element_type"))
	if lotID == "" || highwayID == "" || elementType == "" {
		writeError(w, http.StatusBadRequest, "lot_id, highway_id and element_type are required")
		return
	}

	counters, err := h.Store.Counters(r.Context(), lotID, highwayID, elementType)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counters)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps the engine's error taxonomy onto HTTP statuses
// without leaking raw storage errors.
func writeDomainError(w http.ResponseWriter, err error) {
	var (
		validation *recon.ValidationError
		invalid    *recon.InvalidStateTransition
		conflict   *recon.ConflictError
		notFound   *recon.NotFoundError
		transient  *recon.TransientStoreError
	)
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, validation.Error())
	case errors.As(err, &invalid):
		writeError(w, http.StatusConflict, invalid.Error())
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, conflict.Error())
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, notFound.Error())
	case errors.As(err, &transient):
		writeError(w, http.StatusServiceUnavailable, "storage failure during "+transient.Op+", retry the request")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
