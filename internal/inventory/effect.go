package inventory

import (
	"github.com/google/uuid"

	"github.com/rodovia-recon/internal/recon"
)

// EffectKind names what an approved reconciliation does to the live
// inventory.
type EffectKind string

const (
	// EffectSubstitute deactivates the superseded element and creates a
	// replacement from the need.
	EffectSubstitute EffectKind = "substitute"
	// EffectImplant creates a new element without touching anything else.
	EffectImplant EffectKind = "implant"
	// EffectRemove deactivates the matched element and creates nothing.
	EffectRemove EffectKind = "remove"
	// EffectConfirm records that the need is already satisfied by an
	// existing element; no inventory change.
	EffectConfirm EffectKind = "confirm"
)

// Effect is the approved-effect record the ledger hands to the mutator.
// Applied exactly once per reconciliation; the reconciliation id is the
// idempotency key.
type Effect struct {
	ReconciliationID    string
	Kind                EffectKind
	DeactivateElementID string
	NewElement          *recon.InventoryElement
	LotID               string
	HighwayID           string
	ElementType         recon.ElementType
}

// Resolution is the operator confirmation payload for verdicts without
// an automatic match: picking one candidate out of several, or
// confirming that a NO_MATCH should create a new element.
type Resolution struct {
	ElementID string `json:"element_id,omitempty"`
	CreateNew bool   `json:"create_new,omitempty"`
}

// BuildEffect derives the inventory effect of approving rec. The
// matched element comes from the classifier when it committed to one,
// otherwise from the operator resolution. Returns a ValidationError
// when the requested solution needs a target element and none was
// supplied.
func BuildEffect(need recon.Need, rec recon.Reconciliation, res *Resolution) (Effect, error) {
	eff := Effect{
		ReconciliationID: rec.ID,
		LotID:            need.LotID,
		HighwayID:        need.HighwayID,
		ElementType:      need.ElementType,
	}

	targetID := ""
	if rec.MatchedElementID != nil {
		targetID = *rec.MatchedElementID
	}
	createNew := false
	if res != nil {
		if res.ElementID != "" {
			targetID = res.ElementID
		}
		createNew = res.CreateNew
	}

	switch need.RequestedSolution {
	case recon.SolutionSubstitute:
		if targetID == "" {
			if !createNew {
				return Effect{}, &recon.ValidationError{
					Field:  "resolution",
					Reason: "substitution requires a target element or an explicit create-new intent",
				}
			}
			// Nothing cataloged to supersede; the substitution degrades to a
			// plain implantation.
			eff.Kind = EffectImplant
			eff.NewElement = elementFromNeed(need, rec.ID)
			return eff, nil
		}
		eff.Kind = EffectSubstitute
		eff.DeactivateElementID = targetID
		eff.NewElement = elementFromNeed(need, rec.ID)
		return eff, nil

	case recon.SolutionRemove:
		if targetID == "" {
			return Effect{}, &recon.ValidationError{
				Field:  "resolution",
				Reason: "removal requires a target element",
			}
		}
		eff.Kind = EffectRemove
		eff.DeactivateElementID = targetID
		return eff, nil

	case recon.SolutionImplant:
		if targetID != "" && !createNew {
			// The asset the crew wants to implant is already cataloged; the
			// approval just confirms the existing element covers the need.
			eff.Kind = EffectConfirm
			return eff, nil
		}
		eff.Kind = EffectImplant
		eff.NewElement = elementFromNeed(need, rec.ID)
		return eff, nil
	}

	return Effect{}, &recon.ValidationError{
		Field:  "requested_solution",
		Reason: "unknown solution " + string(need.RequestedSolution),
	}
}

// elementFromNeed populates a created-by-match element from the need's
// attributes.
func elementFromNeed(need recon.Need, reconciliationID string) *recon.InventoryElement {
	el := &recon.InventoryElement{
		ID:               uuid.NewString(),
		LotID:            need.LotID,
		HighwayID:        need.HighwayID,
		ElementType:      need.ElementType,
		KmReference:      need.KmReference,
		Origin:           recon.OriginCreatedByMatch,
		Active:           true,
		ReconciliationID: reconciliationID,
		Code:             need.Code,
		Subtype:          need.Subtype,
		Description:      need.Description,
	}
	if need.Coordinate != nil {
		coord := *need.Coordinate
		el.Coordinate = &coord
	}
	return el
}
