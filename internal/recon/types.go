package recon

import (
	"time"

	"github.com/rodovia-recon/internal/geo"
)

// ElementType identifies the physical asset class a need or inventory
// element belongs to. A need never matches an element of another type.
type ElementType string

const (
	ElementSign                 ElementType = "sign"
	ElementMarkingLongitudinal  ElementType = "marking-longitudinal"
	ElementMarkingTransversal   ElementType = "marking-transversal"
	ElementRumbleStripe         ElementType = "rumble-stripe"
	ElementDelineatorCylinder   ElementType = "delineator-cylinder"
	ElementGantry               ElementType = "gantry"
	ElementGuardrail            ElementType = "guardrail"
)

// ElementTypes lists every known element type.
func ElementTypes() []ElementType {
	return []ElementType{
		ElementSign,
		ElementMarkingLongitudinal,
		ElementMarkingTransversal,
		ElementRumbleStripe,
		ElementDelineatorCylinder,
		ElementGantry,
		ElementGuardrail,
	}
}

// Solution is the remedy the field crew requested for a need.
type Solution string

const (
	SolutionImplant    Solution = "implant"
	SolutionSubstitute Solution = "substitute"
	SolutionRemove     Solution = "remove"
)

// Origin distinguishes baseline survey elements from elements created
// by an approved reconciliation.
type Origin string

const (
	OriginBaseline       Origin = "baseline"
	OriginCreatedByMatch Origin = "created-by-match"
)

// Need is a field-identified requirement to implant, substitute or
// remove a roadway asset. Needs are created by the field workflow and
// are read-only to this engine.
type Need struct {
	ID                string          `json:"id"`
	LotID             string          `json:"lot_id"`
	HighwayID         string          `json:"highway_id"`
	ElementType       ElementType     `json:"element_type"`
	KmReference       float64         `json:"km_reference"`
	Coordinate        *geo.Coordinate `json:"coordinate,omitempty"`
	RequestedSolution Solution        `json:"requested_solution"`
	SourceLineNumber  int             `json:"source_line_number"`
	Code              string          `json:"code,omitempty"`
	Subtype           string          `json:"subtype,omitempty"`
	Description       string          `json:"description,omitempty"`
}

// InventoryElement is one cadastro row. Baseline rows are never
// deleted; superseding one only flips Active to false.
type InventoryElement struct {
	ID          string          `json:"id"`
	LotID       string          `json:"lot_id"`
	HighwayID   string          `json:"highway_id"`
	ElementType ElementType     `json:"element_type"`
	KmReference float64         `json:"km_reference"`
	Coordinate  *geo.Coordinate `json:"coordinate,omitempty"`
	Origin      Origin          `json:"origin"`
	Active      bool            `json:"active"`
	// ReconciliationID links a created-by-match element back to the
	// approved reconciliation that produced it. Empty on baseline rows.
	ReconciliationID string `json:"reconciliation_id,omitempty"`
	Code             string `json:"code,omitempty"`
	Subtype          string `json:"subtype,omitempty"`
	Description      string `json:"description,omitempty"`
}

// MatchCandidate is one ranked inventory element considered for a need.
// DistanceMeters is nil on the km-fallback path, where no GPS distance
// is computable.
type MatchCandidate struct {
	Element        InventoryElement `json:"element"`
	DistanceMeters *float64         `json:"distance_meters"`
	AttributeScore *float64         `json:"attribute_score"`
}

// Verdict is the classifier's output category.
type Verdict string

const (
	VerdictNoMatch            Verdict = "NO_MATCH"
	VerdictMatchDirect        Verdict = "MATCH_DIRECT"
	VerdictSubstitution       Verdict = "SUBSTITUTION"
	VerdictGrayZone           Verdict = "GRAY_ZONE"
	VerdictMultipleCandidates Verdict = "MULTIPLE_CANDIDATES"
	VerdictAmbiguous          Verdict = "AMBIGUOUS"
)

// Reason codes, one per verdict.
const (
	ReasonNoCandidateInRadius     = "no_candidate_in_radius"
	ReasonSingleCloseMatch        = "single_close_match"
	ReasonSubstitutionWithinRange = "substitution_within_radius"
	ReasonAmbiguousDistanceBand   = "ambiguous_distance_band"
	ReasonTiedCandidates          = "tied_candidates"
	ReasonLowAttributeConfidence  = "low_attribute_confidence"
)

// Status tracks a reconciliation through the approval state machine.
// Both approved and rejected are terminal; a record is never reopened.
type Status string

const (
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	StatusRejected        Status = "rejected"
)

// Decision is the classifier output for one need.
type Decision struct {
	Verdict          Verdict  `json:"verdict"`
	ReasonCode       string   `json:"reason_code"`
	DistanceMeters   *float64 `json:"distance_meters,omitempty"`
	MatchedElementID *string  `json:"matched_element_id,omitempty"`
}

// CandidateSnapshot is the compact candidate record persisted with a
// reconciliation for later review.
type CandidateSnapshot struct {
	ElementID      string   `json:"element_id"`
	DistanceMeters *float64 `json:"distance_meters,omitempty"`
	AttributeScore *float64 `json:"attribute_score,omitempty"`
}

// Reconciliation links one need to a matching decision and its
// human-approved disposition.
type Reconciliation struct {
	ID               string              `json:"id"`
	NeedID           string              `json:"need_id"`
	LotID            string              `json:"lot_id"`
	HighwayID        string              `json:"highway_id"`
	ElementType      ElementType         `json:"element_type"`
	Verdict          Verdict             `json:"verdict"`
	ReasonCode       string              `json:"reason_code"`
	DistanceMeters   *float64            `json:"distance_meters,omitempty"`
	MatchedElementID *string             `json:"matched_element_id,omitempty"`
	Candidates       []CandidateSnapshot `json:"candidates,omitempty"`
	Status           Status              `json:"status"`
	DecidedBy        string              `json:"decided_by,omitempty"`
	DecidedAt        *time.Time          `json:"decided_at,omitempty"`
	Justification    string              `json:"justification,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
}

// Counters is the denormalized per-scope element count row. The
// invariant TotalActive == BaselineActive + CreatedByMatchActive must
// hold after every committed mutation.
type Counters struct {
	LotID                string      `json:"lot_id"`
	HighwayID            string      `json:"highway_id"`
	ElementType          ElementType `json:"element_type"`
	BaselineActive       int         `json:"baseline_active"`
	CreatedByMatchActive int         `json:"created_by_match_active"`
	TotalActive          int         `json:"total_active"`
	BaselineInactive     int         `json:"baseline_inactive"`
	TotalAll             int         `json:"total_all"`
}

// Thresholds holds the distance and attribute cutoffs the classifier
// applies. They are policy, not physics, and are kept configurable.
type Thresholds struct {
	RadiusMeters      float64 // candidate search radius
	TightBandMeters   float64 // direct-match confidence band
	TieGapMeters      float64 // minimum gap to disambiguate the top two
	KmFallbackWindow  float64 // km window when no GPS fix exists
	AttributeScoreMin float64 // attribute corroboration floor
}

// DefaultThresholds returns the recommended cutoffs.
func DefaultThresholds() *Thresholds {
	return &Thresholds{
		RadiusMeters:      50.0,
		TightBandMeters:   20.0,
		TieGapMeters:      10.0,
		KmFallbackWindow:  0.05,
		AttributeScoreMin: 0.5,
	}
}
