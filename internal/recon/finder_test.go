package recon

import (
	"testing"

	"github.com/rodovia-recon/internal/geo"
)

func coord(lat, lon float64) *geo.Coordinate {
	return &geo.Coordinate{Latitude: lat, Longitude: lon}
}

func testNeed() Need {
	return Need{
		ID:                "need-1",
		LotID:             "lot-3",
		HighwayID:         "BR-040",
		ElementType:       ElementSign,
		KmReference:       12.4,
		Coordinate:        coord(-15.793000, -47.882000),
		RequestedSolution: SolutionImplant,
	}
}

func testElement(id string, lat, lon float64) InventoryElement {
	return InventoryElement{
		ID:          id,
		LotID:       "lot-3",
		HighwayID:   "BR-040",
		ElementType: ElementSign,
		KmReference: 12.4,
		Coordinate:  coord(lat, lon),
		Origin:      OriginBaseline,
		Active:      true,
	}
}

func TestFindCandidatesRadiusFilter(t *testing.T) {
	need := testNeed()
	pool := []InventoryElement{
		testElement("near", -15.793050, -47.882010),  // ~6 m
		testElement("mid", -15.793300, -47.882000),   // ~33 m
		testElement("far", -15.795000, -47.882000),   // ~222 m
	}

	candidates := FindCandidates(need, pool, 50)

	if len(candidates) != 2 {
		t.Fatalf("got %d candidates, want 2", len(candidates))
	}
	if candidates[0].Element.ID != "near" || candidates[1].Element.ID != "mid" {
		t.Errorf("wrong order: %s, %s", candidates[0].Element.ID, candidates[1].Element.ID)
	}
	for _, c := range candidates {
		if c.DistanceMeters == nil {
			t.Errorf("candidate %s missing GPS distance", c.Element.ID)
		}
	}
}

func TestFindCandidatesClosedBoundary(t *testing.T) {
	// A mixed pool must never leak a foreign element type, lot or
	// highway into the result, even when the pre-filter was skipped.
	need := testNeed()

	guardrail := testElement("guardrail", -15.793001, -47.882001)
	guardrail.ElementType = ElementGuardrail
	otherLot := testElement("other-lot", -15.793001, -47.882001)
	otherLot.LotID = "lot-9"
	otherHighway := testElement("other-highway", -15.793001, -47.882001)
	otherHighway.HighwayID = "BR-060"
	inactive := testElement("inactive", -15.793001, -47.882001)
	inactive.Active = false

	pool := []InventoryElement{
		guardrail, otherLot, otherHighway, inactive,
		testElement("sign-ok", -15.793050, -47.882010),
	}

	candidates := FindCandidates(need, pool, 50)

	if len(candidates) != 1 {
		t.Fatalf("got %d candidates, want 1", len(candidates))
	}
	if candidates[0].Element.ID != "sign-ok" {
		t.Errorf("leaked element %s", candidates[0].Element.ID)
	}
}

func TestFindCandidatesKmFallback(t *testing.T) {
	need := testNeed()
	need.Coordinate = nil
	need.KmReference = 12.400

	inWindow := testElement("in-window", -15.793050, -47.882010)
	inWindow.KmReference = 12.430
	outWindow := testElement("out-window", -15.793050, -47.882010)
	outWindow.KmReference = 12.480

	candidates := FindCandidates(need, []InventoryElement{inWindow, outWindow}, 50)

	if len(candidates) != 1 {
		t.Fatalf("got %d candidates, want 1", len(candidates))
	}
	if candidates[0].Element.ID != "in-window" {
		t.Errorf("got %s, want in-window", candidates[0].Element.ID)
	}
	if candidates[0].DistanceMeters != nil {
		t.Error("km-fallback candidate must not carry a GPS distance")
	}
}

func TestFindCandidatesSortNullsLastTiesByScore(t *testing.T) {
	need := testNeed()
	need.Code = "R-19"

	// Element without a coordinate takes the km-fallback path and must
	// sort after every GPS candidate.
	noGPS := testElement("no-gps", 0, 0)
	noGPS.Coordinate = nil
	noGPS.KmReference = 12.41

	withGPS := testElement("with-gps", -15.793300, -47.882000)

	candidates := FindCandidates(need, []InventoryElement{noGPS, withGPS}, 50)

	if len(candidates) != 2 {
		t.Fatalf("got %d candidates, want 2", len(candidates))
	}
	if candidates[0].Element.ID != "with-gps" || candidates[1].Element.ID != "no-gps" {
		t.Errorf("nulls not last: %s, %s", candidates[0].Element.ID, candidates[1].Element.ID)
	}
}

func TestFindCandidatesEmptyPool(t *testing.T) {
	if got := FindCandidates(testNeed(), nil, 50); len(got) != 0 {
		t.Errorf("empty pool returned %d candidates", len(got))
	}
}

func TestAttributeScore(t *testing.T) {
	tests := []struct {
		name    string
		need    Need
		element InventoryElement
		want    *float64
	}{
		{
			name:    "no comparable fields",
			need:    Need{},
			element: InventoryElement{},
			want:    nil,
		},
		{
			name:    "full match ignoring case and spacing",
			need:    Need{Code: "r-19", Subtype: "  octagonal "},
			element: InventoryElement{Code: "R-19", Subtype: "OCTAGONAL"},
			want:    floatPtr(1.0),
		},
		{
			name:    "half match",
			need:    Need{Code: "R-19", Subtype: "octagonal"},
			element: InventoryElement{Code: "R-19", Subtype: "circular"},
			want:    floatPtr(0.5),
		},
		{
			name:    "undefined fields excluded from both sides",
			need:    Need{Code: "R-19", Subtype: "octagonal"},
			element: InventoryElement{Code: "R-19"},
			want:    floatPtr(1.0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := attributeScore(tt.need, tt.element)
			switch {
			case tt.want == nil && got != nil:
				t.Errorf("got %f, want nil", *got)
			case tt.want != nil && got == nil:
				t.Errorf("got nil, want %f", *tt.want)
			case tt.want != nil && got != nil && *got != *tt.want:
				t.Errorf("got %f, want %f", *got, *tt.want)
			}
		})
	}
}

func floatPtr(f float64) *float64 { return &f }
