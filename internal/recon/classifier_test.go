package recon

import (
	"math/rand"
	"strconv"
	"testing"
)

func candidateAt(id string, distance float64, score *float64) MatchCandidate {
	return MatchCandidate{
		Element:        InventoryElement{ID: id, LotID: "lot-3", HighwayID: "BR-040", ElementType: ElementSign, Active: true},
		DistanceMeters: &distance,
		AttributeScore: score,
	}
}

func kmCandidate(id string, score *float64) MatchCandidate {
	return MatchCandidate{
		Element:        InventoryElement{ID: id, LotID: "lot-3", HighwayID: "BR-040", ElementType: ElementSign, Active: true},
		AttributeScore: score,
	}
}

func TestClassifyScenarios(t *testing.T) {
	classifier := NewClassifier(nil)

	tests := []struct {
		name        string
		need        Need
		candidates  []MatchCandidate
		wantVerdict Verdict
		wantReason  string
		wantMatched string // element id, "" means nil
	}{
		{
			name:        "no candidates",
			need:        testNeed(),
			candidates:  nil,
			wantVerdict: VerdictNoMatch,
			wantReason:  ReasonNoCandidateInRadius,
		},
		{
			// Scenario A: single sign ~6 m away, no comparable fields.
			name:        "direct match with undefined attribute score",
			need:        testNeed(),
			candidates:  []MatchCandidate{candidateAt("el-1", 6, nil)},
			wantVerdict: VerdictMatchDirect,
			wantReason:  ReasonSingleCloseMatch,
			wantMatched: "el-1",
		},
		{
			// Scenario B: 35 m away with implant intent.
			name:        "gray zone without substitution intent",
			need:        needWithSolution(SolutionImplant),
			candidates:  []MatchCandidate{candidateAt("el-1", 35, nil)},
			wantVerdict: VerdictGrayZone,
			wantReason:  ReasonAmbiguousDistanceBand,
		},
		{
			// Scenario C: same 35 m candidate with substitution intent.
			name:        "substitution within radius",
			need:        needWithSolution(SolutionSubstitute),
			candidates:  []MatchCandidate{candidateAt("el-1", 35, nil)},
			wantVerdict: VerdictSubstitution,
			wantReason:  ReasonSubstitutionWithinRange,
			wantMatched: "el-1",
		},
		{
			// Scenario D: top two 10 m and 12 m apart cannot be told apart.
			name:        "tied candidates",
			need:        testNeed(),
			candidates:  []MatchCandidate{candidateAt("el-1", 10, nil), candidateAt("el-2", 12, nil)},
			wantVerdict: VerdictMultipleCandidates,
			wantReason:  ReasonTiedCandidates,
		},
		{
			// Scenario D continued: 10 m and 25 m, nearest distinguishable
			// and tight with no attribute contradiction.
			name:        "distinguishable nearest becomes direct match",
			need:        testNeed(),
			candidates:  []MatchCandidate{candidateAt("el-1", 10, floatPtr(0.8)), candidateAt("el-2", 25, nil)},
			wantVerdict: VerdictMatchDirect,
			wantReason:  ReasonSingleCloseMatch,
			wantMatched: "el-1",
		},
		{
			name:        "distinguishable nearest with weak attributes",
			need:        testNeed(),
			candidates:  []MatchCandidate{candidateAt("el-1", 10, floatPtr(0.2)), candidateAt("el-2", 25, nil)},
			wantVerdict: VerdictAmbiguous,
			wantReason:  ReasonLowAttributeConfidence,
		},
		{
			name:        "km fallback with substitution intent",
			need:        needWithSolution(SolutionSubstitute),
			candidates:  []MatchCandidate{kmCandidate("el-1", nil)},
			wantVerdict: VerdictSubstitution,
			wantReason:  ReasonSubstitutionWithinRange,
			wantMatched: "el-1",
		},
		{
			name:        "km fallback without substitution intent stays unresolved",
			need:        needWithSolution(SolutionImplant),
			candidates:  []MatchCandidate{kmCandidate("el-1", nil)},
			wantVerdict: VerdictNoMatch,
			wantReason:  ReasonNoCandidateInRadius,
		},
		{
			name:        "two km fallback candidates count as tied",
			need:        testNeed(),
			candidates:  []MatchCandidate{kmCandidate("el-1", nil), kmCandidate("el-2", nil)},
			wantVerdict: VerdictMultipleCandidates,
			wantReason:  ReasonTiedCandidates,
		},
		{
			name:        "close single candidate contradicted by attributes",
			need:        testNeed(),
			candidates:  []MatchCandidate{candidateAt("el-1", 6, floatPtr(0.0))},
			wantVerdict: VerdictNoMatch,
			wantReason:  ReasonNoCandidateInRadius,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := classifier.Classify(tt.need, tt.candidates)

			if decision.Verdict != tt.wantVerdict {
				t.Errorf("verdict = %s, want %s", decision.Verdict, tt.wantVerdict)
			}
			if decision.ReasonCode != tt.wantReason {
				t.Errorf("reason = %s, want %s", decision.ReasonCode, tt.wantReason)
			}
			if tt.wantMatched == "" && decision.MatchedElementID != nil {
				t.Errorf("matched element = %s, want nil", *decision.MatchedElementID)
			}
			if tt.wantMatched != "" {
				if decision.MatchedElementID == nil {
					t.Errorf("matched element nil, want %s", tt.wantMatched)
				} else if *decision.MatchedElementID != tt.wantMatched {
					t.Errorf("matched element = %s, want %s", *decision.MatchedElementID, tt.wantMatched)
				}
			}
		})
	}
}

func needWithSolution(s Solution) Need {
	need := testNeed()
	need.RequestedSolution = s
	return need
}

// TestClassifyTotality hammers the classifier with randomized inputs
// and checks it always lands on exactly one defined verdict.
func TestClassifyTotality(t *testing.T) {
	classifier := NewClassifier(nil)
	rng := rand.New(rand.NewSource(42))

	valid := map[Verdict]bool{
		VerdictNoMatch:            true,
		VerdictMatchDirect:        true,
		VerdictSubstitution:       true,
		VerdictGrayZone:           true,
		VerdictMultipleCandidates: true,
		VerdictAmbiguous:          true,
	}
	solutions := []Solution{SolutionImplant, SolutionSubstitute, SolutionRemove}

	for i := 0; i < 10000; i++ {
		need := testNeed()
		need.RequestedSolution = solutions[rng.Intn(len(solutions))]

		n := rng.Intn(6)
		candidates := make([]MatchCandidate, 0, n)
		for j := 0; j < n; j++ {
			var dist *float64
			if rng.Intn(4) > 0 {
				d := rng.Float64() * 120
				dist = &d
			}
			var score *float64
			if rng.Intn(3) > 0 {
				s := rng.Float64()
				score = &s
			}
			candidates = append(candidates, MatchCandidate{
				Element:        InventoryElement{ID: "el-" + strconv.Itoa(j)},
				DistanceMeters: dist,
				AttributeScore: score,
			})
		}

		decision := classifier.Classify(need, candidates)

		if !valid[decision.Verdict] {
			t.Fatalf("iteration %d: undefined verdict %q", i, decision.Verdict)
		}
		if decision.ReasonCode == "" {
			t.Fatalf("iteration %d: empty reason code for %s", i, decision.Verdict)
		}
		if decision.MatchedElementID != nil &&
			decision.Verdict != VerdictMatchDirect && decision.Verdict != VerdictSubstitution {
			t.Fatalf("iteration %d: %s must not set matched element", i, decision.Verdict)
		}
	}
}
