package recon

// Classifier turns a ranked candidate list plus need metadata into one
// verdict from the closed taxonomy. All thresholds live here so the
// policy is in exactly one place and independently testable.
type Classifier struct {
	thresholds *Thresholds
}

// NewClassifier creates a classifier; a nil thresholds argument selects
// the defaults.
func NewClassifier(thresholds *Thresholds) *Classifier {
	if thresholds == nil {
		thresholds = DefaultThresholds()
	}
	return &Classifier{thresholds: thresholds}
}

// Classify maps a (need, candidates) pair to exactly one verdict. Pure
// and total: it never fails, and any residual case that the taxonomy
// does not name collapses to NO_MATCH.
//
// MatchedElementID is set only for MATCH_DIRECT and SUBSTITUTION; every
// other verdict leaves it nil so a human has to decide.
func (c *Classifier) Classify(need Need, candidates []MatchCandidate) Decision {
	if len(candidates) == 0 {
		return Decision{
			Verdict:    VerdictNoMatch,
			ReasonCode: ReasonNoCandidateInRadius,
		}
	}

	top := candidates[0]

	if len(candidates) > 1 {
		second := candidates[1]

		// Without GPS distances on both of the top two there is no gap to
		// measure, so they count as tied.
		if top.DistanceMeters == nil || second.DistanceMeters == nil {
			return Decision{
				Verdict:        VerdictMultipleCandidates,
				ReasonCode:     ReasonTiedCandidates,
				DistanceMeters: top.DistanceMeters,
			}
		}
		if *second.DistanceMeters-*top.DistanceMeters < c.thresholds.TieGapMeters {
			return Decision{
				Verdict:        VerdictMultipleCandidates,
				ReasonCode:     ReasonTiedCandidates,
				DistanceMeters: top.DistanceMeters,
			}
		}

		// The nearest is distinguishable but its attributes do not back the
		// match up: distance alone is not sufficient evidence.
		if top.AttributeScore != nil && *top.AttributeScore < c.thresholds.AttributeScoreMin {
			return Decision{
				Verdict:        VerdictAmbiguous,
				ReasonCode:     ReasonLowAttributeConfidence,
				DistanceMeters: top.DistanceMeters,
			}
		}

		// Distinguishable and corroborated: classify the nearest alone.
		return c.classifySingle(need, top)
	}

	return c.classifySingle(need, top)
}

// classifySingle applies the distance bands to one candidate.
func (c *Classifier) classifySingle(need Need, cand MatchCandidate) Decision {
	// km-fallback candidate: no GPS distance to band on. Substitution
	// intent is enough to trust it; anything else stays unresolved.
	if cand.DistanceMeters == nil {
		if need.RequestedSolution == SolutionSubstitute {
			id := cand.Element.ID
			return Decision{
				Verdict:          VerdictSubstitution,
				ReasonCode:       ReasonSubstitutionWithinRange,
				MatchedElementID: &id,
			}
		}
		return Decision{
			Verdict:    VerdictNoMatch,
			ReasonCode: ReasonNoCandidateInRadius,
		}
	}

	d := *cand.DistanceMeters

	if d <= c.thresholds.TightBandMeters {
		if cand.AttributeScore == nil || *cand.AttributeScore >= c.thresholds.AttributeScoreMin {
			id := cand.Element.ID
			return Decision{
				Verdict:          VerdictMatchDirect,
				ReasonCode:       ReasonSingleCloseMatch,
				DistanceMeters:   cand.DistanceMeters,
				MatchedElementID: &id,
			}
		}
		// Close but attribute-contradicted: stays unresolved.
		return Decision{
			Verdict:        VerdictNoMatch,
			ReasonCode:     ReasonNoCandidateInRadius,
			DistanceMeters: cand.DistanceMeters,
		}
	}

	if d <= c.thresholds.RadiusMeters {
		if need.RequestedSolution == SolutionSubstitute {
			id := cand.Element.ID
			return Decision{
				Verdict:          VerdictSubstitution,
				ReasonCode:       ReasonSubstitutionWithinRange,
				DistanceMeters:   cand.DistanceMeters,
				MatchedElementID: &id,
			}
		}
		return Decision{
			Verdict:        VerdictGrayZone,
			ReasonCode:     ReasonAmbiguousDistanceBand,
			DistanceMeters: cand.DistanceMeters,
		}
	}

	// Outside every band. FindCandidates already filters this out, so the
	// branch is unreachable by construction; keep it total anyway.
	return Decision{
		Verdict:        VerdictNoMatch,
		ReasonCode:     ReasonNoCandidateInRadius,
		DistanceMeters: cand.DistanceMeters,
	}
}

// SnapshotCandidates trims a candidate list to the compact form stored
// with the reconciliation. At most five entries are kept.
func SnapshotCandidates(candidates []MatchCandidate) []CandidateSnapshot {
	limit := len(candidates)
	if limit > 5 {
		limit = 5
	}
	snaps := make([]CandidateSnapshot, 0, limit)
	for _, cand := range candidates[:limit] {
		snaps = append(snaps, CandidateSnapshot{
			ElementID:      cand.Element.ID,
			DistanceMeters: cand.DistanceMeters,
			AttributeScore: cand.AttributeScore,
		})
	}
	return snaps
}
