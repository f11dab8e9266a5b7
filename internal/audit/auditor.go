// Package audit runs the read-only reconciliation pass: it streams the
// needs of one lot/highway/elementType scope through candidate search
// and classification, and persists one pending reconciliation per need.
// It never mutates inventory; that only happens on approval.
package audit

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/rodovia-recon/internal/recon"
	"github.com/rodovia-recon/internal/store"
)

// Spec selects the scope and policy of one audit batch.
type Spec struct {
	LotID        string              `json:"lot_id" validate:"required"`
	HighwayID    string              `json:"highway_id" validate:"required"`
	ElementType  recon.ElementType   `json:"element_type" validate:"required"`
	RadiusMeters float64             `json:"radius_meters,omitempty"`
	// Force reclassifies needs whose reconciliation is still pending.
	// Terminal reconciliations are never touched.
	Force       bool `json:"force,omitempty"`
	Concurrency int  `json:"concurrency,omitempty"`
}

// Progress is the incremental batch position reported to the caller.
type Progress struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
}

// ItemError is one need that failed without aborting the batch.
type ItemError struct {
	NeedID string `json:"need_id"`
	Reason string `json:"reason"`
}

// Summary is the terminal batch report.
type Summary struct {
	Total     int                   `json:"total"`
	Processed int                   `json:"processed"`
	Skipped   int                   `json:"skipped"`
	Failed    int                   `json:"failed"`
	ByVerdict map[recon.Verdict]int `json:"by_verdict"`
	Errors    []ItemError           `json:"errors,omitempty"`
	Elapsed   time.Duration         `json:"elapsed"`
}

// Auditor orchestrates candidate search and classification over a
// batch of needs.
type Auditor struct {
	store      store.Store
	classifier *recon.Classifier
	log        *logrus.Entry
}

// New creates an auditor. A nil classifier selects default thresholds.
func New(st store.Store, classifier *recon.Classifier) *Auditor {
	if classifier == nil {
		classifier = recon.NewClassifier(nil)
	}
	return &Auditor{
		store:      st,
		classifier: classifier,
		log:        logrus.WithField("component", "auditor"),
	}
}

type classified struct {
	need       recon.Need
	decision   recon.Decision
	candidates []recon.CandidateSnapshot
}

// Run executes one audit batch. Classification of individual needs is
// pure and fans out over a bounded worker pool; a single writer
// persists the results so counters never see concurrent writes.
//
// Cancellation is cooperative and checked between needs: on a canceled
// context the already-persisted reconciliations remain, and re-running
// the same spec skips every need that already has one.
func (a *Auditor) Run(ctx context.Context, spec Spec, onProgress func(Progress)) (*Summary, error) {
	if spec.LotID == "" || spec.HighwayID == "" || spec.ElementType == "" {
		return nil, &recon.ValidationError{Field: "spec", Reason: "lot, highway and element type are required"}
	}
	if spec.RadiusMeters <= 0 {
		spec.RadiusMeters = recon.DefaultThresholds().RadiusMeters
	}
	concurrency := spec.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}

	started := time.Now()
	summary := &Summary{ByVerdict: make(map[recon.Verdict]int)}

	needs, err := a.store.Needs(ctx, spec.LotID, spec.HighwayID, spec.ElementType)
	if err != nil {
		return nil, err
	}
	pool, err := a.store.ActiveElements(ctx, spec.LotID, spec.HighwayID, spec.ElementType)
	if err != nil {
		return nil, err
	}
	summary.Total = len(needs)

	a.log.WithFields(logrus.Fields{
		"lot":          spec.LotID,
		"highway":      spec.HighwayID,
		"element_type": spec.ElementType,
		"needs":        len(needs),
		"pool":         len(pool),
		"workers":      concurrency,
	}).Info("audit batch started")

	results := make(chan classified, concurrency)
	failures := make(chan ItemError, concurrency)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	go func() {
		defer close(results)
		defer close(failures)
		for _, need := range needs {
			if gctx.Err() != nil {
				break
			}

			skip, err := a.shouldSkip(gctx, need.ID, spec.Force)
			if err != nil {
				failures <- ItemError{NeedID: need.ID, Reason: itemReason(err)}
				continue
			}
			if skip {
				results <- classified{need: need}
				continue
			}

			need := need
			g.Go(func() error {
				if need.Coordinate != nil && !need.Coordinate.Valid() {
					failures <- ItemError{NeedID: need.ID, Reason: "coordinate outside WGS84 range"}
					return nil
				}
				candidates := recon.FindCandidates(need, pool, spec.RadiusMeters)
				results <- classified{
					need:       need,
					decision:   a.classifier.Classify(need, candidates),
					candidates: recon.SnapshotCandidates(candidates),
				}
				return nil
			})
		}
		g.Wait()
	}()

	// Single writer: persist and account for results as they arrive.
	done := 0
	report := func() {
		done++
		if onProgress != nil {
			onProgress(Progress{Processed: done, Total: summary.Total})
		}
		if done%100 == 0 {
			elapsed := time.Since(started)
			a.log.WithFields(logrus.Fields{
				"processed": done,
				"total":     summary.Total,
				"rate":      float64(done) / elapsed.Seconds(),
			}).Info("audit progress")
		}
	}

	for results != nil || failures != nil {
		select {
		case res, ok := <-results:
			if !ok {
				results = nil
				continue
			}
			if res.decision.Verdict == "" {
				summary.Skipped++
				report()
				continue
			}
			if err := a.persist(ctx, spec, res); err != nil {
				summary.Failed++
				summary.Errors = append(summary.Errors, ItemError{NeedID: res.need.ID, Reason: itemReason(err)})
				a.log.WithField("need_id", res.need.ID).WithError(err).Warn("failed to persist reconciliation")
			} else {
				summary.Processed++
				summary.ByVerdict[res.decision.Verdict]++
			}
			report()
		case fail, ok := <-failures:
			if !ok {
				failures = nil
				continue
			}
			summary.Failed++
			summary.Errors = append(summary.Errors, fail)
			report()
		}
	}

	summary.Elapsed = time.Since(started)
	a.log.WithFields(logrus.Fields{
		"processed": summary.Processed,
		"skipped":   summary.Skipped,
		"failed":    summary.Failed,
		"elapsed":   summary.Elapsed.String(),
	}).Info("audit batch finished")

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

// shouldSkip implements idempotent re-runs: a need with a terminal
// reconciliation is always skipped, a pending one is skipped unless
// force replaces it.
func (a *Auditor) shouldSkip(ctx context.Context, needID string, force bool) (bool, error) {
	existing, err := a.store.ReconciliationForNeed(ctx, needID)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, nil
	}
	if existing.Status != recon.StatusPendingApproval {
		return true, nil
	}
	if !force {
		return true, nil
	}
	if err := a.store.DeletePendingForNeed(ctx, needID); err != nil {
		return false, err
	}
	return false, nil
}

func (a *Auditor) persist(ctx context.Context, spec Spec, res classified) error {
	return a.store.CreateReconciliation(ctx, recon.Reconciliation{
		ID:               uuid.NewString(),
		NeedID:           res.need.ID,
		LotID:            spec.LotID,
		HighwayID:        spec.HighwayID,
		ElementType:      spec.ElementType,
		Verdict:          res.decision.Verdict,
		ReasonCode:       res.decision.ReasonCode,
		DistanceMeters:   res.decision.DistanceMeters,
		MatchedElementID: res.decision.MatchedElementID,
		Candidates:       res.candidates,
		Status:           recon.StatusPendingApproval,
		CreatedAt:        time.Now().UTC(),
	})
}

// itemReason keeps raw storage errors out of user-visible messages.
func itemReason(err error) string {
	var transient *recon.TransientStoreError
	if errors.As(err, &transient) {
		return "storage failure during " + transient.Op
	}
	return err.Error()
}
