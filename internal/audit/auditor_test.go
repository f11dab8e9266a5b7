package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rodovia-recon/internal/geo"
	"github.com/rodovia-recon/internal/recon"
	"github.com/rodovia-recon/internal/store"
)

func auditNeed(id string, lat, lon float64) recon.Need {
	return recon.Need{
		ID:                id,
		LotID:             "lot-3",
		HighwayID:         "BR-040",
		ElementType:       recon.ElementSign,
		KmReference:       12.4,
		Coordinate:        &geo.Coordinate{Latitude: lat, Longitude: lon},
		RequestedSolution: recon.SolutionImplant,
	}
}

func auditElement(id string, lat, lon float64) recon.InventoryElement {
	return recon.InventoryElement{
		ID:          id,
		LotID:       "lot-3",
		HighwayID:   "BR-040",
		ElementType: recon.ElementSign,
		KmReference: 12.4,
		Coordinate:  &geo.Coordinate{Latitude: lat, Longitude: lon},
		Origin:      recon.OriginBaseline,
		Active:      true,
	}
}

func testSpec() Spec {
	return Spec{LotID: "lot-3", HighwayID: "BR-040", ElementType: recon.ElementSign}
}

// seedBatch seeds three needs roughly a kilometer apart so their
// candidate pools never overlap: one with a close match, one with
// nothing nearby, one with a candidate in the gray band.
func seedBatch(st *store.Memory) {
	st.AddNeed(auditNeed("need-direct", -15.793000, -47.882000))
	st.AddElement(auditElement("el-direct", -15.793050, -47.882010)) // ~6 m

	st.AddNeed(auditNeed("need-alone", -15.803000, -47.882000))

	st.AddNeed(auditNeed("need-gray", -15.813000, -47.882000))
	st.AddElement(auditElement("el-gray", -15.813300, -47.882000)) // ~33 m
}

func TestRunClassifiesBatch(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seedBatch(st)

	var progress []Progress
	summary, err := New(st, nil).Run(ctx, testSpec(), func(p Progress) {
		progress = append(progress, p)
	})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 0, summary.Skipped)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 1, summary.ByVerdict[recon.VerdictMatchDirect])
	assert.Equal(t, 1, summary.ByVerdict[recon.VerdictNoMatch])
	assert.Equal(t, 1, summary.ByVerdict[recon.VerdictGrayZone])

	require.NotEmpty(t, progress)
	assert.Equal(t, Progress{Processed: 3, Total: 3}, progress[len(progress)-1])

	rec, err := st.ReconciliationForNeed(ctx, "need-direct")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, recon.StatusPendingApproval, rec.Status)
	assert.Equal(t, recon.VerdictMatchDirect, rec.Verdict)
	require.NotNil(t, rec.MatchedElementID)
	assert.Equal(t, "el-direct", *rec.MatchedElementID)
	require.Len(t, rec.Candidates, 1)
	assert.Equal(t, "el-direct", rec.Candidates[0].ElementID)
	require.NotNil(t, rec.DistanceMeters)
	assert.InDelta(t, 6, *rec.DistanceMeters, 3)

	alone, err := st.ReconciliationForNeed(ctx, "need-alone")
	require.NoError(t, err)
	require.NotNil(t, alone)
	assert.Equal(t, recon.VerdictNoMatch, alone.Verdict)
	assert.Nil(t, alone.MatchedElementID)
}

func TestRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seedBatch(st)
	auditor := New(st, nil)

	_, err := auditor.Run(ctx, testSpec(), nil)
	require.NoError(t, err)

	second, err := auditor.Run(ctx, testSpec(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Processed)
	assert.Equal(t, 3, second.Skipped)
	assert.Equal(t, 0, second.Failed)
}

func TestRunForceReplacesPendingOnly(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seedBatch(st)
	auditor := New(st, nil)

	_, err := auditor.Run(ctx, testSpec(), nil)
	require.NoError(t, err)

	// Lock one need behind a terminal decision.
	decided, err := st.ReconciliationForNeed(ctx, "need-alone")
	require.NoError(t, err)
	require.NotNil(t, decided)
	_, err = st.RejectTx(ctx, decided.ID, "inspector-7", "not on this highway")
	require.NoError(t, err)

	spec := testSpec()
	spec.Force = true
	summary, err := auditor.Run(ctx, spec, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Processed, "force reclassifies pending needs")
	assert.Equal(t, 1, summary.Skipped, "terminal reconciliations are never replaced")

	// Replacement, not accumulation: still one reconciliation per need.
	rec, err := st.ReconciliationForNeed(ctx, "need-direct")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, recon.StatusPendingApproval, rec.Status)

	untouched, err := st.Reconciliation(ctx, decided.ID)
	require.NoError(t, err)
	assert.Equal(t, recon.StatusRejected, untouched.Status)
}

func TestRunStopsOnCanceledContext(t *testing.T) {
	st := store.NewMemory()
	seedBatch(st)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := New(st, nil).Run(ctx, testSpec(), nil)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, summary, "partial summary is still reported")
	assert.Equal(t, 0, summary.Processed)

	rec, lookupErr := st.ReconciliationForNeed(context.Background(), "need-direct")
	require.NoError(t, lookupErr)
	assert.Nil(t, rec, "canceled batch must not classify")
}

func TestRunIsolatesBadNeeds(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seedBatch(st)
	st.AddNeed(auditNeed("need-broken", 95.0, -47.882000))

	summary, err := New(st, nil).Run(ctx, testSpec(), nil)
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Total)
	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, "need-broken", summary.Errors[0].NeedID)
	assert.Contains(t, summary.Errors[0].Reason, "WGS84")

	rec, err := st.ReconciliationForNeed(ctx, "need-broken")
	require.NoError(t, err)
	assert.Nil(t, rec, "a failed need gets no reconciliation")
}

func TestRunRejectsIncompleteSpec(t *testing.T) {
	_, err := New(store.NewMemory(), nil).Run(context.Background(), Spec{LotID: "lot-3"}, nil)
	var validation *recon.ValidationError
	require.ErrorAs(t, err, &validation)
}
