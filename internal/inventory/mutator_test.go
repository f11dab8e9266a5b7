package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rodovia-recon/internal/recon"
)

// fakeOps records the primitive calls Apply makes.
type fakeOps struct {
	elements map[string]recon.InventoryElement
	created  []recon.InventoryElement
	recounts int
}

func newFakeOps(elements ...recon.InventoryElement) *fakeOps {
	ops := &fakeOps{elements: make(map[string]recon.InventoryElement)}
	for _, el := range elements {
		ops.elements[el.ID] = el
	}
	return ops
}

func (o *fakeOps) GetElement(ctx context.Context, id string) (recon.InventoryElement, error) {
	el, ok := o.elements[id]
	if !ok {
		return recon.InventoryElement{}, &recon.NotFoundError{Kind: "element", ID: id}
	}
	return el, nil
}

func (o *fakeOps) CreateElement(ctx context.Context, el recon.InventoryElement) error {
	o.elements[el.ID] = el
	o.created = append(o.created, el)
	return nil
}

func (o *fakeOps) SetElementActive(ctx context.Context, id string, active bool) error {
	el := o.elements[id]
	el.Active = active
	o.elements[id] = el
	return nil
}

func (o *fakeOps) RecountCounters(ctx context.Context, lotID, highwayID string, elementType recon.ElementType) (recon.Counters, error) {
	o.recounts++
	return recon.Counters{LotID: lotID, HighwayID: highwayID, ElementType: elementType}, nil
}

func baselineElement(id string) recon.InventoryElement {
	return recon.InventoryElement{
		ID:          id,
		LotID:       "lot-3",
		HighwayID:   "BR-040",
		ElementType: recon.ElementSign,
		Origin:      recon.OriginBaseline,
		Active:      true,
	}
}

func substituteNeed() recon.Need {
	return recon.Need{
		ID:                "need-1",
		LotID:             "lot-3",
		HighwayID:         "BR-040",
		ElementType:       recon.ElementSign,
		KmReference:       12.4,
		RequestedSolution: recon.SolutionSubstitute,
		Code:              "R-19",
	}
}

func TestBuildEffect(t *testing.T) {
	matched := "el-1"
	baseRec := recon.Reconciliation{ID: "rec-1", NeedID: "need-1", MatchedElementID: &matched}

	t.Run("substitution deactivates and creates", func(t *testing.T) {
		eff, err := BuildEffect(substituteNeed(), baseRec, nil)
		require.NoError(t, err)
		assert.Equal(t, EffectSubstitute, eff.Kind)
		assert.Equal(t, "el-1", eff.DeactivateElementID)
		require.NotNil(t, eff.NewElement)
		assert.Equal(t, recon.OriginCreatedByMatch, eff.NewElement.Origin)
		assert.True(t, eff.NewElement.Active)
		assert.Equal(t, "rec-1", eff.NewElement.ReconciliationID)
		assert.Equal(t, "R-19", eff.NewElement.Code)
	})

	t.Run("removal deactivates only", func(t *testing.T) {
		need := substituteNeed()
		need.RequestedSolution = recon.SolutionRemove

		eff, err := BuildEffect(need, baseRec, nil)
		require.NoError(t, err)
		assert.Equal(t, EffectRemove, eff.Kind)
		assert.Equal(t, "el-1", eff.DeactivateElementID)
		assert.Nil(t, eff.NewElement)
	})

	t.Run("implant with no match creates only", func(t *testing.T) {
		need := substituteNeed()
		need.RequestedSolution = recon.SolutionImplant
		rec := recon.Reconciliation{ID: "rec-1", NeedID: "need-1"}

		eff, err := BuildEffect(need, rec, &Resolution{CreateNew: true})
		require.NoError(t, err)
		assert.Equal(t, EffectImplant, eff.Kind)
		assert.Empty(t, eff.DeactivateElementID)
		require.NotNil(t, eff.NewElement)
	})

	t.Run("implant over an existing match is a confirmation", func(t *testing.T) {
		need := substituteNeed()
		need.RequestedSolution = recon.SolutionImplant

		eff, err := BuildEffect(need, baseRec, nil)
		require.NoError(t, err)
		assert.Equal(t, EffectConfirm, eff.Kind)
		assert.Nil(t, eff.NewElement)
	})

	t.Run("removal without target fails validation", func(t *testing.T) {
		need := substituteNeed()
		need.RequestedSolution = recon.SolutionRemove
		rec := recon.Reconciliation{ID: "rec-1", NeedID: "need-1"}

		_, err := BuildEffect(need, rec, nil)
		var validation *recon.ValidationError
		require.ErrorAs(t, err, &validation)
	})

	t.Run("operator resolution overrides the target", func(t *testing.T) {
		eff, err := BuildEffect(substituteNeed(), baseRec, &Resolution{ElementID: "el-9"})
		require.NoError(t, err)
		assert.Equal(t, "el-9", eff.DeactivateElementID)
	})
}

func TestApplySubstitution(t *testing.T) {
	ops := newFakeOps(baselineElement("el-1"))
	eff, err := BuildEffect(substituteNeed(), recon.Reconciliation{ID: "rec-1", MatchedElementID: strPtr("el-1")}, nil)
	require.NoError(t, err)

	require.NoError(t, Apply(context.Background(), ops, eff))

	assert.False(t, ops.elements["el-1"].Active, "superseded element must be deactivated")
	require.Len(t, ops.created, 1)
	assert.True(t, ops.created[0].Active)
	assert.Equal(t, recon.OriginCreatedByMatch, ops.created[0].Origin)
	assert.Equal(t, 1, ops.recounts, "counters must be recomputed after the mutation")
}

func TestApplyConflictOnInactiveElement(t *testing.T) {
	el := baselineElement("el-1")
	el.Active = false
	ops := newFakeOps(el)

	eff, err := BuildEffect(substituteNeed(), recon.Reconciliation{ID: "rec-1", MatchedElementID: strPtr("el-1")}, nil)
	require.NoError(t, err)

	err = Apply(context.Background(), ops, eff)
	var conflict *recon.ConflictError
	require.True(t, errors.As(err, &conflict), "deactivating an inactive element must conflict, got %v", err)
	assert.Empty(t, ops.created, "conflicting apply must not create anything")
}

func strPtr(s string) *string { return &s }
