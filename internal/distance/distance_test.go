package distance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cut-precision/pkg/geometry"
)

func TestNearestDistancesExact(t *testing.T) {
	reference := []geometry.Point2D{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}}
	query := []geometry.Point2D{{X: 0, Y: 0}, {X: 13, Y: 14}, {X: 5, Y: 0}}

	got := NearestDistances(query, reference)
	require.Len(t, got, 3)
	assert.InDelta(t, 0.0, got[0], 1e-12)
	assert.InDelta(t, 5.0, got[1], 1e-12) // (13,14) -> (10,10)
	assert.InDelta(t, 5.0, got[2], 1e-12)
}

func TestNearestDistancesTreeMatchesBruteforce(t *testing.T) {
	reference := geometry.GenerateCirclePoints(50, 50, 40, 256)
	query := geometry.GenerateCirclePoints(52, 47, 38, 100)

	tree := treeDistances(query, reference)
	brute := bruteforceDistances(query, reference)
	require.Len(t, tree, len(brute))
	for i := range tree {
		assert.InDelta(t, brute[i], tree[i], 1e-9)
	}
}

func TestNearestDistancesEmptyInputs(t *testing.T) {
	assert.Nil(t, NearestDistances(nil, []geometry.Point2D{{X: 1, Y: 1}}))
	assert.Nil(t, NearestDistances([]geometry.Point2D{{X: 1, Y: 1}}, nil))
}

func TestFieldBilinearInterpolation(t *testing.T) {
	// 2x2 field with a linear ramp along x.
	f := &Field{Width: 2, Height: 2, Data: []float32{0, 2, 0, 2}}
	got := f.SampleBilinear([]geometry.Point2D{{X: 0.5, Y: 0.5}, {X: 0, Y: 0}, {X: 1, Y: 1}})
	assert.InDelta(t, 1.0, got[0], 1e-9)
	assert.InDelta(t, 0.0, got[1], 1e-9)
	assert.InDelta(t, 2.0, got[2], 1e-9)
}

func TestFieldNearestClampsOutOfBounds(t *testing.T) {
	f := &Field{Width: 2, Height: 1, Data: []float32{3, 7}}
	got := f.SampleNearest([]geometry.Point2D{{X: -5, Y: 0}, {X: 9, Y: 4}})
	assert.Equal(t, 3.0, got[0])
	assert.Equal(t, 7.0, got[1])
}

func TestValidateMethodsOK(t *testing.T) {
	a := []float64{1.0, 2.0, 3.0}
	b := []float64{1.1, 2.05, 2.9}
	v := ValidateMethods(a, b, 1.5)
	assert.Equal(t, "ok", v.Status)
	require.NotNil(t, v.MeanAbsDeltaPx)
	assert.Less(t, *v.MeanAbsDeltaPx, 1.5)
}

func TestValidateMethodsMismatch(t *testing.T) {
	a := []float64{1, 2, 3}
	b := []float64{6, 8, 9}
	v := ValidateMethods(a, b, 1.5)
	assert.Equal(t, "mismatch", v.Status)
	require.NotNil(t, v.MeanAbsDeltaPx)
	assert.Greater(t, *v.MeanAbsDeltaPx, 1.5)
}

func TestValidateMethodsInvalidInputs(t *testing.T) {
	v := ValidateMethods(nil, nil, 1.5)
	assert.Equal(t, "invalid_inputs", v.Status)
	assert.Nil(t, v.MeanAbsDeltaPx)

	v = ValidateMethods([]float64{1}, []float64{1, 2}, 1.5)
	assert.Equal(t, "invalid_inputs", v.Status)
}
