package metrics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeStatisticsExactMeanAndMax(t *testing.T) {
	d := []float64{1, 2, 3, 4, 10}
	s, err := ComputeStatistics(d)
	require.NoError(t, err)
	assert.Equal(t, 4.0, s.MAD)
	assert.Equal(t, 10.0, s.MaxError)

	// Population std of {1,2,3,4,10}: mean 4, variance (9+4+1+0+36)/5 = 10.
	assert.InDelta(t, math.Sqrt(10), s.Std, 1e-12)
}

func TestComputeStatisticsP95(t *testing.T) {
	d := make([]float64, 100)
	for i := range d {
		d[i] = float64(i)
	}
	s, err := ComputeStatistics(d)
	require.NoError(t, err)
	// Linear interpolation at rank 0.95*(99) = 94.05.
	assert.InDelta(t, 94.05, s.P95, 1e-9)
}

func TestComputeStatisticsEmptyFails(t *testing.T) {
	_, err := ComputeStatistics(nil)
	assert.Error(t, err)
}

func TestComputeIPNZeroErrorScoresFull(t *testing.T) {
	ipn, tol, err := ComputeIPN(0, 150, 0.02, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, 100.0, ipn)
	assert.InDelta(t, 3.0, tol, 1e-12)
}

func TestComputeIPNClamped(t *testing.T) {
	for _, mad := range []float64{0, 0.5, 1, 5, 1000} {
		ipn, _, err := ComputeIPN(mad, 100, 0.02, 0, 100)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, ipn, 0.0)
		assert.LessOrEqual(t, ipn, 100.0)
	}
}

func TestComputeIPNRejectsBadInputs(t *testing.T) {
	_, _, err := ComputeIPN(1, 0, 0.02, 0, 100)
	assert.Error(t, err)
	_, _, err = ComputeIPN(1, 100, 0, 0, 100)
	assert.Error(t, err)
	_, _, err = ComputeIPN(1, -5, 0.02, 0, 100)
	assert.Error(t, err)
}

func TestToMM(t *testing.T) {
	assert.Nil(t, ToMM([]float64{1, 2}, nil))

	factor := 0.1
	out := ToMM([]float64{1, 2, 3}, &factor)
	assert.Equal(t, []float64{0.1, 0.2, 0.30000000000000004}, out)
}

func TestBidirectionalDiagnostics(t *testing.T) {
	r2i := []float64{1, 3}
	i2r := []float64{2, 6}
	d, err := ComputeBidirectionalDiagnostics(r2i, i2r)
	require.NoError(t, err)
	assert.Equal(t, 2.0, d.MADRealToIdeal)
	assert.Equal(t, 4.0, d.MADIdealToReal)
	assert.Equal(t, 3.0, d.BidirectionalMAD)
	assert.Equal(t, 6.0, d.Hausdorff)

	_, err = ComputeBidirectionalDiagnostics(nil, i2r)
	assert.Error(t, err)
}
