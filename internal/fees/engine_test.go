package fees

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sgal-dev/sgal/internal/shared"
)

func TestRateForBrackets(t *testing.T) {
	require.Equal(t, 0.60, RateFor(1_000_000))
	require.Equal(t, 0.60, RateFor(5_000_000))
	require.Equal(t, 0.40, RateFor(10_000_000))
	require.Equal(t, 0.40, RateFor(50_000_000))
	require.Equal(t, 0.18, RateFor(300_000_000))
}

func TestComputeSingleItem(t *testing.T) {
	cases := []struct {
		name    string
		base    float64
		total   float64
		floored bool
	}{
		{"mid first bracket", 1_000_000, 6_000, false},
		{"below floor", 100_000, 2_000, true},
		{"second bracket", 10_000_000, 40_000, false},
		{"top bracket", 300_000_000, 540_000, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q, err := Compute([]Item{{BaseValue: tc.base}})
			require.NoError(t, err)
			require.InDelta(t, tc.total, q.Total, 0.001)
			require.Equal(t, tc.floored, q.FloorApplied)
		})
	}
}

func TestComputeFloorAppliedOnceToAggregate(t *testing.T) {
	// Two items of 100,000 each: raw fees 600 + 600 = 1,200, floored to
	// 2,000 once - not 2,000 per item.
	q, err := Compute([]Item{{BaseValue: 100_000}, {BaseValue: 100_000}})
	require.NoError(t, err)
	require.InDelta(t, 1_200, q.Subtotal, 0.001)
	require.InDelta(t, 2_000, q.Total, 0.001)
	require.True(t, q.FloorApplied)
}

func TestComputeCustomRateOverridesBracket(t *testing.T) {
	rate := 1.5
	q, err := Compute([]Item{{BaseValue: 300_000_000, CustomRate: &rate}})
	require.NoError(t, err)
	require.True(t, q.Lines[0].Overridden)
	require.InDelta(t, 4_500_000, q.Total, 0.001)
}

func TestComputeMonotonic(t *testing.T) {
	prev := 0.0
	for _, base := range []float64{50_000, 500_000, 5_000_000, 9_000_000, 60_000_000, 400_000_000} {
		q, err := Compute([]Item{{BaseValue: base}})
		require.NoError(t, err)
		require.GreaterOrEqual(t, q.Total, prev, "fee must not decrease as value grows (base %v)", base)
		prev = q.Total
	}
}

func TestComputeValidation(t *testing.T) {
	_, err := Compute(nil)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = Compute([]Item{{BaseValue: -1}})
	require.ErrorIs(t, err, shared.ErrValidation)
}
