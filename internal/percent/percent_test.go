package percent

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddSub(t *testing.T) {
	testCases := []struct {
		name    string
		value   float64
		percent float64
		add     float64
		sub     float64
	}{
		{name: "Zero percent", value: 100, percent: 0, add: 100, sub: 100},
		{name: "Two percent", value: 100, percent: 2, add: 102, sub: 98},
		{name: "Fee sized", value: 30000, percent: 0.5, add: 30150, sub: 29850},
		{name: "Zero value", value: 0, percent: 10, add: 0, sub: 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.add, Add(tc.value, tc.percent), 1e-9)
			assert.InDelta(t, tc.sub, Sub(tc.value, tc.percent), 1e-9)
		})
	}
}

func TestSubOfAddRoundTrip(t *testing.T) {
	// Sub(Add(v, p), p) == v * (1 - (p/100)^2): exact for p == 0 and within
	// a relative p^2/10^4 otherwise.
	for _, v := range []float64{0, 0.0001, 1, 99.5, 30000, 1e9} {
		for _, p := range []float64{0, 0.1, 0.5, 1, 2, 5} {
			got := Sub(Add(v, p), p)
			tolerance := v*(p*p)/10000 + 1e-9*math.Max(1, v)
			assert.InDeltaf(t, v, got, tolerance, "v=%v p=%v", v, p)
			assert.LessOrEqualf(t, got, v+1e-9*math.Max(1, v), "v=%v p=%v", v, p)
		}
	}
}

func TestThresholdExamples(t *testing.T) {
	// Sell margin: 102 less 2% is 99.96, below a 100 basis.
	assert.Less(t, Sub(102, 2), 100.0)
	// 105 less 2% is 102.9, above a 100 basis.
	assert.GreaterOrEqual(t, Sub(105, 2), 100.0)
	// A pullback to 103.9 is at least 1% under a 105 peak.
	assert.GreaterOrEqual(t, Sub(105, 1), 103.9)
	// Re-buy: 100 plus 3% is reached at 103 but not at 102.
	assert.LessOrEqual(t, Add(100, 3), 103.0+1e-9)
	assert.Greater(t, Add(100, 3), 102.0)
}
