package indicators

import (
	"testing"

	"github.com/markcheno/go-talib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRSI_Update(t *testing.T) {
	tests := []struct {
		name          string
		period        int
		prices        []float64
		expectedValue float64
		expectReady   bool
	}{
		{
			name:          "RSI with sufficient data",
			period:        3,
			prices:        []float64{100, 102, 101, 103, 102, 104}, // +2 -1 +2 -1 +2
			expectedValue: 77.272727,
			expectReady:   true,
		},
		{
			name:        "Insufficient data",
			period:      7,
			prices:      []float64{100, 102, 101, 103, 102, 104},
			expectReady: false,
		},
		{
			name:          "Only gains",
			period:        3,
			prices:        []float64{100, 101, 102, 103, 104},
			expectedValue: 100,
			expectReady:   true,
		},
		{
			name:          "Only losses",
			period:        3,
			prices:        []float64{104, 103, 102, 101, 100},
			expectedValue: 0,
			expectReady:   true,
		},
		{
			name:          "No change",
			period:        3,
			prices:        []float64{100, 100, 100, 100, 100},
			expectedValue: 50,
			expectReady:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rsi, err := New(KindRSI, RSIParams{Period: tt.period, Overbought: 70})
			require.NoError(t, err)

			var v float64
			var ok bool
			for _, p := range tt.prices {
				v, ok = rsi.Update(p)
			}
			assert.Equal(t, tt.expectReady, ok)
			if tt.expectReady {
				assert.InDelta(t, tt.expectedValue, v, 1e-6)
			}
		})
	}
}

func TestRSI_FirstValueAfterPeriodPlusOneSamples(t *testing.T) {
	rsi, err := New(KindRSI, RSIParams{Period: 3})
	require.NoError(t, err)
	assert.Equal(t, 4, rsi.Lookback())

	for i, p := range []float64{1, 2, 3} {
		_, ok := rsi.Update(p)
		assert.False(t, ok, "sample %d", i)
	}
	_, ok := rsi.Update(4)
	assert.True(t, ok)
}

func TestRSI_MatchesTalib(t *testing.T) {
	prices := randomWalk(1000, 7)
	want := talib.Rsi(prices, 14)

	rsi, err := New(KindRSI, RSIParams{Period: 14})
	require.NoError(t, err)
	var v float64
	for _, p := range prices {
		v, _ = rsi.Update(p)
	}
	assert.InDelta(t, want[len(want)-1], v, 1e-6)
}

func TestRSI_Levels(t *testing.T) {
	rsi := newRSI(RSIParams{Period: 14})
	assert.True(t, rsi.IsOverbought(70))
	assert.False(t, rsi.IsOverbought(69.9))

	custom := newRSI(RSIParams{Period: 14, Overbought: 80})
	assert.False(t, custom.IsOverbought(75))
	assert.True(t, custom.IsOverbought(80))
}
