package indicators

import (
	"math/rand"
	"testing"

	"github.com/markcheno/go-talib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomWalk(n int, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	prices := make([]float64, n)
	p := 30000.0
	for i := range prices {
		p += rng.NormFloat64() * 50
		prices[i] = p
	}
	return prices
}

func TestSMA_Update(t *testing.T) {
	sma, err := New(KindSMA, SMAParams{Period: 3})
	require.NoError(t, err)

	prices := []float64{100, 102, 101, 103, 104}
	var got []float64
	for i, p := range prices {
		v, ok := sma.Update(p)
		if i < 2 {
			assert.False(t, ok, "sample %d should be warming up", i)
			continue
		}
		require.True(t, ok)
		got = append(got, v)
	}
	assert.InDeltaSlice(t, []float64{101, 102, 102.666667}, got, 1e-6)
}

func TestEMA_Update(t *testing.T) {
	ema, err := New(KindEMA, EMAParams{Period: 3})
	require.NoError(t, err)

	var v float64
	var ok bool
	for _, p := range []float64{100, 102, 101, 103, 104} {
		v, ok = ema.Update(p)
	}
	require.True(t, ok)
	assert.InDelta(t, 103.0, v, 1e-9) // seed 101, then 102, then 103
}

func TestMovingAverages_MatchTalib(t *testing.T) {
	prices := randomWalk(5000, 42)

	for _, period := range []int{1, 2, 5, 21, 200} {
		smaWant := talib.Sma(prices, period)
		emaWant := talib.Ema(prices, period)

		sma, err := New(KindSMA, SMAParams{Period: period})
		require.NoError(t, err)
		ema, err := New(KindEMA, EMAParams{Period: period})
		require.NoError(t, err)

		for i, p := range prices {
			sv, sok := sma.Update(p)
			ev, eok := ema.Update(p)
			if i < period-1 {
				require.False(t, sok)
				require.False(t, eok)
				continue
			}
			require.True(t, sok)
			require.True(t, eok)
			require.InDelta(t, smaWant[i], sv, 1e-6, "SMA(%d) at %d", period, i)
			require.InDelta(t, emaWant[i], ev, 1e-6, "EMA(%d) at %d", period, i)
		}
	}
}

func TestSMA_ResyncBoundsDrift(t *testing.T) {
	sma := newSMA(3)
	// Large then tiny magnitudes would leave residue in a naive rolling sum.
	for i := 0; i < resyncEvery; i++ {
		sma.Update(1e12 + float64(i))
	}
	var v float64
	for i := 0; i < resyncEvery; i++ {
		v, _ = sma.Update(0.1)
	}
	assert.InDelta(t, 0.1, v, 1e-9)
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name   string
		kind   Kind
		params Params
	}{
		{name: "unknown kind", kind: "MACD", params: SMAParams{Period: 3}},
		{name: "nil params", kind: KindSMA, params: nil},
		{name: "mismatched params", kind: KindSMA, params: EMAParams{Period: 3}},
		{name: "zero SMA period", kind: KindSMA, params: SMAParams{Period: 0}},
		{name: "negative EMA period", kind: KindEMA, params: EMAParams{Period: -1}},
		{name: "RSI period too small", kind: KindRSI, params: RSIParams{Period: 1}},
		{name: "RSI overbought below midline", kind: KindRSI, params: RSIParams{Period: 14, Overbought: 40}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.kind, tt.params)
			assert.Error(t, err)
		})
	}
}

func TestIndicators_Reset(t *testing.T) {
	for _, kind := range []Kind{KindSMA, KindEMA} {
		var params Params = SMAParams{Period: 2}
		if kind == KindEMA {
			params = EMAParams{Period: 2}
		}
		ind, err := New(kind, params)
		require.NoError(t, err)
		ind.Update(1)
		ind.Update(2)
		ind.Reset()
		_, ok := ind.Value()
		assert.False(t, ok, kind)
		_, ok = ind.Update(5)
		assert.False(t, ok, kind)
	}
}
