package indicators

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func crossEngine(t *testing.T) *Engine {
	t.Helper()
	e := NewEngine()
	require.NoError(t, e.AddIndicator("fast", KindSMA, SMAParams{Period: 2}))
	require.NoError(t, e.AddIndicator("slow", KindSMA, SMAParams{Period: 5}))
	return e
}

// crossings returns the indices at which fast strictly crosses above or below slow.
func crossings(t *testing.T, e *Engine, prices []float64) (ups, downs []int) {
	t.Helper()
	for i, p := range prices {
		_, err := e.Update(p)
		require.NoError(t, err)

		fast, ok1 := e.Current("fast")
		slow, ok2 := e.Current("slow")
		prevFast, ok3 := e.Previous("fast")
		prevSlow, ok4 := e.Previous("slow")
		if !(ok1 && ok2 && ok3 && ok4) {
			continue
		}
		if prevFast <= prevSlow && fast > slow {
			ups = append(ups, i)
		}
		if prevFast >= prevSlow && fast < slow {
			downs = append(downs, i)
		}
	}
	return ups, downs
}

func TestEngine_StepSeriesCrossesExactlyOnce(t *testing.T) {
	prices := []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2}

	ups, downs := crossings(t, crossEngine(t), prices)
	assert.Equal(t, []int{10}, ups)
	assert.Empty(t, downs)
}

func TestEngine_UpdateReturnsReadyValues(t *testing.T) {
	e := crossEngine(t)

	ready, err := e.Update(1)
	require.NoError(t, err)
	assert.Empty(t, ready)

	ready, err = e.Update(3)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"fast": 2}, ready)

	_, ok := e.Value("slow")
	assert.False(t, ok, "insufficient data")
	_, ok = e.Value("missing")
	assert.False(t, ok)
}

func TestEngine_AddIndicatorValidation(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.AddIndicator("rsi", KindRSI, RSIParams{Period: 14}))

	assert.Error(t, e.AddIndicator("rsi", KindSMA, SMAParams{Period: 3}), "duplicate name")
	assert.Error(t, e.AddIndicator("", KindSMA, SMAParams{Period: 3}))
	assert.Error(t, e.AddIndicator("bad", KindSMA, RSIParams{Period: 14}))
	assert.Error(t, e.AddIndicator("zero", KindEMA, EMAParams{Period: 0}))
	assert.Equal(t, []string{"rsi"}, e.Names())
}

func TestEngine_RejectsNonFinitePrice(t *testing.T) {
	e := crossEngine(t)
	_, err := e.Update(math.NaN())
	assert.Error(t, err)
	_, err = e.Update(math.Inf(1))
	assert.Error(t, err)
}

func TestEngine_SeriesRetentionBounded(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.AddIndicator("fast", KindSMA, SMAParams{Period: 2}))
	require.NoError(t, e.AddIndicator("slow", KindEMA, EMAParams{Period: 30}))
	assert.Equal(t, 30, e.Retention())

	for i := 0; i < 1000; i++ {
		_, err := e.Update(float64(i))
		require.NoError(t, err)
	}

	s, ok := e.Series("fast")
	require.True(t, ok)
	assert.Equal(t, 30, s.Len(), "series registered before a longer lookback grows with it")
	values := s.Values()
	assert.Equal(t, 998.5, values[len(values)-1])
	assert.Equal(t, 969.5, values[0])

	prev, ok := e.Previous("fast")
	require.True(t, ok)
	assert.Equal(t, 997.5, prev)
}

func TestSeries_AppendAndLast(t *testing.T) {
	s := NewSeries(1)
	assert.Equal(t, 2, s.Retention(), "at least current and previous are retained")

	_, ok := s.Last(0)
	assert.False(t, ok)

	for i := 1; i <= 7; i++ {
		s.Append(float64(i))
	}
	assert.Equal(t, 2, s.Len())
	cur, _ := s.Last(0)
	prev, _ := s.Last(1)
	assert.Equal(t, 7.0, cur)
	assert.Equal(t, 6.0, prev)
	_, ok = s.Last(2)
	assert.False(t, ok)
	assert.Equal(t, []float64{6, 7}, s.Values())
}

func TestEngine_CloneIsIndependent(t *testing.T) {
	e := crossEngine(t)
	for _, p := range []float64{1, 2, 3, 4, 5} {
		_, err := e.Update(p)
		require.NoError(t, err)
	}

	c := e.Clone()
	assert.Equal(t, e.Names(), c.Names())
	assert.Equal(t, e.Retention(), c.Retention())
	_, ok := c.Current("slow")
	assert.False(t, ok, "clone starts without samples")

	_, err := c.Update(100)
	require.NoError(t, err)
	fast, _ := e.Current("fast")
	assert.Equal(t, 4.5, fast, "original unaffected by clone updates")
}

func TestEngine_Reset(t *testing.T) {
	e := crossEngine(t)
	for _, p := range []float64{1, 2, 3, 4, 5} {
		_, err := e.Update(p)
		require.NoError(t, err)
	}
	e.Reset()
	_, ok := e.Current("fast")
	assert.False(t, ok)
	_, ok = e.Indicator("fast")
	assert.True(t, ok)
}
