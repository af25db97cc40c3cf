package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStrategyConfig() StrategyConfig {
	return StrategyConfig{
		Name:      "ma_crossover",
		Timeframe: "1m",
		Pairs:     []string{"XBTUSD", "ETHUSD"},
		Params: map[string]ParamSpec{
			"fastPeriod":  {Type: ParamInt, Default: 8, Min: 1, Max: 200},
			"useEMA":      {Type: ParamBool, Default: 0, Min: 0, Max: 1},
			"stopLossPct": {Type: ParamFloat, Default: 0.02, Min: 0.001, Max: 0.5},
		},
	}
}

func TestStrategyConfig_ResolveParams(t *testing.T) {
	cfg := testStrategyConfig()

	tests := []struct {
		name      string
		values    map[string]float64
		policy    BoundsPolicy
		want      map[string]float64
		errSubstr string
	}{
		{
			name:   "defaults fill missing values",
			values: nil,
			policy: PolicyReject,
			want:   map[string]float64{"fastPeriod": 8, "useEMA": 0, "stopLossPct": 0.02},
		},
		{
			name:   "supplied values override defaults",
			values: map[string]float64{"fastPeriod": 5, "useEMA": 1},
			policy: PolicyReject,
			want:   map[string]float64{"fastPeriod": 5, "useEMA": 1, "stopLossPct": 0.02},
		},
		{
			name:      "out of range rejected",
			values:    map[string]float64{"fastPeriod": 500},
			policy:    PolicyReject,
			errSubstr: `parameter "fastPeriod"=500 out of range [1, 200]`,
		},
		{
			name:   "out of range clamped",
			values: map[string]float64{"fastPeriod": 500, "stopLossPct": 0},
			policy: PolicyClamp,
			want:   map[string]float64{"fastPeriod": 200, "useEMA": 0, "stopLossPct": 0.001},
		},
		{
			name:      "unknown parameter",
			values:    map[string]float64{"slowPeriod": 21},
			policy:    PolicyClamp,
			errSubstr: `unknown parameter "slowPeriod"`,
		},
		{
			name:      "fractional int",
			values:    map[string]float64{"fastPeriod": 2.5},
			policy:    PolicyReject,
			errSubstr: "must be an integer",
		},
		{
			name:      "bool outside 0/1",
			values:    map[string]float64{"useEMA": 2},
			policy:    PolicyClamp,
			errSubstr: "must be 0 or 1",
		},
		{
			name:      "NaN",
			values:    map[string]float64{"stopLossPct": math.NaN()},
			policy:    PolicyClamp,
			errSubstr: "not a finite number",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cfg.ResolveParams(tt.values, tt.policy)
			if tt.errSubstr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errSubstr)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStrategyConfig_SupportsPair(t *testing.T) {
	cfg := testStrategyConfig()
	assert.True(t, cfg.SupportsPair("XBTUSD"))
	assert.False(t, cfg.SupportsPair("SOLUSD"))

	cfg.Pairs = nil
	assert.True(t, cfg.SupportsPair("SOLUSD"))
}

func TestParseBoundsPolicy(t *testing.T) {
	p, err := ParseBoundsPolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyReject, p)

	p, err = ParseBoundsPolicy(" Clamp ")
	require.NoError(t, err)
	assert.Equal(t, PolicyClamp, p)

	_, err = ParseBoundsPolicy("ignore")
	assert.Error(t, err)
}
