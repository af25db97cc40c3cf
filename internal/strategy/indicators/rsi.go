package indicators

// RSI implements the Relative Strength Index using Wilder's smoothing.
type RSI struct {
	period     int
	overbought float64

	prev    float64
	samples int
	avgGain float64
	avgLoss float64
	value   float64
	ready   bool
}

func newRSI(p RSIParams) *RSI {
	return &RSI{period: p.Period, overbought: p.overbought()}
}

// Update consumes one price. The first value is available after period+1 samples.
func (r *RSI) Update(price float64) (float64, bool) {
	r.samples++
	if r.samples == 1 {
		r.prev = price
		return 0, false
	}

	change := price - r.prev
	r.prev = price
	gain, loss := 0.0, 0.0
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}

	n := float64(r.period)
	switch {
	case r.samples <= r.period:
		r.avgGain += gain
		r.avgLoss += loss
		return 0, false
	case r.samples == r.period+1:
		r.avgGain = (r.avgGain + gain) / n
		r.avgLoss = (r.avgLoss + loss) / n
	default:
		r.avgGain = (r.avgGain*(n-1) + gain) / n
		r.avgLoss = (r.avgLoss*(n-1) + loss) / n
	}

	r.value = rsiFromAverages(r.avgGain, r.avgLoss)
	r.ready = true
	return r.value, true
}

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50 // Neutral if no change
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

func (r *RSI) Value() (float64, bool) { return r.value, r.ready }
func (r *RSI) Lookback() int          { return r.period + 1 }

func (r *RSI) Reset() {
	*r = *newRSI(RSIParams{Period: r.period, Overbought: r.overbought})
}

// IsOverbought checks if the RSI value indicates an overbought condition
func (r *RSI) IsOverbought(value float64) bool {
	return value >= r.overbought
}
