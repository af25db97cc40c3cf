package indicators

// resyncEvery bounds floating point drift of the rolling sum.
const resyncEvery = 1024

// SMA is a simple moving average over a rolling window.
type SMA struct {
	period  int
	window  []float64 // ring buffer
	next    int
	count   int
	sum     float64
	updates int
	value   float64
	ready   bool
}

func newSMA(period int) *SMA {
	return &SMA{period: period, window: make([]float64, period)}
}

// Update adds a sample in O(1); the sum is recomputed from the window every resyncEvery updates.
func (s *SMA) Update(price float64) (float64, bool) {
	if s.count == s.period {
		s.sum -= s.window[s.next]
	} else {
		s.count++
	}
	s.window[s.next] = price
	s.next = (s.next + 1) % s.period
	s.sum += price

	s.updates++
	if s.updates%resyncEvery == 0 {
		s.sum = 0
		for _, v := range s.window[:s.count] {
			s.sum += v
		}
	}

	if s.count < s.period {
		return 0, false
	}
	s.value = s.sum / float64(s.period)
	s.ready = true
	return s.value, true
}

func (s *SMA) Value() (float64, bool) { return s.value, s.ready }
func (s *SMA) Lookback() int          { return s.period }

func (s *SMA) Reset() {
	*s = *newSMA(s.period)
}

// EMA is an exponential moving average with multiplier 2/(period+1), seeded
// with the simple average of the first period samples.
type EMA struct {
	period     int
	multiplier float64
	seedSum    float64
	count      int
	value      float64
	ready      bool
}

func newEMA(period int) *EMA {
	return &EMA{period: period, multiplier: 2.0 / float64(period+1)}
}

func (e *EMA) Update(price float64) (float64, bool) {
	if !e.ready {
		e.seedSum += price
		e.count++
		if e.count < e.period {
			return 0, false
		}
		e.value = e.seedSum / float64(e.period)
		e.ready = true
		return e.value, true
	}
	e.value = (price-e.value)*e.multiplier + e.value
	return e.value, true
}

func (e *EMA) Value() (float64, bool) { return e.value, e.ready }
func (e *EMA) Lookback() int          { return e.period }

func (e *EMA) Reset() {
	*e = *newEMA(e.period)
}
