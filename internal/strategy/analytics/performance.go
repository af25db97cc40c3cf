package analytics

import (
	"math"
	"sort"
	"time"

	"krakenBot/internal/domain"
)

// Report summarises the closed trades of one or more strategy instances.
type Report struct {
	// Basic Metrics
	Trades         int
	Wins           int
	Losses         int // Trades with PNL <= 0
	WinRate        float64
	NetPNL         float64
	GrossProfit    float64
	GrossLoss      float64 // Positive magnitude
	ProfitFactor   float64 // GrossProfit / GrossLoss; +Inf without losses
	AverageWin     float64
	AverageLoss    float64 // Negative
	Expectancy     float64 // Mean PNL per trade
	StartingEquity float64
	FinalEquity    float64
	Return         float64 // (FinalEquity - StartingEquity) / StartingEquity

	// Advanced Metrics
	MaxDrawdown          float64 // Fraction of the running peak
	MaxDrawdownAbs       float64
	MaxConsecutiveWins   int
	MaxConsecutiveLosses int
	AverageHold          time.Duration
	SharpeRatio          float64 // Mean / stddev of per-trade returns on equity, not annualised

	ByPair      map[string]*PairStats
	ByReason    map[domain.CloseReason]int
	EquityCurve []EquityPoint
}

// PairStats are per-pair totals.
type PairStats struct {
	Trades int
	Wins   int
	NetPNL float64
}

// EquityPoint represents a point on the equity curve
type EquityPoint struct {
	Time     time.Time
	Value    float64
	Drawdown float64
}

// MonthlyPNL is the realised PNL of one calendar month (UTC).
type MonthlyPNL struct {
	Month time.Time
	PNL   float64
}

// Analyze computes a report over trades ordered by exit time. The input slice is
// not modified. A non-positive startingEquity leaves the relative metrics zero.
func Analyze(trades []*domain.Trade, startingEquity float64) *Report {
	r := &Report{
		StartingEquity: startingEquity,
		FinalEquity:    startingEquity,
		ByPair:         make(map[string]*PairStats),
		ByReason:       make(map[domain.CloseReason]int),
	}
	if len(trades) == 0 {
		return r
	}

	ordered := make([]*domain.Trade, 0, len(trades))
	for _, t := range trades {
		if t != nil {
			ordered = append(ordered, t)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ExitTime.Before(ordered[j].ExitTime)
	})

	equity := startingEquity
	peak := startingEquity
	var winStreak, lossStreak int
	var totalHold time.Duration
	returns := make([]float64, 0, len(ordered))

	for _, t := range ordered {
		r.Trades++
		r.NetPNL += t.PNL
		totalHold += t.ExitTime.Sub(t.EntryTime)
		r.ByReason[t.CloseReason]++

		ps, ok := r.ByPair[t.Pair]
		if !ok {
			ps = &PairStats{}
			r.ByPair[t.Pair] = ps
		}
		ps.Trades++
		ps.NetPNL += t.PNL

		if t.PNL > 0 {
			r.Wins++
			ps.Wins++
			r.GrossProfit += t.PNL
			winStreak++
			lossStreak = 0
		} else {
			r.Losses++
			r.GrossLoss -= t.PNL
			lossStreak++
			winStreak = 0
		}
		r.MaxConsecutiveWins = max(r.MaxConsecutiveWins, winStreak)
		r.MaxConsecutiveLosses = max(r.MaxConsecutiveLosses, lossStreak)

		if equity > 0 {
			returns = append(returns, t.PNL/equity)
		}
		equity += t.PNL
		if equity > peak {
			peak = equity
		}
		var dd float64
		if peak > 0 {
			dd = (peak - equity) / peak
		}
		r.MaxDrawdown = math.Max(r.MaxDrawdown, dd)
		r.MaxDrawdownAbs = math.Max(r.MaxDrawdownAbs, peak-equity)
		r.EquityCurve = append(r.EquityCurve, EquityPoint{Time: t.ExitTime, Value: equity, Drawdown: dd})
	}

	r.FinalEquity = equity
	r.WinRate = float64(r.Wins) / float64(r.Trades)
	r.Expectancy = r.NetPNL / float64(r.Trades)
	r.AverageHold = totalHold / time.Duration(r.Trades)
	if r.Wins > 0 {
		r.AverageWin = r.GrossProfit / float64(r.Wins)
	}
	if r.Losses > 0 {
		r.AverageLoss = -r.GrossLoss / float64(r.Losses)
	}
	switch {
	case r.GrossLoss > 0:
		r.ProfitFactor = r.GrossProfit / r.GrossLoss
	case r.GrossProfit > 0:
		r.ProfitFactor = math.Inf(1)
	}
	if startingEquity > 0 {
		r.Return = (r.FinalEquity - startingEquity) / startingEquity
	}
	r.SharpeRatio = sharpe(returns)
	return r
}

func sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var sum float64
	for _, x := range returns {
		sum += x
	}
	mean := sum / float64(len(returns))
	var sq float64
	for _, x := range returns {
		sq += (x - mean) * (x - mean)
	}
	std := math.Sqrt(sq / float64(len(returns)-1))
	if std == 0 {
		return 0
	}
	return mean / std
}

// Monthly returns the realised PNL per calendar month, oldest first.
func Monthly(trades []*domain.Trade) []MonthlyPNL {
	byMonth := make(map[time.Time]float64)
	for _, t := range trades {
		if t == nil {
			continue
		}
		exit := t.ExitTime.UTC()
		month := time.Date(exit.Year(), exit.Month(), 1, 0, 0, 0, 0, time.UTC)
		byMonth[month] += t.PNL
	}
	out := make([]MonthlyPNL, 0, len(byMonth))
	for month, pnl := range byMonth {
		out = append(out, MonthlyPNL{Month: month, PNL: pnl})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month.Before(out[j].Month) })
	return out
}
