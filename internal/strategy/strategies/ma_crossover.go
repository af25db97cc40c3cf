package strategies

import (
	"context"
	"fmt"

	"krakenBot/internal/domain"
	"krakenBot/internal/ports"
	"krakenBot/internal/strategy/indicators"
)

// MACrossoverName is the registry name of the moving-average crossover strategy.
const MACrossoverName = "ma_crossover"

const (
	fastIndicator = "fast"
	slowIndicator = "slow"
	rsiIndicator  = "rsi"
)

// MACrossoverSchema declares the tunable parameters of the crossover strategy.
var MACrossoverSchema = map[string]domain.ParamSpec{
	"fastPeriod":    {Type: domain.ParamInt, Default: 8, Min: 1, Max: 200},
	"slowPeriod":    {Type: domain.ParamInt, Default: 21, Min: 2, Max: 500},
	"useEMA":        {Type: domain.ParamBool, Default: 0, Min: 0, Max: 1},
	"stopLossPct":   {Type: domain.ParamFloat, Default: 0.02, Min: 0.001, Max: 0.5},
	"takeProfitPct": {Type: domain.ParamFloat, Default: 0.04, Min: 0, Max: 5}, // 0 disables
	"rsiPeriod":     {Type: domain.ParamInt, Default: 0, Min: 0, Max: 100},    // 0 disables the overbought filter
	"rsiOverbought": {Type: domain.ParamFloat, Default: 70, Min: 55, Max: 100},
}

// MACrossover enters long when the fast average strictly crosses above the slow
// one and exits on the symmetric downward cross or when a stop level is touched.
// With rsiPeriod set, upward crosses are ignored while the RSI is overbought.
type MACrossover struct {
	*BaseStrategy
	stopLossPct   float64
	takeProfitPct float64
}

// NewMACrossover creates a crossover strategy trading the given pairs.
func NewMACrossover(logger ports.Logger, pairs []string) (*MACrossover, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for strategy")
	}
	schema := make(map[string]domain.ParamSpec, len(MACrossoverSchema))
	for name, spec := range MACrossoverSchema {
		schema[name] = spec
	}
	cfg := domain.StrategyConfig{
		Name:      MACrossoverName,
		Timeframe: "tick",
		Pairs:     append([]string(nil), pairs...),
		Params:    schema,
	}
	return &MACrossover{BaseStrategy: NewBaseStrategy(logger, cfg)}, nil
}

// OnInit registers the two averages. Params must already be resolved against the schema.
func (s *MACrossover) OnInit(params map[string]float64, engine *indicators.Engine) error {
	fast, slow := int(params["fastPeriod"]), int(params["slowPeriod"])
	if fast >= slow {
		return fmt.Errorf("%s: fastPeriod (%d) must be less than slowPeriod (%d)", MACrossoverName, fast, slow)
	}
	s.stopLossPct = params["stopLossPct"]
	s.takeProfitPct = params["takeProfitPct"]

	var fastParams, slowParams indicators.Params = indicators.SMAParams{Period: fast}, indicators.SMAParams{Period: slow}
	kind := indicators.KindSMA
	if params["useEMA"] == 1 {
		kind = indicators.KindEMA
		fastParams, slowParams = indicators.EMAParams{Period: fast}, indicators.EMAParams{Period: slow}
	}
	if err := engine.AddIndicator(fastIndicator, kind, fastParams); err != nil {
		return err
	}
	if err := engine.AddIndicator(slowIndicator, kind, slowParams); err != nil {
		return err
	}
	if period := int(params["rsiPeriod"]); period > 0 {
		return engine.AddIndicator(rsiIndicator, indicators.KindRSI, indicators.RSIParams{Period: period, Overbought: params["rsiOverbought"]})
	}
	return nil
}

// overbought reports whether the optional RSI filter currently blocks entries.
func overbought(engine *indicators.Engine) (float64, bool) {
	ind, ok := engine.Indicator(rsiIndicator)
	if !ok {
		return 0, false
	}
	rsi, ok := ind.(*indicators.RSI)
	if !ok {
		return 0, false
	}
	v, ready := rsi.Value()
	return v, ready && rsi.IsOverbought(v)
}

type cross int

const (
	crossNone cross = iota
	crossUp
	crossDown
)

// detectCross compares the last two samples of both averages. Equality on the
// current sample never counts as a cross.
func detectCross(engine *indicators.Engine) cross {
	fast, ok1 := engine.Current(fastIndicator)
	slow, ok2 := engine.Current(slowIndicator)
	prevFast, ok3 := engine.Previous(fastIndicator)
	prevSlow, ok4 := engine.Previous(slowIndicator)
	if !(ok1 && ok2 && ok3 && ok4) {
		return crossNone
	}
	switch {
	case prevFast <= prevSlow && fast > slow:
		return crossUp
	case prevFast >= prevSlow && fast < slow:
		return crossDown
	default:
		return crossNone
	}
}

func (s *MACrossover) OnTick(ctx context.Context, in TickInput) (Decision, error) {
	price := in.Tick.Price
	c := detectCross(in.Indicators)

	if pos := in.Position; pos != nil {
		if pos.Side != domain.Long {
			return Hold, nil
		}
		switch {
		case pos.StopLoss > 0 && price <= pos.StopLoss:
			return Decision{Signal: SignalExit, CloseReason: domain.CloseReasonStopLoss, Reason: fmt.Sprintf("price %v touched stop-loss %v", price, pos.StopLoss)}, nil
		case pos.TakeProfit > 0 && price >= pos.TakeProfit:
			return Decision{Signal: SignalExit, CloseReason: domain.CloseReasonTakeProfit, Reason: fmt.Sprintf("price %v touched take-profit %v", price, pos.TakeProfit)}, nil
		case c == crossDown:
			return Decision{Signal: SignalExit, CloseReason: domain.CloseReasonSignal, Reason: "fast MA crossed below slow MA"}, nil
		}
		return Hold, nil
	}

	if c != crossUp {
		return Hold, nil
	}
	if v, blocked := overbought(in.Indicators); blocked {
		s.logger.Debug(ctx, MACrossoverName+": entry skipped, RSI overbought", map[string]interface{}{"pair": in.Tick.Pair, "price": price, "rsi": v})
		return Hold, nil
	}
	d := Decision{
		Signal:   SignalEnter,
		Side:     domain.Buy,
		StopLoss: price * (1 - s.stopLossPct),
		Reason:   "fast MA crossed above slow MA",
	}
	if s.takeProfitPct > 0 {
		d.TakeProfit = price * (1 + s.takeProfitPct)
	}
	s.logger.Debug(ctx, MACrossoverName+": entry signal", map[string]interface{}{"pair": in.Tick.Pair, "price": price, "stopLoss": d.StopLoss})
	return d, nil
}
