package indicators

import (
	"fmt"
	"math"
)

// Kind identifies an indicator computation.
type Kind string

const (
	KindSMA Kind = "SMA"
	KindEMA Kind = "EMA"
	KindRSI Kind = "RSI"
)

// Params is the typed parameter set of one indicator kind.
type Params interface {
	// Kind returns the indicator kind the params belong to.
	Kind() Kind
	// Validate checks the params before the indicator is built.
	Validate() error
	// Lookback is the number of samples needed before the first value.
	Lookback() int
}

// Indicator is an incremental computation fed one price per update.
type Indicator interface {
	// Update consumes one sample and returns the new value once enough samples exist.
	Update(price float64) (float64, bool)
	// Value returns the latest value, false while warming up.
	Value() (float64, bool)
	// Lookback is the number of samples needed before the first value.
	Lookback() int
	// Reset discards all consumed samples.
	Reset()
}

// SMAParams configures a simple moving average.
type SMAParams struct {
	Period int
}

func (p SMAParams) Kind() Kind    { return KindSMA }
func (p SMAParams) Lookback() int { return p.Period }
func (p SMAParams) Validate() error {
	if p.Period < 1 {
		return fmt.Errorf("SMA period must be >= 1, got %d", p.Period)
	}
	return nil
}

// EMAParams configures an exponential moving average seeded with the SMA of the first Period samples.
type EMAParams struct {
	Period int
}

func (p EMAParams) Kind() Kind    { return KindEMA }
func (p EMAParams) Lookback() int { return p.Period }
func (p EMAParams) Validate() error {
	if p.Period < 1 {
		return fmt.Errorf("EMA period must be >= 1, got %d", p.Period)
	}
	return nil
}

// RSIParams configures a Wilder relative strength index.
type RSIParams struct {
	Period     int
	Overbought float64 // Defaults to 70
}

func (p RSIParams) Kind() Kind    { return KindRSI }
func (p RSIParams) Lookback() int { return p.Period + 1 }
func (p RSIParams) Validate() error {
	if p.Period < 2 {
		return fmt.Errorf("RSI period must be >= 2, got %d", p.Period)
	}
	if ob := p.overbought(); !(ob > 50 && ob <= 100) {
		return fmt.Errorf("RSI overbought level must be in (50, 100], got %v", ob)
	}
	return nil
}

func (p RSIParams) overbought() float64 {
	if p.Overbought == 0 {
		return 70
	}
	return p.Overbought
}

type constructor func(Params) Indicator

// registry maps every supported kind to its constructor.
var registry = map[Kind]constructor{
	KindSMA: func(p Params) Indicator { return newSMA(p.(SMAParams).Period) },
	KindEMA: func(p Params) Indicator { return newEMA(p.(EMAParams).Period) },
	KindRSI: func(p Params) Indicator { return newRSI(p.(RSIParams)) },
}

// New builds an indicator after checking that params match kind and are valid.
func New(kind Kind, params Params) (Indicator, error) {
	ctor, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("unknown indicator kind %q", kind)
	}
	if params == nil {
		return nil, fmt.Errorf("%s: params are required", kind)
	}
	if params.Kind() != kind {
		return nil, fmt.Errorf("%s: params of kind %s do not match", kind, params.Kind())
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return ctor(params), nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
