package indicators

import (
	"fmt"
)

type entry struct {
	name      string
	kind      Kind
	params    Params
	indicator Indicator
	series    *Series
}

// Engine maintains named indicators fed from one price stream. It is owned by
// a single strategy instance and is not safe for concurrent use.
type Engine struct {
	entries   []*entry
	byName    map[string]*entry
	retention int
}

// NewEngine creates an empty engine.
func NewEngine() *Engine {
	return &Engine{byName: make(map[string]*entry), retention: 2}
}

// AddIndicator registers a named indicator. Params are validated against kind
// here so that a misconfigured strategy fails at initialisation.
func (e *Engine) AddIndicator(name string, kind Kind, params Params) error {
	if name == "" {
		return fmt.Errorf("indicator name is required")
	}
	if _, exists := e.byName[name]; exists {
		return fmt.Errorf("indicator %q already registered", name)
	}
	ind, err := New(kind, params)
	if err != nil {
		return fmt.Errorf("indicator %q: %w", name, err)
	}

	if lb := ind.Lookback(); lb > e.retention {
		e.retention = lb
		for _, en := range e.entries {
			en.series.grow(lb)
		}
	}
	en := &entry{name: name, kind: kind, params: params, indicator: ind, series: NewSeries(e.retention)}
	e.entries = append(e.entries, en)
	e.byName[name] = en
	return nil
}

// Update feeds one price to every indicator and returns the values that are
// ready after this sample, keyed by indicator name.
func (e *Engine) Update(price float64) (map[string]float64, error) {
	if !finite(price) {
		return nil, fmt.Errorf("price must be a finite number, got %v", price)
	}
	ready := make(map[string]float64, len(e.entries))
	for _, en := range e.entries {
		if v, ok := en.indicator.Update(price); ok {
			en.series.Append(v)
			ready[en.name] = v
		}
	}
	return ready, nil
}

// Value returns the latest value of an indicator; false means insufficient data
// or an unknown name.
func (e *Engine) Value(name string) (float64, bool) {
	return e.Current(name)
}

// Current returns the newest value of the indicator series.
func (e *Engine) Current(name string) (float64, bool) {
	en, ok := e.byName[name]
	if !ok {
		return 0, false
	}
	return en.series.Last(0)
}

// Previous returns the value before the newest one.
func (e *Engine) Previous(name string) (float64, bool) {
	en, ok := e.byName[name]
	if !ok {
		return 0, false
	}
	return en.series.Last(1)
}

// Series returns the bounded value history of an indicator.
func (e *Engine) Series(name string) (*Series, bool) {
	en, ok := e.byName[name]
	if !ok {
		return nil, false
	}
	return en.series, true
}

// Indicator returns the underlying computation of a named indicator.
func (e *Engine) Indicator(name string) (Indicator, bool) {
	en, ok := e.byName[name]
	if !ok {
		return nil, false
	}
	return en.indicator, true
}

// Names lists the registered indicators in registration order.
func (e *Engine) Names() []string {
	names := make([]string, len(e.entries))
	for i, en := range e.entries {
		names[i] = en.name
	}
	return names
}

// Retention is the series window shared by all indicators.
func (e *Engine) Retention() int {
	return e.retention
}

// Clone returns an engine with the same registrations and no samples.
func (e *Engine) Clone() *Engine {
	c := NewEngine()
	c.retention = e.retention
	for _, en := range e.entries {
		// Registrations were validated when first added.
		cloned := &entry{
			name:      en.name,
			kind:      en.kind,
			params:    en.params,
			indicator: registry[en.kind](en.params),
			series:    NewSeries(e.retention),
		}
		c.entries = append(c.entries, cloned)
		c.byName[en.name] = cloned
	}
	return c
}

// Reset discards every sample while keeping the registrations.
func (e *Engine) Reset() {
	for _, en := range e.entries {
		en.indicator.Reset()
		en.series = NewSeries(e.retention)
	}
}
