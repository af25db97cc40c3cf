package domain

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// ParamType is the declared type of a strategy parameter.
type ParamType string

const (
	ParamInt   ParamType = "int"
	ParamFloat ParamType = "float"
	ParamBool  ParamType = "bool" // 0 or 1
)

// ParamSpec describes one tunable parameter of a strategy.
type ParamSpec struct {
	Type    ParamType
	Default float64
	Min     float64
	Max     float64
}

// BoundsPolicy decides what happens to out-of-range parameter values.
type BoundsPolicy string

const (
	PolicyReject BoundsPolicy = "reject"
	PolicyClamp  BoundsPolicy = "clamp"
)

// ParseBoundsPolicy accepts "reject" (default) or "clamp".
func ParseBoundsPolicy(s string) (BoundsPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(PolicyReject):
		return PolicyReject, nil
	case string(PolicyClamp):
		return PolicyClamp, nil
	default:
		return "", fmt.Errorf("unknown bounds policy %q", s)
	}
}

// StrategyConfig is the immutable description of a strategy variant.
type StrategyConfig struct {
	Name      string
	Timeframe string
	Pairs     []string // Eligible pairs; empty means any pair
	Params    map[string]ParamSpec
}

// SupportsPair reports whether the strategy may trade the pair.
func (c StrategyConfig) SupportsPair(pair string) bool {
	if len(c.Pairs) == 0 {
		return true
	}
	for _, p := range c.Pairs {
		if p == pair {
			return true
		}
	}
	return false
}

// ResolveParams merges the supplied values with defaults and validates every value
// against its bounds. Out-of-range values are rejected or clamped per policy.
func (c StrategyConfig) ResolveParams(values map[string]float64, policy BoundsPolicy) (map[string]float64, error) {
	var errs []string
	for name := range values {
		if _, ok := c.Params[name]; !ok {
			errs = append(errs, fmt.Sprintf("unknown parameter %q", name))
		}
	}

	names := make([]string, 0, len(c.Params))
	for name := range c.Params {
		names = append(names, name)
	}
	sort.Strings(names)

	resolved := make(map[string]float64, len(c.Params))
	for _, name := range names {
		spec := c.Params[name]
		v, ok := values[name]
		if !ok {
			v = spec.Default
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			errs = append(errs, fmt.Sprintf("parameter %q is not a finite number", name))
			continue
		}
		if spec.Type == ParamBool && v != 0 && v != 1 {
			errs = append(errs, fmt.Sprintf("parameter %q must be 0 or 1, got %v", name, v))
			continue
		}
		if spec.Type == ParamInt && v != math.Trunc(v) {
			errs = append(errs, fmt.Sprintf("parameter %q must be an integer, got %v", name, v))
			continue
		}
		if v < spec.Min || v > spec.Max {
			if policy != PolicyClamp {
				errs = append(errs, fmt.Sprintf("parameter %q=%v out of range [%v, %v]", name, v, spec.Min, spec.Max))
				continue
			}
			v = math.Min(math.Max(v, spec.Min), spec.Max)
		}
		resolved[name] = v
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return nil, fmt.Errorf("strategy %s: %s", c.Name, strings.Join(errs, "; "))
	}
	return resolved, nil
}
