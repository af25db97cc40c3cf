package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"krakenBot/internal/domain"
	"krakenBot/internal/ports"
)

// InstanceConfig describes one strategy instance from the strategy file.
type InstanceConfig struct {
	ID           string             `mapstructure:"id"`
	Strategy     string             `mapstructure:"strategy"`
	Pairs        []string           `mapstructure:"pairs"`
	Params       map[string]float64 `mapstructure:"params"`
	BoundsPolicy string             `mapstructure:"boundsPolicy"`
	RiskFraction float64            `mapstructure:"riskFraction"` // 0 uses RISK_FRACTION
	CancelOnStop bool               `mapstructure:"cancelOnStop"`
}

type instancesFile struct {
	Instances []InstanceConfig `mapstructure:"instances"`
}

// LoadInstances reads the strategy instance file (YAML, JSON or TOML by
// extension). Example:
//
//	instances:
//	  - id: btc-cross
//	    strategy: ma_crossover
//	    pairs: [XBTUSD]
//	    params: {fastPeriod: 8, slowPeriod: 21}
//	    boundsPolicy: clamp
func LoadInstances(path string) ([]InstanceConfig, error) {
	op := "LoadInstances"
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, ports.NewConfigurationError(op, fmt.Errorf("reading strategy file %s: %w", path, err))
	}

	var file instancesFile
	if err := v.Unmarshal(&file); err != nil {
		return nil, ports.NewConfigurationError(op, fmt.Errorf("decoding strategy file %s: %w", path, err))
	}
	if len(file.Instances) == 0 {
		return nil, ports.NewConfigurationError(op, fmt.Errorf("strategy file %s defines no instances", path))
	}

	var errs []string
	seen := make(map[string]bool, len(file.Instances))
	for i, inst := range file.Instances {
		switch {
		case inst.ID == "":
			errs = append(errs, fmt.Sprintf("instance %d: id must be set", i))
		case seen[inst.ID]:
			errs = append(errs, fmt.Sprintf("instance %q: duplicate id", inst.ID))
		}
		seen[inst.ID] = true
		if inst.Strategy == "" {
			errs = append(errs, fmt.Sprintf("instance %q: strategy must be set", inst.ID))
		}
		if len(inst.Pairs) == 0 {
			errs = append(errs, fmt.Sprintf("instance %q: at least one pair is required", inst.ID))
		}
		if _, err := domain.ParseBoundsPolicy(inst.BoundsPolicy); err != nil {
			errs = append(errs, fmt.Sprintf("instance %q: %v", inst.ID, err))
		}
		if inst.RiskFraction < 0 || inst.RiskFraction > 1 {
			errs = append(errs, fmt.Sprintf("instance %q: riskFraction must be in [0, 1]", inst.ID))
		}
	}
	if len(errs) > 0 {
		return nil, ports.NewConfigurationError(op, errors.New(strings.Join(errs, "; ")))
	}
	return file.Instances, nil
}

// ParamsFor returns the instance params keyed by the names the strategy
// declares. The file loader folds keys to lower case, so names are matched
// case-insensitively; names the strategy does not declare are kept as-is and
// rejected later by parameter resolution.
func (i InstanceConfig) ParamsFor(specs map[string]domain.ParamSpec) map[string]float64 {
	canonical := make(map[string]string, len(specs))
	for name := range specs {
		canonical[strings.ToLower(name)] = name
	}
	out := make(map[string]float64, len(i.Params))
	for name, value := range i.Params {
		if c, ok := canonical[strings.ToLower(name)]; ok {
			name = c
		}
		out[name] = value
	}
	return out
}
