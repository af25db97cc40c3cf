package strategies

import (
	"context"
	"fmt"
	"sort"

	"krakenBot/internal/domain"
	"krakenBot/internal/ports"
	"krakenBot/internal/strategy/indicators"
)

// Signal is the action a strategy asks for on a tick.
type Signal int

const (
	SignalNone Signal = iota
	SignalEnter
	SignalExit
)

func (s Signal) String() string {
	switch s {
	case SignalEnter:
		return "ENTER"
	case SignalExit:
		return "EXIT"
	default:
		return "NONE"
	}
}

// Decision is the outcome of one OnTick call.
type Decision struct {
	Signal      Signal
	Side        domain.OrderSide   // Entry side
	StopLoss    float64            // Entry stop price; drives position sizing
	TakeProfit  float64            // Zero disables take-profit
	LimitPrice  float64            // Entry limit price; zero enters at market
	CloseReason domain.CloseReason // Set on exits
	Reason      string
}

// Hold is the decision to do nothing.
var Hold = Decision{Signal: SignalNone}

// TickInput is what a strategy sees on each tick of one pair.
type TickInput struct {
	Tick       domain.MarketContext
	Indicators *indicators.Engine // Already updated with Tick.Price
	Position   *domain.Position   // Nil when flat
}

// Strategy is the capability set every concrete strategy implements.
type Strategy interface {
	// Name returns the registered name of the strategy
	Name() string
	// Config returns the schema and eligible pairs of the strategy.
	Config() domain.StrategyConfig
	// OnInit receives the resolved parameters and registers indicators on engine.
	OnInit(params map[string]float64, engine *indicators.Engine) error
	// OnTick decides what to do after the indicators were fed the tick price.
	OnTick(ctx context.Context, in TickInput) (Decision, error)
	OnOrderUpdate(ctx context.Context, order *domain.Order)
	OnPositionUpdate(ctx context.Context, position *domain.Position, closed bool)
	OnError(ctx context.Context, err error)
}

// BaseStrategy provides common functionality for strategies
type BaseStrategy struct {
	logger ports.Logger
	config domain.StrategyConfig
}

// NewBaseStrategy creates a new base strategy instance
func NewBaseStrategy(logger ports.Logger, config domain.StrategyConfig) *BaseStrategy {
	return &BaseStrategy{
		logger: logger,
		config: config,
	}
}

func (b *BaseStrategy) Name() string                  { return b.config.Name }
func (b *BaseStrategy) Config() domain.StrategyConfig { return b.config }

func (b *BaseStrategy) OnOrderUpdate(ctx context.Context, order *domain.Order) {
	b.logger.Debug(ctx, b.config.Name+": order update", map[string]interface{}{"txid": order.ID, "status": order.Status})
}

func (b *BaseStrategy) OnPositionUpdate(ctx context.Context, position *domain.Position, closed bool) {
	b.logger.Debug(ctx, b.config.Name+": position update", map[string]interface{}{"pair": position.Pair, "quantity": position.Quantity, "closed": closed})
}

func (b *BaseStrategy) OnError(ctx context.Context, err error) {
	b.logger.Warn(ctx, b.config.Name+": error reported", map[string]interface{}{"error": err.Error()})
}

// Factory builds a fresh strategy instance.
type Factory func(logger ports.Logger, pairs []string) (Strategy, error)

// registry is the closed set of concrete strategies.
var registry = map[string]Factory{
	MACrossoverName: func(logger ports.Logger, pairs []string) (Strategy, error) {
		return NewMACrossover(logger, pairs)
	},
}

// New builds a registered strategy by name.
func New(name string, logger ports.Logger, pairs []string) (Strategy, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (available: %v)", name, Names())
	}
	return factory(logger, pairs)
}

// Names lists the registered strategies.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
