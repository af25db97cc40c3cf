package position

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"krakenBot/internal/domain"
	"krakenBot/internal/ports"
)

// Limits are optional account-wide caps checked before a reservation.
type Limits struct {
	MaxOpenPositions int     // 0 means unlimited
	MaxNotional      float64 // Max quantity*price of one entry; 0 means unlimited
}

// Config holds configuration for the position manager.
type Config struct {
	Logger    ports.Logger
	Positions ports.PositionRepository // Optional
	Trades    ports.TradeRepository    // Optional
	Limits    Limits
	Clock     func() time.Time
}

type key struct {
	strategyID string
	pair       string
}

// Manager is the single arbiter of position state per (strategy instance, pair).
// It is shared by every engine trading the same account and is safe for concurrent use.
type Manager struct {
	mu        sync.Mutex
	positions map[key]*domain.Position
	pending   map[key]string // reserved entries -> client order id

	logger    ports.Logger
	posRepo   ports.PositionRepository
	tradeRepo ports.TradeRepository
	limits    Limits
	clock     func() time.Time
}

// NewManager creates a position manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for position manager")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Manager{
		positions: make(map[key]*domain.Position),
		pending:   make(map[key]string),
		logger:    cfg.Logger,
		posRepo:   cfg.Positions,
		tradeRepo: cfg.Trades,
		limits:    cfg.Limits,
		clock:     clock,
	}, nil
}

// SizePosition returns equity*riskFraction / |entry-stop|. It never clamps:
// a stop on the entry price or invalid inputs are a ValidationError.
func SizePosition(entryPrice, stopPrice, riskFraction, accountEquity float64) (float64, error) {
	op := "SizePosition"
	for name, v := range map[string]float64{"entryPrice": entryPrice, "stopPrice": stopPrice, "riskFraction": riskFraction, "accountEquity": accountEquity} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, ports.NewValidationError(op, "%s must be a finite number, got %v", name, v)
		}
	}
	if entryPrice <= 0 {
		return 0, ports.NewValidationError(op, "entry price must be positive, got %v", entryPrice)
	}
	if accountEquity <= 0 {
		return 0, ports.NewValidationError(op, "account equity must be positive, got %v", accountEquity)
	}
	if riskFraction <= 0 || riskFraction > 1 {
		return 0, ports.NewValidationError(op, "risk fraction must be in (0, 1], got %v", riskFraction)
	}
	perUnitRisk := math.Abs(entryPrice - stopPrice)
	if perUnitRisk <= 0 {
		return 0, ports.NewValidationError(op, "stop price %v leaves no per-unit risk against entry %v", stopPrice, entryPrice)
	}
	return accountEquity * riskFraction / perUnitRisk, nil
}

// BeginEntry reserves (strategyID, pair) for an entry identified by clientOrderID.
// A second reservation or an existing open position is a ValidationError.
func (m *Manager) BeginEntry(strategyID, pair, clientOrderID string, quantity, price float64) error {
	op := "BeginEntry"
	k := key{strategyID, pair}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, open := m.positions[k]; open {
		return ports.NewValidationError(op, "strategy %s already holds an open position on %s", strategyID, pair)
	}
	if id, reserved := m.pending[k]; reserved {
		return ports.NewValidationError(op, "strategy %s already has entry %s in flight on %s", strategyID, id, pair)
	}
	if limit := m.limits.MaxOpenPositions; limit > 0 && len(m.positions)+len(m.pending) >= limit {
		return ports.NewValidationError(op, "open position limit %d reached", limit)
	}
	if limit := m.limits.MaxNotional; limit > 0 && quantity*price > limit {
		return ports.NewValidationError(op, "entry notional %v exceeds limit %v", quantity*price, limit)
	}
	m.pending[k] = clientOrderID
	return nil
}

// AbortEntry releases a reservation whose entry was not placed.
func (m *Manager) AbortEntry(strategyID, pair string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, key{strategyID, pair})
}

// PendingEntry returns the client order id of an in-flight entry.
func (m *Manager) PendingEntry(strategyID, pair string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.pending[key{strategyID, pair}]
	return id, ok
}

// Open converts a reservation into an open position.
func (m *Manager) Open(ctx context.Context, pos *domain.Position) error {
	op := "OpenPosition"
	if pos == nil || !(pos.Quantity > 0) {
		return ports.NewValidationError(op, "position quantity must be positive")
	}
	k := key{pos.StrategyID, pos.Pair}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, open := m.positions[k]; open {
		return ports.NewValidationError(op, "strategy %s already holds an open position on %s", pos.StrategyID, pos.Pair)
	}
	if pos.OpenedAt.IsZero() {
		pos.OpenedAt = m.clock().UTC()
	}
	if m.posRepo != nil {
		if _, err := m.posRepo.Create(ctx, pos); err != nil {
			if errors.Is(err, ports.ErrDuplicateEntry) {
				return ports.NewValidationError(op, "position for %s/%s already persisted", pos.StrategyID, pos.Pair)
			}
			// The exchange position exists regardless; keep tracking it in memory.
			m.logger.Error(ctx, err, op+": failed to persist position", map[string]interface{}{"strategyID": pos.StrategyID, "pair": pos.Pair})
		}
	}
	delete(m.pending, k)
	m.positions[k] = pos
	m.logger.Info(ctx, op+" successful", map[string]interface{}{"strategyID": pos.StrategyID, "pair": pos.Pair, "side": pos.Side, "quantity": pos.Quantity, "entryPrice": pos.EntryPrice})
	return nil
}

// Increase adds a further entry fill to an open position. The entry price
// becomes the volume-weighted average of both fills.
func (m *Manager) Increase(ctx context.Context, strategyID, pair string, quantity, price float64) (*domain.Position, error) {
	op := "IncreasePosition"
	if !(quantity > 0) || !(price > 0) {
		return nil, ports.NewValidationError(op, "quantity and price must be positive, got %v @ %v", quantity, price)
	}

	m.mu.Lock()
	pos, ok := m.positions[key{strategyID, pair}]
	if !ok {
		m.mu.Unlock()
		return nil, ports.NewValidationError(op, "no open position for %s on %s", strategyID, pair)
	}
	total := pos.Quantity + quantity
	pos.EntryPrice = (pos.EntryPrice*pos.Quantity + price*quantity) / total
	pos.Quantity = total
	updated := *pos
	m.mu.Unlock()

	if m.posRepo != nil && updated.ID != 0 {
		if err := m.posRepo.Update(ctx, &updated); err != nil {
			m.logger.Error(ctx, err, op+": failed to persist position", map[string]interface{}{"positionID": updated.ID})
		}
	}
	m.logger.Info(ctx, op+" successful", map[string]interface{}{"strategyID": strategyID, "pair": pair, "quantity": updated.Quantity, "entryPrice": updated.EntryPrice})
	return &updated, nil
}

// Reduce lowers the open quantity after a partial exit fill and records the
// reduced part as a trade. Reducing to zero or below closes the position at price.
func (m *Manager) Reduce(ctx context.Context, strategyID, pair string, quantity, price float64, reason domain.CloseReason) (*domain.Position, *domain.Trade, error) {
	op := "ReducePosition"
	if !(quantity > 0) {
		return nil, nil, ports.NewValidationError(op, "quantity must be positive, got %v", quantity)
	}

	m.mu.Lock()
	pos, ok := m.positions[key{strategyID, pair}]
	if !ok {
		m.mu.Unlock()
		return nil, nil, ports.NewValidationError(op, "no open position for %s on %s", strategyID, pair)
	}
	if quantity >= pos.Quantity {
		m.mu.Unlock()
		trade, err := m.Close(ctx, strategyID, pair, price, reason)
		return nil, trade, err
	}
	part := *pos
	part.Quantity = quantity
	pos.Quantity -= quantity
	updated := *pos
	m.mu.Unlock()

	trade := m.tradeFor(&part, price, reason)
	if m.tradeRepo != nil {
		if _, err := m.tradeRepo.CreateTrade(ctx, trade); err != nil {
			m.logger.Error(ctx, err, op+": failed to record trade", map[string]interface{}{"pair": pair})
		}
	}
	if m.posRepo != nil && updated.ID != 0 {
		if err := m.posRepo.Update(ctx, &updated); err != nil {
			m.logger.Error(ctx, err, op+": failed to persist position", map[string]interface{}{"positionID": updated.ID})
		}
	}
	m.logger.Info(ctx, op+" successful", map[string]interface{}{"strategyID": strategyID, "pair": pair, "remaining": updated.Quantity, "pnl": trade.PNL})
	return &updated, trade, nil
}

func (m *Manager) tradeFor(pos *domain.Position, exitPrice float64, reason domain.CloseReason) *domain.Trade {
	return &domain.Trade{
		PositionID:  pos.ID,
		StrategyID:  pos.StrategyID,
		Pair:        pos.Pair,
		Side:        pos.Side,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   exitPrice,
		Quantity:    pos.Quantity,
		PNL:         pos.UnrealizedPNL(exitPrice),
		EntryTime:   pos.OpenedAt,
		ExitTime:    m.clock().UTC(),
		CloseReason: reason,
	}
}

// Close removes the position and returns the resulting trade.
func (m *Manager) Close(ctx context.Context, strategyID, pair string, exitPrice float64, reason domain.CloseReason) (*domain.Trade, error) {
	op := "ClosePosition"
	k := key{strategyID, pair}

	m.mu.Lock()
	pos, ok := m.positions[k]
	if !ok {
		m.mu.Unlock()
		return nil, ports.NewValidationError(op, "no open position for %s on %s", strategyID, pair)
	}
	delete(m.positions, k)
	m.mu.Unlock()

	trade := m.tradeFor(pos, exitPrice, reason)

	if m.tradeRepo != nil {
		if _, err := m.tradeRepo.CreateTrade(ctx, trade); err != nil {
			m.logger.Error(ctx, err, op+": failed to record trade", map[string]interface{}{"pair": pair})
		}
	}
	if m.posRepo != nil && pos.ID != 0 {
		if err := m.posRepo.Delete(ctx, pos.ID); err != nil && !errors.Is(err, ports.ErrNotFound) {
			m.logger.Error(ctx, err, op+": failed to delete position", map[string]interface{}{"positionID": pos.ID})
		}
	}
	m.logger.Info(ctx, op+" successful", map[string]interface{}{"strategyID": strategyID, "pair": pair, "pnl": trade.PNL, "reason": reason})
	return trade, nil
}

// Get returns a copy of the open position, nil when flat.
func (m *Manager) Get(strategyID, pair string) *domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[key{strategyID, pair}]
	if !ok {
		return nil
	}
	cp := *pos
	return &cp
}

// Positions returns copies of the open positions of a strategy instance, by pair.
func (m *Manager) Positions(strategyID string) []*domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Position
	for k, pos := range m.positions {
		if k.strategyID == strategyID {
			cp := *pos
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pair < out[j].Pair })
	return out
}

// Restore loads the persisted open positions of a strategy instance.
func (m *Manager) Restore(ctx context.Context, strategyID string) (int, error) {
	if m.posRepo == nil {
		return 0, nil
	}
	stored, err := m.posRepo.FindOpenByStrategy(ctx, strategyID)
	if err != nil {
		return 0, fmt.Errorf("restoring positions for %s: %w", strategyID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pos := range stored {
		m.positions[key{pos.StrategyID, pos.Pair}] = pos
	}
	if len(stored) > 0 {
		m.logger.Info(ctx, "Positions restored", map[string]interface{}{"strategyID": strategyID, "count": len(stored)})
	}
	return len(stored), nil
}
