package domain

import "time"

// Position is an open exposure of one strategy instance on one pair.
type Position struct {
	ID         int64 // Repository id, zero until persisted
	StrategyID string
	Pair       string
	Side       PositionSide
	Quantity   float64 // Always > 0 while open
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	OpenedAt   time.Time
	OrderID    string // Entry order txid
}

// UnrealizedPNL returns the profit at the given mark price.
func (p *Position) UnrealizedPNL(price float64) float64 {
	if p.Side == Short {
		return (p.EntryPrice - price) * p.Quantity
	}
	return (price - p.EntryPrice) * p.Quantity
}
