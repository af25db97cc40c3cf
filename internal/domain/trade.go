package domain

import "time"

// Trade represents a closed position.
type Trade struct {
	ID          int64
	PositionID  int64
	StrategyID  string
	Pair        string
	Side        PositionSide
	EntryPrice  float64
	ExitPrice   float64
	Quantity    float64
	PNL         float64
	EntryTime   time.Time
	ExitTime    time.Time
	CloseReason CloseReason
}
