package domain

// OrderSide represents the side of an order (buy or sell).
type OrderSide string

const (
	Buy  OrderSide = "buy"
	Sell OrderSide = "sell"
)

// Valid reports whether the side is one of the known values.
func (s OrderSide) Valid() bool {
	return s == Buy || s == Sell
}

// Opposite returns the side that closes exposure opened by s.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType represents the execution type of an order.
type OrderType string

const (
	Market OrderType = "market"
	Limit  OrderType = "limit"
)

// Valid reports whether the order type is supported.
func (t OrderType) Valid() bool {
	return t == Market || t == Limit
}

// PositionSide is the direction of an open position.
type PositionSide string

const (
	Long  PositionSide = "long"
	Short PositionSide = "short"
)

// SideForEntry maps the entry order side to the resulting position side.
func SideForEntry(side OrderSide) PositionSide {
	if side == Sell {
		return Short
	}
	return Long
}

// ExitSide returns the order side that closes a position of this direction.
func (p PositionSide) ExitSide() OrderSide {
	if p == Short {
		return Buy
	}
	return Sell
}

// CloseReason indicates why a position was closed.
type CloseReason string

const (
	CloseReasonStopLoss   CloseReason = "SL"
	CloseReasonTakeProfit CloseReason = "TP"
	CloseReasonSignal     CloseReason = "SIGNAL" // Strategy exit signal
	CloseReasonManual     CloseReason = "MANUAL"
	CloseReasonUnknown    CloseReason = "Unknown"
)
