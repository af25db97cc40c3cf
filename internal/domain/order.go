package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OrderStatus is the lifecycle state of an order accepted by the exchange.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderOpen      OrderStatus = "open"
	OrderFilled    OrderStatus = "filled"
	OrderCancelled OrderStatus = "cancelled"
	OrderRejected  OrderStatus = "rejected"
)

// Terminal reports whether no further transition is possible.
func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderCancelled || s == OrderRejected
}

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending: {OrderOpen, OrderRejected},
	OrderOpen:    {OrderFilled, OrderCancelled},
}

// OrderIntent is a strategy's instruction to trade, not yet accepted by the exchange.
// Intents are values: a new one is built for every decision.
type OrderIntent struct {
	ID         string // Client order id, sent as cl_ord_id
	Pair       string
	Side       OrderSide
	Type       OrderType
	Quantity   float64
	LimitPrice float64 // Zero for market orders
	StopLoss   float64 // Zero when not set
	TakeProfit float64 // Zero when not set
	Reason     string
	Timestamp  time.Time
}

// NewOrderIntent builds an intent with a fresh client order id.
func NewOrderIntent(pair string, side OrderSide, orderType OrderType, quantity float64, reason string, ts time.Time) OrderIntent {
	return OrderIntent{
		ID:        uuid.NewString(),
		Pair:      pair,
		Side:      side,
		Type:      orderType,
		Quantity:  quantity,
		Reason:    reason,
		Timestamp: ts,
	}
}

// WithLimitPrice returns a copy of the intent with a limit price.
func (i OrderIntent) WithLimitPrice(price float64) OrderIntent {
	i.LimitPrice = price
	return i
}

// WithStops returns a copy of the intent carrying stop-loss and take-profit levels.
func (i OrderIntent) WithStops(stopLoss, takeProfit float64) OrderIntent {
	i.StopLoss = stopLoss
	i.TakeProfit = takeProfit
	return i
}

// Order is an intent that the exchange accepted.
type Order struct {
	ID            string // Exchange transaction id (txid)
	ClientOrderID string
	StrategyID    string
	Pair          string
	Side          OrderSide
	Type          OrderType
	Quantity      float64
	Price         float64
	Status        OrderStatus
	OpenedAt      time.Time
}

// Transition moves the order to the next status. Transitions are monotone:
// pending -> open|rejected, open -> filled|cancelled.
func (o *Order) Transition(to OrderStatus) error {
	for _, allowed := range orderTransitions[o.Status] {
		if allowed == to {
			o.Status = to
			return nil
		}
	}
	return fmt.Errorf("order %s: invalid status transition %s -> %s", o.ID, o.Status, to)
}

// Raw exchange order statuses.
const (
	ExchangeStatusClosed   = "closed"
	ExchangeStatusCanceled = "canceled"
	ExchangeStatusExpired  = "expired"
)

// OrderDetail is one entry of the open or queried orders.
type OrderDetail struct {
	ID             string
	ClientOrderID  string
	Pair           string
	Side           OrderSide
	Type           OrderType
	Status         string // Raw exchange status (pending, open, closed, canceled, expired)
	Volume         float64
	VolumeExecuted float64
	Price          float64 // Average fill price
	LimitPrice     float64
	OpenedAt       time.Time
	ClosedAt       time.Time // Zero while open
	Description    string
	Trades         []string
}
