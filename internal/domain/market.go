package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketContext is the tick payload delivered to a strategy instance.
type MarketContext struct {
	Pair      string
	Price     float64
	Timestamp time.Time
}

// BookEntry is one price level of an order book.
type BookEntry struct {
	Price     decimal.Decimal
	Volume    decimal.Decimal
	Timestamp time.Time
}

// OrderBook holds depth for a pair. Bids are sorted by descending price,
// asks by ascending price.
type OrderBook struct {
	Pair string
	Bids []BookEntry
	Asks []BookEntry
}

// BestBid returns the highest bid, false when the side is empty.
func (b *OrderBook) BestBid() (decimal.Decimal, bool) {
	if len(b.Bids) == 0 {
		return decimal.Zero, false
	}
	return b.Bids[0].Price, true
}

// BestAsk returns the lowest ask, false when the side is empty.
func (b *OrderBook) BestAsk() (decimal.Decimal, bool) {
	if len(b.Asks) == 0 {
		return decimal.Zero, false
	}
	return b.Asks[0].Price, true
}

// Spread is best ask minus best bid.
func (b *OrderBook) Spread() (decimal.Decimal, bool) {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return decimal.Zero, false
	}
	return ask.Sub(bid), true
}

// SpreadPercent is the spread as a percentage of the best bid.
func (b *OrderBook) SpreadPercent() (float64, bool) {
	spread, ok := b.Spread()
	if !ok {
		return 0, false
	}
	bid, _ := b.BestBid()
	if bid.IsZero() {
		return 0, false
	}
	return spread.Div(bid).Mul(decimal.NewFromInt(100)).InexactFloat64(), true
}

// Balances maps an asset code to the held quantity.
type Balances map[string]decimal.Decimal

// Float returns the balance of an asset as float64 (zero when absent).
func (b Balances) Float(asset string) float64 {
	v, ok := b[asset]
	if !ok {
		return 0
	}
	return v.InexactFloat64()
}
