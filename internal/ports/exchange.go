package ports

import (
	"context"

	"krakenBot/internal/domain"
)

// CancelResult is the outcome of a cancel request.
type CancelResult struct {
	Count   int  // Number of orders cancelled
	Pending bool // Cancellation still pending on the exchange
}

// ExchangeGateway defines authenticated and public access to the exchange.
// Implementations validate inputs before any network call and return *Error values.
type ExchangeGateway interface {
	// PlaceOrder submits an intent and returns the accepted order.
	PlaceOrder(ctx context.Context, intent *domain.OrderIntent) (*domain.Order, error)

	// CancelOrder cancels one order. Cancelling an unknown or terminal order returns Count 0.
	CancelOrder(ctx context.Context, txid string) (*CancelResult, error)

	// CancelOrders cancels each txid, aggregating failures instead of stopping at the first.
	CancelOrders(ctx context.Context, txids []string) (*CancelResult, error)

	// CancelAllOrders cancels every open order of the account.
	CancelAllOrders(ctx context.Context) (*CancelResult, error)

	// GetOpenOrders returns open orders keyed by txid.
	GetOpenOrders(ctx context.Context, includeTrades bool) (map[string]*domain.OrderDetail, error)

	// QueryOrders returns open or closed orders by txid. Closed orders carry
	// status closed, canceled or expired and the executed volume.
	QueryOrders(ctx context.Context, txids []string) (map[string]*domain.OrderDetail, error)

	// GetBalances returns asset balances.
	GetBalances(ctx context.Context) (domain.Balances, error)

	// GetOrderBookDepth returns the order book of a pair. Public, unsigned.
	GetOrderBookDepth(ctx context.Context, pair string, count int) (*domain.OrderBook, error)
}
