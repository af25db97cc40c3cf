package ports

import (
	"context"

	"krakenBot/internal/domain"
)

// PositionRepository stores open positions.
type PositionRepository interface {
	// Create saves a new position and returns its assigned ID.
	Create(ctx context.Context, pos *domain.Position) (int64, error)
	// Update modifies an existing position (e.g. after a partial fill).
	Update(ctx context.Context, pos *domain.Position) error
	// Delete removes a closed position.
	Delete(ctx context.Context, id int64) error
	// FindOpenByStrategy returns the open positions of one strategy instance.
	FindOpenByStrategy(ctx context.Context, strategyID string) ([]*domain.Position, error)
}

// TradeRepository stores closed positions.
type TradeRepository interface {
	// CreateTrade saves a new trade record and returns its assigned ID.
	CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error)
	// FindByPair retrieves the most recent trades for a pair, up to a limit.
	FindByPair(ctx context.Context, pair string, limit int) ([]*domain.Trade, error)
	// FindAllTrades retrieves all trades ordered by exit time.
	FindAllTrades(ctx context.Context) ([]*domain.Trade, error)
}

// OrderRepository journals orders accepted by the exchange.
type OrderRepository interface {
	SaveOrder(ctx context.Context, order *domain.Order) error
	FindOrder(ctx context.Context, txid string) (*domain.Order, error)
}

// NonceStore persists the nonce high-water mark of a credential set.
type NonceStore interface {
	// LoadNonce returns the last recorded nonce, 0 when none.
	LoadNonce(ctx context.Context, keyID string) (int64, error)
	// StoreNonce records nonce if it is greater than the stored value.
	StoreNonce(ctx context.Context, keyID string, nonce int64) error
}
