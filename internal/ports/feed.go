package ports

import (
	"context"

	"krakenBot/internal/domain"
)

// TickFeed delivers market ticks for a set of pairs, in non-decreasing timestamp
// order per pair.
type TickFeed interface {
	// Subscribe starts streaming ticks for pairs. doneCh is closed when the stream
	// ends; sending on stopCh (or cancelling ctx) stops it.
	Subscribe(ctx context.Context, pairs []string, handler func(tick domain.MarketContext), errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error)
}
