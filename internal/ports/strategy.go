package ports

import "krakenBot/internal/domain"

// EngineListener receives order and position updates for display. The core never
// depends on what a listener does with them.
type EngineListener interface {
	OnOrderUpdate(strategyID string, order *domain.Order)
	OnPositionUpdate(strategyID string, position *domain.Position, closed bool)
	OnError(strategyID string, err error)
}
