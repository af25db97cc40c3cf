package app

import (
	"context"

	"krakenBot/internal/domain"
	"krakenBot/internal/ports"
)

// LogListener writes engine callbacks to the logger.
type LogListener struct {
	logger ports.Logger
}

// NewLogListener creates a listener logging through logger.
func NewLogListener(logger ports.Logger) *LogListener {
	return &LogListener{logger: logger}
}

func (l *LogListener) OnOrderUpdate(strategyID string, order *domain.Order) {
	l.logger.Info(context.Background(), "Order update", map[string]interface{}{
		"instance":      strategyID,
		"txid":          order.ID,
		"clientOrderID": order.ClientOrderID,
		"pair":          order.Pair,
		"side":          order.Side,
		"type":          order.Type,
		"quantity":      order.Quantity,
		"price":         order.Price,
		"status":        order.Status,
	})
}

func (l *LogListener) OnPositionUpdate(strategyID string, pos *domain.Position, closed bool) {
	l.logger.Info(context.Background(), "Position update", map[string]interface{}{
		"instance":   strategyID,
		"pair":       pos.Pair,
		"side":       pos.Side,
		"quantity":   pos.Quantity,
		"entryPrice": pos.EntryPrice,
		"stopLoss":   pos.StopLoss,
		"takeProfit": pos.TakeProfit,
		"closed":     closed,
	})
}

func (l *LogListener) OnError(strategyID string, err error) {
	l.logger.Error(context.Background(), err, "Strategy instance error", map[string]interface{}{
		"instance": strategyID,
		"kind":     ports.KindOf(err).String(),
	})
}

var _ ports.EngineListener = (*LogListener)(nil)
