package kraken

import (
	"context"

	"krakenBot/internal/domain"
	"krakenBot/internal/ports"
)

// GetBalances returns the account balances keyed by asset code (e.g. "ZUSD", "XXBT").
func (c *Client) GetBalances(ctx context.Context) (domain.Balances, error) {
	op := "GetBalances"
	var res map[string]string
	if err := c.call(ctx, op, true, "Balance", nil, &res); err != nil {
		return nil, err
	}

	balances := make(domain.Balances, len(res))
	for asset, raw := range res {
		qty, err := parseDecimal(raw)
		if err != nil {
			return nil, ports.NewExchangeError(op, codeMalformed, "could not parse balance '"+raw+"' for asset "+asset)
		}
		balances[asset] = qty
	}
	c.logger.Debug(ctx, op+" successful", map[string]interface{}{"assets": len(balances)})
	return balances, nil
}
