package kraken

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"krakenBot/internal/domain"
	"krakenBot/internal/ports"
)

type addOrderResult struct {
	Descr struct {
		Order string `json:"order"`
		Close string `json:"close"`
	} `json:"descr"`
	TxID []string `json:"txid"`
}

type cancelOrderResult struct {
	Count   int  `json:"count"`
	Pending bool `json:"pending"`
}

type openOrdersResult struct {
	Open map[string]openOrder `json:"open"`
}

// maxQueryTxIDs is the number of txids QueryOrders accepts per request.
const maxQueryTxIDs = 50

type openOrder struct {
	ClOrdID string  `json:"cl_ord_id"`
	Status  string  `json:"status"`
	OpenTm  float64 `json:"opentm"`
	CloseTm float64 `json:"closetm"`
	Descr   struct {
		Pair      string `json:"pair"`
		Type      string `json:"type"`
		OrderType string `json:"ordertype"`
		Price     string `json:"price"`
		Order     string `json:"order"`
	} `json:"descr"`
	Vol     string   `json:"vol"`
	VolExec string   `json:"vol_exec"`
	Price   string   `json:"price"`
	Trades  []string `json:"trades"`
}

func validateIntent(op string, intent *domain.OrderIntent) error {
	if intent == nil {
		return ports.NewValidationError(op, "order intent is nil")
	}
	if intent.Pair == "" {
		return ports.NewValidationError(op, "pair is required")
	}
	if !intent.Side.Valid() {
		return ports.NewValidationError(op, "invalid side %q", intent.Side)
	}
	if !intent.Type.Valid() {
		return ports.NewValidationError(op, "invalid order type %q", intent.Type)
	}
	if !(intent.Quantity > 0) || math.IsInf(intent.Quantity, 0) {
		return ports.NewValidationError(op, "quantity must be positive, got %v", intent.Quantity)
	}
	if intent.Type == domain.Limit && (!(intent.LimitPrice > 0) || math.IsInf(intent.LimitPrice, 0)) {
		return ports.NewValidationError(op, "limit order requires a positive limit price")
	}
	return nil
}

// formatDecimal renders a float with the shortest exact decimal representation.
func formatDecimal(v float64) string {
	return decimal.NewFromFloat(v).String()
}

// parseDecimal parses an exchange numeric string; empty strings are zero.
func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// PlaceOrder submits an AddOrder request. The intent id is sent as cl_ord_id so
// a retried submission cannot create a second open order.
func (c *Client) PlaceOrder(ctx context.Context, intent *domain.OrderIntent) (*domain.Order, error) {
	op := "PlaceOrder"
	if err := validateIntent(op, intent); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("pair", intent.Pair)
	params.Set("type", string(intent.Side))
	params.Set("ordertype", string(intent.Type))
	params.Set("volume", formatDecimal(intent.Quantity))
	if intent.Type == domain.Limit {
		params.Set("price", formatDecimal(intent.LimitPrice))
	}
	if intent.ID != "" {
		params.Set("cl_ord_id", intent.ID)
	}

	var res addOrderResult
	if err := c.call(ctx, op, true, "AddOrder", params, &res); err != nil {
		c.logger.Error(ctx, err, op+" failed", map[string]interface{}{"pair": intent.Pair, "side": intent.Side, "type": intent.Type, "volume": params.Get("volume"), "clientOrderID": intent.ID})
		return nil, err
	}
	if len(res.TxID) == 0 {
		return nil, ports.NewExchangeError(op, codeMalformed, "AddOrder returned no txid")
	}

	order := &domain.Order{
		ID:            res.TxID[0],
		ClientOrderID: intent.ID,
		Pair:          intent.Pair,
		Side:          intent.Side,
		Type:          intent.Type,
		Quantity:      intent.Quantity,
		Price:         intent.LimitPrice,
		Status:        domain.OrderPending,
		OpenedAt:      c.clock().UTC(),
	}
	if err := order.Transition(domain.OrderOpen); err != nil {
		return nil, err
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"txid": order.ID, "pair": order.Pair, "side": order.Side, "volume": params.Get("volume"), "descr": res.Descr.Order})
	return order, nil
}

// CancelOrder cancels one order. Unknown or already closed orders report Count 0.
func (c *Client) CancelOrder(ctx context.Context, txid string) (*ports.CancelResult, error) {
	op := "CancelOrder"
	if txid == "" {
		return nil, ports.NewValidationError(op, "txid is required")
	}

	params := url.Values{}
	params.Set("txid", txid)
	var res cancelOrderResult
	if err := c.call(ctx, op, true, "CancelOrder", params, &res); err != nil {
		if hasMessagePrefix(err, "EOrder:Unknown order") {
			c.logger.Debug(ctx, op+": order unknown or already closed", map[string]interface{}{"txid": txid})
			return &ports.CancelResult{Count: 0}, nil
		}
		return nil, err
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"txid": txid, "count": res.Count, "pending": res.Pending})
	return &ports.CancelResult{Count: res.Count, Pending: res.Pending}, nil
}

// CancelOrders cancels each order in turn. Failures are aggregated; an
// authentication failure stops the loop since every further call would fail too.
func (c *Client) CancelOrders(ctx context.Context, txids []string) (*ports.CancelResult, error) {
	result := &ports.CancelResult{}
	var errs error
	for _, txid := range txids {
		res, err := c.CancelOrder(ctx, txid)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("cancel %s: %w", txid, err))
			if ports.IsFatal(err) {
				break
			}
			continue
		}
		result.Count += res.Count
		result.Pending = result.Pending || res.Pending
	}
	return result, errs
}

// CancelAllOrders cancels every open order. When the bulk endpoint is rejected
// it falls back to cancelling the listed open orders one by one.
func (c *Client) CancelAllOrders(ctx context.Context) (*ports.CancelResult, error) {
	op := "CancelAllOrders"
	var res cancelOrderResult
	err := c.call(ctx, op, true, "CancelAll", nil, &res)
	if err == nil {
		c.logger.Info(ctx, op+" successful", map[string]interface{}{"count": res.Count})
		return &ports.CancelResult{Count: res.Count, Pending: res.Pending}, nil
	}
	if ports.KindOf(err) != ports.KindExchange {
		return nil, err
	}

	c.logger.Warn(ctx, op+": bulk cancel rejected, cancelling orders individually", map[string]interface{}{"error": err.Error()})
	open, listErr := c.GetOpenOrders(ctx, false)
	if listErr != nil {
		return nil, multierr.Append(err, listErr)
	}
	txids := make([]string, 0, len(open))
	for txid := range open {
		txids = append(txids, txid)
	}
	sort.Strings(txids)
	return c.CancelOrders(ctx, txids)
}

// GetOpenOrders returns the open orders keyed by txid.
func (c *Client) GetOpenOrders(ctx context.Context, includeTrades bool) (map[string]*domain.OrderDetail, error) {
	op := "GetOpenOrders"
	params := url.Values{}
	if includeTrades {
		params.Set("trades", "true")
	}

	var res openOrdersResult
	if err := c.call(ctx, op, true, "OpenOrders", params, &res); err != nil {
		return nil, err
	}

	orders := make(map[string]*domain.OrderDetail, len(res.Open))
	for txid, o := range res.Open {
		detail, err := translateOpenOrder(txid, o)
		if err != nil {
			return nil, ports.NewExchangeError(op, codeMalformed, err.Error())
		}
		orders[txid] = detail
	}
	c.logger.Debug(ctx, op+" successful", map[string]interface{}{"count": len(orders)})
	return orders, nil
}

// QueryOrders looks orders up by txid, open or closed. Unknown txids are absent
// from the result.
func (c *Client) QueryOrders(ctx context.Context, txids []string) (map[string]*domain.OrderDetail, error) {
	op := "QueryOrders"
	if len(txids) == 0 {
		return nil, ports.NewValidationError(op, "at least one txid is required")
	}

	orders := make(map[string]*domain.OrderDetail, len(txids))
	for start := 0; start < len(txids); start += maxQueryTxIDs {
		end := start + maxQueryTxIDs
		if end > len(txids) {
			end = len(txids)
		}
		params := url.Values{}
		params.Set("txid", strings.Join(txids[start:end], ","))

		var res map[string]openOrder
		if err := c.call(ctx, op, true, "QueryOrders", params, &res); err != nil {
			return nil, err
		}
		for txid, o := range res {
			detail, err := translateOpenOrder(txid, o)
			if err != nil {
				return nil, ports.NewExchangeError(op, codeMalformed, err.Error())
			}
			orders[txid] = detail
		}
	}
	c.logger.Debug(ctx, op+" successful", map[string]interface{}{"requested": len(txids), "found": len(orders)})
	return orders, nil
}

// --- Translation Helpers ---

func translateOpenOrder(txid string, o openOrder) (*domain.OrderDetail, error) {
	vol, err := parseDecimal(o.Vol)
	if err != nil {
		return nil, fmt.Errorf("order %s: parsing vol '%s': %w", txid, o.Vol, err)
	}
	volExec, err := parseDecimal(o.VolExec)
	if err != nil {
		return nil, fmt.Errorf("order %s: parsing vol_exec '%s': %w", txid, o.VolExec, err)
	}
	avgPrice, err := parseDecimal(o.Price)
	if err != nil {
		return nil, fmt.Errorf("order %s: parsing price '%s': %w", txid, o.Price, err)
	}
	limitPrice, err := parseDecimal(o.Descr.Price)
	if err != nil {
		return nil, fmt.Errorf("order %s: parsing descr.price '%s': %w", txid, o.Descr.Price, err)
	}

	return &domain.OrderDetail{
		ID:             txid,
		ClientOrderID:  o.ClOrdID,
		Pair:           o.Descr.Pair,
		Side:           domain.OrderSide(o.Descr.Type),
		Type:           domain.OrderType(o.Descr.OrderType),
		Status:         o.Status,
		Volume:         vol.InexactFloat64(),
		VolumeExecuted: volExec.InexactFloat64(),
		Price:          avgPrice.InexactFloat64(),
		LimitPrice:     limitPrice.InexactFloat64(),
		OpenedAt:       unixSeconds(o.OpenTm),
		ClosedAt:       unixSeconds(o.CloseTm),
		Description:    o.Descr.Order,
		Trades:         o.Trades,
	}, nil
}
