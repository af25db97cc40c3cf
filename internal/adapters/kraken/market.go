package kraken

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"time"

	"krakenBot/internal/domain"
	"krakenBot/internal/ports"
)

type depthBook struct {
	Bids [][]json.RawMessage `json:"bids"`
	Asks [][]json.RawMessage `json:"asks"`
}

// GetOrderBookDepth returns the order book for a pair. count <= 0 uses the exchange default.
func (c *Client) GetOrderBookDepth(ctx context.Context, pair string, count int) (*domain.OrderBook, error) {
	op := "GetOrderBookDepth"
	if pair == "" {
		return nil, ports.NewValidationError(op, "pair is required")
	}
	if count < 0 {
		return nil, ports.NewValidationError(op, "count cannot be negative, got %d", count)
	}

	params := url.Values{}
	params.Set("pair", pair)
	if count > 0 {
		params.Set("count", strconv.Itoa(count))
	}

	var res map[string]depthBook
	if err := c.call(ctx, op, false, "Depth", params, &res); err != nil {
		return nil, err
	}

	// The result is keyed by the exchange's own pair name, which may differ
	// from the requested alias (XBTUSD -> XXBTZUSD).
	raw, ok := res[pair]
	if !ok {
		if len(res) != 1 {
			return nil, ports.NewExchangeError(op, codeMalformed, fmt.Sprintf("depth result has %d books, none named %s", len(res), pair))
		}
		for _, book := range res {
			raw = book
		}
	}

	book, err := translateDepth(pair, raw)
	if err != nil {
		return nil, ports.NewExchangeError(op, codeMalformed, err.Error())
	}
	return book, nil
}

func translateDepth(pair string, raw depthBook) (*domain.OrderBook, error) {
	book := &domain.OrderBook{
		Pair: pair,
		Bids: make([]domain.BookEntry, 0, len(raw.Bids)),
		Asks: make([]domain.BookEntry, 0, len(raw.Asks)),
	}
	for _, level := range raw.Bids {
		entry, err := translateLevel(level)
		if err != nil {
			return nil, fmt.Errorf("bid level: %w", err)
		}
		book.Bids = append(book.Bids, entry)
	}
	for _, level := range raw.Asks {
		entry, err := translateLevel(level)
		if err != nil {
			return nil, fmt.Errorf("ask level: %w", err)
		}
		book.Asks = append(book.Asks, entry)
	}

	sort.SliceStable(book.Bids, func(i, j int) bool { return book.Bids[i].Price.GreaterThan(book.Bids[j].Price) })
	sort.SliceStable(book.Asks, func(i, j int) bool { return book.Asks[i].Price.LessThan(book.Asks[j].Price) })
	return book, nil
}

// translateLevel parses [price, volume, timestamp]; price and volume are strings,
// the timestamp is a number of seconds (sometimes quoted).
func translateLevel(level []json.RawMessage) (domain.BookEntry, error) {
	if len(level) < 3 {
		return domain.BookEntry{}, fmt.Errorf("expected [price, volume, timestamp], got %d fields", len(level))
	}
	var priceStr, volumeStr string
	if err := json.Unmarshal(level[0], &priceStr); err != nil {
		return domain.BookEntry{}, fmt.Errorf("parsing price %s: %w", level[0], err)
	}
	if err := json.Unmarshal(level[1], &volumeStr); err != nil {
		return domain.BookEntry{}, fmt.Errorf("parsing volume %s: %w", level[1], err)
	}
	price, err := parseDecimal(priceStr)
	if err != nil {
		return domain.BookEntry{}, fmt.Errorf("parsing price '%s': %w", priceStr, err)
	}
	volume, err := parseDecimal(volumeStr)
	if err != nil {
		return domain.BookEntry{}, fmt.Errorf("parsing volume '%s': %w", volumeStr, err)
	}

	var ts float64
	if err := json.Unmarshal(level[2], &ts); err != nil {
		var tsStr string
		if err2 := json.Unmarshal(level[2], &tsStr); err2 != nil {
			return domain.BookEntry{}, fmt.Errorf("parsing timestamp %s: %w", level[2], err)
		}
		if ts, err = strconv.ParseFloat(tsStr, 64); err != nil {
			return domain.BookEntry{}, fmt.Errorf("parsing timestamp '%s': %w", tsStr, err)
		}
	}

	return domain.BookEntry{Price: price, Volume: volume, Timestamp: unixSeconds(ts)}, nil
}

func unixSeconds(ts float64) time.Time {
	if ts <= 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}
