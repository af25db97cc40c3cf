package binancefeed

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/jpillora/backoff"

	"krakenBot/internal/domain"
	"krakenBot/internal/ports"
)

// serveFunc opens one kline stream. It matches futures.WsKlineServe.
type serveFunc func(symbol, interval string, handler func(*futures.WsKlineEvent), errHandler func(error)) (doneC, stopC chan struct{}, err error)

// Config holds configuration for the Binance futures kline feed.
type Config struct {
	Interval             string            // Kline interval, default "1m"
	FinalOnly            bool              // Emit only closed klines
	Symbols              map[string]string // Pair -> Binance symbol; DefaultSymbol otherwise
	ReconnectDelay       time.Duration     // Initial reconnect delay, default 1s
	MaxReconnectDelay    time.Duration     // Default 1m
	MaxReconnectAttempts int               // Consecutive failures before giving up on a pair, default 10
	Logger               ports.Logger
}

// Feed implements ports.TickFeed over Binance futures kline streams, one
// stream per pair.
type Feed struct {
	interval    string
	finalOnly   bool
	symbols     map[string]string
	minDelay    time.Duration
	maxDelay    time.Duration
	maxAttempts int
	logger      ports.Logger
	serve       serveFunc
}

// New creates a Binance kline feed.
func New(cfg Config) (*Feed, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance feed")
	}
	interval := cfg.Interval
	if interval == "" {
		interval = "1m"
	}
	minDelay := cfg.ReconnectDelay
	if minDelay <= 0 {
		minDelay = 1 * time.Second
	}
	maxDelay := cfg.MaxReconnectDelay
	if maxDelay <= 0 {
		maxDelay = time.Minute
	}
	maxAttempts := cfg.MaxReconnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &Feed{
		interval:    interval,
		finalOnly:   cfg.FinalOnly,
		symbols:     cfg.Symbols,
		minDelay:    minDelay,
		maxDelay:    maxDelay,
		maxAttempts: maxAttempts,
		logger:      cfg.Logger,
		serve: func(symbol, interval string, handler func(*futures.WsKlineEvent), errHandler func(error)) (chan struct{}, chan struct{}, error) {
			return futures.WsKlineServe(symbol, interval, handler, errHandler)
		},
	}, nil
}

// DefaultSymbol maps a Kraken-style pair to a Binance USDT-margined symbol:
// XBT becomes BTC and a USD quote becomes USDT.
func DefaultSymbol(pair string) string {
	s := strings.ToUpper(strings.ReplaceAll(pair, "/", ""))
	if strings.HasPrefix(s, "XBT") {
		s = "BTC" + strings.TrimPrefix(s, "XBT")
	}
	if strings.HasSuffix(s, "USD") {
		s += "T"
	}
	return s
}

func (f *Feed) symbolFor(pair string) string {
	if s, ok := f.symbols[pair]; ok {
		return s
	}
	return DefaultSymbol(pair)
}

// Subscribe starts one reconnecting stream per pair. doneCh is closed once every
// stream gave up or was stopped.
func (f *Feed) Subscribe(ctx context.Context, pairs []string, handler func(tick domain.MarketContext), errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error) {
	if len(pairs) == 0 {
		return nil, nil, ports.NewValidationError("Subscribe", "no pairs to subscribe")
	}
	wsCtx, cancelWs := context.WithCancel(ctx)

	var wg sync.WaitGroup
	for _, pair := range pairs {
		wg.Add(1)
		go func(pair string) {
			defer wg.Done()
			f.streamPair(wsCtx, pair, handler, errHandler)
		}(pair)
	}

	doneCh = make(chan struct{})
	stopCh = make(chan struct{}, 1)
	go func() {
		select {
		case <-stopCh:
			f.logger.Info(ctx, "Binance feed: received external stop signal")
			cancelWs()
		case <-wsCtx.Done():
		}
	}()
	go func() {
		wg.Wait()
		cancelWs()
		close(doneCh)
	}()
	return doneCh, stopCh, nil
}

// streamPair keeps a kline stream for pair alive until ctx is cancelled or
// reconnection attempts are exhausted.
func (f *Feed) streamPair(ctx context.Context, pair string, handler func(domain.MarketContext), errHandler func(error)) {
	op := "StreamKlines"
	symbol := f.symbolFor(pair)
	fields := map[string]interface{}{"pair": pair, "symbol": symbol, "interval": f.interval}
	b := &backoff.Backoff{Min: f.minDelay, Max: f.maxDelay, Factor: 2, Jitter: true}

	onEvent := func(event *futures.WsKlineEvent) {
		tick, final, err := translateWsKline(pair, event)
		if err != nil {
			f.logger.Error(ctx, err, op+": Failed to translate WebSocket kline event", fields)
			return
		}
		b.Reset()
		if f.finalOnly && !final {
			return
		}
		handler(tick)
	}
	onErr := func(err error) {
		f.logger.Warn(ctx, op+": WebSocket error reported", map[string]interface{}{"pair": pair, "error": err.Error()})
		errHandler(ports.NewTransportError(op, err))
	}

	for {
		if ctx.Err() != nil {
			return
		}
		innerDoneCh, innerStopCh, connectErr := f.serve(symbol, f.interval, onEvent, onErr)
		if connectErr != nil {
			if int(b.Attempt())+1 >= f.maxAttempts {
				f.logger.Error(ctx, connectErr, op+": Max reconnection attempts exceeded, giving up.", fields)
				errHandler(ports.NewTransportError(op, connectErr))
				return
			}
			delay := b.Duration()
			f.logger.Info(ctx, op+": Connection failed, retrying...", map[string]interface{}{"pair": pair, "attempt": int(b.Attempt()), "delay": delay.String()})
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return
			}
		}

		f.logger.Info(ctx, op+": WebSocket connection established.", fields)

		select {
		case <-innerDoneCh:
		case <-ctx.Done():
			select {
			case innerStopCh <- struct{}{}:
			default:
			}
			return
		}
		delay := b.Duration()
		f.logger.Warn(ctx, op+": WebSocket connection closed unexpectedly. Reconnecting...", map[string]interface{}{"pair": pair, "delay": delay.String()})
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// translateWsKline turns a kline event into a tick at the kline close price.
func translateWsKline(pair string, event *futures.WsKlineEvent) (domain.MarketContext, bool, error) {
	if event == nil {
		return domain.MarketContext{}, false, errors.New("received nil kline event")
	}
	k := event.Kline
	price, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return domain.MarketContext{}, false, fmt.Errorf("parsing close price '%s': %w", k.Close, err)
	}
	if price <= 0 {
		return domain.MarketContext{}, false, fmt.Errorf("non-positive close price '%s'", k.Close)
	}
	ts := event.Time
	if ts == 0 || k.IsFinal {
		ts = k.EndTime
	}
	return domain.MarketContext{Pair: pair, Price: price, Timestamp: time.UnixMilli(ts).UTC()}, k.IsFinal, nil
}

var _ ports.TickFeed = (*Feed)(nil)
