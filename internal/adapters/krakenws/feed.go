package krakenws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"krakenBot/internal/domain"
	"krakenBot/internal/ports"
)

const (
	DefaultURL         = "wss://ws.kraken.com/v2"
	defaultReadTimeout = 30 * time.Second
	writeTimeout       = 5 * time.Second
)

// Config holds configuration for the Kraken websocket ticker feed.
type Config struct {
	URL                  string
	Symbols              map[string]string // Pair -> websocket symbol; WSSymbol otherwise
	ReadTimeout          time.Duration     // Max silence before reconnecting; heartbeats arrive every second
	ReconnectDelay       time.Duration
	MaxReconnectDelay    time.Duration
	MaxReconnectAttempts int // Consecutive failed connects before giving up, default 10
	Dialer               *websocket.Dialer
	Clock                func() time.Time
	Logger               ports.Logger
}

// Feed implements ports.TickFeed over the Kraken v2 ticker channel.
type Feed struct {
	url         string
	symbols     map[string]string
	readTimeout time.Duration
	minDelay    time.Duration
	maxDelay    time.Duration
	maxAttempts int
	dialer      *websocket.Dialer
	clock       func() time.Time
	logger      ports.Logger
}

// New creates a Kraken ticker feed.
func New(cfg Config) (*Feed, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Kraken websocket feed")
	}
	f := &Feed{
		url:         cfg.URL,
		symbols:     cfg.Symbols,
		readTimeout: cfg.ReadTimeout,
		minDelay:    cfg.ReconnectDelay,
		maxDelay:    cfg.MaxReconnectDelay,
		maxAttempts: cfg.MaxReconnectAttempts,
		dialer:      cfg.Dialer,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
	}
	if f.url == "" {
		f.url = DefaultURL
	}
	if f.readTimeout <= 0 {
		f.readTimeout = defaultReadTimeout
	}
	if f.minDelay <= 0 {
		f.minDelay = time.Second
	}
	if f.maxDelay <= 0 {
		f.maxDelay = time.Minute
	}
	if f.maxAttempts <= 0 {
		f.maxAttempts = 10
	}
	if f.dialer == nil {
		f.dialer = websocket.DefaultDialer
	}
	if f.clock == nil {
		f.clock = time.Now
	}
	return f, nil
}

// WSSymbol maps a REST pair name to the websocket v2 form: XBTUSD -> BTC/USD.
func WSSymbol(pair string) string {
	p := strings.ToUpper(pair)
	if !strings.Contains(p, "/") {
		if len(p) <= 3 {
			return p
		}
		p = p[:len(p)-3] + "/" + p[len(p)-3:]
	}
	base, quote, _ := strings.Cut(p, "/")
	if base == "XBT" {
		base = "BTC"
	}
	if base == "XDG" {
		base = "DOGE"
	}
	return base + "/" + quote
}

type subscribeRequest struct {
	Method string          `json:"method"`
	Params subscribeParams `json:"params"`
	ReqID  int64           `json:"req_id,omitempty"`
}

type subscribeParams struct {
	Channel  string   `json:"channel"`
	Symbol   []string `json:"symbol"`
	Snapshot bool     `json:"snapshot"`
}

type message struct {
	Channel string          `json:"channel"`
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
	Method  string          `json:"method"`
	Success *bool           `json:"success"`
	Error   string          `json:"error"`
}

type tickerData struct {
	Symbol string  `json:"symbol"`
	Last   float64 `json:"last"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
}

// session tracks per-pair timestamps across reconnects so ticks stay ordered.
type session struct {
	pairs    map[string]string // websocket symbol -> pair
	mu       sync.Mutex
	lastTick map[string]time.Time
}

// Subscribe connects, subscribes to the ticker of every pair and reconnects with
// backoff until stopped. doneCh is closed when the stream ends.
func (f *Feed) Subscribe(ctx context.Context, pairs []string, handler func(tick domain.MarketContext), errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error) {
	if len(pairs) == 0 {
		return nil, nil, ports.NewValidationError("Subscribe", "no pairs to subscribe")
	}
	sess := &session{pairs: make(map[string]string, len(pairs)), lastTick: make(map[string]time.Time)}
	for _, pair := range pairs {
		sym := WSSymbol(pair)
		if s, ok := f.symbols[pair]; ok {
			sym = s
		}
		sess.pairs[sym] = pair
	}

	wsCtx, cancelWs := context.WithCancel(ctx)
	doneCh = make(chan struct{})
	stopCh = make(chan struct{}, 1)

	go func() {
		select {
		case <-stopCh:
			f.logger.Info(ctx, "Kraken feed: received external stop signal")
			cancelWs()
		case <-wsCtx.Done():
		}
	}()
	go func() {
		defer close(doneCh)
		defer cancelWs()
		f.run(wsCtx, sess, handler, errHandler)
	}()
	return doneCh, stopCh, nil
}

func (f *Feed) run(ctx context.Context, sess *session, handler func(domain.MarketContext), errHandler func(error)) {
	op := "StreamTicker"
	b := &backoff.Backoff{Min: f.minDelay, Max: f.maxDelay, Factor: 2, Jitter: true}
	for ctx.Err() == nil {
		conn, err := f.connect(ctx, sess)
		if err == nil {
			// The backoff only resets once the exchange streams live data.
			err = f.readLoop(ctx, conn, sess, handler, b.Reset)
			if ctx.Err() != nil {
				return
			}
			var subErr *subscriptionError
			if errors.As(err, &subErr) {
				f.logger.Error(ctx, err, op+": Subscription rejected, giving up.", map[string]interface{}{"url": f.url})
				errHandler(ports.NewConfigurationError(op, err))
				return
			}
			f.logger.Warn(ctx, op+": WebSocket connection closed unexpectedly. Reconnecting...", map[string]interface{}{"error": fmt.Sprint(err)})
			errHandler(ports.NewTransportError(op, err))
		} else if ctx.Err() != nil {
			return
		}

		if int(b.Attempt())+1 >= f.maxAttempts {
			f.logger.Error(ctx, err, op+": Max reconnection attempts exceeded, giving up.", map[string]interface{}{"url": f.url})
			errHandler(ports.NewTransportError(op, err))
			return
		}
		delay := b.Duration()
		f.logger.Info(ctx, op+": Reconnecting after delay", map[string]interface{}{"attempt": int(b.Attempt()), "delay": delay.String(), "error": fmt.Sprint(err)})
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

func (f *Feed) connect(ctx context.Context, sess *session) (*websocket.Conn, error) {
	conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", f.url, err)
	}
	symbols := make([]string, 0, len(sess.pairs))
	for sym := range sess.pairs {
		symbols = append(symbols, sym)
	}
	req := subscribeRequest{
		Method: "subscribe",
		Params: subscribeParams{Channel: "ticker", Symbol: symbols, Snapshot: true},
		ReqID:  f.clock().UnixMilli(),
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sending ticker subscription: %w", err)
	}
	f.logger.Info(ctx, "Kraken feed: ticker subscription sent", map[string]interface{}{"symbols": symbols})
	return conn, nil
}

// readLoop reads messages until the connection fails or ctx is cancelled.
// onLive runs on every ticker or heartbeat message.
func (f *Feed) readLoop(ctx context.Context, conn *websocket.Conn, sess *session, handler func(domain.MarketContext), onLive func()) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
		case <-stop:
			conn.Close()
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(f.readTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		ticks, live, err := f.decode(raw, sess)
		if err != nil {
			var subErr *subscriptionError
			if errors.As(err, &subErr) {
				return err
			}
			f.logger.Warn(ctx, "Kraken feed: skipping undecodable message", map[string]interface{}{"error": err.Error()})
			continue
		}
		if live {
			onLive()
		}
		for _, tick := range ticks {
			handler(tick)
		}
	}
}

type subscriptionError struct{ msg string }

func (e *subscriptionError) Error() string { return "ticker subscription rejected: " + e.msg }

// decode parses one websocket message into ticks for subscribed pairs. live
// reports a ticker or heartbeat message, the sign of a working subscription.
func (f *Feed) decode(raw []byte, sess *session) (ticks []domain.MarketContext, live bool, err error) {
	var msg message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, false, fmt.Errorf("decoding message: %w", err)
	}
	if msg.Method == "subscribe" && msg.Success != nil && !*msg.Success {
		return nil, false, &subscriptionError{msg: msg.Error}
	}
	if msg.Channel == "heartbeat" {
		return nil, true, nil
	}
	if msg.Channel != "ticker" || (msg.Type != "snapshot" && msg.Type != "update") {
		return nil, false, nil
	}

	var data []tickerData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		return nil, false, fmt.Errorf("decoding ticker data: %w", err)
	}
	now := f.clock().UTC()
	ticks = make([]domain.MarketContext, 0, len(data))
	sess.mu.Lock()
	defer sess.mu.Unlock()
	for _, d := range data {
		pair, ok := sess.pairs[d.Symbol]
		if !ok || !(d.Last > 0) {
			continue
		}
		ts := now
		if last := sess.lastTick[pair]; ts.Before(last) {
			ts = last
		}
		sess.lastTick[pair] = ts
		ticks = append(ticks, domain.MarketContext{Pair: pair, Price: d.Last, Timestamp: ts})
	}
	return ticks, true, nil
}

var _ ports.TickFeed = (*Feed)(nil)
