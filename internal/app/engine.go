package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"krakenBot/internal/domain"
	"krakenBot/internal/ports"
	"krakenBot/internal/position"
	"krakenBot/internal/strategy/indicators"
	"krakenBot/internal/strategy/strategies"
)

const (
	defaultMaxAuthFailures = 2
	defaultQueueSize       = 256
)

// ErrEngineStopped is returned for work submitted to a stopped engine.
var ErrEngineStopped = errors.New("strategy engine stopped")

// EngineState is the lifecycle state of a StrategyEngine.
type EngineState int

const (
	StateUninitialized EngineState = iota
	StateInitialized
	StateRunning
	StateStopped
)

func (s EngineState) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "uninitialized"
	}
}

// EquitySource reports the account equity used for position sizing.
type EquitySource func(ctx context.Context) (float64, error)

// FixedEquity returns an EquitySource that always reports equity.
func FixedEquity(equity float64) EquitySource {
	return func(context.Context) (float64, error) { return equity, nil }
}

// BalanceEquity reads the free balance of asset from the exchange on every entry.
func BalanceEquity(gw ports.ExchangeGateway, asset string) EquitySource {
	return func(ctx context.Context) (float64, error) {
		balances, err := gw.GetBalances(ctx)
		if err != nil {
			return 0, err
		}
		equity := balances.Float(asset)
		if equity <= 0 {
			return 0, ports.NewValidationError("BalanceEquity", "no %s balance available for sizing", asset)
		}
		return equity, nil
	}
}

// EngineConfig holds the dependencies and settings of one strategy instance.
type EngineConfig struct {
	ID           string
	Strategy     strategies.Strategy
	Pairs        []string
	Params       map[string]float64
	BoundsPolicy domain.BoundsPolicy
	RiskFraction float64
	Equity       EquitySource

	MaxAuthFailures int  // Consecutive auth failures before stopping; 0 means 2
	CancelOnStop    bool // Cancel this instance's open orders on Stop
	QueueSize       int

	Gateway   ports.ExchangeGateway
	Positions *position.Manager
	Orders    ports.OrderRepository // Optional
	Listener  ports.EngineListener  // Optional
	Logger    ports.Logger
}

// pendingOrder is an order whose PlaceOrder outcome is unknown.
type pendingOrder struct {
	intent domain.OrderIntent
	price  float64            // Tick price when the order was sent
	reason domain.CloseReason // Exits only
}

type pairState struct {
	indicators    *indicators.Engine
	lastTick      time.Time
	lastPrice     float64
	ambiguous     *pendingOrder // Entry
	ambiguousExit *pendingOrder
}

// trackedOrder is an order placed by this instance that is still working on the
// exchange. filled is the executed quantity already applied to the position.
type trackedOrder struct {
	order    *domain.Order
	intent   domain.OrderIntent
	entry    bool
	reason   domain.CloseReason
	refPrice float64
	filled   float64
	cost     float64 // Sum of quantity*price over applied fills
}

// fillTolerance is the relative volume difference treated as no new fill.
const fillTolerance = 1e-9

// StrategyEngine runs one strategy instance over its subscribed pairs.
// Ticks are processed one at a time in arrival order.
type StrategyEngine struct {
	cfg    EngineConfig
	logger ports.Logger

	stateMu sync.RWMutex
	state   EngineState

	tickMu       sync.Mutex // Serializes HandleTick, Reconcile and Stop
	params       map[string]float64
	pairs        map[string]*pairState
	orders       map[string]*trackedOrder
	authFailures int
	cleanedUp    bool // Stop has run its order cleanup

	queue    chan tickRequest
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}
	started  bool
}

type tickRequest struct {
	ctx  context.Context
	tick domain.MarketContext
}

// NewStrategyEngine creates an engine in the Uninitialized state.
func NewStrategyEngine(cfg EngineConfig) (*StrategyEngine, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for strategy engine")
	}
	if cfg.ID == "" {
		return nil, ports.NewConfigurationError("NewStrategyEngine", errors.New("strategy instance id is required"))
	}
	if cfg.Strategy == nil || cfg.Gateway == nil || cfg.Positions == nil {
		return nil, ports.NewConfigurationError("NewStrategyEngine", fmt.Errorf("instance %s: strategy, gateway and position manager are required", cfg.ID))
	}
	if len(cfg.Pairs) == 0 {
		return nil, ports.NewConfigurationError("NewStrategyEngine", fmt.Errorf("instance %s subscribes to no pairs", cfg.ID))
	}
	if cfg.Equity == nil {
		return nil, ports.NewConfigurationError("NewStrategyEngine", fmt.Errorf("instance %s has no equity source", cfg.ID))
	}
	if cfg.MaxAuthFailures <= 0 {
		cfg.MaxAuthFailures = defaultMaxAuthFailures
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.BoundsPolicy == "" {
		cfg.BoundsPolicy = domain.PolicyReject
	}
	return &StrategyEngine{
		cfg:    cfg,
		logger: cfg.Logger,
		state:  StateUninitialized,
		pairs:  make(map[string]*pairState, len(cfg.Pairs)),
		orders: make(map[string]*trackedOrder),
		queue:  make(chan tickRequest, cfg.QueueSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// ID returns the strategy instance id.
func (e *StrategyEngine) ID() string { return e.cfg.ID }

// Pairs returns the subscribed pairs.
func (e *StrategyEngine) Pairs() []string {
	out := append([]string(nil), e.cfg.Pairs...)
	sort.Strings(out)
	return out
}

// StrategyConfig returns the static configuration of the wrapped strategy.
func (e *StrategyEngine) StrategyConfig() domain.StrategyConfig { return e.cfg.Strategy.Config() }

// State returns the current lifecycle state.
func (e *StrategyEngine) State() EngineState {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state
}

// Params returns a copy of the resolved strategy parameters.
func (e *StrategyEngine) Params() map[string]float64 {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	out := make(map[string]float64, len(e.params))
	for k, v := range e.params {
		out[k] = v
	}
	return out
}

// Init resolves parameters, registers indicators and restores open positions.
func (e *StrategyEngine) Init(ctx context.Context) error {
	op := "InitEngine"
	if s := e.State(); s != StateUninitialized {
		return ports.NewValidationError(op, "instance %s is %s, not uninitialized", e.cfg.ID, s)
	}

	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	schema := e.cfg.Strategy.Config()
	params, err := schema.ResolveParams(e.cfg.Params, e.cfg.BoundsPolicy)
	if err != nil {
		return ports.NewConfigurationError(op, err)
	}
	for _, pair := range e.cfg.Pairs {
		if !schema.SupportsPair(pair) {
			return ports.NewConfigurationError(op, fmt.Errorf("strategy %s does not support pair %s", schema.Name, pair))
		}
	}

	template := indicators.NewEngine()
	if err := e.cfg.Strategy.OnInit(params, template); err != nil {
		return ports.NewConfigurationError(op, fmt.Errorf("strategy %s: %w", schema.Name, err))
	}
	for _, pair := range e.cfg.Pairs {
		e.pairs[pair] = &pairState{indicators: template.Clone()}
	}
	e.params = params

	restored, err := e.cfg.Positions.Restore(ctx, e.cfg.ID)
	if err != nil {
		return err
	}

	e.setState(StateInitialized)
	e.logger.Info(ctx, op+" successful", map[string]interface{}{
		"instance":  e.cfg.ID,
		"strategy":  schema.Name,
		"pairs":     e.cfg.Pairs,
		"params":    params,
		"retention": template.Retention(),
		"restored":  restored,
	})
	return nil
}

// Start launches the tick consumer. Init must have succeeded.
func (e *StrategyEngine) Start(ctx context.Context) error {
	op := "StartEngine"
	e.stateMu.Lock()
	if e.state != StateInitialized {
		s := e.state
		e.stateMu.Unlock()
		return ports.NewValidationError(op, "instance %s is %s, not initialized", e.cfg.ID, s)
	}
	e.state = StateRunning
	e.started = true
	e.stateMu.Unlock()

	go e.run(ctx)
	e.logger.Info(ctx, op+" successful", map[string]interface{}{"instance": e.cfg.ID})
	return nil
}

func (e *StrategyEngine) run(ctx context.Context) {
	defer close(e.done)
	for {
		select {
		case <-e.quit:
			return
		case <-ctx.Done():
			e.setState(StateStopped)
			e.closeQuit()
			return
		case req := <-e.queue:
			// Gateway calls outlive the run loop's cancellation and are bounded by their own timeout.
			if err := e.HandleTick(context.WithoutCancel(req.ctx), req.tick); err != nil && !errors.Is(err, ErrEngineStopped) {
				e.logger.Error(ctx, err, "Tick processing failed", map[string]interface{}{"instance": e.cfg.ID, "pair": req.tick.Pair})
			}
		}
	}
}

// Submit enqueues a tick for the consumer goroutine.
func (e *StrategyEngine) Submit(ctx context.Context, tick domain.MarketContext) error {
	if e.State() != StateRunning {
		return ErrEngineStopped
	}
	select {
	case e.queue <- tickRequest{ctx: ctx, tick: tick}:
		return nil
	case <-e.quit:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleTick processes one tick: indicators, strategy decision, then entry or exit.
// Recoverable failures are reported through OnError and the tick is skipped.
// Auth and configuration failures are returned.
func (e *StrategyEngine) HandleTick(ctx context.Context, tick domain.MarketContext) error {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	switch e.State() {
	case StateUninitialized:
		return ports.NewValidationError("HandleTick", "instance %s is not initialized", e.cfg.ID)
	case StateStopped:
		return ErrEngineStopped
	}

	ps, ok := e.pairs[tick.Pair]
	if !ok {
		e.logger.Debug(ctx, "Dropping tick for unsubscribed pair", map[string]interface{}{"instance": e.cfg.ID, "pair": tick.Pair})
		return nil
	}
	if tick.Timestamp.Before(ps.lastTick) {
		e.logger.Debug(ctx, "Dropping out-of-order tick", map[string]interface{}{"instance": e.cfg.ID, "pair": tick.Pair, "timestamp": tick.Timestamp, "last": ps.lastTick})
		return nil
	}

	if _, err := ps.indicators.Update(tick.Price); err != nil {
		return e.handleError(ctx, ports.NewValidationError("HandleTick", "pair %s: %v", tick.Pair, err))
	}
	ps.lastTick = tick.Timestamp
	ps.lastPrice = tick.Price

	pos := e.cfg.Positions.Get(e.cfg.ID, tick.Pair)
	decision, err := e.cfg.Strategy.OnTick(ctx, strategies.TickInput{Tick: tick, Indicators: ps.indicators, Position: pos})
	if err != nil {
		return e.handleError(ctx, err)
	}

	switch decision.Signal {
	case strategies.SignalEnter:
		err = e.enter(ctx, ps, tick, decision)
	case strategies.SignalExit:
		if pos == nil {
			return nil
		}
		err = e.exit(ctx, ps, tick, pos, decision)
	default:
		return nil
	}
	if err != nil {
		return e.handleError(ctx, err)
	}
	return nil
}

func (e *StrategyEngine) enter(ctx context.Context, ps *pairState, tick domain.MarketContext, d strategies.Decision) error {
	op := "enterPosition"
	if e.State() == StateStopped {
		return nil
	}

	if ps.ambiguous != nil {
		adopted, err := e.reconcileEntry(ctx, tick.Pair, ps)
		if err != nil {
			return err
		}
		if adopted {
			return nil
		}
	}

	equity, err := e.cfg.Equity(ctx)
	if err != nil {
		return fmt.Errorf("%s: reading account equity: %w", op, err)
	}
	entryPrice, orderType := tick.Price, domain.Market
	if d.LimitPrice > 0 {
		entryPrice, orderType = d.LimitPrice, domain.Limit
	}
	qty, err := position.SizePosition(entryPrice, d.StopLoss, e.cfg.RiskFraction, equity)
	if err != nil {
		return err
	}

	intent := domain.NewOrderIntent(tick.Pair, d.Side, orderType, qty, d.Reason, tick.Timestamp).WithStops(d.StopLoss, d.TakeProfit)
	if orderType == domain.Limit {
		intent = intent.WithLimitPrice(d.LimitPrice)
	}
	if err := e.cfg.Positions.BeginEntry(e.cfg.ID, tick.Pair, intent.ID, qty, entryPrice); err != nil {
		return err
	}

	e.logger.Info(ctx, op+": placing entry order", map[string]interface{}{
		"instance":      e.cfg.ID,
		"pair":          tick.Pair,
		"side":          intent.Side,
		"quantity":      qty,
		"price":         tick.Price,
		"stopLoss":      intent.StopLoss,
		"takeProfit":    intent.TakeProfit,
		"clientOrderID": intent.ID,
	})
	order, err := e.cfg.Gateway.PlaceOrder(ctx, &intent)
	if err != nil {
		if ports.KindOf(err) == ports.KindTransport {
			// The exchange may have accepted the order; keep the reservation until reconciled.
			ps.ambiguous = &pendingOrder{intent: intent, price: entryPrice}
			e.logger.Warn(ctx, op+": entry outcome unknown, reconciliation required", map[string]interface{}{"instance": e.cfg.ID, "pair": tick.Pair, "clientOrderID": intent.ID})
		} else {
			e.cfg.Positions.AbortEntry(e.cfg.ID, tick.Pair)
		}
		return err
	}
	e.authFailures = 0
	return e.entryAccepted(ctx, intent, order, entryPrice)
}

// entryAccepted records an accepted entry order. Market orders open the position
// at once; limit orders are tracked until Reconcile sees them execute.
func (e *StrategyEngine) entryAccepted(ctx context.Context, intent domain.OrderIntent, order *domain.Order, price float64) error {
	order.StrategyID = e.cfg.ID
	if order.ClientOrderID == "" {
		order.ClientOrderID = intent.ID
	}
	if intent.Type == domain.Limit && order.Status == domain.OrderOpen {
		e.track(ctx, &trackedOrder{order: order, intent: intent, entry: true, refPrice: price})
		return nil
	}
	e.markFilled(ctx, order)
	fill := price
	if order.Price > 0 {
		fill = order.Price
	}
	return e.openPosition(ctx, intent, order, intent.Quantity, fill)
}

func (e *StrategyEngine) openPosition(ctx context.Context, intent domain.OrderIntent, order *domain.Order, quantity, price float64) error {
	pos := &domain.Position{
		StrategyID: e.cfg.ID,
		Pair:       intent.Pair,
		Side:       domain.SideForEntry(intent.Side),
		Quantity:   quantity,
		EntryPrice: price,
		StopLoss:   intent.StopLoss,
		TakeProfit: intent.TakeProfit,
		OpenedAt:   intent.Timestamp,
		OrderID:    order.ID,
	}
	if err := e.cfg.Positions.Open(ctx, pos); err != nil {
		e.cfg.Positions.AbortEntry(e.cfg.ID, intent.Pair)
		return err
	}
	e.positionUpdated(ctx, pos, false)
	return nil
}

func (e *StrategyEngine) exit(ctx context.Context, ps *pairState, tick domain.MarketContext, pos *domain.Position, d strategies.Decision) error {
	op := "exitPosition"
	if e.State() == StateStopped {
		return nil
	}
	reason := d.CloseReason
	if reason == "" {
		reason = domain.CloseReasonSignal
	}

	if ps.ambiguousExit != nil {
		adopted, err := e.reconcileExit(ctx, tick.Pair, ps)
		if err != nil {
			return err
		}
		if adopted {
			return nil
		}
	}
	if txid, ok := e.trackedExit(tick.Pair); ok {
		e.logger.Debug(ctx, op+": exit order already working", map[string]interface{}{"instance": e.cfg.ID, "pair": tick.Pair, "txid": txid})
		return nil
	}
	if err := e.cancelRestingEntries(ctx, tick.Pair); err != nil {
		return err
	}
	if current := e.cfg.Positions.Get(e.cfg.ID, tick.Pair); current != nil {
		pos = current
	}

	intent := domain.NewOrderIntent(tick.Pair, pos.Side.ExitSide(), domain.Market, pos.Quantity, d.Reason, tick.Timestamp)
	e.logger.Info(ctx, op+": placing exit order", map[string]interface{}{
		"instance":      e.cfg.ID,
		"pair":          tick.Pair,
		"quantity":      pos.Quantity,
		"price":         tick.Price,
		"reason":        reason,
		"clientOrderID": intent.ID,
	})
	order, err := e.cfg.Gateway.PlaceOrder(ctx, &intent)
	if err != nil {
		if ports.KindOf(err) == ports.KindTransport {
			// The sell may be live; no further exit is sent until it is reconciled.
			ps.ambiguousExit = &pendingOrder{intent: intent, price: tick.Price, reason: reason}
			e.logger.Warn(ctx, op+": exit outcome unknown, reconciliation required", map[string]interface{}{"instance": e.cfg.ID, "pair": tick.Pair, "clientOrderID": intent.ID})
		}
		return err
	}
	e.authFailures = 0
	order.StrategyID = e.cfg.ID
	e.markFilled(ctx, order)

	fill := tick.Price
	if order.Price > 0 {
		fill = order.Price
	}
	return e.closePosition(ctx, pos, fill, reason)
}

func (e *StrategyEngine) closePosition(ctx context.Context, pos *domain.Position, price float64, reason domain.CloseReason) error {
	if _, err := e.cfg.Positions.Close(ctx, e.cfg.ID, pos.Pair, price, reason); err != nil {
		return err
	}
	e.positionUpdated(ctx, pos, true)
	return nil
}

func (e *StrategyEngine) positionUpdated(ctx context.Context, pos *domain.Position, closed bool) {
	cp := *pos
	e.cfg.Strategy.OnPositionUpdate(ctx, &cp, closed)
	if e.cfg.Listener != nil {
		e.cfg.Listener.OnPositionUpdate(e.cfg.ID, &cp, closed)
	}
}

func (e *StrategyEngine) markFilled(ctx context.Context, order *domain.Order) {
	if order.Status == domain.OrderPending {
		_ = order.Transition(domain.OrderOpen)
	}
	if err := order.Transition(domain.OrderFilled); err != nil {
		e.logger.Warn(ctx, "Unexpected order status", map[string]interface{}{"txid": order.ID, "error": err.Error()})
	}
	e.orderUpdated(ctx, order)
}

func (e *StrategyEngine) orderUpdated(ctx context.Context, order *domain.Order) {
	if e.cfg.Orders != nil {
		if err := e.cfg.Orders.SaveOrder(ctx, order); err != nil {
			e.logger.Error(ctx, err, "Failed to journal order", map[string]interface{}{"txid": order.ID})
		}
	}
	cp := *order
	e.cfg.Strategy.OnOrderUpdate(ctx, &cp)
	if e.cfg.Listener != nil {
		e.cfg.Listener.OnOrderUpdate(e.cfg.ID, &cp)
	}
}

func (e *StrategyEngine) track(ctx context.Context, t *trackedOrder) {
	e.orders[t.order.ID] = t
	e.orderUpdated(ctx, t.order)
}

// trackedExit returns the txid of a working exit order on pair.
func (e *StrategyEngine) trackedExit(pair string) (string, bool) {
	for txid, t := range e.orders {
		if !t.entry && t.intent.Pair == pair {
			return txid, true
		}
	}
	return "", false
}

// cancelRestingEntries cancels working entry orders on pair so an exit does not
// race a further entry fill.
func (e *StrategyEngine) cancelRestingEntries(ctx context.Context, pair string) error {
	for txid, t := range e.orders {
		if !t.entry || t.intent.Pair != pair {
			continue
		}
		if _, err := e.cfg.Gateway.CancelOrder(ctx, txid); err != nil {
			return fmt.Errorf("cancelling resting entry %s before exit: %w", txid, err)
		}
		delete(e.orders, txid)
		_ = t.order.Transition(domain.OrderCancelled)
		e.orderUpdated(ctx, t.order)
		if t.filled == 0 {
			e.cfg.Positions.AbortEntry(e.cfg.ID, pair)
		}
	}
	return nil
}

// applyFill moves the position to the executed volume of a tracked order.
// avgPrice is the exchange's average price over all of executed; zero when unknown.
func (e *StrategyEngine) applyFill(ctx context.Context, t *trackedOrder, executed, avgPrice float64) error {
	delta := executed - t.filled
	if delta <= fillTolerance*t.intent.Quantity {
		return nil
	}
	price := e.fallbackPrice(t)
	if avgPrice > 0 {
		price = avgPrice
		if p := (avgPrice*executed - t.cost) / delta; p > 0 {
			price = p
		}
	}
	t.filled = executed
	t.cost += price * delta
	pair := t.intent.Pair
	e.logger.Info(ctx, "Order executed", map[string]interface{}{"instance": e.cfg.ID, "pair": pair, "txid": t.order.ID, "executed": executed, "of": t.order.Quantity, "price": price})

	if t.entry {
		if e.cfg.Positions.Get(e.cfg.ID, pair) == nil {
			return e.openPosition(ctx, t.intent, t.order, delta, price)
		}
		updated, err := e.cfg.Positions.Increase(ctx, e.cfg.ID, pair, delta, price)
		if err != nil {
			return err
		}
		e.positionUpdated(ctx, updated, false)
		return nil
	}

	before := e.cfg.Positions.Get(e.cfg.ID, pair)
	if before == nil {
		return nil
	}
	updated, _, err := e.cfg.Positions.Reduce(ctx, e.cfg.ID, pair, delta, price, t.reason)
	if err != nil {
		return err
	}
	if updated == nil {
		e.positionUpdated(ctx, before, true)
		return nil
	}
	e.positionUpdated(ctx, updated, false)
	return nil
}

func (e *StrategyEngine) fallbackPrice(t *trackedOrder) float64 {
	if t.intent.LimitPrice > 0 {
		return t.intent.LimitPrice
	}
	if t.refPrice > 0 {
		return t.refPrice
	}
	if ps, ok := e.pairs[t.intent.Pair]; ok {
		return ps.lastPrice
	}
	return 0
}

// reconcileEntry resolves an ambiguous entry through the open orders query.
// It reports whether an order carrying the entry's client order id was adopted.
// When none is found the reservation is released.
func (e *StrategyEngine) reconcileEntry(ctx context.Context, pair string, ps *pairState) (bool, error) {
	open, err := e.cfg.Gateway.GetOpenOrders(ctx, false)
	if err != nil {
		return false, err
	}
	e.authFailures = 0
	return e.resolveAmbiguous(ctx, pair, ps, open)
}

func (e *StrategyEngine) resolveAmbiguous(ctx context.Context, pair string, ps *pairState, open map[string]*domain.OrderDetail) (bool, error) {
	pending := ps.ambiguous
	ps.ambiguous = nil
	if t := e.adopt(ctx, pair, pending, open, true); t != nil {
		return true, e.applyFill(ctx, t, open[t.order.ID].VolumeExecuted, open[t.order.ID].Price)
	}
	e.logger.Warn(ctx, "Ambiguous entry not found among open orders, releasing reservation", map[string]interface{}{"instance": e.cfg.ID, "pair": pair, "clientOrderID": pending.intent.ID})
	e.cfg.Positions.AbortEntry(e.cfg.ID, pair)
	return false, nil
}

// reconcileExit resolves an ambiguous exit through the open orders query. It
// reports whether the exit was found working on the exchange.
func (e *StrategyEngine) reconcileExit(ctx context.Context, pair string, ps *pairState) (bool, error) {
	open, err := e.cfg.Gateway.GetOpenOrders(ctx, false)
	if err != nil {
		return false, err
	}
	e.authFailures = 0
	return e.resolveAmbiguousExit(ctx, pair, ps, open)
}

func (e *StrategyEngine) resolveAmbiguousExit(ctx context.Context, pair string, ps *pairState, open map[string]*domain.OrderDetail) (bool, error) {
	pending := ps.ambiguousExit
	ps.ambiguousExit = nil
	if t := e.adopt(ctx, pair, pending, open, false); t != nil {
		return true, e.applyFill(ctx, t, open[t.order.ID].VolumeExecuted, open[t.order.ID].Price)
	}
	e.logger.Warn(ctx, "Ambiguous exit not found among open orders, exit may be sent again", map[string]interface{}{"instance": e.cfg.ID, "pair": pair, "clientOrderID": pending.intent.ID})
	return false, nil
}

// adopt starts tracking the open order carrying pending's client order id.
func (e *StrategyEngine) adopt(ctx context.Context, pair string, pending *pendingOrder, open map[string]*domain.OrderDetail, entry bool) *trackedOrder {
	for txid, detail := range open {
		if detail.ClientOrderID != pending.intent.ID {
			continue
		}
		e.logger.Info(ctx, "Adopting order from ambiguous submission", map[string]interface{}{"instance": e.cfg.ID, "pair": pair, "txid": txid, "clientOrderID": pending.intent.ID, "entry": entry})
		t := &trackedOrder{
			order: &domain.Order{
				ID:            txid,
				ClientOrderID: pending.intent.ID,
				StrategyID:    e.cfg.ID,
				Pair:          pair,
				Side:          pending.intent.Side,
				Type:          pending.intent.Type,
				Quantity:      pending.intent.Quantity,
				Price:         pending.intent.LimitPrice,
				Status:        domain.OrderOpen,
				OpenedAt:      detail.OpenedAt,
			},
			intent:   pending.intent,
			entry:    entry,
			reason:   pending.reason,
			refPrice: pending.price,
		}
		e.track(ctx, t)
		return t
	}
	return nil
}

// Reconcile resolves ambiguous submissions, applies partial executions of
// working orders and settles tracked orders that left the open order list.
func (e *StrategyEngine) Reconcile(ctx context.Context) error {
	op := "Reconcile"
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	if e.State() == StateUninitialized {
		return ports.NewValidationError(op, "instance %s is not initialized", e.cfg.ID)
	}
	var ambiguous []string
	for pair, ps := range e.pairs {
		if ps.ambiguous != nil || ps.ambiguousExit != nil {
			ambiguous = append(ambiguous, pair)
		}
	}
	if len(ambiguous) == 0 && len(e.orders) == 0 {
		return nil
	}

	open, err := e.cfg.Gateway.GetOpenOrders(ctx, false)
	if err != nil {
		_ = e.handleError(ctx, err)
		return err
	}
	e.authFailures = 0

	sort.Strings(ambiguous)
	for _, pair := range ambiguous {
		ps := e.pairs[pair]
		if ps.ambiguous != nil {
			if _, err := e.resolveAmbiguous(ctx, pair, ps, open); err != nil {
				e.report(ctx, err)
			}
		}
		if ps.ambiguousExit != nil {
			if _, err := e.resolveAmbiguousExit(ctx, pair, ps, open); err != nil {
				e.report(ctx, err)
			}
		}
	}

	txids := make([]string, 0, len(e.orders))
	for txid := range e.orders {
		txids = append(txids, txid)
	}
	sort.Strings(txids)
	var gone []string
	for _, txid := range txids {
		detail, stillOpen := open[txid]
		if !stillOpen {
			gone = append(gone, txid)
			continue
		}
		if err := e.applyFill(ctx, e.orders[txid], detail.VolumeExecuted, detail.Price); err != nil {
			e.report(ctx, err)
		}
	}

	if len(gone) > 0 {
		closed, err := e.cfg.Gateway.QueryOrders(ctx, gone)
		if err != nil {
			_ = e.handleError(ctx, err)
			return err
		}
		for _, txid := range gone {
			if err := e.settle(ctx, txid, closed[txid]); err != nil {
				e.report(ctx, err)
			}
		}
	}
	e.logger.Debug(ctx, op+" successful", map[string]interface{}{"instance": e.cfg.ID, "openOrders": len(open), "tracked": len(e.orders)})
	return nil
}

// settle finalizes a tracked order that left the open order list. A nil detail
// means the exchange no longer knows the order; it is assumed filled.
func (e *StrategyEngine) settle(ctx context.Context, txid string, detail *domain.OrderDetail) error {
	t := e.orders[txid]
	executed, avgPrice, status := t.order.Quantity, 0.0, domain.ExchangeStatusClosed
	if detail == nil {
		e.logger.Warn(ctx, "Order left the book and is unknown to the exchange, assuming filled", map[string]interface{}{"instance": e.cfg.ID, "txid": txid})
	} else {
		executed, avgPrice, status = detail.VolumeExecuted, detail.Price, detail.Status
		if status == domain.ExchangeStatusClosed && executed <= 0 {
			executed = t.order.Quantity
		}
	}

	switch status {
	case domain.ExchangeStatusClosed, domain.ExchangeStatusCanceled, domain.ExchangeStatusExpired:
	default:
		// Still working; OpenOrders raced the order's own transitions.
		return e.applyFill(ctx, t, executed, avgPrice)
	}

	delete(e.orders, txid)
	err := e.applyFill(ctx, t, executed, avgPrice)
	if status == domain.ExchangeStatusClosed {
		e.markFilled(ctx, t.order)
		return err
	}

	_ = t.order.Transition(domain.OrderCancelled)
	e.orderUpdated(ctx, t.order)
	if t.entry && t.filled == 0 {
		e.cfg.Positions.AbortEntry(e.cfg.ID, t.intent.Pair)
	}
	e.logger.Info(ctx, "Order closed without full execution", map[string]interface{}{"instance": e.cfg.ID, "txid": txid, "status": status, "executed": t.filled, "of": t.order.Quantity})
	return err
}

// Stop refuses new intents, waits for the in-flight tick and, when configured,
// cancels the instance's own open orders. Stop is idempotent; an engine stopped
// by its context or by halt still runs the cleanup on its first Stop.
func (e *StrategyEngine) Stop(ctx context.Context) error {
	op := "StopEngine"
	e.stateMu.Lock()
	e.state = StateStopped
	started := e.started
	e.stateMu.Unlock()

	e.closeQuit()
	if started {
		<-e.done
	}

	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	if e.cleanedUp {
		return nil
	}
	e.cleanedUp = true

	var err error
	if e.cfg.CancelOnStop {
		err = e.cancelOwnOrders(ctx)
	}
	e.logger.Info(ctx, op+" successful", map[string]interface{}{"instance": e.cfg.ID, "cancelOrders": e.cfg.CancelOnStop})
	return err
}

// cancelOwnOrders cancels the working orders this instance placed, plus any
// open order carrying an unresolved submission's client order id.
func (e *StrategyEngine) cancelOwnOrders(ctx context.Context) error {
	txids := make([]string, 0, len(e.orders))
	for txid := range e.orders {
		txids = append(txids, txid)
	}

	ambiguous := make(map[string]struct{})
	for _, ps := range e.pairs {
		for _, p := range []*pendingOrder{ps.ambiguous, ps.ambiguousExit} {
			if p != nil {
				ambiguous[p.intent.ID] = struct{}{}
			}
		}
	}
	if len(ambiguous) > 0 {
		open, err := e.cfg.Gateway.GetOpenOrders(ctx, false)
		if err != nil {
			return err
		}
		for txid, detail := range open {
			if _, ok := ambiguous[detail.ClientOrderID]; ok {
				txids = append(txids, txid)
			}
		}
	}
	if len(txids) == 0 {
		return nil
	}
	sort.Strings(txids)

	res, err := e.cfg.Gateway.CancelOrders(ctx, txids)
	count := 0
	if res != nil {
		count = res.Count
	}
	for _, txid := range txids {
		t, ok := e.orders[txid]
		if !ok {
			continue
		}
		if err == nil {
			_ = t.order.Transition(domain.OrderCancelled)
			e.orderUpdated(ctx, t.order)
			delete(e.orders, txid)
			if t.entry && t.filled == 0 {
				e.cfg.Positions.AbortEntry(e.cfg.ID, t.intent.Pair)
			}
		}
	}
	e.logger.Info(ctx, "Cancelled own open orders", map[string]interface{}{"instance": e.cfg.ID, "requested": len(txids), "cancelled": count})
	return err
}

// handleError reports err and decides whether it is fatal to the instance.
func (e *StrategyEngine) handleError(ctx context.Context, err error) error {
	e.report(ctx, err)
	switch ports.KindOf(err) {
	case ports.KindAuth:
		e.authFailures++
		if e.authFailures >= e.cfg.MaxAuthFailures {
			e.halt(ctx, err)
		}
		return err
	case ports.KindConfiguration:
		e.halt(ctx, err)
		return err
	default:
		return nil
	}
}

func (e *StrategyEngine) report(ctx context.Context, err error) {
	e.logger.Warn(ctx, "Strategy instance error", map[string]interface{}{"instance": e.cfg.ID, "kind": ports.KindOf(err).String(), "error": err.Error()})
	e.cfg.Strategy.OnError(ctx, err)
	if e.cfg.Listener != nil {
		e.cfg.Listener.OnError(e.cfg.ID, err)
	}
}

// halt moves the engine to Stopped from inside tick processing.
func (e *StrategyEngine) halt(ctx context.Context, cause error) {
	e.setState(StateStopped)
	e.closeQuit()
	e.logger.Error(ctx, cause, "Strategy instance stopped", map[string]interface{}{"instance": e.cfg.ID, "authFailures": e.authFailures})
}

func (e *StrategyEngine) setState(s EngineState) {
	e.stateMu.Lock()
	e.state = s
	e.stateMu.Unlock()
}

func (e *StrategyEngine) closeQuit() {
	e.quitOnce.Do(func() { close(e.quit) })
}

// Done is closed when the tick consumer exits.
func (e *StrategyEngine) Done() <-chan struct{} {
	return e.done
}
