package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"krakenBot/internal/domain"
	"krakenBot/internal/ports"
)

const (
	defaultReconcileInterval = 30 * time.Second
	defaultShutdownTimeout   = 5 * time.Second
)

// ServiceConfig holds the dependencies of the trading service.
type ServiceConfig struct {
	Feed              ports.TickFeed
	Engines           []*StrategyEngine
	ReconcileInterval time.Duration // Negative disables periodic reconciliation
	ShutdownTimeout   time.Duration
	HandleSignals     bool // Stop on SIGINT/SIGTERM
	Logger            ports.Logger
}

// TradingService orchestrates the strategy engines: it streams ticks from the
// feed, fans them out by pair and reconciles open orders periodically.
type TradingService struct {
	feed              ports.TickFeed
	engines           []*StrategyEngine
	routes            map[string][]*StrategyEngine
	reconcileInterval time.Duration
	shutdownTimeout   time.Duration
	handleSignals     bool
	logger            ports.Logger

	mu      sync.Mutex
	dropped int
}

// NewTradingService creates a new application service instance.
func NewTradingService(cfg ServiceConfig) (*TradingService, error) {
	if cfg.Logger == nil || cfg.Feed == nil {
		return nil, fmt.Errorf("missing required dependencies for TradingService")
	}
	if len(cfg.Engines) == 0 {
		return nil, ports.NewConfigurationError("NewTradingService", errors.New("no strategy instances configured"))
	}

	routes := make(map[string][]*StrategyEngine)
	seen := make(map[string]bool, len(cfg.Engines))
	for _, e := range cfg.Engines {
		if seen[e.ID()] {
			return nil, ports.NewConfigurationError("NewTradingService", fmt.Errorf("duplicate strategy instance id %q", e.ID()))
		}
		seen[e.ID()] = true
		for _, pair := range e.Pairs() {
			routes[pair] = append(routes[pair], e)
		}
	}

	interval := cfg.ReconcileInterval
	if interval == 0 {
		interval = defaultReconcileInterval
	}
	shutdown := cfg.ShutdownTimeout
	if shutdown <= 0 {
		shutdown = defaultShutdownTimeout
	}
	return &TradingService{
		feed:              cfg.Feed,
		engines:           cfg.Engines,
		routes:            routes,
		reconcileInterval: interval,
		shutdownTimeout:   shutdown,
		handleSignals:     cfg.HandleSignals,
		logger:            cfg.Logger,
	}, nil
}

// Pairs returns every pair some engine subscribes to.
func (s *TradingService) Pairs() []string {
	pairs := make([]string, 0, len(s.routes))
	for pair := range s.routes {
		pairs = append(pairs, pair)
	}
	sort.Strings(pairs)
	return pairs
}

// Start initializes and starts every engine, then streams ticks until ctx is
// cancelled, a shutdown signal arrives, the feed ends or every engine stopped.
func (s *TradingService) Start(ctx context.Context) error {
	s.logger.Info(ctx, "Starting Trading Service...", map[string]interface{}{"instances": len(s.engines), "pairs": s.Pairs()})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.handleSignals {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		go func() {
			select {
			case sig := <-sigCh:
				s.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	// --- Initialization Steps ---
	for _, e := range s.engines {
		if err := e.Init(ctx); err != nil {
			s.logger.Error(ctx, err, "Failed to initialize strategy instance", map[string]interface{}{"instance": e.ID()})
			return fmt.Errorf("initializing %s: %w", e.ID(), err)
		}
	}
	// Engines are stopped explicitly so that Stop can cancel their orders.
	engineCtx := context.WithoutCancel(ctx)
	started := make([]*StrategyEngine, 0, len(s.engines))
	for _, e := range s.engines {
		if err := e.Start(engineCtx); err != nil {
			s.stopEngines(started)
			return fmt.Errorf("starting %s: %w", e.ID(), err)
		}
		started = append(started, e)
	}
	defer s.stopEngines(started)

	// --- Start Market Data Stream ---
	s.logger.Info(ctx, "Starting tick stream...", map[string]interface{}{"pairs": s.Pairs()})
	feedDoneCh, feedStopCh, err := s.feed.Subscribe(ctx, s.Pairs(), func(tick domain.MarketContext) {
		s.dispatch(ctx, tick)
	}, s.handleFeedError)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to start tick stream")
		return fmt.Errorf("failed to start tick stream: %w", err)
	}
	s.logger.Info(ctx, "Tick stream started successfully")

	if s.reconcileInterval > 0 {
		go s.reconcileLoop(ctx)
	}

	enginesDone := make(chan struct{})
	go func() {
		for _, e := range started {
			<-e.Done()
		}
		close(enginesDone)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		s.logger.Info(ctx, "Main context cancelled, initiating shutdown...")
	case <-feedDoneCh:
		s.logger.Error(ctx, fmt.Errorf("tick stream closed unexpectedly"), "Tick stream stopped")
		runErr = fmt.Errorf("tick stream stopped unexpectedly")
	case <-enginesDone:
		s.logger.Warn(ctx, "Every strategy instance stopped, shutting down")
		runErr = fmt.Errorf("all strategy instances stopped")
	}

	// Signal the stream to stop
	select {
	case feedStopCh <- struct{}{}:
		s.logger.Info(ctx, "Stop signal sent to tick stream")
	default:
		s.logger.Warn(ctx, "Failed to send stop signal to tick stream (already closed?)")
	}
	select {
	case <-feedDoneCh:
		s.logger.Info(ctx, "Tick stream shut down gracefully")
	case <-time.After(s.shutdownTimeout):
		s.logger.Warn(ctx, "Timeout waiting for tick stream to shut down")
	}

	s.logger.Info(ctx, "Trading Service stopped.")
	return runErr
}

// dispatch fans a tick out to every engine subscribed to its pair.
func (s *TradingService) dispatch(ctx context.Context, tick domain.MarketContext) {
	engines := s.routes[tick.Pair]
	if len(engines) == 0 {
		s.logger.Debug(ctx, "Received tick for unrouted pair", map[string]interface{}{"pair": tick.Pair})
		return
	}
	for _, e := range engines {
		if err := e.Submit(ctx, tick); err != nil {
			s.mu.Lock()
			s.dropped++
			s.mu.Unlock()
			if !errors.Is(err, ErrEngineStopped) && !errors.Is(err, context.Canceled) {
				s.logger.Warn(ctx, "Failed to submit tick", map[string]interface{}{"instance": e.ID(), "pair": tick.Pair, "error": err.Error()})
			}
		}
	}
}

// Dropped returns the number of ticks an engine refused.
func (s *TradingService) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *TradingService) handleFeedError(err error) {
	ctx := context.Background()
	s.logger.Error(ctx, err, "Tick stream error reported")
}

func (s *TradingService) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(s.reconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.ReconcileAll(ctx); err != nil {
				s.logger.Warn(ctx, "Reconciliation failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

// ReconcileAll runs Reconcile on every running engine and aggregates failures.
func (s *TradingService) ReconcileAll(ctx context.Context) error {
	var errs error
	for _, e := range s.engines {
		if e.State() != StateRunning {
			continue
		}
		errs = multierr.Append(errs, e.Reconcile(ctx))
	}
	return errs
}

func (s *TradingService) stopEngines(engines []*StrategyEngine) {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	for _, e := range engines {
		if err := e.Stop(ctx); err != nil {
			s.logger.Error(ctx, err, "Failed to stop strategy instance cleanly", map[string]interface{}{"instance": e.ID()})
		}
	}
}
