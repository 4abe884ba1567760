package engine

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"market_maker/internal/config"
	"market_maker/internal/domain"
	"market_maker/internal/eventbus"
	"market_maker/internal/exchange"
	"market_maker/internal/logging"
	"market_maker/internal/notify"
	"market_maker/internal/statemachine"
	"market_maker/internal/store"
	"market_maker/internal/strategy"
	"market_maker/internal/telemetry"
)

// watchdogTick is how often the watchdog loop checks for staleness and
// the hourly-notification threshold.
const watchdogTick = 6 * time.Second

// staleThreshold is how long without a price update before the engine
// considers the feed dead and transitions to Error.
const staleThreshold = 600 * time.Second

// notificationInterval caps how often the watchdog sends a routine
// "still alive" update, independent of trading activity.
const notificationInterval = time.Hour

// Engine owns one grid bot instance's process lifecycle: connecting to
// the exchange, running the startup checks, translating the stream into
// bus events, running the watchdog, and terminating cleanly.
type Engine struct {
	cfg      *config.Config
	rest     exchange.RESTService
	stream   exchange.StreamService
	store    store.Store
	bus      *eventbus.EventBus
	sm       *statemachine.StateMachine
	strategy *strategy.Core
	notifier *notify.Notifier
	logger   logging.Logger
	metrics  *telemetry.Metrics
}

// New wires an Engine from already-constructed dependencies. Building
// the concrete REST/stream adapter, store, and sinks is cmd/gridbot's job.
func New(cfg *config.Config, rest exchange.RESTService, stream exchange.StreamService,
	st store.Store, notifier *notify.Notifier, logger logging.Logger, metrics *telemetry.Metrics) *Engine {

	bus := eventbus.New()
	sm := statemachine.New()

	policy, ok := strategy.NewPolicy(cfg.Strategy)
	if !ok {
		panic(fmt.Sprintf("unknown strategy %q accepted by config validation", cfg.Strategy))
	}

	core := strategy.New(cfg, policy, rest, st, bus, sm, logger, metrics)
	notifier.OnNotification(bus)

	return &Engine{
		cfg: cfg, rest: rest, stream: stream, store: st, bus: bus, sm: sm,
		strategy: core, notifier: notifier, logger: logger, metrics: metrics,
	}
}

// Run executes the engine's full lifecycle and blocks until shutdown,
// either because ctx was cancelled or the state machine reached a
// terminal state. It always returns after invoking terminate.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("starting grid bot", "name", e.cfg.Name, "strategy", e.cfg.Strategy, "symbol", e.cfg.Symbol())

	if err := e.store.Init(ctx); err != nil {
		return e.terminate(ctx, fmt.Sprintf("failed to initialize store: %v", err), true)
	}

	if err := e.runStartupChecks(ctx); err != nil {
		_ = e.sm.TransitionTo(statemachine.Error)
		return e.terminate(ctx, err.Error(), true)
	}

	if err := e.stream.Start(ctx, e.onStreamMessage); err != nil {
		_ = e.sm.TransitionTo(statemachine.Error)
		return e.terminate(ctx, fmt.Sprintf("failed to start stream: %v", err), true)
	}

	if err := e.stream.Subscribe(ctx, e.cfg.Symbol()); err != nil {
		_ = e.sm.TransitionTo(statemachine.Error)
		return e.terminate(ctx, fmt.Sprintf("failed to subscribe: %v", err), true)
	}

	e.bus.Publish(eventbus.Event{Type: eventbus.EventPrepareForTrading})
	if e.sm.State() == statemachine.Error {
		return e.terminate(ctx, "startup reconciliation failed", true)
	}

	// Run the watchdog and the shutdown waiter concurrently; whichever
	// finishes first cancels runCtx so the other unblocks too, and
	// g.Wait() only returns once both have actually stopped.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		e.runWatchdog(gctx)
		cancel()
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-e.sm.WaitForShutdown():
			cancel()
		}
		return nil
	})
	_ = g.Wait()

	if ctx.Err() != nil && e.sm.State() != statemachine.Error {
		_ = e.sm.TransitionTo(statemachine.ShutdownRequested)
	}

	exception := e.sm.State() == statemachine.Error
	reason := "the algorithm was shut down successfully"
	if exception {
		reason = "the algorithm was shut down due to an error"
	}
	return e.terminate(ctx, reason, exception)
}

func (e *Engine) runStartupChecks(ctx context.Context) error {
	status, err := e.rest.SystemStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to check exchange status: %w", err)
	}
	if status != "online" {
		return fmt.Errorf("exchange is not online: %s", status)
	}
	if err := e.rest.CheckAPIKeyPermissions(ctx); err != nil {
		return fmt.Errorf("API key permission check failed: %w", err)
	}

	info, err := e.rest.AssetPairInfo(ctx, e.cfg.BaseCurrency, e.cfg.QuoteCurrency)
	if err != nil {
		return fmt.Errorf("failed to fetch asset pair info: %w", err)
	}
	e.strategy.SetPairInfo(info)

	return nil
}

// onStreamMessage is the single callback the stream adapter delivers
// every normalized message to; it translates wire events into bus events.
func (e *Engine) onStreamMessage(msg exchange.StreamMessage) {
	switch msg.Type {
	case exchange.StreamTicker:
		e.bus.Publish(eventbus.Event{Type: eventbus.EventTickerUpdate, Data: msg.Ticker})
	case exchange.StreamExecution:
		e.dispatchExecution(msg.Execution)
	case exchange.StreamSubscribeAck:
		if !msg.SubscribeOK {
			e.logger.Error("subscription rejected by exchange")
			_ = e.sm.TransitionTo(statemachine.Error)
		}
	case exchange.StreamHeartbeat, exchange.StreamStatus, exchange.StreamPong:
		// No strategy-relevant content.
	}
}

func (e *Engine) dispatchExecution(exec exchange.Execution) {
	switch exec.ExecType {
	case domain.ExecFilled:
		e.bus.Publish(eventbus.Event{Type: eventbus.EventOrderFilled, Data: exec})
	case domain.ExecCanceled, domain.ExecExpired:
		e.bus.Publish(eventbus.Event{Type: eventbus.EventOrderCancelled, Data: exec})
	case domain.ExecNew, domain.ExecPending:
		// Acknowledgement only; nothing to react to yet.
	}
}

// runWatchdog polls configuration staleness and nudges a routine
// notification at most once an hour while the engine is running.
func (e *Engine) runWatchdog(ctx context.Context) {
	ticker := time.NewTicker(watchdogTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.sm.State() != statemachine.Running {
				if e.sm.State() == statemachine.ShutdownRequested || e.sm.State() == statemachine.Error {
					return
				}
				continue
			}
			if e.checkStaleness(ctx) {
				return
			}
			e.maybeSendRoutineNotification(ctx)
		}
	}
}

func (e *Engine) checkStaleness(ctx context.Context) bool {
	cfg, err := e.store.GetConfiguration(ctx, e.cfg.Userref)
	if err != nil || cfg == nil {
		return false
	}

	stale := time.Since(cfg.LastPriceTime)
	e.metrics.SetWatchdogStaleSeconds(e.cfg.Symbol(), stale.Seconds())

	if stale > staleThreshold {
		e.logger.Error("no price update for a long time, exiting", "stale_for", stale)
		_ = e.sm.TransitionTo(statemachine.Error)
		return true
	}
	return false
}

func (e *Engine) maybeSendRoutineNotification(ctx context.Context) {
	cfg, err := e.store.GetConfiguration(ctx, e.cfg.Userref)
	if err != nil || cfg == nil {
		return
	}
	if time.Since(cfg.LastNotificationTime) < notificationInterval {
		return
	}

	e.bus.Publish(eventbus.Event{Type: eventbus.EventNotification,
		Data: fmt.Sprintf("%s is running (%s, %s), last price update %s ago", e.cfg.Name, e.cfg.Strategy,
			e.cfg.Symbol(), time.Since(cfg.LastPriceTime).Round(time.Second))})

	cfg.LastNotificationTime = time.Now().UTC()
	_ = e.store.SaveConfiguration(ctx, *cfg)
}

// terminate closes the stream and store and sends a final notification,
// mirroring the shutdown sequence every run path funnels through.
func (e *Engine) terminate(ctx context.Context, reason string, exception bool) error {
	e.logger.Info("terminating", "reason", reason, "exception", exception)

	if e.stream != nil {
		if err := e.stream.Close(); err != nil {
			e.logger.Warn("failed to close stream cleanly", "error", err)
		}
	}

	e.bus.Publish(eventbus.Event{Type: eventbus.EventNotification,
		Data: fmt.Sprintf("%s terminated.\nReason: %s", e.cfg.Name, reason)})
	e.notifier.Close()

	if err := e.store.Close(); err != nil {
		e.logger.Warn("failed to close store cleanly", "error", err)
	}

	if exception {
		return fmt.Errorf("%s", reason)
	}
	return nil
}
