package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names exposed on the Prometheus endpoint.
const (
	MetricOrdersPlacedTotal    = "gridbot_orders_placed_total"
	MetricOrdersFilledTotal    = "gridbot_orders_filled_total"
	MetricOrdersCancelledTotal = "gridbot_orders_cancelled_total"
	MetricReconciliationTotal  = "gridbot_reconciliation_runs_total"
	MetricDecisionLoopTotal    = "gridbot_decision_loop_ticks_total"
	MetricNotificationsTotal  = "gridbot_notifications_total"
	MetricOpenOrders           = "gridbot_open_orders"
	MetricInvestedAmount       = "gridbot_invested_amount"
	MetricWatchdogStaleSeconds = "gridbot_watchdog_stale_seconds"
	MetricStateMachineState    = "gridbot_state_machine_state"
)

// Metrics holds the instruments the engine and strategy packages
// record against. One instance is created per process.
type Metrics struct {
	OrdersPlacedTotal    metric.Int64Counter
	OrdersFilledTotal    metric.Int64Counter
	OrdersCancelledTotal metric.Int64Counter
	ReconciliationTotal  metric.Int64Counter
	DecisionLoopTotal    metric.Int64Counter
	NotificationsTotal   metric.Int64Counter

	OpenOrders        metric.Int64ObservableGauge
	InvestedAmount    metric.Float64ObservableGauge
	WatchdogStale     metric.Float64ObservableGauge
	StateMachineState metric.Int64ObservableGauge

	mu               sync.RWMutex
	openOrdersMap    map[string]int64
	investedMap      map[string]float64
	watchdogStaleMap map[string]float64
	stateMap         map[string]int64
}

// newMetrics registers every instrument against meter.
func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{
		openOrdersMap:    make(map[string]int64),
		investedMap:      make(map[string]float64),
		watchdogStaleMap: make(map[string]float64),
		stateMap:         make(map[string]int64),
	}

	var err error

	m.OrdersPlacedTotal, err = meter.Int64Counter(MetricOrdersPlacedTotal, metric.WithDescription("Total orders placed, by side"))
	if err != nil {
		return nil, err
	}
	m.OrdersFilledTotal, err = meter.Int64Counter(MetricOrdersFilledTotal, metric.WithDescription("Total orders filled, by side"))
	if err != nil {
		return nil, err
	}
	m.OrdersCancelledTotal, err = meter.Int64Counter(MetricOrdersCancelledTotal, metric.WithDescription("Total orders cancelled"))
	if err != nil {
		return nil, err
	}
	m.ReconciliationTotal, err = meter.Int64Counter(MetricReconciliationTotal, metric.WithDescription("Total orderbook reconciliation runs"))
	if err != nil {
		return nil, err
	}
	m.DecisionLoopTotal, err = meter.Int64Counter(MetricDecisionLoopTotal, metric.WithDescription("Total decision loop ticks"))
	if err != nil {
		return nil, err
	}
	m.NotificationsTotal, err = meter.Int64Counter(MetricNotificationsTotal, metric.WithDescription("Total notifications dispatched"))
	if err != nil {
		return nil, err
	}

	m.OpenOrders, err = meter.Int64ObservableGauge(MetricOpenOrders, metric.WithDescription("Currently open orders, by symbol"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, v := range m.openOrdersMap {
				obs.Observe(v, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return nil, err
	}

	m.InvestedAmount, err = meter.Float64ObservableGauge(MetricInvestedAmount, metric.WithDescription("Quote currency currently committed to open buy orders"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, v := range m.investedMap {
				obs.Observe(v, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return nil, err
	}

	m.WatchdogStale, err = meter.Float64ObservableGauge(MetricWatchdogStaleSeconds, metric.WithDescription("Seconds since the last observed price update"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, v := range m.watchdogStaleMap {
				obs.Observe(v, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return nil, err
	}

	m.StateMachineState, err = meter.Int64ObservableGauge(MetricStateMachineState, metric.WithDescription("Current lifecycle state (0=INITIALIZING,1=RUNNING,2=SHUTDOWN_REQUESTED,3=ERROR)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for name, v := range m.stateMap {
				obs.Observe(v, metric.WithAttributes(attribute.String("instance", name)))
			}
			return nil
		}))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// SetOpenOrders records the current open-order count for symbol.
func (m *Metrics) SetOpenOrders(symbol string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openOrdersMap[symbol] = count
}

// SetInvestedAmount records the quote currency committed to open buys.
func (m *Metrics) SetInvestedAmount(symbol string, amount float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.investedMap[symbol] = amount
}

// SetWatchdogStaleSeconds records how long since the last price update.
func (m *Metrics) SetWatchdogStaleSeconds(symbol string, seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchdogStaleMap[symbol] = seconds
}

// SetStateMachineState records the engine's current lifecycle state.
func (m *Metrics) SetStateMachineState(instance string, state int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateMap[instance] = state
}
