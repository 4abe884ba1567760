package strategy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"market_maker/internal/config"
	"market_maker/internal/domain"
	"market_maker/internal/eventbus"
	"market_maker/internal/exchange"
	"market_maker/internal/logging"
	"market_maker/internal/statemachine"
	"market_maker/internal/store"
	"market_maker/internal/telemetry"
)

// hysteresis is the 1.001 band applied to the shift-up trigger so the
// grid does not oscillate right at the boundary.
var hysteresis = decimal.NewFromFloat(1.001)

// retryDelay is the backoff used between get-order-info retries when
// waiting for a fill to become visible via the REST view, and between
// sell-placement retries while a matching buy has not settled yet.
const retryDelay = time.Second

// Core is the grid strategy: it owns the local orderbook, reacts to
// ticker and execution events, and is the sole writer to the four
// persisted tables (spec.md's orderbook, configuration, pending-txids
// and unsold-buy-txids).
type Core struct {
	mu sync.Mutex

	cfg     *config.Config
	policy  Policy
	symbol  string
	base    string
	quote   string
	userref int64

	rest    exchange.RESTService
	store   store.Store
	bus     *eventbus.EventBus
	sm      *statemachine.StateMachine
	logger  logging.Logger
	metrics *telemetry.Metrics

	limiter *rate.Limiter

	pairInfo   domain.AssetPairInfo
	fee        decimal.Decimal
	lastTicker decimal.Decimal
}

// New wires a Core against its dependencies and subscribes it to the
// bus events it reacts to.
func New(cfg *config.Config, policy Policy, rest exchange.RESTService, st store.Store,
	bus *eventbus.EventBus, sm *statemachine.StateMachine, logger logging.Logger, metrics *telemetry.Metrics) *Core {

	fee := decimal.NewFromFloat(cfg.Fee)

	c := &Core{
		cfg: cfg, policy: policy, symbol: cfg.Symbol(), base: cfg.BaseCurrency, quote: cfg.QuoteCurrency,
		userref: cfg.Userref, rest: rest, store: st, bus: bus, sm: sm, logger: logger, metrics: metrics,
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
		fee:     fee,
	}

	sm.RegisterFact("ready_to_trade", false)

	bus.Subscribe(eventbus.EventPrepareForTrading, func(e eventbus.Event) { c.guarded(c.onPrepareForTrading) })
	bus.Subscribe(eventbus.EventTickerUpdate, func(e eventbus.Event) {
		if t, ok := e.Data.(domain.Ticker); ok {
			c.guarded(func(ctx context.Context) error { return c.onTickerUpdate(ctx, t) })
		}
	})
	bus.Subscribe(eventbus.EventOrderFilled, func(e eventbus.Event) {
		if exec, ok := e.Data.(exchange.Execution); ok {
			c.guarded(func(ctx context.Context) error { return c.onOrderFilled(ctx, exec) })
		}
	})
	bus.Subscribe(eventbus.EventOrderCancelled, func(e eventbus.Event) {
		if exec, ok := e.Data.(exchange.Execution); ok {
			c.guarded(func(ctx context.Context) error { return c.handleCancel(ctx, exec.OrderID) })
		}
	})

	return c
}

// guarded runs fn under the strategy's big lock (spec.md §5: a single
// mutex around handler entry is sufficient for this core) and routes
// any error into the lifecycle state machine rather than panicking.
func (c *Core) guarded(fn func(ctx context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sm.State() != statemachine.Running && c.sm.State() != statemachine.Initializing {
		return
	}

	if err := fn(context.Background()); err != nil {
		c.logger.Error("strategy handler failed", "error", err)
		if tErr := c.sm.TransitionTo(statemachine.Error); tErr != nil {
			c.logger.Error("failed to transition to ERROR", "error", tErr)
		}
	}
}

func (c *Core) notify(message string) {
	c.bus.Publish(eventbus.Event{Type: eventbus.EventNotification, Data: message})
}

// SetPairInfo installs the asset-pair metadata fetched once at startup.
func (c *Core) SetPairInfo(info domain.AssetPairInfo) {
	c.pairInfo = info
}

// currentTicker returns the last observed market price, or fallback if
// no ticker has been seen yet (e.g. a fill settles during startup
// reconciliation, before the first ticker event arrives).
func (c *Core) currentTicker(fallback decimal.Decimal) decimal.Decimal {
	if c.lastTicker.IsZero() {
		return fallback
	}
	return c.lastTicker
}

// onPrepareForTrading runs the startup reconciliation (spec.md §4.6)
// and flips the ready_to_trade fact once it completes successfully.
func (c *Core) onPrepareForTrading(ctx context.Context) error {
	if err := c.reconcile(ctx); err != nil {
		return fmt.Errorf("startup reconciliation failed: %w", err)
	}
	if err := c.sm.SetFact("ready_to_trade", true); err != nil {
		return err
	}
	return c.sm.TransitionTo(statemachine.Running)
}

// --- local orderbook helpers -------------------------------------------------

func (c *Core) openBuysDesc(ctx context.Context) ([]domain.Order, error) {
	buys, err := c.store.ListOrders(ctx, c.userref, domain.SideBuy, domain.StatusOpen)
	if err != nil {
		return nil, err
	}
	sort.Slice(buys, func(i, j int) bool { return buys[i].Price.GreaterThan(buys[j].Price) })
	return buys, nil
}

func (c *Core) openSells(ctx context.Context) ([]domain.Order, error) {
	return c.store.ListOrders(ctx, c.userref, domain.SideSell, domain.StatusOpen)
}

func (c *Core) investedAmount(ctx context.Context) (decimal.Decimal, error) {
	buys, err := c.openBuysDesc(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, b := range buys {
		total = total.Add(b.Price.Mul(b.Volume))
	}
	return total, nil
}

// --- §4.6 reconciliation -----------------------------------------------------

func (c *Core) reconcile(ctx context.Context) error {
	c.metrics.ReconciliationTotal.Add(ctx, 1)

	upstream, err := c.rest.GetOpenOrders(ctx, c.userref)
	if err != nil {
		return fmt.Errorf("failed to fetch open orders: %w", err)
	}
	upstreamByTxid := make(map[string]domain.Order, len(upstream))
	for _, o := range upstream {
		upstreamByTxid[o.TXID] = o
	}

	local, err := c.store.ListAllOrders(ctx, c.userref)
	if err != nil {
		return fmt.Errorf("failed to list local orderbook: %w", err)
	}
	localByTxid := make(map[string]domain.Order, len(local))
	for _, o := range local {
		localByTxid[o.TXID] = o
	}

	for txid, o := range upstreamByTxid {
		if o.Symbol != c.symbol {
			continue
		}
		if _, tracked := localByTxid[txid]; !tracked {
			if err := c.store.UpsertOrder(ctx, o); err != nil {
				return fmt.Errorf("failed to adopt untracked upstream order %s: %w", txid, err)
			}
		}
	}

	for txid, o := range localByTxid {
		if _, stillOpen := upstreamByTxid[txid]; stillOpen {
			continue
		}
		fetched, err := c.rest.GetOrderWithRetry(ctx, txid, 5)
		if err != nil {
			c.logger.Warn("failed to fetch vanished local order", "txid", txid, "error", err)
			continue
		}
		switch fetched.Status {
		case domain.StatusClosed:
			if err := c.applyFilledOrder(ctx, *fetched); err != nil {
				return err
			}
		case domain.StatusCanceled, domain.StatusExpired:
			if err := c.store.DeleteOrder(ctx, c.userref, txid); err != nil {
				return err
			}
		default:
			_ = o
		}
	}

	if err := c.drainPending(ctx); err != nil {
		return err
	}
	if err := c.drainUnsoldBuys(ctx); err != nil {
		return err
	}
	if err := c.detectConfigurationDrift(ctx); err != nil {
		return err
	}

	return nil
}

func (c *Core) drainPending(ctx context.Context) error {
	pending, err := c.store.ListPendingTxids(ctx, c.userref)
	if err != nil {
		return err
	}
	for _, txid := range pending {
		if err := c.reconcileTxid(ctx, txid); err != nil {
			c.logger.Warn("failed to reconcile pending txid", "txid", txid, "error", err)
		}
	}
	return nil
}

func (c *Core) drainUnsoldBuys(ctx context.Context) error {
	unsold, err := c.store.ListUnsoldBuyTxids(ctx, c.userref)
	if err != nil {
		return err
	}
	for _, u := range unsold {
		if err := c.handleArbitrage(ctx, domain.SideSell, u.SellPrice, u.TXID); err != nil {
			c.logger.Warn("failed to drain unsold buy", "txid", u.TXID, "error", err)
		}
	}
	return nil
}

func (c *Core) detectConfigurationDrift(ctx context.Context) error {
	persisted, err := c.store.GetConfiguration(ctx, c.userref)
	if err != nil {
		return err
	}

	amountPerGrid := decimal.NewFromFloat(c.cfg.AmountPerGrid)
	interval := decimal.NewFromFloat(c.cfg.Interval)

	if persisted == nil {
		return c.store.SaveConfiguration(ctx, domain.Configuration{
			Userref: c.userref, AmountPerGrid: amountPerGrid, Interval: interval,
			PriceOfHighestBuy: decimal.Zero, VolOfUnfilledRemaining: decimal.Zero,
			VolOfUnfilledRemainingMaxPrice: decimal.Zero,
			LastPriceTime:                  time.Now().UTC(), LastNotificationTime: time.Now().UTC(),
		})
	}

	drifted := !persisted.AmountPerGrid.Equal(amountPerGrid) || !persisted.Interval.Equal(interval)
	if !drifted {
		return nil
	}

	buys, err := c.openBuysDesc(ctx)
	if err != nil {
		return err
	}
	for _, b := range buys {
		if err := c.handleCancel(ctx, b.TXID); err != nil {
			return err
		}
	}

	persisted.AmountPerGrid = amountPerGrid
	persisted.Interval = interval
	return c.store.SaveConfiguration(ctx, *persisted)
}

// reconcileTxid fetches a single order by txid and folds it into the
// local orderbook, then clears it from the pending set.
func (c *Core) reconcileTxid(ctx context.Context, txid string) error {
	order, err := c.rest.GetOrderWithRetry(ctx, txid, 5)
	if err != nil {
		return fmt.Errorf("failed to fetch placed order %s: %w", txid, err)
	}
	if err := c.store.UpsertOrder(ctx, *order); err != nil {
		return err
	}
	return c.store.RemovePendingTxid(ctx, c.userref, txid)
}

// --- §4.5 decision loop -------------------------------------------------------

func (c *Core) onTickerUpdate(ctx context.Context, ticker domain.Ticker) error {
	c.metrics.DecisionLoopTotal.Add(ctx, 1)
	c.lastTicker = ticker.Last

	cfg, err := c.store.GetConfiguration(ctx, c.userref)
	if err != nil {
		return err
	}
	if cfg == nil {
		return fmt.Errorf("decision loop ran before configuration was persisted")
	}
	cfg.LastPriceTime = time.Now().UTC()
	if err := c.store.SaveConfiguration(ctx, *cfg); err != nil {
		return err
	}

	pending, err := c.store.ListPendingTxids(ctx, c.userref)
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		return c.reconcile(ctx)
	}

	return c.runDecisionSteps(ctx, ticker.Last)
}

func (c *Core) runDecisionSteps(ctx context.Context, t decimal.Decimal) error {
	interval := decimal.NewFromFloat(c.cfg.Interval)

	if err := c.coalesceNearDuplicateBuys(ctx, interval); err != nil {
		return err
	}

	placed, err := c.topUpBuys(ctx, t, interval)
	if err != nil {
		return err
	}
	if placed {
		return nil
	}

	if err := c.trimSurplusBuys(ctx); err != nil {
		return err
	}

	shifted, err := c.maybeShiftUp(ctx, t, interval)
	if err != nil {
		return err
	}
	if shifted {
		return c.runDecisionSteps(ctx, t)
	}

	if c.policy.HasExtraSell() {
		if err := c.maybeExtraSell(ctx, t); err != nil {
			return err
		}
	}

	return nil
}

// coalesceNearDuplicateBuys enforces a minimum spacing of interval/2
// between adjacent open buys, cancelling the higher-priced of any pair
// that violates it.
func (c *Core) coalesceNearDuplicateBuys(ctx context.Context, interval decimal.Decimal) error {
	buys, err := c.openBuysDesc(ctx)
	if err != nil {
		return err
	}
	minSpacing := interval.Div(two)

	for i := 0; i+1 < len(buys); i++ {
		prev, next := buys[i], buys[i+1]
		if next.Price.IsZero() {
			continue
		}
		ratio := prev.Price.Div(next.Price).Sub(one)
		if ratio.LessThan(minSpacing) || prev.Price.Equal(next.Price) {
			if err := c.handleCancel(ctx, prev.TXID); err != nil {
				return err
			}
			return c.coalesceNearDuplicateBuys(ctx, interval)
		}
	}
	return nil
}

func (c *Core) topUpBuys(ctx context.Context, t, interval decimal.Decimal) (bool, error) {
	placedAny := false

	for {
		buys, err := c.openBuysDesc(ctx)
		if err != nil {
			return placedAny, err
		}
		if len(buys) >= c.cfg.NOpenBuyOrders {
			break
		}

		invested, err := c.investedAmount(ctx)
		if err != nil {
			return placedAny, err
		}
		amountPerGrid := decimal.NewFromFloat(c.cfg.AmountPerGrid)
		if invested.Add(amountPerGrid).GreaterThan(decimal.NewFromFloat(c.cfg.MaxInvestment)) {
			break
		}

		balance, err := c.rest.PairBalance(ctx, c.base, c.quote)
		if err != nil {
			return placedAny, err
		}
		required := amountPerGrid.Mul(one.Add(c.fee))
		if balance.QuoteAvailable.LessThanOrEqual(required) {
			break
		}

		pLast := t
		if len(buys) > 0 {
			pLast = buys[len(buys)-1].Price
		}
		price := BuyPrice(pLast, t, interval)

		if err := c.handleArbitrage(ctx, domain.SideBuy, price, ""); err != nil {
			return placedAny, err
		}
		placedAny = true

		pending, err := c.store.ListPendingTxids(ctx, c.userref)
		if err != nil {
			return placedAny, err
		}
		if len(pending) > 0 {
			break
		}
	}

	return placedAny, nil
}

func (c *Core) trimSurplusBuys(ctx context.Context) error {
	buys, err := c.openBuysDesc(ctx)
	if err != nil {
		return err
	}
	if len(buys) <= c.cfg.NOpenBuyOrders {
		return nil
	}

	ascending := append([]domain.Order(nil), buys...)
	sort.Slice(ascending, func(i, j int) bool { return ascending[i].Price.LessThan(ascending[j].Price) })

	surplus := len(buys) - c.cfg.NOpenBuyOrders
	for i := 0; i < surplus; i++ {
		if err := c.handleCancel(ctx, ascending[i].TXID); err != nil {
			return err
		}
	}
	return nil
}

func (c *Core) maybeShiftUp(ctx context.Context, t, interval decimal.Decimal) (bool, error) {
	buys, err := c.openBuysDesc(ctx)
	if err != nil || len(buys) == 0 {
		return false, err
	}

	maxBuy := buys[0].Price
	factor := one.Add(interval)
	threshold := maxBuy.Mul(factor).Mul(factor).Mul(hysteresis)
	if t.LessThanOrEqual(threshold) {
		return false, nil
	}

	for _, b := range buys {
		if err := c.handleCancel(ctx, b.TXID); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (c *Core) maybeExtraSell(ctx context.Context, t decimal.Decimal) error {
	sells, err := c.openSells(ctx)
	if err != nil {
		return err
	}
	if len(sells) > 0 {
		return nil
	}

	balance, err := c.rest.PairBalance(ctx, c.base, c.quote)
	if err != nil {
		return err
	}
	amountPerGrid := decimal.NewFromFloat(c.cfg.AmountPerGrid)
	if balance.BaseAvailable.Mul(t).LessThanOrEqual(amountPerGrid.Mul(one.Add(c.fee))) {
		return nil
	}

	cfg, err := c.store.GetConfiguration(ctx, c.userref)
	if err != nil || cfg == nil {
		return err
	}
	price := ExtraSellPrice(t, cfg.PriceOfHighestBuy, decimal.NewFromFloat(c.cfg.Interval))
	return c.handleArbitrage(ctx, domain.SideSell, price, "")
}

// --- §4.7 execution events ----------------------------------------------------

func (c *Core) onOrderFilled(ctx context.Context, exec exchange.Execution) error {
	var order *domain.Order
	for attempt := 0; attempt < 3; attempt++ {
		fetched, err := c.rest.GetOrdersInfo(ctx, exec.OrderID)
		if err != nil {
			return err
		}
		if fetched != nil && fetched.Status == domain.StatusClosed {
			order = fetched
			break
		}
		time.Sleep(retryDelay)
	}
	if order == nil {
		return fmt.Errorf("order %s did not settle to closed after retries", exec.OrderID)
	}

	return c.applyFilledOrder(ctx, *order)
}

func (c *Core) applyFilledOrder(ctx context.Context, order domain.Order) error {
	if order.Symbol != c.symbol || order.Userref != c.userref {
		return nil
	}

	c.notify(fmt.Sprintf("%s filled: %s %s @ %s", c.cfg.Name, order.Side, order.Volume, order.Price))
	c.metrics.OrdersFilledTotal.Add(ctx, 1)

	// Persist the now-closed order before deriving the counter-order:
	// placeSell's wait-for-buy-close loop below reads this exact row
	// back by txid, and must see the fill, not the stale "open" record
	// written at placement time.
	if err := c.store.UpsertOrder(ctx, order); err != nil {
		return err
	}

	if order.Side == domain.SideBuy {
		if !c.policy.HasSellSide() {
			return c.store.DeleteOrder(ctx, c.userref, order.TXID)
		}

		cfg, err := c.store.GetConfiguration(ctx, c.userref)
		if err != nil {
			return err
		}
		if cfg == nil {
			return fmt.Errorf("filled buy observed before configuration existed")
		}
		interval := decimal.NewFromFloat(c.cfg.Interval)
		sellPrice, newHigh := SellPrice(order.Price, c.currentTicker(order.Price), cfg.PriceOfHighestBuy, interval)
		cfg.PriceOfHighestBuy = newHigh
		if err := c.store.SaveConfiguration(ctx, *cfg); err != nil {
			return err
		}
		return c.handleArbitrage(ctx, domain.SideSell, sellPrice, order.TXID)
	}

	// Filled sell.
	sells, err := c.openSells(ctx)
	if err != nil {
		return err
	}
	remaining := 0
	for _, s := range sells {
		if s.TXID != order.TXID {
			remaining++
		}
	}
	if remaining > 0 {
		interval := decimal.NewFromFloat(c.cfg.Interval)
		buyPrice := BuyPrice(order.Price, c.currentTicker(order.Price), interval)
		if err := c.store.DeleteOrder(ctx, c.userref, order.TXID); err != nil {
			return err
		}
		return c.handleArbitrage(ctx, domain.SideBuy, buyPrice, "")
	}
	return c.store.DeleteOrder(ctx, c.userref, order.TXID)
}

// --- §4.8 cancellation handling ------------------------------------------------

func (c *Core) handleCancel(ctx context.Context, txid string) error {
	local, err := c.store.GetOrder(ctx, c.userref, txid)
	if err != nil {
		return err
	}
	if local == nil {
		return nil
	}

	if err := c.rest.CancelOrder(ctx, txid); err != nil {
		return fmt.Errorf("failed to cancel order %s: %w", txid, err)
	}
	c.metrics.OrdersCancelledTotal.Add(ctx, 1)

	if err := c.store.DeleteOrder(ctx, c.userref, txid); err != nil {
		return err
	}

	if local.VolumeExecuted.GreaterThan(decimal.Zero) {
		return c.salvagePartialFill(ctx, *local)
	}
	return nil
}

func (c *Core) salvagePartialFill(ctx context.Context, canceled domain.Order) error {
	cfg, err := c.store.GetConfiguration(ctx, c.userref)
	if err != nil || cfg == nil {
		return err
	}

	cfg.VolOfUnfilledRemaining = cfg.VolOfUnfilledRemaining.Add(canceled.VolumeExecuted)
	if canceled.Price.GreaterThan(cfg.VolOfUnfilledRemainingMaxPrice) {
		cfg.VolOfUnfilledRemainingMaxPrice = canceled.Price
	}
	if err := c.store.SaveConfiguration(ctx, *cfg); err != nil {
		return err
	}

	amountPerGrid := decimal.NewFromFloat(c.cfg.AmountPerGrid)
	if cfg.VolOfUnfilledRemaining.Mul(cfg.VolOfUnfilledRemainingMaxPrice).LessThan(amountPerGrid) {
		return nil
	}

	sellPrice, _ := SellPrice(cfg.VolOfUnfilledRemainingMaxPrice, c.currentTicker(cfg.VolOfUnfilledRemainingMaxPrice), cfg.PriceOfHighestBuy, decimal.NewFromFloat(c.cfg.Interval))
	if err := c.handleArbitrage(ctx, domain.SideSell, sellPrice, ""); err != nil {
		return err
	}

	cfg.VolOfUnfilledRemaining = decimal.Zero
	cfg.VolOfUnfilledRemainingMaxPrice = decimal.Zero
	return c.store.SaveConfiguration(ctx, *cfg)
}

// --- §4.9 arbitrage (order placement) -----------------------------------------

func (c *Core) handleArbitrage(ctx context.Context, side domain.Side, price decimal.Decimal, txidToDelete string) error {
	if c.cfg.DryRun {
		c.logger.Info("dry-run: would place order", "side", side, "price", price)
		if side == domain.SideSell && txidToDelete != "" {
			_ = c.store.DeleteOrder(ctx, c.userref, txidToDelete)
		}
		return nil
	}

	if side == domain.SideBuy {
		return c.placeBuy(ctx, price, txidToDelete)
	}
	return c.placeSell(ctx, price, txidToDelete)
}

func (c *Core) placeBuy(ctx context.Context, price decimal.Decimal, txidToDelete string) error {
	if txidToDelete != "" {
		if err := c.store.DeleteOrder(ctx, c.userref, txidToDelete); err != nil {
			return err
		}
	}

	buys, err := c.openBuysDesc(ctx)
	if err != nil {
		return err
	}
	if len(buys) >= c.cfg.NOpenBuyOrders {
		return nil
	}

	invested, err := c.investedAmount(ctx)
	if err != nil {
		return err
	}
	amountPerGrid := decimal.NewFromFloat(c.cfg.AmountPerGrid)
	if invested.Add(amountPerGrid).GreaterThan(decimal.NewFromFloat(c.cfg.MaxInvestment)) {
		return nil
	}

	truncatedPrice, err := c.rest.Truncate(ctx, price, domain.TruncatePrice, c.base, c.quote)
	if err != nil {
		return err
	}
	volume, err := c.rest.Truncate(ctx, BuyVolume(amountPerGrid, truncatedPrice), domain.TruncateVolume, c.base, c.quote)
	if err != nil {
		return err
	}

	balance, err := c.rest.PairBalance(ctx, c.base, c.quote)
	if err != nil {
		return err
	}
	required := amountPerGrid.Mul(one.Add(c.fee))
	if balance.QuoteAvailable.LessThanOrEqual(required) {
		c.notify(fmt.Sprintf("%s: insufficient quote balance for buy at %s", c.cfg.Name, truncatedPrice))
		return nil
	}

	txid, err := c.rest.CreateOrder(ctx, exchange.CreateOrderRequest{
		Side: domain.SideBuy, Price: truncatedPrice, Volume: volume,
		Pair: c.symbol, Userref: c.userref, PostOnly: true,
	})
	if err != nil {
		return fmt.Errorf("failed to place buy order: %w", err)
	}
	c.metrics.OrdersPlacedTotal.Add(ctx, 1)

	if err := c.store.AddPendingTxid(ctx, c.userref, txid); err != nil {
		return err
	}
	if err := c.reconcileTxid(ctx, txid); err != nil {
		return err
	}

	return c.pauseAfterPlacement(ctx)
}

func (c *Core) placeSell(ctx context.Context, price decimal.Decimal, txidToDelete string) error {
	if !c.policy.HasSellSide() {
		if txidToDelete != "" {
			return c.store.DeleteOrder(ctx, c.userref, txidToDelete)
		}
		return nil
	}

	var filledVolume decimal.Decimal
	if txidToDelete != "" {
		if err := c.store.AddUnsoldBuyTxid(ctx, c.userref, txidToDelete, price); err != nil {
			return err
		}

		for {
			buy, err := c.store.GetOrder(ctx, c.userref, txidToDelete)
			if err != nil {
				return err
			}
			var status domain.Status
			var volExec decimal.Decimal
			if buy != nil {
				status, volExec = buy.Status, buy.VolumeExecuted
			} else if fetched, err := c.rest.GetOrdersInfo(ctx, txidToDelete); err == nil && fetched != nil {
				status, volExec = fetched.Status, fetched.VolumeExecuted
			}

			if status == domain.StatusClosed && volExec.GreaterThan(decimal.Zero) {
				filledVolume = volExec
				break
			}
			if c.sm.State() == statemachine.ShutdownRequested || c.sm.State() == statemachine.Error {
				return nil
			}
			time.Sleep(retryDelay)
		}
	}

	truncatedPrice, err := c.rest.Truncate(ctx, price, domain.TruncatePrice, c.base, c.quote)
	if err != nil {
		return err
	}
	amountPerGrid := decimal.NewFromFloat(c.cfg.AmountPerGrid)
	rawVolume := c.policy.SellVolume(amountPerGrid, truncatedPrice, c.fee, filledVolume)
	volume, err := c.rest.Truncate(ctx, rawVolume, domain.TruncateVolume, c.base, c.quote)
	if err != nil {
		return err
	}

	balance, err := c.rest.PairBalance(ctx, c.base, c.quote)
	if err != nil {
		return err
	}
	if balance.BaseAvailable.LessThan(volume) {
		c.notify(fmt.Sprintf("%s: insufficient base balance for sell at %s", c.cfg.Name, truncatedPrice))
		if _, isGridSell := c.policy.(GridSell); isGridSell && txidToDelete != "" {
			return c.store.DeleteOrder(ctx, c.userref, txidToDelete)
		}
		return nil
	}

	txid, err := c.rest.CreateOrder(ctx, exchange.CreateOrderRequest{
		Side: domain.SideSell, Price: truncatedPrice, Volume: volume,
		Pair: c.symbol, Userref: c.userref, PostOnly: false,
	})
	if err != nil {
		return fmt.Errorf("failed to place sell order: %w", err)
	}
	c.metrics.OrdersPlacedTotal.Add(ctx, 1)

	if err := c.store.AddPendingTxid(ctx, c.userref, txid); err != nil {
		return err
	}

	if txidToDelete != "" {
		if err := c.store.DeleteOrder(ctx, c.userref, txidToDelete); err != nil {
			return err
		}
		if err := c.store.RemoveUnsoldBuyTxid(ctx, c.userref, txidToDelete); err != nil {
			return err
		}
	}

	if err := c.reconcileTxid(ctx, txid); err != nil {
		return err
	}

	return c.pauseAfterPlacement(ctx)
}

func (c *Core) pauseAfterPlacement(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}
