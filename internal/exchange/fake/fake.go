// Package fake provides an in-memory exchange double used by strategy
// and engine tests: it implements exchange.RESTService and
// exchange.StreamService without touching the network.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"market_maker/internal/domain"
	"market_maker/internal/exchange"
)

// Exchange is a scriptable in-memory exchange: tests seed balances and
// pair info, then assert on the orders placed/cancelled through it.
type Exchange struct {
	mu sync.Mutex

	Status       string
	PairInfo     domain.AssetPairInfo
	BaseBalance  decimal.Decimal
	QuoteBalance decimal.Decimal
	CostDecimals int
	VolDecimals  int

	orders  map[string]domain.Order
	handler exchange.MessageHandler

	PermissionsErr error
	CreateOrderErr error
}

// New returns an Exchange with empty balances and no orders.
func New() *Exchange {
	return &Exchange{
		Status:       "online",
		orders:       make(map[string]domain.Order),
		BaseBalance:  decimal.Zero,
		QuoteBalance: decimal.Zero,
		CostDecimals: 2,
		VolDecimals:  8,
	}
}

func (e *Exchange) SystemStatus(ctx context.Context) (string, error) {
	return e.Status, nil
}

func (e *Exchange) AssetPairInfo(ctx context.Context, base, quote string) (domain.AssetPairInfo, error) {
	return e.PairInfo, nil
}

func (e *Exchange) Balances(ctx context.Context) (map[string]decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return map[string]decimal.Decimal{
		e.PairInfo.Base:  e.BaseBalance,
		e.PairInfo.Quote: e.QuoteBalance,
	}, nil
}

func (e *Exchange) PairBalance(ctx context.Context, base, quote string) (exchange.PairBalance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return exchange.PairBalance{
		Base: e.BaseBalance, Quote: e.QuoteBalance,
		BaseAvailable: e.BaseBalance, QuoteAvailable: e.QuoteBalance,
	}, nil
}

func (e *Exchange) CreateOrder(ctx context.Context, req exchange.CreateOrderRequest) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.CreateOrderErr != nil {
		return "", e.CreateOrderErr
	}

	txid := "TX-" + uuid.NewString()[:8]
	e.orders[txid] = domain.Order{
		TXID: txid, Userref: req.Userref, Symbol: req.Pair, Side: req.Side,
		Price: req.Price, Volume: req.Volume, VolumeExecuted: decimal.Zero,
		Status: domain.StatusOpen,
	}
	return txid, nil
}

func (e *Exchange) CancelOrder(ctx context.Context, txid string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.orders, txid)
	return nil
}

func (e *Exchange) GetOrdersInfo(ctx context.Context, txid string) (*domain.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[txid]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (e *Exchange) GetOrderWithRetry(ctx context.Context, txid string, maxTries int) (*domain.Order, error) {
	o, err := e.GetOrdersInfo(ctx, txid)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, fmt.Errorf("order %s not found after %d tries", txid, maxTries)
	}
	return o, nil
}

func (e *Exchange) GetOpenOrders(ctx context.Context, userref int64) ([]domain.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []domain.Order
	for _, o := range e.orders {
		if o.Userref == userref && o.Status == domain.StatusOpen {
			out = append(out, o)
		}
	}
	return out, nil
}

func (e *Exchange) Truncate(ctx context.Context, amount decimal.Decimal, kind domain.TruncateKind, base, quote string) (decimal.Decimal, error) {
	decimals := e.VolDecimals
	if kind == domain.TruncatePrice {
		decimals = e.CostDecimals
	}
	return amount.Truncate(int32(decimals)), nil
}

func (e *Exchange) CheckAPIKeyPermissions(ctx context.Context) error {
	return e.PermissionsErr
}

// PutOrder seeds an order directly, bypassing CreateOrder — useful for
// reconciliation tests that need upstream state the core has not placed.
func (e *Exchange) PutOrder(o domain.Order) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.orders[o.TXID] = o
}

// SetOrderStatus mutates an already-placed order's status, simulating a
// fill/cancel/expiry observed by a later GetOrdersInfo call.
func (e *Exchange) SetOrderStatus(txid string, status domain.Status, volExec decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[txid]
	if !ok {
		return
	}
	o.Status = status
	o.VolumeExecuted = volExec
	e.orders[txid] = o
}

func (e *Exchange) Start(ctx context.Context, handler exchange.MessageHandler) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = handler
	return nil
}

func (e *Exchange) Subscribe(ctx context.Context, pair string) error {
	return nil
}

func (e *Exchange) Close() error {
	return nil
}

// Emit pushes msg to the handler registered via Start, simulating an
// inbound stream message.
func (e *Exchange) Emit(msg exchange.StreamMessage) {
	e.mu.Lock()
	handler := e.handler
	e.mu.Unlock()
	if handler != nil {
		handler(msg)
	}
}
