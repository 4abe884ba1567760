// Package exchange defines the port contracts the strategy core depends
// on: a request/response REST port and a single-handler streaming port.
// Concrete adapters (package kraken) and a test double (package fake)
// implement these interfaces; the core never imports either directly.
package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"market_maker/internal/domain"
)

// RESTService is the exchange port the strategy calls to place, cancel,
// and inspect orders, and to query balances and pair metadata.
type RESTService interface {
	// SystemStatus reports whether the exchange is accepting orders.
	SystemStatus(ctx context.Context) (string, error)

	// AssetPairInfo returns static-for-a-session metadata for the pair.
	AssetPairInfo(ctx context.Context, base, quote string) (domain.AssetPairInfo, error)

	// Balances returns the full balance sheet (total, including held-in-trade).
	Balances(ctx context.Context) (map[string]decimal.Decimal, error)

	// PairBalance returns the total and available balance of base and
	// quote, net of whatever is held against open orders.
	PairBalance(ctx context.Context, base, quote string) (PairBalance, error)

	// CreateOrder submits a limit order and returns its txid. PostOnly
	// requests a post-only order. Validate, when true, dry-runs the order
	// against the exchange without resting it on the book.
	CreateOrder(ctx context.Context, req CreateOrderRequest) (string, error)

	// CancelOrder cancels by txid. An "unknown order" response (the order
	// was already closed or canceled upstream) is treated as success.
	CancelOrder(ctx context.Context, txid string) error

	// GetOrdersInfo returns the order record, or nil if unknown.
	GetOrdersInfo(ctx context.Context, txid string) (*domain.Order, error)

	// GetOrderWithRetry retries GetOrdersInfo until the order is found or
	// maxTries is exhausted, at which point it returns an error.
	GetOrderWithRetry(ctx context.Context, txid string, maxTries int) (*domain.Order, error)

	// GetOpenOrders returns every open order belonging to userref.
	GetOpenOrders(ctx context.Context, userref int64) ([]domain.Order, error)

	// Truncate renders amount at the pair's exchange precision for kind.
	Truncate(ctx context.Context, amount decimal.Decimal, kind domain.TruncateKind, base, quote string) (decimal.Decimal, error)

	// CheckAPIKeyPermissions returns an error naming the first permission
	// the configured key lacks, among those the adapter probes. The Kraken
	// adapter probes balance queries, order queries and websocket-token
	// issuance; it does not probe order placement or cancellation.
	CheckAPIKeyPermissions(ctx context.Context) error
}

// PairBalance is the total and trade-available balance of both legs of a pair.
type PairBalance struct {
	Base           decimal.Decimal
	Quote          decimal.Decimal
	BaseAvailable  decimal.Decimal
	QuoteAvailable decimal.Decimal
}

// CreateOrderRequest is the full parameter set for a limit order placement.
type CreateOrderRequest struct {
	Side      domain.Side
	Price     decimal.Decimal
	Volume    decimal.Decimal
	Pair      string
	Userref   int64
	Validate  bool
	PostOnly  bool
	ClientID  string
}

// StreamMessageType distinguishes the shapes of message the stream port
// delivers to its single handler.
type StreamMessageType string

const (
	StreamHeartbeat    StreamMessageType = "heartbeat"
	StreamStatus       StreamMessageType = "status"
	StreamPong         StreamMessageType = "pong"
	StreamSubscribeAck StreamMessageType = "subscribe_ack"
	StreamTicker       StreamMessageType = "ticker"
	StreamExecution    StreamMessageType = "execution"
)

// StreamMessage is the normalized shape the adapter hands to the core's
// single message handler, regardless of the wire format underneath.
type StreamMessage struct {
	Type StreamMessageType

	// Populated when Type == StreamSubscribeAck.
	SubscribeOK bool

	// Populated when Type == StreamTicker.
	Ticker domain.Ticker

	// Populated when Type == StreamExecution.
	Execution Execution
}

// Execution is a single order-status update delivered over the stream.
type Execution struct {
	OrderID  string
	ExecType domain.ExecType
	Pair     string
	Userref  int64
}

// MessageHandler is the single callback the stream port delivers every
// normalized message to, in arrival order.
type MessageHandler func(StreamMessage)

// StreamService is the exchange port that delivers the live ticker and
// execution feed. The adapter owns subscription semantics; the core only
// expresses intent via Subscribe.
type StreamService interface {
	Start(ctx context.Context, handler MessageHandler) error
	Subscribe(ctx context.Context, pair string) error
	Close() error
}
