// Package domain holds the core value types shared by the grid trading
// engine: orders, the bookkeeping sets that survive a restart, the
// per-userref configuration record, and the read-only market metadata
// fetched from the exchange.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the side of an order or execution.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Status is the lifecycle state of a locally tracked order.
type Status string

const (
	StatusPending  Status = "pending"
	StatusOpen     Status = "open"
	StatusClosed   Status = "closed"
	StatusCanceled Status = "canceled"
	StatusExpired  Status = "expired"
)

// ExecType is the kind of execution report delivered by the exchange
// stream for a given order id.
type ExecType string

const (
	ExecNew      ExecType = "new"
	ExecFilled   ExecType = "filled"
	ExecCanceled ExecType = "canceled"
	ExecExpired  ExecType = "expired"
	ExecPending  ExecType = "pending"
)

// Order is the local record of a buy or sell order. VolumeExecuted is
// never greater than Volume; Price and Volume are always positive.
type Order struct {
	TXID           string
	Userref        int64
	Symbol         string
	Side           Side
	Price          decimal.Decimal
	Volume         decimal.Decimal
	VolumeExecuted decimal.Decimal
	Status         Status
	CreatedAt      time.Time
}

// PendingTxid marks an order placement that succeeded upstream but has
// not yet been reconciled into the local orderbook. Set semantics: a
// txid is either pending or it isn't.
type PendingTxid struct {
	Userref int64
	TXID    string
}

// UnsoldBuyTxid marks a filled buy for which the counter-sell has not
// yet been accepted by the exchange. Written before the sell placement
// call so a crash between write and placement still retries the sell
// on restart.
type UnsoldBuyTxid struct {
	Userref   int64
	TXID      string
	SellPrice decimal.Decimal
}

// Configuration is the persisted per-userref settings and running
// counters. AmountPerGrid and Interval are user-supplied; the rest are
// maintained by the strategy as it runs.
type Configuration struct {
	Userref                        int64
	AmountPerGrid                  decimal.Decimal
	Interval                       decimal.Decimal
	PriceOfHighestBuy              decimal.Decimal
	VolOfUnfilledRemaining         decimal.Decimal
	VolOfUnfilledRemainingMaxPrice decimal.Decimal
	LastPriceTime                  time.Time
	LastNotificationTime           time.Time
}

// AssetPairInfo is static-for-a-session pair metadata fetched once from
// the exchange and used to compute the effective fee and truncate
// prices/volumes to the exchange's precision.
type AssetPairInfo struct {
	Base          string
	Quote         string
	CostDecimals  int
	FeesMaker     []FeeTier
}

// FeeTier is one entry of a maker-fee schedule keyed by 30-day volume.
type FeeTier struct {
	VolumeThreshold decimal.Decimal
	Fee             decimal.Decimal
}

// Ticker is the latest observed trade price for a symbol.
type Ticker struct {
	Symbol string
	Last   decimal.Decimal
}

// TruncateKind selects which exchange precision rule applies.
type TruncateKind string

const (
	TruncatePrice  TruncateKind = "price"
	TruncateVolume TruncateKind = "volume"
)
