package strategy

import "github.com/shopspring/decimal"

// Policy is the thin, per-strategy-variant behavior the grid core defers
// to: whether a sell side exists at all, whether SWING's extra-sell
// check runs, and how much to sell once a buy has filled.
type Policy interface {
	Name() string

	// HasSellSide is false only for cDCA: buys are the only leg.
	HasSellSide() bool

	// HasExtraSell is true only for SWING.
	HasExtraSell() bool

	// SellVolume returns the volume to sell against a filled buy of
	// filledVolume at the computed sell price.
	SellVolume(amountPerGrid, price, fee, filledVolume decimal.Decimal) decimal.Decimal
}

// NewPolicy returns the Policy for name, mirroring the strategy registry
// in the configuration's validated `strategy` field.
func NewPolicy(name string) (Policy, bool) {
	switch name {
	case "GridHODL":
		return GridHODL{}, true
	case "GridSell":
		return GridSell{}, true
	case "SWING":
		return Swing{}, true
	case "cDCA":
		return CDCA{}, true
	default:
		return nil, false
	}
}
