package strategy

import "github.com/shopspring/decimal"

// GridHODL accumulates base currency: every sell is sized to return
// exactly the quote spent on the matching buy, net of both fee legs.
type GridHODL struct{}

func (GridHODL) Name() string        { return "GridHODL" }
func (GridHODL) HasSellSide() bool   { return true }
func (GridHODL) HasExtraSell() bool  { return false }
func (GridHODL) SellVolume(amountPerGrid, price, fee, filledVolume decimal.Decimal) decimal.Decimal {
	return SellVolume(amountPerGrid, price, fee)
}

// GridSell accumulates quote currency: it sells exactly what the
// matching buy filled, rather than the fee-corrected volume.
type GridSell struct{}

func (GridSell) Name() string       { return "GridSell" }
func (GridSell) HasSellSide() bool  { return true }
func (GridSell) HasExtraSell() bool { return false }
func (GridSell) SellVolume(amountPerGrid, price, fee, filledVolume decimal.Decimal) decimal.Decimal {
	return filledVolume
}

// Swing behaves like GridHODL but additionally places a standalone
// "extra" sell whenever idle base balance accumulates, priced two grid
// steps out instead of one.
type Swing struct{}

func (Swing) Name() string       { return "SWING" }
func (Swing) HasSellSide() bool  { return true }
func (Swing) HasExtraSell() bool { return true }
func (Swing) SellVolume(amountPerGrid, price, fee, filledVolume decimal.Decimal) decimal.Decimal {
	return SellVolume(amountPerGrid, price, fee)
}

// CDCA has no sell side at all: it is a pure dollar-cost-averaging buy
// ladder, and every filled buy's volume simply accumulates as base.
type CDCA struct{}

func (CDCA) Name() string       { return "cDCA" }
func (CDCA) HasSellSide() bool  { return false }
func (CDCA) HasExtraSell() bool { return false }
func (CDCA) SellVolume(amountPerGrid, price, fee, filledVolume decimal.Decimal) decimal.Decimal {
	return decimal.Zero
}
