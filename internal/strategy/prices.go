// Package strategy implements the grid trading core: the decision loop
// that reacts to ticker and execution events, the local/upstream
// orderbook reconciliation, and the four strategy variants that differ
// only in their sell-side policy.
package strategy

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)
var one = decimal.NewFromInt(1)
var two = decimal.NewFromInt(2)

// BuyPrice computes the next buy price below ticker, reference pLast.
// Strictly less than ticker: if the naive computation lands above it,
// pLast is replaced by ticker and the computation repeats once.
func BuyPrice(pLast, ticker, interval decimal.Decimal) decimal.Decimal {
	compute := func(p decimal.Decimal) decimal.Decimal {
		denom := hundred.Add(hundred.Mul(interval))
		return p.Mul(hundred).Div(denom)
	}
	buy := compute(pLast)
	if buy.GreaterThan(ticker) {
		buy = compute(ticker)
	}
	return buy
}

// SellPrice computes the regular (non-extra) sell price for GridHODL,
// GridSell and SWING, and the updated price-of-highest-buy watermark.
// The watermark check is against pLast, taken before the ticker-driven
// override below it recomputes candidate — the override exists to keep
// the sell price ahead of a fast-moving market, not to redefine what
// counts as the highest buy ever seen.
func SellPrice(pLast, ticker, highestBuy, interval decimal.Decimal) (price, newHighestBuy decimal.Decimal) {
	factor := one.Add(interval)

	newHighestBuy = highestBuy
	if pLast.GreaterThan(highestBuy) {
		newHighestBuy = pLast
	}

	candidate := pLast
	if ticker.GreaterThan(candidate.Mul(factor)) {
		candidate = ticker
	}

	return candidate.Mul(factor), newHighestBuy
}

// ExtraSellPrice computes SWING's extra-sell price: two grid steps above
// pLast, floored at two grid steps above the highest buy ever seen.
func ExtraSellPrice(pLast, highestBuy, interval decimal.Decimal) decimal.Decimal {
	factor := one.Add(interval)
	factor2 := factor.Mul(factor)

	sell := pLast.Mul(factor2)
	alt := highestBuy.Mul(factor2)
	if alt.GreaterThan(sell) {
		return alt
	}
	return sell
}

// SellVolume applies the double-fee correction that keeps the quote
// balance constant over a full buy-then-sell cycle.
func SellVolume(amountPerGrid, price, fee decimal.Decimal) decimal.Decimal {
	denom := price.Mul(one.Sub(fee.Mul(two)))
	return amountPerGrid.Div(denom)
}

// BuyVolume is the quote amount per grid converted to base at price.
func BuyVolume(amountPerGrid, price decimal.Decimal) decimal.Decimal {
	return amountPerGrid.Div(price)
}
