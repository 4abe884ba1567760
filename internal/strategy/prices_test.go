package strategy

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestBuyPriceIsBelowTicker(t *testing.T) {
	interval := dec("0.02")
	buy := BuyPrice(dec("50000"), dec("50100"), interval)
	assert.True(t, buy.LessThan(dec("50100")))
}

func TestBuyPriceRecomputesWhenAboveTicker(t *testing.T) {
	interval := dec("0.001")
	ticker := dec("100")
	// pLast far above ticker forces the p_buy > t branch to recompute from ticker.
	buy := BuyPrice(dec("1000"), ticker, interval)
	assert.True(t, buy.LessThan(ticker))
}

func TestSellPriceUpdatesHighestBuyWatermark(t *testing.T) {
	interval := dec("0.02")
	price, newHigh := SellPrice(dec("50000"), dec("49000"), dec("48000"), interval)
	assert.True(t, price.GreaterThan(dec("50000")))
	assert.True(t, dec("50000").Equal(newHigh))
}

func TestSellPriceRecomputesFromTickerWhenAboveCandidateSell(t *testing.T) {
	interval := dec("0.01")
	price, newHigh := SellPrice(dec("100"), dec("500"), dec("90"), interval)
	// ticker (500) exceeds 100*(1+0.01)=101, so the sell price is recomputed
	// from ticker, but the highest-buy watermark only ever tracks pLast (100),
	// which here exceeds the prior watermark (90).
	assert.True(t, dec("100").Equal(newHigh))
	assert.True(t, price.Equal(dec("500").Mul(dec("1.01"))))
}

func TestSellPriceWatermarkIgnoresTickerOverride(t *testing.T) {
	interval := dec("0.01")
	// pLast (100) does not exceed the existing watermark (105), so the
	// watermark must stay at 105 even though the ticker override (110)
	// would otherwise look like a new high.
	_, newHigh := SellPrice(dec("100"), dec("110"), dec("105"), interval)
	assert.True(t, dec("105").Equal(newHigh))
}

func TestExtraSellPriceUsesHighestBuyFloor(t *testing.T) {
	interval := dec("0.02")
	price := ExtraSellPrice(dec("100"), dec("200"), interval)
	factor2 := dec("1.02").Mul(dec("1.02"))
	assert.True(t, price.Equal(dec("200").Mul(factor2)))
}

func TestSellVolumeAppliesDoubleFeeCorrection(t *testing.T) {
	vol := SellVolume(dec("100"), dec("50000"), dec("0.0025"))
	expectedDenom := dec("50000").Mul(dec("1").Sub(dec("0.005")))
	expected := dec("100").Div(expectedDenom)
	assert.True(t, vol.Equal(expected))
}
