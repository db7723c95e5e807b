// Package mirror maps observed settlements into copy orders.
package mirror

import (
	"math/big"
	"time"

	"poly-mirror/internal/chainwatch"
	"poly-mirror/internal/clob"
)

// CopyParams is the run-constant copy configuration.
type CopyParams struct {
	// CopyRatio is the fraction of the observed trade's size replicated.
	CopyRatio float64
	// RetryLimit bounds execution attempts per trade.
	RetryLimit int
	// OrderTimeout is the dwell before each order-state check.
	OrderTimeout time.Duration
	// PriceIncrementPct adjusts price between attempts, in percent.
	PriceIncrementPct float64
}

// Order is a copy order ready for execution.
type Order struct {
	TokenID string
	Side    clob.Side
	Price   float64
	Size    float64
}

// Fixed business rules for sizing. The floor check runs before the
// notional check; reordering them changes results.
const (
	baseUnitScale = 1_000_000
	minSizeShares = 5
	minNotional   = 1
	sizeOffset    = 0.01
)

// Translate converts a maker-matched trade into a copy order, or reports a
// skip. Sell-side events are skipped deliberately: this bot mirrors only
// the buy side.
func Translate(ev chainwatch.TradeEvent, p CopyParams) (*Order, bool) {
	if ev.Side != chainwatch.OrderSideBuy {
		return nil, false
	}
	if ev.MakerAmount == nil || ev.TakerAmount == nil || ev.MakerAmount.Sign() <= 0 || ev.TakerAmount.Sign() <= 0 {
		return nil, false
	}

	price, _ := new(big.Float).Quo(
		new(big.Float).SetInt(ev.TakerAmount),
		new(big.Float).SetInt(ev.MakerAmount),
	).Float64()
	if price <= 0 {
		return nil, false
	}

	shares, _ := new(big.Float).Quo(
		new(big.Float).SetInt(ev.TakerAmount),
		big.NewFloat(baseUnitScale),
	).Float64()

	size := shares*p.CopyRatio + sizeOffset
	if size < minSizeShares {
		size = minSizeShares
	}
	if size*price < minNotional {
		size = minNotional/price + sizeOffset
	}

	return &Order{
		TokenID: ev.TokenID.String(),
		Side:    clob.SideBuy,
		Price:   price,
		Size:    size,
	}, true
}
