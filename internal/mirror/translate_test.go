package mirror

import (
	"math"
	"math/big"
	"testing"

	"poly-mirror/internal/chainwatch"
	"poly-mirror/internal/clob"
)

func tradeEvent(side uint8, makerAmount, takerAmount int64) chainwatch.TradeEvent {
	return chainwatch.TradeEvent{
		TokenID:     big.NewInt(777),
		Side:        side,
		MakerAmount: big.NewInt(makerAmount),
		TakerAmount: big.NewInt(takerAmount),
	}
}

func approx(t *testing.T, name string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("%s mismatch: got %v want %v", name, got, want)
	}
}

func TestTranslate_ProportionalCopy(t *testing.T) {
	// 10 USDC for 5 shares at full ratio: price 0.5, size 5*1+0.01.
	o, ok := Translate(tradeEvent(chainwatch.OrderSideBuy, 10_000_000, 5_000_000), CopyParams{CopyRatio: 1.0})
	if !ok {
		t.Fatalf("expected an order")
	}
	approx(t, "price", o.Price, 0.5)
	approx(t, "size", o.Size, 5.01)
	if o.Side != clob.SideBuy {
		t.Fatalf("side mismatch: got %s", o.Side)
	}
	if o.TokenID != "777" {
		t.Fatalf("token mismatch: got %s", o.TokenID)
	}
}

func TestTranslate_FloorsTinyCopies(t *testing.T) {
	// Ratio 0.01 of a 1-share trade gives 0.02 shares, below the 5-share
	// exchange minimum.
	o, ok := Translate(tradeEvent(chainwatch.OrderSideBuy, 2_000_000, 1_000_000), CopyParams{CopyRatio: 0.01})
	if !ok {
		t.Fatalf("expected an order")
	}
	approx(t, "price", o.Price, 0.5)
	approx(t, "size", o.Size, 5)
	approx(t, "notional", o.Size*o.Price, 2.5)
}

func TestTranslate_ResizesBelowMinNotional(t *testing.T) {
	// Price 0.1: the 5-share floor is only $0.50, so the size grows to
	// clear the $1 order minimum.
	o, ok := Translate(tradeEvent(chainwatch.OrderSideBuy, 10_000_000, 1_000_000), CopyParams{CopyRatio: 0.01})
	if !ok {
		t.Fatalf("expected an order")
	}
	approx(t, "price", o.Price, 0.1)
	approx(t, "size", o.Size, 10.01)
	if o.Size*o.Price < 1 {
		t.Fatalf("resized order still below min notional: %v", o.Size*o.Price)
	}
}

func TestTranslate_FloorRunsBeforeNotionalCheck(t *testing.T) {
	// At price 0.15 a raw size of 0.02 floors to 5 first ($0.75), then the
	// notional rule resizes from the floored value.
	o, ok := Translate(tradeEvent(chainwatch.OrderSideBuy, 20_000_000, 3_000_000), CopyParams{CopyRatio: 0.001})
	if !ok {
		t.Fatalf("expected an order")
	}
	approx(t, "price", o.Price, 0.15)
	approx(t, "size", o.Size, 1/0.15+0.01)
}

func TestTranslate_SkipsSells(t *testing.T) {
	if o, ok := Translate(tradeEvent(chainwatch.OrderSideSell, 5_000_000, 10_000_000), CopyParams{CopyRatio: 1.0}); ok {
		t.Fatalf("expected sell to be skipped, got %+v", o)
	}
}

func TestTranslate_SkipsDegenerateAmounts(t *testing.T) {
	if _, ok := Translate(tradeEvent(chainwatch.OrderSideBuy, 0, 1_000_000), CopyParams{CopyRatio: 1.0}); ok {
		t.Fatalf("expected zero maker amount to be skipped")
	}
	if _, ok := Translate(tradeEvent(chainwatch.OrderSideBuy, 1_000_000, 0), CopyParams{CopyRatio: 1.0}); ok {
		t.Fatalf("expected zero taker amount to be skipped")
	}
	ev := tradeEvent(chainwatch.OrderSideBuy, 1_000_000, 1_000_000)
	ev.MakerAmount = nil
	if _, ok := Translate(ev, CopyParams{CopyRatio: 1.0}); ok {
		t.Fatalf("expected nil maker amount to be skipped")
	}
}
