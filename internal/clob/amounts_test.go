package clob

import (
	"math/big"
	"testing"
)

func mustUnits(t *testing.T, s string) *big.Int {
	t.Helper()
	u, err := parseDecimalToUnits(s, collateralTokenDecimals)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return u
}

func TestLimitOrderAmounts_Buy(t *testing.T) {
	rc := roundingConfigByTickSize["0.01"]

	maker, taker, err := limitOrderAmounts(SideBuy, mustUnits(t, "0.55"), mustUnits(t, "14.56"), rc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// BUY: maker = 14.56 * 0.55 = $8.008 collateral, taker = 14.56 shares.
	if got, want := maker.String(), "8008000"; got != want {
		t.Fatalf("maker mismatch: got %s want %s", got, want)
	}
	if got, want := taker.String(), "14560000"; got != want {
		t.Fatalf("taker mismatch: got %s want %s", got, want)
	}
}

func TestLimitOrderAmounts_Sell(t *testing.T) {
	rc := roundingConfigByTickSize["0.01"]

	maker, taker, err := limitOrderAmounts(SideSell, mustUnits(t, "0.55"), mustUnits(t, "14.56"), rc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// SELL mirrors BUY: maker = shares, taker = collateral.
	if got, want := maker.String(), "14560000"; got != want {
		t.Fatalf("maker mismatch: got %s want %s", got, want)
	}
	if got, want := taker.String(), "8008000"; got != want {
		t.Fatalf("taker mismatch: got %s want %s", got, want)
	}
}

func TestLimitOrderAmounts_PriceRoundsToTick(t *testing.T) {
	rc := roundingConfigByTickSize["0.01"]

	// 0.5549 rounds to 0.55 on a 0.01 tick.
	maker, taker, err := limitOrderAmounts(SideBuy, mustUnits(t, "0.5549"), mustUnits(t, "10"), rc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, want := maker.String(), "5500000"; got != want {
		t.Fatalf("maker mismatch: got %s want %s", got, want)
	}
	if got, want := taker.String(), "10000000"; got != want {
		t.Fatalf("taker mismatch: got %s want %s", got, want)
	}
}

func TestLimitOrderAmounts_SizeRoundsDown(t *testing.T) {
	rc := roundingConfigByTickSize["0.01"]

	// 5.019 shares floors to 5.01: the copy never buys more than intended.
	maker, taker, err := limitOrderAmounts(SideBuy, mustUnits(t, "0.5"), mustUnits(t, "5.019"), rc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, want := taker.String(), "5010000"; got != want {
		t.Fatalf("taker mismatch: got %s want %s", got, want)
	}
	if got, want := maker.String(), "2505000"; got != want {
		t.Fatalf("maker mismatch: got %s want %s", got, want)
	}
}

func TestLimitOrderAmounts_RejectsDust(t *testing.T) {
	rc := roundingConfigByTickSize["0.01"]

	if _, _, err := limitOrderAmounts(SideBuy, mustUnits(t, "0.001"), mustUnits(t, "10"), rc); err == nil {
		t.Fatalf("expected error for price below tick")
	}
	if _, _, err := limitOrderAmounts(SideBuy, mustUnits(t, "0.5"), mustUnits(t, "0.009"), rc); err == nil {
		t.Fatalf("expected error for size that floors to 0")
	}
}

func TestFloatToUnits(t *testing.T) {
	u, err := floatToUnits(12.345678)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, want := u.String(), "12345678"; got != want {
		t.Fatalf("units mismatch: got %s want %s", got, want)
	}

	if _, err := floatToUnits(0); err == nil {
		t.Fatalf("expected error for zero")
	}
	if _, err := floatToUnits(-1); err == nil {
		t.Fatalf("expected error for negative")
	}
}

func TestFormatDecimalUnits(t *testing.T) {
	cases := []struct {
		units    string
		decimals int
		want     string
	}{
		{"8008000", 6, "8.008"},
		{"550000", 6, "0.55"},
		{"1000000", 6, "1"},
		{"7", 6, "0.000007"},
		{"0", 6, "0"},
	}
	for _, tc := range cases {
		u, _ := new(big.Int).SetString(tc.units, 10)
		if got := formatDecimalUnits(u, tc.decimals); got != tc.want {
			t.Fatalf("format %s/%d: got %q want %q", tc.units, tc.decimals, got, tc.want)
		}
	}
}

func TestCanonicalDecimalString(t *testing.T) {
	cases := map[string]string{
		"5.10":   "5.1",
		"5.1":    "5.1",
		".5":     "0.5",
		"5.000":  "5",
		"5":      "5",
		" 12.30 ": "12.3",
	}
	for in, want := range cases {
		if got := canonicalDecimalString(in); got != want {
			t.Fatalf("canonical %q: got %q want %q", in, got, want)
		}
	}
}

func TestOrderInfoFullyMatched(t *testing.T) {
	info := &OrderInfo{OriginalSize: "5.10", SizeMatched: "5.1"}
	if !info.FullyMatched() {
		t.Fatalf("expected 5.10 vs 5.1 to count as fully matched")
	}
	info = &OrderInfo{OriginalSize: "5.1", SizeMatched: "3"}
	if info.FullyMatched() {
		t.Fatalf("expected partial fill to not count as fully matched")
	}
	info = &OrderInfo{}
	if info.FullyMatched() {
		t.Fatalf("expected empty sizes to not count as fully matched")
	}
}
