package clob

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// All amounts travel as integer base units: both USDC and outcome shares
// carry 6 decimals on chain. Price arithmetic stays in big.Int ticks so the
// float inputs from the translator never touch the signed payload directly.

const collateralTokenDecimals = 6

type roundConfig struct {
	price  int
	size   int
	amount int
}

var roundingConfigByTickSize = map[string]roundConfig{
	"0.1":    {price: 1, size: 2, amount: 3},
	"0.01":   {price: 2, size: 2, amount: 4},
	"0.001":  {price: 3, size: 2, amount: 5},
	"0.0001": {price: 4, size: 2, amount: 6},
}

var unitStepByKeepDecimals = [collateralTokenDecimals + 1]*big.Int{
	0: big.NewInt(1_000_000),
	1: big.NewInt(100_000),
	2: big.NewInt(10_000),
	3: big.NewInt(1_000),
	4: big.NewInt(100),
	5: big.NewInt(10),
	6: big.NewInt(1),
}

func roundConfigForTickSize(tickSize string) (roundConfig, error) {
	rc, ok := roundingConfigByTickSize[strings.TrimSpace(tickSize)]
	if !ok {
		return roundConfig{}, fmt.Errorf("unsupported tickSize %q", tickSize)
	}
	return rc, nil
}

// floatToUnits converts a positive float into exact 1e6 base units.
// Extra precision beyond 6 decimals is truncated.
func floatToUnits(v float64) (*big.Int, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return nil, fmt.Errorf("value must be a positive finite number, got %v", v)
	}
	return parseDecimalToUnits(strconv.FormatFloat(v, 'f', -1, 64), collateralTokenDecimals)
}

func parseDecimalToUnits(s string, decimals int) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty decimal string")
	}
	if strings.HasPrefix(s, "-") {
		return nil, fmt.Errorf("negative not supported: %q", s)
	}

	parts := strings.SplitN(s, ".", 3)
	if len(parts) > 2 {
		return nil, fmt.Errorf("invalid decimal: %q", s)
	}

	whole := parts[0]
	frac := ""
	if len(parts) == 2 {
		frac = parts[1]
	}
	if whole == "" {
		whole = "0"
	}

	if len(frac) > decimals {
		frac = frac[:decimals]
	}
	for len(frac) < decimals {
		frac += "0"
	}

	base := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	w, ok := new(big.Int).SetString(whole, 10)
	if !ok {
		return nil, fmt.Errorf("invalid whole part: %q", s)
	}
	w.Mul(w, base)

	if frac != "" {
		f, ok := new(big.Int).SetString(frac, 10)
		if !ok {
			return nil, fmt.Errorf("invalid fractional part: %q", s)
		}
		w.Add(w, f)
	}
	return w, nil
}

func roundDownUnits(units *big.Int, keepDecimals int) *big.Int {
	if units == nil {
		return nil
	}
	if keepDecimals >= collateralTokenDecimals {
		return new(big.Int).Set(units)
	}
	if keepDecimals < 0 {
		keepDecimals = 0
	}
	step := unitStepByKeepDecimals[keepDecimals]

	q := new(big.Int).Div(units, step)
	q.Mul(q, step)
	return q
}

func roundNearestUnits(units *big.Int, keepDecimals int) *big.Int {
	if units == nil {
		return nil
	}
	if keepDecimals >= collateralTokenDecimals {
		return new(big.Int).Set(units)
	}
	if keepDecimals < 0 {
		keepDecimals = 0
	}
	step := unitStepByKeepDecimals[keepDecimals]

	half := new(big.Int).Rsh(step, 1)
	q := new(big.Int).Add(units, half)
	q.Div(q, step)
	q.Mul(q, step)
	return q
}

func formatDecimalUnits(units *big.Int, decimals int) string {
	if units == nil {
		return "0"
	}
	if decimals <= 0 {
		return units.String()
	}

	s := units.String()
	if s == "" {
		return "0"
	}

	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	i := len(s) - decimals
	out := s[:i] + "." + s[i:]
	out = strings.TrimRight(out, "0")
	out = strings.TrimRight(out, ".")
	if out == "" {
		return "0"
	}
	return out
}

func canonicalDecimalString(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.HasPrefix(s, ".") {
		s = "0" + s
	}
	if strings.Contains(s, ".") {
		parts := strings.SplitN(s, ".", 2)
		whole := parts[0]
		frac := strings.TrimRight(parts[1], "0")
		if frac == "" {
			return whole
		}
		return whole + "." + frac
	}
	return s
}
