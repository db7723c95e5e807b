package clob

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	AssetTypeCollateral  = "COLLATERAL"
	AssetTypeConditional = "CONDITIONAL"
)

// BalanceAllowanceParams filters the balance/allowance endpoints.
// SignatureType < 0 uses the client's configured signature type.
type BalanceAllowanceParams struct {
	AssetType     string
	TokenID       string
	SignatureType int
}

type BalanceAllowance struct {
	Balance   string `json:"balance"`
	Allowance string `json:"allowance"`
}

func (c *Client) GetBalanceAllowance(ctx context.Context, params *BalanceAllowanceParams, useServerTime bool) (*BalanceAllowance, error) {
	return c.fetchBalanceAllowance(ctx, "/balance-allowance", params, useServerTime)
}

// UpdateBalanceAllowance asks the CLOB to refresh its cached view of the
// funder's on-chain balance and allowance.
func (c *Client) UpdateBalanceAllowance(ctx context.Context, params *BalanceAllowanceParams, useServerTime bool) (*BalanceAllowance, error) {
	return c.fetchBalanceAllowance(ctx, "/balance-allowance/update", params, useServerTime)
}

func (c *Client) fetchBalanceAllowance(ctx context.Context, path string, params *BalanceAllowanceParams, useServerTime bool) (*BalanceAllowance, error) {
	p := BalanceAllowanceParams{SignatureType: -1}
	if params != nil {
		p = *params
	}
	if p.SignatureType < 0 {
		p.SignatureType = c.signatureTy
	}

	q := url.Values{}
	if v := strings.TrimSpace(p.AssetType); v != "" {
		q.Set("asset_type", v)
	}
	if v := strings.TrimSpace(p.TokenID); v != "" {
		q.Set("token_id", v)
	}
	q.Set("signature_type", strconv.Itoa(p.SignatureType))

	ts, err := c.timestampForAuth(ctx, useServerTime)
	if err != nil {
		return nil, err
	}
	headers, err := c.l2Headers(ts, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var resp BalanceAllowance
	if err := c.doJSON(ctx, http.MethodGet, path, q, headers, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
