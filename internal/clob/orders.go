package clob

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	orderbuilder "github.com/polymarket/go-order-utils/pkg/builder"
	ordermodel "github.com/polymarket/go-order-utils/pkg/model"
)

const zeroAddressHex = "0x0000000000000000000000000000000000000000"

type signedOrderPayload struct {
	DeferExec bool      `json:"deferExec"`
	Order     orderJSON `json:"order"`
	Owner     string    `json:"owner"`
	OrderType OrderType `json:"orderType"`
}

type orderJSON struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          Side   `json:"side"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
}

// PlaceResponse is the /order response. Raw carries the undecoded body so
// callers can inspect non-JSON responses (challenge pages in particular).
type PlaceResponse struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	OrderID  string `json:"orderID"`
	Status   string `json:"status"`
	Raw      []byte `json:"-"`
}

// limitOrderAmounts turns a tick-aligned price and share size into the
// maker/taker base-unit amounts of a limit order. Price rounds to the
// nearest tick; size rounds down so the order never exceeds the intent.
func limitOrderAmounts(side Side, priceUnits, sizeUnits *big.Int, rc roundConfig) (maker, taker *big.Int, err error) {
	price := roundNearestUnits(priceUnits, rc.price)
	size := roundDownUnits(sizeUnits, rc.size)
	if price == nil || price.Sign() <= 0 {
		return nil, nil, fmt.Errorf("price rounds to 0 at tick precision")
	}
	if size == nil || size.Sign() <= 0 {
		return nil, nil, fmt.Errorf("size rounds to 0 at %d decimals", rc.size)
	}

	// size and price are both quantized, so the product is exact in units.
	notional := new(big.Int).Mul(size, price)
	notional.Div(notional, unitStepByKeepDecimals[0])
	if notional.Sign() <= 0 {
		return nil, nil, fmt.Errorf("order notional rounds to 0")
	}

	switch side {
	case SideBuy:
		// BUY: maker = collateral spent, taker = shares received.
		return notional, size, nil
	case SideSell:
		// SELL: maker = shares sold, taker = collateral received.
		return size, notional, nil
	default:
		return nil, nil, fmt.Errorf("invalid side %q", side)
	}
}

// PlaceOrder signs and posts a GTC limit order. The nonce is the caller's:
// the execution engine stamps each attempt with a fresh one.
func (c *Client) PlaceOrder(ctx context.Context, tokenID string, side Side, price, size float64, nonce int64, useServerTime bool) (*PlaceResponse, error) {
	tickSize, err := c.GetTickSize(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	rc, err := roundConfigForTickSize(tickSize)
	if err != nil {
		return nil, err
	}

	priceUnits, err := floatToUnits(price)
	if err != nil {
		return nil, fmt.Errorf("invalid price: %w", err)
	}
	sizeUnits, err := floatToUnits(size)
	if err != nil {
		return nil, fmt.Errorf("invalid size: %w", err)
	}
	makerAmount, takerAmount, err := limitOrderAmounts(side, priceUnits, sizeUnits, rc)
	if err != nil {
		return nil, err
	}

	var sideEnum ordermodel.Side
	switch side {
	case SideBuy:
		sideEnum = ordermodel.BUY
	case SideSell:
		sideEnum = ordermodel.SELL
	default:
		return nil, fmt.Errorf("invalid side %q", side)
	}

	feeBps, err := c.GetFeeRateBps(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	negRisk, err := c.GetNegRisk(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	contract := ordermodel.CTFExchange
	if negRisk {
		contract = ordermodel.NegRiskCTFExchange
	}

	od := &ordermodel.OrderData{
		Maker:         c.funder.Hex(),
		Taker:         zeroAddressHex,
		TokenId:       tokenID,
		MakerAmount:   makerAmount.String(),
		TakerAmount:   takerAmount.String(),
		FeeRateBps:    strconv.Itoa(feeBps),
		Nonce:         strconv.FormatInt(nonce, 10),
		Signer:        c.signer.Hex(),
		Expiration:    "0",
		Side:          sideEnum,
		SignatureType: ordermodel.SignatureType(c.signatureTy),
	}
	signed, err := signOrder(c.chainID, c.privateKey, od, contract, c.salt)
	if err != nil {
		return nil, err
	}

	body, err := c.buildOrderBody(signed, OrderTypeGTC)
	if err != nil {
		return nil, err
	}

	ts, err := c.timestampForAuth(ctx, useServerTime)
	if err != nil {
		return nil, err
	}
	headers, err := c.l2Headers(ts, http.MethodPost, "/order", body)
	if err != nil {
		return nil, err
	}

	var resp PlaceResponse
	raw, err := c.doJSONBody(ctx, http.MethodPost, "/order", nil, headers, body, &resp)
	if err != nil {
		return &PlaceResponse{Raw: raw}, err
	}
	resp.Raw = raw
	return &resp, nil
}

func signOrder(chainID int64, pk *ecdsa.PrivateKey, od *ordermodel.OrderData, contract ordermodel.VerifyingContract, saltGen func() int64) (*ordermodel.SignedOrder, error) {
	b := orderbuilder.NewExchangeOrderBuilderImpl(big.NewInt(chainID), saltGen)
	return b.BuildSignedOrder(pk, od, contract)
}

func (c *Client) buildOrderBody(order *ordermodel.SignedOrder, orderType OrderType) ([]byte, error) {
	if order == nil {
		return nil, fmt.Errorf("order required")
	}
	c.mu.RLock()
	creds := c.creds
	c.mu.RUnlock()

	owner := ""
	if creds != nil {
		owner = creds.Key
	}

	payload := signedOrderPayload{
		Owner:     owner,
		OrderType: orderType,
		Order: orderJSON{
			Salt:          order.Salt.Int64(),
			Maker:         order.Maker.Hex(),
			Signer:        order.Signer.Hex(),
			Taker:         order.Taker.Hex(),
			TokenID:       order.TokenId.String(),
			MakerAmount:   order.MakerAmount.String(),
			TakerAmount:   order.TakerAmount.String(),
			Expiration:    order.Expiration.String(),
			Nonce:         order.Nonce.String(),
			FeeRateBps:    order.FeeRateBps.String(),
			Side:          sideFromEnum(order.Side),
			SignatureType: int(order.SignatureType.Int64()),
			Signature:     "0x" + fmt.Sprintf("%x", order.Signature),
		},
	}
	return json.Marshal(payload)
}

func sideFromEnum(v *big.Int) Side {
	if v != nil && v.Int64() == int64(ordermodel.SELL) {
		return SideSell
	}
	return SideBuy
}

// OrderInfo mirrors the /data/order/<order_hash> response payload.
type OrderInfo struct {
	ID               string   `json:"id"`
	Status           string   `json:"status"`
	Market           string   `json:"market"`
	AssetID          string   `json:"asset_id"`
	Side             string   `json:"side"`
	Price            string   `json:"price"`
	OriginalSize     string   `json:"original_size"`
	SizeMatched      string   `json:"size_matched"`
	AssociatedTrades []string `json:"associate_trades"`
	Type             string   `json:"type"`
	OrderType        string   `json:"order_type"`
}

// FullyMatched compares the original and matched sizes as canonical
// decimals, so "5.10" and "5.1" count as equal.
func (o *OrderInfo) FullyMatched() bool {
	if o == nil {
		return false
	}
	return canonicalDecimalString(o.OriginalSize) == canonicalDecimalString(o.SizeMatched) &&
		canonicalDecimalString(o.OriginalSize) != ""
}

type orderInfoResp struct {
	Order *OrderInfo `json:"order"`
}

// GetOrder fetches a single order by ID/hash.
func (c *Client) GetOrder(ctx context.Context, orderID string, useServerTime bool) (*OrderInfo, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("order id required")
	}

	path := "/data/order/" + orderID
	ts, err := c.timestampForAuth(ctx, useServerTime)
	if err != nil {
		return nil, err
	}
	headers, err := c.l2Headers(ts, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var resp orderInfoResp
	if err := c.doJSON(ctx, http.MethodGet, path, nil, headers, &resp); err != nil {
		return nil, err
	}
	if resp.Order == nil {
		return nil, fmt.Errorf("order missing in response")
	}
	return resp.Order, nil
}

// GetActiveOrders lists open orders, optionally filtered by market
// (condition ID) and asset (token ID).
func (c *Client) GetActiveOrders(ctx context.Context, market, assetID string, useServerTime bool) ([]OrderInfo, error) {
	q := url.Values{}
	if market != "" {
		q.Set("market", market)
	}
	if assetID != "" {
		q.Set("asset_id", assetID)
	}

	// The HMAC covers the query string, so sign the full path.
	signedPath := "/data/orders"
	if len(q) > 0 {
		signedPath += "?" + q.Encode()
	}

	ts, err := c.timestampForAuth(ctx, useServerTime)
	if err != nil {
		return nil, err
	}
	headers, err := c.l2Headers(ts, http.MethodGet, signedPath, nil)
	if err != nil {
		return nil, err
	}

	var resp []OrderInfo
	if err := c.doJSON(ctx, http.MethodGet, signedPath, nil, headers, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

type orderScoringResp struct {
	Scoring bool `json:"scoring"`
}

// IsOrderScoring reports whether an order currently counts toward rewards.
func (c *Client) IsOrderScoring(ctx context.Context, orderID string, useServerTime bool) (bool, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return false, fmt.Errorf("order id required")
	}

	signedPath := "/order-scoring?" + url.Values{"order_id": []string{orderID}}.Encode()
	ts, err := c.timestampForAuth(ctx, useServerTime)
	if err != nil {
		return false, err
	}
	headers, err := c.l2Headers(ts, http.MethodGet, signedPath, nil)
	if err != nil {
		return false, err
	}

	var resp orderScoringResp
	if err := c.doJSON(ctx, http.MethodGet, signedPath, nil, headers, &resp); err != nil {
		return false, err
	}
	return resp.Scoring, nil
}

type cancelOrderReq struct {
	OrderID string `json:"orderID"`
}

// CancelResponse is the shape shared by /order and /cancel-all deletes.
type CancelResponse struct {
	Canceled    []string          `json:"canceled"`
	NotCanceled map[string]string `json:"not_canceled"`
}

// CancelOrder submits a cancel request for a single order ID/hash.
func (c *Client) CancelOrder(ctx context.Context, orderID string, useServerTime bool) (*CancelResponse, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("order id required")
	}

	body, err := json.Marshal(cancelOrderReq{OrderID: orderID})
	if err != nil {
		return nil, fmt.Errorf("marshal cancel order: %w", err)
	}

	const path = "/order"
	ts, err := c.timestampForAuth(ctx, useServerTime)
	if err != nil {
		return nil, err
	}
	headers, err := c.l2Headers(ts, http.MethodDelete, path, body)
	if err != nil {
		return nil, err
	}

	var resp CancelResponse
	if _, err := c.doJSONBody(ctx, http.MethodDelete, path, nil, headers, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelAllOrders cancels every open order for the authenticated account.
func (c *Client) CancelAllOrders(ctx context.Context, useServerTime bool) (*CancelResponse, error) {
	const path = "/cancel-all"
	ts, err := c.timestampForAuth(ctx, useServerTime)
	if err != nil {
		return nil, err
	}
	headers, err := c.l2Headers(ts, http.MethodDelete, path, nil)
	if err != nil {
		return nil, err
	}

	var resp CancelResponse
	if err := c.doJSON(ctx, http.MethodDelete, path, nil, headers, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
