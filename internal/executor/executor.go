// Package executor drives one copy order through the place, poll, cancel,
// retry loop against the CLOB.
package executor

import (
	"context"
	"log"
	"strings"
	"time"

	"poly-mirror/internal/clob"
	"poly-mirror/internal/mirror"
)

// OrderAPI is the slice of the clob session the engine calls. A fake
// implementation stands in during tests.
type OrderAPI interface {
	PlaceOrder(ctx context.Context, tokenID string, side clob.Side, price, size float64, nonce int64) (*clob.PlaceResponse, error)
	GetOrder(ctx context.Context, orderID string) (*clob.OrderInfo, error)
	CancelOrder(ctx context.Context, orderID string) (*clob.CancelResponse, error)
}

type Status string

const (
	// StatusFilled: an attempt's order matched in full.
	StatusFilled Status = "FILLED"
	// StatusExhausted: the retry limit passed without a full fill.
	StatusExhausted Status = "EXHAUSTED"
	// StatusAborted: the run stopped early because the context ended.
	StatusAborted Status = "ABORTED"
)

// Outcome is the final result of executing one copy order.
type Outcome struct {
	Status     Status
	Attempts   int
	FinalPrice float64
	OrderID    string
	Err        error
}

const (
	retryDelayUnit = time.Second
	retryDelayCap  = 10 * time.Second
)

// Engine executes copy orders. sleep and now are injection points for tests;
// production uses real time.
type Engine struct {
	api    OrderAPI
	params mirror.CopyParams
	logf   func(format string, args ...any)
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time
}

func New(api OrderAPI, params mirror.CopyParams) *Engine {
	return &Engine{
		api:    api,
		params: params,
		logf:   log.Printf,
		sleep:  sleepWithContext,
		now:    time.Now,
	}
}

// retryDelay grows linearly with the attempt number and caps at 10s.
func retryDelay(attempt int) time.Duration {
	d := time.Duration(attempt) * retryDelayUnit
	if d > retryDelayCap {
		return retryDelayCap
	}
	return d
}

// Execute runs the full retry loop for one order. At most one exchange order
// is live at any point: every placed-but-unfilled order is canceled before
// the next attempt.
func (e *Engine) Execute(ctx context.Context, o mirror.Order) Outcome {
	price := o.Price

	for attempt := 1; attempt <= e.params.RetryLimit; attempt++ {
		if attempt > 1 {
			if err := e.sleep(ctx, retryDelay(attempt)); err != nil {
				return Outcome{Status: StatusAborted, Attempts: attempt - 1, FinalPrice: price, Err: err}
			}
		}

		e.logf("[info] placing order attempt=%d/%d token=%s side=%s price=%.6f size=%.4f",
			attempt, e.params.RetryLimit, o.TokenID, o.Side, price, o.Size)

		nonce := e.now().UnixMilli()
		resp, err := e.api.PlaceOrder(ctx, o.TokenID, o.Side, price, o.Size, nonce)

		switch {
		case isChallengeResponse(resp, err):
			// Challenge pages mean the request never reached the matching
			// engine. Nothing was placed, so there is nothing to poll or
			// cancel.
			e.logf("[warn] order placement blocked by an upstream challenge page (attempt %d)", attempt)
			e.logf("[warn] if this persists, rotate the egress IP or run from a different network; the CLOB is refusing this client, not the order")

		case err != nil:
			e.logf("[warn] place order attempt %d: %v", attempt, err)
			// The request may have landed despite the error. Cancel by ID
			// if one came back, keeping the one-live-order guarantee.
			if resp != nil && resp.OrderID != "" {
				e.cancelQuietly(ctx, resp.OrderID)
			}

		case resp == nil || !resp.Success || resp.OrderID == "":
			msg := ""
			if resp != nil {
				msg = resp.ErrorMsg
			}
			e.logf("[warn] order rejected on attempt %d: %s", attempt, msg)

		default:
			filled, outcome := e.watchOrder(ctx, resp.OrderID, attempt, price)
			if filled {
				return outcome
			}
			if outcome.Status == StatusAborted {
				return outcome
			}
		}

		if attempt == e.params.RetryLimit {
			break
		}
		next := e.adjustPrice(o.Side, price)
		if next <= 0 {
			e.logf("[warn] adjusted price %.6f out of range, stopping retries", next)
			return Outcome{Status: StatusExhausted, Attempts: attempt, FinalPrice: price}
		}
		price = next
	}

	e.logf("[warn] order not filled after %d attempts token=%s", e.params.RetryLimit, o.TokenID)
	return Outcome{Status: StatusExhausted, Attempts: e.params.RetryLimit, FinalPrice: price}
}

// watchOrder dwells, checks the fill, dwells again and cancels whatever is
// left. It returns filled=true with a terminal outcome on a full match.
func (e *Engine) watchOrder(ctx context.Context, orderID string, attempt int, price float64) (bool, Outcome) {
	if err := e.sleep(ctx, e.params.OrderTimeout); err != nil {
		e.cancelQuietly(context.WithoutCancel(ctx), orderID)
		return false, Outcome{Status: StatusAborted, Attempts: attempt, FinalPrice: price, OrderID: orderID, Err: err}
	}

	info, err := e.api.GetOrder(ctx, orderID)
	if err != nil {
		e.logf("[warn] fetch order %s: %v", orderID, err)
	} else if info.FullyMatched() {
		e.logf("[info] order filled id=%s size=%s price=%.6f attempts=%d", orderID, info.SizeMatched, price, attempt)
		return true, Outcome{Status: StatusFilled, Attempts: attempt, FinalPrice: price, OrderID: orderID}
	} else {
		e.logf("[info] order %s not fully matched (%s of %s), will cancel and retry", orderID, info.SizeMatched, info.OriginalSize)
	}

	if err := e.sleep(ctx, e.params.OrderTimeout); err != nil {
		e.cancelQuietly(context.WithoutCancel(ctx), orderID)
		return false, Outcome{Status: StatusAborted, Attempts: attempt, FinalPrice: price, OrderID: orderID, Err: err}
	}

	e.cancelQuietly(ctx, orderID)
	return false, Outcome{Status: StatusExhausted, Attempts: attempt, FinalPrice: price, OrderID: orderID}
}

func (e *Engine) cancelQuietly(ctx context.Context, orderID string) {
	if _, err := e.api.CancelOrder(ctx, orderID); err != nil {
		e.logf("[warn] cancel order %s: %v", orderID, err)
	}
}

// adjustPrice nudges the limit toward the market between attempts: up for
// buys, down for sells. The increment is absolute price points.
func (e *Engine) adjustPrice(side clob.Side, price float64) float64 {
	step := e.params.PriceIncrementPct / 100
	if side == clob.SideSell {
		return price - step
	}
	return price + step
}

// Markers of WAF/CDN challenge pages. These arrive instead of a CLOB reply
// and carry HTML, not JSON.
var challengeMarkers = []string{
	"cloudflare",
	"attention required",
	"sorry, you have been blocked",
	"<!doctype html>",
}

func isChallengeResponse(resp *clob.PlaceResponse, err error) bool {
	var sb strings.Builder
	if err != nil {
		sb.WriteString(err.Error())
	}
	if resp != nil {
		sb.WriteString(resp.ErrorMsg)
		sb.Write(resp.Raw)
	}
	text := strings.ToLower(sb.String())
	if text == "" {
		return false
	}
	for _, m := range challengeMarkers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
