package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"poly-mirror/internal/clob"
	"poly-mirror/internal/mirror"
)

type placeCall struct {
	price float64
	size  float64
	nonce int64
}

type fakeAPI struct {
	placed   []placeCall
	gets     []string
	cancels  []string
	place    func(attempt int, price float64) (*clob.PlaceResponse, error)
	getOrder func(orderID string) (*clob.OrderInfo, error)
}

func (f *fakeAPI) PlaceOrder(_ context.Context, _ string, _ clob.Side, price, size float64, nonce int64) (*clob.PlaceResponse, error) {
	f.placed = append(f.placed, placeCall{price: price, size: size, nonce: nonce})
	return f.place(len(f.placed), price)
}

func (f *fakeAPI) GetOrder(_ context.Context, orderID string) (*clob.OrderInfo, error) {
	f.gets = append(f.gets, orderID)
	if f.getOrder == nil {
		return nil, errors.New("unexpected GetOrder call")
	}
	return f.getOrder(orderID)
}

func (f *fakeAPI) CancelOrder(_ context.Context, orderID string) (*clob.CancelResponse, error) {
	f.cancels = append(f.cancels, orderID)
	return &clob.CancelResponse{Canceled: []string{orderID}}, nil
}

func newTestEngine(api OrderAPI, params mirror.CopyParams, sleeps *[]time.Duration) *Engine {
	e := New(api, params)
	e.logf = func(string, ...any) {}
	e.sleep = func(_ context.Context, d time.Duration) error {
		if sleeps != nil {
			*sleeps = append(*sleeps, d)
		}
		return nil
	}
	e.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return e
}

func buyOrder() mirror.Order {
	return mirror.Order{TokenID: "123", Side: clob.SideBuy, Price: 0.50, Size: 10}
}

func params() mirror.CopyParams {
	return mirror.CopyParams{
		CopyRatio:         1,
		RetryLimit:        3,
		OrderTimeout:      30 * time.Second,
		PriceIncrementPct: 1,
	}
}

func TestExecute_FilledFirstAttempt(t *testing.T) {
	api := &fakeAPI{
		place: func(int, float64) (*clob.PlaceResponse, error) {
			return &clob.PlaceResponse{Success: true, OrderID: "ord-1"}, nil
		},
		getOrder: func(string) (*clob.OrderInfo, error) {
			return &clob.OrderInfo{ID: "ord-1", OriginalSize: "10", SizeMatched: "10"}, nil
		},
	}
	e := newTestEngine(api, params(), nil)

	out := e.Execute(context.Background(), buyOrder())
	if out.Status != StatusFilled {
		t.Fatalf("status mismatch: got %s want %s (err=%v)", out.Status, StatusFilled, out.Err)
	}
	if out.Attempts != 1 {
		t.Fatalf("attempts mismatch: got %d want 1", out.Attempts)
	}
	if out.OrderID != "ord-1" {
		t.Fatalf("order id mismatch: got %q", out.OrderID)
	}
	if len(api.cancels) != 0 {
		t.Fatalf("filled order must not be canceled, got cancels=%v", api.cancels)
	}
	if api.placed[0].nonce != 1700000000000 {
		t.Fatalf("nonce mismatch: got %d", api.placed[0].nonce)
	}
}

func TestExecute_PriceProgressionAcrossRetries(t *testing.T) {
	api := &fakeAPI{
		place: func(int, float64) (*clob.PlaceResponse, error) {
			return &clob.PlaceResponse{Success: false, ErrorMsg: "not enough balance"}, nil
		},
	}
	p := params()
	p.RetryLimit = 4
	e := newTestEngine(api, p, nil)

	out := e.Execute(context.Background(), buyOrder())
	if out.Status != StatusExhausted {
		t.Fatalf("status mismatch: got %s want %s", out.Status, StatusExhausted)
	}
	if out.Attempts != 4 {
		t.Fatalf("attempts mismatch: got %d want 4", out.Attempts)
	}

	// Each retry raises a buy by PriceIncrementPct/100 absolute.
	want := []float64{0.50, 0.51, 0.52, 0.53}
	if len(api.placed) != len(want) {
		t.Fatalf("placements mismatch: got %d want %d", len(api.placed), len(want))
	}
	for i, w := range want {
		if math.Abs(api.placed[i].price-w) > 1e-9 {
			t.Fatalf("attempt %d price mismatch: got %f want %f", i+1, api.placed[i].price, w)
		}
	}
	if len(api.gets) != 0 || len(api.cancels) != 0 {
		t.Fatalf("rejected orders must not be polled or canceled: gets=%v cancels=%v", api.gets, api.cancels)
	}
}

func TestExecute_RetryDelaysGrowLinearlyAndCap(t *testing.T) {
	api := &fakeAPI{
		place: func(int, float64) (*clob.PlaceResponse, error) {
			return &clob.PlaceResponse{Success: false}, nil
		},
	}
	p := params()
	p.RetryLimit = 12
	p.PriceIncrementPct = 0
	var sleeps []time.Duration
	e := newTestEngine(api, p, &sleeps)

	e.Execute(context.Background(), buyOrder())

	// The first attempt has no delay; attempt k waits min(k seconds, 10s).
	if len(sleeps) != 11 {
		t.Fatalf("sleep count mismatch: got %d want 11", len(sleeps))
	}
	for i, d := range sleeps {
		attempt := i + 2
		want := time.Duration(attempt) * time.Second
		if want > 10*time.Second {
			want = 10 * time.Second
		}
		if d != want {
			t.Fatalf("attempt %d delay mismatch: got %v want %v", attempt, d, want)
		}
	}
}

func TestExecute_ChallengePageSkipsPollAndCancel(t *testing.T) {
	api := &fakeAPI{
		place: func(int, float64) (*clob.PlaceResponse, error) {
			raw := []byte("<!DOCTYPE html><html><title>Attention Required! | Cloudflare</title></html>")
			return &clob.PlaceResponse{Raw: raw}, fmt.Errorf("decode /order response: invalid character '<' (body=%s)", raw)
		},
	}
	p := params()
	p.RetryLimit = 2
	e := newTestEngine(api, p, nil)

	out := e.Execute(context.Background(), buyOrder())
	if out.Status != StatusExhausted {
		t.Fatalf("status mismatch: got %s want %s", out.Status, StatusExhausted)
	}
	if len(api.placed) != 2 {
		t.Fatalf("expected both attempts to place, got %d", len(api.placed))
	}
	// A challenge page means nothing reached the book: no order to poll,
	// nothing to cancel.
	if len(api.gets) != 0 {
		t.Fatalf("challenge response must not be polled: gets=%v", api.gets)
	}
	if len(api.cancels) != 0 {
		t.Fatalf("challenge response must not be canceled: cancels=%v", api.cancels)
	}
}

func TestExecute_PartialFillCanceledBeforeRetry(t *testing.T) {
	api := &fakeAPI{}
	api.place = func(attempt int, _ float64) (*clob.PlaceResponse, error) {
		return &clob.PlaceResponse{Success: true, OrderID: fmt.Sprintf("ord-%d", attempt)}, nil
	}
	api.getOrder = func(orderID string) (*clob.OrderInfo, error) {
		if orderID == "ord-1" {
			return &clob.OrderInfo{ID: orderID, OriginalSize: "10", SizeMatched: "4"}, nil
		}
		return &clob.OrderInfo{ID: orderID, OriginalSize: "10", SizeMatched: "10"}, nil
	}
	e := newTestEngine(api, params(), nil)

	out := e.Execute(context.Background(), buyOrder())
	if out.Status != StatusFilled {
		t.Fatalf("status mismatch: got %s want %s", out.Status, StatusFilled)
	}
	if out.Attempts != 2 {
		t.Fatalf("attempts mismatch: got %d want 2", out.Attempts)
	}
	if len(api.cancels) != 1 || api.cancels[0] != "ord-1" {
		t.Fatalf("expected the partial order to be canceled once: cancels=%v", api.cancels)
	}
	if out.OrderID != "ord-2" {
		t.Fatalf("order id mismatch: got %q want ord-2", out.OrderID)
	}
}

func TestExecute_SellPriceUnderflowStopsEarly(t *testing.T) {
	api := &fakeAPI{
		place: func(int, float64) (*clob.PlaceResponse, error) {
			return &clob.PlaceResponse{Success: false}, nil
		},
	}
	p := params()
	p.RetryLimit = 10
	p.PriceIncrementPct = 5 // -0.05 per sell retry
	e := newTestEngine(api, p, nil)

	o := buyOrder()
	o.Side = clob.SideSell
	o.Price = 0.08

	out := e.Execute(context.Background(), o)
	if out.Status != StatusExhausted {
		t.Fatalf("status mismatch: got %s want %s", out.Status, StatusExhausted)
	}
	// 0.08 -> 0.03 is the last valid price; the next step would go negative.
	if len(api.placed) != 2 {
		t.Fatalf("placements mismatch: got %d want 2", len(api.placed))
	}
}

func TestExecute_CanceledContextAborts(t *testing.T) {
	api := &fakeAPI{
		place: func(int, float64) (*clob.PlaceResponse, error) {
			return &clob.PlaceResponse{Success: false}, nil
		},
	}
	e := New(api, params())
	e.logf = func(string, ...any) {}
	e.sleep = sleepWithContext
	e.now = time.Now

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := e.Execute(ctx, buyOrder())
	if out.Status != StatusAborted {
		t.Fatalf("status mismatch: got %s want %s", out.Status, StatusAborted)
	}
	if out.Err == nil {
		t.Fatalf("expected a context error in the outcome")
	}
}

func TestIsChallengeResponse(t *testing.T) {
	cases := []struct {
		name string
		resp *clob.PlaceResponse
		err  error
		want bool
	}{
		{"cloudflare error text", nil, errors.New("status 403: Sorry, you have been blocked"), true},
		{"html body", &clob.PlaceResponse{Raw: []byte("<!DOCTYPE html><html></html>")}, nil, true},
		{"error msg marker", &clob.PlaceResponse{ErrorMsg: "Attention Required! | Cloudflare"}, nil, true},
		{"ordinary rejection", &clob.PlaceResponse{ErrorMsg: "not enough balance / allowance"}, nil, false},
		{"plain error", nil, errors.New("dial tcp: connection refused"), false},
		{"nothing", nil, nil, false},
	}
	for _, tc := range cases {
		if got := isChallengeResponse(tc.resp, tc.err); got != tc.want {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

func TestRetryDelay(t *testing.T) {
	if got := retryDelay(2); got != 2*time.Second {
		t.Fatalf("retryDelay(2) = %v", got)
	}
	if got := retryDelay(10); got != 10*time.Second {
		t.Fatalf("retryDelay(10) = %v", got)
	}
	if got := retryDelay(25); got != 10*time.Second {
		t.Fatalf("retryDelay(25) = %v", got)
	}
}
