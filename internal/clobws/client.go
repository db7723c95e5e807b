// Package clobws streams the CLOB user channel: authenticated order and
// trade updates for the bot's own account. The stream is advisory; order
// state of record comes from the REST polls in the execution engine.
package clobws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const userChannelPath = "/ws/user"

const DefaultPingInterval = 10 * time.Second

// Auth carries the L2 API credentials the user channel requires.
type Auth struct {
	ApiKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

type subscribeRequest struct {
	Auth    Auth     `json:"auth"`
	Type    string   `json:"type"`
	Markets []string `json:"markets"`
}

// Message is one user-channel event. Raw holds the full payload; EventType
// discriminates ("order", "trade").
type Message struct {
	EventType string
	Raw       json.RawMessage
}

type Options struct {
	PingInterval time.Duration

	BackoffMin time.Duration
	BackoffMax time.Duration

	OutBuffer int
}

func (o Options) withDefaults() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = DefaultPingInterval
	}
	if o.BackoffMin <= 0 {
		o.BackoffMin = 500 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 15 * time.Second
	}
	if o.OutBuffer <= 0 {
		o.OutBuffer = 256
	}
	return o
}

// Start connects to the user channel and emits decoded events, reconnecting
// with capped jittered backoff until ctx is canceled. markets may be empty
// to receive events for every market.
func Start(ctx context.Context, baseURL string, auth Auth, markets []string, opts Options) (<-chan Message, <-chan error) {
	opts = opts.withDefaults()
	url := baseURL + userChannelPath

	out := make(chan Message, opts.OutBuffer)
	errs := make(chan error, 16)

	go func() {
		defer close(out)
		defer close(errs)

		backoff := opts.BackoffMin
		for {
			if ctx.Err() != nil {
				return
			}

			conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
			if err != nil {
				emitErrNonBlocking(errs, fmt.Errorf("clobws dial: %w", err))
				sleepWithJitter(ctx, backoff)
				backoff = nextBackoff(backoff, opts.BackoffMax)
				continue
			}

			backoff = opts.BackoffMin

			if err := runSession(ctx, conn, auth, markets, opts.PingInterval, out, errs); err != nil && ctx.Err() == nil {
				emitErrNonBlocking(errs, err)
			}

			_ = conn.Close()
			if ctx.Err() != nil {
				return
			}
			sleepWithJitter(ctx, backoff)
			backoff = nextBackoff(backoff, opts.BackoffMax)
		}
	}()

	return out, errs
}

func runSession(
	ctx context.Context,
	conn *websocket.Conn,
	auth Auth,
	markets []string,
	pingInterval time.Duration,
	out chan<- Message,
	errs chan<- error,
) error {
	if conn == nil {
		return fmt.Errorf("clobws session: nil conn")
	}
	if markets == nil {
		markets = []string{}
	}

	req := subscribeRequest{Auth: auth, Type: "user", Markets: markets}
	reqBytes, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("clobws subscribe marshal: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, reqBytes); err != nil {
		return fmt.Errorf("clobws subscribe write: %w", err)
	}

	var writeMu sync.Mutex
	stop := make(chan struct{})
	var stopOnce sync.Once
	stopAll := func() { stopOnce.Do(func() { close(stop) }) }

	go func() {
		defer stopAll()
		t := time.NewTicker(pingInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-t.C:
				writeMu.Lock()
				_ = conn.SetWriteDeadline(time.Now().Add(3 * time.Second))
				werr := conn.WriteMessage(websocket.TextMessage, []byte("PING"))
				writeMu.Unlock()
				if werr != nil {
					emitErrNonBlocking(errs, fmt.Errorf("clobws ping: %w", werr))
					_ = conn.Close()
					return
				}
			}
		}
	}()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		typ, msg, err := conn.ReadMessage()
		if err != nil {
			stopAll()
			if errors.Is(err, websocket.ErrCloseSent) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("clobws read: %w", err)
		}

		if typ != websocket.TextMessage && typ != websocket.BinaryMessage {
			continue
		}
		for _, m := range decodeUserEvents(msg, errs) {
			select {
			case out <- m:
			default:
			}
		}
	}
}

// decodeUserEvents handles both envelopes the channel sends: a single event
// object or an array of them. Keepalive frames decode to nothing.
func decodeUserEvents(msg []byte, errs chan<- error) []Message {
	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 || string(msg) == "PONG" || string(msg) == "PING" {
		return nil
	}

	var raws []json.RawMessage
	if msg[0] == '[' {
		if err := json.Unmarshal(msg, &raws); err != nil {
			emitErrNonBlocking(errs, fmt.Errorf("clobws json decode: %w", err))
			return nil
		}
	} else {
		raws = []json.RawMessage{json.RawMessage(msg)}
	}

	events := make([]Message, 0, len(raws))
	for _, raw := range raws {
		var head struct {
			EventType string `json:"event_type"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			emitErrNonBlocking(errs, fmt.Errorf("clobws json decode: %w", err))
			continue
		}
		events = append(events, Message{EventType: head.EventType, Raw: raw})
	}
	return events
}

func emitErrNonBlocking(ch chan<- error, err error) {
	if err == nil {
		return
	}
	select {
	case ch <- err:
	default:
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

func sleepWithJitter(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	j := int64(d) / 7
	if j > 0 {
		d = time.Duration(int64(d) + rand.Int64N(2*j+1) - j)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
