// Command mirror follows one wallet's Polymarket settlements and places
// proportional copy orders on the CLOB.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"poly-mirror/internal/chainwatch"
	"poly-mirror/internal/clob"
	"poly-mirror/internal/clobws"
	"poly-mirror/internal/config"
	"poly-mirror/internal/credstore"
	"poly-mirror/internal/executor"
	"poly-mirror/internal/jsonl"
	"poly-mirror/internal/mirror"
)

type args struct {
	target common.Address
	params mirror.CopyParams

	enableTrading bool
	signatureType int
	useServerTime bool
	userFeed      bool
	outFile       string
}

const defaultOutFile = "./out/mirror.jsonl"

func parseArgs() (*args, error) {
	var (
		targetHex      = flag.String("target", strings.TrimSpace(os.Getenv("TARGET_WALLET")), "wallet address to mirror (or TARGET_WALLET)")
		copyRatio      = flag.Float64("copy-ratio", 0.1, "fraction of the observed size to copy")
		retryLimit     = flag.Int("retry-limit", 3, "max placement attempts per trade")
		orderTimeout   = flag.Int("order-timeout", 30, "seconds to wait before each order state check")
		priceIncrement = flag.Float64("price-increment", 1.0, "price adjustment per retry, in percent points")
		enableTrading  = flag.Bool("enable-trading", false, "place real orders (default: dry-run)")
		signatureType  = flag.Int("signature-type", 1, "order signature type: 0=EOA 1=proxy 2=safe")
		useServerTime  = flag.Bool("use-server-time", false, "sign auth payloads with CLOB server time")
		userFeed       = flag.Bool("user-feed", true, "stream own order/trade updates when CLOB_WS_URL is set")
		outFile        = flag.String("out", defaultOutFile, "JSONL event log path (empty disables)")
	)
	flag.Parse()

	if *targetHex == "" {
		return nil, fmt.Errorf("--target (or TARGET_WALLET) is required")
	}
	if !common.IsHexAddress(*targetHex) {
		return nil, fmt.Errorf("invalid target address %q", *targetHex)
	}
	if *copyRatio <= 0 {
		return nil, fmt.Errorf("--copy-ratio must be > 0")
	}
	if *retryLimit < 1 {
		return nil, fmt.Errorf("--retry-limit must be >= 1")
	}
	if *orderTimeout < 1 {
		return nil, fmt.Errorf("--order-timeout must be >= 1")
	}
	if *priceIncrement < 0 {
		return nil, fmt.Errorf("--price-increment must be >= 0")
	}

	return &args{
		target: common.HexToAddress(*targetHex),
		params: mirror.CopyParams{
			CopyRatio:         *copyRatio,
			RetryLimit:        *retryLimit,
			OrderTimeout:      time.Duration(*orderTimeout) * time.Second,
			PriceIncrementPct: *priceIncrement,
		},
		enableTrading: *enableTrading,
		signatureType: *signatureType,
		useServerTime: *useServerTime,
		userFeed:      *userFeed,
		outFile:       *outFile,
	}, nil
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := config.LoadDotEnv(); err != nil {
		log.Printf("[warn] %v", err)
	}

	parsed, err := parseArgs()
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	env, err := config.LoadEnv()
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	runStartedAt := time.Now()
	tradeLog := jsonl.New(parsed.outFile)
	if tradeLog != nil {
		log.Printf("Trade log: %s (JSONL)", parsed.outFile)
		defer func() {
			if err := tradeLog.Close(); err != nil {
				log.Printf("[warn] trade log close: %v", err)
			}
		}()
		defer func() {
			logMirrorEvent(tradeLog, mirrorLogEvent{
				TsMs:     time.Now().UnixMilli(),
				Event:    "shutdown",
				Mode:     mirrorMode(parsed.enableTrading),
				Target:   parsed.target.Hex(),
				UptimeMs: time.Since(runStartedAt).Milliseconds(),
			})
		}()
		logMirrorEvent(tradeLog, mirrorLogEvent{
			TsMs:              time.Now().UnixMilli(),
			Event:             "start",
			Mode:              mirrorMode(parsed.enableTrading),
			Target:            parsed.target.Hex(),
			CopyRatio:         parsed.params.CopyRatio,
			RetryLimit:        parsed.params.RetryLimit,
			OrderTimeoutSec:   int(parsed.params.OrderTimeout / time.Second),
			PriceIncrementPct: parsed.params.PriceIncrementPct,
		})
	}

	log.Printf("Mirror (maker-matched settlements) → Polymarket CLOB")
	log.Printf("Target: %s", parsed.target.Hex())
	log.Printf("Copy ratio: %.4f", parsed.params.CopyRatio)
	log.Printf("Retry limit: %d", parsed.params.RetryLimit)
	log.Printf("Order timeout: %s", parsed.params.OrderTimeout)
	log.Printf("Price increment: %.2f%%", parsed.params.PriceIncrementPct)
	log.Printf("Dry-run: %v", !parsed.enableTrading)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		log.Printf("Shutting down...")
		cancel()
	}()

	var store credstore.Store
	if env.CredsDBPath != "" {
		s, err := credstore.Open(env.CredsDBPath)
		if err != nil {
			log.Fatalf("[fatal] %v", err)
		}
		defer s.Close()
		store = s
		log.Printf("Credential store: %s", env.CredsDBPath)
	}

	session := clob.NewSession(clob.SessionConfig{
		Host:          env.ClobHTTPURL,
		RPCURL:        env.RPCURL,
		PrivateKeyHex: env.PrivateKeyHex,
		Funder:        env.ProxyWallet.Hex(),
		SignatureType: parsed.signatureType,
		UseServerTime: parsed.useServerTime,
	}, store)

	var engine *executor.Engine
	if parsed.enableTrading {
		// Bootstrap eagerly so auth problems surface at startup, not on
		// the first observed trade.
		client, err := session.Client(ctx)
		if err != nil {
			log.Fatalf("[fatal] %v", err)
		}
		engine = executor.New(session, parsed.params)

		if parsed.userFeed && env.ClobWSURL != "" {
			if creds, ok := client.ApiCreds(); ok {
				go runUserFeed(ctx, env.ClobWSURL, creds)
			}
		}
	}

	runLoop(ctx, env, parsed, engine, tradeLog)
}

// runLoop owns the subscription lifecycle: dial, watch, and on any stream
// end reconnect from the new head. Trade handling runs concurrently so a
// slow execution never stalls the stream.
func runLoop(ctx context.Context, env *config.Env, parsed *args, engine *executor.Engine, tradeLog *jsonl.Writer) {
	var handlers sync.WaitGroup
	defer handlers.Wait()

	for {
		if ctx.Err() != nil {
			return
		}

		polygon, headNum, err := dialPolygonWithBackoff(ctx, env.WSSURL, time.Second, 30*time.Second)
		if err != nil {
			// Context cancellation (SIGINT/SIGTERM) is the only expected way to get here.
			return
		}

		watcher := chainwatch.NewWatcher(polygon, env.ExchangeAddress)
		events, err := watcher.Subscribe(ctx, parsed.target)
		if err != nil {
			log.Printf("[warn] subscribe failed: %v", err)
			polygon.Close()
			if sleepWithContext(ctx, jitterDuration(2*time.Second)) != nil {
				return
			}
			continue
		}
		log.Printf("Watching %s on exchange %s from block %d", parsed.target.Hex(), env.ExchangeAddress.Hex(), headNum)

		for ev := range events {
			switch {
			case ev.Trade != nil:
				trade := *ev.Trade
				handlers.Add(1)
				go func() {
					defer handlers.Done()
					handleTrade(ctx, trade, parsed, engine, tradeLog)
				}()
			case ev.Err != nil:
				log.Printf("[warn] head subscription error: %v", ev.Err)
			case ev.Close != nil:
				log.Printf("[warn] head subscription closed: %s", ev.Close.Reason)
			}
		}

		polygon.Close()
		if ctx.Err() != nil {
			return
		}
		wait := jitterDuration(2 * time.Second)
		log.Printf("Reconnecting in %s...", wait)
		if sleepWithContext(ctx, wait) != nil {
			return
		}
	}
}

func handleTrade(ctx context.Context, trade chainwatch.TradeEvent, parsed *args, engine *executor.Engine, tradeLog *jsonl.Writer) {
	log.Printf("Settlement: block=%d tx=%s token=%s side=%d maker=%s taker=%s",
		trade.BlockNumber, trade.TxHash.Hex(), trade.TokenID, trade.Side, trade.MakerAmount, trade.TakerAmount)

	order, ok := mirror.Translate(trade, parsed.params)
	if !ok {
		log.Printf("Skipping settlement tx=%s (not mirrored)", trade.TxHash.Hex())
		logMirrorEvent(tradeLog, mirrorLogEvent{
			TsMs:   time.Now().UnixMilli(),
			Event:  "skip",
			Mode:   mirrorMode(parsed.enableTrading),
			TxHash: trade.TxHash.Hex(),
			Block:  trade.BlockNumber,
			Reason: "sell or degenerate amounts",
		})
		return
	}

	logMirrorEvent(tradeLog, mirrorLogEvent{
		TsMs:    time.Now().UnixMilli(),
		Event:   "trade",
		Mode:    mirrorMode(parsed.enableTrading),
		TxHash:  trade.TxHash.Hex(),
		Block:   trade.BlockNumber,
		TokenID: order.TokenID,
		Side:    string(order.Side),
		Price:   order.Price,
		Size:    order.Size,
	})

	if engine == nil {
		log.Printf("[dry] would place %s token=%s price=%.6f size=%.4f", order.Side, order.TokenID, order.Price, order.Size)
		return
	}

	outcome := engine.Execute(ctx, *order)
	ev := mirrorLogEvent{
		TsMs:       time.Now().UnixMilli(),
		Event:      "order_result",
		Mode:       mirrorMode(parsed.enableTrading),
		TxHash:     trade.TxHash.Hex(),
		TokenID:    order.TokenID,
		Side:       string(order.Side),
		Status:     string(outcome.Status),
		Attempts:   outcome.Attempts,
		FinalPrice: outcome.FinalPrice,
		OrderID:    outcome.OrderID,
	}
	if outcome.Err != nil {
		ev.Err = outcome.Err.Error()
	}
	logMirrorEvent(tradeLog, ev)
}

// runUserFeed logs own-account order and trade updates from the CLOB user
// channel. Purely informational; order state of record is the REST poll.
func runUserFeed(ctx context.Context, wsURL string, creds clob.ApiKeyCreds) {
	auth := clobws.Auth{ApiKey: creds.Key, Secret: creds.Secret, Passphrase: creds.Passphrase}
	msgs, errs := clobws.Start(ctx, wsURL, auth, nil, clobws.Options{})
	for {
		select {
		case m, ok := <-msgs:
			if !ok {
				return
			}
			log.Printf("[feed] %s: %s", m.EventType, m.Raw)
		case err, ok := <-errs:
			if !ok {
				return
			}
			log.Printf("[warn] user feed: %v", err)
		case <-ctx.Done():
			return
		}
	}
}

func dialPolygonWithBackoff(ctx context.Context, url string, baseDelay, maxDelay time.Duration) (*ethclient.Client, uint64, error) {
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}

	delay := baseDelay
	for {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}

		client, err := ethclient.DialContext(ctx, url)
		if err == nil {
			headNum, headErr := client.BlockNumber(ctx)
			if headErr == nil {
				return client, headNum, nil
			}
			client.Close()
			err = fmt.Errorf("failed to fetch head: %w", headErr)
		}

		wait := jitterDuration(delay)
		log.Printf("[warn] failed to connect polygon ws, retrying in %s: %v", wait, err)
		if err := sleepWithContext(ctx, wait); err != nil {
			return nil, 0, err
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func jitterDuration(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	j := d / 5 // +/-20%
	if j <= 0 {
		return d
	}
	return d - j + time.Duration(rand.Int64N(int64(j*2)+1))
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
