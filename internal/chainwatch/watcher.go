package chainwatch

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// TradeEvent is one maker-matched settlement by the target wallet.
// Amounts are exact 1e6-unit values from the matched maker order.
type TradeEvent struct {
	BlockNumber uint64
	TxHash      common.Hash
	TokenID     *big.Int
	Side        uint8
	MakerAmount *big.Int
	TakerAmount *big.Int
}

// CloseEvent reports that the transport ended without a transport error
// (clean close or unsubscribe).
type CloseEvent struct {
	Code   int
	Reason string
}

// Event is a tagged variant: exactly one field is set. Consumers select on
// the stream instead of registering callbacks, so the three signal kinds
// are handled exhaustively in one place.
type Event struct {
	Trade *TradeEvent
	Err   error
	Close *CloseEvent
}

type backend interface {
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Watcher turns new-head notifications into TradeEvents for one exchange
// contract and one target wallet.
type Watcher struct {
	backend  backend
	exchange common.Address
	logf     func(format string, args ...any)
}

func NewWatcher(client *ethclient.Client, exchange common.Address) *Watcher {
	return newWatcher(client, exchange)
}

func newWatcher(b backend, exchange common.Address) *Watcher {
	return &Watcher{backend: b, exchange: exchange, logf: log.Printf}
}

// Subscribe starts head monitoring and returns the event stream. The stream
// terminates (channel closed) after an Err or Close signal; reconnecting is
// the caller's decision, never done here.
//
// Block handlers run concurrently with later notifications. There is no
// backpressure between overlapping handlers; this assumes the target
// wallet's fills are rare relative to block production (a liveness
// assumption, not a correctness guarantee; handlers can race on receipt
// fetches under a fast producer).
func (w *Watcher) Subscribe(ctx context.Context, target common.Address) (<-chan Event, error) {
	heads := make(chan *types.Header, 16)
	sub, err := w.backend.SubscribeNewHead(ctx, heads)
	if err != nil {
		return nil, fmt.Errorf("subscribe new heads: %w", err)
	}

	out := make(chan Event, 64)
	go w.run(ctx, sub, heads, target, out)
	return out, nil
}

func (w *Watcher) run(ctx context.Context, sub ethereum.Subscription, heads <-chan *types.Header, target common.Address, out chan Event) {
	var wg sync.WaitGroup

loop:
	for {
		select {
		case <-ctx.Done():
			break loop

		case err := <-sub.Err():
			if err != nil {
				out <- Event{Err: err}
			} else {
				out <- Event{Close: &CloseEvent{Reason: "head subscription ended"}}
			}
			break loop

		case hdr := <-heads:
			if hdr == nil || hdr.Number == nil {
				continue
			}
			num := new(big.Int).Set(hdr.Number)
			wg.Add(1)
			go func() {
				defer wg.Done()
				w.handleBlock(ctx, num, target, out)
			}()
		}
	}

	sub.Unsubscribe()
	wg.Wait()
	close(out)
}

// handleBlock isolates one block's processing: any failure here is logged
// and dropped so a bad block never tears down the subscription.
func (w *Watcher) handleBlock(ctx context.Context, num *big.Int, target common.Address, out chan<- Event) {
	block, err := w.backend.BlockByNumber(ctx, num)
	if err != nil {
		if ctx.Err() == nil {
			w.logf("[warn] fetch block %s: %v", num, err)
		}
		return
	}

	for _, tx := range block.Transactions() {
		ev, err := w.evaluateTx(ctx, block.NumberU64(), tx, target)
		if err != nil {
			if ctx.Err() == nil {
				w.logf("[warn] block %s tx %s: %v", num, tx.Hash(), err)
			}
			continue
		}
		if ev == nil {
			continue
		}
		select {
		case out <- Event{Trade: ev}:
		case <-ctx.Done():
			return
		}
	}
}

// evaluateTx returns the trade event for a qualifying settlement, nil for
// the (common) non-qualifying case, and an error only for RPC failures.
// A calldata decode mismatch is expected and silent.
func (w *Watcher) evaluateTx(ctx context.Context, blockNum uint64, tx *types.Transaction, target common.Address) (*TradeEvent, error) {
	to := tx.To()
	if to == nil || *to != w.exchange {
		return nil, nil
	}
	if len(tx.Data()) < 4 {
		return nil, nil
	}

	pair, ok := DecodeMatchOrders(tx.Data())
	if !ok {
		return nil, nil
	}
	matched := pair.MakerOrderFor(target)
	if matched == nil {
		return nil, nil
	}

	receipt, err := w.backend.TransactionReceipt(ctx, tx.Hash())
	if err != nil {
		return nil, fmt.Errorf("fetch receipt: %w", err)
	}
	if receipt == nil || receipt.Status != types.ReceiptStatusSuccessful {
		return nil, nil
	}

	return &TradeEvent{
		BlockNumber: blockNum,
		TxHash:      tx.Hash(),
		TokenID:     new(big.Int).Set(matched.TokenId),
		Side:        matched.Side,
		MakerAmount: new(big.Int).Set(matched.MakerAmount),
		TakerAmount: new(big.Int).Set(matched.TakerAmount),
	}, nil
}
