package chainwatch

import (
	"bytes"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// matchOrdersABI declares the single CTF exchange entrypoint we decode.
// Field names mirror the on-chain Order struct so unpacked tuples convert
// straight into ExchangeOrder.
const matchOrdersABI = `[{
  "type": "function",
  "name": "matchOrders",
  "inputs": [
    {"name": "takerOrder", "type": "tuple", "components": [
      {"name": "salt", "type": "uint256"},
      {"name": "maker", "type": "address"},
      {"name": "signer", "type": "address"},
      {"name": "taker", "type": "address"},
      {"name": "tokenId", "type": "uint256"},
      {"name": "makerAmount", "type": "uint256"},
      {"name": "takerAmount", "type": "uint256"},
      {"name": "expiration", "type": "uint256"},
      {"name": "nonce", "type": "uint256"},
      {"name": "feeRateBps", "type": "uint256"},
      {"name": "side", "type": "uint8"},
      {"name": "signatureType", "type": "uint8"},
      {"name": "signature", "type": "bytes"}
    ]},
    {"name": "makerOrders", "type": "tuple[]", "components": [
      {"name": "salt", "type": "uint256"},
      {"name": "maker", "type": "address"},
      {"name": "signer", "type": "address"},
      {"name": "taker", "type": "address"},
      {"name": "tokenId", "type": "uint256"},
      {"name": "makerAmount", "type": "uint256"},
      {"name": "takerAmount", "type": "uint256"},
      {"name": "expiration", "type": "uint256"},
      {"name": "nonce", "type": "uint256"},
      {"name": "feeRateBps", "type": "uint256"},
      {"name": "side", "type": "uint8"},
      {"name": "signatureType", "type": "uint8"},
      {"name": "signature", "type": "bytes"}
    ]},
    {"name": "takerFillAmount", "type": "uint256"},
    {"name": "makerFillAmounts", "type": "uint256[]"}
  ]
}]`

// Side values used by the exchange Order struct.
const (
	OrderSideBuy  uint8 = 0
	OrderSideSell uint8 = 1
)

// ExchangeOrder is one settled order as encoded in matchOrders calldata.
// Amount fields stay *big.Int: on-chain 1e6-unit amounts do not fit the
// precision guarantees of float64 and must not be narrowed here.
type ExchangeOrder struct {
	Salt          *big.Int
	Maker         common.Address
	Signer        common.Address
	Taker         common.Address
	TokenId       *big.Int
	MakerAmount   *big.Int
	TakerAmount   *big.Int
	Expiration    *big.Int
	Nonce         *big.Int
	FeeRateBps    *big.Int
	Side          uint8
	SignatureType uint8
	Signature     []byte
}

// OrderPair is the decoded payload of one matchOrders call: the taker order
// plus every maker order it was crossed against.
type OrderPair struct {
	Taker  ExchangeOrder
	Makers []ExchangeOrder
}

// MakerOrderFor returns the first maker order placed by addr, or nil.
// Address comparison is canonical (hex casing irrelevant).
func (p *OrderPair) MakerOrderFor(addr common.Address) *ExchangeOrder {
	if p == nil {
		return nil
	}
	for i := range p.Makers {
		if p.Makers[i].Maker == addr {
			return &p.Makers[i]
		}
	}
	return nil
}

var matchOrdersMethod = mustMatchOrdersMethod()

func mustMatchOrdersMethod() abi.Method {
	parsed, err := abi.JSON(strings.NewReader(matchOrdersABI))
	if err != nil {
		panic(err)
	}
	m, ok := parsed.Methods["matchOrders"]
	if !ok {
		panic("matchOrders method missing from ABI")
	}
	return m
}

// DecodeMatchOrders decodes calldata against the matchOrders signature.
// A mismatch is not an error: most exchange calls are other functions
// (fillOrder, cancel, operator calls) and the caller just skips them.
func DecodeMatchOrders(data []byte) (*OrderPair, bool) {
	if len(data) < 4 {
		return nil, false
	}
	if !bytes.Equal(data[:4], matchOrdersMethod.ID) {
		return nil, false
	}

	vals, err := matchOrdersMethod.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, false
	}
	if len(vals) < 2 {
		return nil, false
	}

	taker := *abi.ConvertType(vals[0], new(ExchangeOrder)).(*ExchangeOrder)
	makers := *abi.ConvertType(vals[1], new([]ExchangeOrder)).(*[]ExchangeOrder)
	return &OrderPair{Taker: taker, Makers: makers}, true
}

// EncodeMatchOrders packs an OrderPair back into calldata. Used by tests to
// fabricate settlement transactions without a live chain.
func EncodeMatchOrders(pair OrderPair, takerFill *big.Int, makerFills []*big.Int) ([]byte, error) {
	if takerFill == nil {
		takerFill = new(big.Int)
	}
	if makerFills == nil {
		makerFills = []*big.Int{}
	}
	packed, err := matchOrdersMethod.Inputs.Pack(pair.Taker, pair.Makers, takerFill, makerFills)
	if err != nil {
		return nil, err
	}
	return append(append([]byte{}, matchOrdersMethod.ID...), packed...), nil
}
