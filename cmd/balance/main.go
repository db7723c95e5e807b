// Command balance prints the proxy wallet's USDC balance and its allowance
// toward the exchange, read straight from the chain.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"poly-mirror/internal/config"
)

const usdcDecimals = 6

var (
	erc20BalanceOfSelector = crypto.Keccak256([]byte("balanceOf(address)"))[:4]
	erc20AllowanceSelector = crypto.Keccak256([]byte("allowance(address,address)"))[:4]
)

func main() {
	log.SetFlags(0)

	if err := config.LoadDotEnv(); err != nil {
		log.Printf("[warn] %v", err)
	}

	var addrFlag string
	flag.StringVar(&addrFlag, "address", "", "Wallet address to check (default: PROXY_WALLET)")
	flag.Parse()

	env, err := config.LoadEnv()
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	owner := env.ProxyWallet
	ownerSrc := "PROXY_WALLET"
	if strings.TrimSpace(addrFlag) != "" {
		if !common.IsHexAddress(addrFlag) {
			log.Fatalf("[fatal] invalid --address %q", addrFlag)
		}
		owner = common.HexToAddress(addrFlag)
		ownerSrc = "--address"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	client, err := ethclient.DialContext(ctx, env.RPCURL)
	if err != nil {
		log.Fatalf("[fatal] dial polygon RPC: %v", err)
	}
	defer client.Close()

	balance, err := callUint256(ctx, client, env.USDCAddress, balanceOfCalldata(owner))
	if err != nil {
		log.Fatalf("[fatal] usdc balanceOf(%s): %v", owner.Hex(), err)
	}
	allowance, err := callUint256(ctx, client, env.USDCAddress, allowanceCalldata(owner, env.ExchangeAddress))
	if err != nil {
		log.Fatalf("[fatal] usdc allowance(%s,%s): %v", owner.Hex(), env.ExchangeAddress.Hex(), err)
	}

	fmt.Printf("owner: %s (%s)\n", owner.Hex(), ownerSrc)
	fmt.Printf("usdc_balance: %s (units=%s)\n", formatUnits(balance), balance)
	fmt.Printf("exchange_allowance: %s (spender=%s)\n", formatUnits(allowance), env.ExchangeAddress.Hex())
}

func balanceOfCalldata(owner common.Address) []byte {
	data := make([]byte, 0, 4+32)
	data = append(data, erc20BalanceOfSelector...)
	data = append(data, common.LeftPadBytes(owner.Bytes(), 32)...)
	return data
}

func allowanceCalldata(owner, spender common.Address) []byte {
	data := make([]byte, 0, 4+32+32)
	data = append(data, erc20AllowanceSelector...)
	data = append(data, common.LeftPadBytes(owner.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(spender.Bytes(), 32)...)
	return data
}

func callUint256(ctx context.Context, client *ethclient.Client, to common.Address, data []byte) (*big.Int, error) {
	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty result")
	}
	return new(big.Int).SetBytes(out), nil
}

func formatUnits(v *big.Int) string {
	s := v.String()
	if len(s) <= usdcDecimals {
		s = strings.Repeat("0", usdcDecimals-len(s)+1) + s
	}
	i := len(s) - usdcDecimals
	out := strings.TrimRight(s[:i]+"."+s[i:], "0")
	return strings.TrimRight(out, ".")
}
