// Package config loads the environment the bot runs with. A .env file in the
// working directory is honored; real environment variables win.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Env is the validated environment configuration.
type Env struct {
	// ProxyWallet is the Polymarket proxy wallet that funds orders and
	// holds positions.
	ProxyWallet common.Address
	// PrivateKeyHex signs orders and auth payloads. Never logged.
	PrivateKeyHex string

	ClobHTTPURL string
	// ClobWSURL is optional; the user-channel feed is skipped without it.
	ClobWSURL string

	// RPCURL serves request/response calls (chain id, receipts, balances).
	RPCURL string
	// WSSURL serves the new-head subscription.
	WSSURL string

	ExchangeAddress common.Address
	USDCAddress     common.Address

	// CredsDBPath points at the local credential database. Empty means
	// credentials are created or derived against the live API instead.
	CredsDBPath string
}

// LoadDotEnv loads .env if present. Variables already set stay untouched.
func LoadDotEnv() error {
	if err := godotenv.Load(); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// LoadEnv validates the process environment and returns the configuration.
// Every missing or malformed variable is reported at once.
func LoadEnv() (*Env, error) {
	var missing []string
	get := func(name string) string {
		v := strings.TrimSpace(os.Getenv(name))
		if v == "" {
			missing = append(missing, name)
		}
		return v
	}

	e := &Env{
		PrivateKeyHex: get("PRIVATE_KEY"),
		ClobHTTPURL:   get("CLOB_HTTP_URL"),
		ClobWSURL:     strings.TrimSpace(os.Getenv("CLOB_WS_URL")),
		RPCURL:        get("RPC_URL"),
		WSSURL:        get("WSS_URL"),
		CredsDBPath:   strings.TrimSpace(os.Getenv("CREDS_DB_PATH")),
	}

	proxyWallet := get("PROXY_WALLET")
	exchange := get("POLYMARKET_CONTRACT_ADDRESS")
	usdc := get("USDC_CONTRACT_ADDRESS")

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	var badAddr []string
	for _, a := range []struct {
		name, value string
		out         *common.Address
	}{
		{"PROXY_WALLET", proxyWallet, &e.ProxyWallet},
		{"POLYMARKET_CONTRACT_ADDRESS", exchange, &e.ExchangeAddress},
		{"USDC_CONTRACT_ADDRESS", usdc, &e.USDCAddress},
	} {
		if !common.IsHexAddress(a.value) {
			badAddr = append(badAddr, fmt.Sprintf("%s=%q", a.name, a.value))
			continue
		}
		*a.out = common.HexToAddress(a.value)
	}
	if len(badAddr) > 0 {
		return nil, fmt.Errorf("invalid addresses: %s", strings.Join(badAddr, ", "))
	}

	return e, nil
}
