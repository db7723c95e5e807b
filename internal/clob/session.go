package clob

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// CredentialStore is the slice of the credential store the session needs:
// a lookup of stored API credentials keyed by checksummed wallet address.
type CredentialStore interface {
	Get(ctx context.Context, wallet string) (string, bool, error)
}

// storedCreds is the record format persisted by the credential store.
type storedCreds struct {
	ApiKey     string `json:"apiKey"`
	ApiSecret  string `json:"apiSecret"`
	Passphrase string `json:"passphrase"`
}

// BootstrapError marks a failed session initialization. The failure is
// retryable: the next call runs the whole bootstrap again.
type BootstrapError struct {
	Err error
}

func (e *BootstrapError) Error() string { return "clob session bootstrap: " + e.Err.Error() }
func (e *BootstrapError) Unwrap() error { return e.Err }

type SessionConfig struct {
	Host          string
	RPCURL        string
	PrivateKeyHex string
	// Funder is the proxy wallet holding funds and positions. Empty means
	// the signer address itself.
	Funder        string
	SignatureType int
	UseServerTime bool
}

// Session hands out a ready-to-trade Client, building it on first use.
// Initialization is serialized by a mutex rather than sync.Once so a failed
// bootstrap does not poison later calls.
type Session struct {
	cfg   SessionConfig
	store CredentialStore
	logf  func(format string, args ...any)

	mu     sync.Mutex
	client *Client
}

func NewSession(cfg SessionConfig, store CredentialStore) *Session {
	return &Session{cfg: cfg, store: store, logf: log.Printf}
}

// Client returns the bootstrapped client, initializing it on first call.
func (s *Session) Client(ctx context.Context) (*Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}

	c, err := s.bootstrap(ctx)
	if err != nil {
		return nil, &BootstrapError{Err: err}
	}
	s.client = c
	return c, nil
}

func (s *Session) bootstrap(ctx context.Context) (*Client, error) {
	pk, err := crypto.HexToECDSA(strip0x(s.cfg.PrivateKeyHex))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	rpc, err := ethclient.DialContext(ctx, s.cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc %s: %w", s.cfg.RPCURL, err)
	}
	defer rpc.Close()
	chainID, err := rpc.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}

	var funder common.Address
	if s.cfg.Funder != "" {
		if !common.IsHexAddress(s.cfg.Funder) {
			return nil, fmt.Errorf("invalid funder address %q", s.cfg.Funder)
		}
		funder = common.HexToAddress(s.cfg.Funder)
	}

	c, err := NewClient(s.cfg.Host, chainID.Int64(), pk, funder, s.cfg.SignatureType)
	if err != nil {
		return nil, err
	}

	creds, err := s.lookupCreds(ctx, c)
	if err != nil {
		return nil, err
	}
	c.SetApiCreds(creds)
	s.logf("[info] clob session ready: signer=%s funder=%s chain=%d", c.SignerAddress(), c.FunderAddress(), c.ChainID())
	return c, nil
}

// lookupCreds prefers credentials stored for the funder wallet; absent
// those it creates (or derives) a key against the live API. The create
// attempt fails routinely for an already-registered signer, hence quiet.
func (s *Session) lookupCreds(ctx context.Context, c *Client) (ApiKeyCreds, error) {
	if s.store != nil {
		raw, ok, err := s.store.Get(ctx, c.FunderAddress().Hex())
		if err != nil {
			return ApiKeyCreds{}, fmt.Errorf("credential store lookup: %w", err)
		}
		if ok {
			var rec storedCreds
			if err := json.Unmarshal([]byte(raw), &rec); err != nil {
				return ApiKeyCreds{}, fmt.Errorf("decode stored credentials: %w", err)
			}
			if rec.ApiKey != "" && rec.ApiSecret != "" {
				return ApiKeyCreds{Key: rec.ApiKey, Secret: rec.ApiSecret, Passphrase: rec.Passphrase}, nil
			}
		}
	}

	creds, err := c.CreateOrDeriveApiKey(ctx, 0, s.cfg.UseServerTime, true)
	if err != nil {
		return ApiKeyCreds{}, fmt.Errorf("create or derive api key: %w", err)
	}
	if creds.Key == "" || creds.Secret == "" {
		return ApiKeyCreds{}, fmt.Errorf("api returned empty credentials")
	}
	return creds, nil
}

func strip0x(s string) string {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		return s[2:]
	}
	return s
}

// The methods below bootstrap on demand and forward to the client, so
// callers never touch an uninitialized Client.

func (s *Session) CreateApiKey(ctx context.Context, nonce uint64) (ApiKeyCreds, error) {
	c, err := s.Client(ctx)
	if err != nil {
		return ApiKeyCreds{}, err
	}
	return c.CreateApiKey(ctx, nonce, s.cfg.UseServerTime)
}

func (s *Session) GetApiKeys(ctx context.Context) (*ApiKeysResponse, error) {
	c, err := s.Client(ctx)
	if err != nil {
		return nil, err
	}
	return c.GetApiKeys(ctx, s.cfg.UseServerTime)
}

func (s *Session) DeleteApiKey(ctx context.Context) (string, error) {
	c, err := s.Client(ctx)
	if err != nil {
		return "", err
	}
	return c.DeleteApiKey(ctx, s.cfg.UseServerTime)
}

func (s *Session) PlaceOrder(ctx context.Context, tokenID string, side Side, price, size float64, nonce int64) (*PlaceResponse, error) {
	c, err := s.Client(ctx)
	if err != nil {
		return nil, err
	}
	return c.PlaceOrder(ctx, tokenID, side, price, size, nonce, s.cfg.UseServerTime)
}

func (s *Session) GetOrder(ctx context.Context, orderID string) (*OrderInfo, error) {
	c, err := s.Client(ctx)
	if err != nil {
		return nil, err
	}
	return c.GetOrder(ctx, orderID, s.cfg.UseServerTime)
}

func (s *Session) IsOrderScoring(ctx context.Context, orderID string) (bool, error) {
	c, err := s.Client(ctx)
	if err != nil {
		return false, err
	}
	return c.IsOrderScoring(ctx, orderID, s.cfg.UseServerTime)
}

func (s *Session) GetActiveOrders(ctx context.Context, market, assetID string) ([]OrderInfo, error) {
	c, err := s.Client(ctx)
	if err != nil {
		return nil, err
	}
	return c.GetActiveOrders(ctx, market, assetID, s.cfg.UseServerTime)
}

func (s *Session) CancelOrder(ctx context.Context, orderID string) (*CancelResponse, error) {
	c, err := s.Client(ctx)
	if err != nil {
		return nil, err
	}
	return c.CancelOrder(ctx, orderID, s.cfg.UseServerTime)
}

func (s *Session) CancelAllOrders(ctx context.Context) (*CancelResponse, error) {
	c, err := s.Client(ctx)
	if err != nil {
		return nil, err
	}
	return c.CancelAllOrders(ctx, s.cfg.UseServerTime)
}

func (s *Session) GetBalanceAllowance(ctx context.Context, params *BalanceAllowanceParams) (*BalanceAllowance, error) {
	c, err := s.Client(ctx)
	if err != nil {
		return nil, err
	}
	return c.GetBalanceAllowance(ctx, params, s.cfg.UseServerTime)
}
