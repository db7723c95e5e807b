package clob

import (
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// L1 auth: an EIP-712 ClobAuth attestation signed with the wallet key.
// L2 auth: an HMAC-SHA256 over timestamp+method+path+body keyed by the
// API secret. Both follow the @polymarket/clob-client canonical forms.

const clobAuthMessage = "This message attests that I control the given wallet"

var (
	clobAuthDomainNameHash    = crypto.Keccak256Hash([]byte("ClobAuthDomain"))
	clobAuthDomainVersionHash = crypto.Keccak256Hash([]byte("1"))
	clobAuthDomainTypeHash    = crypto.Keccak256Hash([]byte("EIP712Domain(string name,string version,uint256 chainId)"))
	clobAuthTypeHash          = crypto.Keccak256Hash([]byte("ClobAuth(address address,string timestamp,uint256 nonce,string message)"))

	bytes32Ty = mustABIType("bytes32")
	addressTy = mustABIType("address")
	uint256Ty = mustABIType("uint256")
)

func mustABIType(t string) abi.Type {
	ty, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return ty
}

func buildClobAuthDomainSeparator(chainID int64) (common.Hash, error) {
	encoded, err := abi.Arguments{
		{Type: bytes32Ty},
		{Type: bytes32Ty},
		{Type: bytes32Ty},
		{Type: uint256Ty},
	}.Pack(clobAuthDomainTypeHash, clobAuthDomainNameHash, clobAuthDomainVersionHash, big.NewInt(chainID))
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(encoded), nil
}

func buildClobEip712Signature(privateKey *ecdsa.PrivateKey, signer common.Address, chainID int64, timestamp int64, nonce uint64) (string, error) {
	domainSeparator, err := buildClobAuthDomainSeparator(chainID)
	if err != nil {
		return "", err
	}

	// EIP-712 encodes string members as keccak256(value).
	tsHash := crypto.Keccak256Hash([]byte(fmt.Sprintf("%d", timestamp)))
	msgHash := crypto.Keccak256Hash([]byte(clobAuthMessage))

	encoded, err := abi.Arguments{
		{Type: bytes32Ty},
		{Type: addressTy},
		{Type: bytes32Ty},
		{Type: uint256Ty},
		{Type: bytes32Ty},
	}.Pack(clobAuthTypeHash, signer, tsHash, new(big.Int).SetUint64(nonce), msgHash)
	if err != nil {
		return "", err
	}

	structHash := crypto.Keccak256Hash(encoded)
	raw := make([]byte, 0, 2+32+32)
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator.Bytes()...)
	raw = append(raw, structHash.Bytes()...)
	digest := crypto.Keccak256Hash(raw)

	sig, err := crypto.Sign(digest.Bytes(), privateKey)
	if err != nil {
		return "", err
	}
	sig[64] += 27
	return "0x" + common.Bytes2Hex(sig), nil
}

// sanitizeBase64Secret accepts base64url secrets ('-' -> '+', '_' -> '/'),
// drops any non-base64 characters and re-pads, matching the clob-client.
func sanitizeBase64Secret(secret string) string {
	secret = strings.TrimSpace(secret)
	secret = strings.ReplaceAll(secret, "-", "+")
	secret = strings.ReplaceAll(secret, "_", "/")

	var b strings.Builder
	b.Grow(len(secret))
	for i := 0; i < len(secret); i++ {
		c := secret[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			b.WriteByte(c)
		case c == '+' || c == '/' || c == '=':
			b.WriteByte(c)
		}
	}
	out := b.String()
	if rem := len(out) % 4; rem != 0 {
		out += strings.Repeat("=", 4-rem)
	}
	return out
}

// buildPolyHmacSignature signs timestamp+method+requestPath+body and returns
// a url-safe base64 digest (with '=' padding kept).
func buildPolyHmacSignature(secret string, timestamp int64, method, requestPath string, body []byte) (string, error) {
	var sb strings.Builder
	sb.Grow(32 + len(method) + len(requestPath) + len(body))
	sb.WriteString(fmt.Sprintf("%d", timestamp))
	sb.WriteString(method)
	sb.WriteString(requestPath)
	if body != nil {
		sb.Write(body)
	}

	decoded, err := base64.StdEncoding.DecodeString(sanitizeBase64Secret(secret))
	if err != nil {
		return "", fmt.Errorf("decode base64 secret: %w", err)
	}

	mac := hmac.New(sha256.New, decoded)
	_, _ = mac.Write([]byte(sb.String()))
	sum := mac.Sum(nil)

	sig := base64.StdEncoding.EncodeToString(sum)
	sig = strings.ReplaceAll(sig, "+", "-")
	sig = strings.ReplaceAll(sig, "/", "_")
	return sig, nil
}
