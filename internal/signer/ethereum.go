package signer

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// signTupleArgs is the ABI tuple the exchange hashes for EVM wallets:
// (canonicalJSON, user, signer, nonce).
var signTupleArgs abi.Arguments

func init() {
	stringTy, _ := abi.NewType("string", "", nil)
	addressTy, _ := abi.NewType("address", "", nil)
	uint256Ty, _ := abi.NewType("uint256", "", nil)
	signTupleArgs = abi.Arguments{
		{Type: stringTy},
		{Type: addressTy},
		{Type: addressTy},
		{Type: uint256Ty},
	}
}

// ecdsaScheme signs the keccak-256 hash of the ABI-encoded tuple as an
// EIP-191 personal message with a secp256k1 key. The output is the standard
// 65-byte recoverable signature, V in {27,28}, hex encoded.
type ecdsaScheme struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

func newEcdsaScheme(privateKey string) (*ecdsaScheme, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKey, "0x"))
	if err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("invalid ethereum private key: %v", err)}
	}
	return &ecdsaScheme{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

func (s *ecdsaScheme) mode() string    { return "ethereum" }
func (s *ecdsaScheme) address() string { return s.addr.Hex() }

func (s *ecdsaScheme) signMessage(canonical, user, signerAddr string, nonce int64) (string, error) {
	encoded, err := signTupleArgs.Pack(
		canonical,
		common.HexToAddress(user),
		common.HexToAddress(signerAddr),
		new(big.Int).SetInt64(nonce),
	)
	if err != nil {
		return "", fmt.Errorf("abi encode: %w", err)
	}

	hash := crypto.Keccak256(encoded)
	sig, err := crypto.Sign(accounts.TextHash(hash), s.key)
	if err != nil {
		return "", fmt.Errorf("sign hash: %w", err)
	}
	sig[64] += 27
	return hexutil.Encode(sig), nil
}
