package signer

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// ed25519Scheme signs the plain concatenation canonicalJSON+user+signer+nonce
// with a detached ed25519 signature, base58 encoded. No ABI encoding here:
// the Solana side of the exchange verifies raw bytes.
type ed25519Scheme struct {
	key  ed25519.PrivateKey
	addr string
}

func newEd25519Scheme(privateKey string) (*ed25519Scheme, error) {
	secret, err := decodeSolanaKey(privateKey)
	if err != nil {
		return nil, err
	}

	key := ed25519.PrivateKey(secret)
	pub := key.Public().(ed25519.PublicKey)

	// The last 32 bytes of the secret must be a valid curve point, otherwise
	// the key material is corrupt and every signature would be rejected.
	if _, err := new(edwards25519.Point).SetBytes(pub); err != nil {
		return nil, &ConfigError{Reason: "solana private key embeds an invalid public key"}
	}

	return &ed25519Scheme{key: key, addr: base58.Encode(pub)}, nil
}

// decodeSolanaKey accepts 0x-prefixed hex, bare hex, or base58, and requires
// the full 64-byte secret key (seed followed by public key).
func decodeSolanaKey(privateKey string) ([]byte, error) {
	var (
		secret []byte
		err    error
	)
	switch {
	case strings.HasPrefix(privateKey, "0x"):
		secret, err = hex.DecodeString(privateKey[2:])
	case len(privateKey) == 128:
		secret, err = hex.DecodeString(privateKey)
	default:
		secret, err = base58.Decode(privateKey)
	}
	if err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("invalid solana private key format: %v", err)}
	}
	if len(secret) != ed25519.PrivateKeySize {
		return nil, &ConfigError{Reason: fmt.Sprintf("solana private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(secret))}
	}
	return secret, nil
}

func (s *ed25519Scheme) mode() string    { return "solana" }
func (s *ed25519Scheme) address() string { return s.addr }

func (s *ed25519Scheme) signMessage(canonical, user, signerAddr string, nonce int64) (string, error) {
	message := canonical + user + signerAddr + strconv.FormatInt(nonce, 10)
	sig := ed25519.Sign(s.key, []byte(message))
	return base58.Encode(sig), nil
}
