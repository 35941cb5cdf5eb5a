// Package signer produces signed request parameters for the Aster futures
// API. Two unrelated authentication modes exist: account API keys (HMAC over
// the query string) and on-chain wallets (message signatures under either
// secp256k1 or ed25519). The exchange verifies each mode against a different
// canonical message format, so the construction here has to be byte-exact.
package signer

import (
	"fmt"
	"time"
)

// Chain selects the wallet signature scheme.
type Chain string

const (
	ChainEthereum Chain = "ethereum"
	ChainSolana   Chain = "solana"
)

// Credentials carries the authentication material for one client instance.
// Either APIKey+APISecret or WalletAddress+PrivateKey must be set.
type Credentials struct {
	APIKey    string
	APISecret string

	WalletAddress string
	SignerAddress string
	PrivateKey    string
	Chain         Chain
}

// IsWallet reports whether wallet authentication is configured.
func (c Credentials) IsWallet() bool {
	return c.WalletAddress != "" || c.PrivateKey != ""
}

// ConfigError indicates missing or malformed credentials. It is fatal to the
// client instance: nothing signed with bad material would ever verify.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "signer config: " + e.Reason
}

// KeyAuthenticator signs requests with the account API secret.
// WalletAuthenticator signs them with a chain wallet. A client holds exactly
// one of the two, chosen from the credential shape at construction.
type Authenticator interface {
	// Mode returns "key", "ethereum" or "solana" for logging.
	Mode() string
}

// New selects and constructs the authenticator matching the credential shape.
func New(creds Credentials) (Authenticator, error) {
	if creds.IsWallet() {
		return newWalletAuthenticator(creds)
	}
	if creds.APIKey == "" || creds.APISecret == "" {
		return nil, &ConfigError{Reason: "api key and secret are required for key authentication"}
	}
	return newKeyAuthenticator(creds.APIKey, creds.APISecret), nil
}

func newWalletAuthenticator(creds Credentials) (*WalletAuthenticator, error) {
	if creds.WalletAddress == "" {
		return nil, &ConfigError{Reason: "wallet address is required for wallet authentication"}
	}
	if creds.PrivateKey == "" {
		return nil, &ConfigError{Reason: "private key is required for wallet authentication"}
	}

	// Solana wallets default the signer to the wallet itself.
	signerAddr := creds.SignerAddress
	if signerAddr == "" {
		if creds.Chain != ChainSolana {
			return nil, &ConfigError{Reason: "signer address is required for ethereum wallet authentication"}
		}
		signerAddr = creds.WalletAddress
	}

	var (
		scheme walletScheme
		err    error
	)
	switch creds.Chain {
	case ChainEthereum:
		scheme, err = newEcdsaScheme(creds.PrivateKey)
	case ChainSolana:
		scheme, err = newEd25519Scheme(creds.PrivateKey)
	default:
		return nil, &ConfigError{Reason: fmt.Sprintf("unsupported chain %q", creds.Chain)}
	}
	if err != nil {
		return nil, err
	}

	return &WalletAuthenticator{
		user:       creds.WalletAddress,
		signerAddr: signerAddr,
		scheme:     scheme,
	}, nil
}

// Nonce returns the wall clock in microseconds. Monotonically likely to
// increase; the exchange only requires it to be fresh within recvWindow.
func Nonce() int64 {
	return time.Now().UnixMicro()
}
