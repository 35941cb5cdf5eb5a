package signer

import (
	"fmt"
	"net/url"
	"strconv"
)

// walletScheme is one concrete signature construction. The two chains define
// incompatible canonical message formats, so each variant owns the full path
// from canonical JSON to encoded signature.
type walletScheme interface {
	mode() string
	address() string
	signMessage(canonical, user, signerAddr string, nonce int64) (string, error)
}

// WalletAuthenticator signs request parameters with a chain wallet.
type WalletAuthenticator struct {
	user       string
	signerAddr string
	scheme     walletScheme
}

func (a *WalletAuthenticator) Mode() string { return a.scheme.mode() }

// User returns the wallet address sent as the user parameter.
func (a *WalletAuthenticator) User() string { return a.user }

// Signer returns the signing address sent as the signer parameter.
func (a *WalletAuthenticator) Signer() string { return a.signerAddr }

// SignerKeyAddress returns the address derived from the private key.
func (a *WalletAuthenticator) SignerKeyAddress() string { return a.scheme.address() }

// SignParams canonicalizes params (nonce, user and signer are bound into the
// signed message but excluded from the canonical object), signs them and
// returns the complete form-encoded parameter set for transmission.
func (a *WalletAuthenticator) SignParams(params map[string]any, nonce int64) (url.Values, error) {
	trimmed := trimParams(params)
	delete(trimmed, "nonce")
	delete(trimmed, "user")
	delete(trimmed, "signer")
	canonical := canonicalJSON(trimmed)

	signature, err := a.scheme.signMessage(canonical, a.user, a.signerAddr, nonce)
	if err != nil {
		return nil, fmt.Errorf("%s wallet signature: %w", a.scheme.mode(), err)
	}

	values := url.Values{}
	for k, v := range trimmed {
		values.Set(k, v)
	}
	values.Set("nonce", strconv.FormatInt(nonce, 10))
	values.Set("user", a.user)
	values.Set("signer", a.signerAddr)
	values.Set("signature", signature)
	return values, nil
}
