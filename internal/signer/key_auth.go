package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// KeyAuthenticator implements API-key authentication. The secret never signs
// anything in the cryptographic sense; it keys an HMAC-SHA256 over the
// deterministically ordered query string. The exchange recomputes the same
// MAC over the received query, so key order and URL encoding are part of the
// contract.
type KeyAuthenticator struct {
	apiKey    string
	apiSecret string
}

func newKeyAuthenticator(apiKey, apiSecret string) *KeyAuthenticator {
	// Stray whitespace in copied keys breaks every signature.
	return &KeyAuthenticator{
		apiKey:    strings.TrimSpace(apiKey),
		apiSecret: strings.TrimSpace(apiSecret),
	}
}

func (a *KeyAuthenticator) Mode() string { return "key" }

// APIKey returns the key sent in the X-MBX-APIKEY header.
func (a *KeyAuthenticator) APIKey() string { return a.apiKey }

// SignQuery builds the sorted, URL-encoded query string from params and
// appends the HMAC signature as the final parameter.
func (a *KeyAuthenticator) SignQuery(params map[string]string) string {
	query := BuildQuery(params)
	return query + "&signature=" + a.sign(query)
}

func (a *KeyAuthenticator) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(a.apiSecret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

// BuildQuery encodes params as k=v pairs sorted lexicographically by key,
// values URL-encoded. Any existing signature parameter is dropped.
func BuildQuery(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}
	return b.String()
}
