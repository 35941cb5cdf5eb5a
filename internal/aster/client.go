package aster

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/alohamonius/aster-vibe-trader/internal/signer"
)

const (
	maxRetries     = 3
	baseRetryDelay = 500 * time.Millisecond
	maxRetryDelay  = 5 * time.Second

	// recvWindow is the exchange-side tolerance for request timestamp skew.
	recvWindowMs = "50000"

	defaultTimeout = 30 * time.Second
)

// Options configures a Client. Zero values fall back to production defaults.
type Options struct {
	BaseURL   string
	Timeout   time.Duration
	AgentName string
	Logger    zerolog.Logger
	Catalog   *PrecisionCatalog
	HTTP      *http.Client
}

// Client is an authenticated Aster futures REST client. It signs every
// private request in one of two modes depending on the credentials it was
// built with: API-key HMAC over the query string, or wallet signatures over
// the canonical parameter JSON.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       signer.Authenticator
	key        *signer.KeyAuthenticator
	wallet     *signer.WalletAuthenticator
	catalog    *PrecisionCatalog
	agent      string
	log        zerolog.Logger
}

// NewClient builds a client from credentials. The signing mode follows the
// credential shape; see signer.New.
func NewClient(creds signer.Credentials, opts Options) (*Client, error) {
	auth, err := signer.New(creds)
	if err != nil {
		return nil, fmt.Errorf("building authenticator: %w", err)
	}

	if opts.BaseURL == "" {
		opts.BaseURL = "https://fapi.asterdex.com"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	httpClient := opts.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	catalog := opts.Catalog

	c := &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: httpClient,
		auth:       auth,
		agent:      opts.AgentName,
		log:        opts.Logger.With().Str("component", "aster").Str("agent", opts.AgentName).Logger(),
	}
	switch a := auth.(type) {
	case *signer.KeyAuthenticator:
		c.key = a
	case *signer.WalletAuthenticator:
		c.wallet = a
	}
	if catalog == nil {
		catalog = NewPrecisionCatalog(c, c.log)
	}
	c.catalog = catalog
	return c, nil
}

// AgentName identifies this client in multi-account setups.
func (c *Client) AgentName() string { return c.agent }

// apiPath builds an endpoint path. Key-auth accounts live on the v1 API,
// wallet-auth accounts on v3.
func (c *Client) apiPath(name string) string {
	if c.key != nil {
		return "/fapi/v1/" + name
	}
	return "/fapi/v3/" + name
}

// AuthMode reports the active signing mode ("key" or the wallet chain).
func (c *Client) AuthMode() string { return c.auth.Mode() }

// Catalog exposes the precision catalog bound to this client.
func (c *Client) Catalog() *PrecisionCatalog { return c.catalog }

// ==================== HTTP HELPERS ====================

// publicGet performs an unauthenticated GET request with retry.
func (c *Client) publicGet(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		reqURL := c.baseURL + endpoint
		if len(params) > 0 {
			reqURL += "?" + signer.BuildQuery(params)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, err
		}

		body, retryable, err := c.do(req)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable || attempt == maxRetries {
			return nil, lastErr
		}
		delay := retryDelay(attempt)
		c.log.Warn().Str("endpoint", endpoint).Int("attempt", attempt+1).
			Err(err).Dur("retry_in", delay).Msg("public GET failed, retrying")
		if err := sleepCtx(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, lastErr
}

func (c *Client) signedGet(ctx context.Context, endpoint string, params map[string]any) ([]byte, error) {
	return c.signedRequest(ctx, http.MethodGet, endpoint, params)
}

func (c *Client) signedPost(ctx context.Context, endpoint string, params map[string]any) ([]byte, error) {
	return c.signedRequest(ctx, http.MethodPost, endpoint, params)
}

func (c *Client) signedDelete(ctx context.Context, endpoint string, params map[string]any) ([]byte, error) {
	return c.signedRequest(ctx, http.MethodDelete, endpoint, params)
}

// signedRequest performs an authenticated request with retry. The timestamp
// is refreshed on every attempt so retries never replay a stale signature.
func (c *Client) signedRequest(ctx context.Context, method, endpoint string, params map[string]any) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		req, err := c.buildSignedRequest(ctx, method, endpoint, params)
		if err != nil {
			return nil, err
		}

		body, retryable, err := c.do(req)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable || attempt == maxRetries {
			return nil, lastErr
		}
		delay := retryDelay(attempt)
		c.log.Warn().Str("method", method).Str("endpoint", endpoint).
			Int("attempt", attempt+1).Err(err).Dur("retry_in", delay).
			Msg("signed request failed, retrying")
		if err := sleepCtx(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, lastErr
}

func (c *Client) buildSignedRequest(ctx context.Context, method, endpoint string, params map[string]any) (*http.Request, error) {
	if params == nil {
		params = make(map[string]any)
	}
	params["timestamp"] = time.Now().UnixMilli()
	params["recvWindow"] = recvWindowMs

	if c.key != nil {
		query := c.key.SignQuery(signer.FlattenParams(params))
		var req *http.Request
		var err error
		if method == http.MethodPost {
			req, err = http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, strings.NewReader(query))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		} else {
			req, err = http.NewRequestWithContext(ctx, method, c.baseURL+endpoint+"?"+query, nil)
			if err != nil {
				return nil, err
			}
		}
		req.Header.Set("X-MBX-APIKEY", c.key.APIKey())
		return req, nil
	}

	values, err := c.wallet.SignParams(params, signer.Nonce())
	if err != nil {
		return nil, fmt.Errorf("wallet signing: %w", err)
	}
	encoded := values.Encode()
	if method == http.MethodGet {
		return http.NewRequestWithContext(ctx, method, c.baseURL+endpoint+"?"+encoded, nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, strings.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

// do executes one attempt and classifies the outcome. The bool reports
// whether a failure is worth retrying.
func (c *Client) do(req *http.Request) ([]byte, bool, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, err
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, true, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(body)}
		return nil, isRetryable(resp.StatusCode, string(body)), apiErr
	}
	return body, false, nil
}

// isRetryable reports whether an error response is transient.
func isRetryable(statusCode int, body string) bool {
	if statusCode == http.StatusTooManyRequests || statusCode == 418 || statusCode >= 500 {
		return true
	}
	// Transient exchange error codes.
	if strings.Contains(body, "-1001") || // DISCONNECTED
		strings.Contains(body, "-1003") || // TOO_MANY_REQUESTS
		strings.Contains(body, "-1016") { // SERVICE_SHUTTING_DOWN
		return true
	}
	return false
}

// retryDelay returns delay with exponential backoff and jitter.
func retryDelay(attempt int) time.Duration {
	delay := baseRetryDelay * time.Duration(1<<uint(attempt))
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 2))
	return delay + jitter - (delay / 4)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
