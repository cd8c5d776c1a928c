// Package admin wraps the commerce platform's Admin REST API: base URL and
// version handling, access-token injection, outbound pacing, and translation
// of call outcomes into remote errors.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/nordbrew/standing-orders/pkg/logging"
	"github.com/nordbrew/standing-orders/pkg/transport"
)

// DefaultVersion is the Admin API version used when none is configured.
const DefaultVersion = "2024-01"

// Config holds the client configuration.
type Config struct {
	// Shop is the shop domain, e.g. "nordbrew.myshopify.com".
	Shop string

	// Token is the static Admin API access token.
	Token string

	// Version selects the API version path segment (default: DefaultVersion).
	Version string

	// BaseURL overrides the https://<shop> origin (for tests and local
	// development against a mock platform).
	BaseURL string

	// Policy is the retry policy applied to every call made through this
	// client (default: DefaultPolicy).
	Policy transport.Policy

	// RequestsPerSecond paces outbound calls to stay under the platform's
	// REST leak rate (default: 2 rps, burst 4).
	RequestsPerSecond float64

	// PageSize is the page size for listing endpoints (default: 250, the
	// platform maximum).
	PageSize int
}

// DefaultPolicy returns the retry policy for batch-facing admin calls.
func DefaultPolicy() transport.Policy {
	return transport.Policy{
		MaxAttempts:       5,
		PerAttemptTimeout: 15 * time.Second,
		BaseBackoff:       500 * time.Millisecond,
		HonorRetryAfter:   true,
	}
}

// ProxyPolicy returns the tighter retry policy for calls made on behalf of
// storefront proxy requests, where a shopper is waiting on the response.
func ProxyPolicy() transport.Policy {
	return transport.Policy{
		MaxAttempts:       2,
		PerAttemptTimeout: 5 * time.Second,
		BaseBackoff:       250 * time.Millisecond,
		HonorRetryAfter:   true,
	}
}

// Client is the Admin API client. It is safe for concurrent use.
type Client struct {
	base     string
	shop     string
	token    string
	policy   transport.Policy
	pageSize int
	exec     *transport.Executor
	limiter  *rate.Limiter
	logger   zerolog.Logger
}

// New creates an Admin API client. A client missing shop or token is still
// usable but fails every call with ErrNotConfigured, so a misconfigured
// deployment degrades instead of crashing at startup.
func New(cfg Config) *Client {
	version := cfg.Version
	if version == "" {
		version = DefaultVersion
	}
	origin := cfg.BaseURL
	if origin == "" && cfg.Shop != "" {
		origin = "https://" + cfg.Shop
	}
	policy := cfg.Policy
	if policy.MaxAttempts == 0 {
		policy = DefaultPolicy()
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 || pageSize > 250 {
		pageSize = 250
	}

	return &Client{
		base:     strings.TrimSuffix(origin, "/") + "/admin/api/" + version,
		shop:     cfg.Shop,
		token:    cfg.Token,
		policy:   policy,
		pageSize: pageSize,
		exec:     transport.NewExecutor(),
		limiter:  rate.NewLimiter(rate.Limit(rps), 4),
		logger:   logging.NewLogger("admin-api"),
	}
}

// Shop returns the configured shop domain.
func (c *Client) Shop() string { return c.shop }

// WithPolicy returns a copy of the client using a different retry policy.
// The copy shares the executor and the rate limiter, so pacing stays global
// across call classes.
func (c *Client) WithPolicy(policy transport.Policy) *Client {
	clone := *c
	clone.policy = policy
	return &clone
}

// SetHTTPClient sets a custom HTTP client on the executor (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.exec.SetHTTPClient(client)
}

// Call performs one Admin API call. path is relative to the versioned API
// root, e.g. "/customers.json?limit=250". A non-nil body is JSON-encoded.
// Any outcome other than success is returned as a *RemoteError; its body is
// the raw response and must not be assumed to be JSON.
func (c *Client) Call(ctx context.Context, method, path string, body any) ([]byte, http.Header, error) {
	if c.shop == "" || c.token == "" {
		return nil, nil, ErrNotConfigured
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("waiting for request slot: %w", err)
	}

	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("encode request body: %w", err)
		}
		payload = encoded
	}

	header := http.Header{}
	header.Set("X-Shopify-Access-Token", c.token)
	header.Set("Content-Type", "application/json")
	header.Set("Accept", "application/json")

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Msg("executing admin call")

	out := c.exec.Execute(ctx, transport.Request{
		Method: method,
		URL:    c.base + path,
		Header: header,
		Body:   payload,
	}, c.policy)

	if !out.Success() {
		return nil, nil, &RemoteError{
			Status: out.Status,
			Path:   path,
			Body:   out.Body,
			Err:    out.Err,
		}
	}

	return out.Body, out.Header, nil
}
