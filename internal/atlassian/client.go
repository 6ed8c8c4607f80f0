// Package atlassian provides authenticated REST clients for Jira and
// Confluence, plus a cache that shares one client per resolved identity.
// A client is bound to a single identity at construction and applies that
// identity's strategy, TLS, proxy, and custom header settings to every
// request.
package atlassian

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"github.com/sooperset/mcp-atlassian/internal/auth"
	apperrors "github.com/sooperset/mcp-atlassian/internal/errors"
)

const (
	// cloudAPIBase is the gateway for OAuth requests against Cloud tenants;
	// the tenant is addressed by cloud ID, not by site URL.
	cloudAPIBase = "https://api.atlassian.com/ex"

	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// httpClientTimeout is the per-request timeout for API calls.
	httpClientTimeout = 30 * time.Second

	// maxAPIResponseBytes caps response body reads so a misbehaving server
	// cannot consume unbounded memory. Search responses are the largest
	// payloads we handle.
	maxAPIResponseBytes = 4 * 1024 * 1024
)

// tokenSource hands out access tokens for OAuth-backed identities.
type tokenSource interface {
	AccessToken(ctx context.Context, id *auth.Identity) (string, error)
	Forget(fingerprint string)
}

// Client is an authenticated REST client bound to one resolved identity.
type Client struct {
	id          *auth.Identity
	fingerprint string
	base        string
	httpClient  *http.Client
	tokens      tokenSource
	logger      *slog.Logger

	// authFailed is invoked when the API rejects our credentials, so the
	// owning cache can evict this client.
	authFailed func()
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host. This prevents credentials from
// leaking to third-party domains.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewClient builds a client for a resolved identity. Construction performs
// no network I/O; credentials are only exercised when a request is made.
func NewClient(id *auth.Identity, tokens tokenSource, logger *slog.Logger) (*Client, error) {
	base, err := baseURL(id)
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		Proxy: proxyFunc(id.Proxy),
	}
	if !id.SSLVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // operator opt-in for self-signed Data Center certs
	}

	return &Client{
		id:          id,
		fingerprint: id.Fingerprint(),
		base:        base,
		httpClient: &http.Client{
			Timeout:       httpClientTimeout,
			Transport:     transport,
			CheckRedirect: sameHostRedirectPolicy,
		},
		tokens: tokens,
		logger: logger,
	}, nil
}

// Identity returns the identity the client is bound to.
func (c *Client) Identity() *auth.Identity { return c.id }

// baseURL picks the API root. OAuth and bring-your-own-token requests on
// Cloud go through the api.atlassian.com gateway addressed by cloud ID;
// everything else talks to the instance URL directly.
func baseURL(id *auth.Identity) (string, error) {
	oauthStrategy := id.Strategy == auth.StrategyOAuth || id.Strategy == auth.StrategyBYOT

	if oauthStrategy && id.OAuth.CloudID != "" {
		return fmt.Sprintf("%s/%s/%s", cloudAPIBase, id.Service, id.OAuth.CloudID), nil
	}

	if id.URL == "" {
		return "", fmt.Errorf("%w: no instance URL for %s", apperrors.ErrNoIdentity, id.Service)
	}

	return strings.TrimRight(id.URL, "/"), nil
}

// proxyFunc builds the transport proxy selector from per-credential proxy
// settings, falling back to the process environment when none are set.
func proxyFunc(p auth.ProxyConfig) func(*http.Request) (*url.URL, error) {
	if p.Empty() {
		return http.ProxyFromEnvironment
	}

	return func(req *http.Request) (*url.URL, error) {
		if noProxyMatch(p.NoProxy, req.URL.Hostname()) {
			return nil, nil
		}

		raw := p.HTTPProxy
		if req.URL.Scheme == "https" && p.HTTPSProxy != "" {
			raw = p.HTTPSProxy
		}
		if raw == "" {
			return nil, nil
		}

		return url.Parse(raw)
	}
}

// noProxyMatch implements the conventional NO_PROXY semantics: a
// comma-separated list of hosts and domain suffixes, "*" matching all.
func noProxyMatch(noProxy, host string) bool {
	for _, entry := range strings.Split(noProxy, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "*" || entry == host {
			return true
		}
		if strings.HasSuffix(host, "."+strings.TrimPrefix(entry, ".")) {
			return true
		}
	}

	return false
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}

// do sends one API request and returns the parsed JSON response. The
// identity's custom headers are applied first so the authentication header
// always wins over a configured Authorization header.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (gjson.Result, error) {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return gjson.Result{}, fmt.Errorf("marshalling request body: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	endpoint := c.base + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, payload)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	for _, h := range c.id.CustomHeaders {
		req.Header.Set(h.Name, h.Value)
	}

	if err := c.authorize(ctx, req); err != nil {
		return gjson.Result{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: %s %s: %v", apperrors.ErrAPIRequest, method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("reading response from %s: %w", path, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.rejectCredentials(resp.StatusCode, path)
		return gjson.Result{}, fmt.Errorf("%w: %s returned status %d", apperrors.ErrAuthentication, path, resp.StatusCode)

	case resp.StatusCode >= 400:
		return gjson.Result{}, fmt.Errorf("%w: %s returned status %d: %s",
			apperrors.ErrAPIResponse, path, resp.StatusCode, sanitizeResponseBody(respBody))
	}

	if len(respBody) == 0 {
		return gjson.Result{}, nil
	}

	if !gjson.ValidBytes(respBody) {
		return gjson.Result{}, fmt.Errorf("%w: %s returned invalid JSON", apperrors.ErrAPIResponse, path)
	}

	return gjson.ParseBytes(respBody), nil
}

// authorize sets the Authorization header for the identity's strategy.
func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	switch c.id.Strategy {
	case auth.StrategyBasic:
		req.SetBasicAuth(c.id.Basic.Username, c.id.Basic.APIToken.Value())
	case auth.StrategyPAT:
		req.Header.Set("Authorization", "Bearer "+c.id.PAT.Value())
	case auth.StrategyOAuth, auth.StrategyBYOT:
		token, err := c.tokens.AccessToken(ctx, c.id)
		if err != nil {
			// A dead refresh token means this identity cannot recover on its
			// own; evict the client so the caller's next attempt starts clean.
			if errors.Is(err, apperrors.ErrRefreshFailed) && c.authFailed != nil {
				c.authFailed()
			}
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	default:
		return fmt.Errorf("%w: no authentication strategy", apperrors.ErrNoIdentity)
	}

	return nil
}

// rejectCredentials handles an API-side credential rejection: drop any
// cached token state so the next request refreshes, and tell the owning
// cache to evict this client.
func (c *Client) rejectCredentials(status int, path string) {
	c.logger.Warn("API rejected credentials",
		slog.String("service", string(c.id.Service)),
		slog.String("strategy", string(c.id.Strategy)),
		slog.String("path", path),
		slog.Int("status", status),
	)

	if c.id.Strategy == auth.StrategyOAuth {
		c.tokens.Forget(c.fingerprint)
	}
	if c.authFailed != nil {
		c.authFailed()
	}
}
