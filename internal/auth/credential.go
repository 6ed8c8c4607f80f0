// Package auth implements credential descriptors and per-request identity
// resolution for Jira and Confluence. It decides which authentication
// strategy applies to a request by merging the process-wide configuration
// with overrides carried in request headers.
//
// Everything in this package is pure data manipulation: no network I/O, no
// logging of secret values, no shared mutable state.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Service identifies which Atlassian product a credential targets.
type Service string

const (
	ServiceJira       Service = "jira"
	ServiceConfluence Service = "confluence"
)

// Strategy is the authentication strategy of a credential. Exactly one
// strategy's field group is populated on a complete credential.
type Strategy string

const (
	// StrategyBasic authenticates with username + API token (Cloud basic auth).
	StrategyBasic Strategy = "basic"

	// StrategyPAT authenticates with a personal access token sent as a
	// Bearer header (Server/Data Center, and Cloud PAT variants).
	StrategyPAT Strategy = "pat"

	// StrategyOAuth authenticates with an OAuth 2.0 access token that the
	// token manager refreshes using the stored refresh token.
	StrategyOAuth Strategy = "oauth"

	// StrategyBYOT authenticates with a caller-supplied OAuth access token.
	// Refresh is the caller's responsibility and is never attempted.
	StrategyBYOT Strategy = "byot"
)

// Deployment distinguishes the two Atlassian deployment topologies.
type Deployment string

const (
	DeploymentCloud  Deployment = "cloud"
	DeploymentServer Deployment = "server"
)

// Secret is a string that renders as [REDACTED] in logs, error output, and
// JSON. Use Value to obtain the raw secret for building request headers.
type Secret string

// Value returns the raw secret. Never log the result.
func (s Secret) Value() string { return string(s) }

// IsEmpty reports whether the secret is unset.
func (s Secret) IsEmpty() bool { return s == "" }

func (s Secret) String() string   { return "[REDACTED]" }
func (s Secret) GoString() string { return "auth.Secret([REDACTED])" }

func (s Secret) MarshalText() ([]byte, error) { return []byte("[REDACTED]"), nil }

// BasicAuth is the username + API token field group.
type BasicAuth struct {
	Username string
	APIToken Secret
}

// Complete reports whether both fields are set.
func (b BasicAuth) Complete() bool { return b.Username != "" && !b.APIToken.IsEmpty() }

// Empty reports whether no field is set.
func (b BasicAuth) Empty() bool { return b.Username == "" && b.APIToken.IsEmpty() }

// OAuthCreds is the OAuth 2.0 field group. For StrategyOAuth the client
// credentials and refresh token drive refreshes; for StrategyBYOT only
// AccessToken (and CloudID on Cloud) are present.
type OAuthCreds struct {
	ClientID     string
	ClientSecret Secret
	RedirectURI  string
	Scope        string
	CloudID      string
	AccessToken  Secret
	RefreshToken Secret
	// ExpiresAt is a Unix timestamp in seconds; zero means unknown.
	ExpiresAt int64
}

// Empty reports whether no OAuth field is set.
func (o OAuthCreds) Empty() bool {
	return o.ClientID == "" && o.ClientSecret.IsEmpty() && o.CloudID == "" &&
		o.AccessToken.IsEmpty() && o.RefreshToken.IsEmpty()
}

// Header is a single custom header applied to every outbound API request.
// Order is preserved from configuration.
type Header struct {
	Name  string
	Value string
}

// ProxyConfig holds per-credential proxy settings for outbound requests.
type ProxyConfig struct {
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// Empty reports whether no proxy setting is present.
func (p ProxyConfig) Empty() bool {
	return p.HTTPProxy == "" && p.HTTPSProxy == "" && p.NoProxy == ""
}

// Credential describes one way of authenticating against one Atlassian
// instance. Constructed once at startup for the global identity and cheaply
// per request for overrides. Immutable after construction; OAuth token
// fields mutate only under the token manager's control.
type Credential struct {
	Service  Service
	URL      string
	Strategy Strategy

	Basic BasicAuth
	PAT   Secret
	OAuth OAuthCreds

	CustomHeaders []Header
	SSLVerify     bool
	Proxy         ProxyConfig
}

// Deployment derives the deployment topology from the instance URL. OAuth
// credentials without an instance URL are Cloud by definition (the API is
// reached through api.atlassian.com with the cloud ID).
func (c *Credential) Deployment() Deployment {
	if c.URL == "" {
		return DeploymentCloud
	}
	if strings.Contains(c.URL, ".atlassian.net") {
		return DeploymentCloud
	}
	return DeploymentServer
}

// Complete reports whether the credential's strategy has all required
// fields. A complete credential is usable for client construction.
func (c *Credential) Complete() bool {
	switch c.Strategy {
	case StrategyBasic:
		return c.URL != "" && c.Basic.Complete()
	case StrategyPAT:
		return c.URL != "" && !c.PAT.IsEmpty()
	case StrategyOAuth:
		// Refreshable OAuth needs client credentials plus either a cloud ID
		// (Cloud) or an instance URL (Data Center).
		return c.OAuth.ClientID != "" && !c.OAuth.ClientSecret.IsEmpty() &&
			(c.OAuth.CloudID != "" || c.URL != "")
	case StrategyBYOT:
		return !c.OAuth.AccessToken.IsEmpty() && (c.OAuth.CloudID != "" || c.URL != "")
	}
	return false
}

// Identity is a fully resolved credential plus the effective per-request
// feature flags. It is owned by the request that produced it.
type Identity struct {
	Credential

	ReadOnly       bool
	ProjectsFilter []string
	SpacesFilter   []string
	EnabledTools   []string
}

// Fingerprint returns a stable hash over the authentication-relevant fields
// of the identity. Volatile OAuth token values are excluded so a refresh
// does not change the fingerprint; everything that requires a structurally
// different HTTP client is included.
func (id *Identity) Fingerprint() string {
	h := sha256.New()

	write := func(parts ...string) {
		for _, p := range parts {
			h.Write([]byte(p))
			h.Write([]byte{0})
		}
	}

	write(string(id.Service), id.URL, string(id.Strategy))
	write(id.Basic.Username, id.Basic.APIToken.Value())
	write(id.PAT.Value())
	write(id.OAuth.ClientID, id.OAuth.ClientSecret.Value(), id.OAuth.CloudID, id.OAuth.Scope)
	if id.Strategy == StrategyBYOT {
		// BYOT tokens are never refreshed, so the token itself is the
		// identity. Two requests with different tokens must not share a
		// client.
		write(id.OAuth.AccessToken.Value())
	}

	if id.SSLVerify {
		write("ssl:1")
	} else {
		write("ssl:0")
	}
	write(id.Proxy.HTTPProxy, id.Proxy.HTTPSProxy, id.Proxy.NoProxy)

	headers := make([]string, 0, len(id.CustomHeaders))
	for _, ch := range id.CustomHeaders {
		headers = append(headers, ch.Name+"="+ch.Value)
	}
	sort.Strings(headers)
	write(headers...)

	return hex.EncodeToString(h.Sum(nil))
}

// ToolEnabled reports whether a tool name passes the identity's
// enabled-tools filter. An empty filter enables everything.
func (id *Identity) ToolEnabled(name string) bool {
	if len(id.EnabledTools) == 0 {
		return true
	}
	for _, t := range id.EnabledTools {
		if t == name {
			return true
		}
	}
	return false
}
