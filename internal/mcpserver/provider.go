// Package mcpserver registers MCP tools that expose Jira and Confluence
// operations. Every tool call resolves its own identity from the global
// configuration plus whatever overrides the transport attached to the
// request context, so one server process can serve many tenants.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sooperset/mcp-atlassian/internal/atlassian"
	"github.com/sooperset/mcp-atlassian/internal/auth"
	"github.com/sooperset/mcp-atlassian/internal/config"
	apperrors "github.com/sooperset/mcp-atlassian/internal/errors"
)

// Provider resolves a per-request identity and hands out the API client
// bound to it. It is the only path from a tool handler to the REST layer,
// so tool gating (enabled-tools filter, read-only mode) lives here.
type Provider struct {
	cfg    *config.Config
	cache  *atlassian.Cache
	logger *slog.Logger
}

// NewProvider wires a provider over the loaded configuration and client
// cache.
func NewProvider(cfg *config.Config, cache *atlassian.Cache, logger *slog.Logger) *Provider {
	return &Provider{cfg: cfg, cache: cache, logger: logger}
}

// Jira returns the Jira client for the calling request's identity.
func (p *Provider) Jira(ctx context.Context, tool string, write bool) (*atlassian.Client, error) {
	return p.client(ctx, auth.ServiceJira, tool, write)
}

// Confluence returns the Confluence client for the calling request's
// identity.
func (p *Provider) Confluence(ctx context.Context, tool string, write bool) (*atlassian.Client, error) {
	return p.client(ctx, auth.ServiceConfluence, tool, write)
}

func (p *Provider) client(ctx context.Context, service auth.Service, tool string, write bool) (*atlassian.Client, error) {
	ov := auth.OverrideFromContext(ctx)

	id, err := auth.Resolve(service, p.cfg.Globals(service), ov)
	if err != nil {
		if errors.Is(err, apperrors.ErrNoIdentity) {
			return nil, fmt.Errorf("%s is not configured: set %s_URL and credentials, or send them as request headers", service, envPrefix(service))
		}
		return nil, err
	}

	if !id.ToolEnabled(tool) {
		return nil, fmt.Errorf("tool %s is not enabled for this request", tool)
	}
	if write && id.ReadOnly {
		return nil, fmt.Errorf("tool %s is disabled: the server is in read-only mode", tool)
	}

	return p.cache.Get(ctx, id)
}

func envPrefix(service auth.Service) string {
	if service == auth.ServiceConfluence {
		return "CONFLUENCE"
	}
	return "JIRA"
}
