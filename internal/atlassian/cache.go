package atlassian

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/sooperset/mcp-atlassian/internal/auth"
)

// Cache shares one Client per identity fingerprint, so requests carrying
// the same credentials reuse connections instead of rebuilding transports.
// Concurrent first requests for an identity collapse into a single
// construction.
type Cache struct {
	tokens tokenSource
	logger *slog.Logger
	group  singleflight.Group

	mu      sync.Mutex
	clients map[string]*Client
}

// NewCache returns an empty cache whose clients draw OAuth tokens from
// tokens.
func NewCache(tokens tokenSource, logger *slog.Logger) *Cache {
	return &Cache{
		tokens:  tokens,
		logger:  logger,
		clients: make(map[string]*Client),
	}
}

// Get returns the cached client for the identity, constructing one if
// needed. The returned client is shared; callers must not mutate it.
func (c *Cache) Get(ctx context.Context, id *auth.Identity) (*Client, error) {
	fingerprint := id.Fingerprint()

	c.mu.Lock()
	client, ok := c.clients[fingerprint]
	c.mu.Unlock()
	if ok {
		return client, nil
	}

	ch := c.group.DoChan(fingerprint, func() (any, error) {
		client, err := NewClient(id, c.tokens, c.logger)
		if err != nil {
			return nil, err
		}
		client.authFailed = func() { c.Invalidate(fingerprint) }

		c.mu.Lock()
		c.clients[fingerprint] = client
		c.mu.Unlock()

		c.logger.Debug("constructed API client",
			slog.String("service", string(id.Service)),
			slog.String("strategy", string(id.Strategy)),
		)

		return client, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Client), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Invalidate evicts the client for a fingerprint. The next request with
// that identity constructs a fresh client.
func (c *Cache) Invalidate(fingerprint string) {
	c.mu.Lock()
	delete(c.clients, fingerprint)
	c.mu.Unlock()
}

// Len reports the number of cached clients.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.clients)
}
