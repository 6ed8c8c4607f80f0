package oauth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/sooperset/mcp-atlassian/internal/auth"
	apperrors "github.com/sooperset/mcp-atlassian/internal/errors"
)

const (
	// cloudTokenURL is Atlassian's OAuth 2.0 token endpoint for Cloud.
	cloudTokenURL = "https://auth.atlassian.com/oauth/token"

	// serverTokenPath is the token endpoint path on Data Center instances.
	serverTokenPath = "/rest/oauth2/latest/token"

	// expiryMargin is how long before the recorded expiry a token is already
	// treated as expired, so it cannot lapse mid-request.
	expiryMargin = 60 * time.Second

	// refreshTimeout bounds a refresh even when the triggering request's
	// context has been detached.
	refreshTimeout = 30 * time.Second
)

// Manager hands out valid OAuth access tokens for resolved identities. A
// token within its expiry margin is returned as-is; an expired one is
// refreshed against the token endpoint, with concurrent callers for the same
// identity collapsed into a single refresh. Refreshed state is persisted so
// a rotated refresh token survives restarts.
type Manager struct {
	store  *Store
	logger *slog.Logger
	group  singleflight.Group
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]TokenState
}

// NewManager returns a Manager backed by store. A nil store disables
// persistence; refreshed tokens then live only in memory.
func NewManager(store *Store, logger *slog.Logger) *Manager {
	return &Manager{
		store:  store,
		logger: logger,
		now:    time.Now,
		cache:  make(map[string]TokenState),
	}
}

// AccessToken returns a valid access token for the identity. For
// bring-your-own-token identities the caller's token is returned untouched,
// never refreshed. For OAuth identities the freshest known state (memory,
// then persisted store, then the credential itself) is consulted, and a
// refresh is performed when the token is missing or inside the expiry
// margin.
//
// Cancelling ctx abandons the wait but not the refresh: the refresh runs on
// a detached context with its own timeout, so other requests sharing the
// identity still benefit from the result.
func (m *Manager) AccessToken(ctx context.Context, id *auth.Identity) (string, error) {
	switch id.Strategy {
	case auth.StrategyBYOT:
		return id.OAuth.AccessToken.Value(), nil
	case auth.StrategyOAuth:
	default:
		return "", fmt.Errorf("strategy %q does not carry OAuth tokens", id.Strategy)
	}

	fp := id.Fingerprint()
	st := m.state(fp, id)

	if usable(st, m.now()) {
		return st.AccessToken, nil
	}

	if st.RefreshToken == "" {
		if st.AccessToken != "" {
			// Nothing to refresh with; hand out what we have and let the API
			// reject it if it is stale.
			return st.AccessToken, nil
		}
		return "", fmt.Errorf("%w: no access or refresh token available", apperrors.ErrRefreshFailed)
	}

	refreshCtx := context.WithoutCancel(ctx)
	ch := m.group.DoChan(fp, func() (any, error) {
		return m.refresh(refreshCtx, fp, id, st.RefreshToken)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Forget drops all token state for a fingerprint, memory and persisted. The
// client layer calls this when the API rejects a token that the manager
// believed valid, forcing a refresh on the next request.
func (m *Manager) Forget(fingerprint string) {
	m.mu.Lock()
	delete(m.cache, fingerprint)
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.Delete(fingerprint); err != nil {
			m.logger.Warn("dropping persisted token state failed", slog.Any("error", err))
		}
	}
}

// state assembles the freshest known token state for an identity: in-memory
// state from a prior refresh wins, then the persisted store, then the token
// material carried on the credential itself.
func (m *Manager) state(fingerprint string, id *auth.Identity) TokenState {
	m.mu.Lock()
	st, ok := m.cache[fingerprint]
	m.mu.Unlock()
	if ok {
		return st
	}

	if m.store != nil {
		stored, err := m.store.Get(fingerprint)
		if err != nil {
			m.logger.Warn("reading persisted token state failed", slog.Any("error", err))
		} else if stored != nil {
			return *stored
		}
	}

	return TokenState{
		AccessToken:  id.OAuth.AccessToken.Value(),
		RefreshToken: id.OAuth.RefreshToken.Value(),
		ExpiresAt:    id.OAuth.ExpiresAt,
	}
}

// usable reports whether a token can be handed out without a refresh. An
// unknown expiry is treated as valid; a stale token then surfaces as an API
// rejection, which forgets the state and forces a refresh.
func usable(st TokenState, now time.Time) bool {
	if st.AccessToken == "" {
		return false
	}
	if st.ExpiresAt == 0 {
		return true
	}
	return now.Add(expiryMargin).Unix() < st.ExpiresAt
}

func (m *Manager) refresh(ctx context.Context, fingerprint string, id *auth.Identity, refreshToken string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	cfg := &oauth2.Config{
		ClientID:     id.OAuth.ClientID,
		ClientSecret: id.OAuth.ClientSecret.Value(),
		RedirectURL:  id.OAuth.RedirectURI,
		Scopes:       strings.Fields(id.OAuth.Scope),
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL(&id.Credential)},
	}

	tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		m.logger.Warn("OAuth token refresh failed",
			slog.String("service", string(id.Service)),
			slog.Any("error", err),
		)

		return "", fmt.Errorf("%w: %v", apperrors.ErrRefreshFailed, err)
	}

	st := TokenState{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if !tok.Expiry.IsZero() {
		st.ExpiresAt = tok.Expiry.Unix()
	}
	if st.RefreshToken == "" {
		// The endpoint did not rotate the refresh token; keep the old one.
		st.RefreshToken = refreshToken
	}

	m.mu.Lock()
	m.cache[fingerprint] = st
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.Put(fingerprint, st); err != nil {
			// The refresh itself succeeded; losing persistence only costs a
			// re-refresh after a restart.
			m.logger.Warn("persisting refreshed token failed", slog.Any("error", err))
		}
	}

	m.logger.Info("refreshed OAuth access token",
		slog.String("service", string(id.Service)),
		slog.Bool("rotated_refresh_token", tok.RefreshToken != ""),
		slog.Int64("expires_at", st.ExpiresAt),
	)

	return st.AccessToken, nil
}

// tokenURL picks the token endpoint: Atlassian's central endpoint for Cloud,
// the instance-local endpoint for Server/Data Center.
func tokenURL(cred *auth.Credential) string {
	if cred.Deployment() == auth.DeploymentCloud {
		return cloudTokenURL
	}
	return strings.TrimRight(cred.URL, "/") + serverTokenPath
}
