package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sooperset/mcp-atlassian/internal/auth"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHealthz(t *testing.T) {
	mux := NewMux(MuxConfig{
		MCPHandler: http.NotFoundHandler(),
		Logger:     discard(),
	})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHeaderMiddleware_AttachesOverride(t *testing.T) {
	var got *auth.Override
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = auth.OverrideFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	handler := HeaderMiddleware(discard())(inner)

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "Token PAT123")
	req.Header.Set(auth.HeaderJiraURL, "https://b.atlassian.net")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, auth.AuthSchemeToken, got.AuthScheme)
	assert.Equal(t, "PAT123", got.AuthToken.Value())
	assert.Equal(t, "https://b.atlassian.net", got.JiraURL)
}

func TestHeaderMiddleware_MalformedHeadersRejected(t *testing.T) {
	called := false
	inner := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })

	handler := HeaderMiddleware(discard())(inner)

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, called, "MCP handler must not run for malformed headers")
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
}

func TestHeaderMiddleware_NoHeadersStillServes(t *testing.T) {
	var got *auth.Override
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = auth.OverrideFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	handler := HeaderMiddleware(discard())(inner)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	assert.True(t, got.Empty())
}
