// Package server provides HTTP server construction for the MCP endpoint.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sooperset/mcp-atlassian/internal/auth"
	apperrors "github.com/sooperset/mcp-atlassian/internal/errors"
)

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	MCPHandler http.Handler
	Logger     *slog.Logger
}

// NewMux builds the HTTP mux: a health endpoint and the MCP endpoint
// wrapped in the credential-header middleware.
func NewMux(cfg MuxConfig) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handleHealth)
	mux.Handle("/mcp", HeaderMiddleware(cfg.Logger)(cfg.MCPHandler))

	return mux
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// HeaderMiddleware extracts per-request credential overrides from the
// request headers and attaches them to the context before the MCP handler
// runs. Malformed headers are rejected up front with a 400 so they never
// surface as confusing downstream API failures.
func HeaderMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ov, err := auth.Extract(r.Header)
			if err != nil {
				if errors.Is(err, apperrors.ErrUnreadableHeader) {
					logger.Warn("rejecting request with malformed credential headers",
						slog.String("remote", r.RemoteAddr),
						slog.Any("error", err),
					)

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusBadRequest)
					_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})

					return
				}

				http.Error(w, "internal server error", http.StatusInternalServerError)

				return
			}

			next.ServeHTTP(w, r.WithContext(auth.ContextWithOverride(r.Context(), ov)))
		})
	}
}
