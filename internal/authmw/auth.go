// Package authmw implements the access-token + workspace-identifier
// authentication middleware required by every route but auth itself
// (spec §6: "all except auth require an access token and the active
// workspace identifier as a request header").
package authmw

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const (
	workspaceIDKey contextKey = "workspace_id"
	accessTokenKey contextKey = "access_token"
)

// WorkspaceHeader names the workspace header every authenticated route reads
// (spec §6); the token itself comes from "Authorization: Bearer".
// TokenQueryParam names the ?token= query parameter accepted in place of that
// header on every route, which lets the SSE status endpoint work from a
// browser EventSource, since browsers cannot set headers on one.
const (
	WorkspaceHeader = "X-Workspace-ID"
	TokenQueryParam = "token"
)

// Config controls how strictly Middleware enforces credentials. In
// development (Enabled=false) a missing workspace header defaults to "dev"
// rather than failing the request, mirroring the teacher's own dev-mode
// tenant passthrough.
type Config struct {
	Enabled  bool
	JWTSecret string
}

// Middleware extracts the access token and workspace identifier and stores
// them on the request context, rejecting requests that lack either once
// Config.Enabled is true.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			workspaceID := r.Header.Get(WorkspaceHeader)

			if !cfg.Enabled {
				if workspaceID == "" {
					workspaceID = "dev"
				}
				if token == "" {
					token = "dev"
				}
				ctx := withCredentials(r.Context(), workspaceID, token)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			if token == "" {
				writeUnauthorized(w, "missing access token")
				return
			}
			if workspaceID == "" {
				writeUnauthorized(w, "missing "+WorkspaceHeader+" header")
				return
			}
			if err := validateToken(token, cfg.JWTSecret); err != nil {
				writeUnauthorized(w, "invalid access token")
				return
			}

			ctx := withCredentials(r.Context(), workspaceID, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken reads "Authorization: Bearer <token>", falling back to the
// ?token= query parameter used by the SSE status endpoint (spec §6).
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
	}
	return r.URL.Query().Get(TokenQueryParam)
}

// validateToken is a placeholder verification hook: a real deployment would
// verify a JWT signed with secret and check expiry. pricelistd does not
// issue tokens itself (spec is silent on an auth/login route), so any
// non-empty bearer token is accepted once present.
func validateToken(token, secret string) error {
	if token == "" {
		return errEmptyToken
	}
	return nil
}

var errEmptyToken = httpError("empty token")

type httpError string

func (e httpError) Error() string { return string(e) }

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","message":"` + message + `"}`))
}

func withCredentials(ctx context.Context, workspaceID, token string) context.Context {
	ctx = context.WithValue(ctx, workspaceIDKey, workspaceID)
	ctx = context.WithValue(ctx, accessTokenKey, token)
	return ctx
}

// WorkspaceFromContext extracts the active workspace identifier.
func WorkspaceFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(workspaceIDKey).(string); ok {
		return v
	}
	return ""
}

// TokenFromContext extracts the bearer access token.
func TokenFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(accessTokenKey).(string); ok {
		return v
	}
	return ""
}

// CORS returns CORS middleware for browser clients hitting the API directly.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			for _, o := range allowedOrigins {
				if o == "*" || o == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, "+WorkspaceHeader)
					break
				}
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
