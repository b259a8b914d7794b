// Package middleware provides HTTP middleware for the flashwear API.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/marmos91/flashwear/internal/logger"
	"github.com/marmos91/flashwear/pkg/api/auth"
	"github.com/marmos91/flashwear/pkg/api/handlers"
)

type contextKey string

const claimsContextKey contextKey = "claims"

// GetClaimsFromContext returns the claims stored by JWTAuth, or nil.
func GetClaimsFromContext(ctx context.Context) *auth.Claims {
	claims, ok := ctx.Value(claimsContextKey).(*auth.Claims)
	if !ok {
		return nil
	}
	return claims
}

func extractBearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

// JWTAuth validates the Bearer token and stores its claims in the request
// context. A nil service rejects every request: operator routes stay closed
// until a secret is configured.
func JWTAuth(jwtService *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if jwtService == nil {
				handlers.WriteProblem(w, http.StatusServiceUnavailable, "Service Unavailable",
					"Operator routes are disabled: no JWT secret configured")
				return
			}

			tokenString, ok := extractBearerToken(r)
			if !ok {
				handlers.Unauthorized(w, "Authorization header required")
				return
			}

			claims, err := jwtService.ValidateToken(tokenString)
			if err != nil {
				logger.Debug("Rejected operator token", logger.Err(err), "remote_addr", r.RemoteAddr)
				handlers.Unauthorized(w, "Invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope blocks tokens that do not grant scope. Must run after JWTAuth.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaimsFromContext(r.Context())
			if claims == nil {
				handlers.Unauthorized(w, "Authentication required")
				return
			}
			if !claims.HasScope(scope) {
				handlers.Forbidden(w, "Token lacks scope "+scope)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
