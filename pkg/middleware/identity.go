package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/utafrali/BookshelfGo/pkg/logger"
)

type identityKey struct{}

// Claims are the identity facts extracted from a bearer token.
type Claims struct {
	UserID string
	Role   string
}

// TokenValidator verifies a bearer token and returns its claims.
type TokenValidator func(token string) (*Claims, error)

// GatewayUserHeader carries the user ID when an upstream gateway has already
// authenticated the request.
const GatewayUserHeader = "X-User-ID"

// OptionalAuth resolves the caller's identity without requiring one.
// A bearer token, when present, must be valid or the request is rejected
// with 401. Without a token the gateway header is honoured only when
// trustGateway is set. Otherwise the request proceeds anonymously.
func OptionalAuth(validate TokenValidator, trustGateway bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := ""

			if header := r.Header.Get("Authorization"); header != "" {
				scheme, token, ok := strings.Cut(header, " ")
				if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
					writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid authorization header format")
					return
				}
				if validate == nil {
					writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "bearer tokens are not accepted")
					return
				}
				claims, err := validate(token)
				if err != nil || claims.UserID == "" {
					writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
					return
				}
				userID = claims.UserID
			} else if trustGateway {
				userID = strings.TrimSpace(r.Header.Get(GatewayUserHeader))
			}

			if userID == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := WithUserID(r.Context(), userID)
			ctx = logger.WithUserID(ctx, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireUser rejects anonymous requests with 401. Mount it after OptionalAuth.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if UserIDFromContext(r.Context()) == "" {
			writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WithUserID returns a copy of ctx carrying the authenticated user ID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, identityKey{}, userID)
}

// UserIDFromContext returns the authenticated user ID, or "" for anonymous.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(identityKey{}).(string)
	return id
}
