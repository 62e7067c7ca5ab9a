package middleware

import (
	"fmt"
	"net/http"
)

const varyIdentity = "Authorization, " + GatewayUserHeader

// CacheControl marks anonymous GET responses as publicly cacheable for
// maxAge seconds. Responses to identified callers carry viewer-specific
// fields and are marked private, no-store. Both vary on the identity
// headers so a shared cache never hands an anonymous response to a viewer.
func CacheControl(maxAge int) func(http.Handler) http.Handler {
	public := fmt.Sprintf("public, max-age=%d", maxAge)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet {
				w.Header().Add("Vary", varyIdentity)
				if UserIDFromContext(r.Context()) == "" {
					w.Header().Set("Cache-Control", public)
				} else {
					w.Header().Set("Cache-Control", "private, no-store")
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
