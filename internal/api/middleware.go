/**
 * @description
 * Authorization middleware for the payment-service HTTP surface.
 */
package api

import (
	"net/http"
)

// InternalAuthMiddleware validates the internal API key for server-to-server
// calls such as the settlement gateway's HTTP callback. An empty configured key
// disables the check.
func InternalAuthMiddleware(requiredKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requiredKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			provided := r.Header.Get("X-Internal-API-Key")
			if provided == "" || provided != requiredKey {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
