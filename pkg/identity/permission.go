package identity

import (
	"encoding/json"
	"net/http"
)

// RequirePermission returns middleware that enforces a permission string
// against the TenantContext put in place by the Extractor. Privileged
// principals pass unconditionally. Requests without a TenantContext get
// 401; requests whose context lacks the permission get 403. The denial
// body never reveals whether the target resource exists.
//
// Read-only handlers may simply not install this middleware.
func RequirePermission(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tc, ok := FromContext(r.Context())
			if !ok {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":   "missing_token",
					"message": "authentication required",
				})
				return
			}

			if !tc.HasPermission(perm) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":   "forbidden",
					"message": "insufficient permissions for " + perm,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
