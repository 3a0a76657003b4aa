package ledger

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/atlaserp/backbone/pkg/identity"
)

// Router mounts the read-only ledger endpoints:
//
//	GET /records?start=&limit=  — chain segment for the caller's tenant
//	GET /verify?start=&limit=   — integrity scan for the caller's tenant
func Router(store *Store) chi.Router {
	r := chi.NewRouter()
	verifier := NewVerifier(store)

	r.Get("/records", func(w http.ResponseWriter, req *http.Request) {
		tc, ok := identity.FromContext(req.Context())
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "missing_token", "message": "authentication required",
			})
			return
		}
		start, limit := rangeParams(req)
		records, err := store.Range(req.Context(), tc.TenantID, start, limit)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "internal_error", "message": "ledger read failed",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"records": records})
	})

	r.Get("/verify", func(w http.ResponseWriter, req *http.Request) {
		tc, ok := identity.FromContext(req.Context())
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "missing_token", "message": "authentication required",
			})
			return
		}
		start, limit := rangeParams(req)
		result, err := verifier.Verify(req.Context(), tc.TenantID, start, limit)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "internal_error", "message": "ledger verification failed",
			})
			return
		}
		writeJSON(w, http.StatusOK, result)
	})

	return r
}

func rangeParams(req *http.Request) (int64, int) {
	start, _ := strconv.ParseInt(req.URL.Query().Get("start"), 10, 64)
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	return start, limit
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
