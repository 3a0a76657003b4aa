package saga

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/atlaserp/backbone/pkg/identity"
)

// Router mounts the saga inspection endpoints. Read-only: saga state
// moves only through events.
func Router(store *Store) chi.Router {
	r := chi.NewRouter()

	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		tc, ok := identity.FromContext(req.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_token", "authentication required")
			return
		}
		limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
		out, err := store.ListRecords(req.Context(), tc.TenantID, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "listing saga records failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sagas": out})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
