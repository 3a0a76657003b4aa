package rules

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atlaserp/backbone/pkg/identity"
)

// Router mounts the rule management endpoints. The caller is expected to
// install the identity extractor in front; mutating routes additionally go
// through the permission gate set up at mount time.
func Router(store *Store) chi.Router {
	r := chi.NewRouter()

	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		tc, ok := identity.FromContext(req.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_token", "authentication required")
			return
		}
		out, err := store.List(req.Context(), tc.TenantID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "listing rules failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"rules": out})
	})

	r.Post("/", func(w http.ResponseWriter, req *http.Request) {
		tc, ok := identity.FromContext(req.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_token", "authentication required")
			return
		}
		var rule Rule
		if err := json.NewDecoder(req.Body).Decode(&rule); err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "malformed rule body")
			return
		}
		rule.TenantID = tc.TenantID
		created, err := store.Create(req.Context(), &rule)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, created)
	})

	r.Get("/{id}", func(w http.ResponseWriter, req *http.Request) {
		tc, ok := identity.FromContext(req.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_token", "authentication required")
			return
		}
		rule, err := store.Get(req.Context(), tc.TenantID, chi.URLParam(req, "id"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "rule lookup failed")
			return
		}
		if rule == nil {
			writeError(w, http.StatusNotFound, "not_found", "no such rule")
			return
		}
		writeJSON(w, http.StatusOK, rule)
	})

	r.Delete("/{id}", func(w http.ResponseWriter, req *http.Request) {
		tc, ok := identity.FromContext(req.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_token", "authentication required")
			return
		}
		if err := store.Delete(req.Context(), tc.TenantID, chi.URLParam(req, "id")); err != nil {
			writeError(w, http.StatusNotFound, "not_found", "no such rule")
			return
		}
		w.WriteHeader(http.StatusNoContent)
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
