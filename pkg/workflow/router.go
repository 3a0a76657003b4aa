package workflow

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atlaserp/backbone/pkg/identity"
)

// Router mounts workflow and instance management endpoints. The caller
// installs the identity extractor in front.
func Router(store *Store, executor *Executor) chi.Router {
	r := chi.NewRouter()

	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		tc, ok := identity.FromContext(req.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_token", "authentication required")
			return
		}
		out, err := store.List(req.Context(), tc.TenantID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "listing workflows failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"workflows": out})
	})

	r.Post("/", func(w http.ResponseWriter, req *http.Request) {
		tc, ok := identity.FromContext(req.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_token", "authentication required")
			return
		}
		var wf Workflow
		if err := json.NewDecoder(req.Body).Decode(&wf); err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "malformed workflow body")
			return
		}
		wf.TenantID = tc.TenantID
		created, err := store.Create(req.Context(), &wf)
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
		wf, err := store.Get(req.Context(), tc.TenantID, chi.URLParam(req, "id"))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				writeError(w, http.StatusNotFound, "not_found", "no such workflow")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", "workflow lookup failed")
			return
		}
		writeJSON(w, http.StatusOK, wf)
	})

	r.Delete("/{id}", func(w http.ResponseWriter, req *http.Request) {
		tc, ok := identity.FromContext(req.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_token", "authentication required")
			return
		}
		if err := store.Delete(req.Context(), tc.TenantID, chi.URLParam(req, "id")); err != nil {
			writeError(w, http.StatusNotFound, "not_found", "no such workflow")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/instances", func(w http.ResponseWriter, req *http.Request) {
		tc, ok := identity.FromContext(req.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_token", "authentication required")
			return
		}
		state := InstanceState(req.URL.Query().Get("state"))
		out, err := store.ListInstances(req.Context(), tc.TenantID, state)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "listing instances failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"instances": out})
	})

	r.Post("/instances/{id}/approve", func(w http.ResponseWriter, req *http.Request) {
		tc, ok := identity.FromContext(req.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_token", "authentication required")
			return
		}
		inst, err := executor.Approve(req.Context(), tc.TenantID, chi.URLParam(req, "id"))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				writeError(w, http.StatusNotFound, "not_found", "no such instance")
				return
			}
			writeError(w, http.StatusConflict, "invalid_state", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, inst)
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
