package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func gateRequest(t *testing.T, perm string, tc *TenantContext) *httptest.ResponseRecorder {
	t.Helper()
	handler := RequirePermission(perm)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/inventory/stock", nil)
	if tc != nil {
		req = req.WithContext(WithTenant(req.Context(), *tc))
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestGateAllowsMatchingPermission(t *testing.T) {
	rec := gateRequest(t, "inventory.stock.adjust", &TenantContext{
		TenantID:    "t1",
		Permissions: []string{"inventory.stock.adjust"},
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestGateAllowsPrivileged(t *testing.T) {
	rec := gateRequest(t, "inventory.stock.adjust", &TenantContext{
		TenantID:     "t1",
		IsPrivileged: true,
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestGateDeniesMissingPermission(t *testing.T) {
	rec := gateRequest(t, "inventory.stock.adjust", &TenantContext{
		TenantID:    "t1",
		Permissions: []string{"pos.sale.create"},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "forbidden")
}

func TestGateRejectsMissingContext(t *testing.T) {
	rec := gateRequest(t, "inventory.stock.adjust", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing_token")
}
