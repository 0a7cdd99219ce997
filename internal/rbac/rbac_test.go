package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldserv/fieldserv/internal/shared"
)

func TestRoleCapabilities(t *testing.T) {
	cases := []struct {
		role Role
		perm Permission
		want bool
	}{
		{RoleAdmin, PermWorkOrdersClose, true},
		{RoleAdmin, PermCostsEdit, true},
		{RoleOffice, PermWorkOrdersEdit, true},
		{RoleOffice, PermWorkOrdersClose, false},
		{RoleOffice, PermCostsEdit, true},
		{RoleTech, PermTimeEntriesEdit, true},
		{RoleTech, PermWorkOrdersEdit, false},
		{RoleTech, PermCostsView, false},
		{RoleTech, PermReceiptsEdit, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HasPermission(tc.role, tc.perm), "%s / %s", tc.role, tc.perm)
	}
}

func TestUnknownRoleHasNoPermissions(t *testing.T) {
	assert.False(t, HasPermission(Role("SUPERUSER"), PermWorkOrdersView))
	assert.False(t, HasPermission(Role(""), PermWorkOrdersView))
}

func TestRequirePermission(t *testing.T) {
	assert.NoError(t, RequirePermission(RoleAdmin, PermWorkOrdersClose))
	err := RequirePermission(RoleTech, PermWorkOrdersClose)
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestParseRole(t *testing.T) {
	for _, role := range []Role{RoleAdmin, RoleOffice, RoleTech} {
		parsed, err := ParseRole(string(role))
		require.NoError(t, err)
		assert.Equal(t, role, parsed)
	}
	_, err := ParseRole("admin")
	assert.Error(t, err)
}

func TestRequireMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := Require(PermWorkOrdersClose)(next)

	// No actor in context.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Actor without the permission.
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	ctx := shared.ContextWithActor(req.Context(), &shared.Actor{ID: uuid.New(), Role: string(RoleOffice)})
	handler.ServeHTTP(rec, req.WithContext(ctx))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Actor with the permission.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/", nil)
	ctx = shared.ContextWithActor(req.Context(), &shared.Actor{ID: uuid.New(), Role: string(RoleAdmin)})
	handler.ServeHTTP(rec, req.WithContext(ctx))
	assert.Equal(t, http.StatusOK, rec.Code)
}
