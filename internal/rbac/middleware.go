package rbac

import (
	"net/http"

	"github.com/fieldserv/fieldserv/internal/platform/httpx"
	"github.com/fieldserv/fieldserv/internal/shared"
)

// Require builds middleware enforcing a single permission for the wrapped
// routes. The actor must already be present in context.
func Require(perm Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := shared.ActorFromContext(r.Context())
			if actor == nil {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing actor identity")
				return
			}
			if !HasPermission(Role(actor.Role), perm) {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
