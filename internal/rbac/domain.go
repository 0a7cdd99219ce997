package rbac

import (
	"errors"
	"fmt"
)

// Role represents a high-level permission grouping.
type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleOffice Role = "OFFICE"
	RoleTech   Role = "TECH"
)

// Permission represents an atomic capability.
type Permission string

const (
	PermWorkOrdersView       Permission = "workorders.view"
	PermWorkOrdersEdit       Permission = "workorders.edit"
	PermWorkOrdersTransition Permission = "workorders.transition"
	PermWorkOrdersClose      Permission = "workorders.close"

	PermTimeEntriesEdit Permission = "time.edit"
	PermCostsView       Permission = "costs.view"
	PermCostsEdit       Permission = "costs.edit"
	PermReceiptsEdit    Permission = "receipts.edit"
)

// ErrPermissionDenied indicates the role lacks the required capability.
var ErrPermissionDenied = errors.New("rbac: permission denied")

// rolePermissions is the closed capability-set map. Roles do not inherit
// from each other.
var rolePermissions = map[Role]map[Permission]struct{}{
	RoleAdmin: permSet(
		PermWorkOrdersView, PermWorkOrdersEdit, PermWorkOrdersTransition, PermWorkOrdersClose,
		PermTimeEntriesEdit, PermCostsView, PermCostsEdit, PermReceiptsEdit,
	),
	RoleOffice: permSet(
		PermWorkOrdersView, PermWorkOrdersEdit, PermWorkOrdersTransition,
		PermTimeEntriesEdit, PermCostsView, PermCostsEdit, PermReceiptsEdit,
	),
	RoleTech: permSet(
		PermWorkOrdersView, PermWorkOrdersTransition, PermTimeEntriesEdit,
	),
}

func permSet(perms ...Permission) map[Permission]struct{} {
	set := make(map[Permission]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// ParseRole validates a role string against the closed role set.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleOffice, RoleTech:
		return Role(s), nil
	default:
		return "", fmt.Errorf("rbac: unknown role %q", s)
	}
}

// HasPermission reports whether the role carries the permission.
func HasPermission(role Role, perm Permission) bool {
	set, ok := rolePermissions[role]
	if !ok {
		return false
	}
	_, ok = set[perm]
	return ok
}

// RequirePermission returns ErrPermissionDenied when the role lacks the
// permission.
func RequirePermission(role Role, perm Permission) error {
	if !HasPermission(role, perm) {
		return fmt.Errorf("%w: role %s lacks %s", ErrPermissionDenied, role, perm)
	}
	return nil
}
