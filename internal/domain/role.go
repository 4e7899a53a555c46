package domain

// Role is the privilege tier of an account.
type Role string

const (
	RoleUser     Role = "USER"
	RoleOperator Role = "OPERATOR"
	RoleAdmin    Role = "ADMIN"
)

// Permission is an atomic capability checked at authorization time.
type Permission string

const (
	PermUserGet    Permission = "USER_GET"
	PermUserPut    Permission = "USER_PUT"
	PermUserDelete Permission = "USER_DELETE"

	PermOperatorGet    Permission = "OPERATOR_GET"
	PermOperatorPut    Permission = "OPERATOR_PUT"
	PermOperatorDelete Permission = "OPERATOR_DELETE"

	PermAdminGet    Permission = "ADMIN_GET"
	PermAdminPut    Permission = "ADMIN_PUT"
	PermAdminDelete Permission = "ADMIN_DELETE"
)

const roleTagPrefix = "ROLE_"

var (
	userPermissions = []Permission{PermUserGet, PermUserPut, PermUserDelete}

	operatorPermissions = append(append([]Permission{}, userPermissions...),
		PermOperatorGet, PermOperatorPut, PermOperatorDelete)

	adminPermissions = append(append([]Permission{}, operatorPermissions...),
		PermAdminGet, PermAdminPut, PermAdminDelete)
)

// AllRoles returns every role in ascending privilege order.
func AllRoles() []Role {
	return []Role{RoleUser, RoleOperator, RoleAdmin}
}

// level returns the position of the role in the privilege order, -1 if unknown.
func (r Role) level() int {
	switch r {
	case RoleUser:
		return 0
	case RoleOperator:
		return 1
	case RoleAdmin:
		return 2
	default:
		return -1
	}
}

// IsAtLeast checks if this role meets the minimum required level.
func (r Role) IsAtLeast(min Role) bool {
	if r.level() < 0 || min.level() < 0 {
		return false
	}
	return r.level() >= min.level()
}

// Tag returns the role-tag authority, e.g. ROLE_ADMIN.
func (r Role) Tag() string {
	return roleTagPrefix + string(r)
}

// Permissions returns the fixed capability set of the role.
func (r Role) Permissions() []Permission {
	var src []Permission
	switch r {
	case RoleUser:
		src = userPermissions
	case RoleOperator:
		src = operatorPermissions
	case RoleAdmin:
		src = adminPermissions
	default:
		return []Permission{}
	}
	out := make([]Permission, len(src))
	copy(out, src)
	return out
}

// Authorities returns the role permissions followed by the tags of the role
// and every role below it, lowest first. Each tag appears once.
func (r Role) Authorities() []string {
	perms := r.Permissions()
	if len(perms) == 0 {
		return []string{}
	}
	roles := AllRoles()
	out := make([]string, 0, len(perms)+len(roles))
	for _, p := range perms {
		out = append(out, string(p))
	}
	for _, lower := range roles {
		if r.IsAtLeast(lower) {
			out = append(out, lower.Tag())
		}
	}
	return out
}
