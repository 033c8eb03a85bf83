package domain

type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

func ParseRole(raw string) (Role, bool) {
	switch Role(raw) {
	case RoleUser, RoleAdmin, RoleSuperAdmin:
		return Role(raw), true
	}
	return "", false
}

// Satisfies checks a role against a requirement by exact match.
// Roles do not inherit: admin does not satisfy super_admin.
func (r Role) Satisfies(required Role) bool {
	switch r {
	case RoleUser, RoleAdmin, RoleSuperAdmin:
		return r == required
	}
	return false
}

type UserStatus string

const (
	UserActive  UserStatus = "active"
	UserBlocked UserStatus = "blocked"
)

func ParseUserStatus(raw string) (UserStatus, bool) {
	switch UserStatus(raw) {
	case UserActive, UserBlocked:
		return UserStatus(raw), true
	case "":
		return UserActive, true
	}
	return "", false
}

type User struct {
	ID     string
	Role   Role
	Status UserStatus
}

func UserFromData(id string, data map[string]any) (User, error) {
	rawRole, _ := data[FieldRole].(string)
	role, ok := ParseRole(rawRole)
	if !ok {
		return User{}, invalid("user", id, "unknown role %q", rawRole)
	}
	rawStatus, _ := data[FieldStatus].(string)
	status, ok := ParseUserStatus(rawStatus)
	if !ok {
		return User{}, invalid("user", id, "unknown status %q", rawStatus)
	}
	return User{ID: id, Role: role, Status: status}, nil
}
