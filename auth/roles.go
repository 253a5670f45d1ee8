package auth

// Known user roles
const (
	RoleAdmin      = "Admin"
	RoleClient     = "Client"
	RoleSolver     = "Solver"
	RoleSupervisor = "Supervisor"
)

// AdminRoles are the roles allowed into the administration commands
var AdminRoles = []string{RoleAdmin, RoleSupervisor}

// FeedRoles are the roles allowed to watch the dashboard feed
var FeedRoles = []string{RoleAdmin, RoleSolver}

// Identity is the authenticated user as far as access checks are concerned
type Identity struct {
	ID    string
	Email string
	Role  string
}

// Allowed whether the user holds one of the required roles. A nil user is never
// allowed; an empty role list only requires a user.
func Allowed(user *Identity, requiredRoles ...string) bool {
	if user == nil {
		return false
	}
	if len(requiredRoles) == 0 {
		return true
	}
	for _, role := range requiredRoles {
		if user.Role == role {
			return true
		}
	}
	return false
}
