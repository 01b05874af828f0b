package auth

// Role del principal autenticado.
type Role string

const (
	RoleCollector Role = "collector"
	RoleAdmin     Role = "admin"
)

// Principal es el resultado de authenticate(token).
type Principal struct {
	UserID   string
	Email    string
	TenantID string
	Role     Role
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}
