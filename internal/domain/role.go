package domain

// Roles carried in operator JWTs. Admins can do everything operators can.
const (
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)
