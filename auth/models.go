package auth

import "time"

// Role is a personnel role within a security firm.
type Role string

const (
	RoleDispatcher Role = "dispatcher"
	RoleFieldAgent Role = "field_agent"
	RoleFirmAdmin  Role = "firm_admin"
)

// Person is the domain representation of an authenticated firm employee.
// It mirrors the personnel table; no JSON annotations so it can be reused by
// different presentation layers.
type Person struct {
	ID           string
	FirmID       string
	TeamID       *string
	Email        string
	FullName     string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterRequest contains personnel registration data supplied by callers.
type RegisterRequest struct {
	FirmID   string `json:"firm_id"`
	TeamID   string `json:"team_id"`
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     Role   `json:"role"`
}

// LoginRequest contains login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
