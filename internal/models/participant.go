package models

import (
	"fmt"
	"strings"
)

// Role is a marketplace role captured when a participant joins a conversation
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAgent  Role = "agent"
)

// ParseRole converts a raw string into a Role
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleBuyer, RoleSeller, RoleAgent:
		return r, nil
	default:
		return "", fmt.Errorf("invalid role %q", s)
	}
}

// Valid reports whether r is one of the fixed roles
func (r Role) Valid() bool {
	switch r {
	case RoleBuyer, RoleSeller, RoleAgent:
		return true
	}
	return false
}

type Participant struct {
	UserID string `json:"userId" db:"user_id"`
	Name   string `json:"name" db:"name"`
	Role   Role   `json:"role" db:"role"`
	Email  string `json:"email" db:"email"`
}

// Validate checks basic participant fields
func (p *Participant) Validate() error {
	if strings.TrimSpace(p.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if !p.Role.Valid() {
		return fmt.Errorf("invalid role %q", p.Role)
	}
	if p.Email != "" && !strings.Contains(p.Email, "@") {
		return fmt.Errorf("invalid email")
	}
	return nil
}
