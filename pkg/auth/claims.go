package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// Role is the operator role carried in an admin token.
type Role string

const (
	RoleAdmin Role = "admin"
	// RoleViewer may read admin reports but not trigger jobs or move money.
	RoleViewer Role = "viewer"
)

func (r Role) IsValid() bool {
	return r == RoleAdmin || r == RoleViewer
}

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	Subject string
	Role    Role
	JTI     string
}

// AccessTokenClaims represents the typed JWT issued to operators.
type AccessTokenClaims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}
