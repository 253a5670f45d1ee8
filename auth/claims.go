package auth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Claims are the fields of the session token the client reads locally
type Claims struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Role    string `json:"role"`
}

// PeekClaims read the claims section of a JWT without verifying it. The backend
// remains the authority; this only serves local display and route gating.
func PeekClaims(token string) (Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Claims{}, fmt.Errorf("invalid token")
	}
	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return Claims{}, fmt.Errorf("invalid token: %w", err)
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return Claims{}, fmt.Errorf("invalid token: %w", err)
	}
	return claims, nil
}

// Identity converts the claims into an Identity
func (c Claims) Identity() Identity {
	return Identity{ID: c.Subject, Email: c.Email, Role: c.Role}
}
