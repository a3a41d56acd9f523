package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Role identifies which marketplace side this client runs as.
type Role string

const (
	RoleUser Role = "user"
	RoleShop Role = "shop"
)

// WireName returns the role as it appears in gateway payloads.
func (r Role) WireName() string {
	if r == RoleShop {
		return "SHOP"
	}
	return "USER"
}

// Claims are the token claims the chat core cares about.
type Claims struct {
	Name string `json:"name"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Context carries the bearer credential and the identity it belongs to.
// It is built once at startup and passed into the transport and REST
// clients at construction, so no component reads ambient auth state.
type Context struct {
	Token      string
	IdentityID string
	Label      string
	Role       Role
}

// FromToken decodes identity fields from the bearer token's claims.
// The signature is deliberately not verified: this is a client learning its
// own identity from a token the server issued; the server stays the verifier.
func FromToken(token string) (*Context, error) {
	var claims Claims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject claim")
	}

	role := RoleUser
	if claims.Role == "shop" || claims.Role == "SHOP" {
		role = RoleShop
	}

	label := claims.Name
	if label == "" {
		label = claims.Subject
	}

	return &Context{
		Token:      token,
		IdentityID: claims.Subject,
		Label:      label,
		Role:       role,
	}, nil
}

// BearerHeader returns the Authorization header value for REST and
// websocket handshakes.
func (c *Context) BearerHeader() string {
	return "Bearer " + c.Token
}
