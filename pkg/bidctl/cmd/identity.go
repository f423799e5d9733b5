package cmd

import (
	"github.com/golang-jwt/jwt/v4"

	"github.com/telekom/bidctl/pkg/bidctl/auth"
)

const unknownIdentity = "unknown"

type identity struct {
	Profile  string `json:"profile" yaml:"profile"`
	Subject  string `json:"subject" yaml:"subject"`
	Email    string `json:"email" yaml:"email"`
	Username string `json:"username" yaml:"username"`
}

// identityFromToken reads identity claims without verifying the signature.
// The token came from our own store, so it is only used for display. Opaque
// tokens report unknown.
func identityFromToken(token *auth.BuilderIDToken) identity {
	id := identity{Subject: unknownIdentity, Email: unknownIdentity, Username: unknownIdentity}
	for _, raw := range []string{token.IDToken, token.AccessToken} {
		if raw == "" {
			continue
		}
		claims := jwt.MapClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
			continue
		}
		if v, ok := claims["sub"].(string); ok && v != "" {
			id.Subject = v
		}
		if v, ok := claims["email"].(string); ok && v != "" {
			id.Email = v
		}
		if v, ok := claims["preferred_username"].(string); ok && v != "" {
			id.Username = v
		}
		return id
	}
	return id
}
