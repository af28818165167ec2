package app

import "time"

// User is the admin behind a bearer token.
type User struct {
	// Token id; logging out revokes it.
	ID string `json:"id"`

	// Login method, "password" or "sso".
	Method string `json:"method"`

	// Display name and email from the identity provider. Empty for password logins.
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`

	ExpiresAt time.Time `json:"expiresAt"`
}
