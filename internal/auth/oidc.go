package auth

import (
	"errors"
	"strings"
)

// OIDCConfig contains configuration for OIDC sign-in.
type OIDCConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	// RedirectURL is the absolute callback URL registered with the provider.
	// When empty it is derived from the incoming request.
	RedirectURL string
	Scopes      []string
}

// ErrEmailNotVerified is returned when the provider reports an unverified email.
var ErrEmailNotVerified = errors.New("email not verified")

// IDClaims are the identity-provider claims the gateway reads. Role or group
// claims are deliberately absent: privileges come from the backend only.
type IDClaims struct {
	Subject           string `json:"sub"`
	Email             string `json:"email"`
	EmailVerified     *bool  `json:"email_verified,omitempty"`
	Name              string `json:"name"`
	GivenName         string `json:"given_name"`
	FamilyName        string `json:"family_name"`
	PreferredUsername string `json:"preferred_username"`
}

// Profile converts the claims into a sign-in profile. The display name falls
// back to given and family name, then to the preferred username.
func (c IDClaims) Profile() (Profile, error) {
	if c.EmailVerified != nil && !*c.EmailVerified {
		return Profile{}, ErrEmailNotVerified
	}

	email := strings.TrimSpace(c.Email)
	if email == "" && strings.Contains(c.PreferredUsername, "@") {
		email = strings.TrimSpace(c.PreferredUsername)
	}
	if email == "" {
		return Profile{}, ErrEmailRequired
	}

	name := strings.TrimSpace(c.Name)
	if name == "" {
		name = strings.TrimSpace(strings.TrimSpace(c.GivenName) + " " + strings.TrimSpace(c.FamilyName))
	}
	if name == "" && !strings.Contains(c.PreferredUsername, "@") {
		name = strings.TrimSpace(c.PreferredUsername)
	}
	return Profile{Email: email, Name: name}, nil
}

// Merge fills empty fields of c from other, e.g. userinfo claims when the ID
// token omits the email.
func (c IDClaims) Merge(other IDClaims) IDClaims {
	if c.Email == "" {
		c.Email = other.Email
		c.EmailVerified = other.EmailVerified
	}
	if c.Name == "" {
		c.Name = other.Name
	}
	if c.GivenName == "" {
		c.GivenName = other.GivenName
	}
	if c.FamilyName == "" {
		c.FamilyName = other.FamilyName
	}
	if c.PreferredUsername == "" {
		c.PreferredUsername = other.PreferredUsername
	}
	return c
}
