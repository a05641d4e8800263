// Package auth decides who a signed-in user is and what they may do.
//
// At sign-in the backend's team list is classified into role flags, minified
// into a signed session token and handed back to the browser. On every later
// request the token is verified, rehydrated and checked against the
// capability a route requires.
package auth

import "time"

// RawTeam is a team as the backend reports it.
type RawTeam struct {
	Label     string   `json:"label"`
	Code      string   `json:"code"`
	Types     []string `json:"types"`
	GroupRefs []string `json:"groupRefs,omitempty"`
}

// ProcessedTeam is a team with its canonical name resolved. Name is never empty.
type ProcessedTeam struct {
	Name      string   `json:"name"`
	Types     []string `json:"types"`
	GroupRefs []string `json:"groupRefs"`
}

// MinifiedTeam is the compact form of a team carried inside the session token.
type MinifiedTeam struct {
	N string   `json:"n"`
	T []string `json:"t"`
}

// AuthToken is the verified identity of a signed-in user. It is immutable
// once issued; a changed team list requires a new sign-in or Refresh.
type AuthToken struct {
	ID                string          `json:"id,omitempty"`
	Email             string          `json:"email"`
	Name              *string         `json:"name"`
	Teams             []ProcessedTeam `json:"teams"`
	IsLeadership      bool            `json:"isLeadership"`
	IsEscalation      bool            `json:"isEscalation"`
	IsSupportEngineer bool            `json:"isSupportEngineer"`
	IssuedAt          time.Time       `json:"issuedAt"`
	ExpiresAt         time.Time       `json:"expiresAt"`
}

// Metadata is a flexible key-value store for audit attributes.
type Metadata map[string]any

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
