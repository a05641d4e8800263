package auth

import (
	"fmt"
	"strings"
)

// HasLeadership reports whether token carries the leadership flag.
func HasLeadership(token *AuthToken) bool {
	return token != nil && token.IsLeadership
}

// HasEscalation reports whether token carries the escalation flag.
func HasEscalation(token *AuthToken) bool {
	return token != nil && token.IsEscalation
}

// HasSupportEngineer reports whether token carries the support engineer flag.
func HasSupportEngineer(token *AuthToken) bool {
	return token != nil && token.IsSupportEngineer
}

// IsMemberOfTeam reports whether token lists a team named exactly name.
// The comparison is case-sensitive.
func IsMemberOfTeam(token *AuthToken, name string) bool {
	if token == nil || name == "" {
		return false
	}
	for _, t := range token.Teams {
		if t.Name == name {
			return true
		}
	}
	return false
}

// TeamNames returns the names of the teams in token, in token order.
func TeamNames(token *AuthToken) []string {
	if token == nil {
		return []string{}
	}
	names := make([]string, 0, len(token.Teams))
	for _, t := range token.Teams {
		names = append(names, t.Name)
	}
	return names
}

// Capability is a permission a route can require.
type Capability string

const (
	CapabilityAuthenticated   Capability = "authenticated"
	CapabilityLeadership      Capability = "leadership"
	CapabilityEscalation      Capability = "escalation"
	CapabilitySupportEngineer Capability = "support_engineer"

	teamCapabilityPrefix = "team:"
)

// TeamCapability requires membership of the named team.
func TeamCapability(name string) Capability {
	return Capability(teamCapabilityPrefix + name)
}

// ParseCapability validates a capability name from configuration.
func ParseCapability(s string) (Capability, error) {
	s = strings.TrimSpace(s)
	switch c := Capability(s); c {
	case CapabilityAuthenticated, CapabilityLeadership, CapabilityEscalation, CapabilitySupportEngineer:
		return c, nil
	case "":
		return CapabilityAuthenticated, nil
	}
	if team, ok := strings.CutPrefix(s, teamCapabilityPrefix); ok && team != "" {
		return TeamCapability(team), nil
	}
	return "", fmt.Errorf("unknown capability %q", s)
}

// Allows reports whether token grants c. A nil token grants nothing.
func (c Capability) Allows(token *AuthToken) bool {
	if token == nil {
		return false
	}
	switch c {
	case CapabilityAuthenticated:
		return true
	case CapabilityLeadership:
		return HasLeadership(token)
	case CapabilityEscalation:
		return HasEscalation(token)
	case CapabilitySupportEngineer:
		return HasSupportEngineer(token)
	}
	if team, ok := strings.CutPrefix(string(c), teamCapabilityPrefix); ok {
		return IsMemberOfTeam(token, team)
	}
	return false
}
