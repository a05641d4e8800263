package auth

import "strings"

// Type-tag fragments that grant a role flag.
const (
	tagLeadership = "leadership"
	tagSupport    = "support"
	tagEscalation = "escalation"
)

// Classification is the result of ClassifyTeams.
type Classification struct {
	Email             string
	Teams             []ProcessedTeam
	IsLeadership      bool
	IsEscalation      bool
	IsSupportEngineer bool
}

// ClassifyTeams resolves canonical team names and derives the role flags.
//
// Flags are computed only from the backend's data, never from the identity
// provider. A team grants escalation either through its type tags or by
// appearing in roster. Email is carried through for display only.
func ClassifyTeams(teams []RawTeam, email string, roster []RawTeam) Classification {
	c := Classification{
		Email: email,
		Teams: ProcessTeams(teams),
	}

	rosterNames := rosterNameSet(roster)
	for _, team := range c.Teams {
		for _, tag := range team.Types {
			lower := strings.ToLower(tag)
			if strings.Contains(lower, tagLeadership) {
				c.IsLeadership = true
			}
			if strings.Contains(lower, tagSupport) {
				c.IsSupportEngineer = true
			}
			if strings.Contains(lower, tagEscalation) {
				c.IsEscalation = true
			}
		}
		if _, ok := rosterNames[team.Name]; ok {
			c.IsEscalation = true
		}
	}
	return c
}

// ProcessTeams maps backend teams to ProcessedTeam, dropping any team that has
// no usable name.
func ProcessTeams(teams []RawTeam) []ProcessedTeam {
	out := make([]ProcessedTeam, 0, len(teams))
	for _, t := range teams {
		name := CanonicalTeamName(t)
		if name == "" {
			continue
		}
		out = append(out, ProcessedTeam{
			Name:      name,
			Types:     cloneStrings(t.Types),
			GroupRefs: cloneStrings(t.GroupRefs),
		})
	}
	return out
}

// CanonicalTeamName prefers the team code over its label. Some backends use a
// mailbox as the code; only the local part is kept.
func CanonicalTeamName(t RawTeam) string {
	name := strings.TrimSpace(t.Code)
	if name == "" {
		name = strings.TrimSpace(t.Label)
	}
	if local, _, found := strings.Cut(name, "@"); found {
		name = strings.TrimSpace(local)
	}
	return name
}

// rosterNameSet indexes escalation roster entries by label, falling back to code.
func rosterNameSet(roster []RawTeam) map[string]struct{} {
	names := make(map[string]struct{}, len(roster))
	for _, t := range roster {
		name := strings.TrimSpace(t.Label)
		if name == "" {
			name = strings.TrimSpace(t.Code)
		}
		if name != "" {
			names[name] = struct{}{}
		}
	}
	return names
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
