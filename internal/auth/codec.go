package auth

// TokenSchemaVersion is stamped into every session token as the "ver" claim.
// Bump it whenever MinifiedTeam or the claim layout changes; tokens carrying
// any other version are rejected and the user signs in again.
const TokenSchemaVersion = 1

// LossyTeamFields lists ProcessedTeam fields that do not survive a
// MinifyTeams/RehydrateTeams round trip.
var LossyTeamFields = []string{"groupRefs"}

// MinifyTeams converts teams to their token form. Group references are dropped.
func MinifyTeams(teams []ProcessedTeam) []MinifiedTeam {
	out := make([]MinifiedTeam, 0, len(teams))
	for _, t := range teams {
		out = append(out, MinifiedTeam{N: t.Name, T: cloneStrings(t.Types)})
	}
	return out
}

// RehydrateTeams restores ProcessedTeam values from a token. GroupRefs is
// always empty, and entries without a name are skipped.
func RehydrateTeams(teams []MinifiedTeam) []ProcessedTeam {
	out := make([]ProcessedTeam, 0, len(teams))
	for _, t := range teams {
		if t.N == "" {
			continue
		}
		out = append(out, ProcessedTeam{
			Name:      t.N,
			Types:     cloneStrings(t.T),
			GroupRefs: []string{},
		})
	}
	return out
}
