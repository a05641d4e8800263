package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/blueberrycongee/supportgate/internal/backend"
	"github.com/blueberrycongee/supportgate/internal/metrics"
	"github.com/blueberrycongee/supportgate/internal/observability"
)

// Sign-in outcomes recorded in metrics.
const (
	SignInSuccess  = "success"
	SignInRejected = "rejected"
	SignInError    = "error"
)

// Sign-in errors.
var (
	ErrEmailRequired         = errors.New("email is required")
	ErrEmailDomainNotAllowed = errors.New("email domain not allowed")
)

// TeamSource supplies the team data classified at sign-in. *backend.Client
// implements it.
type TeamSource interface {
	UserTeams(ctx context.Context, email string) backend.Result[[]backend.Team]
	EscalationRoster(ctx context.Context) backend.Result[[]backend.Team]
}

// Profile is what the identity provider tells us about the user. Only the
// email and display name are used; role claims from the provider are ignored.
type Profile struct {
	Email string
	Name  string
}

// SignInConfig configures a SignInService.
type SignInConfig struct {
	Source   TeamSource
	Sessions *SessionManager
	// AllowedEmailDomain restricts sign-in to one email domain when set.
	AllowedEmailDomain string
	Logger             *slog.Logger
}

// SignInService turns an identity-provider profile into a signed session.
type SignInService struct {
	source        TeamSource
	sessions      *SessionManager
	allowedDomain string
	logger        *slog.Logger
}

// NewSignInService creates a sign-in service.
func NewSignInService(cfg SignInConfig) (*SignInService, error) {
	if cfg.Source == nil {
		return nil, errors.New("team source is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session manager is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SignInService{
		source:        cfg.Source,
		sessions:      cfg.Sessions,
		allowedDomain: strings.ToLower(strings.TrimPrefix(strings.TrimSpace(cfg.AllowedEmailDomain), "@")),
		logger:        logger,
	}, nil
}

// SignIn fetches the user's teams and the escalation roster concurrently,
// classifies them and issues a session. A backend outage on either lookup
// degrades to an empty list, so the user signs in with no elevated role.
func (s *SignInService) SignIn(ctx context.Context, p Profile) (*AuthToken, string, error) {
	email := strings.ToLower(strings.TrimSpace(p.Email))
	if email == "" {
		metrics.SignIns.WithLabelValues(SignInRejected).Inc()
		return nil, "", ErrEmailRequired
	}
	if !IsEmailDomainAllowed(email, s.allowedDomain) {
		metrics.SignIns.WithLabelValues(SignInRejected).Inc()
		return nil, "", ErrEmailDomainNotAllowed
	}

	teams, roster := s.fetch(ctx, email)
	c := ClassifyTeams(teams, email, roster)

	token, signed, err := s.sessions.Issue(AuthToken{
		Email:             email,
		Name:              strPtr(strings.TrimSpace(p.Name)),
		Teams:             c.Teams,
		IsLeadership:      c.IsLeadership,
		IsEscalation:      c.IsEscalation,
		IsSupportEngineer: c.IsSupportEngineer,
	})
	if err != nil {
		metrics.SignIns.WithLabelValues(SignInError).Inc()
		return nil, "", fmt.Errorf("issue session: %w", err)
	}

	metrics.SignIns.WithLabelValues(SignInSuccess).Inc()
	s.logger.Debug("session issued",
		"request_id", observability.RequestIDFromContext(ctx),
		"teams", len(token.Teams),
		"leadership", token.IsLeadership,
		"escalation", token.IsEscalation,
		"support_engineer", token.IsSupportEngineer,
	)
	return token, signed, nil
}

// Refresh reissues a session for the holder of current with freshly fetched
// teams. The new token starts a new fixed lifetime.
func (s *SignInService) Refresh(ctx context.Context, current *AuthToken) (*AuthToken, string, error) {
	if current == nil {
		return nil, "", ErrSessionNotFound
	}
	p := Profile{Email: current.Email}
	if current.Name != nil {
		p.Name = *current.Name
	}
	return s.SignIn(ctx, p)
}

func (s *SignInService) fetch(ctx context.Context, email string) (teams, roster []RawTeam) {
	var (
		wg            sync.WaitGroup
		userResult    backend.Result[[]backend.Team]
		rosterResults backend.Result[[]backend.Team]
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		userResult = s.source.UserTeams(ctx, email)
	}()
	go func() {
		defer wg.Done()
		rosterResults = s.source.EscalationRoster(ctx)
	}()
	wg.Wait()

	requestID := observability.RequestIDFromContext(ctx)
	if !userResult.IsOk() {
		s.logger.Warn("user teams unavailable, signing in without teams",
			"request_id", requestID, "reason", userResult.Reason())
	}
	if !rosterResults.IsOk() {
		s.logger.Warn("escalation roster unavailable, ignoring roster",
			"request_id", requestID, "reason", rosterResults.Reason())
	}
	return toRawTeams(userResult.OrZero()), toRawTeams(rosterResults.OrZero())
}

// IsEmailDomainAllowed reports whether email belongs to domain. An empty
// domain allows every address.
func IsEmailDomainAllowed(email, domain string) bool {
	domain = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(domain), "@"))
	if domain == "" {
		return true
	}
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return false
	}
	return strings.EqualFold(email[at+1:], domain)
}

func toRawTeams(teams []backend.Team) []RawTeam {
	out := make([]RawTeam, 0, len(teams))
	for _, t := range teams {
		out = append(out, RawTeam{
			Label:     t.Label,
			Code:      t.Code,
			Types:     t.Types,
			GroupRefs: t.GroupRefs,
		})
	}
	return out
}
