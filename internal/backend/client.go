// Package backend is the client for the ticketing backend's team lookups.
//
// Every lookup returns a Result rather than an error: the gateway treats an
// unreachable backend as "no data" and never as a reason to grant access.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/blueberrycongee/supportgate/internal/httputil"
	"github.com/blueberrycongee/supportgate/internal/metrics"
	"github.com/blueberrycongee/supportgate/internal/observability"
	"github.com/blueberrycongee/supportgate/internal/resilience"
)

// Endpoint labels used in metrics and spans.
const (
	EndpointUser             = "user"
	EndpointEscalationRoster = "escalation_roster"
)

const (
	defaultTimeout    = 10 * time.Second
	defaultRosterTTL  = time.Minute
	rosterCacheKey    = "escalation"
	maxResponseBytes  = 1 << 20
	userAgent         = "supportgate"
	teamTypeEscalated = "escalation"
)

// Team is a team as the backend serializes it.
type Team struct {
	Label     string   `json:"label"`
	Code      string   `json:"code"`
	Types     []string `json:"types"`
	GroupRefs []string `json:"groupRefs,omitempty"`
}

type userResponse struct {
	Teams []Team `json:"teams"`
}

// Config configures a Client.
type Config struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration
	// RosterCacheTTL bounds how stale the escalation roster may be. Zero uses
	// the default; a negative value disables caching.
	RosterCacheTTL time.Duration
	// Breaker trips a per-endpoint circuit after consecutive failures. The
	// zero value disables it.
	Breaker    resilience.CircuitBreakerConfig
	HTTPClient *http.Client
	Tracer     trace.Tracer
	Logger     *slog.Logger
}

// Client performs the team lookups used at sign-in.
type Client struct {
	baseURL    *url.URL
	apiToken   atomic.Pointer[string]
	httpClient *http.Client
	roster     *cache.Cache
	breakers   map[string]*resilience.CircuitBreaker
	tracer     trace.Tracer
	logger     *slog.Logger
}

// NewClient creates a backend client.
func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("backend base URL %q must be absolute", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(observability.TracerName)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		baseURL:    base,
		httpClient: httpClient,
		tracer:     tracer,
		logger:     logger,
	}
	c.SetAPIToken(cfg.APIToken)

	ttl := cfg.RosterCacheTTL
	if ttl == 0 {
		ttl = defaultRosterTTL
	}
	if ttl > 0 {
		c.roster = cache.New(ttl, 2*ttl)
	}

	if cfg.Breaker.Enabled() {
		onChange := resilience.WithStateChange(func(name string, from, to resilience.CircuitState) {
			logger.Warn("backend circuit changed state", "endpoint", name, "from", from.String(), "to", to.String())
		})
		c.breakers = map[string]*resilience.CircuitBreaker{
			EndpointUser:             resilience.NewCircuitBreaker(EndpointUser, cfg.Breaker, onChange),
			EndpointEscalationRoster: resilience.NewCircuitBreaker(EndpointEscalationRoster, cfg.Breaker, onChange),
		}
	}
	return c, nil
}

// BaseURL returns a copy of the backend base URL.
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// APIToken returns the credential sent to the backend.
func (c *Client) APIToken() string {
	if p := c.apiToken.Load(); p != nil {
		return *p
	}
	return ""
}

// SetAPIToken replaces the backend credential, e.g. after a secret rotation.
func (c *Client) SetAPIToken(token string) {
	token = strings.TrimSpace(token)
	c.apiToken.Store(&token)
}

// Authorize sets the backend credential on an outgoing request.
func (c *Client) Authorize(req *http.Request) {
	if token := c.APIToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	} else {
		req.Header.Del("Authorization")
	}
}

// UserTeams fetches the teams of the user with the given email.
func (c *Client) UserTeams(ctx context.Context, email string) Result[[]Team] {
	query := url.Values{"email": []string{email}}
	var resp userResponse
	if reason := c.get(ctx, EndpointUser, "/user", query, &resp); reason != "" {
		return Unavailable[[]Team](reason)
	}
	return Ok(nonNil(resp.Teams))
}

// EscalationRoster fetches the teams designated as escalation teams. Successful
// answers are cached for the configured TTL; failures are never cached.
func (c *Client) EscalationRoster(ctx context.Context) Result[[]Team] {
	if c.roster != nil {
		if cached, ok := c.roster.Get(rosterCacheKey); ok {
			if teams, ok := cached.([]Team); ok {
				return Ok(teams)
			}
		}
	}

	query := url.Values{"type": []string{teamTypeEscalated}}
	var teams []Team
	if reason := c.get(ctx, EndpointEscalationRoster, "/team", query, &teams); reason != "" {
		return Unavailable[[]Team](reason)
	}
	teams = nonNil(teams)
	if c.roster != nil {
		c.roster.SetDefault(rosterCacheKey, teams)
	}
	return Ok(teams)
}

// InvalidateRoster drops the cached escalation roster.
func (c *Client) InvalidateRoster() {
	if c.roster != nil {
		c.roster.Flush()
	}
}

// get performs one lookup and decodes the JSON body into out. It returns a
// non-empty reason on any failure.
func (c *Client) get(ctx context.Context, endpoint, path string, query url.Values, out any) string {
	start := time.Now()
	outcome := metrics.OutcomeOK
	var statusCode int

	breaker := c.breakers[endpoint]
	if breaker != nil && !breaker.Allow() {
		metrics.RecordBackendFetch(endpoint, metrics.OutcomeShortCircuit, time.Since(start))
		return resilience.ErrCircuitOpen.Error()
	}

	reason := func() string {
		u := c.baseURL.JoinPath(path)
		u.RawQuery = query.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
		if err != nil {
			return fmt.Sprintf("create request: %v", err)
		}

		spanCtx, span := observability.StartBackendSpan(ctx, c.tracer, endpoint, req)
		defer span.End()
		req = req.WithContext(spanCtx)

		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", userAgent)
		if id := observability.RequestIDFromContext(ctx); id != "" {
			req.Header.Set(observability.RequestIDHeader, id)
		}
		c.Authorize(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			observability.RecordError(span, err)
			// The URL carries the user's email; keep it out of the reason.
			var urlErr *url.Error
			if errors.As(err, &urlErr) {
				err = urlErr.Err
			}
			return fmt.Sprintf("request failed: %v", err)
		}
		defer func() { _ = resp.Body.Close() }()
		statusCode = resp.StatusCode

		if resp.StatusCode != http.StatusOK {
			observability.RecordBackendResponse(span, resp.StatusCode, metrics.OutcomeUnavailable)
			return fmt.Sprintf("backend returned %d", resp.StatusCode)
		}

		if err := httputil.DecodeJSON(resp.Body, maxResponseBytes, out); err != nil {
			observability.RecordError(span, err)
			switch {
			case errors.Is(err, httputil.ErrBodyTooLarge):
				return "response body too large"
			case errors.Is(err, httputil.ErrMalformedJSON):
				return fmt.Sprintf("decode response: %v", err)
			default:
				return fmt.Sprintf("read response body: %v", err)
			}
		}
		observability.RecordBackendResponse(span, resp.StatusCode, metrics.OutcomeOK)
		return ""
	}()

	if breaker != nil {
		if reason != "" {
			breaker.RecordFailure()
		} else {
			breaker.RecordSuccess()
		}
	}
	if reason != "" {
		outcome = metrics.OutcomeUnavailable
		c.logger.Warn("backend lookup unavailable",
			"endpoint", endpoint,
			"status", statusCode,
			"reason", reason,
			"request_id", observability.RequestIDFromContext(ctx),
		)
	}
	metrics.RecordBackendFetch(endpoint, outcome, time.Since(start))
	return reason
}

func nonNil(teams []Team) []Team {
	if teams == nil {
		return []Team{}
	}
	return teams
}
