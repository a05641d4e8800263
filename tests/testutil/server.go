package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/blueberrycongee/supportgate/internal/api"
	"github.com/blueberrycongee/supportgate/internal/auth"
	"github.com/blueberrycongee/supportgate/internal/backend"
	"github.com/blueberrycongee/supportgate/internal/config"
	"github.com/blueberrycongee/supportgate/internal/metrics"
	"github.com/blueberrycongee/supportgate/internal/observability"
	"github.com/blueberrycongee/supportgate/internal/ratelimit"
)

// TestSessionSecret signs sessions issued by the test server.
const TestSessionSecret = "e2e-session-secret"

// TestServer manages a supportgate instance for testing.
type TestServer struct {
	server   *http.Server
	listener net.Listener
	config   *config.Config
	baseURL  string
	logger   *slog.Logger
	sessions *auth.SessionManager
	audit    auth.AuditStore
	limiter  *ratelimit.Limiter
	backend  *backend.Client
	redis    *redis.Client
}

// ServerOption configures the test server.
type ServerOption func(*serverOptions)

type serverOptions struct {
	backendURL      string
	oidcIssuer      string
	redirectOrigins []string
	emailDomain     string
	classes         map[string]config.LimitClassConfig
	redisAddr       string
	failOpen        bool
	routes          []config.RouteConfig
	backendToken    string
}

// WithBackend points the gateway at a (mock) ticketing backend.
func WithBackend(url string) ServerOption {
	return func(o *serverOptions) {
		o.backendURL = url
	}
}

// WithBackendToken sets the credential the gateway presents to the backend.
func WithBackendToken(token string) ServerOption {
	return func(o *serverOptions) {
		o.backendToken = token
	}
}

// WithOIDC enables sign-in against issuer using MockClientID.
func WithOIDC(issuer string) ServerOption {
	return func(o *serverOptions) {
		o.oidcIssuer = issuer
	}
}

// WithRedirectOrigins sets the redirect allow-list.
func WithRedirectOrigins(origins ...string) ServerOption {
	return func(o *serverOptions) {
		o.redirectOrigins = origins
	}
}

// WithEmailDomain restricts sign-in to one email domain.
func WithEmailDomain(domain string) ServerOption {
	return func(o *serverOptions) {
		o.emailDomain = domain
	}
}

// WithLimitClass overrides one limiter class.
func WithLimitClass(name string, maxRequests int, window time.Duration) ServerOption {
	return func(o *serverOptions) {
		if o.classes == nil {
			o.classes = config.DefaultLimitClasses()
		}
		o.classes[name] = config.LimitClassConfig{Max: maxRequests, Window: window}
	}
}

// WithRedisLimiter counts requests in redis at addr instead of memory.
func WithRedisLimiter(addr string, failOpen bool) ServerOption {
	return func(o *serverOptions) {
		o.redisAddr = addr
		o.failOpen = failOpen
	}
}

// WithRoutes replaces the default route policies.
func WithRoutes(routes ...config.RouteConfig) ServerOption {
	return func(o *serverOptions) {
		o.routes = routes
	}
}

// NewTestServer assembles a gateway on a random local port.
func NewTestServer(opts ...ServerOption) (*TestServer, error) {
	options := &serverOptions{backendToken: "backend-service-token"}
	for _, opt := range opts {
		opt(options)
	}
	if options.backendURL == "" {
		return nil, fmt.Errorf("a backend URL is required")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only log errors in tests
	}))

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	baseURL := fmt.Sprintf("http://%s", listener.Addr().String())

	cfg := config.DefaultConfig()
	cfg.Server.BaseURL = baseURL
	cfg.Backend.BaseURL = options.backendURL
	cfg.Backend.APIToken = options.backendToken
	cfg.Auth.Session.Secret = TestSessionSecret
	cfg.Auth.Session.CookieSecure = false
	cfg.Auth.AllowedRedirectOrigins = options.redirectOrigins
	cfg.Auth.AllowedEmailDomain = options.emailDomain
	if options.oidcIssuer != "" {
		cfg.Auth.OIDC.IssuerURL = options.oidcIssuer
		cfg.Auth.OIDC.ClientID = MockClientID
		cfg.Auth.OIDC.ClientSecret = "mock-client-secret"
	}
	if options.classes != nil {
		cfg.RateLimit.Classes = options.classes
	}
	cfg.Routes = options.routes

	s := &TestServer{listener: listener, config: cfg, baseURL: baseURL, logger: logger}
	handler, err := s.assemble(context.Background(), options)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	s.server = &http.Server{
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s, nil
}

func (s *TestServer) assemble(ctx context.Context, options *serverOptions) (http.Handler, error) {
	cfg := s.config

	sessions, err := auth.NewSessionManager(auth.SessionManagerConfig{
		Secret:          cfg.Auth.Session.Secret,
		CookieName:      cfg.Auth.Session.CookieName,
		StateCookieName: cfg.Auth.Session.StateCookieName,
		CookiePath:      cfg.Auth.Session.CookiePath,
		CookieSecure:    cfg.Auth.Session.CookieSecure,
		CookieSameSite:  cfg.Auth.Session.CookieSameSite,
		TTL:             cfg.Auth.Session.TTL,
		StateTTL:        cfg.Auth.Session.StateTTL,
	})
	if err != nil {
		return nil, err
	}

	client, err := backend.NewClient(backend.Config{
		BaseURL:        cfg.Backend.BaseURL,
		APIToken:       cfg.Backend.APIToken,
		RosterCacheTTL: -1,
		Logger:         s.logger,
	})
	if err != nil {
		return nil, err
	}

	signIn, err := auth.NewSignInService(auth.SignInConfig{
		Source:             client,
		Sessions:           sessions,
		AllowedEmailDomain: cfg.Auth.AllowedEmailDomain,
		Logger:             s.logger,
	})
	if err != nil {
		return nil, err
	}

	redirects, err := auth.NewRedirectValidator(cfg.Server.BaseURL, cfg.Auth.AllowedRedirectOrigins)
	if err != nil {
		return nil, err
	}

	auditStore := auth.NewMemoryAuditStore()
	audit := auth.NewAuditLogger(auditStore, true, s.logger)
	authz := auth.NewMiddleware(auth.MiddlewareConfig{Logger: s.logger, Audit: audit})

	var store ratelimit.Store
	if options.redisAddr != "" {
		s.redis = redis.NewClient(&redis.Options{Addr: options.redisAddr})
		store = ratelimit.NewRedisStore(s.redis, "e2e:rl")
	} else {
		store = ratelimit.NewMemoryStore(time.Now, s.logger)
	}
	classes := make([]ratelimit.Class, 0, len(cfg.RateLimit.Classes))
	for name, c := range cfg.RateLimit.Classes {
		classes = append(classes, ratelimit.Class{Name: name, Max: c.Max, Window: c.Window})
	}
	limiter := ratelimit.NewLimiter(store, classes,
		ratelimit.WithFailOpen(options.failOpen),
		ratelimit.WithLogger(s.logger),
	)
	resolver := ratelimit.IdentityResolver{Authenticated: auth.EmailFromRequest}
	limit := func(class string) func(http.Handler) http.Handler {
		return ratelimit.Middleware(limiter, class, resolver, func(r *http.Request, identity, class string, d ratelimit.Decision) {
			audit.LogRateLimited(r, identity, class, d.RetryAfter(limiter.Now()))
		})
	}

	authHandler, err := api.NewAuthHandler(ctx, api.AuthHandlerConfig{
		OIDC: auth.OIDCConfig{
			IssuerURL:    cfg.Auth.OIDC.IssuerURL,
			ClientID:     cfg.Auth.OIDC.ClientID,
			ClientSecret: cfg.Auth.OIDC.ClientSecret,
		},
		Sessions:  sessions,
		SignIn:    signIn,
		Redirects: redirects,
		Audit:     audit,
		Limit:     limit(config.ClassAuth),
		Logger:    s.logger,
	})
	if err != nil {
		return nil, err
	}

	proxy, err := api.NewBackendProxy(api.BackendProxyConfig{
		Target:       client.BaseURL(),
		Authorize:    client.Authorize,
		StripCookies: sessions.CookieNames(),
		Logger:       s.logger,
	})
	if err != nil {
		return nil, err
	}

	policies := api.DefaultRoutePolicies()
	if len(cfg.Routes) > 0 {
		policies = policies[:0]
		for _, r := range cfg.Routes {
			c, err := auth.ParseCapability(r.Capability)
			if err != nil {
				return nil, err
			}
			policies = append(policies, api.RoutePolicy{Prefix: r.Prefix, Class: r.Class, Capability: c})
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/live", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("GET /health/ready", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("GET /metrics", promhttp.Handler())
	authHandler.RegisterRoutes(mux)
	api.NewAuditLogHandler(auditStore, s.logger).RegisterAuditRoutes(mux, authz.RequireCapability(auth.CapabilityLeadership))
	api.RegisterProxyRoutes(mux, policies, proxy, limit, authz)

	var handler http.Handler = mux
	handler = auth.SessionMiddleware(sessions, s.logger)(handler)
	handler = metrics.Middleware(handler)
	handler = observability.RequestIDMiddleware(handler)

	s.sessions = sessions
	s.audit = auditStore
	s.limiter = limiter
	s.backend = client
	return handler, nil
}

// Start starts the test server in a goroutine.
func (s *TestServer) Start() error {
	go func() {
		if err := s.server.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("server error", "error", err)
		}
	}()

	// Wait for server to be ready
	return s.waitForReady(5 * time.Second)
}

// Stop gracefully shuts down the test server.
func (s *TestServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.redis != nil {
		_ = s.redis.Close()
	}
	return s.server.Shutdown(ctx)
}

// URL returns the server's base URL.
func (s *TestServer) URL() string {
	return s.baseURL
}

// Client returns a client with a cookie jar that does not follow redirects,
// so each hop of the sign-in flow can be inspected.
func (s *TestServer) Client() *http.Client {
	jar, _ := cookiejar.New(nil)
	return &http.Client{
		Timeout: 30 * time.Second,
		Jar:     jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Config returns the server's configuration.
func (s *TestServer) Config() *config.Config {
	return s.config
}

// Sessions returns the session manager, for minting tokens directly.
func (s *TestServer) Sessions() *auth.SessionManager {
	return s.sessions
}

// AuditStore returns the audit store.
func (s *TestServer) AuditStore() auth.AuditStore {
	return s.audit
}

// Limiter returns the rate limiter.
func (s *TestServer) Limiter() *ratelimit.Limiter {
	return s.limiter
}

// IssueSession mints a signed session for token without going through OIDC.
func (s *TestServer) IssueSession(token auth.AuthToken) (string, error) {
	_, signed, err := s.sessions.Issue(token)
	return signed, err
}

func (s *TestServer) waitForReady(timeout time.Duration) error {
	client := &http.Client{Timeout: time.Second}
	deadline := time.Now().Add(timeout)
	ctx := context.Background()

	for time.Now().Before(deadline) {
		req, err := http.NewRequestWithContext(ctx, "GET", s.baseURL+"/health/ready", http.NoBody)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(50 * time.Millisecond)
	}

	return fmt.Errorf("server not ready after %v", timeout)
}
