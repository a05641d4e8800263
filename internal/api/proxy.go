package api //nolint:revive // package name is intentional

import (
	"errors"
	"log/slog"
	"net/http"
	stdhttputil "net/http/httputil"
	"net/url"
	"strings"

	"github.com/blueberrycongee/supportgate/internal/auth"
	"github.com/blueberrycongee/supportgate/internal/observability"
	gwerrors "github.com/blueberrycongee/supportgate/pkg/errors"
)

// Identity headers set on proxied requests. Inbound values are always
// replaced so a client cannot assert an identity of its own.
const (
	HeaderUserEmail = "X-Supportgate-Email"
	HeaderUserRoles = "X-Supportgate-Roles"
)

// BackendProxyConfig configures a BackendProxy.
type BackendProxyConfig struct {
	Target *url.URL
	// Authorize sets the backend credential on each outgoing request.
	Authorize func(*http.Request)
	// StripCookies names cookies never forwarded upstream, e.g. the session.
	StripCookies []string
	Transport    http.RoundTripper
	Logger       *slog.Logger
}

// BackendProxy forwards permitted requests to the ticketing backend. The
// caller's session never leaves the gateway; the backend sees its own
// credential plus the identity headers.
type BackendProxy struct {
	proxy  *stdhttputil.ReverseProxy
	logger *slog.Logger
}

// NewBackendProxy creates a reverse proxy to cfg.Target.
func NewBackendProxy(cfg BackendProxyConfig) (*BackendProxy, error) {
	if cfg.Target == nil || cfg.Target.Scheme == "" || cfg.Target.Host == "" {
		return nil, errors.New("backend target must be an absolute URL")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	target := *cfg.Target
	strip := make(map[string]struct{}, len(cfg.StripCookies))
	for _, name := range cfg.StripCookies {
		strip[name] = struct{}{}
	}

	p := &BackendProxy{logger: logger}
	p.proxy = &stdhttputil.ReverseProxy{
		Rewrite: func(pr *stdhttputil.ProxyRequest) {
			pr.SetURL(&target)
			pr.SetXForwarded()
			pr.Out.Host = target.Host

			out := pr.Out
			out.Header.Del("Authorization")
			out.Header.Del(HeaderUserEmail)
			out.Header.Del(HeaderUserRoles)
			filterCookies(out, strip)

			if id := observability.RequestIDFromContext(pr.In.Context()); id != "" {
				out.Header.Set(observability.RequestIDHeader, id)
			}
			if token := auth.TokenFromContext(pr.In.Context()); token != nil {
				out.Header.Set(HeaderUserEmail, token.Email)
				if roles := roleList(token); roles != "" {
					out.Header.Set(HeaderUserRoles, roles)
				}
			}
			if cfg.Authorize != nil {
				cfg.Authorize(out)
			}
		},
		Transport: cfg.Transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Warn("backend proxy failed",
				"request_id", observability.RequestIDFromContext(r.Context()),
				"path", r.URL.Path,
				"error", err,
			)
			writeError(w, gwerrors.NewServiceUnavailableError("backend unavailable"))
		},
	}
	return p, nil
}

// ServeHTTP implements http.Handler.
func (p *BackendProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.proxy.ServeHTTP(w, r)
}

func filterCookies(r *http.Request, strip map[string]struct{}) {
	if len(strip) == 0 {
		return
	}
	cookies := r.Cookies()
	r.Header.Del("Cookie")
	for _, c := range cookies {
		if _, drop := strip[c.Name]; drop {
			continue
		}
		r.AddCookie(c)
	}
}

func roleList(token *auth.AuthToken) string {
	var roles []string
	if auth.HasLeadership(token) {
		roles = append(roles, string(auth.CapabilityLeadership))
	}
	if auth.HasEscalation(token) {
		roles = append(roles, string(auth.CapabilityEscalation))
	}
	if auth.HasSupportEngineer(token) {
		roles = append(roles, string(auth.CapabilitySupportEngineer))
	}
	return strings.Join(roles, ",")
}
