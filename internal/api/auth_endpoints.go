// Package api provides the gateway's own HTTP endpoints: the OIDC sign-in
// flow, session introspection and the audit trail.
package api //nolint:revive // package name is intentional

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/blueberrycongee/supportgate/internal/auth"
	"github.com/blueberrycongee/supportgate/internal/metrics"
	"github.com/blueberrycongee/supportgate/internal/observability"
	gwerrors "github.com/blueberrycongee/supportgate/pkg/errors"
)

// Paths served by AuthHandler.
const (
	PathSignIn   = "/auth/signin"
	PathCallback = "/auth/callback"
	PathSession  = "/auth/session"
	PathRefresh  = "/auth/refresh"
	PathSignOut  = "/auth/signout"
)

// CallbackURLParam names the query parameter carrying the post-sign-in target.
const CallbackURLParam = "callbackUrl"

// AuthHandlerConfig configures an AuthHandler.
type AuthHandlerConfig struct {
	OIDC      auth.OIDCConfig
	Sessions  *auth.SessionManager
	SignIn    *auth.SignInService
	Redirects *auth.RedirectValidator
	Audit     *auth.AuditLogger
	// Limit wraps the sign-in entry points and refresh, typically with the
	// auth limiter class. Nil leaves them unlimited.
	Limit  func(http.Handler) http.Handler
	Logger *slog.Logger
}

// AuthHandler exposes session-based authentication endpoints.
type AuthHandler struct {
	logger      *slog.Logger
	sessions    *auth.SessionManager
	signIn      *auth.SignInService
	audit       *auth.AuditLogger
	limit       func(http.Handler) http.Handler
	redirects   atomic.Pointer[auth.RedirectValidator]
	oidcConfig  auth.OIDCConfig
	provider    *oidc.Provider
	verifier    *oidc.IDTokenVerifier
	oauthConfig oauth2.Config
}

// NewAuthHandler creates a new authentication handler. Provider discovery runs
// once here; an empty issuer leaves sign-in unconfigured (501) while session
// endpoints keep working.
func NewAuthHandler(ctx context.Context, cfg AuthHandlerConfig) (*AuthHandler, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("session manager is required")
	}
	if cfg.Redirects == nil {
		return nil, errors.New("redirect validator is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &AuthHandler{
		logger:     logger,
		sessions:   cfg.Sessions,
		signIn:     cfg.SignIn,
		audit:      cfg.Audit,
		limit:      cfg.Limit,
		oidcConfig: cfg.OIDC,
	}
	h.redirects.Store(cfg.Redirects)

	if cfg.OIDC.IssuerURL == "" {
		return h, nil
	}
	if cfg.OIDC.ClientID == "" {
		return nil, errors.New("oidc client id is required")
	}
	if cfg.SignIn == nil {
		return nil, errors.New("sign-in service is required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.OIDC.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("init oidc provider: %w", err)
	}

	scopes := cfg.OIDC.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	h.provider = provider
	h.verifier = provider.Verifier(&oidc.Config{ClientID: cfg.OIDC.ClientID})
	h.oauthConfig = oauth2.Config{
		ClientID:     cfg.OIDC.ClientID,
		ClientSecret: cfg.OIDC.ClientSecret,
		Endpoint:     provider.Endpoint(),
		Scopes:       scopes,
	}
	return h, nil
}

// SetRedirectValidator swaps the validator after a config reload.
func (h *AuthHandler) SetRedirectValidator(v *auth.RedirectValidator) {
	if v != nil {
		h.redirects.Store(v)
	}
}

// RedirectValidator returns the validator currently in use.
func (h *AuthHandler) RedirectValidator() *auth.RedirectValidator {
	return h.redirects.Load()
}

// RegisterRoutes registers authentication endpoints.
func (h *AuthHandler) RegisterRoutes(mux *http.ServeMux) {
	if mux == nil {
		return
	}

	mux.Handle("GET "+PathSignIn, h.limited(http.HandlerFunc(h.SignIn)))
	mux.Handle("GET "+PathCallback, h.limited(http.HandlerFunc(h.Callback)))
	mux.HandleFunc("GET "+PathSession, h.Session)
	mux.Handle("POST "+PathRefresh, h.limited(http.HandlerFunc(h.Refresh)))
	mux.HandleFunc("POST "+PathSignOut, h.SignOut)
	mux.HandleFunc("GET "+PathSignOut, h.SignOut)
}

func (h *AuthHandler) limited(next http.Handler) http.Handler {
	if h.limit == nil {
		return next
	}
	return h.limit(next)
}

// SignIn starts the auth code flow with PKCE. The callbackUrl is kept in the
// encrypted state cookie and validated only after sign-in completes.
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	if h.provider == nil {
		writeError(w, gwerrors.NewConfigurationError("oidc not configured"))
		return
	}

	stateToken, err := randomToken(32)
	if err != nil {
		writeError(w, gwerrors.NewInternalError("failed to generate state"))
		return
	}
	nonceToken, err := randomToken(32)
	if err != nil {
		writeError(w, gwerrors.NewInternalError("failed to generate nonce"))
		return
	}
	codeVerifier := oauth2.GenerateVerifier()

	if err := h.sessions.SetState(w, &auth.OIDCState{
		State:        stateToken,
		Nonce:        nonceToken,
		CodeVerifier: codeVerifier,
		Redirect:     strings.TrimSpace(r.URL.Query().Get(CallbackURLParam)),
	}); err != nil {
		h.logger.Error("failed to persist oidc state",
			"request_id", observability.RequestIDFromContext(r.Context()), "error", err)
		writeError(w, gwerrors.NewInternalError("failed to persist state"))
		return
	}

	oauthCfg := h.callbackOAuthConfig()
	authURL := oauthCfg.AuthCodeURL(stateToken, oidc.Nonce(nonceToken), oauth2.S256ChallengeOption(codeVerifier))
	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback completes the auth code flow: code exchange, ID token
// verification, team classification, session cookie and the validated
// redirect, in that order.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	if h.provider == nil {
		writeError(w, gwerrors.NewConfigurationError("oidc not configured"))
		return
	}
	ctx := r.Context()
	requestID := observability.RequestIDFromContext(ctx)

	query := r.URL.Query()
	if errCode := query.Get("error"); errCode != "" {
		message := errCode
		if desc := query.Get("error_description"); desc != "" {
			message = fmt.Sprintf("%s: %s", errCode, desc)
		}
		h.sessions.ClearState(w)
		h.audit.LogSignIn(r, "", false, message)
		writeError(w, gwerrors.NewAuthenticationError(message))
		return
	}

	code := query.Get("code")
	state := query.Get("state")
	if code == "" || state == "" {
		h.sessions.ClearState(w)
		writeError(w, gwerrors.NewInvalidRequestError("missing auth code or state"))
		return
	}

	stored, err := h.sessions.GetState(r)
	h.sessions.ClearState(w)
	if err != nil || subtle.ConstantTimeCompare([]byte(stored.State), []byte(state)) != 1 {
		h.logger.Warn("oidc state rejected", "request_id", requestID, "error", err)
		writeError(w, gwerrors.NewInvalidRequestError("invalid oidc state"))
		return
	}

	oauthCfg := h.callbackOAuthConfig()
	var exchangeOpts []oauth2.AuthCodeOption
	if stored.CodeVerifier != "" {
		exchangeOpts = append(exchangeOpts, oauth2.VerifierOption(stored.CodeVerifier))
	}
	oauthToken, err := oauthCfg.Exchange(ctx, code, exchangeOpts...)
	if err != nil {
		h.failSignIn(w, r, "", "failed to exchange auth code", err)
		return
	}

	rawIDToken, ok := oauthToken.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		h.failSignIn(w, r, "", "missing id token", nil)
		return
	}
	idToken, err := h.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		h.failSignIn(w, r, "", "invalid id token", err)
		return
	}
	if stored.Nonce != "" && subtle.ConstantTimeCompare([]byte(idToken.Nonce), []byte(stored.Nonce)) != 1 {
		h.failSignIn(w, r, "", "invalid nonce", nil)
		return
	}

	var claims auth.IDClaims
	if err := idToken.Claims(&claims); err != nil {
		h.failSignIn(w, r, "", "failed to parse claims", err)
		return
	}
	if claims.Email == "" {
		claims = h.withUserInfo(ctx, oauthToken, claims)
	}

	profile, err := claims.Profile()
	if err != nil {
		h.failSignIn(w, r, claims.Email, err.Error(), nil)
		return
	}

	token, signed, err := h.signIn.SignIn(ctx, profile)
	switch {
	case errors.Is(err, auth.ErrEmailDomainNotAllowed), errors.Is(err, auth.ErrEmailRequired):
		h.audit.LogSignIn(r, profile.Email, false, err.Error())
		writeError(w, gwerrors.NewPermissionError(err.Error()))
		return
	case err != nil:
		h.logger.Error("sign-in failed", "request_id", requestID, "error", err)
		h.audit.LogSignIn(r, profile.Email, false, "session issue failed")
		writeError(w, gwerrors.NewInternalError("failed to create session"))
		return
	}

	if err := h.sessions.Set(w, token, signed); err != nil {
		writeError(w, gwerrors.NewInternalError("failed to create session"))
		return
	}
	h.audit.LogSignIn(r, token.Email, true, "")

	http.Redirect(w, r, h.resolveRedirect(r, token.Email, stored.Redirect), http.StatusFound)
}

// Session returns the signed-in user's token, or 401.
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	token := auth.TokenFromContext(r.Context())
	if token == nil {
		writeError(w, gwerrors.NewAuthenticationError("authentication required"))
		return
	}
	writeJSON(h.logger, w, http.StatusOK, token)
}

// SessionResponse is a reissued session. Token is the signed value for
// clients that send it as a bearer token instead of a cookie.
type SessionResponse struct {
	*auth.AuthToken
	Token string `json:"token"`
}

// Refresh reissues the caller's session with freshly fetched teams.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	current := auth.TokenFromContext(r.Context())
	if current == nil {
		writeError(w, gwerrors.NewAuthenticationError("authentication required"))
		return
	}
	if h.signIn == nil {
		writeError(w, gwerrors.NewConfigurationError("sign-in not configured"))
		return
	}

	token, signed, err := h.signIn.Refresh(r.Context(), current)
	if err != nil {
		h.audit.LogTokenRefresh(r, current.Email, false, err.Error())
		if errors.Is(err, auth.ErrEmailDomainNotAllowed) {
			h.sessions.Clear(w)
			writeError(w, gwerrors.NewPermissionError(err.Error()))
			return
		}
		writeError(w, gwerrors.NewInternalError("failed to refresh session"))
		return
	}
	if err := h.sessions.Set(w, token, signed); err != nil {
		writeError(w, gwerrors.NewInternalError("failed to refresh session"))
		return
	}
	h.audit.LogTokenRefresh(r, token.Email, true, "")
	writeJSON(h.logger, w, http.StatusOK, SessionResponse{AuthToken: token, Token: signed})
}

// SignOut clears the session cookie. With a callbackUrl it redirects to the
// validated target; otherwise it answers with JSON.
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	email := auth.EmailFromRequest(r)
	h.sessions.Clear(w)
	h.sessions.ClearState(w)
	if email != "" {
		h.audit.LogSignOut(r, email)
	}

	if target := strings.TrimSpace(r.URL.Query().Get(CallbackURLParam)); target != "" {
		http.Redirect(w, r, h.resolveRedirect(r, email, target), http.StatusFound)
		return
	}
	writeJSON(h.logger, w, http.StatusOK, map[string]any{"success": true})
}

func (h *AuthHandler) failSignIn(w http.ResponseWriter, r *http.Request, email, message string, err error) {
	h.logger.Warn("sign-in rejected",
		"request_id", observability.RequestIDFromContext(r.Context()),
		"reason", message,
		"error", err,
	)
	metrics.SignIns.WithLabelValues(auth.SignInRejected).Inc()
	h.audit.LogSignIn(r, email, false, message)
	writeError(w, gwerrors.NewAuthenticationError(message))
}

// withUserInfo fills missing identity claims from the userinfo endpoint. A
// failure leaves the claims unchanged; Profile then rejects the sign-in.
func (h *AuthHandler) withUserInfo(ctx context.Context, token *oauth2.Token, claims auth.IDClaims) auth.IDClaims {
	info, err := h.provider.UserInfo(ctx, oauth2.StaticTokenSource(token))
	if err != nil {
		h.logger.Warn("userinfo lookup failed",
			"request_id", observability.RequestIDFromContext(ctx), "error", err)
		return claims
	}
	var extra auth.IDClaims
	if err := info.Claims(&extra); err != nil {
		return claims
	}
	if extra.Email == "" {
		extra.Email = info.Email
	}
	return claims.Merge(extra)
}

// resolveRedirect validates target and audits targets that had to fall back
// to the base URL.
func (h *AuthHandler) resolveRedirect(r *http.Request, email, target string) string {
	v := h.redirects.Load()
	if target == "" {
		return v.Base()
	}
	resolved, outcome := v.Resolve(target)
	if outcome == metrics.OutcomeFallback {
		h.logger.Info("redirect target rejected",
			"request_id", observability.RequestIDFromContext(r.Context()))
		h.audit.LogRedirectDenied(r, email, target)
	}
	return resolved
}

func (h *AuthHandler) callbackOAuthConfig() *oauth2.Config {
	cfg := h.oauthConfig
	cfg.RedirectURL = h.callbackURL()
	return &cfg
}

// callbackURL is the configured redirect URL, else the callback path on the
// trusted base URL. The request Host is never used.
func (h *AuthHandler) callbackURL() string {
	if h.oidcConfig.RedirectURL != "" {
		return h.oidcConfig.RedirectURL
	}
	return h.redirects.Load().Base() + PathCallback
}

func randomToken(size int) (string, error) {
	if size <= 0 {
		return "", errors.New("size must be positive")
	}
	raw := make([]byte, size)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
