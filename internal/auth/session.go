package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultSessionCookieName = "supportgate_session"
	defaultStateCookieName   = "supportgate_oidc_state"
	defaultSessionTTL        = 24 * time.Hour
	defaultStateTTL          = 10 * time.Minute
	sessionIssuer            = "supportgate"
)

// SessionClaims is the JWT payload of a session token.
type SessionClaims struct {
	Email             string         `json:"email"`
	Name              *string        `json:"name"`
	MinTeams          []MinifiedTeam `json:"minTeams"`
	IsLeadership      bool           `json:"isLeadership"`
	IsEscalation      bool           `json:"isEscalation"`
	IsSupportEngineer bool           `json:"isSupportEngineer"`
	Version           int            `json:"ver"`
	jwt.RegisteredClaims
}

// OIDCState stores temporary state for the OIDC auth code flow.
type OIDCState struct {
	State        string    `json:"state"`
	Nonce        string    `json:"nonce"`
	CodeVerifier string    `json:"code_verifier,omitempty"`
	Redirect     string    `json:"redirect,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// SessionManagerConfig configures session tokens and their cookies.
type SessionManagerConfig struct {
	Secret          string
	CookieName      string
	StateCookieName string
	CookieDomain    string
	CookiePath      string
	CookieSecure    bool
	CookieSameSite  string
	TTL             time.Duration
	StateTTL        time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// SessionManager issues and verifies HS256 session tokens. The token travels
// in a cookie for browsers or as a bearer token for API clients. It also owns
// the short-lived, encrypted OIDC state cookie.
type SessionManager struct {
	key             []byte
	codec           *cookieCodec
	cookieName      string
	stateCookieName string
	domain          string
	path            string
	secure          bool
	sameSite        http.SameSite
	ttl             time.Duration
	stateTTL        time.Duration
	now             func() time.Time
}

// Session errors for control flow decisions.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
	ErrSessionInvalid  = errors.New("session invalid")
	ErrStateNotFound   = errors.New("state not found")
	ErrStateExpired    = errors.New("state expired")
	ErrStateInvalid    = errors.New("state invalid")
)

// NewSessionManager creates a new session manager.
func NewSessionManager(cfg SessionManagerConfig) (*SessionManager, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("session secret is required")
	}

	codec, err := newCookieCodec(cfg.Secret)
	if err != nil {
		return nil, err
	}

	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		cookieName = defaultSessionCookieName
	}

	stateCookieName := strings.TrimSpace(cfg.StateCookieName)
	if stateCookieName == "" {
		stateCookieName = defaultStateCookieName
	}

	cookiePath := strings.TrimSpace(cfg.CookiePath)
	if cookiePath == "" {
		cookiePath = "/"
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}

	stateTTL := cfg.StateTTL
	if stateTTL <= 0 {
		stateTTL = defaultStateTTL
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &SessionManager{
		key:             []byte(cfg.Secret),
		codec:           codec,
		cookieName:      cookieName,
		stateCookieName: stateCookieName,
		domain:          strings.TrimSpace(cfg.CookieDomain),
		path:            cookiePath,
		secure:          cfg.CookieSecure,
		sameSite:        parseSameSite(cfg.CookieSameSite),
		ttl:             ttl,
		stateTTL:        stateTTL,
		now:             now,
	}, nil
}

// CookieNames returns the session and state cookie names.
func (m *SessionManager) CookieNames() []string {
	return []string{m.cookieName, m.stateCookieName}
}

// TTL returns the fixed session lifetime.
func (m *SessionManager) TTL() time.Duration {
	return m.ttl
}

// Issue stamps a copy of token with an ID and a fixed lifetime starting now,
// and signs it. The returned token is what the signed string decodes to.
func (m *SessionManager) Issue(token AuthToken) (*AuthToken, string, error) {
	if strings.TrimSpace(token.Email) == "" {
		return nil, "", errors.New("session email is required")
	}

	now := m.now().UTC().Truncate(time.Second)
	token.ID = uuid.NewString()
	token.IssuedAt = now
	token.ExpiresAt = now.Add(m.ttl)
	token.Teams = RehydrateTeams(MinifyTeams(token.Teams))

	claims := SessionClaims{
		Email:             token.Email,
		Name:              token.Name,
		MinTeams:          MinifyTeams(token.Teams),
		IsLeadership:      token.IsLeadership,
		IsEscalation:      token.IsEscalation,
		IsSupportEngineer: token.IsSupportEngineer,
		Version:           TokenSchemaVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   token.Email,
			ID:        token.ID,
			IssuedAt:  jwt.NewNumericDate(token.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(token.ExpiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return nil, "", fmt.Errorf("sign session: %w", err)
	}
	return &token, signed, nil
}

// Parse verifies a signed session token and rehydrates it.
func (m *SessionManager) Parse(raw string) (*AuthToken, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrSessionNotFound
	}

	var claims SessionClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return m.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrSessionExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrSessionInvalid, err)
	}
	if claims.Version != TokenSchemaVersion {
		return nil, fmt.Errorf("%w: unsupported token version %d", ErrSessionInvalid, claims.Version)
	}
	if strings.TrimSpace(claims.Email) == "" {
		return nil, fmt.Errorf("%w: missing email", ErrSessionInvalid)
	}

	token := &AuthToken{
		ID:                claims.ID,
		Email:             claims.Email,
		Name:              claims.Name,
		Teams:             RehydrateTeams(claims.MinTeams),
		IsLeadership:      claims.IsLeadership,
		IsEscalation:      claims.IsEscalation,
		IsSupportEngineer: claims.IsSupportEngineer,
		ExpiresAt:         claims.ExpiresAt.UTC(),
	}
	if claims.IssuedAt != nil {
		token.IssuedAt = claims.IssuedAt.UTC()
	}
	return token, nil
}

// Set writes the session cookie for a token returned by Issue.
func (m *SessionManager) Set(w http.ResponseWriter, token *AuthToken, signed string) error {
	if w == nil {
		return errors.New("response writer is nil")
	}
	if token == nil || signed == "" {
		return errors.New("session is empty")
	}
	http.SetCookie(w, m.buildCookie(m.cookieName, signed, token.ExpiresAt))
	return nil
}

// Get reads the session from the cookie, falling back to an
// "Authorization: Bearer" header.
func (m *SessionManager) Get(r *http.Request) (*AuthToken, error) {
	if r == nil {
		return nil, ErrSessionNotFound
	}

	if cookie, err := r.Cookie(m.cookieName); err == nil {
		return m.Parse(cookie.Value)
	}
	if raw, ok := bearerToken(r); ok {
		return m.Parse(raw)
	}
	return nil, ErrSessionNotFound
}

// HasCookie reports whether r carries the session cookie at all.
func (m *SessionManager) HasCookie(r *http.Request) bool {
	if r == nil {
		return false
	}
	_, err := r.Cookie(m.cookieName)
	return err == nil
}

// Clear removes the session cookie.
func (m *SessionManager) Clear(w http.ResponseWriter) {
	if w == nil {
		return
	}
	cookie := m.buildCookie(m.cookieName, "", time.Time{})
	cookie.MaxAge = -1
	http.SetCookie(w, cookie)
}

// SetState writes the OIDC state cookie.
func (m *SessionManager) SetState(w http.ResponseWriter, state *OIDCState) error {
	if w == nil {
		return errors.New("response writer is nil")
	}
	if state == nil {
		return errors.New("state is nil")
	}

	if state.ExpiresAt.IsZero() {
		state.ExpiresAt = m.now().Add(m.stateTTL)
	}

	value, err := m.codec.encode(state)
	if err != nil {
		return err
	}

	http.SetCookie(w, m.buildCookie(m.stateCookieName, value, state.ExpiresAt))
	return nil
}

// GetState reads the OIDC state cookie.
func (m *SessionManager) GetState(r *http.Request) (*OIDCState, error) {
	if r == nil {
		return nil, ErrStateNotFound
	}

	cookie, err := r.Cookie(m.stateCookieName)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return nil, ErrStateNotFound
		}
		return nil, ErrStateInvalid
	}

	var state OIDCState
	if err := m.codec.decode(cookie.Value, &state); err != nil {
		return nil, ErrStateInvalid
	}

	if state.ExpiresAt.IsZero() {
		return nil, ErrStateInvalid
	}
	if m.now().After(state.ExpiresAt) {
		return nil, ErrStateExpired
	}

	return &state, nil
}

// ClearState removes the OIDC state cookie.
func (m *SessionManager) ClearState(w http.ResponseWriter) {
	if w == nil {
		return
	}
	cookie := m.buildCookie(m.stateCookieName, "", time.Time{})
	cookie.MaxAge = -1
	http.SetCookie(w, cookie)
}

func (m *SessionManager) buildCookie(name, value string, expiresAt time.Time) *http.Cookie {
	cookie := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     m.path,
		Domain:   m.domain,
		Secure:   m.secure,
		HttpOnly: true,
		SameSite: m.sameSite,
	}
	if !expiresAt.IsZero() {
		cookie.Expires = expiresAt
		cookie.MaxAge = int(expiresAt.Sub(m.now()).Seconds())
		if cookie.MaxAge <= 0 {
			cookie.MaxAge = -1
		}
	}
	return cookie
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func parseSameSite(value string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

type cookieCodec struct {
	aead cipher.AEAD
}

func newCookieCodec(secret string) (*cookieCodec, error) {
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return &cookieCodec{aead: aead}, nil
}

func (c *cookieCodec) encode(value any) (string, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := c.aead.Seal(nil, nonce, payload, nil)
	token := make([]byte, 0, len(nonce)+len(ciphertext))
	token = append(token, nonce...)
	token = append(token, ciphertext...)
	return base64.RawURLEncoding.EncodeToString(token), nil
}

func (c *cookieCodec) decode(token string, out any) error {
	if strings.TrimSpace(token) == "" {
		return errors.New("empty token")
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return fmt.Errorf("decode token: %w", err)
	}
	if len(raw) < c.aead.NonceSize() {
		return errors.New("token too short")
	}

	nonce := raw[:c.aead.NonceSize()]
	ciphertext := raw[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return fmt.Errorf("decrypt token: %w", err)
	}

	if err := json.Unmarshal(plaintext, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
