package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSessionSecret = "test-session-secret-with-enough-entropy"

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestSessions(t *testing.T, clock *testClock) *SessionManager {
	t.Helper()
	m, err := NewSessionManager(SessionManagerConfig{
		Secret:       testSessionSecret,
		CookieSecure: true,
		Now:          clock.Now,
	})
	require.NoError(t, err)
	return m
}

func issueSample(t *testing.T, m *SessionManager) (*AuthToken, string) {
	t.Helper()
	name := "Lee Lead"
	token, signed, err := m.Issue(AuthToken{
		Email: "lead@example.com",
		Name:  &name,
		Teams: []ProcessedTeam{
			{Name: "execs", Types: []string{"leadership"}, GroupRefs: []string{"g-9"}},
		},
		IsLeadership: true,
	})
	require.NoError(t, err)
	return token, signed
}

func TestSessionManager_IssueAndParse(t *testing.T) {
	clock := newTestClock()
	m := newTestSessions(t, clock)

	issued, signed := issueSample(t, m)
	assert.NotEmpty(t, issued.ID)
	assert.Equal(t, clock.Now(), issued.IssuedAt)
	assert.Equal(t, clock.Now().Add(24*time.Hour), issued.ExpiresAt)
	assert.Equal(t, []string{}, issued.Teams[0].GroupRefs, "issued token matches what the wire carries")

	parsed, err := m.Parse(signed)
	require.NoError(t, err)
	assert.Equal(t, issued, parsed)
	require.NotNil(t, parsed.Name)
	assert.Equal(t, "Lee Lead", *parsed.Name)
}

func TestSessionManager_ClaimsLayout(t *testing.T) {
	m := newTestSessions(t, newTestClock())
	_, signed := issueSample(t, m)

	claims := jwt.MapClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(signed, claims)
	require.NoError(t, err)

	assert.Equal(t, "lead@example.com", claims["email"])
	assert.Equal(t, "lead@example.com", claims["sub"])
	assert.Equal(t, float64(TokenSchemaVersion), claims["ver"])
	assert.Equal(t, true, claims["isLeadership"])
	assert.Equal(t, []any{map[string]any{"n": "execs", "t": []any{"leadership"}}}, claims["minTeams"])
	assert.NotContains(t, claims, "groupRefs")
	for _, k := range []string{"iat", "exp", "jti"} {
		assert.Contains(t, claims, k)
	}
}

func TestSessionManager_NullName(t *testing.T) {
	m := newTestSessions(t, newTestClock())
	_, signed, err := m.Issue(AuthToken{Email: "anon@example.com"})
	require.NoError(t, err)

	parsed, err := m.Parse(signed)
	require.NoError(t, err)
	assert.Nil(t, parsed.Name)
	assert.Empty(t, parsed.Teams)
}

func TestSessionManager_FixedLifetime(t *testing.T) {
	clock := newTestClock()
	m := newTestSessions(t, clock)
	_, signed := issueSample(t, m)

	clock.Advance(23 * time.Hour)
	_, err := m.Parse(signed)
	require.NoError(t, err)

	clock.Advance(time.Hour + time.Second)
	_, err = m.Parse(signed)
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestSessionManager_RejectsForgedTokens(t *testing.T) {
	clock := newTestClock()
	m := newTestSessions(t, clock)
	_, signed := issueSample(t, m)

	sign := func(method jwt.SigningMethod, key any, claims SessionClaims) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}
	valid := func() SessionClaims {
		return SessionClaims{
			Email:        "lead@example.com",
			IsLeadership: true,
			Version:      TokenSchemaVersion,
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    sessionIssuer,
				Subject:   "lead@example.com",
				IssuedAt:  jwt.NewNumericDate(clock.Now()),
				ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
			},
		}
	}

	futureVersion := valid()
	futureVersion.Version = TokenSchemaVersion + 1
	noExpiry := valid()
	noExpiry.ExpiresAt = nil
	otherIssuer := valid()
	otherIssuer.Issuer = "someone-else"
	noEmail := valid()
	noEmail.Email = ""

	// Original header and signature around another token's payload.
	parts := strings.Split(signed, ".")
	foreign := strings.Split(sign(jwt.SigningMethodHS256, []byte("another-secret"), valid()), ".")
	tampered := parts[0] + "." + foreign[1] + "." + parts[2]

	tests := map[string]string{
		"tampered":        tampered,
		"wrong key":       sign(jwt.SigningMethodHS256, []byte("another-secret"), valid()),
		"alg none":        sign(jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, valid()),
		"hs512":           sign(jwt.SigningMethodHS512, []byte(testSessionSecret), valid()),
		"unknown version": sign(jwt.SigningMethodHS256, []byte(testSessionSecret), futureVersion),
		"no expiry":       sign(jwt.SigningMethodHS256, []byte(testSessionSecret), noExpiry),
		"other issuer":    sign(jwt.SigningMethodHS256, []byte(testSessionSecret), otherIssuer),
		"no email":        sign(jwt.SigningMethodHS256, []byte(testSessionSecret), noEmail),
		"garbage":         "not-a-jwt",
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := m.Parse(raw)
			assert.ErrorIs(t, err, ErrSessionInvalid)
		})
	}

	_, err := m.Parse("  ")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionManager_CookieAndBearer(t *testing.T) {
	m := newTestSessions(t, newTestClock())
	issued, signed := issueSample(t, m)

	rec := httptest.NewRecorder()
	require.NoError(t, m.Set(rec, issued, signed))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "supportgate_session", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, cookies[0].Secure)
	assert.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)
	assert.Equal(t, int((24 * time.Hour).Seconds()), cookies[0].MaxAge)

	req := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
	req.AddCookie(cookies[0])
	got, err := m.Get(req)
	require.NoError(t, err)
	assert.Equal(t, issued.Email, got.Email)
	assert.True(t, m.HasCookie(req))

	req = httptest.NewRequest(http.MethodGet, "/api/tickets", nil)
	req.Header.Set("Authorization", "bearer "+signed)
	got, err = m.Get(req)
	require.NoError(t, err)
	assert.Equal(t, issued.ID, got.ID)
	assert.False(t, m.HasCookie(req))

	req = httptest.NewRequest(http.MethodGet, "/api/tickets", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	_, err = m.Get(req)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = m.Get(nil)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionManager_Clear(t *testing.T) {
	m := newTestSessions(t, newTestClock())
	rec := httptest.NewRecorder()
	m.Clear(rec)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "supportgate_session", cookies[0].Name)
	assert.Equal(t, -1, cookies[0].MaxAge)
	assert.Empty(t, cookies[0].Value)
}

func TestSessionManager_IssueRequiresEmail(t *testing.T) {
	m := newTestSessions(t, newTestClock())
	_, _, err := m.Issue(AuthToken{Email: " "})
	assert.Error(t, err)
}

func TestNewSessionManager_RequiresSecret(t *testing.T) {
	_, err := NewSessionManager(SessionManagerConfig{Secret: "  "})
	assert.Error(t, err)
}

func TestSessionManager_StateRoundTrip(t *testing.T) {
	clock := newTestClock()
	m := newTestSessions(t, clock)

	rec := httptest.NewRecorder()
	require.NoError(t, m.SetState(rec, &OIDCState{
		State:        "state-1",
		Nonce:        "nonce-1",
		CodeVerifier: "verifier",
		Redirect:     "/tickets",
	}))

	req := httptest.NewRequest(http.MethodGet, "/auth/callback", nil)
	for _, c := range rec.Result().Cookies() {
		assert.Equal(t, "supportgate_oidc_state", c.Name)
		req.AddCookie(c)
	}

	state, err := m.GetState(req)
	require.NoError(t, err)
	assert.Equal(t, "state-1", state.State)
	assert.Equal(t, "nonce-1", state.Nonce)
	assert.Equal(t, "verifier", state.CodeVerifier)
	assert.Equal(t, "/tickets", state.Redirect)

	clock.Advance(11 * time.Minute)
	_, err = m.GetState(req)
	assert.ErrorIs(t, err, ErrStateExpired)
}

func TestSessionManager_StateErrors(t *testing.T) {
	m := newTestSessions(t, newTestClock())

	req := httptest.NewRequest(http.MethodGet, "/auth/callback", nil)
	_, err := m.GetState(req)
	assert.ErrorIs(t, err, ErrStateNotFound)

	req.AddCookie(&http.Cookie{Name: "supportgate_oidc_state", Value: "bogus"})
	_, err = m.GetState(req)
	assert.ErrorIs(t, err, ErrStateInvalid)

	other, err := NewSessionManager(SessionManagerConfig{Secret: "different-secret"})
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	require.NoError(t, other.SetState(rec, &OIDCState{State: "s"}))
	req = httptest.NewRequest(http.MethodGet, "/auth/callback", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	_, err = m.GetState(req)
	assert.True(t, errors.Is(err, ErrStateInvalid))
}
