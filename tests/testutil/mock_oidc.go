package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// MockClientID is the audience of tokens minted by MockOIDCProvider.
const MockClientID = "supportgate-client-id"

// MockOIDCProvider simulates an OIDC provider for testing. Its /auth endpoint
// approves every request immediately, so a client that follows redirects
// completes the whole code flow.
type MockOIDCProvider struct {
	server              *httptest.Server
	privateKey          *rsa.PrivateKey
	signer              jose.Signer
	issuer              string
	tokenClaims         map[string]interface{}
	requireCodeVerifier bool
	codes               map[string]authorization
	mu                  sync.RWMutex
}

type authorization struct {
	nonce     string
	challenge string
}

// NewMockOIDCProvider creates a new mock OIDC provider.
func NewMockOIDCProvider() (*MockOIDCProvider, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: privateKey},
		(&jose.SignerOptions{}).WithHeader("kid", "test-key"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}

	p := &MockOIDCProvider{
		privateKey: privateKey,
		signer:     signer,
		codes:      make(map[string]authorization),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", p.handleDiscovery)
	mux.HandleFunc("/keys", p.handleJWKS)
	mux.HandleFunc("/auth", p.handleAuthorize)
	mux.HandleFunc("/token", p.handleToken)

	p.server = httptest.NewServer(mux)
	p.issuer = p.server.URL

	return p, nil
}

// URL returns the provider's base URL.
func (p *MockOIDCProvider) URL() string {
	return p.server.URL
}

// Close shuts down the provider.
func (p *MockOIDCProvider) Close() {
	p.server.Close()
}

// SetTokenClaims configures the claims returned from the token endpoint.
func (p *MockOIDCProvider) SetTokenClaims(claims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenClaims = claims
}

// RequireCodeVerifier enforces PKCE validation in the token endpoint.
func (p *MockOIDCProvider) RequireCodeVerifier() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requireCodeVerifier = true
}

// SignToken creates a signed JWT with the given claims.
func (p *MockOIDCProvider) SignToken(claims map[string]interface{}) (string, error) {
	if _, ok := claims["iss"]; !ok {
		claims["iss"] = p.issuer
	}
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(time.Hour).Unix()
	}
	if _, ok := claims["iat"]; !ok {
		claims["iat"] = time.Now().Unix()
	}
	if _, ok := claims["aud"]; !ok {
		claims["aud"] = MockClientID
	}

	return jwt.Signed(p.signer).Claims(claims).Serialize()
}

func (p *MockOIDCProvider) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	config := map[string]interface{}{
		"issuer":                 p.issuer,
		"authorization_endpoint": p.issuer + "/auth",
		"token_endpoint":         p.issuer + "/token",
		"jwks_uri":               p.issuer + "/keys",
		"response_types_supported": []string{
			"code",
		},
		"subject_types_supported": []string{
			"public",
		},
		"id_token_signing_alg_values_supported": []string{
			"RS256",
		},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(config)
}

func (p *MockOIDCProvider) handleJWKS(w http.ResponseWriter, r *http.Request) {
	jwk := jose.JSONWebKey{
		Key:       &p.privateKey.PublicKey,
		KeyID:     "test-key",
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}})
}

func (p *MockOIDCProvider) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	redirectURI, err := url.Parse(q.Get("redirect_uri"))
	if err != nil || redirectURI.Host == "" {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}

	code := fmt.Sprintf("code-%d", time.Now().UnixNano())
	p.mu.Lock()
	p.codes[code] = authorization{nonce: q.Get("nonce"), challenge: q.Get("code_challenge")}
	p.mu.Unlock()

	back := redirectURI.Query()
	back.Set("code", code)
	back.Set("state", q.Get("state"))
	redirectURI.RawQuery = back.Encode()
	http.Redirect(w, r, redirectURI.String(), http.StatusFound)
}

func (p *MockOIDCProvider) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	p.mu.Lock()
	requireVerifier := p.requireCodeVerifier
	authz, known := p.codes[r.FormValue("code")]
	delete(p.codes, r.FormValue("code"))
	p.mu.Unlock()

	verifier := r.FormValue("code_verifier")
	if requireVerifier && verifier == "" {
		http.Error(w, "missing code_verifier", http.StatusBadRequest)
		return
	}
	if known && authz.challenge != "" && s256(verifier) != authz.challenge {
		http.Error(w, "code_verifier mismatch", http.StatusBadRequest)
		return
	}

	claims := map[string]interface{}{
		"sub":   "user-1",
		"email": "user@example.com",
	}
	if known && authz.nonce != "" {
		claims["nonce"] = authz.nonce
	}
	p.mu.RLock()
	for k, v := range p.tokenClaims {
		claims[k] = v
	}
	p.mu.RUnlock()

	idToken, err := p.SignToken(claims)
	if err != nil {
		http.Error(w, "failed to sign token", http.StatusInternalServerError)
		return
	}

	resp := map[string]interface{}{
		"access_token": "access-token",
		"id_token":     idToken,
		"token_type":   "Bearer",
		"expires_in":   3600,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func s256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
