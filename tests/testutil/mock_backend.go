package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
)

// MockTeam is a team as the mock backend serializes it.
type MockTeam struct {
	Label string   `json:"label"`
	Code  string   `json:"code"`
	Types []string `json:"types"`
}

// EchoResponse is what the mock backend returns for proxied /api/ requests.
type EchoResponse struct {
	Method        string            `json:"method"`
	Path          string            `json:"path"`
	Authorization string            `json:"authorization"`
	Headers       map[string]string `json:"headers"`
	Cookies       []string          `json:"cookies"`
}

// MockBackend simulates the ticketing backend: the two team lookups used at
// sign-in plus an echo endpoint for proxied API calls.
type MockBackend struct {
	server      *httptest.Server
	mu          sync.RWMutex
	userTeams   map[string][]MockTeam
	roster      []MockTeam
	failLookups atomic.Bool
	rosterCalls atomic.Int32
	apiCalls    atomic.Int32
}

// NewMockBackend starts a mock backend.
func NewMockBackend() *MockBackend {
	b := &MockBackend{userTeams: make(map[string][]MockTeam)}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /user", b.handleUser)
	mux.HandleFunc("GET /team", b.handleTeam)
	mux.HandleFunc("/api/", b.handleEcho)
	b.server = httptest.NewServer(mux)
	return b
}

// URL returns the backend's base URL.
func (b *MockBackend) URL() string {
	return b.server.URL
}

// Close shuts down the backend.
func (b *MockBackend) Close() {
	b.server.Close()
}

// SetUserTeams configures the teams returned for email.
func (b *MockBackend) SetUserTeams(email string, teams ...MockTeam) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.userTeams[strings.ToLower(email)] = teams
}

// SetRoster configures the escalation roster.
func (b *MockBackend) SetRoster(teams ...MockTeam) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.roster = teams
}

// FailLookups makes /user and /team answer 503.
func (b *MockBackend) FailLookups(fail bool) {
	b.failLookups.Store(fail)
}

// RosterCalls returns how many times the roster was fetched.
func (b *MockBackend) RosterCalls() int {
	return int(b.rosterCalls.Load())
}

// APICalls returns how many proxied requests reached the backend.
func (b *MockBackend) APICalls() int {
	return int(b.apiCalls.Load())
}

func (b *MockBackend) handleUser(w http.ResponseWriter, r *http.Request) {
	if b.failLookups.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	b.mu.RLock()
	teams := b.userTeams[strings.ToLower(r.URL.Query().Get("email"))]
	b.mu.RUnlock()
	if teams == nil {
		teams = []MockTeam{}
	}
	writeMockJSON(w, map[string]any{"teams": teams})
}

func (b *MockBackend) handleTeam(w http.ResponseWriter, r *http.Request) {
	b.rosterCalls.Add(1)
	if b.failLookups.Load() || r.URL.Query().Get("type") != "escalation" {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	b.mu.RLock()
	roster := b.roster
	b.mu.RUnlock()
	if roster == nil {
		roster = []MockTeam{}
	}
	writeMockJSON(w, roster)
}

func (b *MockBackend) handleEcho(w http.ResponseWriter, r *http.Request) {
	b.apiCalls.Add(1)
	resp := EchoResponse{
		Method:        r.Method,
		Path:          r.URL.Path,
		Authorization: r.Header.Get("Authorization"),
		Headers:       make(map[string]string),
		Cookies:       []string{},
	}
	for name := range r.Header {
		if strings.HasPrefix(name, "X-") {
			resp.Headers[name] = r.Header.Get(name)
		}
	}
	for _, c := range r.Cookies() {
		resp.Cookies = append(resp.Cookies, c.Name)
	}
	writeMockJSON(w, resp)
}

func writeMockJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
