//nolint:bodyclose // test code - response bodies are handled appropriately
package e2e

import (
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/supportgate/internal/observability"
	gwerrors "github.com/blueberrycongee/supportgate/pkg/errors"
	"github.com/blueberrycongee/supportgate/tests/testutil"
)

func TestSmoke_ServerStarts(t *testing.T) {
	// Server is already started in TestMain
	assert.NotEmpty(t, testServer.URL(), "server URL should not be empty")
}

func TestSmoke_HealthCheck(t *testing.T) {
	client := testServer.Client()
	for _, path := range []string{"/health/live", "/health/ready"} {
		t.Run(path, func(t *testing.T) {
			resp := do(t, testServer, client, http.MethodGet, path, "")
			testutil.RequireStatusOK(t, resp)
		})
	}
}

func TestSmoke_MetricsEndpoint(t *testing.T) {
	resp := do(t, testServer, testServer.Client(), http.MethodGet, "/metrics", "")
	testutil.RequireStatusOK(t, resp)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	// Verify Prometheus format
	assert.Contains(t, string(body), "# HELP", "metrics should contain HELP comments")
	assert.Contains(t, string(body), "# TYPE", "metrics should contain TYPE comments")
}

func TestSmoke_AnonymousSessionRejected(t *testing.T) {
	resp := do(t, testServer, testServer.Client(), http.MethodGet, "/auth/session", "")
	testutil.AssertErrorType(t, resp, http.StatusUnauthorized, gwerrors.TypeAuthentication)
}

func TestSmoke_RequestIDEchoed(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, testServer.URL()+"/health/live", http.NoBody)
	require.NoError(t, err)
	req.Header.Set(observability.RequestIDHeader, "smoke-req-1")

	resp, err := testServer.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "smoke-req-1", resp.Header.Get(observability.RequestIDHeader))
}

func TestSmoke_SignInWithoutOIDC(t *testing.T) {
	resp := do(t, testServer, testServer.Client(), http.MethodGet, "/auth/signin", "")
	testutil.AssertErrorType(t, resp, http.StatusNotImplemented, gwerrors.TypeConfiguration)
}
