package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouteLabel_DropsIdentifiers(t *testing.T) {
	assert.Equal(t, "/api/tickets", routeLabel("/api/tickets/12345/comments"))
	assert.Equal(t, "/auth/signin", routeLabel("/auth/signin"))
	assert.Equal(t, "/healthz", routeLabel("/healthz"))
	assert.Equal(t, "/", routeLabel("/"))
}

func TestSanitizeLabel_ReplacesInvalidChars(t *testing.T) {
	got := sanitizeLabel("team:Tier 1\n\t🚨")
	if strings.ContainsAny(got, "\n\t ") {
		t.Fatalf("sanitizeLabel contains whitespace: %q", got)
	}
	assert.NotEqual(t, "unknown", got)
}

func TestSanitizeLabel_CapsLength(t *testing.T) {
	got := sanitizeLabel(strings.Repeat("a", maxLabelLen+50))
	assert.Len(t, got, maxLabelLen)
}

func TestSanitizeLabel_EmptyFallback(t *testing.T) {
	assert.Equal(t, "unknown", sanitizeLabel("   "))
}

func TestMiddleware_RecordsStatus(t *testing.T) {
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	before := testutil.CollectAndCount(HTTPRequestDuration)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/dashboard/weekly", nil))

	require.Equal(t, http.StatusTeapot, rec.Code)
	require.GreaterOrEqual(t, testutil.CollectAndCount(HTTPRequestDuration), before)
	require.GreaterOrEqual(t, testutil.CollectAndCount(HTTPRequestDuration, "supportgate_http_request_duration_seconds"), 1)
}

func TestRecordRateLimitDecision(t *testing.T) {
	before := testutil.ToFloat64(RateLimitDecisions.WithLabelValues("analytics", OutcomeDenied))
	RecordRateLimitDecision("analytics", false)
	after := testutil.ToFloat64(RateLimitDecisions.WithLabelValues("analytics", OutcomeDenied))
	assert.Equal(t, before+1, after)
}
