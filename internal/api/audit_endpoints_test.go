package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/supportgate/internal/auth"
)

var auditNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newAuditFixture(t *testing.T) (*AuditLogHandler, *auth.MemoryAuditStore) {
	t.Helper()
	store := auth.NewMemoryAuditStore()
	events := []*auth.AuditEvent{
		{ID: "1", Timestamp: auditNow.Add(-time.Hour), ActorEmail: "a@example.com", Action: auth.AuditActionSignIn, Success: true},
		{ID: "2", Timestamp: auditNow.Add(-2 * time.Hour), ActorEmail: "a@example.com", Action: auth.AuditActionAccessDenied},
		{ID: "3", Timestamp: auditNow.Add(-3 * time.Hour), ActorEmail: "b@example.com", Action: auth.AuditActionSignInFailed},
		{ID: "4", Timestamp: auditNow.Add(-60 * 24 * time.Hour), ActorEmail: "c@example.com", Action: auth.AuditActionSignIn, Success: true},
	}
	for _, e := range events {
		require.NoError(t, store.CreateAuditEvent(context.Background(), e))
	}
	h := NewAuditLogHandler(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.now = func() time.Time { return auditNow }
	return h, store
}

func TestListAuditEvents_Filters(t *testing.T) {
	h, _ := newAuditFixture(t)

	tests := []struct {
		name      string
		query     string
		wantTotal int
		wantLen   int
	}{
		{"all", "", 4, 4},
		{"by actor", "actor_email=a@example.com", 2, 2},
		{"by action", "action=sign_in", 2, 2},
		{"failures", "success=false", 2, 2},
		{"window", "start_time=2026-03-10T09:30:00Z", 2, 2},
		{"paged", "limit=1&offset=1", 4, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ListAuditEvents(rec, httptest.NewRequest(http.MethodGet, "/audit/events?"+tt.query, nil))
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			var body struct {
				Events []auth.AuditEvent `json:"events"`
				Total  int               `json:"total"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantTotal, body.Total)
			assert.Len(t, body.Events, tt.wantLen)
		})
	}
}

func TestListAuditEvents_InvalidQuery(t *testing.T) {
	h, _ := newAuditFixture(t)

	for _, q := range []string{"limit=0", "limit=abc", "offset=-1", "success=maybe", "start_time=yesterday", "end_time=1700000000"} {
		t.Run(q, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ListAuditEvents(rec, httptest.NewRequest(http.MethodGet, "/audit/events?"+q, nil))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestListAuditEvents_CapsPageSize(t *testing.T) {
	h, _ := newAuditFixture(t)

	rec := httptest.NewRecorder()
	h.ListAuditEvents(rec, httptest.NewRequest(http.MethodGet, "/audit/events?limit=100000", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Limit int `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, maxAuditPageSize, body.Limit)
}

func TestGetAuditStats_DefaultWindow(t *testing.T) {
	h, _ := newAuditFixture(t)

	rec := httptest.NewRecorder()
	h.GetAuditStats(rec, httptest.NewRequest(http.MethodGet, "/audit/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Stats     auth.AuditStats `json:"stats"`
		StartTime string          `json:"start_time"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 3, body.Stats.TotalEvents, "the 60-day-old event is outside the last 24h")
	assert.EqualValues(t, 1, body.Stats.SuccessCount)
	assert.Equal(t, auditNow.Add(-24*time.Hour).Format(time.RFC3339), body.StartTime)
}

func TestDeleteAuditEvents(t *testing.T) {
	h, store := newAuditFixture(t)

	rec := httptest.NewRecorder()
	h.DeleteAuditEvents(rec, httptest.NewRequest(http.MethodPost, "/audit/delete", strings.NewReader(`{"older_than_days":30}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		DeletedCount int64  `json:"deleted_count"`
		CutoffDate   string `json:"cutoff_date"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 1, body.DeletedCount)
	assert.Equal(t, "2026-02-08T12:00:00Z", body.CutoffDate)

	_, total, err := store.ListAuditEvents(context.Background(), auth.AuditFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
}

func TestDeleteAuditEvents_InvalidBody(t *testing.T) {
	h, _ := newAuditFixture(t)

	for _, body := range []string{"", "{", `{"older_than_days":0}`, `{"older_than_days":-3}`, strings.Repeat("x", maxAuditRequestBody+1)} {
		rec := httptest.NewRecorder()
		h.DeleteAuditEvents(rec, httptest.NewRequest(http.MethodPost, "/audit/delete", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %.20q", body)
	}
}

func TestRegisterAuditRoutes_Guarded(t *testing.T) {
	h, _ := newAuditFixture(t)
	mux := http.NewServeMux()
	h.RegisterAuditRoutes(mux, auth.NewMiddleware(auth.MiddlewareConfig{}).RequireCapability(auth.CapabilityLeadership))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/events", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/audit/stats", nil)
	req = req.WithContext(auth.WithAuthToken(req.Context(), &auth.AuthToken{Email: "lead@example.com", IsLeadership: true}))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
