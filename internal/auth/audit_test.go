package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/supportgate/internal/observability"
)

func TestMemoryAuditStore_ListWithFilters(t *testing.T) {
	store := NewMemoryAuditStore()
	ctx := context.Background()
	now := time.Now().UTC()

	for _, e := range []*AuditEvent{
		{ID: "e1", Timestamp: now.Add(-2 * time.Hour), ActorEmail: "a@example.com", Action: AuditActionSignIn, Success: true},
		{ID: "e2", Timestamp: now.Add(-time.Hour), ActorEmail: "a@example.com", Action: AuditActionAccessDenied},
		{ID: "e3", Timestamp: now, ActorEmail: "b@example.com", Action: AuditActionSignInFailed},
	} {
		require.NoError(t, store.CreateAuditEvent(ctx, e))
	}

	all, total, err := store.ListAuditEvents(ctx, AuditFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Equal(t, []string{"e3", "e2", "e1"}, eventIDs(all), "newest first")

	actor := "a@example.com"
	byActor, total, err := store.ListAuditEvents(ctx, AuditFilter{ActorEmail: &actor})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, []string{"e2", "e1"}, eventIDs(byActor))

	failed := false
	byOutcome, _, err := store.ListAuditEvents(ctx, AuditFilter{Success: &failed})
	require.NoError(t, err)
	assert.Equal(t, []string{"e3", "e2"}, eventIDs(byOutcome))

	recent, _, err := store.ListAuditEvents(ctx, AuditFilter{StartTime: now.Add(-90 * time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, []string{"e3", "e2"}, eventIDs(recent))

	page, total, err := store.ListAuditEvents(ctx, AuditFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Equal(t, []string{"e2"}, eventIDs(page))

	empty, _, err := store.ListAuditEvents(ctx, AuditFilter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryAuditStore_StatsAndDelete(t *testing.T) {
	store := NewMemoryAuditStore()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.CreateAuditEvent(ctx, &AuditEvent{Timestamp: now.Add(-48 * time.Hour), ActorEmail: "a@example.com", Action: AuditActionSignIn, Success: true}))
	require.NoError(t, store.CreateAuditEvent(ctx, &AuditEvent{ActorEmail: "b@example.com", Action: AuditActionRateLimited}))
	require.NoError(t, store.CreateAuditEvent(ctx, &AuditEvent{ActorEmail: "b@example.com", Action: AuditActionRateLimited}))

	stats, err := store.GetAuditStats(ctx, AuditFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalEvents)
	assert.Equal(t, int64(1), stats.SuccessCount)
	assert.Equal(t, int64(2), stats.FailureCount)
	assert.Equal(t, 2, stats.UniqueActors)
	assert.Equal(t, int64(2), stats.ActionCounts[string(AuditActionRateLimited)])

	deleted, err := store.DeleteAuditEvents(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, total, err := store.ListAuditEvents(ctx, AuditFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
}

func TestAuditLogger_RecordsRequestContext(t *testing.T) {
	store := NewMemoryAuditStore()
	al := NewAuditLogger(store, true, nil)

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=abc", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	req.Header.Set("User-Agent", "test-agent")
	req = req.WithContext(observability.ContextWithRequestID(req.Context(), "req-1"))

	al.LogSignIn(req, "a@example.com", true, "")
	al.LogSignIn(req, "a@example.com", false, "email domain not allowed")
	al.LogRedirectDenied(req, "a@example.com", "https://evil.com")
	al.LogRateLimited(req, "203.0.113.9", "auth", 600)
	al.LogSignOut(req, "a@example.com")
	al.LogTokenRefresh(req, "a@example.com", true, "")

	events, total, err := store.ListAuditEvents(context.Background(), AuditFilter{})
	require.NoError(t, err)
	require.Equal(t, int64(6), total)

	byAction := map[AuditAction]*AuditEvent{}
	for _, e := range events {
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.Timestamp.IsZero())
		assert.Equal(t, "203.0.113.9", e.ActorIP)
		assert.Equal(t, "req-1", e.RequestID)
		assert.Equal(t, "test-agent", e.UserAgent)
		assert.Equal(t, "/auth/callback", e.RequestURI, "query strings are not recorded")
		byAction[e.Action] = e
	}

	assert.True(t, byAction[AuditActionSignIn].Success)
	assert.Equal(t, "email domain not allowed", byAction[AuditActionSignInFailed].Error)
	assert.Equal(t, "https://evil.com", byAction[AuditActionRedirectDenied].Resource)
	assert.Equal(t, "auth", byAction[AuditActionRateLimited].Resource)
	assert.Equal(t, 600, byAction[AuditActionRateLimited].Metadata["retry_after"])
	assert.True(t, byAction[AuditActionSignOut].Success)
	assert.True(t, byAction[AuditActionTokenRefresh].Success)
}

type failingAuditStore struct{ *MemoryAuditStore }

func (*failingAuditStore) CreateAuditEvent(context.Context, *AuditEvent) error {
	return errors.New("disk full")
}

func TestAuditLogger_NeverFails(t *testing.T) {
	var nilLogger *AuditLogger
	assert.NotPanics(t, func() {
		nilLogger.LogSignIn(nil, "a@example.com", true, "")
		nilLogger.LogAccessDenied(nil, "a@example.com", "leadership")
	})
	assert.Nil(t, nilLogger.Store())

	al := NewAuditLogger(&failingAuditStore{NewMemoryAuditStore()}, true, slog.New(slog.DiscardHandler))
	assert.NotPanics(t, func() {
		al.LogAccessDenied(httptest.NewRequest(http.MethodGet, "/", nil), "a@example.com", "leadership")
	})

	disabled := NewMemoryAuditStore()
	NewAuditLogger(disabled, false, nil).LogSignIn(nil, "a@example.com", true, "")
	_, total, _ := disabled.ListAuditEvents(context.Background(), AuditFilter{})
	assert.Zero(t, total)
}

func TestPostgresAuditStore_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresAuditStore(db)
	event := &AuditEvent{
		ID:         "evt-1",
		Timestamp:  time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		ActorEmail: "a@example.com",
		Action:     AuditActionRateLimited,
		Resource:   "api",
		Metadata:   Metadata{"retry_after": 12},
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_events")).
		WithArgs(
			"evt-1", event.Timestamp, "a@example.com", nil,
			"rate_limited", "api", nil, nil, nil,
			false, nil, `{"retry_after":12}`,
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.CreateAuditEvent(context.Background(), event))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAuditStore_List(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresAuditStore(db)
	action := AuditActionSignIn
	ts := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM audit_events WHERE action = $1")).
		WithArgs("sign_in").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	mock.ExpectQuery(regexp.QuoteMeta("FROM audit_events WHERE action = $1 ORDER BY timestamp DESC LIMIT $2 OFFSET $3")).
		WithArgs("sign_in", 10, 0).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "timestamp", "actor_email", "actor_ip", "action", "resource",
			"request_id", "user_agent", "request_uri", "success", "error", "metadata",
		}).AddRow("evt-1", ts, "a@example.com", nil, "sign_in", nil, "req-1", nil, "/auth/callback", true, nil, `{"k":"v"}`))

	events, total, err := store.ListAuditEvents(context.Background(), AuditFilter{Action: &action, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, events, 1)
	assert.Equal(t, "a@example.com", events[0].ActorEmail)
	assert.Empty(t, events[0].ActorIP)
	assert.Equal(t, "req-1", events[0].RequestID)
	assert.True(t, events[0].Success)
	assert.Equal(t, "v", events[0].Metadata["k"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAuditStore_StatsAndDelete(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresAuditStore(db)

	mock.ExpectQuery(regexp.QuoteMeta("COUNT(DISTINCT actor_email) AS unique_actors")).
		WillReturnRows(sqlmock.NewRows([]string{"total", "ok", "failed", "actors"}).AddRow(5, 3, 2, 2))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT action, COUNT(*) FROM audit_events GROUP BY action")).
		WillReturnRows(sqlmock.NewRows([]string{"action", "count"}).
			AddRow("sign_in", 3).
			AddRow("access_denied", 2))

	stats, err := store.GetAuditStats(context.Background(), AuditFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.TotalEvents)
	assert.Equal(t, 2, stats.UniqueActors)
	assert.Equal(t, int64(2), stats.ActionCounts["access_denied"])

	cutoff := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM audit_events WHERE timestamp < $1")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 4))

	deleted, err := store.DeleteAuditEvents(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(4), deleted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAuditStore_Migrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS audit_events")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, NewPostgresAuditStore(db).Migrate(context.Background()))

	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("permission denied"))
	assert.Error(t, NewPostgresAuditStore(db).Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenPostgresAuditStore_RequiresDSN(t *testing.T) {
	_, err := OpenPostgresAuditStore(context.Background(), PostgresConfig{})
	assert.Error(t, err)
}

func eventIDs(events []*AuditEvent) []string {
	ids := make([]string, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ID)
	}
	return ids
}
