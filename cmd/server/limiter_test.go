package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/supportgate/internal/auth"
	"github.com/blueberrycongee/supportgate/internal/config"
	"github.com/blueberrycongee/supportgate/internal/ratelimit"
)

func TestBuildLimiter_FailOpenAllowsOnBackendError(t *testing.T) {
	status := runRateLimitRequestWithRedisFailure(t, true)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want %d", status, http.StatusOK)
	}
}

func TestBuildLimiter_FailCloseDeniesOnBackendError(t *testing.T) {
	status := runRateLimitRequestWithRedisFailure(t, false)
	if status != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", status, http.StatusTooManyRequests)
	}
}

func runRateLimitRequestWithRedisFailure(t *testing.T, failOpen bool) int {
	t.Helper()

	redisServer := miniredis.RunT(t)

	cfg := config.DefaultConfig()
	cfg.RateLimit.Backend = "redis"
	cfg.RateLimit.FailOpen = failOpen
	cfg.RateLimit.Redis.Addr = redisServer.Addr()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rt, err := buildLimiter(context.Background(), cfg, "", logger)
	require.NoError(t, err)
	require.NotNil(t, rt)
	t.Cleanup(rt.Stop)
	require.Len(t, rt.Checks, 1)
	require.Equal(t, failOpen, rt.Checks[0].Optional)

	redisServer.Close()

	limit := limitFunc(rt.Limiter, nil)
	handler := limit(config.ClassAPI)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "http://localhost/api/tickets/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)
	return rr.Code
}

func TestBuildLimiter_RedisCountsAcrossRequests(t *testing.T) {
	redisServer := miniredis.RunT(t)

	cfg := config.DefaultConfig()
	cfg.RateLimit.Backend = "redis"
	cfg.RateLimit.Redis.Addr = redisServer.Addr()
	cfg.RateLimit.Classes[config.ClassAuth] = config.LimitClassConfig{Max: 2, Window: time.Minute}

	rt, err := buildLimiter(context.Background(), cfg, "", slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(rt.Stop)

	for i := 0; i < 2; i++ {
		d, err := rt.Limiter.Check(context.Background(), "198.51.100.1", config.ClassAuth)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
	d, err := rt.Limiter.Check(context.Background(), "198.51.100.1", config.ClassAuth)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, 0, d.Remaining)
}

func TestBuildLimiter_MemoryAndDisabled(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	cfg := config.DefaultConfig()
	rt, err := buildLimiter(context.Background(), cfg, "", logger)
	require.NoError(t, err)
	require.NotNil(t, rt.Limiter)
	require.Empty(t, rt.Checks)
	rt.Stop()

	cfg.RateLimit.Enabled = false
	rt, err = buildLimiter(context.Background(), cfg, "", logger)
	require.NoError(t, err)
	require.Nil(t, rt)
	require.Nil(t, limitFunc(nil, nil))
	rt.Stop()

	cfg.RateLimit.Enabled = true
	cfg.RateLimit.Backend = "memcached"
	_, err = buildLimiter(context.Background(), cfg, "", logger)
	require.Error(t, err)
}

func TestLimitClasses_SortedByName(t *testing.T) {
	classes := limitClasses(config.DefaultLimitClasses())
	require.Len(t, classes, 3)
	require.Equal(t, config.ClassAnalytics, classes[0].Name)
	require.Equal(t, config.ClassAPI, classes[1].Name)
	require.Equal(t, config.ClassAuth, classes[2].Name)
	require.Equal(t, ratelimit.Class{Name: config.ClassAuth, Max: 5, Window: 15 * time.Minute}, classes[2])
}

func TestLimitFunc_AuditsRejections(t *testing.T) {
	store := auth.NewMemoryAuditStore()
	audit := auth.NewAuditLogger(store, true, slog.New(slog.DiscardHandler))
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(time.Now, nil),
		[]ratelimit.Class{{Name: config.ClassAPI, Max: 1, Window: time.Minute}})

	handler := limitFunc(limiter, audit)(config.ClassAPI)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func() int {
		req := httptest.NewRequest(http.MethodGet, "http://localhost/api/tickets/", nil)
		req = req.WithContext(auth.WithAuthToken(req.Context(), &auth.AuthToken{Email: "agent@example.com"}))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	require.Equal(t, http.StatusOK, do())
	require.Equal(t, http.StatusTooManyRequests, do())

	action := auth.AuditActionRateLimited
	events, total, err := store.ListAuditEvents(context.Background(), auth.AuditFilter{Action: &action})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Equal(t, "agent@example.com", events[0].ActorEmail)
}
