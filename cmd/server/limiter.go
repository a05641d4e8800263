package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/blueberrycongee/supportgate/internal/api"
	"github.com/blueberrycongee/supportgate/internal/auth"
	"github.com/blueberrycongee/supportgate/internal/config"
	"github.com/blueberrycongee/supportgate/internal/healthcheck"
	"github.com/blueberrycongee/supportgate/internal/ratelimit"
)

var newRedisClient = func(cfg config.RedisConfig, password string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
}

// limiterRuntime is the limiter plus what it needs at runtime: an optional
// health check for its store and a stop hook.
type limiterRuntime struct {
	Limiter *ratelimit.Limiter
	Checks  []healthcheck.Check
	stop    func()
}

func (lr *limiterRuntime) Stop() {
	if lr != nil && lr.stop != nil {
		lr.stop()
	}
}

// buildLimiter returns a nil runtime when rate limiting is disabled.
func buildLimiter(ctx context.Context, cfg *config.Config, redisPassword string, logger *slog.Logger) (*limiterRuntime, error) {
	if cfg == nil {
		return nil, errNilConfig
	}
	if !cfg.RateLimit.Enabled {
		logger.Warn("rate limiting disabled")
		return nil, nil
	}

	rl := cfg.RateLimit
	opts := []ratelimit.Option{
		ratelimit.WithFailOpen(rl.FailOpen),
		ratelimit.WithLogger(logger),
	}

	switch strings.ToLower(rl.Backend) {
	case "", "memory":
		store := ratelimit.NewMemoryStore(time.Now, logger)
		store.Start(rl.CleanupInterval)
		logger.Info("using in-memory rate limiter", "cleanup_interval", rl.CleanupInterval.String())
		return &limiterRuntime{
			Limiter: ratelimit.NewLimiter(store, limitClasses(rl.Classes), opts...),
			stop:    store.Stop,
		}, nil

	case "redis":
		client := newRedisClient(rl.Redis, redisPassword)
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			// The limiter's fail-open setting decides what happens while
			// redis is down; startup does not block on it.
			logger.Warn("redis unreachable at startup", "addr", rl.Redis.Addr, "fail_open", rl.FailOpen, "error", err)
		}
		logger.Info("using redis rate limiter", "addr", rl.Redis.Addr, "prefix", rl.Redis.KeyPrefix, "fail_open", rl.FailOpen)
		return &limiterRuntime{
			Limiter: ratelimit.NewLimiter(ratelimit.NewRedisStore(client, rl.Redis.KeyPrefix), limitClasses(rl.Classes), opts...),
			Checks: []healthcheck.Check{{
				Name:     "redis",
				Optional: rl.FailOpen,
				Run:      func(ctx context.Context) error { return client.Ping(ctx).Err() },
			}},
			stop: func() { _ = client.Close() },
		}, nil

	default:
		return nil, fmt.Errorf("unknown rate limit backend %q", rl.Backend)
	}
}

// limitClasses converts the configured classes, sorted by name.
func limitClasses(classes map[string]config.LimitClassConfig) []ratelimit.Class {
	out := make([]ratelimit.Class, 0, len(classes))
	for name, c := range classes {
		out = append(out, ratelimit.Class{Name: name, Max: c.Max, Window: c.Window})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// limitFunc keys requests by signed-in email, else client IP. Rejections are
// audited. A nil limiter yields a nil LimitFunc, which leaves routes unlimited.
func limitFunc(l *ratelimit.Limiter, audit *auth.AuditLogger) api.LimitFunc {
	if l == nil {
		return nil
	}
	resolver := ratelimit.IdentityResolver{Authenticated: auth.EmailFromRequest}
	onReject := func(r *http.Request, identity, class string, d ratelimit.Decision) {
		audit.LogRateLimited(r, identity, class, d.RetryAfter(l.Now()))
	}
	return func(class string) func(http.Handler) http.Handler {
		return ratelimit.Middleware(l, class, resolver, onReject)
	}
}
