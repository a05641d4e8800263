// Package ratelimit implements fixed-window request quotas keyed by
// (identity, limiter class).
//
// A window opens on the first request for a key and lasts Class.Window. Every
// request inside it increments the counter and is admitted while the counter
// stays at or below Class.Max. Because windows are fixed, a client can be
// admitted up to 2*Max times across a window boundary.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/blueberrycongee/supportgate/internal/metrics"
)

// ErrUnknownClass is returned by Check for a class that was never configured.
var ErrUnknownClass = errors.New("unknown rate limit class")

// Class is a named quota: at most Max requests per Window.
type Class struct {
	Name   string
	Max    int
	Window time.Duration
}

// Decision is the outcome of a single Check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns the whole seconds until the window resets, at least 1.
func (d Decision) RetryAfter(now time.Time) int {
	secs := int(math.Ceil(d.ResetAt.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// Store holds the counters. Hit must perform read-check-increment for key as
// one atomic step: open a new window of length window at now when none is
// active (or the active one has reset), otherwise increment the count.
type Store interface {
	Hit(ctx context.Context, key string, window time.Duration, now time.Time) (count int, resetAt time.Time, err error)
}

// Limiter applies Class quotas on top of a Store.
type Limiter struct {
	store    Store
	classes  atomic.Pointer[map[string]Class]
	now      func() time.Time
	failOpen bool
	logger   *slog.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithFailOpen admits requests when the store errors. The default denies them.
func WithFailOpen(failOpen bool) Option {
	return func(l *Limiter) { l.failOpen = failOpen }
}

// WithLogger sets the logger used for store failures.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLimiter creates a limiter over store with the given classes.
func NewLimiter(store Store, classes []Class, opts ...Option) *Limiter {
	l := &Limiter{
		store:  store,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.SetClasses(classes)
	return l
}

// SetClasses atomically replaces the class table. In-flight windows keep the
// reset time they were opened with.
func (l *Limiter) SetClasses(classes []Class) {
	table := make(map[string]Class, len(classes))
	for _, c := range classes {
		table[c.Name] = c
	}
	l.classes.Store(&table)
}

// Class looks up a configured class by name.
func (l *Limiter) Class(name string) (Class, bool) {
	table := l.classes.Load()
	if table == nil {
		return Class{}, false
	}
	c, ok := (*table)[name]
	return c, ok
}

// Now returns the limiter's current time.
func (l *Limiter) Now() time.Time {
	return l.now()
}

// Key builds the counter key for an identity under a class.
func Key(identity, class string) string {
	return identity + ":" + class
}

// Check counts one request for identity under class.
//
// The returned Decision is always usable. On a store failure the error is
// returned alongside a Decision shaped by the fail-open setting.
func (l *Limiter) Check(ctx context.Context, identity, class string) (Decision, error) {
	c, ok := l.Class(class)
	if !ok {
		return Decision{}, fmt.Errorf("%w: %q", ErrUnknownClass, class)
	}

	now := l.now()
	count, resetAt, err := l.store.Hit(ctx, Key(identity, c.Name), c.Window, now)
	if err != nil {
		return l.storeFailure(c, now, err), fmt.Errorf("rate limit store: %w", err)
	}

	d := Decision{
		Allowed:   count <= c.Max,
		Limit:     c.Max,
		Remaining: max(0, c.Max-count),
		ResetAt:   resetAt,
	}
	metrics.RecordRateLimitDecision(c.Name, d.Allowed)
	return d, nil
}

func (l *Limiter) storeFailure(c Class, now time.Time, err error) Decision {
	action := "fail_closed"
	if l.failOpen {
		action = "fail_open"
	}
	metrics.RateLimiterBackendErrors.WithLabelValues(action).Inc()
	l.logger.Warn("rate limit store check failed",
		"class", c.Name,
		"error", err,
		"action", action,
	)

	d := Decision{
		Allowed: l.failOpen,
		Limit:   c.Max,
		ResetAt: now.Add(c.Window),
	}
	if l.failOpen {
		d.Remaining = c.Max
	}
	metrics.RecordRateLimitDecision(c.Name, d.Allowed)
	return d
}
