package ratelimit

import (
	"errors"
	"net/http"
	"strconv"

	gwerrors "github.com/blueberrycongee/supportgate/pkg/errors"
)

// Rate-limit response headers.
const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

// RejectFunc observes a rejected request, e.g. to write an audit event.
type RejectFunc func(r *http.Request, identity, class string, d Decision)

// WriteHeaders sets the X-RateLimit-* headers for d. Reset is in unix seconds.
func WriteHeaders(w http.ResponseWriter, d Decision) {
	h := w.Header()
	h.Set(HeaderLimit, strconv.Itoa(d.Limit))
	h.Set(HeaderRemaining, strconv.Itoa(d.Remaining))
	h.Set(HeaderReset, strconv.FormatInt(d.ResetAt.Unix(), 10))
}

// Middleware admits or rejects each request under class. Rejections get a 429
// with Retry-After; every response carries the X-RateLimit-* headers.
func Middleware(l *Limiter, class string, resolver IdentityResolver, onReject RejectFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := resolver.Resolve(r)

			d, err := l.Check(r.Context(), identity, class)
			if errors.Is(err, ErrUnknownClass) {
				l.logger.Error("rate limit class not configured", "class", class, "path", r.URL.Path)
				gwerrors.Write(w, gwerrors.NewInternalError("rate limit misconfigured"))
				return
			}

			WriteHeaders(w, d)
			if !d.Allowed {
				if onReject != nil {
					onReject(r, identity, class, d)
				}
				gwerrors.Write(w, gwerrors.NewRateLimitError("rate limit exceeded", d.RetryAfter(l.Now())))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
