package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher interface for streaming support.
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Middleware returns an HTTP middleware that records request latency.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(recorder, r)

		HTTPRequestDuration.
			WithLabelValues(routeLabel(r.URL.Path), strconv.Itoa(recorder.statusCode)).
			Observe(time.Since(start).Seconds())
	})
}

// RecordRateLimitDecision increments the decision counter for a class.
func RecordRateLimitDecision(class string, allowed bool) {
	outcome := OutcomeDenied
	if allowed {
		outcome = OutcomeAllowed
	}
	RateLimitDecisions.WithLabelValues(sanitizeLabel(class), outcome).Inc()
}

// RecordAuthzDenial increments the denial counter.
func RecordAuthzDenial(capability, reason string) {
	AuthzDenials.WithLabelValues(sanitizeLabel(capability), reason).Inc()
}

// RecordBackendFetch records one backend lookup.
func RecordBackendFetch(endpoint, outcome string, latency time.Duration) {
	BackendFetches.WithLabelValues(endpoint, outcome).Inc()
	BackendLatency.WithLabelValues(endpoint).Observe(latency.Seconds())
}

const (
	maxLabelLen    = 64
	routeLabelSegs = 2
)

// routeLabel keeps the first path segments so IDs never reach the label set.
func routeLabel(path string) string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "/"
	}
	segs := strings.SplitN(trimmed, "/", routeLabelSegs+1)
	if len(segs) > routeLabelSegs {
		segs = segs[:routeLabelSegs]
	}
	return "/" + sanitizeLabel(strings.Join(segs, "/"))
}

func sanitizeLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(min(len(value), maxLabelLen))
	for _, r := range value {
		if (r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') ||
			r == '-' || r == '_' || r == '.' || r == ':' || r == '/' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
		if b.Len() >= maxLabelLen {
			break
		}
	}

	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "unknown"
	}
	return out
}
