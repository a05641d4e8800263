package auth

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/blueberrycongee/supportgate/internal/metrics"
)

// RedirectValidator resolves post-sign-in redirect targets. Anything it does
// not trust resolves to the base URL.
type RedirectValidator struct {
	base      string
	baseURL   *url.URL
	allowAny  bool
	wildcards []string
	hosts     []string
}

// NewRedirectValidator builds a validator for base and the given allow-list.
// Entries are "*", "https://*.domain" or an absolute origin.
func NewRedirectValidator(base string, allowList []string) (*RedirectValidator, error) {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	baseURL, err := url.Parse(base)
	if err != nil || baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("redirect base %q must be an absolute URL", base)
	}

	v := &RedirectValidator{base: base, baseURL: baseURL}
	for _, entry := range allowList {
		entry = strings.TrimSpace(entry)
		switch {
		case entry == "":
		case entry == "*":
			v.allowAny = true
		case strings.Contains(entry, "://*."):
			_, rest, _ := strings.Cut(entry, "://*.")
			domain := strings.ToLower(hostOnly(rest))
			if domain == "" {
				return nil, fmt.Errorf("invalid wildcard redirect origin %q", entry)
			}
			v.wildcards = append(v.wildcards, "."+domain)
		default:
			u, err := url.Parse(entry)
			if err != nil || u.Hostname() == "" {
				return nil, fmt.Errorf("invalid redirect origin %q", entry)
			}
			v.hosts = append(v.hosts, strings.ToLower(u.Hostname()))
		}
	}
	return v, nil
}

// Base returns the trusted base URL without a trailing slash.
func (v *RedirectValidator) Base() string {
	return v.base
}

// Validate returns the URL to redirect to for target.
func (v *RedirectValidator) Validate(target string) string {
	resolved, _ := v.Resolve(target)
	return resolved
}

// Resolve is Validate plus the rule that decided it, one of the
// metrics.Outcome* redirect values.
func (v *RedirectValidator) Resolve(target string) (string, string) {
	resolved, outcome := v.resolve(target)
	metrics.RedirectDecisions.WithLabelValues(outcome).Inc()
	return resolved, outcome
}

func (v *RedirectValidator) resolve(target string) (string, string) {
	if strings.HasPrefix(target, "/") {
		// Concatenation keeps "//host" on the base origin as a path.
		return v.base + target, metrics.OutcomeRelative
	}

	u, err := url.Parse(target)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return v.base, metrics.OutcomeFallback
	}

	if sameOrigin(u, v.baseURL) {
		return target, metrics.OutcomeSameOrigin
	}

	if v.allowAny {
		return target, metrics.OutcomeAllowList
	}
	host := strings.ToLower(u.Hostname())
	for _, suffix := range v.wildcards {
		if strings.HasSuffix(host, suffix) {
			return target, metrics.OutcomeAllowList
		}
	}
	for _, h := range v.hosts {
		if host == h {
			return target, metrics.OutcomeAllowList
		}
	}
	return v.base, metrics.OutcomeFallback
}

// ValidateRedirect is a one-shot Validate. An invalid base or allow-list
// yields base unchanged.
func ValidateRedirect(target, base string, allowList []string) string {
	v, err := NewRedirectValidator(base, allowList)
	if err != nil {
		return base
	}
	return v.Validate(target)
}

// hostOnly strips any port or path from "host[:port][/path]".
func hostOnly(s string) string {
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// sameOrigin compares scheme, host and port, treating an explicit default
// port as absent.
func sameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) &&
		strings.EqualFold(a.Hostname(), b.Hostname()) &&
		effectivePort(a) == effectivePort(b)
}

func effectivePort(u *url.URL) string {
	if port := u.Port(); port != "" {
		return port
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		return "443"
	case "http":
		return "80"
	}
	return ""
}
