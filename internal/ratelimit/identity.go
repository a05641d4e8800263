package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// UnknownIdentity is the shared bucket for requests with no usable identity.
const UnknownIdentity = "unknown"

// IdentityResolver picks the rate-limit identity for a request: the
// authenticated email, else the first X-Forwarded-For address, else
// X-Real-IP, else UnknownIdentity.
type IdentityResolver struct {
	// Authenticated returns the signed-in email, or "" for anonymous requests.
	Authenticated func(*http.Request) string
}

// Resolve returns the identity for r.
func (ir IdentityResolver) Resolve(r *http.Request) string {
	if r == nil {
		return UnknownIdentity
	}
	if ir.Authenticated != nil {
		if email := strings.ToLower(strings.TrimSpace(ir.Authenticated(r))); email != "" {
			return email
		}
	}
	if ip := ClientIP(r); ip != "" {
		return ip
	}
	return UnknownIdentity
}

// ClientIP returns the client address reported by the fronting proxy
// (X-Forwarded-For, then X-Real-IP), or "" when neither holds an IP.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if ip := firstForwardedIP(r.Header.Get("X-Forwarded-For")); ip != "" {
		return ip
	}
	return headerClientIP(r.Header.Get("X-Real-IP"))
}

// firstForwardedIP returns the left-most entry of an X-Forwarded-For chain,
// the address the original client presented. Entries that are not IPs are
// rejected so a header value cannot impersonate an email bucket.
func firstForwardedIP(header string) string {
	if header == "" {
		return ""
	}
	first, _, _ := strings.Cut(header, ",")
	return headerClientIP(first)
}

func headerClientIP(value string) string {
	ip := parseIP(value)
	if ip == nil {
		return ""
	}
	return ip.String()
}

func parseIP(value string) net.IP {
	value = strings.TrimSpace(value)
	value = strings.Trim(value, "\"")
	if value == "" {
		return nil
	}
	if strings.HasPrefix(value, "[") {
		if idx := strings.Index(value, "]"); idx != -1 {
			value = value[1:idx]
		}
	} else if host, _, err := net.SplitHostPort(value); err == nil {
		value = host
	}
	if idx := strings.IndexByte(value, '%'); idx != -1 {
		value = value[:idx]
	}
	return normalizeIP(net.ParseIP(value))
}

func normalizeIP(ip net.IP) net.IP {
	if ip == nil {
		return nil
	}
	if ip4 := ip.To4(); ip4 != nil {
		return ip4
	}
	return ip
}
