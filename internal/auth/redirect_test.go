package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/supportgate/internal/metrics"
)

const appBase = "https://app.example.com"

func TestValidateRedirect(t *testing.T) {
	tests := []struct {
		name   string
		target string
		allow  []string
		want   string
	}{
		{name: "relative path", target: "/x", want: "https://app.example.com/x"},
		{name: "relative with query", target: "/tickets?id=4#top", want: "https://app.example.com/tickets?id=4#top"},
		{name: "protocol relative stays on base", target: "//evil.com/x", want: "https://app.example.com//evil.com/x"},
		{name: "foreign origin", target: "https://evil.com/x", want: appBase},
		{name: "same origin", target: "https://app.example.com/dash", want: "https://app.example.com/dash"},
		{name: "same origin host case", target: "https://APP.example.com/dash", want: "https://APP.example.com/dash"},
		{name: "scheme mismatch is foreign", target: "http://app.example.com/dash", want: appBase},
		{name: "port mismatch is foreign", target: "https://app.example.com:8443/dash", want: appBase},
		{name: "explicit default port is same origin", target: "https://app.example.com:443/dash", want: "https://app.example.com:443/dash"},
		{name: "http default port on https base is foreign", target: "https://app.example.com:80/dash", want: appBase},
		{name: "not absolute", target: "dashboard", want: appBase},
		{name: "empty", target: "", want: appBase},
		{name: "unparsable", target: "https://exa mple.com/%zz", want: appBase},
		{name: "javascript scheme", target: "javascript:alert(1)", want: appBase},
		{name: "javascript with authority", target: "javascript://app.example.com/%0aalert(1)", allow: []string{"*"}, want: appBase},

		{name: "wildcard subdomain", target: "https://sub.trusted.com/cb", allow: []string{"https://*.trusted.com"}, want: "https://sub.trusted.com/cb"},
		{name: "wildcard deep subdomain", target: "https://a.b.trusted.com/cb", allow: []string{"https://*.trusted.com"}, want: "https://a.b.trusted.com/cb"},
		{name: "wildcard suffix trick", target: "https://sub.trusted.com.evil.com/cb", allow: []string{"https://*.trusted.com"}, want: appBase},
		{name: "wildcard lookalike", target: "https://eviltrusted.com/cb", allow: []string{"https://*.trusted.com"}, want: appBase},
		{name: "wildcard excludes apex", target: "https://trusted.com/cb", allow: []string{"https://*.trusted.com"}, want: appBase},

		{name: "exact host", target: "https://trusted.com/cb", allow: []string{"https://trusted.com"}, want: "https://trusted.com/cb"},
		{name: "exact host lookalike", target: "https://trusted.com-fake.com", allow: []string{"https://trusted.com"}, want: appBase},
		{name: "exact host subdomain", target: "https://sub.trusted.com", allow: []string{"https://trusted.com"}, want: appBase},
		{name: "userinfo does not spoof host", target: "https://trusted.com@evil.com/", allow: []string{"https://trusted.com"}, want: appBase},

		{name: "allow any", target: "https://anything.example.org/x", allow: []string{"*"}, want: "https://anything.example.org/x"},
		{name: "later entry matches", target: "https://b.example.org/", allow: []string{"https://a.example.org", " https://b.example.org "}, want: "https://b.example.org/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidateRedirect(tt.target, appBase, tt.allow))
		})
	}
}

func TestRedirectValidator_BaseTrailingSlash(t *testing.T) {
	v, err := NewRedirectValidator("https://app.example.com/", nil)
	require.NoError(t, err)

	assert.Equal(t, "https://app.example.com", v.Base())
	assert.Equal(t, "https://app.example.com/x", v.Validate("/x"))
	assert.Equal(t, "https://app.example.com", v.Validate("https://evil.com"))
}

func TestRedirectValidator_Outcomes(t *testing.T) {
	v, err := NewRedirectValidator(appBase, []string{"https://*.trusted.com"})
	require.NoError(t, err)

	for target, want := range map[string]string{
		"/x":                      metrics.OutcomeRelative,
		"https://app.example.com": metrics.OutcomeSameOrigin,
		"https://a.trusted.com":   metrics.OutcomeAllowList,
		"https://evil.com":        metrics.OutcomeFallback,
		"::":                      metrics.OutcomeFallback,
	} {
		_, outcome := v.Resolve(target)
		assert.Equal(t, want, outcome, target)
	}
}

func TestNewRedirectValidator_Errors(t *testing.T) {
	_, err := NewRedirectValidator("app.example.com", nil)
	assert.Error(t, err)

	_, err = NewRedirectValidator(appBase, []string{"https://*."})
	assert.Error(t, err)

	_, err = NewRedirectValidator(appBase, []string{"not a url"})
	assert.Error(t, err)

	assert.Equal(t, "relative-base", ValidateRedirect("/x", "relative-base", nil))
}
