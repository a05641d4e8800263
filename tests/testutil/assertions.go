package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertStatusCode asserts the HTTP response status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	assert.Equal(t, expected, resp.StatusCode, "unexpected status code")
}

// AssertContentType asserts the Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	assert.True(t, strings.HasPrefix(contentType, expected),
		"expected Content-Type to start with %q, got %q", expected, contentType)
}

// AssertJSONResponse asserts the response is JSON.
func AssertJSONResponse(t *testing.T, resp *http.Response) {
	t.Helper()
	AssertContentType(t, resp, "application/json")
}

// RequireStatusOK requires the response status to be 200 OK.
func RequireStatusOK(t *testing.T, resp *http.Response) {
	t.Helper()
	require.Equal(t, http.StatusOK, resp.StatusCode, "expected 200 OK")
}

// AssertErrorType decodes the gateway error envelope and checks its type.
func AssertErrorType(t *testing.T, resp *http.Response, status int, errType string) {
	t.Helper()
	AssertStatusCode(t, resp, status)
	AssertJSONResponse(t, resp)

	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &body), "body: %s", raw)
	assert.Equal(t, errType, body.Error.Type)
	assert.NotEmpty(t, body.Error.Message)
}

// AssertRateLimitHeaders checks the X-RateLimit-* headers.
func AssertRateLimitHeaders(t *testing.T, resp *http.Response, limit, remaining int) {
	t.Helper()
	assert.Equal(t, strconv.Itoa(limit), resp.Header.Get("X-RateLimit-Limit"))
	assert.Equal(t, strconv.Itoa(remaining), resp.Header.Get("X-RateLimit-Remaining"))
	reset, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64)
	assert.NoError(t, err)
	assert.Positive(t, reset)
}

// DecodeJSON decodes a response body into v.
func DecodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, v), "body: %s", raw)
}
