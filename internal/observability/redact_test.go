package observability

import (
	"strings"
	"testing"
)

func TestRedactor_Defaults(t *testing.T) {
	r := NewRedactor()

	tests := []struct {
		name     string
		input    string
		contains string
		leak     string
	}{
		{"bearer", "Bearer " + testJWT, "Bearer [REDACTED]", "eyJ"},
		{"bare jwt", "token=" + testJWT, "[REDACTED_JWT]", "eyJ"},
		{"auth header", "Authorization: Basic dXNlcjpwYXNz", "Authorization: [REDACTED]", "dXNlcjpwYXNz"},
		{"session cookie", "Cookie: supportgate_session=abc.def.ghi; theme=dark", "supportgate_session=[REDACTED]", "abc.def.ghi"},
		{"vault token", "using hvs.CAESIJ1234567890abcdefghijklm", "[REDACTED_VAULT_TOKEN]", "CAESIJ"},
		{"email", "user email is test@example.com", "[REDACTED_EMAIL]", "test@example.com"},
		{"dsn", "postgres://audit:hunter2@db:5432/audit", "postgres://audit:[REDACTED]@db", "hunter2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := r.Redact(tt.input)
			if !strings.Contains(result, tt.contains) {
				t.Errorf("expected result to contain %q, got %q", tt.contains, result)
			}
			if strings.Contains(result, tt.leak) {
				t.Errorf("result still contains %q: %q", tt.leak, result)
			}
		})
	}
}

func TestRedactor_LeavesPlainTextAlone(t *testing.T) {
	r := NewRedactor()
	input := "rate limit exceeded for class analytics"
	if got := r.Redact(input); got != input {
		t.Errorf("Redact(%q) = %q", input, got)
	}
}

func TestRedactor_RedactMap(t *testing.T) {
	r := NewRedactor()

	input := map[string]any{
		"session_secret": "hunter2",
		"username":       "testuser",
		"password":       "secret123",
		"data": map[string]any{
			"token": "abc123",
		},
	}

	result := r.RedactMap(input)

	if result["session_secret"] != "[REDACTED]" {
		t.Errorf("expected session_secret to be redacted, got %v", result["session_secret"])
	}
	if result["password"] != "[REDACTED]" {
		t.Errorf("expected password to be redacted, got %v", result["password"])
	}
	if result["username"] != "testuser" {
		t.Errorf("expected username to be unchanged, got %v", result["username"])
	}

	nested := result["data"].(map[string]any)
	if nested["token"] != "[REDACTED]" {
		t.Errorf("expected nested token to be redacted, got %v", nested["token"])
	}
}

func TestRedactor_RedactHeaders(t *testing.T) {
	r := NewRedactor()

	headers := map[string][]string{
		"Authorization": {"Bearer token123"},
		"X-Vault-Token": {"hvs.secret"},
		"Content-Type":  {"application/json"},
		"Cookie":        {"supportgate_session=abc123"},
	}

	result := r.RedactHeaders(headers)

	if result["Authorization"][0] != "[REDACTED]" {
		t.Errorf("expected Authorization to be redacted")
	}
	if result["X-Vault-Token"][0] != "[REDACTED]" {
		t.Errorf("expected X-Vault-Token to be redacted")
	}
	if result["Content-Type"][0] != "application/json" {
		t.Errorf("expected Content-Type to be unchanged")
	}
	if result["Cookie"][0] != "[REDACTED]" {
		t.Errorf("expected Cookie to be redacted")
	}
}

func TestRedactor_AddPattern(t *testing.T) {
	r := NewRedactor()
	r.AddPattern(`TICKET-[0-9]+`, "[TICKET]", "ticket")

	if got := r.Redact("see TICKET-4411"); !strings.Contains(got, "[TICKET]") {
		t.Errorf("expected custom pattern to be redacted, got %q", got)
	}
}

func TestRedactor_InvalidPattern(t *testing.T) {
	r := NewRedactor()
	r.AddPattern(`[invalid`, "replacement", "invalid")

	if result := r.Redact("test"); result != "test" {
		t.Errorf("expected unchanged result, got %q", result)
	}
}

func TestRedactor_RedactArray(t *testing.T) {
	r := NewRedactor()

	input := map[string]any{
		"items": []any{
			"normal text",
			"email: test@example.com",
			map[string]any{"api_key": "secret"},
		},
	}

	items := r.RedactMap(input)["items"].([]any)

	if items[0] != "normal text" {
		t.Errorf("expected first item unchanged")
	}
	if !strings.Contains(items[1].(string), "[REDACTED_EMAIL]") {
		t.Errorf("expected email in array to be redacted")
	}
	if items[2].(map[string]any)["api_key"] != "[REDACTED]" {
		t.Errorf("expected nested api_key to be redacted")
	}
}
