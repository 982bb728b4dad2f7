package redact

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTextMasksKnownHeaderPatterns(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bearer", "Authorization: Bearer sk-abc123", "Authorization: Bearer ***"},
		{"api_key query param", "GET /x?api_key=deadbeef&foo=1", "GET /x?api_key=***&foo=1"},
		{"token query param", "token=xyz789 rest", "token=*** rest"},
		{"x-api-key header", "x-api-key: topsecret", "x-api-key: ***"},
		{"case insensitive", "AUTHORIZATION: BEARER abc", "AUTHORIZATION: BEARER ***"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Text(tc.in, nil))
		})
	}
}

func TestTextMasksLiteralSecretValues(t *testing.T) {
	got := Text("leaking s3cr3t-value in output", []string{"s3cr3t-value"})
	assert.Equal(t, "leaking *** in output", got)
	assert.NotContains(t, got, "s3cr3t-value")
}

func TestTextSkipsEmptySecretValues(t *testing.T) {
	got := Text("plain text", []string{"", ""})
	assert.Equal(t, "plain text", got)
}

func TestTextPatternsBeforeLiterals(t *testing.T) {
	// A header is masked even if the embedded value isn't a known secret.
	got := Text("Authorization: Bearer not-a-vault-secret", []string{"unrelated"})
	assert.Equal(t, "Authorization: Bearer ***", got)
}

func TestTextIsIdempotent(t *testing.T) {
	secrets := []string{"mysecret"}
	text := "Authorization: Bearer tok123 and mysecret appears here"
	once := Text(text, secrets)
	twice := Text(once, secrets)
	assert.Equal(t, once, twice)
}
