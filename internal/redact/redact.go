// Package redact masks secret material in text before it leaves the
// process: recognizable header/URL patterns first, then literal secret
// values from the vault.
package redact

import (
	"regexp"
	"strings"
)

// patterns matches "<prefix><capture>" pairs where capture is the secret
// portion. All are case-insensitive; capture is a maximal run of
// non-whitespace, non-'&' characters.
var patterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(Authorization: Bearer )([^&\s]+)`),
	regexp.MustCompile(`(?i)(api_key=)([^&\s]+)`),
	regexp.MustCompile(`(?i)(token=)([^&\s]+)`),
	regexp.MustCompile(`(?i)(x-api-key: )([^&\s]+)`),
}

const mask = "***"

// Text applies the fixed header/URL patterns first, then masks every
// non-empty literal value in secretValues. Order matters: a recognizable
// header is always masked even if the embedded value isn't in the live
// secret set, and idempotent: Text(Text(t, s), s) == Text(t, s).
func Text(text string, secretValues []string) string {
	redacted := text
	for _, p := range patterns {
		redacted = p.ReplaceAllString(redacted, "${1}"+mask)
	}
	for _, secret := range secretValues {
		if secret != "" {
			redacted = strings.ReplaceAll(redacted, secret, mask)
		}
	}
	return redacted
}
