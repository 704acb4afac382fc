// File: internal/slug/slug.go

// Package slug turns plan titles into filesystem-safe names for rendered
// output files.
package slug

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// maxLen bounds the slug so rendered filenames stay readable.
const maxLen = 48

// Make converts a title into a kebab-case slug. Titles that reduce to
// nothing fall back to a random id so output files never collide on "".
func Make(title string) string {
	var b strings.Builder
	lastDash := true // suppress a leading dash
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}

	out := strings.Trim(b.String(), "-")
	if len(out) > maxLen {
		out = strings.Trim(out[:maxLen], "-")
	}
	if out == "" {
		return "plan-" + uuid.NewString()[:8]
	}
	return out
}
