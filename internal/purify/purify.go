// Package purify escapes free-form strings (commit messages, file names,
// branch names, search terms — anything that ends up inside a generated
// JSON document) so that they cannot inject markup or break the JSON
// grammar, per the "purify" step described in the originating library's
// job layer (ellipsis_purify in lib/job/job.c).
package purify

import "strings"

// String escapes control bytes, quotes, backslashes, angle brackets,
// ampersands and equals signs as \uXXXX so the result is safe to embed
// inside a JSON string literal that may later be dropped into HTML.
func String(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '"', r == '\\', r == '<', r == '>', r == '&', r == '=':
			escapeRune(&b, r)
		case r < 0x20:
			escapeRune(&b, r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func escapeRune(b *strings.Builder, r rune) {
	const hex = "0123456789abcdef"
	b.WriteString(`\u`)
	b.WriteByte(hex[(r>>12)&0xf])
	b.WriteByte(hex[(r>>8)&0xf])
	b.WriteByte(hex[(r>>4)&0xf])
	b.WriteByte(hex[r&0xf])
}

// Ellipsis truncates s to at most n runes, appending "..." when it had to
// cut, then purifies the result. It mirrors ellipsis_purify's double duty:
// bound the length of attacker-controlled strings (accept-language, status
// lines) before they are ever written into the output buffer.
func Ellipsis(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return String(s)
	}
	if n < 3 {
		n = 3
	}
	return String(string(r[:n-3]) + "...")
}
