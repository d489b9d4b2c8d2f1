package purify

import (
	"regexp"
	"testing"
)

// escapeSeq matches one \uXXXX escape as String writes it.
var escapeSeq = regexp.MustCompile(`\\u[0-9a-f]{4}`)

func TestStringEscapesDangerousBytes(t *testing.T) {
	in := "a<b>c&d\"e\\f=g\x01h"
	out := String(in)
	want := "a\x5cu003cb\x5cu003ec\x5cu0026d\x5cu0022e\x5cu005cf\x5cu003dg\x5cu0001h"
	if out != want {
		t.Fatalf("String(%q) = %q, want %q", in, out, want)
	}
	// every escape itself starts with a backslash, so look for raw bytes
	// only in what remains once the escapes are taken out
	rest := escapeSeq.ReplaceAllString(out, "")
	for _, bad := range []string{"<", ">", "&", "\"", "\\", "=", "\x01"} {
		if containsRaw(rest, bad) {
			t.Fatalf("String(%q) = %q still contains raw %q", in, out, bad)
		}
	}
}

func containsRaw(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

func TestEllipsisTruncates(t *testing.T) {
	out := Ellipsis("hello world", 8)
	if out != "hello..." {
		t.Fatalf("Ellipsis = %q, want %q", out, "hello...")
	}
}

func TestEllipsisNoTruncationNeeded(t *testing.T) {
	out := Ellipsis("short", 10)
	if out != "short" {
		t.Fatalf("Ellipsis = %q, want %q", out, "short")
	}
}
