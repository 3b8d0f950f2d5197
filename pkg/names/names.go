// Package names filters and normalizes display names. The normalized
// form is what uniqueness and lookups key on; the display form is what
// other users see and may carry inline +color(text) emphasis markers.
package names

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const (
	asciiLetters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	ruLetters    = "абвгдеёжзийклмнопрстуфхцчшщъыьэюя" + "АБВГДЕЁЖЗИЙКЛМНОПРСТУФХЦЧШЩЪЫЬЭЮЯ"
	okChars      = "0123456789+-_#()~" + asciiLetters + ruLetters
)

var markupPat = regexp.MustCompile(`\+[A-Za-z]+\(([^()]*)\)`)

// Filter removes disallowed characters from a requested display name and
// returns both the filtered display form and its normalized form. The
// normalized form has markup stripped and is Unicode-normalized, so two
// visually identical names compare equal.
func Filter(requested string) (display, normalized string) {
	var b strings.Builder
	for _, ch := range requested {
		if strings.ContainsRune(okChars, ch) {
			b.WriteRune(ch)
		}
	}
	display = b.String()
	return display, Normalize(display)
}

// Normalize strips markup and applies NFKC so lookups are stable across
// composed/decomposed input.
func Normalize(s string) string {
	return norm.NFKC.String(Strip(s))
}

// Strip removes +color(text) spans, keeping the wrapped text. Nested
// spans are unwrapped innermost first.
func Strip(s string) string {
	for {
		out := markupPat.ReplaceAllString(s, "$1")
		if out == s {
			return out
		}
		s = out
	}
}
