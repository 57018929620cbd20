package sip2

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Sanitize removes every byte that would corrupt SIP2 framing from a field
// value: the pipe delimiter, carriage return, line feed, and all remaining
// control characters below 0x20. Bytes at or above 0x20 pass through, so the
// result may still carry non-ASCII text; ToASCII handles that at the write
// boundary.
func Sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '|' || r < 0x20 {
			return -1
		}
		return r
	}, s)
}

var asciiFold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// ToASCII transliterates a frame to 7-bit ASCII before it is written to the
// socket. Accented characters fold to their base letter; anything else above
// 0x7F becomes a question mark.
func ToASCII(s string) string {
	folded, _, err := transform.String(asciiFold, s)
	if err != nil {
		folded = s
	}
	return strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII {
			return '?'
		}
		return r
	}, folded)
}
