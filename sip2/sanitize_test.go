package sip2

import (
	"strings"
	"testing"
)

func TestSanitizeRemovesFramingBytes(t *testing.T) {
	in := "abc|def\rghi\njkl\x00\x1fmno"
	got := Sanitize(in)
	if got != "abcdefghijklmno" {
		t.Errorf("Sanitize = %q", got)
	}
	for _, b := range []byte{'|', '\r', '\n'} {
		if strings.IndexByte(got, b) >= 0 {
			t.Errorf("sanitized output still contains %q", b)
		}
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	cases := []string{
		"",
		"plain",
		"with|pipe\rand\ncontrol\x01bytes",
		"naïve café",
	}
	for _, in := range cases {
		once := Sanitize(in)
		if twice := Sanitize(once); twice != once {
			t.Errorf("Sanitize not idempotent on %q: %q vs %q", in, once, twice)
		}
	}
}

func TestSanitizePreservesHighBytes(t *testing.T) {
	if got := Sanitize("Müller"); got != "Müller" {
		t.Errorf("Sanitize altered non-ASCII text: %q", got)
	}
}

func TestToASCII(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Müller", "Muller"},
		{"café", "cafe"},
		{"naïve", "naive"},
		{"plain ascii", "plain ascii"},
		{"日本", "??"},
	}
	for _, tc := range cases {
		if got := ToASCII(tc.in); got != tc.want {
			t.Errorf("ToASCII(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
