package stream

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"at.1.imagine.imagine.abc", "at.1.imagine.imagine.abc"},
		{`a<b>c:d"e/f\g|h?i*j`, "a_b_c_d_e_f_g_h_i_j"},
		{"two   words\tand\nmore", "two_words_and_more"},
		{"trailing dots...", "trailing_dots"},
		{"  padded  ", "padded"},
		{"CON", "_CON"},
		{"con.txt", "_con.txt"},
		{"LPT9.event.json", "_LPT9.event.json"},
		{"CONSOLE", "CONSOLE"},
		{"bell\x07char", "bell_char"},
		{"", "_"},
		{"...", "_"},
	}
	for _, tc := range cases {
		if got := SanitizeFilename(tc.in); got != tc.want {
			t.Fatalf("SanitizeFilename(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSanitizeFilename_TruncatesOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("é", 300)
	got := SanitizeFilename(long)
	if len(got) > maxNameBytes {
		t.Fatalf("len = %d, want <= %d", len(got), maxNameBytes)
	}
	if !utf8.ValidString(got) {
		t.Fatalf("truncated name is not valid UTF-8: %q", got)
	}
}
