package utils

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short stays", "hello", 10, "hello"},
		{"exact stays", "hello", 5, "hello"},
		{"long cut", "hello world", 5, "hell…"},
		{"zero", "hello", 0, ""},
		{"one", "hello", 1, "…"},
		{"multibyte", "héllo wörld", 6, "héllo…"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Truncate(tt.in, tt.max)
			if got != tt.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
			}
			if utf8.RuneCountInString(got) > tt.max && tt.max > 0 {
				t.Errorf("result exceeds max runes")
			}
		})
	}
}

func TestSafeFilename(t *testing.T) {
	tests := []struct {
		in   string
		bad  []string
	}{
		{"report 2026.pdf", []string{" "}},
		{"a/b\\c:d", []string{"/", "\\", ":"}},
		{"../../etc/passwd", []string{"..", "/"}},
		{"what?.txt", []string{"?"}},
	}
	for _, tt := range tests {
		got := SafeFilename(tt.in)
		for _, bad := range tt.bad {
			if strings.Contains(got, bad) {
				t.Errorf("SafeFilename(%q) = %q still contains %q", tt.in, got, bad)
			}
		}
	}
}
