package chat

import "testing"

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello world", "hello world"},
		{"keeps newline and tab", "line1\n\tline2", "line1\n\tline2"},
		{"strips control chars", "he\x00llo\x1b[31m", "hello[31m"},
		{"strips bidi overrides", "price‮001‬", "price001"},
		{"trims whitespace", "  padded  ", "padded"},
		{"unicode text", "olá, tudo bem? 👍", "olá, tudo bem? 👍"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.in); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
