package source

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseIncludes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want []Include
	}{
		{
			name: "plain includes",
			text: "INCLUDE chapter1.ink\n  INCLUDE   chapter2.ink  \nHello.\n",
			want: []Include{{"chapter1.ink", 1}, {"chapter2.ink", 2}},
		},
		{
			name: "line comment hides include",
			text: "// INCLUDE old.ink\nINCLUDE new.ink // trailing note\n",
			want: []Include{{"new.ink", 2}},
		},
		{
			name: "block comment keeps line numbers",
			text: "/* header\nINCLUDE hidden.ink\nend */\nINCLUDE real.ink\n",
			want: []Include{{"real.ink", 4}},
		},
		{
			name: "include must start the line",
			text: "Some text INCLUDE nope.ink\nINCLUDEnope.ink\n",
			want: nil,
		},
		{
			name: "windows line endings",
			text: "INCLUDE a.ink\r\nINCLUDE b.ink\r\n",
			want: []Include{{"a.ink", 1}, {"b.ink", 2}},
		},
		{
			name: "unterminated block comment",
			text: "INCLUDE a.ink\n/* never closed\nINCLUDE b.ink\n",
			want: []Include{{"a.ink", 1}},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if diff := cmp.Diff(tt.want, ParseIncludes(tt.text)); diff != "" {
				t.Errorf("ParseIncludes mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStripComments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"a // b\nc", "a \nc"},
		{"a /* b */ c", "a  c"},
		{"a /* b\n\nc */ d", "a \n\n d"},
		{"a / b", "a / b"},
		{"trailing /", "trailing /"},
		{"x // no newline", "x "},
	}
	for _, tt := range tests {
		if got := StripComments(tt.in); got != tt.want {
			t.Errorf("StripComments(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestResolveInclude(t *testing.T) {
	t.Parallel()

	tests := []struct {
		includer, target, want string
	}{
		{"main.ink", "chapter.ink", "chapter.ink"},
		{"story/main.ink", "chapter.ink", "story/chapter.ink"},
		{"story/main.ink", "../shared/vars.ink", "shared/vars.ink"},
		{"story/main.ink", "parts\\one.ink", "story/parts/one.ink"},
		{"story/main.ink", "/top.ink", "top.ink"},
	}
	for _, tt := range tests {
		if got := ResolveInclude(tt.includer, tt.target); got != tt.want {
			t.Errorf("ResolveInclude(%q, %q) = %q, want %q", tt.includer, tt.target, got, tt.want)
		}
	}
}
