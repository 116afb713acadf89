package source

import (
	"path"
	"regexp"
	"strings"
)

var includePattern = regexp.MustCompile(`^\s*INCLUDE\s+(.+)$`)

// Include is one include declaration found in a script.
type Include struct {
	Path string
	Line int
}

// ParseIncludes returns the include declarations of text in order.
// Comments are stripped first so commented-out includes are ignored.
func ParseIncludes(text string) []Include {
	var out []Include
	for i, line := range strings.Split(StripComments(text), "\n") {
		m := includePattern.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		target := strings.TrimSpace(m[1])
		if target == "" {
			continue
		}
		out = append(out, Include{Path: target, Line: i + 1})
	}
	return out
}

// StripComments removes // line comments and /* block */ comments.
// Newlines inside block comments are preserved so line numbers in the
// result match the original text.
func StripComments(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	for i := 0; i < len(text); i++ {
		c := text[i]
		if c != '/' || i+1 >= len(text) {
			b.WriteByte(c)
			continue
		}
		switch text[i+1] {
		case '/':
			end := strings.IndexByte(text[i:], '\n')
			if end < 0 {
				return b.String()
			}
			i += end - 1 // the newline itself is written next iteration
		case '*':
			end := strings.Index(text[i+2:], "*/")
			body := text[i+2:]
			if end >= 0 {
				body = body[:end]
			}
			b.WriteString(strings.Repeat("\n", strings.Count(body, "\n")))
			if end < 0 {
				return b.String()
			}
			i += 2 + end + 1
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// ResolveInclude resolves an include target relative to the directory of
// the including file. Both paths are slash-separated registry paths.
func ResolveInclude(includer, target string) string {
	target = strings.ReplaceAll(target, "\\", "/")
	if path.IsAbs(target) {
		return path.Clean(strings.TrimPrefix(target, "/"))
	}
	return path.Join(path.Dir(includer), target)
}
