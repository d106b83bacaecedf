package storage

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// statementKind is how Execute runs a statement.
type statementKind int

const (
	kindExec  statementKind = iota // mutating: affected count only
	kindQuery                      // row-returning
)

func (k statementKind) String() string {
	if k == kindQuery {
		return "query"
	}
	return "exec"
}

// classify treats a statement as row-returning when it starts with SELECT or
// carries a RETURNING clause, both case-insensitive. Everything else is
// mutating.
func classify(stmt string) statementKind {
	trimmed := strings.TrimSpace(stmt)
	if len(trimmed) >= 6 && strings.EqualFold(trimmed[:6], "SELECT") {
		return kindQuery
	}
	if containsWord(strings.ToUpper(stmt), "RETURNING") {
		return kindQuery
	}
	return kindExec
}

// containsWord reports whether word appears in s bounded by non-identifier
// characters, so a column named "returning_at" does not count.
func containsWord(s, word string) bool {
	for i := 0; ; {
		j := strings.Index(s[i:], word)
		if j < 0 {
			return false
		}
		start := i + j
		end := start + len(word)
		before := start == 0 || !isIdentRune(rune(s[start-1]))
		after := end == len(s) || !isIdentRune(rune(s[end]))
		if before && after {
			return true
		}
		i = end
	}
}

func isIdentRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// rebind rewrites the abstract '?' placeholders of template using the
// dialect's placeholder function, left to right. Question marks inside
// single-quoted string literals, "--" line comments and "/* */" block
// comments are copied through unchanged.
//
// It fails when the template is empty or the number of placeholders differs
// from argCount; the adapter reports both as ErrMalformedStatement.
func rebind(template string, argCount int, placeholder func(n int) string) (string, error) {
	if strings.TrimSpace(template) == "" {
		return "", errors.New("empty statement")
	}

	var b strings.Builder
	b.Grow(len(template) + argCount*2)

	n := 0
	for i := 0; i < len(template); i++ {
		c := template[i]
		switch {
		case c == '\'':
			// A doubled quote ('') inside a literal shows up as two adjacent
			// literals here, which copies through the same way.
			end := strings.IndexByte(template[i+1:], '\'')
			if end < 0 {
				b.WriteString(template[i:])
				i = len(template)
				continue
			}
			b.WriteString(template[i : i+end+2])
			i += end + 1
		case c == '-' && strings.HasPrefix(template[i:], "--"):
			end := strings.IndexByte(template[i:], '\n')
			if end < 0 {
				end = len(template) - i
			}
			b.WriteString(template[i : i+end])
			i += end - 1
		case c == '/' && strings.HasPrefix(template[i:], "/*"):
			end := strings.Index(template[i+2:], "*/")
			if end < 0 {
				b.WriteString(template[i:])
				i = len(template)
				continue
			}
			b.WriteString(template[i : i+end+4])
			i += end + 3
		case c == '?':
			n++
			b.WriteString(placeholder(n))
		default:
			b.WriteByte(c)
		}
	}

	if n != argCount {
		return "", fmt.Errorf("statement has %d placeholders but %d parameters", n, argCount)
	}
	return b.String(), nil
}
