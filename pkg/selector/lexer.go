package selector

import (
	"io"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Lexer splits a selector string into expressions. Every call to Next consumes exactly one token; if the token
// isn't a valid expression Next returns a ParseError and the lexer continues with the following input.
type Lexer struct {
	src   string
	start int
	pos   int
}

// NewLexer returns a lexer reading the passed selector
func NewLexer(selector string) *Lexer {
	return &Lexer{src: selector}
}

// Span returns the byte range of the last token returned by Next
func (l *Lexer) Span() Span {
	return Span{Start: l.start, End: l.pos}
}

// Next returns the next expression. io.EOF signals the end of the input.
func (l *Lexer) Next() (Expression, error) {
	l.pos = l.skip(l.pos, isSeparator)
	l.start = l.pos

	if l.pos >= len(l.src) {
		return Expression{}, io.EOF
	}

	r, size := utf8.DecodeRuneInString(l.src[l.pos:])
	if r == '!' {
		end := l.skip(l.pos+size, isKeyRune)
		if end == l.pos+size {
			return l.fail(size)
		}

		l.pos = end
		return DoesNotExist(l.src[l.start+size : end]), nil
	}

	if !isKeyRune(r) {
		return l.fail(size)
	}

	keyEnd := l.skip(l.pos, isKeyRune)
	key := l.src[l.pos:keyEnd]

	if expr, end, ok := l.matchEquality(key, keyEnd); ok {
		l.pos = end
		return expr, nil
	}

	if expr, end, ok := l.matchSet(key, keyEnd); ok {
		l.pos = end
		return expr, nil
	}

	l.pos = keyEnd
	return Exists(key), nil
}

func (l *Lexer) fail(size int) (Expression, error) {
	l.pos += size
	return Expression{}, ParseError{
		Fragment: l.src[l.start:l.pos],
		Span:     l.Span(),
	}
}

// matchEquality matches `\s*(=|==|!=)\s*value` after the key
func (l *Lexer) matchEquality(key string, pos int) (Expression, int, bool) {
	pos = l.skip(pos, unicode.IsSpace)
	rest := l.src[pos:]

	var op Operator
	switch {
	case strings.HasPrefix(rest, "=="):
		op = OpEqual
		pos += 2
	case strings.HasPrefix(rest, "!="):
		op = OpNotEqual
		pos += 2
	case strings.HasPrefix(rest, "="):
		op = OpEqual
		pos++
	default:
		return Expression{}, 0, false
	}

	pos = l.skip(pos, unicode.IsSpace)
	end := l.skip(pos, isValueRune)
	if end == pos {
		return Expression{}, 0, false
	}

	if op == OpEqual {
		return Equal(key, l.src[pos:end]), end, true
	}
	return NotEqual(key, l.src[pos:end]), end, true
}

// matchSet matches `\s+(in|notin)\s+\(values\)` after the key
func (l *Lexer) matchSet(key string, pos int) (Expression, int, bool) {
	next := l.skip(pos, unicode.IsSpace)
	if next == pos {
		return Expression{}, 0, false
	}
	pos = next
	rest := l.src[pos:]

	var op Operator
	switch {
	case strings.HasPrefix(rest, "notin"):
		op = OpNotIn
		pos += len("notin")
	case strings.HasPrefix(rest, "in"):
		op = OpIn
		pos += len("in")
	default:
		return Expression{}, 0, false
	}

	next = l.skip(pos, unicode.IsSpace)
	if next == pos || next >= len(l.src) || l.src[next] != '(' {
		return Expression{}, 0, false
	}

	listStart := next + 1
	listEnd := l.skip(listStart, isListRune)
	if listEnd >= len(l.src) || l.src[listEnd] != ')' {
		return Expression{}, 0, false
	}

	values := splitValueList(l.src[listStart:listEnd])
	if op == OpIn {
		return In(key, values...), listEnd + 1, true
	}
	return NotIn(key, values...), listEnd + 1, true
}

// skip returns the position of the first rune at or after pos which doesn't satisfy pred
func (l *Lexer) skip(pos int, pred func(rune) bool) int {
	for pos < len(l.src) {
		r, size := utf8.DecodeRuneInString(l.src[pos:])
		if !pred(r) {
			break
		}
		pos += size
	}
	return pos
}

func splitValueList(list string) []string {
	return strings.FieldsFunc(list, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
}

func isSeparator(r rune) bool {
	switch r {
	case ',', ' ', '\t', '\n', '\f', '\r':
		return true
	}
	return false
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
}

func isValueRune(r rune) bool {
	return r == '-' || r == '.' || isWordRune(r)
}

func isKeyRune(r rune) bool {
	return r == '/' || isValueRune(r)
}

func isListRune(r rune) bool {
	return r == ',' || unicode.IsSpace(r) || isValueRune(r)
}
