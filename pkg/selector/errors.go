package selector

import "fmt"

// Span marks a byte range [Start, End) in a selector string
type Span struct {
	Start int
	End   int
}

func (s Span) String() string {
	return fmt.Sprintf("%d..%d", s.Start, s.End)
}

// ParseError is returned for input that doesn't start any valid expression
type ParseError struct {
	Fragment string
	Span     Span
}

var _ error = (*ParseError)(nil)

func (e ParseError) Error() string {
	return fmt.Sprintf("failed to parse value as expression: '%s' at %s", e.Fragment, e.Span)
}
