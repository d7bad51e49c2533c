package selector

import (
	"io"

	"go.uber.org/multierr"
)

// Parse parses a full selector. It stops at the first invalid token and returns its ParseError.
func Parse(selector string) (Expressions, error) {
	lexer := NewLexer(selector)
	result := make(Expressions, 0)

	for {
		expr, err := lexer.Next()
		if err == io.EOF {
			return result, nil
		}
		if err != nil {
			return nil, err
		}

		result = append(result, expr)
	}
}

// ParseAll parses the whole selector even if it contains invalid tokens. All valid expressions are returned
// together with the combined errors of all invalid tokens (use multierr.Errors to split them).
func ParseAll(selector string) (Expressions, error) {
	lexer := NewLexer(selector)
	result := make(Expressions, 0)

	var errs error
	for {
		expr, err := lexer.Next()
		if err == io.EOF {
			return result, errs
		}
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}

		result = append(result, expr)
	}
}

// MustParse is like Parse but panics if the selector is invalid
func MustParse(selector string) Expressions {
	result, err := Parse(selector)
	if err != nil {
		panic(err)
	}
	return result
}
