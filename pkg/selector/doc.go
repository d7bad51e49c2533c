// Package selector parses label selectors like `app=web,tier in (frontend,backend),!canary` into
// Expressions and evaluates them against label sets.
//
// A selector is a list of expressions separated by commas or whitespace. The supported forms are
// `key`, `!key`, `key=value`, `key==value`, `key!=value`, `key in (a,b)` and `key notin (a,b)`.
// Keys may contain letters, digits and `_-./`, values the same without `/`.
package selector
