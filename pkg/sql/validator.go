// Package sql provides SQL text utilities for blocking predicates: statement
// hygiene checks and join condition analysis.
package sql

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vfrank66/splink/pkg/apperrors"
)

var (
	// ErrMultipleStatements indicates the text contains multiple SQL statements.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")
	// ErrEmptyPredicate indicates a blank blocking predicate.
	ErrEmptyPredicate = errors.New("blocking predicate is empty")
	// ErrComment indicates a comment in a predicate. Predicates are spliced
	// into larger statements, where a line comment would swallow the rest.
	ErrComment = errors.New("comments are not allowed in blocking predicates")
	// ErrUnbalanced indicates parentheses that do not pair up.
	ErrUnbalanced = errors.New("unbalanced parentheses in blocking predicate")
)

// ValidatePredicate normalises a blocking predicate and rejects text that
// cannot be embedded as `ON (<predicate>)`: blank text, more than one
// statement, comments and unbalanced parentheses. The returned predicate is
// trimmed and has any trailing semicolon removed; it is otherwise unmodified.
func ValidatePredicate(predicate string) (string, error) {
	normalized := stripTrailingSemicolon(strings.TrimSpace(predicate))
	if normalized == "" {
		return "", fmt.Errorf("%w: %w", apperrors.ErrConfiguration, ErrEmptyPredicate)
	}
	if err := scanPredicate(normalized); err != nil {
		return "", fmt.Errorf("%w: %w", apperrors.ErrConfiguration, err)
	}
	return normalized, nil
}

// scanPredicate walks the text outside string literals and quoted
// identifiers looking for statement separators, comments and parenthesis
// depth.
func scanPredicate(predicate string) error {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
		stateBracket
	)

	state := stateNormal
	depth := 0
	prev := rune(0)

	for _, char := range predicate {
		switch state {
		case stateNormal:
			switch {
			case char == ';':
				return ErrMultipleStatements
			case char == '-' && prev == '-', char == '*' && prev == '/':
				return ErrComment
			case char == '(':
				depth++
			case char == ')':
				depth--
				if depth < 0 {
					return ErrUnbalanced
				}
			case char == '\'':
				state = stateSingleQuote
			case char == '"':
				state = stateDoubleQuote
			case char == '[':
				state = stateBracket
			}
		case stateSingleQuote:
			// A doubled quote ('') exits and immediately re-enters.
			if char == '\'' && prev != '\\' {
				state = stateNormal
				char = 0
			}
		case stateDoubleQuote:
			if char == '"' && prev != '\\' {
				state = stateNormal
				char = 0
			}
		case stateBracket:
			if char == ']' {
				state = stateNormal
				char = 0
			}
		}
		prev = char
	}

	if state != stateNormal {
		return fmt.Errorf("unterminated quote in blocking predicate")
	}
	if depth != 0 {
		return ErrUnbalanced
	}
	return nil
}

// stripTrailingSemicolon removes a trailing semicolon and any whitespace after it.
func stripTrailingSemicolon(sqlQuery string) string {
	sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	if strings.HasSuffix(sqlQuery, ";") {
		sqlQuery = strings.TrimSuffix(sqlQuery, ";")
		sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	}
	return sqlQuery
}
