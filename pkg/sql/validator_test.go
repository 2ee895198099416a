package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vfrank66/splink/pkg/apperrors"
)

func TestValidatePredicate_Accepts(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"equi join", "l.first_name = r.first_name", "l.first_name = r.first_name"},
		{"trailing semicolon", "l.dob = r.dob;", "l.dob = r.dob"},
		{"semicolon and whitespace", "  l.dob = r.dob ;  \n", "l.dob = r.dob"},
		{"function calls", "substr(l.surname, 1, 3) = substr(r.surname, 1, 3)", "substr(l.surname, 1, 3) = substr(r.surname, 1, 3)"},
		{"nested parentheses", "(l.a = r.a AND (l.b = r.b OR l.c = r.c))", "(l.a = r.a AND (l.b = r.b OR l.c = r.c))"},
		{"semicolon in literal", "l.note = 'a;b'", "l.note = 'a;b'"},
		{"parenthesis in literal", "l.city = ')' AND l.a = r.a", "l.city = ')' AND l.a = r.a"},
		{"dashes in literal", "l.postcode != '--'", "l.postcode != '--'"},
		{"escaped quote", "l.surname = 'O''Brien'", "l.surname = 'O''Brien'"},
		{"backslash escaped quote", `l.surname = 'O\'Brien'`, `l.surname = 'O\'Brien'`},
		{"quoted identifier", `l."first;name" = r."first;name"`, `l."first;name" = r."first;name"`},
		{"bracketed identifier", "l.[first--name] = r.[first--name]", "l.[first--name] = r.[first--name]"},
		{"subtraction", "l.age - r.age < 2", "l.age - r.age < 2"},
		{"division", "l.a / r.b > 1", "l.a / r.b > 1"},
		{"multiline", "l.a = r.a\nAND l.b = r.b", "l.a = r.a\nAND l.b = r.b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidatePredicate(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestValidatePredicate_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"empty", "", ErrEmptyPredicate},
		{"whitespace", "  \t\n", ErrEmptyPredicate},
		{"only semicolon", ";", ErrEmptyPredicate},
		{"two statements", "l.a = r.a; select 1", ErrMultipleStatements},
		{"double semicolon", "l.a = r.a;;", ErrMultipleStatements},
		{"semicolon after literal", "l.note = 'a;b'; drop table x", ErrMultipleStatements},
		{"line comment", "l.a = r.a -- same a", ErrComment},
		{"block comment", "l.a = r.a /* same a */", ErrComment},
		{"unclosed parenthesis", "(l.a = r.a", ErrUnbalanced},
		{"escaping parenthesis", "l.a = r.a) OR (1=1", ErrUnbalanced},
		{"extra close", "l.a = r.a)", ErrUnbalanced},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidatePredicate(tt.input)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, apperrors.ErrConfiguration)
		})
	}
}

func TestValidatePredicate_UnterminatedQuote(t *testing.T) {
	for _, input := range []string{"l.a = 'x", `l."a = r.a`, "l.[a = r.a"} {
		_, err := ValidatePredicate(input)
		require.Error(t, err, input)
		assert.ErrorIs(t, err, apperrors.ErrConfiguration)
		assert.ErrorContains(t, err, "unterminated quote")
	}
}

func TestStripTrailingSemicolon(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"l.a = r.a", "l.a = r.a"},
		{"l.a = r.a;", "l.a = r.a"},
		{"l.a = r.a ;\n\t", "l.a = r.a"},
		{"l.a = r.a;;", "l.a = r.a;"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, stripTrailingSemicolon(tt.input), tt.input)
	}
}
