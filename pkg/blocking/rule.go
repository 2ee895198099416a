// Package blocking compiles ordered blocking rules into the SQL that
// generates candidate record pairs. Each pair is produced by exactly one
// rule: the first rule, in authored order, whose predicate it satisfies.
package blocking

import (
	"fmt"
	"strings"

	"github.com/vfrank66/splink/pkg/apperrors"
	"github.com/vfrank66/splink/pkg/dialect"
	"github.com/vfrank66/splink/pkg/models"
	"github.com/vfrank66/splink/pkg/sql"
)

// Kind identifies the variant of a Rule.
type Kind int

const (
	// KindStandard is a plain self-join predicate.
	KindStandard Kind = iota
	// KindSalted shards the rule's pairs into SaltCount partitions.
	KindSalted
	// KindExploding joins on array elements through a pre-materialised id
	// pair table.
	KindExploding
)

func (k Kind) String() string {
	switch k {
	case KindStandard:
		return "standard"
	case KindSalted:
		return "salted"
	case KindExploding:
		return "exploding"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// DefaultDescription labels rules built without WithDescription.
const DefaultDescription = "Custom"

// abbreviateAt is the predicate length shown by Rule.String.
const abbreviateAt = 75

// Rule is an immutable blocking rule. Construct with NewRule,
// NewSaltedRule, NewExplodingRule or FromDescription; the zero value is not
// a valid rule.
type Rule struct {
	kind         Kind
	predicate    string
	dialect      string
	description  string
	saltCount    int
	arrayColumns []string
}

// Option customises a rule at construction.
type Option func(*Rule)

// WithDialect records the SQL dialect the predicate is written in.
func WithDialect(dialect string) Option {
	return func(r *Rule) { r.dialect = dialect }
}

// WithDescription sets the label used by String.
func WithDescription(description string) Option {
	return func(r *Rule) { r.description = description }
}

// NewRule builds a standard rule.
func NewRule(predicate string, opts ...Option) (Rule, error) {
	return newRule(KindStandard, predicate, opts)
}

// NewSaltedRule builds a rule whose pairs are split into saltCount
// partitions. saltCount must be greater than one.
func NewSaltedRule(predicate string, saltCount int, opts ...Option) (Rule, error) {
	if saltCount <= 1 {
		return Rule{}, fmt.Errorf("%w: salting partitions must be greater than 1, got %d", apperrors.ErrConfiguration, saltCount)
	}
	r, err := newRule(KindSalted, predicate, opts)
	if err != nil {
		return Rule{}, err
	}
	r.saltCount = saltCount
	return r, nil
}

// NewExplodingRule builds a rule that joins on the elements of the given
// array columns. Duplicate column names are dropped, first occurrence wins.
func NewExplodingRule(predicate string, arrayColumns []string, opts ...Option) (Rule, error) {
	cols, err := normaliseColumns(arrayColumns)
	if err != nil {
		return Rule{}, err
	}
	r, err := newRule(KindExploding, predicate, opts)
	if err != nil {
		return Rule{}, err
	}
	r.arrayColumns = cols
	return r, nil
}

// FromDescription builds the variant a description names. Salting and
// exploding together is a configuration error.
func FromDescription(d models.BlockingRuleDescription) (Rule, error) {
	var opts []Option
	if d.SQLDialect != "" {
		opts = append(opts, WithDialect(d.SQLDialect))
	}

	switch {
	case d.SaltingPartitions != nil && d.ArraysToExplode != nil:
		return Rule{}, fmt.Errorf("%w: a blocking rule cannot be both salted and exploding", apperrors.ErrConfiguration)
	case d.SaltingPartitions != nil:
		return NewSaltedRule(d.BlockingRule, *d.SaltingPartitions, opts...)
	case d.ArraysToExplode != nil:
		return NewExplodingRule(d.BlockingRule, d.ArraysToExplode, opts...)
	default:
		return NewRule(d.BlockingRule, opts...)
	}
}

// FromDescriptions converts descriptions in order. The first failure is
// returned with the index of the offending rule.
func FromDescriptions(descs []models.BlockingRuleDescription) ([]Rule, error) {
	rules := make([]Rule, 0, len(descs))
	for i, d := range descs {
		r, err := FromDescription(d)
		if err != nil {
			return nil, fmt.Errorf("blocking rule %d: %w", i, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func newRule(kind Kind, predicate string, opts []Option) (Rule, error) {
	p, err := sql.ValidatePredicate(predicate)
	if err != nil {
		return Rule{}, err
	}
	r := Rule{kind: kind, predicate: p, description: DefaultDescription}
	for _, opt := range opts {
		opt(&r)
	}
	if r.dialect != "" {
		if _, err := dialect.Get(r.dialect); err != nil {
			return Rule{}, err
		}
	}
	return r, nil
}

func normaliseColumns(columns []string) ([]string, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: exploding blocking rule needs at least one array column", apperrors.ErrConfiguration)
	}
	seen := make(map[string]struct{}, len(columns))
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		c = strings.TrimSpace(c)
		if c == "" {
			return nil, fmt.Errorf("%w: empty array column name", apperrors.ErrConfiguration)
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out, nil
}

func (r Rule) Kind() Kind { return r.kind }

// Predicate is the normalised predicate text over the l and r aliases.
func (r Rule) Predicate() string { return r.predicate }

// Dialect is the dialect recorded at construction, possibly empty.
func (r Rule) Dialect() string { return r.dialect }

// SaltCount is the number of partitions of a salted rule and 1 otherwise.
func (r Rule) SaltCount() int {
	if r.kind != KindSalted {
		return 1
	}
	return r.saltCount
}

// ArrayColumns returns a copy of the exploded columns of an exploding rule.
func (r Rule) ArrayColumns() []string {
	if len(r.arrayColumns) == 0 {
		return nil
	}
	out := make([]string, len(r.arrayColumns))
	copy(out, r.arrayColumns)
	return out
}

// Description returns the minimal serialisable form. FromDescription of the
// result rebuilds an equal rule.
func (r Rule) Description() models.BlockingRuleDescription {
	d := models.BlockingRuleDescription{
		BlockingRule: r.predicate,
		SQLDialect:   r.dialect,
	}
	switch r.kind {
	case KindSalted:
		n := r.saltCount
		d.SaltingPartitions = &n
	case KindExploding:
		d.ArraysToExplode = r.ArrayColumns()
	}
	return d
}

// String renders e.g. "Custom blocking rule using SQL: l.a = r.a".
func (r Rule) String() string {
	p := r.predicate
	if len(p) > abbreviateAt {
		p = p[:abbreviateAt] + "..."
	}
	return fmt.Sprintf("%s blocking rule using SQL: %s", r.description, p)
}

// Equal reports whether two rules are the same variant with the same
// parameters.
func (r Rule) Equal(o Rule) bool {
	if r.kind != o.kind || r.predicate != o.predicate || r.dialect != o.dialect || r.saltCount != o.saltCount {
		return false
	}
	if len(r.arrayColumns) != len(o.arrayColumns) {
		return false
	}
	for i := range r.arrayColumns {
		if r.arrayColumns[i] != o.arrayColumns[i] {
			return false
		}
	}
	return true
}
