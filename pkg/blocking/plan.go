package blocking

import (
	"fmt"
	"strings"

	"github.com/vfrank66/splink/pkg/apperrors"
	"github.com/vfrank66/splink/pkg/dialect"
	"github.com/vfrank66/splink/pkg/models"
)

// AlwaysTrue is the predicate substituted when a plan has no rules, which
// yields every pair the link type allows.
const AlwaysTrue = "1=1"

// ExplodedState is the lifecycle of an exploding rule's id pair table:
// unmaterialised until a handle is attached.
type ExplodedState struct {
	table *models.TableHandle
}

// Unmaterialized is the initial state.
var Unmaterialized = ExplodedState{}

// Materialized returns the state holding table.
func Materialized(table models.TableHandle) ExplodedState {
	return ExplodedState{table: &table}
}

// Table returns the id pair table and whether one is attached.
func (s ExplodedState) Table() (models.TableHandle, bool) {
	if s.table == nil {
		return models.TableHandle{}, false
	}
	return *s.table, true
}

func (s ExplodedState) IsMaterialized() bool { return s.table != nil }

// AssembledRule is a rule at its position in a plan.
type AssembledRule struct {
	Rule Rule
	// MatchKey is the number of rules before this one.
	MatchKey int
	// State is meaningful for exploding rules only.
	State ExplodedState
}

// Plan is an immutable, ordered set of rules. Each rule's exclusion covers
// every rule before it.
type Plan struct {
	rules []AssembledRule
}

// Assemble orders rules into a plan, assigning match keys by position. An
// empty list becomes a single always-true rule.
func Assemble(rules []Rule) Plan {
	if len(rules) == 0 {
		r, _ := NewRule(AlwaysTrue)
		rules = []Rule{r}
	}
	out := make([]AssembledRule, len(rules))
	for i, r := range rules {
		out[i] = AssembledRule{Rule: r, MatchKey: i, State: Unmaterialized}
	}
	return Plan{rules: out}
}

// Rules returns the assembled rules in match key order.
func (p Plan) Rules() []AssembledRule {
	out := make([]AssembledRule, len(p.rules))
	copy(out, p.rules)
	return out
}

func (p Plan) Len() int { return len(p.rules) }

// Rule returns the rule at matchKey.
func (p Plan) Rule(matchKey int) (AssembledRule, bool) {
	if matchKey < 0 || matchKey >= len(p.rules) {
		return AssembledRule{}, false
	}
	return p.rules[matchKey], true
}

// Preceding returns the rules before matchKey.
func (p Plan) Preceding(matchKey int) []AssembledRule {
	if matchKey <= 0 {
		return nil
	}
	if matchKey > len(p.rules) {
		matchKey = len(p.rules)
	}
	out := make([]AssembledRule, matchKey)
	copy(out, p.rules[:matchKey])
	return out
}

// Exploding returns the exploding rules in authored order.
func (p Plan) Exploding() []AssembledRule {
	var out []AssembledRule
	for _, ar := range p.rules {
		if ar.Rule.Kind() == KindExploding {
			out = append(out, ar)
		}
	}
	return out
}

// HasSalted reports whether any rule is salted, meaning the concatenated
// input needs a salt column.
func (p Plan) HasSalted() bool {
	for _, ar := range p.rules {
		if ar.Rule.Kind() == KindSalted {
			return true
		}
	}
	return false
}

// MaterializedTables lists the id pair tables attached to the plan.
func (p Plan) MaterializedTables() []models.TableHandle {
	var out []models.TableHandle
	for _, ar := range p.rules {
		if t, ok := ar.State.Table(); ok {
			out = append(out, t)
		}
	}
	return out
}

// WithMaterialized returns a copy of the plan with the exploding rule at
// matchKey attached to table.
func (p Plan) WithMaterialized(matchKey int, table models.TableHandle) (Plan, error) {
	ar, ok := p.Rule(matchKey)
	if !ok {
		return Plan{}, fmt.Errorf("%w: no rule with match key %d", apperrors.ErrPrecondition, matchKey)
	}
	if ar.Rule.Kind() != KindExploding {
		return Plan{}, fmt.Errorf("%w: rule with match key %d is %s, not exploding",
			apperrors.ErrPrecondition, matchKey, ar.Rule.Kind())
	}
	if table.PhysicalName == "" {
		return Plan{}, fmt.Errorf("%w: table handle has no physical name", apperrors.ErrPrecondition)
	}
	next := p.Rules()
	next[matchKey].State = Materialized(table)
	return Plan{rules: next}, nil
}

// exclusionClause renders the condition that a pair was claimed by ar.
func (rc RenderContext) exclusionClause(ar AssembledRule) (string, error) {
	switch ar.Rule.Kind() {
	case KindStandard, KindSalted:
		return rc.Dialect.NullAsFalse(ar.Rule.Predicate()), nil
	case KindExploding:
		t, ok := ar.State.Table()
		if !ok {
			return "", fmt.Errorf("%w: exploding rule with match key %d is referenced before its id pair table is materialised",
				apperrors.ErrPrecondition, ar.MatchKey)
		}
		return fmt.Sprintf("EXISTS (SELECT 1 FROM %s AS ids WHERE %s = ids.%s AND %s = ids.%s)",
			t.PhysicalName,
			rc.idExpr("l"), rc.pairIDColumn("l"),
			rc.idExpr("r"), rc.pairIDColumn("r")), nil
	default:
		return "", fmt.Errorf("unknown rule kind %s", ar.Rule.Kind())
	}
}

// ExclusionSQL renders "AND NOT (x_0 OR ... OR x_{k-1})" for the rule at
// matchKey, or "" for the first rule.
func (p Plan) ExclusionSQL(rc RenderContext, matchKey int) (string, error) {
	preceding := p.Preceding(matchKey)
	if len(preceding) == 0 {
		return "", nil
	}
	clauses := make([]string, 0, len(preceding))
	for _, ar := range preceding {
		c, err := rc.exclusionClause(ar)
		if err != nil {
			return "", err
		}
		clauses = append(clauses, c)
	}
	return "AND NOT (" + strings.Join(clauses, " OR ") + ")", nil
}

// BlockedPairsSQL renders the full candidate pair query: every rule's
// fragment joined with UNION ALL. deterministic adds a constant
// match_probability of 1.
func (p Plan) BlockedPairsSQL(rc RenderContext, in Inputs, deterministic bool) (string, error) {
	if err := rc.Validate(); err != nil {
		return "", err
	}
	fragments := make([]string, 0, len(p.rules))
	for _, ar := range p.rules {
		f, err := p.fragmentSQL(rc, in, ar, deterministic)
		if err != nil {
			return "", err
		}
		fragments = append(fragments, f)
	}
	return strings.Join(fragments, "\nUNION ALL\n"), nil
}

// FragmentSQL renders the pairs of the rule at matchKey alone, with its
// exclusion applied.
func (p Plan) FragmentSQL(rc RenderContext, in Inputs, matchKey int, deterministic bool) (string, error) {
	if err := rc.Validate(); err != nil {
		return "", err
	}
	ar, ok := p.Rule(matchKey)
	if !ok {
		return "", fmt.Errorf("%w: no rule with match key %d", apperrors.ErrPrecondition, matchKey)
	}
	return p.fragmentSQL(rc, in, ar, deterministic)
}

func (p Plan) fragmentSQL(rc RenderContext, in Inputs, ar AssembledRule, deterministic bool) (string, error) {
	probability := ""
	if deterministic {
		probability = ", 1.00 AS match_probability"
	}
	head := fmt.Sprintf("SELECT %s, '%d' AS match_key%s", rc.selectColumns(), ar.MatchKey, probability)

	if ar.Rule.Kind() == KindExploding {
		t, ok := ar.State.Table()
		if !ok {
			return "", fmt.Errorf("%w: exploding rule with match key %d has no materialised id pair table",
				apperrors.ErrPrecondition, ar.MatchKey)
		}
		return fmt.Sprintf("%s\nFROM %s AS pairs\nLEFT JOIN %s AS l ON pairs.%s = %s\nLEFT JOIN %s AS r ON pairs.%s = %s",
			head, t.PhysicalName,
			in.Left, rc.pairIDColumn("l"), rc.idExpr("l"),
			in.Right, rc.pairIDColumn("r"), rc.idExpr("r")), nil
	}

	exclusion, err := p.ExclusionSQL(rc, ar.MatchKey)
	if err != nil {
		return "", err
	}
	where := rc.whereCondition()

	if ar.Rule.Kind() == KindSalted {
		n := ar.Rule.SaltCount()
		parts := make([]string, 0, n)
		for i := 0; i < n; i++ {
			on := fmt.Sprintf("(%s) AND floor(%s * %d) = %d",
				ar.Rule.Predicate(), dialect.Qualify(rc.Dialect, "l", SaltColumn), n, i)
			parts = append(parts, joinSQL(head, in, on, where, exclusion))
		}
		return strings.Join(parts, "\nUNION ALL\n"), nil
	}

	return joinSQL(head, in, ar.Rule.Predicate(), where, exclusion), nil
}

func joinSQL(head string, in Inputs, on, where, exclusion string) string {
	sql := fmt.Sprintf("%s\nFROM %s AS l\nINNER JOIN %s AS r\nON (%s)\n%s", head, in.Left, in.Right, on, where)
	if exclusion != "" {
		sql += "\n" + exclusion
	}
	return sql
}

// MarginalExplodedIDPairsSQL selects the distinct id pairs the exploding
// rule at matchKey contributes beyond every preceding rule, joining the
// unnested input to itself.
func (p Plan) MarginalExplodedIDPairsSQL(rc RenderContext, matchKey int, unnestedTable string) (string, error) {
	if err := rc.Validate(); err != nil {
		return "", err
	}
	ar, ok := p.Rule(matchKey)
	if !ok {
		return "", fmt.Errorf("%w: no rule with match key %d", apperrors.ErrPrecondition, matchKey)
	}
	if ar.Rule.Kind() != KindExploding {
		return "", fmt.Errorf("%w: rule with match key %d is not exploding", apperrors.ErrPrecondition, matchKey)
	}

	where := rc.whereCondition()
	if !rc.LinkType.SameInputSet() {
		sd := rc.SourceDatasetColumn
		where += fmt.Sprintf(" AND %s < %s", dialect.Qualify(rc.Dialect, "l", sd), dialect.Qualify(rc.Dialect, "r", sd))
	}
	exclusion, err := p.ExclusionSQL(rc, matchKey)
	if err != nil {
		return "", err
	}

	sql := fmt.Sprintf("SELECT DISTINCT %s AS %s, %s AS %s\nFROM %s AS l\nINNER JOIN %s AS r\nON (%s)\n%s",
		rc.idExpr("l"), rc.pairIDColumn("l"),
		rc.idExpr("r"), rc.pairIDColumn("r"),
		unnestedTable, unnestedTable, ar.Rule.Predicate(), where)
	if exclusion != "" {
		sql += "\n" + exclusion
	}
	return sql, nil
}
