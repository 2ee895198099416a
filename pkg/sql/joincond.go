package sql

import (
	"fmt"
	"strings"

	"github.com/pingcap/tidb/parser"
	"github.com/pingcap/tidb/parser/ast"
	"github.com/pingcap/tidb/parser/format"
	"github.com/pingcap/tidb/parser/model"
	"github.com/pingcap/tidb/parser/mysql"
	"github.com/pingcap/tidb/parser/opcode"

	// Literal values in parsed expressions need a driver.
	_ "github.com/pingcap/tidb/parser/test_driver"

	"github.com/vfrank66/splink/pkg/apperrors"
)

const (
	leftAlias  = "l"
	rightAlias = "r"
)

// KeyPair is one equality between an expression on the left record and an
// expression on the right record, with the l./r. table prefix removed.
type KeyPair struct {
	Left  string
	Right string
}

// JoinCondition splits a blocking predicate into equi-join keys and the
// remaining filter conditions.
type JoinCondition struct {
	EquiKeys []KeyPair
	// Residual holds every conjunct that is not an l/r equality, joined with
	// AND. Empty when the predicate is entirely equi-join keys.
	Residual string
}

// HasEquiKeys reports whether at least one equi-join key was found.
func (j JoinCondition) HasEquiKeys() bool {
	return len(j.EquiKeys) > 0
}

// ParseJoinCondition analyses a blocking predicate written against the l and
// r aliases. The result is informational and is rendered in a normalised
// form; it is never spliced back into executable SQL.
//
// Double quoted identifiers are accepted for every dialect. SQL Server
// bracket quoting is converted before parsing when dialect is "sqlserver".
func ParseJoinCondition(predicate, dialect string) (JoinCondition, error) {
	predicate, err := ValidatePredicate(predicate)
	if err != nil {
		return JoinCondition{}, err
	}
	if dialect == "sqlserver" || dialect == "mssql" {
		predicate = bracketsToDoubleQuotes(predicate)
	}

	p := parser.New()
	p.SetSQLMode(mysql.ModeANSIQuotes | mysql.ModePipesAsConcat)

	text := fmt.Sprintf("SELECT 1 FROM t AS %s INNER JOIN t AS %s ON %s", leftAlias, rightAlias, predicate)
	stmt, err := p.ParseOneStmt(text, "", "")
	if err != nil {
		return JoinCondition{}, fmt.Errorf("%w: parse blocking predicate: %v", apperrors.ErrConfiguration, err)
	}

	on, err := onCondition(stmt)
	if err != nil {
		return JoinCondition{}, err
	}

	var result JoinCondition
	var residual []string
	for _, conj := range splitConjunction(on) {
		if key, ok := equiKey(conj); ok {
			result.EquiKeys = append(result.EquiKeys, key)
			continue
		}
		s, err := restore(conj)
		if err != nil {
			return JoinCondition{}, err
		}
		residual = append(residual, s)
	}
	result.Residual = strings.Join(residual, " AND ")
	return result, nil
}

func onCondition(stmt ast.StmtNode) (ast.ExprNode, error) {
	sel, ok := stmt.(*ast.SelectStmt)
	if !ok || sel.From == nil || sel.From.TableRefs == nil {
		return nil, fmt.Errorf("%w: blocking predicate is not a join condition", apperrors.ErrConfiguration)
	}
	join := sel.From.TableRefs
	if join.On == nil || join.On.Expr == nil {
		return nil, fmt.Errorf("%w: blocking predicate is not a join condition", apperrors.ErrConfiguration)
	}
	return join.On.Expr, nil
}

// splitConjunction flattens nested AND expressions, looking through
// parentheses that wrap a conjunction.
func splitConjunction(expr ast.ExprNode) []ast.ExprNode {
	switch x := expr.(type) {
	case *ast.BinaryOperationExpr:
		if x.Op == opcode.LogicAnd {
			return append(splitConjunction(x.L), splitConjunction(x.R)...)
		}
	case *ast.ParenthesesExpr:
		if inner, ok := x.Expr.(*ast.BinaryOperationExpr); ok && inner.Op == opcode.LogicAnd {
			return splitConjunction(inner)
		}
	}
	return []ast.ExprNode{expr}
}

func equiKey(expr ast.ExprNode) (KeyPair, bool) {
	for {
		p, ok := expr.(*ast.ParenthesesExpr)
		if !ok {
			break
		}
		expr = p.Expr
	}
	bin, ok := expr.(*ast.BinaryOperationExpr)
	if !ok || bin.Op != opcode.EQ {
		return KeyPair{}, false
	}

	lhs, rhs := bin.L, bin.R
	lt, rt := referencedTables(lhs), referencedTables(rhs)
	switch {
	case onlyTable(lt, leftAlias) && onlyTable(rt, rightAlias):
	case onlyTable(lt, rightAlias) && onlyTable(rt, leftAlias):
		lhs, rhs = rhs, lhs
	default:
		return KeyPair{}, false
	}

	left, err := restore(stripTablePrefix(lhs))
	if err != nil {
		return KeyPair{}, false
	}
	right, err := restore(stripTablePrefix(rhs))
	if err != nil {
		return KeyPair{}, false
	}
	return KeyPair{Left: left, Right: right}, true
}

func onlyTable(tables map[string]struct{}, alias string) bool {
	if len(tables) != 1 {
		return false
	}
	_, ok := tables[alias]
	return ok
}

// columnCollector records the table qualifier of every column reference.
// Unqualified columns are recorded under the empty name.
type columnCollector struct {
	tables  map[string]struct{}
	columns []*ast.ColumnNameExpr
}

func (c *columnCollector) Enter(in ast.Node) (ast.Node, bool) {
	if col, ok := in.(*ast.ColumnNameExpr); ok {
		c.tables[col.Name.Table.L] = struct{}{}
		c.columns = append(c.columns, col)
		return in, true
	}
	return in, false
}

func (c *columnCollector) Leave(in ast.Node) (ast.Node, bool) {
	return in, true
}

func collectColumns(expr ast.ExprNode) *columnCollector {
	c := &columnCollector{tables: make(map[string]struct{})}
	expr.Accept(c)
	return c
}

func referencedTables(expr ast.ExprNode) map[string]struct{} {
	return collectColumns(expr).tables
}

// stripTablePrefix removes table qualifiers in place. The parsed tree is
// private to ParseJoinCondition, so mutation is safe.
func stripTablePrefix(expr ast.ExprNode) ast.ExprNode {
	for _, col := range collectColumns(expr).columns {
		col.Name.Table = model.NewCIStr("")
		col.Name.Schema = model.NewCIStr("")
	}
	return expr
}

func restore(node ast.Node) (string, error) {
	var sb strings.Builder
	flags := format.RestoreStringSingleQuotes | format.RestoreKeyWordLowercase | format.RestoreSpacesAroundBinaryOperation | format.RestoreNameDoubleQuotes
	if err := node.Restore(format.NewRestoreCtx(flags, &sb)); err != nil {
		return "", fmt.Errorf("restore expression: %w", err)
	}
	return sb.String(), nil
}

// bracketsToDoubleQuotes rewrites [name] identifiers outside string literals.
func bracketsToDoubleQuotes(s string) string {
	var sb strings.Builder
	inString := false
	for _, ch := range s {
		switch {
		case ch == '\'':
			inString = !inString
			sb.WriteRune(ch)
		case !inString && (ch == '[' || ch == ']'):
			sb.WriteRune('"')
		default:
			sb.WriteRune(ch)
		}
	}
	return sb.String()
}
