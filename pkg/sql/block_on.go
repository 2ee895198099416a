package sql

import (
	"fmt"
	"strings"

	"github.com/pingcap/tidb/parser"
	"github.com/pingcap/tidb/parser/ast"
	"github.com/pingcap/tidb/parser/model"
	"github.com/pingcap/tidb/parser/mysql"

	"github.com/vfrank66/splink/pkg/apperrors"
)

// BlockOn builds an equi-join predicate requiring every column expression
// to match between the l and r records. Expressions may be plain column
// names or SQL expressions such as substr(surname, 1, 1); every column they
// reference is qualified with the side's alias.
func BlockOn(expressions []string, dialect string) (string, error) {
	if len(expressions) == 0 {
		return "", fmt.Errorf("%w: no column expressions to block on", apperrors.ErrConfiguration)
	}

	parts := make([]string, 0, len(expressions))
	for _, e := range expressions {
		left, err := qualify(e, leftAlias, dialect)
		if err != nil {
			return "", err
		}
		right, err := qualify(e, rightAlias, dialect)
		if err != nil {
			return "", err
		}
		parts = append(parts, fmt.Sprintf("%s = %s", left, right))
	}
	return strings.Join(parts, " AND "), nil
}

// qualify sets the table of every column in expr to alias.
func qualify(expr, alias, dialect string) (string, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return "", fmt.Errorf("%w: empty column expression", apperrors.ErrConfiguration)
	}
	if dialect == "sqlserver" || dialect == "mssql" {
		expr = bracketsToDoubleQuotes(expr)
	}

	p := parser.New()
	p.SetSQLMode(mysql.ModeANSIQuotes | mysql.ModePipesAsConcat)
	stmt, err := p.ParseOneStmt("SELECT "+expr+" FROM t", "", "")
	if err != nil {
		return "", fmt.Errorf("%w: parse column expression %q: %v", apperrors.ErrConfiguration, expr, err)
	}
	sel, ok := stmt.(*ast.SelectStmt)
	if !ok || sel.Fields == nil || len(sel.Fields.Fields) != 1 || sel.Fields.Fields[0].Expr == nil {
		return "", fmt.Errorf("%w: %q is not a single column expression", apperrors.ErrConfiguration, expr)
	}

	node := sel.Fields.Fields[0].Expr
	cols := collectColumns(node)
	if len(cols.columns) == 0 {
		return "", fmt.Errorf("%w: column expression %q references no column", apperrors.ErrConfiguration, expr)
	}
	for _, col := range cols.columns {
		col.Name.Schema = model.NewCIStr("")
		col.Name.Table = model.NewCIStr(alias)
	}
	return restore(node)
}
