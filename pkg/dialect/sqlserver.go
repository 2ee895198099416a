package dialect

import (
	"fmt"
	"strings"
)

// SQLServer renders SQL for Microsoft SQL Server 2016+. Array columns are
// stored as JSON array text and exploded with OPENJSON.
type SQLServer struct{}

var _ Dialect = SQLServer{}

func (SQLServer) Name() string { return "sqlserver" }

// QuoteIdentifier wraps the name in brackets, doubling any closing bracket.
func (SQLServer) QuoteIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// NullAsFalse turns the predicate into a comparison since SQL Server has no
// boolean values.
func (SQLServer) NullAsFalse(predicate string) string {
	return fmt.Sprintf("(CASE WHEN (%s) THEN 1 ELSE 0 END = 1)", predicate)
}

func (SQLServer) Concat(parts ...string) string {
	if len(parts) == 1 {
		return parts[0]
	}
	return "CONCAT(" + strings.Join(parts, ", ") + ")"
}

func (SQLServer) CastText(expr string) string {
	return fmt.Sprintf("CAST(%s AS NVARCHAR(4000))", expr)
}

func (SQLServer) SaltExpr(expr string) string {
	return fmt.Sprintf("(CAST(CAST(HASHBYTES('MD5', %s) AS BINARY(4)) AS BIGINT) / 4294967296.0)", expr)
}

func (s SQLServer) ExplodeSQL(table string, arrayColumns, retainColumns []string) string {
	cols := make([]string, 0, len(arrayColumns)+len(retainColumns))
	applies := make([]string, 0, len(arrayColumns))
	for _, c := range retainColumns {
		cols = append(cols, Qualify(s, "t", c))
	}
	for i, c := range arrayColumns {
		alias := fmt.Sprintf("x%d", i+1)
		q := s.QuoteIdentifier(c)
		cols = append(cols, fmt.Sprintf("%s.[value] AS %s", alias, q))
		applies = append(applies, fmt.Sprintf("CROSS APPLY OPENJSON(t.%s) AS %s", q, alias))
	}
	return fmt.Sprintf("SELECT %s FROM %s AS t %s", strings.Join(cols, ", "), table, strings.Join(applies, " "))
}

// CreateTableAs uses SELECT ... INTO; a CTE prefix must lead the statement.
func (SQLServer) CreateTableAs(table, with, selectBody string) string {
	return fmt.Sprintf("%sSELECT * INTO %s FROM (%s) AS src", with, table, selectBody)
}

func (SQLServer) DropTable(table string) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", table)
}
