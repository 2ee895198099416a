package dialect

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Postgres renders SQL for PostgreSQL 12+.
type Postgres struct{}

var _ Dialect = Postgres{}

func (Postgres) Name() string { return "postgres" }

// QuoteIdentifier uses pgx's identifier sanitising, the same quoting the
// postgres adapter applies.
func (Postgres) QuoteIdentifier(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func (Postgres) NullAsFalse(predicate string) string {
	return fmt.Sprintf("coalesce((%s), false)", predicate)
}

func (Postgres) Concat(parts ...string) string {
	return strings.Join(parts, " || ")
}

func (Postgres) CastText(expr string) string {
	return fmt.Sprintf("CAST(%s AS text)", expr)
}

// SaltExpr takes the first 32 bits of the md5 digest as an unsigned integer
// and scales it into [0, 1).
func (Postgres) SaltExpr(expr string) string {
	return fmt.Sprintf("((('x' || substr(md5(%s), 1, 8))::bit(32)::int::bigint + 2147483648) / 4294967296.0)", expr)
}

func (p Postgres) ExplodeSQL(table string, arrayColumns, retainColumns []string) string {
	cols := make([]string, 0, len(arrayColumns)+len(retainColumns))
	joins := make([]string, 0, len(arrayColumns))
	for _, c := range retainColumns {
		cols = append(cols, Qualify(p, "t", c))
	}
	for i, c := range arrayColumns {
		alias := fmt.Sprintf("x%d", i+1)
		q := p.QuoteIdentifier(c)
		cols = append(cols, fmt.Sprintf("%s.%s AS %s", alias, q, q))
		joins = append(joins, fmt.Sprintf("CROSS JOIN LATERAL unnest(t.%s) AS %s(%s)", q, alias, q))
	}
	return fmt.Sprintf("SELECT %s FROM %s AS t %s", strings.Join(cols, ", "), table, strings.Join(joins, " "))
}

func (Postgres) CreateTableAs(table, with, selectBody string) string {
	return fmt.Sprintf("CREATE TABLE %s AS %s%s", table, with, selectBody)
}

func (Postgres) DropTable(table string) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", table)
}
