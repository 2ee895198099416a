// Package dialect renders the SQL fragments that differ between the
// supported database engines.
package dialect

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/vfrank66/splink/pkg/apperrors"
)

// Dialect renders engine specific SQL. Implementations are stateless and
// safe for concurrent use.
type Dialect interface {
	// Name is the canonical dialect name, e.g. "postgres".
	Name() string

	// QuoteIdentifier quotes a single identifier (column, alias or table).
	QuoteIdentifier(name string) string

	// NullAsFalse renders a predicate so that a NULL result counts as false
	// and the expression is usable as a boolean operand.
	NullAsFalse(predicate string) string

	// Concat joins string expressions.
	Concat(parts ...string) string

	// CastText casts an expression to the engine's text type.
	CastText(expr string) string

	// SaltExpr maps a text expression deterministically into [0, 1).
	SaltExpr(expr string) string

	// ExplodeSQL selects from table with one output row per element of each
	// array column. Array columns keep their names; retained columns are
	// passed through unchanged.
	ExplodeSQL(table string, arrayColumns, retainColumns []string) string

	// CreateTableAs persists the result of a statement. with is an optional
	// "WITH ..." prefix (including trailing space) and selectBody the final
	// SELECT it scopes.
	CreateTableAs(table, with, selectBody string) string

	// DropTable drops a table if it exists.
	DropTable(table string) string
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Dialect)
	aliases    = map[string]string{
		"postgresql": "postgres",
		"mssql":      "sqlserver",
	}
)

func init() {
	Register(Postgres{})
	Register(SQLServer{})
}

// Register adds a dialect under its Name. A later registration with the
// same name replaces the earlier one.
func Register(d Dialect) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[d.Name()] = d
}

// Get returns the dialect registered under name or one of its aliases.
func Get(name string) (Dialect, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := aliases[key]; ok {
		key = canonical
	}

	registryMu.RLock()
	defer registryMu.RUnlock()

	if d, ok := registry[key]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("%w: unsupported sql dialect %q (supported: %s)",
		apperrors.ErrConfiguration, name, strings.Join(namesLocked(), ", "))
}

// Names lists registered dialect names in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return namesLocked()
}

func namesLocked() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Qualify renders alias.column with the column quoted.
func Qualify(d Dialect, alias, column string) string {
	return alias + "." + d.QuoteIdentifier(column)
}
