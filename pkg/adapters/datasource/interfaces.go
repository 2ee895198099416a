package datasource

import (
	"context"

	"github.com/vfrank66/splink/pkg/models"
	"github.com/vfrank66/splink/pkg/pipeline"
)

// ConnectionTester tests database connectivity.
// Each implementation owns its connection and must be closed when done.
type ConnectionTester interface {
	// TestConnection verifies the database is reachable with valid credentials.
	// Returns nil if connection is healthy, error otherwise.
	TestConnection(ctx context.Context) error

	// Close releases the database connection.
	Close() error
}

// MaxQueryLimit is the hard cap on rows returned by Query methods.
// Blocking analysis only reads aggregates, so results are always small.
const MaxQueryLimit = 1000

// ClampLimit applies the Query limit rules: non-positive limits and limits
// above MaxQueryLimit both become MaxQueryLimit.
func ClampLimit(limit int) int {
	if limit <= 0 || limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return limit
}

// QueryExecutor executes SQL against a datasource.
// Provides two access patterns:
//   - Query: bounded SELECT queries (always wrapped with a limit)
//   - Execute: unrestricted DDL such as CREATE TABLE ... AS and DROP TABLE
//
// Each implementation owns its connection and must be closed when done.
type QueryExecutor interface {
	// Query runs a SELECT statement and returns bounded results.
	// The query is ALWAYS wrapped with a dialect-specific limit:
	//   - PostgreSQL: SELECT * FROM (query) AS _limited LIMIT n
	//   - SQL Server: SELECT TOP (n) * FROM (query) AS _limited
	//
	// Limit behavior:
	//   - limit <= 0: uses MaxQueryLimit (1000)
	//   - limit > MaxQueryLimit: capped to MaxQueryLimit (1000)
	//   - otherwise: uses specified limit
	//
	// Since the query becomes a derived table it must not carry a WITH
	// clause or a top-level ORDER BY.
	Query(ctx context.Context, sqlQuery string, limit int) (*QueryExecutionResult, error)

	// Execute runs any SQL statement without modification.
	Execute(ctx context.Context, sqlStatement string) (*ExecuteResult, error)

	// QuoteIdentifier safely quotes a SQL identifier (table, column, schema name).
	// Each adapter implements dialect-specific quoting.
	QuoteIdentifier(name string) string

	// Close releases any resources held by the executor.
	Close() error
}

// TableMaterializer persists query results as tables and drops them again.
// Every handle returned by Persist must be released exactly once by the
// caller that created it.
type TableMaterializer interface {
	// Persist runs the pipeline and stores its output under a physical name
	// unique to this run. The handle's OutputName is the pipeline's output name.
	Persist(ctx context.Context, p *pipeline.Pipeline) (models.TableHandle, error)

	// Release drops a table created by Persist. Releasing an unknown or
	// already released handle fails with apperrors.ErrPrecondition.
	Release(ctx context.Context, handle models.TableHandle) error
}

// ExecuteResult holds the results from executing a DDL/DML statement.
type ExecuteResult struct {
	Columns      []string         `json:"columns,omitempty"`
	Rows         []map[string]any `json:"rows,omitempty"`
	RowCount     int              `json:"row_count"`
	RowsAffected int64            `json:"rows_affected"`
}

// ColumnInfo describes a result column with database-agnostic type information.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"` // Database type name (e.g., "TEXT", "INT4", "VARCHAR")
}

// QueryExecutionResult holds the results from executing a query.
type QueryExecutionResult struct {
	Columns  []ColumnInfo     `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
}

// ColumnNames returns the result column names in order.
func (r *QueryExecutionResult) ColumnNames() []string {
	names := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		names[i] = c.Name
	}
	return names
}
