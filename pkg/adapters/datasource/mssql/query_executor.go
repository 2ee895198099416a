package mssql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vfrank66/splink/pkg/adapters/datasource"
)

// QueryExecutor provides SQL Server query execution.
type QueryExecutor struct {
	db *sql.DB
}

// NewQueryExecutor creates a SQL Server query executor with its own pool.
func NewQueryExecutor(ctx context.Context, cfg *Config) (*QueryExecutor, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	return &QueryExecutor{db: db}, nil
}

// limitQuery wraps a query as a derived table under TOP.
func limitQuery(sqlQuery string, limit int) string {
	return fmt.Sprintf("SELECT TOP (%d) * FROM (%s) AS _limited", datasource.ClampLimit(limit), sqlQuery)
}

// Query runs a SELECT statement and returns bounded results.
// See datasource.QueryExecutor.Query for limit behavior.
func (e *QueryExecutor) Query(ctx context.Context, sqlQuery string, limit int) (*datasource.QueryExecutionResult, error) {
	rows, err := e.db.QueryContext(ctx, limitQuery(sqlQuery, limit))
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	columns, resultRows, err := scanRows(rows)
	if err != nil {
		return nil, err
	}

	return &datasource.QueryExecutionResult{
		Columns:  columns,
		Rows:     resultRows,
		RowCount: len(resultRows),
	}, nil
}

// Execute runs a statement that returns no rows, such as SELECT ... INTO
// or DROP TABLE. The statement is sent once; it is never retried as a query.
func (e *QueryExecutor) Execute(ctx context.Context, sqlStatement string) (*datasource.ExecuteResult, error) {
	execResult, err := e.db.ExecContext(ctx, sqlStatement)
	if err != nil {
		return nil, fmt.Errorf("failed to execute statement: %w", err)
	}

	rowsAffected, err := execResult.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return &datasource.ExecuteResult{RowsAffected: rowsAffected}, nil
}

// QuoteIdentifier quotes a SQL identifier with square brackets.
func (e *QueryExecutor) QuoteIdentifier(name string) string {
	return quoteName(name)
}

// Close releases the connection pool.
func (e *QueryExecutor) Close() error {
	if e.db != nil {
		return e.db.Close()
	}
	return nil
}

// Ensure QueryExecutor implements datasource.QueryExecutor at compile time.
var _ datasource.QueryExecutor = (*QueryExecutor)(nil)
