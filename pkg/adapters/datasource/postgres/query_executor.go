package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vfrank66/splink/pkg/adapters/datasource"
)

// QueryExecutor provides PostgreSQL query execution.
type QueryExecutor struct {
	pool      *pgxpool.Pool
	ownedPool bool // false when the pool was handed in by the caller
}

// NewQueryExecutor creates a PostgreSQL query executor with its own pool.
func NewQueryExecutor(ctx context.Context, cfg *Config) (*QueryExecutor, error) {
	pool, err := newPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &QueryExecutor{pool: pool, ownedPool: true}, nil
}

// NewQueryExecutorFromPool wraps an existing pool. Close leaves it open.
func NewQueryExecutorFromPool(pool *pgxpool.Pool) *QueryExecutor {
	return &QueryExecutor{pool: pool}
}

// limitQuery wraps a query as a derived table with a LIMIT.
func limitQuery(sqlQuery string, limit int) string {
	return fmt.Sprintf("SELECT * FROM (%s) AS _limited LIMIT %d", sqlQuery, datasource.ClampLimit(limit))
}

// Query runs a SELECT statement wrapped with a LIMIT.
func (e *QueryExecutor) Query(ctx context.Context, sqlQuery string, limit int) (*datasource.QueryExecutionResult, error) {
	rows, err := e.pool.Query(ctx, limitQuery(sqlQuery, limit))
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]datasource.ColumnInfo, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = datasource.ColumnInfo{
			Name: fd.Name,
			Type: pgTypeNameFromOID(fd.DataTypeOID),
		}
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row values: %w", err)
		}

		rowMap := make(map[string]any, len(columns))
		for i, col := range columns {
			rowMap[col.Name] = values[i]
		}
		resultRows = append(resultRows, rowMap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return &datasource.QueryExecutionResult{
		Columns:  columns,
		Rows:     resultRows,
		RowCount: len(resultRows),
	}, nil
}

// Execute runs any SQL statement (DDL/DML) and returns results.
func (e *QueryExecutor) Execute(ctx context.Context, sqlStatement string) (*datasource.ExecuteResult, error) {
	rows, err := e.pool.Query(ctx, sqlStatement)
	if err != nil {
		return nil, fmt.Errorf("failed to execute statement: %w", err)
	}
	defer rows.Close()

	result := &datasource.ExecuteResult{}

	fieldDescs := rows.FieldDescriptions()
	if len(fieldDescs) > 0 {
		result.Columns = make([]string, len(fieldDescs))
		for i, fd := range fieldDescs {
			result.Columns[i] = fd.Name
		}

		result.Rows = make([]map[string]any, 0)
		for rows.Next() {
			values, err := rows.Values()
			if err != nil {
				return nil, fmt.Errorf("failed to read row values: %w", err)
			}

			rowMap := make(map[string]any, len(result.Columns))
			for i, col := range result.Columns {
				rowMap[col] = values[i]
			}
			result.Rows = append(result.Rows, rowMap)
		}
		result.RowCount = len(result.Rows)
	} else {
		// pgx defers execution until rows are consumed; iterate so that
		// errors and the command tag are populated.
		for rows.Next() {
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during execution: %w", err)
	}

	result.RowsAffected = rows.CommandTag().RowsAffected()
	return result, nil
}

// Close releases the pool if this executor opened it.
func (e *QueryExecutor) Close() error {
	if e.ownedPool && e.pool != nil {
		e.pool.Close()
	}
	return nil
}

// QuoteIdentifier quotes a SQL identifier with PostgreSQL double quotes.
func (e *QueryExecutor) QuoteIdentifier(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// pgTypeNameFromOID maps PostgreSQL type OIDs to type names for the types
// blocking queries return; unknown types return "UNKNOWN".
func pgTypeNameFromOID(oid uint32) string {
	switch oid {
	case 16:
		return "BOOL"
	case 20:
		return "INT8"
	case 21:
		return "INT2"
	case 23:
		return "INT4"
	case 25:
		return "TEXT"
	case 700:
		return "FLOAT4"
	case 701:
		return "FLOAT8"
	case 1043:
		return "VARCHAR"
	case 1082:
		return "DATE"
	case 1114:
		return "TIMESTAMP"
	case 1700:
		return "NUMERIC"
	case 2950:
		return "UUID"
	case 1007:
		return "INT4[]"
	case 1016:
		return "INT8[]"
	case 1009:
		return "TEXT[]"
	case 1015:
		return "VARCHAR[]"
	default:
		return "UNKNOWN"
	}
}

// Ensure QueryExecutor implements datasource.QueryExecutor at compile time.
var _ datasource.QueryExecutor = (*QueryExecutor)(nil)
