// Package datasourcetest provides testify mocks of the datasource interfaces.
package datasourcetest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/vfrank66/splink/pkg/adapters/datasource"
	"github.com/vfrank66/splink/pkg/models"
	"github.com/vfrank66/splink/pkg/pipeline"
)

// QueryExecutor is a mock datasource.QueryExecutor.
type QueryExecutor struct {
	mock.Mock
}

func (m *QueryExecutor) Query(ctx context.Context, sqlQuery string, limit int) (*datasource.QueryExecutionResult, error) {
	args := m.Called(ctx, sqlQuery, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*datasource.QueryExecutionResult), args.Error(1)
}

func (m *QueryExecutor) Execute(ctx context.Context, sqlStatement string) (*datasource.ExecuteResult, error) {
	args := m.Called(ctx, sqlStatement)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*datasource.ExecuteResult), args.Error(1)
}

func (m *QueryExecutor) QuoteIdentifier(name string) string {
	return `"` + name + `"`
}

func (m *QueryExecutor) Close() error {
	return nil
}

// TableMaterializer is a mock datasource.TableMaterializer.
type TableMaterializer struct {
	mock.Mock
}

func (m *TableMaterializer) Persist(ctx context.Context, p *pipeline.Pipeline) (models.TableHandle, error) {
	args := m.Called(ctx, p)
	return args.Get(0).(models.TableHandle), args.Error(1)
}

func (m *TableMaterializer) Release(ctx context.Context, handle models.TableHandle) error {
	args := m.Called(ctx, handle)
	return args.Error(0)
}

// Result builds a query result with the given columns from rows of values
// in column order.
func Result(columns []string, rows ...[]any) *datasource.QueryExecutionResult {
	res := &datasource.QueryExecutionResult{
		Columns: make([]datasource.ColumnInfo, len(columns)),
		Rows:    make([]map[string]any, 0, len(rows)),
	}
	for i, c := range columns {
		res.Columns[i] = datasource.ColumnInfo{Name: c}
	}
	for _, r := range rows {
		m := make(map[string]any, len(columns))
		for i, c := range columns {
			m[c] = r[i]
		}
		res.Rows = append(res.Rows, m)
	}
	res.RowCount = len(res.Rows)
	return res
}

var (
	_ datasource.QueryExecutor     = (*QueryExecutor)(nil)
	_ datasource.TableMaterializer = (*TableMaterializer)(nil)
)
