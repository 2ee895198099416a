package datasource

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/vfrank66/splink/pkg/retry"
)

// mockConnectionTester fails TestConnection with the queued errors, then succeeds.
type mockConnectionTester struct {
	errs   *[]error
	closed *int
}

func (m *mockConnectionTester) TestConnection(ctx context.Context) error {
	if len(*m.errs) == 0 {
		return nil
	}
	err := (*m.errs)[0]
	*m.errs = (*m.errs)[1:]
	return err
}

func (m *mockConnectionTester) Close() error {
	*m.closed++
	return nil
}

type mockQueryExecutor struct{}

func (m *mockQueryExecutor) Query(ctx context.Context, sqlQuery string, limit int) (*QueryExecutionResult, error) {
	return &QueryExecutionResult{}, nil
}

func (m *mockQueryExecutor) Execute(ctx context.Context, sqlStatement string) (*ExecuteResult, error) {
	return &ExecuteResult{}, nil
}

func (m *mockQueryExecutor) QuoteIdentifier(name string) string { return name }

func (m *mockQueryExecutor) Close() error { return nil }

func fastRetry() *retry.Config {
	return &retry.Config{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

// registerMock registers an adapter whose connection checks fail with errs
// in order. It returns counters for tester closes and executor creations.
func registerMock(t *testing.T, dsType string, errs ...error) (closed *int, created *int, gotConfig *map[string]any) {
	t.Helper()
	queue := append([]error(nil), errs...)
	closed, created = new(int), new(int)
	gotConfig = new(map[string]any)

	Register(DatasourceAdapterRegistration{
		Info: DatasourceAdapterInfo{Type: dsType, DisplayName: "Test Mock", Dialect: "postgres"},
		Factory: func(ctx context.Context, config map[string]any) (ConnectionTester, error) {
			return &mockConnectionTester{errs: &queue, closed: closed}, nil
		},
		QueryExecutorFactory: func(ctx context.Context, config map[string]any) (QueryExecutor, error) {
			*created++
			*gotConfig = config
			return &mockQueryExecutor{}, nil
		},
	})
	return closed, created, gotConfig
}

func TestFactory_NewQueryExecutor(t *testing.T) {
	closed, created, gotConfig := registerMock(t, "test-ok")
	factory := NewDatasourceAdapterFactory(fastRetry(), zaptest.NewLogger(t))

	config := map[string]any{"host": "h"}
	executor, err := factory.NewQueryExecutor(context.Background(), "test-ok", config)
	require.NoError(t, err)
	require.NotNil(t, executor)

	assert.Equal(t, 1, *created)
	assert.Equal(t, 1, *closed, "health-check tester should be closed")
	assert.Equal(t, config, *gotConfig)
}

func TestFactory_NewQueryExecutor_RetriesTransientFailures(t *testing.T) {
	closed, created, _ := registerMock(t, "test-flaky",
		errors.New("dial tcp: connection refused"),
		errors.New("FATAL: the database system is starting up"))
	factory := NewDatasourceAdapterFactory(fastRetry(), zaptest.NewLogger(t))

	_, err := factory.NewQueryExecutor(context.Background(), "test-flaky", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, *closed)
	assert.Equal(t, 1, *created)
}

func TestFactory_NewQueryExecutor_PermanentFailure(t *testing.T) {
	closed, created, _ := registerMock(t, "test-auth",
		errors.New("password authentication failed for user \"splink\""))
	factory := NewDatasourceAdapterFactory(fastRetry(), zaptest.NewLogger(t))

	executor, err := factory.NewQueryExecutor(context.Background(), "test-auth", nil)
	require.Error(t, err)
	assert.Nil(t, executor)
	assert.Contains(t, err.Error(), "connection check for test-auth failed")
	assert.Equal(t, 1, *closed)
	assert.Equal(t, 0, *created)
}

func TestFactory_UnsupportedType(t *testing.T) {
	factory := NewDatasourceAdapterFactory(nil, nil)
	ctx := context.Background()

	tester, err := factory.NewConnectionTester(ctx, "unsupported-type", nil)
	assert.Nil(t, tester)
	assert.ErrorContains(t, err, "unsupported datasource type")

	executor, err := factory.NewQueryExecutor(ctx, "unsupported-type", nil)
	assert.Nil(t, executor)
	assert.ErrorContains(t, err, "not supported")
}

func TestFactory_ListTypes(t *testing.T) {
	registerMock(t, "test-list-b")
	registerMock(t, "test-list-a")
	factory := NewDatasourceAdapterFactory(nil, nil)

	types := factory.ListTypes()
	var names []string
	for _, info := range types {
		names = append(names, info.Type)
	}
	assert.Subset(t, names, []string{"test-list-a", "test-list-b"})
	assert.IsNonDecreasing(t, names)

	info, ok := GetAdapterInfo("test-list-a")
	require.True(t, ok)
	assert.Equal(t, "postgres", info.Dialect)

	_, ok = GetAdapterInfo("missing")
	assert.False(t, ok)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, MaxQueryLimit, ClampLimit(0))
	assert.Equal(t, MaxQueryLimit, ClampLimit(-5))
	assert.Equal(t, MaxQueryLimit, ClampLimit(MaxQueryLimit+1))
	assert.Equal(t, 7, ClampLimit(7))
}
