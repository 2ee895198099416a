package datasource

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vfrank66/splink/pkg/logging"
	"github.com/vfrank66/splink/pkg/retry"
)

// DatasourceAdapterFactory creates adapters from the registry.
type DatasourceAdapterFactory interface {
	// NewConnectionTester creates a connection tester for the given datasource type.
	NewConnectionTester(ctx context.Context, dsType string, config map[string]any) (ConnectionTester, error)

	// NewQueryExecutor creates a query executor for the given datasource type.
	// The connection is health-checked, with retries on transient failures,
	// before the executor is returned.
	NewQueryExecutor(ctx context.Context, dsType string, config map[string]any) (QueryExecutor, error)

	// ListTypes returns info for all registered adapter types.
	ListTypes() []DatasourceAdapterInfo
}

type registryFactory struct {
	retryConfig *retry.Config
	logger      *zap.Logger
}

// NewDatasourceAdapterFactory returns a factory that uses the global registry.
// A nil retryConfig uses retry.DefaultConfig.
func NewDatasourceAdapterFactory(retryConfig *retry.Config, logger *zap.Logger) DatasourceAdapterFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &registryFactory{
		retryConfig: retryConfig,
		logger:      logger.Named("datasource"),
	}
}

func (f *registryFactory) NewConnectionTester(ctx context.Context, dsType string, config map[string]any) (ConnectionTester, error) {
	factory := GetFactory(dsType)
	if factory == nil {
		return nil, fmt.Errorf("unsupported datasource type: %s (not compiled in)", dsType)
	}
	return factory(ctx, config)
}

func (f *registryFactory) NewQueryExecutor(ctx context.Context, dsType string, config map[string]any) (QueryExecutor, error) {
	factory := GetQueryExecutorFactory(dsType)
	if factory == nil {
		return nil, fmt.Errorf("query execution not supported for type: %s", dsType)
	}

	if testerFactory := GetFactory(dsType); testerFactory != nil {
		attempt := 0
		err := retry.DoIfRetryable(ctx, f.retryConfig, func() error {
			attempt++
			tester, err := testerFactory(ctx, config)
			if err != nil {
				return err
			}
			defer tester.Close()
			if err := tester.TestConnection(ctx); err != nil {
				f.logger.Warn("Connection check failed",
					zap.String("type", dsType),
					zap.Int("attempt", attempt),
					zap.String("error", logging.SanitizeError(err)))
				return err
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("connection check for %s failed: %w", dsType, err)
		}
	}

	return factory(ctx, config)
}

func (f *registryFactory) ListTypes() []DatasourceAdapterInfo {
	return RegisteredAdapters()
}

// Ensure registryFactory implements DatasourceAdapterFactory at compile time.
var _ DatasourceAdapterFactory = (*registryFactory)(nil)
