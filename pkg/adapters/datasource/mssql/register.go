package mssql

import (
	"context"

	"github.com/vfrank66/splink/pkg/adapters/datasource"
)

// Type is the datasource type this adapter registers under.
const Type = "mssql"

func init() {
	datasource.Register(datasource.DatasourceAdapterRegistration{
		Info: datasource.DatasourceAdapterInfo{
			Type:        Type,
			DisplayName: "Microsoft SQL Server",
			Description: "Connect to SQL Server 2016+ or Azure SQL Database with SQL authentication",
			Dialect:     "sqlserver",
		},
		Factory: func(ctx context.Context, config map[string]any) (datasource.ConnectionTester, error) {
			cfg, err := FromMap(config)
			if err != nil {
				return nil, err
			}
			return NewAdapter(ctx, cfg)
		},
		QueryExecutorFactory: func(ctx context.Context, config map[string]any) (datasource.QueryExecutor, error) {
			cfg, err := FromMap(config)
			if err != nil {
				return nil, err
			}
			return NewQueryExecutor(ctx, cfg)
		},
	})
}
