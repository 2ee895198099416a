package datasource

import (
	"context"
	"sort"
	"sync"
)

// DatasourceAdapterInfo describes a registered adapter.
type DatasourceAdapterInfo struct {
	Type        string `json:"type"`         // "postgres", "mssql"
	DisplayName string `json:"display_name"` // "PostgreSQL", "Microsoft SQL Server"
	Description string `json:"description"`  // "Connect to PostgreSQL 12+"
	// Dialect is the SQL dialect blocking SQL is rendered in for this adapter.
	Dialect string `json:"dialect"`
}

// DatasourceAdapterRegistration contains info + factories for creating adapters.
type DatasourceAdapterRegistration struct {
	Info                 DatasourceAdapterInfo
	Factory              func(ctx context.Context, config map[string]any) (ConnectionTester, error)
	QueryExecutorFactory func(ctx context.Context, config map[string]any) (QueryExecutor, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]DatasourceAdapterRegistration)
)

// Register is called by each adapter's init() function.
// Thread-safe for concurrent init() calls.
func Register(reg DatasourceAdapterRegistration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Info.Type] = reg
}

// RegisteredAdapters returns info for all registered adapters, sorted by type.
func RegisteredAdapters() []DatasourceAdapterInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]DatasourceAdapterInfo, 0, len(registry))
	for _, reg := range registry {
		result = append(result, reg.Info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Type < result[j].Type })
	return result
}

// GetAdapterInfo returns the info of a registered adapter type.
func GetAdapterInfo(dsType string) (DatasourceAdapterInfo, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	reg, ok := registry[dsType]
	return reg.Info, ok
}

// GetFactory returns the factory for a datasource type.
// Returns nil if type is not registered.
func GetFactory(dsType string) func(ctx context.Context, config map[string]any) (ConnectionTester, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if reg, ok := registry[dsType]; ok {
		return reg.Factory
	}
	return nil
}

// GetQueryExecutorFactory returns the query executor factory for a datasource type.
// Returns nil if type is not registered or doesn't support query execution.
func GetQueryExecutorFactory(dsType string) func(ctx context.Context, config map[string]any) (QueryExecutor, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if reg, ok := registry[dsType]; ok {
		return reg.QueryExecutorFactory
	}
	return nil
}
