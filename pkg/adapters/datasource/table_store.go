package datasource

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vfrank66/splink/pkg/apperrors"
	"github.com/vfrank66/splink/pkg/dialect"
	"github.com/vfrank66/splink/pkg/logging"
	"github.com/vfrank66/splink/pkg/models"
	"github.com/vfrank66/splink/pkg/pipeline"
)

// TableStore implements TableMaterializer on a QueryExecutor using the
// dialect's CREATE TABLE ... AS form. Physical names carry a run suffix so
// concurrent runs against one database never collide.
type TableStore struct {
	exec    QueryExecutor
	dialect dialect.Dialect
	runID   string
	logger  *zap.Logger

	mu   sync.Mutex
	live map[string]models.TableHandle
}

var _ TableMaterializer = (*TableStore)(nil)

// NewRunID returns a short random suffix for physical table names.
func NewRunID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// NewTableStore creates a store. An empty runID draws a fresh one.
func NewTableStore(exec QueryExecutor, d dialect.Dialect, runID string, logger *zap.Logger) *TableStore {
	if runID == "" {
		runID = NewRunID()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TableStore{
		exec:    exec,
		dialect: d,
		runID:   runID,
		logger:  logger.Named("table_store"),
		live:    make(map[string]models.TableHandle),
	}
}

// RunID is the suffix shared by every table this store creates.
func (s *TableStore) RunID() string { return s.runID }

// PhysicalName maps an output name to its table name for this run.
func (s *TableStore) PhysicalName(outputName string) string {
	return outputName + "_" + s.runID
}

func (s *TableStore) Persist(ctx context.Context, p *pipeline.Pipeline) (models.TableHandle, error) {
	with, final, err := p.Render()
	if err != nil {
		return models.TableHandle{}, err
	}
	handle := models.TableHandle{
		OutputName:   p.OutputName(),
		PhysicalName: s.PhysicalName(p.OutputName()),
	}

	s.mu.Lock()
	_, exists := s.live[handle.PhysicalName]
	s.mu.Unlock()
	if exists {
		return models.TableHandle{}, fmt.Errorf("%w: table %s already persisted in this run",
			apperrors.ErrPrecondition, handle.PhysicalName)
	}

	stmt := s.dialect.CreateTableAs(handle.PhysicalName, with, final)
	s.logger.Debug("Persisting table",
		zap.String("table", handle.PhysicalName),
		zap.Int("nodes", p.Len()),
		zap.String("sql", logging.SanitizeQuery(stmt)))

	if _, err := s.exec.Execute(ctx, stmt); err != nil {
		return models.TableHandle{}, apperrors.Execution(fmt.Errorf("persist %s: %w", handle.OutputName, err))
	}

	s.mu.Lock()
	s.live[handle.PhysicalName] = handle
	s.mu.Unlock()
	return handle, nil
}

func (s *TableStore) Release(ctx context.Context, handle models.TableHandle) error {
	s.mu.Lock()
	_, ok := s.live[handle.PhysicalName]
	if ok {
		delete(s.live, handle.PhysicalName)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: table %q is not held by this run", apperrors.ErrPrecondition, handle.PhysicalName)
	}

	s.logger.Debug("Releasing table", zap.String("table", handle.PhysicalName))
	if _, err := s.exec.Execute(ctx, s.dialect.DropTable(handle.PhysicalName)); err != nil {
		return apperrors.Execution(fmt.Errorf("release %s: %w", handle.OutputName, err))
	}
	return nil
}

// Live lists handles persisted and not yet released.
func (s *TableStore) Live() []models.TableHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.TableHandle, 0, len(s.live))
	for _, h := range s.live {
		out = append(out, h)
	}
	return out
}

// TableColumns reads the column names of a table with a zero-row query.
func TableColumns(ctx context.Context, exec QueryExecutor, table string) ([]string, error) {
	res, err := exec.Query(ctx, fmt.Sprintf("SELECT * FROM %s WHERE 1=0", table), 1)
	if err != nil {
		return nil, apperrors.Execution(fmt.Errorf("read columns of %s: %w", table, err))
	}
	return res.ColumnNames(), nil
}
