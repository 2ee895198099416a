package services

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/vfrank66/splink/pkg/adapters/datasource"
	"github.com/vfrank66/splink/pkg/apperrors"
	"github.com/vfrank66/splink/pkg/blocking"
	"github.com/vfrank66/splink/pkg/models"
	"github.com/vfrank66/splink/pkg/pipeline"
)

// renderContext builds the render context for analysis settings, falling
// back to defaultDialect when the settings name none.
func renderContext(settings models.AnalysisSettings, defaultDialect string) (blocking.RenderContext, error) {
	d := settings.SQLDialect
	if d == "" {
		d = defaultDialect
	}
	return blocking.NewRenderContext(d, settings.LinkType, settings.Columns)
}

// persistConcat persists the concatenated input tables once for a run.
func persistConcat(ctx context.Context, tables datasource.TableMaterializer, rc blocking.RenderContext, inputs []models.InputTable, withSalt bool) (models.TableHandle, error) {
	sql, err := blocking.ConcatInputSQL(rc, inputs, withSalt)
	if err != nil {
		return models.TableHandle{}, err
	}
	p := pipeline.New()
	if err := p.Enqueue(sql, blocking.ConcatTable); err != nil {
		return models.TableHandle{}, err
	}
	return tables.Persist(ctx, p)
}

// queryCount runs a query returning a single count column and reads the
// first row.
func queryCount(ctx context.Context, exec datasource.QueryExecutor, sql string) (int64, error) {
	res, err := exec.Query(ctx, sql, 1)
	if err != nil {
		return 0, apperrors.Execution(err)
	}
	if len(res.Rows) == 0 {
		return 0, nil
	}
	return toInt64(res.Rows[0][blocking.CountColumn])
}

// toInt64 converts the integer representations drivers return for counts
// and match keys.
func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%w: expected an integer, got %v", apperrors.ErrExecution, n)
		}
		return int64(n), nil
	case []byte:
		return parseInt(string(n))
	case string:
		return parseInt(n)
	default:
		return 0, fmt.Errorf("%w: expected an integer, got %T", apperrors.ErrExecution, v)
	}
}

func parseInt(s string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: expected an integer, got %q", apperrors.ErrExecution, s)
	}
	return n, nil
}
