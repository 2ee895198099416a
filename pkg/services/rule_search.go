package services

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set"
	"go.uber.org/zap"

	"github.com/vfrank66/splink/pkg/adapters/datasource"
	"github.com/vfrank66/splink/pkg/apperrors"
	"github.com/vfrank66/splink/pkg/blocking"
	"github.com/vfrank66/splink/pkg/models"
	"github.com/vfrank66/splink/pkg/sql"
)

// RuleSearchService searches combinations of column expressions for
// equi-join blocking rules that keep comparisons below a threshold.
type RuleSearchService interface {
	// FindRulesBelowThreshold walks combinations of columns depth first.
	// A combination whose estimated comparison count is at most threshold
	// is reported and not extended further. Combinations are visited once
	// regardless of column order. With no columns, every input column
	// except the id and salt columns is used. ErrNotFound is returned when
	// no combination qualifies.
	FindRulesBelowThreshold(ctx context.Context, settings models.AnalysisSettings, columns []string, threshold int64) ([]models.RuleSearchResult, error)
}

type ruleSearchService struct {
	exec           datasource.QueryExecutor
	tables         datasource.TableMaterializer
	defaultDialect string
	logger         *zap.Logger
}

func NewRuleSearchService(exec datasource.QueryExecutor, tables datasource.TableMaterializer, defaultDialect string, logger *zap.Logger) RuleSearchService {
	return &ruleSearchService{
		exec:           exec,
		tables:         tables,
		defaultDialect: defaultDialect,
		logger:         logger.Named("rule-search"),
	}
}

var _ RuleSearchService = (*ruleSearchService)(nil)

// ruleSearch is the state of one search.
type ruleSearch struct {
	svc       *ruleSearchService
	rc        blocking.RenderContext
	concat    string
	columns   []string
	threshold int64
	visited   mapset.Set
	results   []models.RuleSearchResult
	counted   int
}

func (s *ruleSearchService) FindRulesBelowThreshold(ctx context.Context, settings models.AnalysisSettings, columns []string, threshold int64) (results []models.RuleSearchResult, err error) {
	rc, err := renderContext(settings, s.defaultDialect)
	if err != nil {
		return nil, err
	}

	concat, err := persistConcat(ctx, s.tables, rc, settings.InputTables, false)
	if err != nil {
		return nil, err
	}
	defer func() {
		if relErr := s.tables.Release(context.WithoutCancel(ctx), concat); relErr != nil && err == nil {
			err = relErr
			results = nil
		}
	}()

	if len(columns) == 0 {
		if columns, err = s.candidateColumns(ctx, rc, concat.PhysicalName); err != nil {
			return nil, err
		}
	}

	search := &ruleSearch{
		svc:       s,
		rc:        rc,
		concat:    concat.PhysicalName,
		columns:   columns,
		threshold: threshold,
		visited:   mapset.NewThreadUnsafeSet(),
	}
	if err := search.walk(ctx, nil); err != nil {
		return nil, err
	}

	s.logger.Info("Rule search complete",
		zap.Int("columns", len(columns)),
		zap.Int("combinations_counted", search.counted),
		zap.Int("rules_found", len(search.results)))

	if len(search.results) == 0 {
		return nil, fmt.Errorf("%w: no blocking rule produces at most %d comparisons; try increasing the threshold",
			apperrors.ErrNotFound, threshold)
	}
	return search.results, nil
}

// candidateColumns lists the concatenated input's columns, minus the id
// and salt columns.
func (s *ruleSearchService) candidateColumns(ctx context.Context, rc blocking.RenderContext, concatTable string) ([]string, error) {
	all, err := datasource.TableColumns(ctx, s.exec, concatTable)
	if err != nil {
		return nil, err
	}
	skip := map[string]struct{}{blocking.SaltColumn: {}}
	for _, c := range rc.IDColumns() {
		skip[c] = struct{}{}
	}
	var out []string
	for _, c := range all {
		if _, ok := skip[c]; !ok {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: input tables have no columns to block on", apperrors.ErrConfiguration)
	}
	return out, nil
}

// combinationKey identifies a combination irrespective of column order.
func combinationKey(combination []string) string {
	sorted := append([]string(nil), combination...)
	sort.Strings(sorted)
	return strings.Join(sorted, "\x00")
}

func (rs *ruleSearch) walk(ctx context.Context, combination []string) error {
	if len(combination) == len(rs.columns) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	key := combinationKey(combination)
	if rs.visited.Contains(key) {
		return nil
	}
	rs.visited.Add(key)

	predicate := blocking.AlwaysTrue
	if len(combination) > 0 {
		var err error
		if predicate, err = sql.BlockOn(combination, rs.rc.Dialect.Name()); err != nil {
			return err
		}
	}
	count, err := countPreFilter(ctx, rs.svc.exec, rs.rc, rs.concat, predicate, "", rs.svc.logger)
	if err != nil {
		return err
	}
	rs.counted++

	if count <= rs.threshold {
		rs.results = append(rs.results, rs.result(combination, predicate, count))
		return nil
	}

	for _, c := range rs.columns {
		if slices.Contains(combination, c) {
			continue
		}
		next := append(append([]string(nil), combination...), c)
		if err := rs.walk(ctx, next); err != nil {
			return err
		}
	}
	return nil
}

func (rs *ruleSearch) result(combination []string, predicate string, count int64) models.RuleSearchResult {
	blockingColumns := make([]string, len(combination))
	for i, c := range combination {
		blockingColumns[i] = sanitiseColumnName(c)
	}
	fixed := make(map[string]int, len(rs.columns))
	for _, c := range rs.columns {
		name := sanitiseColumnName(c)
		fixed[name] = 0
		if slices.Contains(blockingColumns, name) {
			fixed[name] = 1
		}
	}
	return models.RuleSearchResult{
		BlockingColumns: blockingColumns,
		Rule:            predicate,
		ComparisonCount: count,
		NumEquiJoins:    len(combination),
		Fixed:           fixed,
	}
}

// sanitiseColumnName keeps ASCII letters, digits and underscores, so that
// expressions like substr(surname, 1, 1) become usable flag names.
func sanitiseColumnName(name string) string {
	var sb strings.Builder
	for _, r := range name {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
