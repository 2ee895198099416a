package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/vfrank66/splink/pkg/adapters/datasource"
	"github.com/vfrank66/splink/pkg/apperrors"
	"github.com/vfrank66/splink/pkg/blocking"
	"github.com/vfrank66/splink/pkg/logging"
	"github.com/vfrank66/splink/pkg/models"
	"github.com/vfrank66/splink/pkg/sql"
)

// BlockingAnalysisService measures how many comparisons blocking rules
// generate.
type BlockingAnalysisService interface {
	// CumulativeComparisons reports, per rule in match key order, the pairs
	// each rule adds beyond the rules before it and the running total.
	// rules overrides settings.BlockingRules when non-nil. With computeChart
	// the cartesian size and reduction ratio are filled in as well.
	CumulativeComparisons(ctx context.Context, settings models.AnalysisSettings, rules []blocking.Rule, computeChart bool) ([]models.BlockingAnalysisRow, error)

	// CountComparisons counts the pairs a single rule generates on its own.
	CountComparisons(ctx context.Context, settings models.AnalysisSettings, rule blocking.Rule) (int64, error)

	// CountComparisonsPreFilter estimates the pairs of a rule from its
	// equi-join keys alone, before any residual filter is applied.
	CountComparisonsPreFilter(ctx context.Context, settings models.AnalysisSettings, rule blocking.Rule) (int64, error)
}

type blockingAnalysisService struct {
	exec           datasource.QueryExecutor
	tables         datasource.TableMaterializer
	exploded       ExplodedPairsService
	defaultDialect string
	logger         *zap.Logger
}

// NewBlockingAnalysisService creates the analysis service. defaultDialect
// applies to settings that name no dialect.
func NewBlockingAnalysisService(
	exec datasource.QueryExecutor,
	tables datasource.TableMaterializer,
	exploded ExplodedPairsService,
	defaultDialect string,
	logger *zap.Logger,
) BlockingAnalysisService {
	return &blockingAnalysisService{
		exec:           exec,
		tables:         tables,
		exploded:       exploded,
		defaultDialect: defaultDialect,
		logger:         logger.Named("blocking-analysis"),
	}
}

var _ BlockingAnalysisService = (*blockingAnalysisService)(nil)

// release drops handles and folds any failure into err.
func (s *blockingAnalysisService) release(ctx context.Context, handles []models.TableHandle, err *error) {
	if relErr := s.exploded.ReleaseAll(context.WithoutCancel(ctx), handles); relErr != nil {
		*err = errors.Join(*err, relErr)
	}
}

func (s *blockingAnalysisService) CumulativeComparisons(ctx context.Context, settings models.AnalysisSettings, rules []blocking.Rule, computeChart bool) (rows []models.BlockingAnalysisRow, err error) {
	rc, err := renderContext(settings, s.defaultDialect)
	if err != nil {
		return nil, err
	}
	if rules == nil {
		if rules, err = blocking.FromDescriptions(settings.BlockingRules); err != nil {
			return nil, err
		}
	}
	plan := blocking.Assemble(rules)
	if plan.Len() > datasource.MaxQueryLimit {
		return nil, fmt.Errorf("%w: at most %d blocking rules can be analysed at once, got %d",
			apperrors.ErrConfiguration, datasource.MaxQueryLimit, plan.Len())
	}

	concat, err := persistConcat(ctx, s.tables, rc, settings.InputTables, plan.HasSalted())
	if err != nil {
		return nil, err
	}
	held := []models.TableHandle{concat}
	defer func() {
		s.release(ctx, held, &err)
		if err != nil {
			rows = nil
		}
	}()

	var cartesian int64
	if computeChart {
		if cartesian, err = s.cartesianSize(ctx, rc, concat.PhysicalName); err != nil {
			return nil, err
		}
	}

	plan, created, err := s.exploded.Materialize(ctx, plan, rc, concat)
	if err != nil {
		return nil, err
	}
	held = append(held, created...)

	counts, err := s.countByMatchKey(ctx, plan, rc, concat.PhysicalName)
	if err != nil {
		return nil, err
	}

	var cumulative int64
	rows = make([]models.BlockingAnalysisRow, 0, plan.Len())
	for _, ar := range plan.Rules() {
		n := counts[ar.MatchKey]
		row := models.BlockingAnalysisRow{
			Rule:           ar.Rule.Predicate(),
			MatchKey:       ar.MatchKey,
			RowCount:       n,
			Start:          cumulative,
			CumulativeRows: cumulative + n,
		}
		cumulative += n
		if computeChart {
			c := cartesian
			row.CartesianSize = &c
			if rr, ok := blocking.ReductionRatio(cumulative, cartesian); ok {
				row.ReductionRatio = &rr
			}
		}
		rows = append(rows, row)
	}

	s.logger.Info("Blocking analysis complete",
		zap.Int("rules", plan.Len()),
		zap.Int64("comparisons", cumulative),
		zap.Bool("chart", computeChart))
	return rows, nil
}

// cartesianSize counts records per source dataset and derives the number
// of pairs the link type allows without blocking.
func (s *blockingAnalysisService) cartesianSize(ctx context.Context, rc blocking.RenderContext, concatTable string) (int64, error) {
	res, err := s.exec.Query(ctx, blocking.RecordCountSQL(rc, concatTable), datasource.MaxQueryLimit)
	if err != nil {
		return 0, apperrors.Execution(fmt.Errorf("count input records: %w", err))
	}
	counts := make([]int64, 0, len(res.Rows))
	for _, row := range res.Rows {
		n, err := toInt64(row[blocking.CountColumn])
		if err != nil {
			return 0, err
		}
		counts = append(counts, n)
	}
	return blocking.CartesianSize(rc.LinkType, counts), nil
}

// countByMatchKey runs the blocked pairs query grouped by match key. Keys
// that generated no pairs are absent from the result and read as zero.
func (s *blockingAnalysisService) countByMatchKey(ctx context.Context, plan blocking.Plan, rc blocking.RenderContext, concatTable string) (map[int]int64, error) {
	blocked, err := plan.BlockedPairsSQL(rc, blocking.InputsFor(rc, concatTable), false)
	if err != nil {
		return nil, err
	}
	query := blocking.CountByMatchKeySQL(blocked)
	s.logger.Debug("Counting blocked pairs", zap.String("sql", logging.SanitizeQuery(query)))

	res, err := s.exec.Query(ctx, query, datasource.MaxQueryLimit)
	if err != nil {
		return nil, apperrors.Execution(fmt.Errorf("count blocked pairs: %w", err))
	}

	counts := make(map[int]int64, len(res.Rows))
	for _, row := range res.Rows {
		key, err := toInt64(row[blocking.MatchKeyColumn])
		if err != nil {
			return nil, err
		}
		n, err := toInt64(row[blocking.CountColumn])
		if err != nil {
			return nil, err
		}
		counts[int(key)] += n
	}
	return counts, nil
}

func (s *blockingAnalysisService) CountComparisons(ctx context.Context, settings models.AnalysisSettings, rule blocking.Rule) (n int64, err error) {
	if rule.Kind() == blocking.KindExploding {
		return 0, fmt.Errorf("%w: comparison counts are not supported for exploding rules", apperrors.ErrPrecondition)
	}
	rc, err := renderContext(settings, s.defaultDialect)
	if err != nil {
		return 0, err
	}

	concat, err := persistConcat(ctx, s.tables, rc, settings.InputTables, false)
	if err != nil {
		return 0, err
	}
	defer s.release(ctx, []models.TableHandle{concat}, &err)

	query, err := blocking.CountComparisonsSQL(rule, rc, concat.PhysicalName)
	if err != nil {
		return 0, err
	}
	return queryCount(ctx, s.exec, query)
}

func (s *blockingAnalysisService) CountComparisonsPreFilter(ctx context.Context, settings models.AnalysisSettings, rule blocking.Rule) (n int64, err error) {
	rc, err := renderContext(settings, s.defaultDialect)
	if err != nil {
		return 0, err
	}

	concat, err := persistConcat(ctx, s.tables, rc, settings.InputTables, false)
	if err != nil {
		return 0, err
	}
	defer s.release(ctx, []models.TableHandle{concat}, &err)

	return countPreFilter(ctx, s.exec, rc, concat.PhysicalName, rule.Predicate(), rule.Dialect(), s.logger)
}

// countPreFilter estimates the comparisons of predicate from its equi-join
// keys. predicate is parsed in ruleDialect, or the run's dialect when empty.
// A predicate that cannot be parsed, or has no keys, counts as the full
// cross product.
func countPreFilter(ctx context.Context, exec datasource.QueryExecutor, rc blocking.RenderContext, concatTable, predicate, ruleDialect string, logger *zap.Logger) (int64, error) {
	if ruleDialect == "" {
		ruleDialect = rc.Dialect.Name()
	}
	var keys []sql.KeyPair
	jc, err := sql.ParseJoinCondition(predicate, ruleDialect)
	if err != nil {
		logger.Warn("Blocking rule not understood, estimating from the cross product",
			zap.String("rule", logging.SanitizeQuery(predicate)),
			zap.Error(err))
	} else {
		keys = jc.EquiKeys
	}
	return queryCount(ctx, exec, blocking.PreFilterCountSQL(rc, concatTable, keys))
}
