package services

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/vfrank66/splink/pkg/adapters/datasource"
	"github.com/vfrank66/splink/pkg/blocking"
	"github.com/vfrank66/splink/pkg/models"
)

// BlockedPairs is the outcome of a blocking run. The caller owns every
// handle and releases them with Release.
type BlockedPairs struct {
	// Pairs is the persisted candidate pair table.
	Pairs models.TableHandle
	// Supporting holds the concatenated input and exploded id pair tables
	// Pairs was built from.
	Supporting []models.TableHandle
	Plan       blocking.Plan
}

// Handles lists every table of the run, pairs first.
func (b *BlockedPairs) Handles() []models.TableHandle {
	return append([]models.TableHandle{b.Pairs}, b.Supporting...)
}

// BlockedPairsService generates the candidate pairs of a linkage job.
type BlockedPairsService interface {
	// Generate persists the concatenated input, materialises exploding
	// rules and persists the blocked pairs. rules overrides the settings'
	// rule descriptions when non-nil.
	Generate(ctx context.Context, settings models.LinkageSettings, rules []blocking.Rule) (*BlockedPairs, error)

	// Release drops every table of a run.
	Release(ctx context.Context, pairs *BlockedPairs) error
}

type blockedPairsService struct {
	tables         datasource.TableMaterializer
	exploded       ExplodedPairsService
	defaultDialect string
	logger         *zap.Logger
}

func NewBlockedPairsService(tables datasource.TableMaterializer, exploded ExplodedPairsService, defaultDialect string, logger *zap.Logger) BlockedPairsService {
	return &blockedPairsService{
		tables:         tables,
		exploded:       exploded,
		defaultDialect: defaultDialect,
		logger:         logger.Named("blocked-pairs"),
	}
}

var _ BlockedPairsService = (*blockedPairsService)(nil)

func (s *blockedPairsService) Generate(ctx context.Context, settings models.LinkageSettings, rules []blocking.Rule) (*BlockedPairs, error) {
	d := settings.SQLDialect
	if d == "" {
		d = s.defaultDialect
	}
	rc, err := blocking.NewRenderContext(d, settings.LinkType, settings.ColumnSettings)
	if err != nil {
		return nil, err
	}
	if rules == nil {
		if rules, err = blocking.FromDescriptions(settings.BlockingRules); err != nil {
			return nil, err
		}
	}
	plan := blocking.Assemble(rules)

	concat, err := persistConcat(ctx, s.tables, rc, settings.InputTables, plan.HasSalted())
	if err != nil {
		return nil, err
	}
	held := []models.TableHandle{concat}

	fail := func(err error) (*BlockedPairs, error) {
		if relErr := s.exploded.ReleaseAll(context.WithoutCancel(ctx), held); relErr != nil {
			err = errors.Join(err, relErr)
		}
		return nil, err
	}

	plan, created, err := s.exploded.Materialize(ctx, plan, rc, concat)
	if err != nil {
		return fail(err)
	}
	held = append(held, created...)

	p, err := blocking.BlockedPairsPipeline(plan, rc, concat.PhysicalName, settings.Deterministic)
	if err != nil {
		return fail(err)
	}
	pairs, err := s.tables.Persist(ctx, p)
	if err != nil {
		return fail(err)
	}

	s.logger.Info("Blocked pairs generated",
		zap.String("table", pairs.PhysicalName),
		zap.Int("rules", plan.Len()),
		zap.Int("exploded_tables", len(created)))

	return &BlockedPairs{Pairs: pairs, Supporting: held, Plan: plan}, nil
}

func (s *blockedPairsService) Release(ctx context.Context, pairs *BlockedPairs) error {
	if pairs == nil {
		return nil
	}
	return s.exploded.ReleaseAll(ctx, pairs.Handles())
}
