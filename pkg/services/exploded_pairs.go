package services

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/vfrank66/splink/pkg/adapters/datasource"
	"github.com/vfrank66/splink/pkg/blocking"
	"github.com/vfrank66/splink/pkg/models"
)

// ExplodedPairsService materialises the id pair tables of exploding rules.
type ExplodedPairsService interface {
	// Materialize persists the marginal id pairs of every unmaterialised
	// exploding rule in authored order and returns the plan with the tables
	// attached, along with the handles created. On failure the handles
	// created by this call are released and the input plan is returned
	// unchanged.
	Materialize(ctx context.Context, plan blocking.Plan, rc blocking.RenderContext, concat models.TableHandle) (blocking.Plan, []models.TableHandle, error)

	// ReleaseAll drops every handle once, continuing past failures.
	ReleaseAll(ctx context.Context, handles []models.TableHandle) error
}

type explodedPairsService struct {
	exec   datasource.QueryExecutor
	tables datasource.TableMaterializer
	logger *zap.Logger
}

func NewExplodedPairsService(exec datasource.QueryExecutor, tables datasource.TableMaterializer, logger *zap.Logger) ExplodedPairsService {
	return &explodedPairsService{
		exec:   exec,
		tables: tables,
		logger: logger.Named("exploded-pairs"),
	}
}

var _ ExplodedPairsService = (*explodedPairsService)(nil)

func (s *explodedPairsService) Materialize(ctx context.Context, plan blocking.Plan, rc blocking.RenderContext, concat models.TableHandle) (blocking.Plan, []models.TableHandle, error) {
	var pending []blocking.AssembledRule
	for _, ar := range plan.Exploding() {
		if !ar.State.IsMaterialized() {
			pending = append(pending, ar)
		}
	}
	if len(pending) == 0 {
		return plan, nil, nil
	}

	columns, err := datasource.TableColumns(ctx, s.exec, concat.PhysicalName)
	if err != nil {
		return plan, nil, err
	}

	var created []models.TableHandle
	next := plan
	for _, ar := range pending {
		p, err := blocking.MarginalExplodedPipeline(next, rc, concat.PhysicalName, columns, ar.MatchKey)
		if err == nil {
			var handle models.TableHandle
			if handle, err = s.tables.Persist(ctx, p); err == nil {
				created = append(created, handle)
				next, err = next.WithMaterialized(ar.MatchKey, handle)
			}
		}
		if err != nil {
			s.logger.Error("Failed to materialise exploded id pairs",
				zap.Int("match_key", ar.MatchKey),
				zap.Int("released", len(created)),
				zap.Error(err))
			if relErr := s.ReleaseAll(context.WithoutCancel(ctx), created); relErr != nil {
				err = errors.Join(err, relErr)
			}
			return plan, nil, err
		}

		s.logger.Debug("Materialised exploded id pairs",
			zap.Int("match_key", ar.MatchKey),
			zap.Strings("arrays", ar.Rule.ArrayColumns()),
			zap.String("table", created[len(created)-1].PhysicalName))
	}
	return next, created, nil
}

func (s *explodedPairsService) ReleaseAll(ctx context.Context, handles []models.TableHandle) error {
	seen := make(map[string]struct{}, len(handles))
	var errs []error
	for _, h := range handles {
		if _, ok := seen[h.PhysicalName]; ok {
			continue
		}
		seen[h.PhysicalName] = struct{}{}
		if err := s.tables.Release(ctx, h); err != nil {
			s.logger.Warn("Failed to release table",
				zap.String("table", h.PhysicalName),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
