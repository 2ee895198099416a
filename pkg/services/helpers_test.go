package services

import (
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vfrank66/splink/pkg/blocking"
	"github.com/vfrank66/splink/pkg/models"
	"github.com/vfrank66/splink/pkg/pipeline"
)

// handleFor returns the handle a run with suffix "t1" would create for name.
func handleFor(name string) models.TableHandle {
	return models.TableHandle{OutputName: name, PhysicalName: name + "_t1"}
}

var concatHandle = handleFor(blocking.ConcatTable)

// outputNamed matches a pipeline by the name of its last node.
func outputNamed(name string) any {
	return mock.MatchedBy(func(p *pipeline.Pipeline) bool {
		return p.OutputName() == name
	})
}

// capturePipeline matches a pipeline by output name and records its SQL.
func capturePipeline(name string, sql *string) any {
	return mock.MatchedBy(func(p *pipeline.Pipeline) bool {
		if p.OutputName() != name {
			return false
		}
		s, err := p.SQL()
		if err != nil {
			return false
		}
		*sql = s
		return true
	})
}

func mustRule(t *testing.T, predicate string) blocking.Rule {
	t.Helper()
	r, err := blocking.NewRule(predicate)
	require.NoError(t, err)
	return r
}

func mustExploding(t *testing.T, predicate string, arrays ...string) blocking.Rule {
	t.Helper()
	r, err := blocking.NewExplodingRule(predicate, arrays)
	require.NoError(t, err)
	return r
}

func mustSalted(t *testing.T, predicate string, n int) blocking.Rule {
	t.Helper()
	r, err := blocking.NewSaltedRule(predicate, n)
	require.NoError(t, err)
	return r
}

func dedupeContext(t *testing.T) blocking.RenderContext {
	t.Helper()
	rc, err := blocking.NewRenderContext("postgres", models.LinkTypeDedupeOnly, models.ColumnSettings{})
	require.NoError(t, err)
	return rc
}

func dedupeSettings() models.AnalysisSettings {
	return models.AnalysisSettings{
		LinkType:    models.LinkTypeDedupeOnly,
		Columns:     models.ColumnSettings{UniqueIDColumn: "unique_id"},
		InputTables: []models.InputTable{{Table: "people"}},
	}
}
