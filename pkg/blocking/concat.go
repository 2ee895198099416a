package blocking

import (
	"fmt"
	"strings"

	"github.com/vfrank66/splink/pkg/apperrors"
	"github.com/vfrank66/splink/pkg/dialect"
	"github.com/vfrank66/splink/pkg/models"
	"github.com/vfrank66/splink/pkg/pipeline"
)

// ConcatInputSQL stacks the input tables into one record set. Link types
// spanning datasets get a source dataset literal per table; withSalt adds
// the salt column derived from each record's identity.
//
// Input tables of link types spanning datasets must not already carry the
// source dataset column.
func ConcatInputSQL(rc RenderContext, tables []models.InputTable, withSalt bool) (string, error) {
	if err := rc.Validate(); err != nil {
		return "", err
	}
	if err := rc.LinkType.CheckInputTables(tables); err != nil {
		return "", err
	}

	parts := make([]string, 0, len(tables))
	for _, t := range tables {
		cols := make([]string, 0, 3)
		var identity string
		uid := rc.Dialect.CastText(dialect.Qualify(rc.Dialect, "t", rc.UniqueIDColumn))

		if rc.LinkType.SpansDatasets() {
			lit := quoteLiteral(t.Dataset())
			cols = append(cols, fmt.Sprintf("%s AS %s", lit, rc.Dialect.QuoteIdentifier(rc.SourceDatasetColumn)))
			identity = rc.Dialect.Concat(lit, compositeIDSeparator, uid)
		} else {
			identity = uid
		}
		cols = append(cols, "t.*")
		if withSalt {
			cols = append(cols, fmt.Sprintf("%s AS %s", rc.Dialect.SaltExpr(identity), rc.Dialect.QuoteIdentifier(SaltColumn)))
		}
		parts = append(parts, fmt.Sprintf("SELECT %s FROM %s AS t", strings.Join(cols, ", "), t.Table))
	}
	return strings.Join(parts, "\nUNION ALL\n"), nil
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// BlockedPairsPipeline emits the candidate pair query as output
// BlockedPairsTable, reading from the persisted concatenated input.
func BlockedPairsPipeline(plan Plan, rc RenderContext, concatTable string, deterministic bool) (*pipeline.Pipeline, error) {
	sql, err := plan.BlockedPairsSQL(rc, InputsFor(rc, concatTable), deterministic)
	if err != nil {
		return nil, err
	}
	p := pipeline.New()
	if err := p.Enqueue(sql, BlockedPairsTable); err != nil {
		return nil, err
	}
	return p, nil
}

// MarginalExplodedPipeline emits the unnest node for the exploding rule at
// matchKey followed by its marginal id pairs, named
// MarginalExplodedTableName(matchKey). concatColumns are the columns of the
// concatenated input; every column that is not exploded passes through the
// unnest unchanged.
func MarginalExplodedPipeline(plan Plan, rc RenderContext, concatTable string, concatColumns []string, matchKey int) (*pipeline.Pipeline, error) {
	ar, ok := plan.Rule(matchKey)
	if !ok || ar.Rule.Kind() != KindExploding {
		return nil, fmt.Errorf("%w: rule with match key %d is not exploding", apperrors.ErrPrecondition, matchKey)
	}

	arrays := ar.Rule.ArrayColumns()
	isArray := make(map[string]struct{}, len(arrays))
	for _, c := range arrays {
		isArray[c] = struct{}{}
	}
	if len(concatColumns) == 0 {
		concatColumns = rc.OutputColumns()
	}
	var retain []string
	for _, c := range concatColumns {
		if _, ok := isArray[c]; !ok {
			retain = append(retain, c)
		}
	}

	p := pipeline.New()
	if err := p.Enqueue(rc.Dialect.ExplodeSQL(concatTable, arrays, retain), UnnestedTable); err != nil {
		return nil, err
	}
	sql, err := plan.MarginalExplodedIDPairsSQL(rc, matchKey, UnnestedTable)
	if err != nil {
		return nil, err
	}
	if err := p.Enqueue(sql, MarginalExplodedTableName(matchKey)); err != nil {
		return nil, err
	}
	return p, nil
}
