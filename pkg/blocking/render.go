package blocking

import (
	"fmt"
	"strings"

	"github.com/vfrank66/splink/pkg/apperrors"
	"github.com/vfrank66/splink/pkg/dialect"
	"github.com/vfrank66/splink/pkg/models"
)

// Table names emitted by the compiler. Physical tables get a run suffix from
// the table store; these are the logical output names.
const (
	ConcatTable           = "__splink__df_concat"
	UnnestedTable         = "__splink__df_concat_unnested"
	BlockedPairsTable     = "__splink__df_blocked"
	MarginalExplodedTable = "__splink__marginal_exploded_ids_blocking_rule"

	// SaltColumn holds each record's deterministic salt in [0, 1).
	SaltColumn = "__splink_salt"

	compositeIDSeparator = "'-__-'"
)

// MarginalExplodedTableName is the output name of the id pair table of the
// exploding rule at matchKey.
func MarginalExplodedTableName(matchKey int) string {
	return fmt.Sprintf("%s_mk_%d", MarginalExplodedTable, matchKey)
}

// RenderContext carries everything besides the rules that shapes the
// emitted SQL.
type RenderContext struct {
	Dialect             dialect.Dialect
	LinkType            models.LinkType
	UniqueIDColumn      string
	SourceDatasetColumn string
	// RetainColumns are extra input columns carried into each pair as
	// <col>_l and <col>_r.
	RetainColumns []string
}

// NewRenderContext resolves the dialect by name and fills column defaults.
func NewRenderContext(dialectName string, linkType models.LinkType, cols models.ColumnSettings) (RenderContext, error) {
	d, err := dialect.Get(dialectName)
	if err != nil {
		return RenderContext{}, err
	}
	rc := RenderContext{
		Dialect:             d,
		LinkType:            linkType,
		UniqueIDColumn:      cols.UniqueIDColumn,
		SourceDatasetColumn: cols.SourceDatasetColumn,
		RetainColumns:       append([]string(nil), cols.RetainColumns...),
	}
	if rc.UniqueIDColumn == "" {
		rc.UniqueIDColumn = models.DefaultUniqueIDColumn
	}
	if rc.SourceDatasetColumn == "" {
		rc.SourceDatasetColumn = models.DefaultSourceDatasetColumn
	}
	return rc, rc.Validate()
}

// Validate checks the context is complete.
func (rc RenderContext) Validate() error {
	if rc.Dialect == nil {
		return fmt.Errorf("%w: render context has no dialect", apperrors.ErrConfiguration)
	}
	if _, err := models.ParseLinkType(string(rc.LinkType)); err != nil {
		return err
	}
	if rc.UniqueIDColumn == "" {
		return fmt.Errorf("%w: unique id column is empty", apperrors.ErrConfiguration)
	}
	if rc.LinkType.SpansDatasets() && rc.SourceDatasetColumn == "" {
		return fmt.Errorf("%w: link_type %s needs a source dataset column", apperrors.ErrConfiguration, rc.LinkType)
	}
	return nil
}

// IDColumns are the columns that identify a record: the source dataset
// (for link types spanning datasets) followed by the unique id.
func (rc RenderContext) IDColumns() []string {
	if rc.LinkType.SpansDatasets() {
		return []string{rc.SourceDatasetColumn, rc.UniqueIDColumn}
	}
	return []string{rc.UniqueIDColumn}
}

// OutputColumns lists the input columns each pair carries, in order.
func (rc RenderContext) OutputColumns() []string {
	cols := rc.IDColumns()
	seen := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		seen[c] = struct{}{}
	}
	for _, c := range rc.RetainColumns {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		cols = append(cols, c)
	}
	return cols
}

// selectColumns renders "l.c AS c_l, r.c AS c_r" for every output column.
func (rc RenderContext) selectColumns() string {
	cols := rc.OutputColumns()
	parts := make([]string, 0, 2*len(cols))
	for _, c := range cols {
		parts = append(parts,
			fmt.Sprintf("%s AS %s", dialect.Qualify(rc.Dialect, "l", c), rc.Dialect.QuoteIdentifier(c+"_l")),
			fmt.Sprintf("%s AS %s", dialect.Qualify(rc.Dialect, "r", c), rc.Dialect.QuoteIdentifier(c+"_r")),
		)
	}
	return strings.Join(parts, ", ")
}

// idExpr is the record identity under alias: the unique id, or for link
// types spanning datasets "<source>-__-<id>" so ids are unique across
// inputs.
func (rc RenderContext) idExpr(alias string) string {
	uid := dialect.Qualify(rc.Dialect, alias, rc.UniqueIDColumn)
	if !rc.LinkType.SpansDatasets() {
		return uid
	}
	return rc.Dialect.Concat(
		dialect.Qualify(rc.Dialect, alias, rc.SourceDatasetColumn),
		compositeIDSeparator,
		rc.Dialect.CastText(uid),
	)
}

func (rc RenderContext) pairIDColumn(side string) string {
	return rc.Dialect.QuoteIdentifier(rc.UniqueIDColumn + "_" + side)
}

// whereCondition restricts pairs the way the link type requires: one
// ordering of each unordered pair, and for link_only no pairs within a
// dataset.
func (rc RenderContext) whereCondition() string {
	if !rc.LinkType.OrdersPairs() {
		return "WHERE 1=1"
	}
	where := fmt.Sprintf("WHERE %s < %s", rc.idExpr("l"), rc.idExpr("r"))
	if rc.LinkType == models.LinkTypeLinkOnly {
		sd := rc.SourceDatasetColumn
		where += fmt.Sprintf(" AND %s != %s", dialect.Qualify(rc.Dialect, "l", sd), dialect.Qualify(rc.Dialect, "r", sd))
	}
	return where
}

// Inputs names the left and right record sets of the pair join. Either may
// be a table name or a parenthesised derived table.
type Inputs struct {
	Left  string
	Right string
}

// InputsFor derives the join inputs from the concatenated input table. For
// two_dataset_link_only the left side is the dataset whose name sorts
// first, matching the ordering the exploded id pairs use.
func InputsFor(rc RenderContext, concatTable string) Inputs {
	if rc.LinkType.SameInputSet() {
		return Inputs{Left: concatTable, Right: concatTable}
	}
	sd := rc.Dialect.QuoteIdentifier(rc.SourceDatasetColumn)
	split := func(agg string) string {
		return fmt.Sprintf("(SELECT * FROM %s WHERE %s = (SELECT %s(%s) FROM %s))",
			concatTable, sd, agg, sd, concatTable)
	}
	return Inputs{Left: split("min"), Right: split("max")}
}
