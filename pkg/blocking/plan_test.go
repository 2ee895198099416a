package blocking

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vfrank66/splink/pkg/apperrors"
	"github.com/vfrank66/splink/pkg/dialect"
	"github.com/vfrank66/splink/pkg/models"
)

func pgContext(linkType models.LinkType) RenderContext {
	return RenderContext{
		Dialect:             dialect.Postgres{},
		LinkType:            linkType,
		UniqueIDColumn:      "unique_id",
		SourceDatasetColumn: "source_dataset",
	}
}

var sameTable = Inputs{Left: "people", Right: "people"}

func TestAssemble_MatchKeysFollowAuthoredOrder(t *testing.T) {
	plan := Assemble([]Rule{
		mustRule(NewRule("l.a = r.a")),
		mustRule(NewSaltedRule("l.b = r.b", 2)),
		mustRule(NewExplodingRule("l.c = r.c", []string{"c"})),
	})

	require.Equal(t, 3, plan.Len())
	for i, ar := range plan.Rules() {
		assert.Equal(t, i, ar.MatchKey)
		assert.Len(t, plan.Preceding(i), i)
	}
	assert.True(t, plan.HasSalted())
	assert.Len(t, plan.Exploding(), 1)
	assert.Equal(t, 2, plan.Exploding()[0].MatchKey)
}

func TestAssemble_EmptySubstitutesAlwaysTrue(t *testing.T) {
	plan := Assemble(nil)

	require.Equal(t, 1, plan.Len())
	ar, ok := plan.Rule(0)
	require.True(t, ok)
	assert.Equal(t, AlwaysTrue, ar.Rule.Predicate())

	sql, err := plan.BlockedPairsSQL(pgContext(models.LinkTypeDedupeOnly), sameTable, false)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT l."unique_id" AS "unique_id_l", r."unique_id" AS "unique_id_r", '0' AS match_key`+"\n"+
			"FROM people AS l\nINNER JOIN people AS r\nON (1=1)\n"+
			`WHERE l."unique_id" < r."unique_id"`,
		sql)
}

func TestPlan_ExclusionChain(t *testing.T) {
	plan := Assemble([]Rule{
		mustRule(NewRule("l.surname = r.surname")),
		mustRule(NewRule("l.postcode = r.postcode")),
		mustRule(NewRule("l.dob = r.dob")),
	})
	rc := pgContext(models.LinkTypeDedupeOnly)

	ex, err := plan.ExclusionSQL(rc, 0)
	require.NoError(t, err)
	assert.Empty(t, ex)

	ex, err = plan.ExclusionSQL(rc, 1)
	require.NoError(t, err)
	assert.Equal(t, "AND NOT (coalesce((l.surname = r.surname), false))", ex)

	ex, err = plan.ExclusionSQL(rc, 2)
	require.NoError(t, err)
	assert.Equal(t, "AND NOT (coalesce((l.surname = r.surname), false) OR coalesce((l.postcode = r.postcode), false))", ex)
}

func TestPlan_ExclusionChain_SQLServer(t *testing.T) {
	plan := Assemble([]Rule{
		mustRule(NewRule("l.surname = r.surname")),
		mustRule(NewRule("l.postcode = r.postcode")),
	})
	rc := pgContext(models.LinkTypeDedupeOnly)
	rc.Dialect = dialect.SQLServer{}

	ex, err := plan.ExclusionSQL(rc, 1)
	require.NoError(t, err)
	assert.Equal(t, "AND NOT ((CASE WHEN (l.surname = r.surname) THEN 1 ELSE 0 END = 1))", ex)
}

func TestPlan_BlockedPairsSQL_Deterministic(t *testing.T) {
	plan := Assemble([]Rule{
		mustRule(NewRule("l.surname = r.surname")),
		mustRule(NewRule("l.postcode = r.postcode")),
	})

	sql, err := plan.BlockedPairsSQL(pgContext(models.LinkTypeDedupeOnly), sameTable, true)
	require.NoError(t, err)

	fragments := strings.Split(sql, "\nUNION ALL\n")
	require.Len(t, fragments, 2)
	assert.Contains(t, fragments[0], "'0' AS match_key, 1.00 AS match_probability")
	assert.Contains(t, fragments[1], "'1' AS match_key, 1.00 AS match_probability")
	assert.NotContains(t, fragments[0], "AND NOT")
	assert.True(t, strings.HasSuffix(fragments[1], "AND NOT (coalesce((l.surname = r.surname), false))"))
}

func TestPlan_WhereConditionPerLinkType(t *testing.T) {
	compositeL := `l."source_dataset" || '-__-' || CAST(l."unique_id" AS text)`
	compositeR := `r."source_dataset" || '-__-' || CAST(r."unique_id" AS text)`

	tests := []struct {
		linkType models.LinkType
		where    string
	}{
		{models.LinkTypeDedupeOnly, `WHERE l."unique_id" < r."unique_id"`},
		{models.LinkTypeLinkAndDedupe, "WHERE " + compositeL + " < " + compositeR},
		{models.LinkTypeLinkOnly, "WHERE " + compositeL + " < " + compositeR + ` AND l."source_dataset" != r."source_dataset"`},
		{models.LinkTypeTwoDatasetLinkOnly, "WHERE 1=1"},
		{models.LinkTypeSelfLink, "WHERE 1=1"},
	}
	plan := Assemble([]Rule{mustRule(NewRule("l.a = r.a"))})

	for _, tt := range tests {
		t.Run(string(tt.linkType), func(t *testing.T) {
			sql, err := plan.BlockedPairsSQL(pgContext(tt.linkType), sameTable, false)
			require.NoError(t, err)
			assert.True(t, strings.HasSuffix(sql, "\n"+tt.where), sql)
		})
	}
}

func TestPlan_OutputColumns(t *testing.T) {
	rc := pgContext(models.LinkTypeLinkOnly)
	rc.RetainColumns = []string{"first_name", "unique_id"}

	assert.Equal(t, []string{"source_dataset", "unique_id", "first_name"}, rc.OutputColumns())

	plan := Assemble(nil)
	sql, err := plan.BlockedPairsSQL(rc, sameTable, false)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sql,
		`SELECT l."source_dataset" AS "source_dataset_l", r."source_dataset" AS "source_dataset_r", `+
			`l."unique_id" AS "unique_id_l", r."unique_id" AS "unique_id_r", `+
			`l."first_name" AS "first_name_l", r."first_name" AS "first_name_r", '0' AS match_key`))
}

func TestPlan_SaltedFragments(t *testing.T) {
	plan := Assemble([]Rule{
		mustRule(NewRule("l.dob = r.dob")),
		mustRule(NewSaltedRule("l.city = r.city", 3)),
	})

	sql, err := plan.FragmentSQL(pgContext(models.LinkTypeDedupeOnly), sameTable, 1, false)
	require.NoError(t, err)

	parts := strings.Split(sql, "\nUNION ALL\n")
	require.Len(t, parts, 3)
	for i, part := range parts {
		assert.Contains(t, part, "'1' AS match_key")
		assert.Contains(t, part, `ON ((l.city = r.city) AND floor(l."__splink_salt" * 3) = `+string(rune('0'+i))+")")
		assert.Contains(t, part, "AND NOT (coalesce((l.dob = r.dob), false))")
	}
}

func TestPlan_SaltedRuleExcludesByPredicateOnly(t *testing.T) {
	plan := Assemble([]Rule{
		mustRule(NewSaltedRule("l.city = r.city", 2)),
		mustRule(NewRule("l.dob = r.dob")),
	})

	ex, err := plan.ExclusionSQL(pgContext(models.LinkTypeDedupeOnly), 1)
	require.NoError(t, err)
	assert.Equal(t, "AND NOT (coalesce((l.city = r.city), false))", ex)
}

func TestPlan_ExplodingRequiresMaterialisation(t *testing.T) {
	plan := Assemble([]Rule{
		mustRule(NewExplodingRule("l.postcode = r.postcode", []string{"postcode"})),
		mustRule(NewRule("l.surname = r.surname")),
	})
	rc := pgContext(models.LinkTypeDedupeOnly)

	_, err := plan.BlockedPairsSQL(rc, sameTable, false)
	assert.ErrorIs(t, err, apperrors.ErrPrecondition)

	_, err = plan.ExclusionSQL(rc, 1)
	assert.ErrorIs(t, err, apperrors.ErrPrecondition)

	// The first exploding rule has nothing before it, so its marginal pairs
	// can be rendered while unmaterialised.
	_, err = plan.MarginalExplodedIDPairsSQL(rc, 0, UnnestedTable)
	assert.NoError(t, err)
}

func TestPlan_WithMaterialized(t *testing.T) {
	plan := Assemble([]Rule{
		mustRule(NewExplodingRule("l.postcode = r.postcode", []string{"postcode"})),
		mustRule(NewRule("l.surname = r.surname")),
	})
	handle := models.TableHandle{OutputName: MarginalExplodedTableName(0), PhysicalName: "__splink__marginal_exploded_ids_blocking_rule_mk_0_abc"}

	next, err := plan.WithMaterialized(0, handle)
	require.NoError(t, err)

	ar, _ := plan.Rule(0)
	assert.False(t, ar.State.IsMaterialized(), "original plan must be unchanged")
	ar, _ = next.Rule(0)
	got, ok := ar.State.Table()
	require.True(t, ok)
	assert.Equal(t, handle, got)
	assert.Equal(t, []models.TableHandle{handle}, next.MaterializedTables())

	rc := pgContext(models.LinkTypeDedupeOnly)
	sql, err := next.BlockedPairsSQL(rc, sameTable, false)
	require.NoError(t, err)

	fragments := strings.Split(sql, "\nUNION ALL\n")
	require.Len(t, fragments, 2)
	assert.Equal(t,
		`SELECT l."unique_id" AS "unique_id_l", r."unique_id" AS "unique_id_r", '0' AS match_key`+"\n"+
			"FROM __splink__marginal_exploded_ids_blocking_rule_mk_0_abc AS pairs\n"+
			`LEFT JOIN people AS l ON pairs."unique_id_l" = l."unique_id"`+"\n"+
			`LEFT JOIN people AS r ON pairs."unique_id_r" = r."unique_id"`,
		fragments[0])
	assert.Contains(t, fragments[1],
		`AND NOT (EXISTS (SELECT 1 FROM __splink__marginal_exploded_ids_blocking_rule_mk_0_abc AS ids `+
			`WHERE l."unique_id" = ids."unique_id_l" AND r."unique_id" = ids."unique_id_r"))`)
}

func TestPlan_WithMaterialized_Errors(t *testing.T) {
	plan := Assemble([]Rule{mustRule(NewRule("l.a = r.a"))})
	handle := models.TableHandle{OutputName: "x", PhysicalName: "x_1"}

	_, err := plan.WithMaterialized(0, handle)
	assert.ErrorIs(t, err, apperrors.ErrPrecondition)

	_, err = plan.WithMaterialized(5, handle)
	assert.ErrorIs(t, err, apperrors.ErrPrecondition)

	plan = Assemble([]Rule{mustRule(NewExplodingRule("l.a = r.a", []string{"a"}))})
	_, err = plan.WithMaterialized(0, models.TableHandle{OutputName: "x"})
	assert.ErrorIs(t, err, apperrors.ErrPrecondition)
}

func TestPlan_MarginalExplodedIDPairsSQL(t *testing.T) {
	plan := Assemble([]Rule{
		mustRule(NewRule("l.surname = r.surname")),
		mustRule(NewExplodingRule("l.postcode = r.postcode", []string{"postcode"})),
	})

	sql, err := plan.MarginalExplodedIDPairsSQL(pgContext(models.LinkTypeDedupeOnly), 1, UnnestedTable)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT DISTINCT l."unique_id" AS "unique_id_l", r."unique_id" AS "unique_id_r"`+"\n"+
			"FROM __splink__df_concat_unnested AS l\nINNER JOIN __splink__df_concat_unnested AS r\n"+
			"ON (l.postcode = r.postcode)\n"+
			`WHERE l."unique_id" < r."unique_id"`+"\n"+
			"AND NOT (coalesce((l.surname = r.surname), false))",
		sql)

	_, err = plan.MarginalExplodedIDPairsSQL(pgContext(models.LinkTypeDedupeOnly), 0, UnnestedTable)
	assert.ErrorIs(t, err, apperrors.ErrPrecondition)
}

func TestPlan_MarginalExplodedIDPairsSQL_TwoDataset(t *testing.T) {
	plan := Assemble([]Rule{mustRule(NewExplodingRule("l.postcode = r.postcode", []string{"postcode"}))})

	sql, err := plan.MarginalExplodedIDPairsSQL(pgContext(models.LinkTypeTwoDatasetLinkOnly), 0, UnnestedTable)
	require.NoError(t, err)
	assert.Contains(t, sql, `WHERE 1=1 AND l."source_dataset" < r."source_dataset"`)
	assert.Contains(t, sql, `l."source_dataset" || '-__-' || CAST(l."unique_id" AS text) AS "unique_id_l"`)
}

func TestInputsFor(t *testing.T) {
	in := InputsFor(pgContext(models.LinkTypeDedupeOnly), "concat_1")
	assert.Equal(t, Inputs{Left: "concat_1", Right: "concat_1"}, in)

	in = InputsFor(pgContext(models.LinkTypeTwoDatasetLinkOnly), "concat_1")
	assert.Equal(t, `(SELECT * FROM concat_1 WHERE "source_dataset" = (SELECT min("source_dataset") FROM concat_1))`, in.Left)
	assert.Equal(t, `(SELECT * FROM concat_1 WHERE "source_dataset" = (SELECT max("source_dataset") FROM concat_1))`, in.Right)
}

func TestRenderContext_Validate(t *testing.T) {
	rc := pgContext(models.LinkTypeDedupeOnly)
	rc.Dialect = nil
	assert.ErrorIs(t, rc.Validate(), apperrors.ErrConfiguration)

	rc = pgContext("bogus")
	assert.ErrorIs(t, rc.Validate(), apperrors.ErrConfiguration)

	rc = pgContext(models.LinkTypeLinkOnly)
	rc.SourceDatasetColumn = ""
	assert.ErrorIs(t, rc.Validate(), apperrors.ErrConfiguration)

	_, err := Assemble(nil).BlockedPairsSQL(RenderContext{}, sameTable, false)
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}

func TestNewRenderContext(t *testing.T) {
	rc, err := NewRenderContext("postgresql", models.LinkTypeLinkOnly, models.ColumnSettings{RetainColumns: []string{"email"}})
	require.NoError(t, err)
	assert.Equal(t, "postgres", rc.Dialect.Name())
	assert.Equal(t, models.DefaultUniqueIDColumn, rc.UniqueIDColumn)
	assert.Equal(t, models.DefaultSourceDatasetColumn, rc.SourceDatasetColumn)
	assert.Equal(t, []string{"email"}, rc.RetainColumns)

	_, err = NewRenderContext("oracle", models.LinkTypeLinkOnly, models.ColumnSettings{})
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}
