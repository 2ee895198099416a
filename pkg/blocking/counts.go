package blocking

import (
	"fmt"
	"math"
	"strings"

	"github.com/vfrank66/splink/pkg/apperrors"
	"github.com/vfrank66/splink/pkg/models"
	"github.com/vfrank66/splink/pkg/sql"
)

// Column names of the count queries below.
const (
	CountColumn    = "row_count"
	MatchKeyColumn = "match_key"
)

// CountByMatchKeySQL counts the pairs of a blocked pairs query per match
// key. Rows come back unordered.
func CountByMatchKeySQL(blockedSQL string) string {
	return fmt.Sprintf("SELECT %s, CAST(count(*) AS BIGINT) AS %s FROM (\n%s\n) AS blocked GROUP BY %s",
		MatchKeyColumn, CountColumn, blockedSQL, MatchKeyColumn)
}

// RecordCountSQL counts records of the concatenated input, per source
// dataset for link types spanning datasets.
func RecordCountSQL(rc RenderContext, concatTable string) string {
	if !rc.LinkType.SpansDatasets() {
		return fmt.Sprintf("SELECT CAST(count(*) AS BIGINT) AS %s FROM %s", CountColumn, concatTable)
	}
	sd := rc.Dialect.QuoteIdentifier(rc.SourceDatasetColumn)
	return fmt.Sprintf("SELECT %s, CAST(count(*) AS BIGINT) AS %s FROM %s GROUP BY %s",
		sd, CountColumn, concatTable, sd)
}

// CartesianSize is the number of pairs the link type allows with no
// blocking, given record counts per source dataset.
func CartesianSize(linkType models.LinkType, counts []int64) int64 {
	var total int64
	for _, n := range counts {
		total += n
	}
	switch linkType {
	case models.LinkTypeLinkOnly:
		var pairs int64
		for i := range counts {
			for j := i + 1; j < len(counts); j++ {
				pairs += counts[i] * counts[j]
			}
		}
		return pairs
	case models.LinkTypeTwoDatasetLinkOnly:
		if len(counts) != 2 {
			return 0
		}
		return counts[0] * counts[1]
	case models.LinkTypeSelfLink:
		return total * total
	default:
		// dedupe_only and link_and_dedupe
		return total * (total - 1) / 2
	}
}

// ReductionRatio is 1 - comparisons/cartesian rounded to six places. ok is
// false when cartesian is zero.
func ReductionRatio(comparisons, cartesian int64) (ratio float64, ok bool) {
	if cartesian <= 0 {
		return 0, false
	}
	rr := 1 - float64(comparisons)/float64(cartesian)
	return math.Round(rr*1e6) / 1e6, true
}

// CountComparisonsSQL counts the pairs rule generates on its own, with the
// link type's where condition and no exclusion. Exploding rules are not
// supported since they need their id pair table.
func CountComparisonsSQL(rule Rule, rc RenderContext, concatTable string) (string, error) {
	if err := rc.Validate(); err != nil {
		return "", err
	}
	if rule.Kind() == KindExploding {
		return "", fmt.Errorf("%w: comparison counts are not supported for exploding rules", apperrors.ErrPrecondition)
	}
	in := InputsFor(rc, concatTable)
	return fmt.Sprintf("SELECT CAST(count(*) AS BIGINT) AS %s\nFROM %s AS l\nINNER JOIN %s AS r\nON (%s)\n%s",
		CountColumn, in.Left, in.Right, rule.Predicate(), rc.whereCondition()), nil
}

// PreFilterCountSQL estimates the pairs of an equi-join on keys as the sum
// over key groups of left count times right count, ignoring any residual
// filter and the link type's where condition. With no keys it is the
// squared record count.
func PreFilterCountSQL(rc RenderContext, concatTable string, keys []sql.KeyPair) string {
	in := InputsFor(rc, concatTable)
	if len(keys) == 0 {
		return fmt.Sprintf("SELECT (SELECT CAST(count(*) AS BIGINT) FROM %s) * (SELECT CAST(count(*) AS BIGINT) FROM %s) AS %s",
			in.Left, in.Right, CountColumn)
	}

	group := func(source string, pick func(sql.KeyPair) string) string {
		cols := make([]string, len(keys))
		exprs := make([]string, len(keys))
		for i, k := range keys {
			exprs[i] = pick(k)
			cols[i] = fmt.Sprintf("%s AS key_%d", exprs[i], i)
		}
		return fmt.Sprintf("(SELECT %s, CAST(count(*) AS BIGINT) AS n FROM %s AS t GROUP BY %s)",
			strings.Join(cols, ", "), source, strings.Join(exprs, ", "))
	}

	on := make([]string, len(keys))
	for i := range keys {
		on[i] = fmt.Sprintf("lk.key_%d = rk.key_%d", i, i)
	}

	return fmt.Sprintf("SELECT CAST(coalesce(sum(lk.n * rk.n), 0) AS BIGINT) AS %s\nFROM %s AS lk\nINNER JOIN %s AS rk\nON %s",
		CountColumn,
		group(in.Left, func(k sql.KeyPair) string { return k.Left }),
		group(in.Right, func(k sql.KeyPair) string { return k.Right }),
		strings.Join(on, " AND "))
}
