// Package report renders blocking analysis and rule search results as text
// tables.
package report

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/jinzhu/inflection"

	"github.com/vfrank66/splink/pkg/models"
)

const ruleWidth = 60

// countOf renders "1 rule" or "3 rules".
func countOf(n int64, noun string) string {
	if n != 1 {
		noun = inflection.Plural(noun)
	}
	return fmt.Sprintf("%d %s", n, noun)
}

func newWriter(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(title)
	t.SetStyle(table.StyleLight)
	return t
}

// Summary describes the outcome of a cumulative comparison analysis in one
// line.
func Summary(rows []models.BlockingAnalysisRow) string {
	var total int64
	if len(rows) > 0 {
		total = rows[len(rows)-1].CumulativeRows
	}
	verb := "generate"
	if len(rows) == 1 {
		verb = "generates"
	}
	s := fmt.Sprintf("%s %s %s", countOf(int64(len(rows)), "blocking rule"), verb, countOf(total, "comparison"))
	if len(rows) > 0 && rows[len(rows)-1].CartesianSize != nil {
		s += fmt.Sprintf(" out of %d possible", *rows[len(rows)-1].CartesianSize)
	}
	return s
}

// WriteAnalysis renders cumulative comparison rows, one per rule in match
// key order.
func WriteAnalysis(w io.Writer, rows []models.BlockingAnalysisRow) {
	t := newWriter(w, "CUMULATIVE COMPARISONS")
	t.AppendHeader(table.Row{"Match Key", "Blocking Rule", "Comparisons", "Cumulative", "Reduction Ratio"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Match Key", Align: text.AlignRight},
		{Name: "Blocking Rule", WidthMax: ruleWidth},
		{Name: "Comparisons", Align: text.AlignRight},
		{Name: "Cumulative", Align: text.AlignRight},
		{Name: "Reduction Ratio", Align: text.AlignRight},
	})
	for _, r := range rows {
		ratio := "-"
		if r.ReductionRatio != nil {
			ratio = strconv.FormatFloat(*r.ReductionRatio, 'f', 6, 64)
		}
		t.AppendRow(table.Row{r.MatchKey, r.Rule, r.RowCount, r.CumulativeRows, ratio})
	}
	t.Render()
	fmt.Fprintln(w, Summary(rows))
}

// WriteSearch renders rule search results with one flag column per
// candidate column.
func WriteSearch(w io.Writer, results []models.RuleSearchResult) {
	t := newWriter(w, fmt.Sprintf("BLOCKING RULES FOUND (%s)", countOf(int64(len(results)), "rule")))

	var fixed []string
	if len(results) > 0 {
		fixed = candidateOrder(results)
	}

	header := table.Row{"Columns", "Comparisons", "Equi-joins"}
	for _, c := range fixed {
		header = append(header, c)
	}
	t.AppendHeader(header)
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Comparisons", Align: text.AlignRight},
		{Name: "Equi-joins", Align: text.AlignRight},
	})

	for _, r := range results {
		cols := strings.Join(r.BlockingColumns, ", ")
		if cols == "" {
			cols = "(none)"
		}
		row := table.Row{cols, r.ComparisonCount, r.NumEquiJoins}
		for _, c := range fixed {
			row = append(row, r.Fixed[c])
		}
		t.AppendRow(row)
	}
	t.Render()
}

// candidateOrder lists flag columns in the order they first appear as
// blocking columns, then the rest alphabetically.
func candidateOrder(results []models.RuleSearchResult) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(c string) {
		if _, ok := seen[c]; !ok {
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	for _, r := range results {
		for _, c := range r.BlockingColumns {
			add(c)
		}
	}
	var rest []string
	for c := range results[0].Fixed {
		if _, ok := seen[c]; !ok {
			rest = append(rest, c)
		}
	}
	sort.Strings(rest)
	for _, c := range rest {
		add(c)
	}
	return out
}
