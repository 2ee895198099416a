package models

// BlockingAnalysisRow reports the pairs one blocking rule adds on top of the
// rules before it.
type BlockingAnalysisRow struct {
	Rule     string `json:"rule"`
	MatchKey int    `json:"match_key"`
	RowCount int64  `json:"row_count"`
	// Start is the cumulative count before this rule.
	Start          int64 `json:"start"`
	CumulativeRows int64 `json:"cumulative_rows"`
	// CartesianSize is nil when the cartesian product was not computed.
	CartesianSize *int64 `json:"cartesian,omitempty"`
	// ReductionRatio is nil when it is undefined: no cartesian size was
	// computed, or the cartesian size is zero.
	ReductionRatio *float64 `json:"reduction_ratio,omitempty"`
}

// RuleSearchResult is one blocking rule found by the rule search whose
// comparison count fell below the requested threshold.
type RuleSearchResult struct {
	BlockingColumns []string `json:"blocking_columns_sanitised"`
	Rule            string   `json:"splink_blocking_rule"`
	ComparisonCount int64    `json:"comparison_count"`
	NumEquiJoins    int      `json:"num_equi_joins"`
	// Fixed maps each sanitised candidate column to 1 when the rule blocks on it.
	Fixed map[string]int `json:"fixed"`
}

// TableHandle identifies a table persisted during one run. OutputName is the
// stable logical name; PhysicalName is unique within the run.
type TableHandle struct {
	OutputName   string `json:"output_name"`
	PhysicalName string `json:"physical_name"`
}
