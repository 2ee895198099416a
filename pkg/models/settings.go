package models

const (
	DefaultUniqueIDColumn      = "unique_id"
	DefaultSourceDatasetColumn = "source_dataset"
)

// ColumnSettings names the id columns of the input records and the extra
// columns carried through onto each candidate pair.
type ColumnSettings struct {
	UniqueIDColumn      string   `yaml:"unique_id_column_name" json:"unique_id_column_name"`
	SourceDatasetColumn string   `yaml:"source_dataset_column_name" json:"source_dataset_column_name"`
	RetainColumns       []string `yaml:"additional_columns_to_retain,omitempty" json:"additional_columns_to_retain,omitempty"`
}

// InputTable is one input dataset. DatasetName is written into the source
// dataset column for link types spanning more than one dataset; it defaults
// to the table name.
type InputTable struct {
	Table       string `yaml:"table" json:"table"`
	DatasetName string `yaml:"dataset_name,omitempty" json:"dataset_name,omitempty"`
}

// Dataset returns the name recorded for this table in the source dataset column.
func (t InputTable) Dataset() string {
	if t.DatasetName != "" {
		return t.DatasetName
	}
	return t.Table
}

// LinkageSettings is the part of a linkage configuration that blocking reads.
type LinkageSettings struct {
	LinkType   LinkType `yaml:"link_type" json:"link_type"`
	SQLDialect string   `yaml:"sql_dialect,omitempty" json:"sql_dialect,omitempty"`
	ColumnSettings `yaml:",inline"`

	InputTables   []InputTable              `yaml:"input_tables" json:"input_tables"`
	BlockingRules []BlockingRuleDescription `yaml:"blocking_rules_to_generate_predictions" json:"blocking_rules_to_generate_predictions"`
	// Deterministic adds a constant match probability of 1.00 to blocked pairs.
	Deterministic bool `yaml:"deterministic,omitempty" json:"deterministic,omitempty"`
}

// ApplyDefaults fills unset column names.
func (s *LinkageSettings) ApplyDefaults() {
	if s.ColumnSettings.UniqueIDColumn == "" {
		s.ColumnSettings.UniqueIDColumn = DefaultUniqueIDColumn
	}
	if s.ColumnSettings.SourceDatasetColumn == "" {
		s.ColumnSettings.SourceDatasetColumn = DefaultSourceDatasetColumn
	}
	if s.LinkType == "" {
		s.LinkType = LinkTypeDedupeOnly
	}
}

// Validate checks the link type and the input tables it is given.
func (s *LinkageSettings) Validate() error {
	if _, err := ParseLinkType(string(s.LinkType)); err != nil {
		return err
	}
	return s.LinkType.CheckInputTables(s.InputTables)
}

// ForAnalysis projects the settings onto what blocking analysis needs.
// Retained columns and the match probability are dropped because counting
// pairs does not need them. The returned value shares nothing mutable with s.
func (s *LinkageSettings) ForAnalysis() AnalysisSettings {
	rules := make([]BlockingRuleDescription, len(s.BlockingRules))
	for i, r := range s.BlockingRules {
		rules[i] = r.clone()
	}
	tables := make([]InputTable, len(s.InputTables))
	copy(tables, s.InputTables)

	return AnalysisSettings{
		LinkType: s.LinkType,
		Columns: ColumnSettings{
			UniqueIDColumn:      s.ColumnSettings.UniqueIDColumn,
			SourceDatasetColumn: s.ColumnSettings.SourceDatasetColumn,
		},
		InputTables:   tables,
		BlockingRules: rules,
		SQLDialect:    s.SQLDialect,
	}
}

// AnalysisSettings is the minimal, caller-independent view of a linkage
// configuration used by blocking analysis.
type AnalysisSettings struct {
	LinkType      LinkType
	Columns       ColumnSettings
	InputTables   []InputTable
	BlockingRules []BlockingRuleDescription
	SQLDialect    string
}
