package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vfrank66/splink/pkg/apperrors"
	"github.com/vfrank66/splink/pkg/blocking"
	"github.com/vfrank66/splink/pkg/models"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func clearDatasourceEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"ENVIRONMENT", "LOG_LEVEL", "SPLINK_SETTINGS", "SPLINK_RUN_ID",
		"DATASOURCE_TYPE", "DATASOURCE_HOST", "DATASOURCE_PORT", "DATASOURCE_USER",
		"DATASOURCE_PASSWORD", "DATASOURCE_DATABASE", "DATASOURCE_SSL_MODE",
		"DATASOURCE_MAX_CONNS", "DATASOURCE_ENCRYPT", "DATASOURCE_TRUST_SERVER_CERTIFICATE",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	clearDatasourceEnv(t)
	path := writeFile(t, "config.yaml", `
env: "test"
log_level: "debug"
datasource:
  type: postgres
  host: "db.example.com"
  user: "yamluser"
  database: "linkage"
`)

	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("DATASOURCE_HOST", "override.example.com")
	t.Setenv("DATASOURCE_PASSWORD", "secret")

	cfg, err := Load(path, "v1.2.3")
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Env)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "v1.2.3", cfg.Version)
	assert.Equal(t, "override.example.com", cfg.Datasource.Host)
	assert.Equal(t, "yamluser", cfg.Datasource.User)
	assert.Equal(t, "secret", cfg.Datasource.Password)
	assert.Equal(t, 5432, cfg.Datasource.Port)
}

func TestLoad_PasswordIgnoredInYAML(t *testing.T) {
	clearDatasourceEnv(t)
	path := writeFile(t, "config.yaml", `
datasource:
  host: "db"
  database: "linkage"
  password: "from-yaml"
`)

	cfg, err := Load(path, "dev")
	require.NoError(t, err)
	assert.Empty(t, cfg.Datasource.Password)
}

func TestLoad_EnvOnly(t *testing.T) {
	clearDatasourceEnv(t)
	t.Setenv("DATASOURCE_TYPE", "SQLServer")
	t.Setenv("DATASOURCE_TRUST_SERVER_CERTIFICATE", "true")

	cfg, err := Load("", "dev")
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Env)
	assert.Equal(t, "settings.yaml", cfg.SettingsPath)
	assert.Equal(t, "mssql", cfg.Datasource.Type)
	assert.Equal(t, 1433, cfg.Datasource.Port)
	assert.True(t, cfg.Datasource.Encrypt)
	assert.True(t, cfg.Datasource.TrustServerCertificate)
}

func TestLoad_Errors(t *testing.T) {
	clearDatasourceEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), "dev")
	assert.Error(t, err)

	t.Setenv("DATASOURCE_TYPE", "oracle")
	_, err = Load("", "dev")
	assert.ErrorContains(t, err, "unsupported datasource type")
}

func TestDatasourceConfig_ConnectionMap(t *testing.T) {
	pg := DatasourceConfig{Type: "postgres", Host: "h", Port: 5432, User: "u", Password: "p", Database: "d", SSLMode: "disable", MaxConns: 2}
	m := pg.ConnectionMap()
	assert.Equal(t, "disable", m["ssl_mode"])
	assert.Equal(t, 2, m["max_conns"])
	assert.NotContains(t, m, "encrypt")

	ms := DatasourceConfig{Type: "mssql", Host: "h", Port: 1433, User: "u", Database: "d", Encrypt: true}
	m = ms.ConnectionMap()
	assert.Equal(t, true, m["encrypt"])
	assert.Equal(t, false, m["trust_server_certificate"])
	assert.NotContains(t, m, "ssl_mode")
}

const settingsYAML = `
link_type: link_only
unique_id_column_name: person_id
additional_columns_to_retain: [first_name]
input_tables:
  - table: crm_people
    dataset_name: crm
  - table: billing_people
blocking_rules_to_generate_predictions:
  - l.first_name = r.first_name
  - blocking_rule: l.surname = r.surname
    salting_partitions: 4
  - blocking_rule: l.postcode = r.postcode
    arrays_to_explode: [postcodes]
`

func TestParseSettings(t *testing.T) {
	s, err := ParseSettings([]byte(settingsYAML))
	require.NoError(t, err)

	assert.Equal(t, models.LinkTypeLinkOnly, s.Linkage.LinkType)
	assert.Equal(t, "person_id", s.Linkage.UniqueIDColumn)
	assert.Equal(t, models.DefaultSourceDatasetColumn, s.Linkage.SourceDatasetColumn)
	assert.Equal(t, []string{"first_name"}, s.Linkage.RetainColumns)
	assert.Equal(t, "crm", s.Linkage.InputTables[0].Dataset())
	assert.Equal(t, "billing_people", s.Linkage.InputTables[1].Dataset())

	require.Len(t, s.Rules, 3)
	assert.Equal(t, blocking.KindStandard, s.Rules[0].Kind())
	assert.Equal(t, blocking.KindSalted, s.Rules[1].Kind())
	assert.Equal(t, 4, s.Rules[1].SaltCount())
	assert.Equal(t, blocking.KindExploding, s.Rules[2].Kind())

	assert.Equal(t, "postgres", s.Dialect("postgres"))
}

func TestParseSettings_Defaults(t *testing.T) {
	s, err := ParseSettings([]byte("sql_dialect: sqlserver\ninput_tables:\n  - table: people\n"))
	require.NoError(t, err)
	assert.Equal(t, models.LinkTypeDedupeOnly, s.Linkage.LinkType)
	assert.Equal(t, models.DefaultUniqueIDColumn, s.Linkage.UniqueIDColumn)
	assert.Empty(t, s.Rules)
	assert.Equal(t, "sqlserver", s.Dialect("postgres"))
}

func TestParseSettings_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty", ""},
		{"unknown field", "input_tables: [{table: people}]\nblocking_rulez: []\n"},
		{"unknown link type", "link_type: everything\ninput_tables: [{table: people}]\n"},
		{"dedupe with two tables", "input_tables: [{table: a}, {table: b}]\n"},
		{"same table twice", "link_type: two_dataset_link_only\ninput_tables: [{table: people}, {table: people}]\n"},
		{"shared dataset name", "link_type: link_only\ninput_tables: [{table: a, dataset_name: x}, {table: b, dataset_name: x}]\n"},
		{"unknown rule dialect", `
input_tables: [{table: people}]
blocking_rules_to_generate_predictions:
  - blocking_rule: l.a = r.a
    sql_dialect: duckdb
`},
		{"salt and explode", `
input_tables: [{table: people}]
blocking_rules_to_generate_predictions:
  - blocking_rule: l.a = r.a
    salting_partitions: 2
    arrays_to_explode: [a]
`},
		{"salt count one", `
input_tables: [{table: people}]
blocking_rules_to_generate_predictions:
  - blocking_rule: l.a = r.a
    salting_partitions: 1
`},
		{"rule is a list", `
input_tables: [{table: people}]
blocking_rules_to_generate_predictions:
  - [l.a = r.a]
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSettings([]byte(tt.yaml))
			assert.ErrorIs(t, err, apperrors.ErrConfiguration)
		})
	}
}

func TestLoadSettings(t *testing.T) {
	path := writeFile(t, "settings.yaml", settingsYAML)
	s, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Len(t, s.Rules, 3)

	_, err = LoadSettings(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
