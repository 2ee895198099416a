package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds the runtime configuration of the splink tools.
// Configuration can come from a YAML file or environment variables.
// Environment variables always override YAML values.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// SettingsPath points at the linkage settings YAML read by LoadSettings.
	SettingsPath string `yaml:"settings_path" env:"SPLINK_SETTINGS" env-default:"settings.yaml"`

	// RunID suffixes every table created during a run. Empty draws a random one.
	RunID string `yaml:"run_id" env:"SPLINK_RUN_ID" env-default:""`

	Datasource DatasourceConfig `yaml:"datasource"`
}

// DatasourceConfig holds the connection to the database the blocking SQL
// runs against.
type DatasourceConfig struct {
	// Type is the registered adapter type: "postgres" or "mssql".
	Type     string `yaml:"type" env:"DATASOURCE_TYPE" env-default:"postgres"`
	Host     string `yaml:"host" env:"DATASOURCE_HOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"DATASOURCE_PORT" env-default:"0"`
	User     string `yaml:"user" env:"DATASOURCE_USER" env-default:"splink"`
	Password string `yaml:"-" env:"DATASOURCE_PASSWORD"` // Secret - not in YAML
	Database string `yaml:"database" env:"DATASOURCE_DATABASE" env-default:"splink"`

	// PostgreSQL only.
	SSLMode  string `yaml:"ssl_mode" env:"DATASOURCE_SSL_MODE" env-default:"disable"`
	MaxConns int    `yaml:"max_conns" env:"DATASOURCE_MAX_CONNS" env-default:"4"`

	// SQL Server only.
	Encrypt                bool `yaml:"encrypt" env:"DATASOURCE_ENCRYPT" env-default:"true"`
	TrustServerCertificate bool `yaml:"trust_server_certificate" env:"DATASOURCE_TRUST_SERVER_CERTIFICATE" env-default:"false"`
}

// Load reads configuration from the YAML file at path with environment
// variable overrides. A missing file is an error unless path is empty, in
// which case only the environment is read.
func Load(path, version string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	cfg.Version = version

	if err := cfg.Datasource.normalize(); err != nil {
		return nil, fmt.Errorf("invalid datasource configuration: %w", err)
	}
	return cfg, nil
}

// LoadDefault reads config.yaml from the working directory when present and
// falls back to the environment otherwise.
func LoadDefault(version string) (*Config, error) {
	if _, err := os.Stat("config.yaml"); errors.Is(err, os.ErrNotExist) {
		return Load("", version)
	}
	return Load("config.yaml", version)
}

func (d *DatasourceConfig) normalize() error {
	d.Type = strings.ToLower(strings.TrimSpace(d.Type))
	switch d.Type {
	case "postgres", "postgresql":
		d.Type = "postgres"
		if d.Port == 0 {
			d.Port = 5432
		}
	case "mssql", "sqlserver":
		d.Type = "mssql"
		if d.Port == 0 {
			d.Port = 1433
		}
	default:
		return fmt.Errorf("unsupported datasource type %q (must be postgres or mssql)", d.Type)
	}
	if d.Host == "" {
		return fmt.Errorf("datasource host is required")
	}
	if d.Database == "" {
		return fmt.Errorf("datasource database is required")
	}
	return nil
}

// ConnectionMap returns the generic config map read by the adapter
// registered for d.Type.
func (d *DatasourceConfig) ConnectionMap() map[string]any {
	m := map[string]any{
		"host":     d.Host,
		"port":     d.Port,
		"user":     d.User,
		"password": d.Password,
		"database": d.Database,
	}
	switch d.Type {
	case "postgres":
		m["ssl_mode"] = d.SSLMode
		m["max_conns"] = d.MaxConns
	case "mssql":
		m["encrypt"] = d.Encrypt
		m["trust_server_certificate"] = d.TrustServerCertificate
	}
	return m
}
