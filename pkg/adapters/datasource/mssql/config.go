package mssql

import (
	"fmt"
	"strconv"
)

// Config contains SQL Server connection options. Only SQL authentication
// is supported.
type Config struct {
	Host     string
	Port     int
	Database string

	Username string
	Password string

	Encrypt                bool
	TrustServerCertificate bool
	ConnectionTimeout      int // seconds
}

// DefaultPort returns the default SQL Server port.
func DefaultPort() int {
	return 1433
}

// DefaultConnectionTimeout returns the default connection timeout in seconds.
func DefaultConnectionTimeout() int {
	return 30
}

func intValue(v any) (int, bool, error) {
	switch n := v.(type) {
	case float64: // JSON numbers are float64
		return int(n), true, nil
	case int:
		return n, true, nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, false, err
		}
		return i, true, nil
	}
	return 0, false, nil
}

// FromMap creates a Config from a generic config map.
func FromMap(config map[string]any) (*Config, error) {
	cfg := &Config{
		Port:              DefaultPort(),
		Encrypt:           true,
		ConnectionTimeout: DefaultConnectionTimeout(),
	}

	if host, ok := config["host"].(string); ok && host != "" {
		cfg.Host = host
	} else {
		return nil, fmt.Errorf("host is required")
	}

	if port, ok, err := intValue(config["port"]); err != nil {
		return nil, fmt.Errorf("invalid port: %w", err)
	} else if ok {
		cfg.Port = port
	}

	if database, ok := config["database"].(string); ok && database != "" {
		cfg.Database = database
	} else {
		return nil, fmt.Errorf("database is required")
	}

	if method, ok := config["auth_method"].(string); ok && method != "" && method != "sql" {
		return nil, fmt.Errorf("invalid auth method: %s (only sql is supported)", method)
	}

	if username, ok := config["username"].(string); ok && username != "" {
		cfg.Username = username
	} else if user, ok := config["user"].(string); ok && user != "" {
		cfg.Username = user
	} else {
		return nil, fmt.Errorf("username is required for SQL authentication")
	}

	if password, ok := config["password"].(string); ok {
		cfg.Password = password
	}

	if encrypt, ok := config["encrypt"].(bool); ok {
		cfg.Encrypt = encrypt
	} else if encryptStr, ok := config["encrypt"].(string); ok {
		// "true", "false", "strict"
		cfg.Encrypt = encryptStr == "true" || encryptStr == "strict"
	}

	if trust, ok := config["trust_server_certificate"].(bool); ok {
		cfg.TrustServerCertificate = trust
	}

	if timeout, ok, err := intValue(config["connection_timeout"]); err != nil {
		return nil, fmt.Errorf("invalid connection_timeout: %w", err)
	} else if ok {
		cfg.ConnectionTimeout = timeout
	}

	return cfg, nil
}

// Validate checks that the config has all required fields.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.Username == "" {
		return fmt.Errorf("username is required for SQL authentication")
	}
	return nil
}
