// ABOUTME: Configuration loading and parsing for opengallery
// ABOUTME: Supports TOML files with environment variable expansion and sensible defaults

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the complete opengallery configuration
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Auth     AuthConfig     `toml:"auth"`
	Logging  LoggingConfig  `toml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr        string `toml:"http_addr"`
	DevelopmentMode bool   `toml:"development_mode"`
}

// DatabaseConfig selects and configures the storage backends.
// Backend is one of "sqlite", "dynamodb" or "unified"; unified mode uses
// DynamoDB as primary with SQLite as the fallback secondary.
type DatabaseConfig struct {
	Backend  string         `toml:"backend"`
	SQLite   SQLiteConfig   `toml:"sqlite"`
	DynamoDB DynamoDBConfig `toml:"dynamodb"`
}

// SQLiteConfig holds the embedded database configuration
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// DynamoDBConfig holds the table store configuration
type DynamoDBConfig struct {
	Region      string `toml:"region"`
	TablePrefix string `toml:"table_prefix"`
	Endpoint    string `toml:"endpoint"` // optional, for local emulators
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string        `toml:"jwt_secret"`
	TokenTTL  time.Duration `toml:"-"`

	// Raw string value for TOML unmarshaling
	TokenTTLRaw string `toml:"token_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the configuration used when no file is present: local
// SQLite storage, development mode on.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:        ":8088",
			DevelopmentMode: true,
		},
		Database: DatabaseConfig{
			Backend: "sqlite",
			SQLite:  SQLiteConfig{Path: "data/opengallery.db"},
			DynamoDB: DynamoDBConfig{
				Region:      "us-east-1",
				TablePrefix: "opengallery",
			},
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded. A
// missing file is not an error: defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw TOML content
	expandedData := expandEnvVars(string(data))

	if err := toml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first validation failure.
func (c *Config) Validate() error {
	switch c.Database.Backend {
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required")
		}
	case "dynamodb":
		if c.Database.DynamoDB.Region == "" {
			return fmt.Errorf("database.dynamodb.region is required")
		}
	case "unified":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required in unified mode")
		}
		if c.Database.DynamoDB.Region == "" {
			return fmt.Errorf("database.dynamodb.region is required in unified mode")
		}
	default:
		return fmt.Errorf("database.backend must be sqlite, dynamodb or unified, got %q", c.Database.Backend)
	}

	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	// Outside development mode, tokens must be verifiable.
	if !c.Server.DevelopmentMode && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required unless development mode is enabled")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	if cfg.Auth.TokenTTLRaw != "" {
		ttl, err := time.ParseDuration(cfg.Auth.TokenTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing token_ttl %q: %w", cfg.Auth.TokenTTLRaw, err)
		}
		cfg.Auth.TokenTTL = ttl
	}
	return nil
}
