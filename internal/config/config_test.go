package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "opengallery.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Backend)
	assert.Equal(t, ":8088", cfg.Server.HTTPAddr)
	assert.True(t, cfg.Server.DevelopmentMode)
	assert.Equal(t, "opengallery", cfg.Database.DynamoDB.TablePrefix)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
http_addr = ":9000"
development_mode = false

[database]
backend = "unified"

[database.sqlite]
path = "/var/lib/opengallery/gallery.db"

[database.dynamodb]
region = "eu-west-1"
table_prefix = "gallery-prod"

[auth]
jwt_secret = "s3cret"
token_ttl = "12h"

[logging]
level = "debug"
format = "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.HTTPAddr)
	assert.False(t, cfg.Server.DevelopmentMode)
	assert.Equal(t, "unified", cfg.Database.Backend)
	assert.Equal(t, "eu-west-1", cfg.Database.DynamoDB.Region)
	assert.Equal(t, "gallery-prod", cfg.Database.DynamoDB.TablePrefix)
	assert.Equal(t, 12*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_JWT_SECRET", "from-env")

	path := writeConfig(t, `
[auth]
jwt_secret = "${TEST_JWT_SECRET}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
}

func TestLoad_UnknownBackendRejected(t *testing.T) {
	path := writeConfig(t, `
[database]
backend = "postgres"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.backend")
}

func TestLoad_DynamoBackendNeedsRegion(t *testing.T) {
	path := writeConfig(t, `
[database]
backend = "dynamodb"

[database.dynamodb]
region = ""
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "region")
}

func TestLoad_ProductionNeedsSecret(t *testing.T) {
	path := writeConfig(t, `
[server]
development_mode = false
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret")
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeConfig(t, `
[auth]
token_ttl = "tomorrow"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token_ttl")
}
