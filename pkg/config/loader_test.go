package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestLoadConfigMergesEnvironmentAndSecrets(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
server:
  port: "8080"
db:
  host: localhost
  password: ${DB_SECRET}
log:
  level: info
`)
	writeFile(t, dir, "staging.yaml", `
log:
  level: debug
`)
	writeFile(t, dir, "secrets.env", "# comment\nDB_SECRET='s3cret'\n")

	raw, err := LoadConfig("staging", dir)
	require.NoError(t, err)

	var out struct {
		Server ServerConfig `yaml:"server"`
		DB     DBConfig     `yaml:"db"`
		Log    LogConfig    `yaml:"log"`
	}
	require.NoError(t, Decode(raw, &out))

	assert.Equal(t, "8080", out.Server.Port)
	assert.Equal(t, "localhost", out.DB.Host)
	assert.Equal(t, "s3cret", out.DB.Password)
	assert.Equal(t, "debug", out.Log.Level)
}

func TestLoadConfigProcessEnvWinsOverSecrets(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "jwt:\n  secret: ${FH_TEST_JWT}\n")
	writeFile(t, dir, "secrets.env", "FH_TEST_JWT=from-file\n")
	t.Setenv("FH_TEST_JWT", "from-env")

	raw, err := LoadConfig("", dir)
	require.NoError(t, err)

	var out struct {
		JWT JWTConfig `yaml:"jwt"`
	}
	require.NoError(t, Decode(raw, &out))
	assert.Equal(t, "from-env", out.JWT.Secret)
}

func TestLoadConfigMissingBase(t *testing.T) {
	_, err := LoadConfig("local", t.TempDir())
	assert.Error(t, err)
}

func TestUnknownPlaceholderIsKept(t *testing.T) {
	got := substitute("${FH_DOES_NOT_EXIST_X}", map[string]string{})
	assert.Equal(t, "${FH_DOES_NOT_EXIST_X}", got)
}

func TestOverrideDBFromEnv(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "6543")
	cfg := DBConfig{Host: "localhost", Port: 5432}
	OverrideDBFromEnv(&cfg)
	assert.Equal(t, "db.internal", cfg.Host)
	assert.Equal(t, 6543, cfg.Port)
}
