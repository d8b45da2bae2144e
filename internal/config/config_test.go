package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Parallel()
	cfg := Default()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 0.001, cfg.Trading.CommissionRate)
	assert.Equal(t, 3*time.Second, cfg.OracleTimeout())
	assert.Equal(t, 30*time.Second, cfg.RefreshInterval())
	assert.Equal(t, "USDT", cfg.Trading.Currency)
	assert.Empty(t, cfg.Alpaca.APIKey)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Server.Port, cfg.Server.Port)
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "paper.yaml")
	content := `
server:
  port: 9090
storage:
  sqlite_path: /tmp/paper-test.db
trading:
  commission_rate: 0.0025
  oracle_timeout_ms: 500
  refresh_interval_sec: 10
  initial_balance: 50000
  currency: USD
auth:
  jwt_secret: file-secret
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/tmp/paper-test.db", cfg.Storage.SQLitePath)
	assert.Equal(t, 0.0025, cfg.Trading.CommissionRate)
	assert.Equal(t, 500*time.Millisecond, cfg.OracleTimeout())
	assert.Equal(t, 10*time.Second, cfg.RefreshInterval())
	assert.Equal(t, float64(50000), cfg.Trading.InitialBalance)
	assert.Equal(t, "USD", cfg.Trading.Currency)
	assert.Equal(t, "file-secret", cfg.Auth.JWTSecret)
	// Unset sections keep their defaults.
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7000")
	t.Setenv("PAPER_SQLITE_PATH", "/tmp/override.db")
	t.Setenv("PAPER_JWT_SECRET", "env-secret")
	t.Setenv("ALPACA_API_KEY", "key-from-env")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "/tmp/override.db", cfg.Storage.SQLitePath)
	assert.Equal(t, "env-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, "key-from-env", cfg.Alpaca.APIKey)
}
