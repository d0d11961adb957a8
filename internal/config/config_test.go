package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DELFOS_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8010, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.DevMode)
	assert.Equal(t, "delfos-core", cfg.LedgerSignerID)
	assert.True(t, filepath.IsAbs(cfg.DataDir))
	assert.False(t, cfg.Backup.Enabled())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DELFOS_DATA_DIR", t.TempDir())
	t.Setenv("DELFOS_PORT", "9000")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DEV_MODE", "true")
	t.Setenv("EXCHANGE_API_KEY", "key")
	t.Setenv("EXCHANGE_API_SECRET", "secret")
	t.Setenv("BACKUP_S3_BUCKET", "delfos-backups")
	t.Setenv("BACKUP_RETENTION_DAYS", "7")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.DevMode)
	assert.Equal(t, "key", cfg.ExchangeAPIKey)
	assert.True(t, cfg.Backup.Enabled())
	assert.Equal(t, 7, cfg.Backup.RetentionDays)
}

func TestGetEnvAsInt_IgnoresGarbage(t *testing.T) {
	t.Setenv("DELFOS_TEST_INT", "not-a-number")
	assert.Equal(t, 42, getEnvAsInt("DELFOS_TEST_INT", 42))
}
