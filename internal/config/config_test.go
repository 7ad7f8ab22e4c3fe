package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, name := range []string{"TXNSYNC_STORE_DSN", "TXNSYNC_PAGE_LIMIT", "TXNSYNC_HTTP_TIMEOUT", "TXNSYNC_CREDENTIAL_MAX_AGE"} {
		t.Setenv(name, "")
	}
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "https://api.monzo.com", cfg.APIBaseURL)
	assert.Equal(t, "bolt:data/transactions.db", cfg.StoreDSN)
	assert.Equal(t, 100, cfg.PageLimit)
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 4*time.Minute+50*time.Second, cfg.CredentialMaxAge)
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, "https://auth.monzo.com/", cfg.OAuth.AuthURL)
	assert.Equal(t, "https://api.monzo.com/oauth2/token", cfg.OAuth.TokenURL)
	require.NoError(t, cfg.Validate())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("TXNSYNC_STORE_DSN", "postgres://u@db/txnsync")
	t.Setenv("TXNSYNC_PAGE_LIMIT", "50")
	t.Setenv("TXNSYNC_HTTP_TIMEOUT", "5s")
	t.Setenv("TXNSYNC_WATCH_CREDENTIALS", "true")
	t.Setenv("TXNSYNC_SCHEDULE", "@every 1h")
	t.Setenv("TXNSYNC_INTERVAL_JITTER", "0.3")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "postgres://u@db/txnsync", cfg.StoreDSN)
	assert.Equal(t, 50, cfg.PageLimit)
	assert.Equal(t, 5*time.Second, cfg.HTTPTimeout)
	assert.True(t, cfg.WatchCredentials)
	assert.Equal(t, "@every 1h", cfg.Schedule)
	assert.Equal(t, 0.3, cfg.IntervalJitter)
}

func TestFromEnvReportsMalformedValues(t *testing.T) {
	t.Setenv("TXNSYNC_PAGE_LIMIT", "lots")
	t.Setenv("TXNSYNC_RUN_TIMEOUT", "forever")

	cfg, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TXNSYNC_PAGE_LIMIT")
	assert.Contains(t, err.Error(), "TXNSYNC_RUN_TIMEOUT")
	assert.Equal(t, 100, cfg.PageLimit)
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)
	cfg.PageLimit = 101
	cfg.HTTPTimeout = 0
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TXNSYNC_PAGE_LIMIT")
	assert.Contains(t, err.Error(), "TXNSYNC_HTTP_TIMEOUT")
}

func TestLoadReadsEnvFileWithoutOverridingEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("TXNSYNC_TEST_FROM_FILE=file\nTXNSYNC_LOG_LEVEL=debug\n"), 0o600))
	t.Setenv("TXNSYNC_LOG_LEVEL", "warn")
	t.Cleanup(func() { _ = os.Unsetenv("TXNSYNC_TEST_FROM_FILE") })

	cfg, err := Load(path, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "file", os.Getenv("TXNSYNC_TEST_FROM_FILE"))
}
