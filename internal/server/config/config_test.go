package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	c, err := Load(NewViper())
	require.NoError(t, err)

	assert.Equal(t, ":8080", c.HTTP.Address)
	assert.Equal(t, 10*time.Second, c.HTTP.ShutdownTimeout)
	assert.Equal(t, int64(64<<20), c.HTTP.MaxChunkSizeBytes)
	assert.Equal(t, "sqlite", c.Database.Driver)
	assert.Equal(t, DefaultDatabaseDSN, c.Database.DSN)
	assert.True(t, c.Database.AutoMigrate)
	assert.Equal(t, DefaultSecretKey, c.Auth.SecretKey)
	assert.Equal(t, 24*time.Hour, c.Auth.TokenValidity)
	assert.Equal(t, "./uploads", c.Storage.UploadFolder)
	assert.Equal(t, int64(5<<30), c.Storage.DefaultQuotaBytes)
	assert.Empty(t, c.Storage.AllowedExtensions)
	assert.True(t, c.Reaper.Enabled)
	assert.Equal(t, 5*time.Minute, c.Reaper.Interval)
	assert.Equal(t, 10*time.Minute, c.Reaper.StaleThreshold)
	assert.Equal(t, time.Hour, c.Reconcile.Interval)
	assert.Equal(t, "/metrics", c.Metrics.Path)
	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, "json", c.Log.Format)
	assert.Equal(t, 100, c.Log.Rotation.MaxSizeMB)
}

func TestReadInConfig_FileOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gophdrive.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  address: "127.0.0.1:9000"
  max_chunk_size: 8MiB
database:
  driver: postgres
  dsn: postgres://u:p@db:5432/drive?sslmode=disable
storage:
  upload_folder: /srv/uploads
  default_quota: 1GiB
  allowed_extensions: [pdf, txt]
reaper:
  interval: 30s
  stale_threshold: 2m
`), 0o600))

	v := NewViper()
	require.NoError(t, ReadInConfig(v, path))
	c, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", c.HTTP.Address)
	assert.Equal(t, int64(8<<20), c.HTTP.MaxChunkSizeBytes)
	assert.Equal(t, "postgres", c.Database.Driver)
	assert.Equal(t, "/srv/uploads", c.Storage.UploadFolder)
	assert.Equal(t, int64(1<<30), c.Storage.DefaultQuotaBytes)
	assert.Equal(t, []string{"pdf", "txt"}, c.Storage.AllowedExtensions)
	assert.Equal(t, 30*time.Second, c.Reaper.Interval)
	assert.Equal(t, 2*time.Minute, c.Reaper.StaleThreshold)
	// untouched keys keep their defaults
	assert.Equal(t, 24*time.Hour, c.Auth.TokenValidity)
}

func TestReadInConfig_ExplicitMissingFile(t *testing.T) {
	v := NewViper()
	err := ReadInConfig(v, filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gophdrive.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http:\n  address: \":7000\"\n"), 0o600))

	t.Setenv("GOPHDRIVE_HTTP_ADDRESS", ":7100")
	t.Setenv("GOPHDRIVE_STORAGE_DEFAULT_QUOTA", "2GiB")
	t.Setenv("GOPHDRIVE_REAPER_ENABLED", "false")

	v := NewViper()
	require.NoError(t, ReadInConfig(v, path))
	c, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, ":7100", c.HTTP.Address)
	assert.Equal(t, int64(2<<30), c.Storage.DefaultQuotaBytes)
	assert.False(t, c.Reaper.Enabled)
}

func TestReadInConfig_DotEnvNextToConfig(t *testing.T) {
	const key = "GOPHDRIVE_AUTH_SECRET_KEY"
	require.Empty(t, os.Getenv(key))
	t.Cleanup(func() { _ = os.Unsetenv(key) })

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(key+"=from-dotenv-secret\n"), 0o600))

	v := NewViper()
	require.NoError(t, ReadInConfig(v, path))
	c, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "from-dotenv-secret", c.Auth.SecretKey)
	assert.Equal(t, "debug", c.Log.Level)
}
