package config

import "github.com/spf13/viper"

const (
	DefaultDatabaseDSN = "file:gophdrive.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	DefaultSecretKey   = "change-me-secret-key"
)

// SetDefaults registers every known key on v. Keys without a default are
// invisible to AutomaticEnv during Unmarshal, so each field must appear here.
//
// Durations are strings so that `config show` prints them as written.
//
// NOTE: These values are insecure for production and should be overridden.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("http.address", ":8080")
	v.SetDefault("http.shutdown_timeout", "10s")
	v.SetDefault("http.max_chunk_size", "64MiB")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", DefaultDatabaseDSN)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("auth.secret_key", DefaultSecretKey)
	v.SetDefault("auth.token_validity", "24h")

	v.SetDefault("storage.upload_folder", "./uploads")
	v.SetDefault("storage.default_quota", "5GiB")
	v.SetDefault("storage.allowed_extensions", []string{})

	v.SetDefault("reaper.enabled", true)
	v.SetDefault("reaper.interval", "5m")
	v.SetDefault("reaper.stale_threshold", "10m")

	v.SetDefault("reconcile.interval", "1h")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.rotation.max_size_mb", 100)
	v.SetDefault("log.rotation.max_backups", 5)
	v.SetDefault("log.rotation.max_age_days", 30)
	v.SetDefault("log.rotation.compress", true)
}
