// Package config handles configuration for the server component: built-in
// defaults, .env files, an optional YAML/JSON/TOML file, GOPHDRIVE_*
// environment variables and command-line flags, in increasing precedence.
package config

import "time"

// Config holds runtime settings for the gophdrive server.
//
// Size fields are written in human form ("64MiB", "5GiB") and resolved into
// the matching *Bytes fields by Load.
type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Reaper    ReaperConfig    `mapstructure:"reaper"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       LogConfig       `mapstructure:"log"`
}

type HTTPConfig struct {
	Address           string        `mapstructure:"address" validate:"required"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	MaxChunkSize      string        `mapstructure:"max_chunk_size" validate:"required"`
	MaxChunkSizeBytes int64         `mapstructure:"-"`
}

// DatabaseConfig selects the metadata store. SQLite is the single-node
// default; PostgreSQL is reached through the pgx stdlib driver.
type DatabaseConfig struct {
	Driver      string `mapstructure:"driver" validate:"required,oneof=sqlite postgres"`
	DSN         string `mapstructure:"dsn" validate:"required"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

// AuthConfig holds the HMAC secret for signing JWTs (HS256).
// Do not use the default secret in prod.
type AuthConfig struct {
	SecretKey     string        `mapstructure:"secret_key" validate:"required,min=8"`
	TokenValidity time.Duration `mapstructure:"token_validity" validate:"gt=0"`
}

type StorageConfig struct {
	UploadFolder      string   `mapstructure:"upload_folder" validate:"required"`
	DefaultQuota      string   `mapstructure:"default_quota" validate:"required"`
	DefaultQuotaBytes int64    `mapstructure:"-"`
	AllowedExtensions []string `mapstructure:"allowed_extensions"`
}

// ReaperConfig controls the stale upload session reaper. StaleThreshold must
// exceed Interval so a session survives several scans before it is purged.
type ReaperConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Interval       time.Duration `mapstructure:"interval" validate:"gt=0"`
	StaleThreshold time.Duration `mapstructure:"stale_threshold" validate:"gtfield=Interval"`
}

// ReconcileConfig schedules the used_space recomputation. Zero disables it.
type ReconcileConfig struct {
	Interval time.Duration `mapstructure:"interval" validate:"gte=0"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"required,startswith=/"`
}

type LogConfig struct {
	Level    string         `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format   string         `mapstructure:"format" validate:"oneof=json console"`
	File     string         `mapstructure:"file"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int  `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int  `mapstructure:"max_age_days" validate:"gte=0"`
	Compress   bool `mapstructure:"compress"`
}
