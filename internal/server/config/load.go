package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides: http.address -> GOPHDRIVE_HTTP_ADDRESS.
const EnvPrefix = "GOPHDRIVE"

var envFiles = []string{".env", ".env.local"}

// NewViper returns a viper instance with defaults and environment binding set up.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ReadInConfig loads .env files and the config file into v.
// With an empty path the usual locations are searched and a missing file is
// not an error; an explicit path must exist.
func ReadInConfig(v *viper.Viper, path string) error {
	dirs := []string{"."}

	if path != "" {
		v.SetConfigFile(path)
		dirs = append(dirs, filepath.Dir(path))
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/gophdrive")
		dirs = append(dirs, "./config", "/etc/gophdrive")
	}

	for _, dir := range dirs {
		for _, name := range envFiles {
			// godotenv never overrides variables that are already set.
			_ = godotenv.Load(filepath.Join(dir, name))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// Load decodes v into a Config, resolves size strings and validates the result.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.resolveSizes(); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig builds a Config from defaults, .env files, the optional config
// file at path and the environment.
func LoadConfig(path string) (*Config, error) {
	v := NewViper()
	if err := ReadInConfig(v, path); err != nil {
		return nil, err
	}
	return Load(v)
}

func (c *Config) resolveSizes() error {
	n, err := parseSize("http.max_chunk_size", c.HTTP.MaxChunkSize)
	if err != nil {
		return err
	}
	c.HTTP.MaxChunkSizeBytes = n

	n, err = parseSize("storage.default_quota", c.Storage.DefaultQuota)
	if err != nil {
		return err
	}
	c.Storage.DefaultQuotaBytes = n
	return nil
}

func parseSize(key, s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid size %q: %w", key, s, err)
	}
	if n > 1<<62 {
		return 0, fmt.Errorf("%s: size %q is too large", key, s)
	}
	return int64(n), nil
}
