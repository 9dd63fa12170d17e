package config

import (
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const maskedSecret = "********"

// Dump renders the effective settings of v as YAML with secrets masked.
func Dump(v *viper.Viper) ([]byte, error) {
	settings := v.AllSettings()
	if auth, ok := settings["auth"].(map[string]any); ok {
		if _, ok := auth["secret_key"]; ok {
			auth["secret_key"] = maskedSecret
		}
	}
	return yaml.Marshal(settings)
}

// DefaultsYAML renders only the built-in defaults, for `config generate`.
func DefaultsYAML() ([]byte, error) {
	v := viper.New()
	SetDefaults(v)
	return yaml.Marshal(v.AllSettings())
}
