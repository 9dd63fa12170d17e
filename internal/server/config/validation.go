package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate = validator.New()

// Validate checks struct tags and the rules tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	if cfg.HTTP.MaxChunkSizeBytes <= 0 {
		return fmt.Errorf("http.max_chunk_size: must be positive")
	}
	for _, ext := range cfg.Storage.AllowedExtensions {
		if strings.ContainsAny(ext, "/\\") {
			return fmt.Errorf("storage.allowed_extensions: invalid extension %q", ext)
		}
	}
	return nil
}

// formatValidationError reports every failing field on its own line.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	msgs := make([]string, 0, len(validationErrs))
	for _, e := range validationErrs {
		msgs = append(msgs, fmt.Sprintf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value()))
	}
	return errors.New(strings.Join(msgs, "\n"))
}
