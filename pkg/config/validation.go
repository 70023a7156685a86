package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/vengine/pkg/protocol"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for rules that span
// several fields.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if !cfg.Adapters.RESP.Enabled {
		return fmt.Errorf("adapters: at least one adapter must be enabled")
	}

	r := &cfg.Adapters.RESP

	if _, err := protocol.ParseType(r.Protocol); err != nil {
		return fmt.Errorf("adapters.resp.protocol: %w", err)
	}
	if r.Workers < 1 {
		return fmt.Errorf("adapters.resp.workers: must be >= 1, got %d", r.Workers)
	}
	if r.ReadBufferMin < 1 {
		return fmt.Errorf("adapters.resp.read_buffer_min: must be >= 1, got %d", r.ReadBufferMin)
	}
	if r.ReadBufferMin > r.ReadBufferMax {
		return fmt.Errorf("adapters.resp: read_buffer_min (%d) must not exceed read_buffer_max (%d)",
			r.ReadBufferMin, r.ReadBufferMax)
	}
	if r.AcceptBurst > 0 && r.AcceptRate == 0 {
		return fmt.Errorf("adapters.resp: accept_burst is set but accept_rate is 0 (unlimited)")
	}

	if cfg.Server.Metrics.Enabled && cfg.Server.Metrics.Port == r.Port && cfg.Server.Metrics.Port != 0 {
		return fmt.Errorf("server.metrics.port: %d conflicts with adapters.resp.port", r.Port)
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
