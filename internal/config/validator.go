package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tag rules first, then cross-field rules.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	checkStruct("server", cfg.Server, result)
	checkStruct("storage", cfg.Storage, result)
	checkStruct("health", cfg.Health, result)
	checkStruct("notify", cfg.Notify, result)
	if cfg.API.Enabled {
		checkStruct("api", cfg.API, result)
	}
	names := make(map[string]bool, len(cfg.Bots))
	for i, b := range cfg.Bots {
		prefix := fmt.Sprintf("bots[%d]", i)
		checkStruct(prefix, b, result)
		if names[b.Name] {
			result.AddError(prefix+".name", fmt.Sprintf("duplicate bot name %q", b.Name))
		}
		names[b.Name] = true
		if b.Script != "" {
			if _, err := os.Stat(b.Script); err != nil {
				result.AddWarning(prefix+".script", fmt.Sprintf("script not readable: %s", b.Script))
			}
		}
	}

	if !cfg.Server.SkipLoginURL && strings.TrimSpace(cfg.Server.DataURL()) == "" {
		result.AddError("server.server_data_url", "server data URL is required unless skip_login_url is set")
	}

	if cfg.Server.Port > 0 && cfg.Server.Port < 1024 {
		result.AddWarning("server.port", fmt.Sprintf("port %d is unusual for a game server", cfg.Server.Port))
	}

	if strings.TrimSpace(cfg.Items.Path) == "" {
		result.AddError("items.path", "items file path is required")
	}

	if t := cfg.Storage.CleanupTime; t != "" {
		if _, err := time.Parse("15:04", t); err != nil {
			result.AddError("storage.cleanup_time", fmt.Sprintf("invalid time %q, want HH:MM", t))
		}
	}

	d := cfg.Delays
	if d.Punch < 50 || d.Place < 50 {
		result.AddWarning("delays", "punch or place delay under 50ms may get the bot disconnected")
	}

	if cfg.MQTT.Enabled {
		if strings.TrimSpace(cfg.MQTT.BrokerURL) == "" {
			result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if cfg.MQTT.Port < 1 || cfg.MQTT.Port > 65535 {
			result.AddError("mqtt.port", "invalid MQTT port")
		}
	}

	if cfg.API.Enabled && cfg.API.RateLimitRPS < 1 {
		result.AddWarning("api.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}

	return result
}

func checkStruct(prefix string, v any, result *ValidationResult) {
	err := validate.Struct(v)
	if err == nil {
		return
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		result.AddError(prefix, err.Error())
		return
	}
	for _, fe := range fieldErrs {
		result.AddError(prefix+"."+strings.ToLower(fe.Field()), fmt.Sprintf("failed %q rule", fe.Tag()))
	}
}

// IsPortAvailable checks if a port is available for binding.
func IsPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
