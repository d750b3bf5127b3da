package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/agora-works/agora/internal/domain/container"
)

// RegisterCustomValidators registers Agora-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	// container_mode: validates against the batch modes the engine knows.
	if err := v.RegisterValidation("container_mode", validateContainerMode); err != nil {
		return fmt.Errorf("failed to register container_mode validator: %w", err)
	}
	return nil
}

// validateContainerMode checks the field against the known batch modes.
func validateContainerMode(fl validator.FieldLevel) bool {
	return container.Mode(fl.Field().String()).Valid()
}

// Validate validates the Config using struct tags and cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateStoreBackend(); err != nil {
		return err
	}

	return nil
}

// validateStoreBackend ensures the sqlite backend names a database file.
func (c *Config) validateStoreBackend() error {
	if c.Store.Backend == "sqlite" && c.Store.SQLitePath == "" {
		return errors.New("store: sqlite backend requires sqlite_path")
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to
// user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single
// validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "container_mode":
		return fmt.Sprintf("%s must be %q or %q", field, container.ModePartialApply, container.ModeAllOrNothing)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
