// Package change contains the change descriptor contract and the static
// catalogue of typed change operations. Every mutation the engine can
// authorize is one of these descriptors: it validates its own fields,
// knows how to apply itself, and can check a permission's configuration
// against a concrete attempt.
package change

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/agora-works/agora/internal/domain/community"
	"github.com/agora-works/agora/internal/domain/condition"
	"github.com/agora-works/agora/internal/domain/entity"
	"github.com/agora-works/agora/internal/domain/permission"
)

// Change errors.
var (
	// ErrUnknownType is returned for a change type missing from the
	// registry. This is a configuration bug, not a policy outcome.
	ErrUnknownType = errors.New("unknown change type")
)

// ValidationError reports malformed change fields or configuration. It is
// surfaced to the caller before authority resolution runs.
type ValidationError struct {
	ChangeType string
	Reason     string
	Err        error
}

// Error implements error.
func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid %s change: %s: %v", e.ChangeType, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid %s change: %s", e.ChangeType, e.Reason)
}

// Unwrap implements errors.Unwrap.
func (e *ValidationError) Unwrap() error { return e.Err }

// NewValidationError builds a ValidationError.
func NewValidationError(changeType, reason string, err error) *ValidationError {
	return &ValidationError{ChangeType: changeType, Reason: reason, Err: err}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Env gives Implement access to the stores it may mutate. Changes touch
// only the stores their target kind requires.
type Env struct {
	Resources   entity.ResourceStore
	Communities community.Store
	Permissions permission.Store
	Conditions  condition.Store
	// ConditionTypes validates condition templates carried by permission
	// changes at implement time.
	ConditionTypes *condition.Registry
	// NewID mints identifiers for records created by changes.
	NewID func() string
	// Now supplies the current time.
	Now func() time.Time
}

// Change is the contract every descriptor in the catalogue implements.
type Change interface {
	// Type returns the stable string key for this change.
	Type() string
	// Validate checks the change's own fields against the target. It runs
	// before authority resolution and short-circuits it on failure.
	Validate(ctx context.Context, actor string, target entity.Permissionable) error
	// Implement applies the change. It runs only after the resolver
	// approved the action.
	Implement(ctx context.Context, actor string, target entity.Permissionable, env Env) (string, error)
	// ConfigurableFields names the configuration keys a permission record
	// may constrain for this change type.
	ConfigurableFields() []string
	// CheckConfiguration re-checks this concrete change against a
	// permission record's configuration. A false result disqualifies the
	// record regardless of actor match.
	CheckConfiguration(actor string, target entity.Permissionable, config map[string]any) (bool, string)
}

// structValidator validates catalogue structs via their validate tags.
var structValidator = validator.New(validator.WithRequiredStructEnabled())

// validateStruct runs tag validation and wraps failures as ValidationError.
func validateStruct(changeType string, c any) error {
	if err := structValidator.Struct(c); err != nil {
		return NewValidationError(changeType, "field validation failed", err)
	}
	return nil
}

// requireKind checks the target kind and returns a ValidationError on
// mismatch.
func requireKind(changeType string, target entity.Permissionable, kind entity.Kind) error {
	if target.Ref().Kind != kind {
		return NewValidationError(changeType,
			fmt.Sprintf("target must be a %s, got %s", kind, target.Ref().Kind), nil)
	}
	return nil
}
