package palm

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors.
var (
	// ErrConfigNotFound is returned when no .palm.yaml is found.
	ErrConfigNotFound = errors.New("palm: no .palm.yaml found")

	// ErrUnknownEngine is returned when an unregistered engine is requested.
	ErrUnknownEngine = errors.New("palm: unknown engine")

	// ErrUnsupportedFieldType is returned when no parser resolves for a field type.
	ErrUnsupportedFieldType = errors.New("palm: engine does not support field type")

	// ErrRelatedModelNotFound is returned when a foreign key targets an undeclared model.
	ErrRelatedModelNotFound = errors.New("palm: related model not found")

	// ErrForeignKeyTarget is returned when no substitute field can be derived
	// for a foreign key pointing outside the engine.
	ErrForeignKeyTarget = errors.New("palm: foreign key target cannot be resolved")

	// ErrForeignKeyMetadata is returned at init when relatedTo or onDelete is unset.
	ErrForeignKeyMetadata = errors.New("palm: foreign key metadata missing")

	// ErrTranslationDeclined is returned when a partial regeneration is not confirmed.
	ErrTranslationDeclined = errors.New("palm: partial translation declined")

	// ErrConvergenceTimeout is returned when deferred fields do not settle in budget.
	ErrConvergenceTimeout = errors.New("palm: convergence timeout")

	// ErrLazyEvaluationNotImplemented is returned when a parser defers a field
	// but the engine has no lazy field evaluator.
	ErrLazyEvaluationNotImplemented = errors.New("palm: lazy field evaluation not implemented")

	// ErrDeferredUnresolved is returned in strict mode when a deferred field is dropped.
	ErrDeferredUnresolved = errors.New("palm: deferred field unresolved")

	// ErrPassLimit is returned when a translation needs more than the forced re-pass.
	ErrPassLimit = errors.New("palm: translation did not settle after forced pass")

	// ErrDuplicateModel is returned when two models share a name in one catalog.
	ErrDuplicateModel = errors.New("palm: duplicate model")

	// ErrDuplicateField is returned when a model declares a field name twice.
	ErrDuplicateField = errors.New("palm: duplicate field")

	// ErrFieldReused is returned when one Field value is attached to two models.
	ErrFieldReused = errors.New("palm: field already belongs to a model")

	// ErrUnknownModel is returned when a model name is not in the catalog.
	ErrUnknownModel = errors.New("palm: unknown model")

	// ErrUnsupportedMigration is returned by migrators for operations they cannot apply.
	ErrUnsupportedMigration = errors.New("palm: unsupported migration operation")

	// ErrNotFound is returned by queriers when no record matches.
	ErrNotFound = errors.New("palm: record not found")

	// ErrNotTranslated is returned when a collaborator needs a model that has
	// no cached instance on its connection.
	ErrNotTranslated = errors.New("palm: model not translated")
)

// UnsupportedFieldError reports a field whose type no parser on the engine accepts.
type UnsupportedFieldError struct {
	Engine   string
	Model    string
	Field    string
	TypeName string
}

func (e *UnsupportedFieldError) Error() string {
	return fmt.Sprintf("palm: engine %q does not support field type %q (%s.%s)",
		e.Engine, e.TypeName, e.Model, e.Field)
}

func (e *UnsupportedFieldError) Unwrap() error { return ErrUnsupportedFieldType }

// ForeignKeyError reports a foreign key that cannot be resolved or initialized.
type ForeignKeyError struct {
	Engine string
	Model  string
	Field  string
	Target string
	Err    error
}

func (e *ForeignKeyError) Error() string {
	if e.Engine == "" {
		return fmt.Sprintf("%v: %s.%s -> %s", e.Err, e.Model, e.Field, e.Target)
	}

	return fmt.Sprintf("%v: engine %q, %s.%s -> %s", e.Err, e.Engine, e.Model, e.Field, e.Target)
}

func (e *ForeignKeyError) Unwrap() error { return e.Err }

// ConvergenceReason tells why deferred resolution gave up.
type ConvergenceReason string

// Convergence reasons.
const (
	// ReasonIterations means the graph kept changing past the iteration budget.
	ReasonIterations ConvergenceReason = "iterations"

	// ReasonDeadline means the wall-clock budget ran out, usually a slow hook.
	ReasonDeadline ConvergenceReason = "deadline"
)

// ConvergenceError is returned when deferred resolution exceeds its budget.
type ConvergenceError struct {
	Engine     string
	Reason     ConvergenceReason
	Iterations int
	Pending    int
	Elapsed    time.Duration
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("palm: convergence timeout on %q (%s): %d pending after %d iterations in %s",
		e.Engine, e.Reason, e.Pending, e.Iterations, e.Elapsed.Round(time.Millisecond))
}

func (e *ConvergenceError) Unwrap() error { return ErrConvergenceTimeout }
