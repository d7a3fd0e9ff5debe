package library

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrValidation is returned for malformed or missing input. No state changes.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a referenced book, member or transaction does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned on unique-constraint violations and on operations
	// refused because of existing loans.
	ErrConflict = errors.New("conflict")

	// ErrOutOfStock is returned by checkout when no copy is available.
	ErrOutOfStock = errors.New("no copies available")

	// ErrAlreadyReturned is returned when a transaction is returned twice.
	ErrAlreadyReturned = errors.New("already returned")

	// ErrInvariantViolation signals copy counts out of bounds.
	ErrInvariantViolation = errors.New("invariant violation")
)

// ValidationError carries per-field messages. It matches ErrValidation with errors.Is.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Fields[k], ", "))
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalidField(field, msg string) error {
	return &ValidationError{Fields: map[string][]string{field: {msg}}}
}

// fromValidator converts validator/v10 output into a ValidationError keyed by
// the json field names.
func fromValidator(err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	fields := make(map[string][]string, len(ve))
	for _, fe := range ve {
		fields[fe.Field()] = append(fields[fe.Field()], describeTag(fe))
	}
	return &ValidationError{Fields: fields}
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "email":
		return "must be a valid email address"
	default:
		return "failed " + fe.Tag()
	}
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}
