package validator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrValidation carries a message naming every invalid field.
type ErrValidation struct {
	error
}

func newValidationError(err error) *ErrValidation {
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return &ErrValidation{err}
	}

	messages := make([]string, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		messages = append(messages, fieldMessage(fe))
	}
	return &ErrValidation{fmt.Errorf("invalid request: %s", strings.Join(messages, "; "))}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "not_blank":
		return fmt.Sprintf("%s is required", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "job_type":
		return fmt.Sprintf("%s %q is not a known job type", fe.Field(), fe.Value())
	case "job_priority":
		return fmt.Sprintf("%s must be between %d and %d", fe.Field(), MinPriority, MaxPriority)
	default:
		return fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag())
	}
}
