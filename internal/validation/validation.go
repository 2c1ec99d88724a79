// Package validation checks option structs with struct tags and reports
// every violation in one ConfigInvalid error.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/ieee0824/livedecode-go/asrerr"
)

var (
	validate *validator.Validate
	once     sync.Once
)

// getValidator returns the singleton validator instance.
func getValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		// Report fields by the option name users write in config files.
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			for _, tag := range []string{"flag", "mapstructure"} {
				name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
				if name != "" && name != "-" {
					return name
				}
			}
			return toSnakeCase(fld.Name)
		})
	})
	return validate
}

// FieldError is one violated constraint.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string { return e.Field + " " + e.Message }

// Struct validates s using its `validate` tags. All violations are joined
// into a single ConfigInvalid error attributed to op.
func Struct(op string, s any) error {
	err := getValidator().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return asrerr.Wrap(asrerr.ConfigInvalid, op, err)
	}
	errs := make([]error, 0, len(verrs))
	for _, e := range verrs {
		errs = append(errs, &FieldError{Field: e.Field(), Message: formatValidationError(e)})
	}
	return asrerr.Wrap(asrerr.ConfigInvalid, op, errors.Join(errs...))
}

// Join combines errs into one ConfigInvalid error, or returns nil when all
// of them are nil. ConfigInvalid errors from nested checks are flattened so
// the kind appears once; their op stays as a prefix.
func Join(op string, errs ...error) error {
	parts := make([]error, 0, len(errs))
	for _, err := range errs {
		if err == nil {
			continue
		}
		e, ok := err.(*asrerr.Error)
		if !ok || e.Kind != asrerr.ConfigInvalid {
			parts = append(parts, err)
			continue
		}
		inner := e.Cause
		if inner == nil {
			inner = errors.New(e.Message)
		}
		if e.Op != "" && e.Op != op {
			inner = fmt.Errorf("%s: %w", e.Op, inner)
		}
		parts = append(parts, inner)
	}
	if len(parts) == 0 {
		return nil
	}
	return asrerr.Wrap(asrerr.ConfigInvalid, op, errors.Join(parts...))
}

// formatValidationError creates a human-readable error message.
func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "required_if":
		return "is required when " + strings.Replace(e.Param(), " ", " is ", 1)
	case "gt":
		return "must be greater than " + e.Param()
	case "gte":
		return "must be at least " + e.Param()
	case "lt":
		return "must be less than " + e.Param()
	case "lte":
		return "must be at most " + e.Param()
	case "oneof":
		return "must be one of: " + e.Param()
	case "ltefield":
		return "must not exceed " + e.Param()
	default:
		return fmt.Sprintf("failed %q check", e.Tag())
	}
}

// toSnakeCase converts a field name to snake_case.
func toSnakeCase(s string) string {
	var result strings.Builder
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			result.WriteRune('_')
		}
		if r >= 'A' && r <= 'Z' {
			result.WriteRune(r + 32)
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}
