package manifest

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate

	vmNamePattern   = regexp.MustCompile(`^[a-z0-9-]+$`)
	fileSlugPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
)

// validatorInstance configures and returns the shared validator used by
// manifest loading.
func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()

		_ = v.RegisterValidation("vm_name", func(fl validator.FieldLevel) bool {
			return vmNamePattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("file_slug", func(fl validator.FieldLevel) bool {
			return fileSlugPattern.MatchString(fl.Field().String())
		})

		validateInst = v
	})

	return validateInst
}

// ValidationError describes a single field violation in a manifest.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// ValidationErrors aggregates every violation found in one manifest so
// a user can fix them all in a single edit.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, ve := range e {
		msgs = append(msgs, ve.Error())
	}
	return strings.Join(msgs, "; ")
}

func validateStruct(v any) error {
	err := validatorInstance().Struct(v)
	if err == nil {
		return nil
	}

	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return err
	}

	out := make(ValidationErrors, 0, len(ves))
	for _, fe := range ves {
		out = append(out, ValidationError{
			Field:   yamlishFieldName(fe),
			Message: messageForTag(fe),
		})
	}
	return out
}

// yamlishFieldName lowers a validator struct namespace into something
// resembling the manifest's yaml structure, dropping the root struct.
func yamlishFieldName(fe validator.FieldError) string {
	parts := strings.Split(fe.StructNamespace(), ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	lowered := make([]string, 0, len(parts))
	for _, part := range parts {
		lowered = append(lowered, strings.ToLower(part))
	}
	return strings.Join(lowered, ".")
}

func messageForTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "vm_name":
		return "must contain only lowercase letters, digits and hyphens"
	case "file_slug":
		return "must be a plain file name without path separators"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	default:
		return fmt.Sprintf("failed validation for tag %q", fe.Tag())
	}
}
