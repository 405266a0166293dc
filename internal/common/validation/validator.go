// Package validation wraps go-playground/validator with the custom tags used
// by the engine's authoring surfaces (admin API and seed files).
package validation

import (
	"fmt"
	"net/url"
	"reflect"
	"regexp"
	"strings"
	"time"

	"automation-engine/internal/common/errors"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

// CentralizedValidator provides unified validation using go-playground/validator
type CentralizedValidator struct {
	validator *validator.Validate
}

// ValidationError represents a single validation error with context
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

var moduleIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// NewCentralizedValidator creates a validator with the engine's custom tags
// registered. Error field names follow json tags.
func NewCentralizedValidator() *CentralizedValidator {
	v := validator.New()
	registerEngineValidators(v)

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	return &CentralizedValidator{validator: v}
}

// ValidateStruct validates a struct using struct tags
func (cv *CentralizedValidator) ValidateStruct(s interface{}) error {
	if err := cv.validator.Struct(s); err != nil {
		return cv.formatValidationErrors(err)
	}
	return nil
}

// ValidateVar validates a single variable with validation rules
func (cv *CentralizedValidator) ValidateVar(field interface{}, tag string) error {
	if err := cv.validator.Var(field, tag); err != nil {
		return cv.formatValidationErrors(err)
	}
	return nil
}

// Details returns the structured field errors for s, or nil when s is valid.
func (cv *CentralizedValidator) Details(s interface{}) []ValidationError {
	if err := cv.validator.Struct(s); err != nil {
		return cv.extractValidationErrors(err)
	}
	return nil
}

func (cv *CentralizedValidator) formatValidationErrors(err error) error {
	validationErrors := cv.extractValidationErrors(err)
	if len(validationErrors) == 1 {
		return errors.ValidationError(validationErrors[0].Message)
	}

	messages := make([]string, len(validationErrors))
	for i, e := range validationErrors {
		messages[i] = e.Message
	}
	return errors.ValidationError(fmt.Sprintf("validation failed: %s", strings.Join(messages, "; ")))
}

func (cv *CentralizedValidator) extractValidationErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		for _, fieldError := range validationErrs {
			validationErrors = append(validationErrors, ValidationError{
				Field:   fieldError.Field(),
				Tag:     fieldError.Tag(),
				Value:   fmt.Sprintf("%v", fieldError.Value()),
				Message: formatFieldError(fieldError),
				Param:   fieldError.Param(),
			})
		}
		return validationErrors
	}

	return append(validationErrors, ValidationError{
		Field:   "unknown",
		Tag:     "error",
		Message: err.Error(),
	})
}

func formatFieldError(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return fmt.Sprintf("field '%s' is required", err.Field())
	case "required_if", "required_without":
		return fmt.Sprintf("field '%s' is required here", err.Field())
	case "excluded_if", "excluded_with":
		return fmt.Sprintf("field '%s' is not allowed here", err.Field())
	case "url", "http_url":
		return fmt.Sprintf("field '%s' must be a valid http(s) URL", err.Field())
	case "min":
		return fmt.Sprintf("field '%s' must be at least %s", err.Field(), err.Param())
	case "max":
		return fmt.Sprintf("field '%s' must be at most %s", err.Field(), err.Param())
	case "oneof":
		return fmt.Sprintf("field '%s' must be one of: %s", err.Field(), err.Param())
	case "cron_expression":
		return fmt.Sprintf("field '%s' must be a valid 5-field cron expression", err.Field())
	case "module_id":
		return fmt.Sprintf("field '%s' must be a lowercase module identifier", err.Field())
	case "timezone":
		return fmt.Sprintf("field '%s' must be a valid timezone", err.Field())
	case "duration":
		return fmt.Sprintf("field '%s' must be a valid duration", err.Field())
	case "cadence":
		return fmt.Sprintf("field '%s' must be one of: hourly daily weekly monthly", err.Field())
	case "automation_kind":
		return fmt.Sprintf("field '%s' must be one of: scheduled event", err.Field())
	default:
		return fmt.Sprintf("field '%s' failed validation: %s", err.Field(), err.Tag())
	}
}

func registerEngineValidators(v *validator.Validate) {
	// Standard 5-field cron plus descriptors such as @daily.
	v.RegisterValidation("cron_expression", func(fl validator.FieldLevel) bool {
		_, err := cron.ParseStandard(fl.Field().String())
		return err == nil
	})

	v.RegisterValidation("module_id", func(fl validator.FieldLevel) bool {
		return moduleIDPattern.MatchString(fl.Field().String())
	})

	v.RegisterValidation("http_url", func(fl validator.FieldLevel) bool {
		u, err := url.Parse(fl.Field().String())
		if err != nil {
			return false
		}
		return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
	})

	v.RegisterValidation("timezone", func(fl validator.FieldLevel) bool {
		_, err := time.LoadLocation(fl.Field().String())
		return err == nil
	})

	v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		_, err := time.ParseDuration(fl.Field().String())
		return err == nil
	})

	v.RegisterValidation("cadence", func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case "hourly", "daily", "weekly", "monthly":
			return true
		}
		return false
	})

	v.RegisterValidation("automation_kind", func(fl validator.FieldLevel) bool {
		k := fl.Field().String()
		return k == "scheduled" || k == "event"
	})
}

var globalValidator = NewCentralizedValidator()

// ValidateStruct validates a struct using the global validator instance
func ValidateStruct(s interface{}) error {
	return globalValidator.ValidateStruct(s)
}

// ValidateVar validates a variable using the global validator instance
func ValidateVar(field interface{}, tag string) error {
	return globalValidator.ValidateVar(field, tag)
}

// Details returns structured errors using the global validator
func Details(s interface{}) []ValidationError {
	return globalValidator.Details(s)
}
