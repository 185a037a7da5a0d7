// Package utils provides utility functions used throughout the application.
package utils

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"norelock.dev/listenify/bragi/internal/models"
)

var (
	// validate is a singleton validator instance
	validate *validator.Validate

	validationErrorMessages = map[string]string{
		"required":   "This field is required",
		"min":        "Value must be greater than or equal to %s",
		"max":        "Value must be less than or equal to %s",
		"oneof":      "Must be one of: %s",
		"url":        "Must be a valid URL",
		"provider":   "Must be one of: bilibili netease youtube spotify",
		"query_type": "Must be one of: track artist collection all",
	}
)

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range []string{"json", "mapstructure"} {
			name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return fld.Name
	})

	_ = validate.RegisterValidation("provider", validateProvider)
	_ = validate.RegisterValidation("query_type", validateQueryType)
}

// Validate performs validation on the given struct and returns validation errors.
func Validate(s any) error {
	return validate.Struct(s)
}

// ValidateVar validates a single variable with the given tag and returns errors.
func ValidateVar(field any, tag string) error {
	return validate.Var(field, tag)
}

// FormatValidationErrors formats validation errors into a user-friendly map.
func FormatValidationErrors(err error) map[string]string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return nil
	}

	out := make(map[string]string, len(verrs))
	for _, e := range verrs {
		message, exists := validationErrorMessages[e.Tag()]
		if !exists {
			message = "Invalid value"
		}
		if param := e.Param(); param != "" && strings.Contains(message, "%s") {
			message = strings.Replace(message, "%s", param, 1)
		}
		out[e.Namespace()] = message
	}
	return out
}

func validateProvider(fl validator.FieldLevel) bool {
	_, err := models.ParseProvider(fl.Field().String())
	return err == nil
}

func validateQueryType(fl validator.FieldLevel) bool {
	_, err := models.ParseQueryType(fl.Field().String())
	return err == nil
}

// GetValidator returns the validator instance.
func GetValidator() *validator.Validate {
	return validate
}
