package auth

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator instance for request validation
var validate *validator.Validate

func init() {
	validate = validator.New()
	// Report fields under their wire names
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// GetValidator returns the validator instance
func GetValidator() *validator.Validate {
	return validate
}

// ValidateRequest runs struct tag validation on a request payload. It returns
// a field to messages map suitable for the API error envelope, or nil when
// the payload is valid.
func ValidateRequest(req interface{}) map[string][]string {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	details := make(map[string][]string)

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		details["request"] = []string{"invalid request payload"}
		return details
	}

	for _, fe := range fieldErrors {
		details[fe.Field()] = append(details[fe.Field()], validationMessage(fe))
	}
	return details
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "len":
		return fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "numeric":
		return "must contain only digits"
	case "uuid4":
		return "must be a valid id"
	default:
		return "is invalid"
	}
}
