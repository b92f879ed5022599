package syncer

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validatePayload runs tag validation and converts failures to a ValidationError.
func validatePayload(p any) error {
	err := validate.Struct(p)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return invalid("invalid payload: %v", err)
	}

	fields := make(map[string]string, len(verrs))
	for _, e := range verrs {
		switch e.Tag() {
		case "required":
			fields[e.Field()] = "is required"
		case "email":
			fields[e.Field()] = "must be a valid email"
		case "url":
			fields[e.Field()] = "must be a URL"
		case "datetime":
			fields[e.Field()] = fmt.Sprintf("must match %s", e.Param())
		case "oneof":
			fields[e.Field()] = fmt.Sprintf("must be one of %s", e.Param())
		case "max":
			fields[e.Field()] = fmt.Sprintf("must be at most %s", e.Param())
		default:
			fields[e.Field()] = "is invalid"
		}
	}
	return &ValidationError{Message: "invalid payload", Fields: fields}
}
