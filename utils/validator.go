package utils

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

func init() {
	// Report json names so messages match the request body
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

func ValidateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	// Format validation errors
	var messages []string
	for _, err := range verrs {
		field := strings.ToLower(err.Field())
		tag := err.Tag()
		param := err.Param()

		unit := "characters"
		if k := err.Kind(); k == reflect.Slice || k == reflect.Array {
			unit = "items"
		}

		switch tag {
		case "required":
			messages = append(messages, field+" is required")
		case "min":
			messages = append(messages, field+" must be at least "+param+" "+unit)
		case "max":
			messages = append(messages, field+" must be at most "+param+" "+unit)
		case "email":
			messages = append(messages, field+" must be a valid email")
		case "required_without":
			messages = append(messages, field+" is required when "+strings.ToLower(param)+" is missing")
		case "excluded_with":
			messages = append(messages, field+" cannot be combined with "+strings.ToLower(param))
		default:
			messages = append(messages, field+" is invalid")
		}
	}

	return errors.New(strings.Join(messages, ", "))
}
