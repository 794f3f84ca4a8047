package validator

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// DateLayout is the calendar date format used by signups, pages and record keys.
const DateLayout = "2006-01-02"

var (
	once     sync.Once
	validate *validator.Validate
)

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field string `json:"field"`
	Tag   string `json:"tag"`
	Param string `json:"param"`
}

// ValidationErrors collects multiple validation failures.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "validation failed"
	}

	parts := make([]string, len(v))
	for i, err := range v {
		if err.Param != "" {
			parts[i] = err.Field + " failed on " + err.Tag + "=" + err.Param
		} else {
			parts[i] = err.Field + " failed on " + err.Tag
		}
	}
	return strings.Join(parts, "; ")
}

// ValidateStruct validates a struct using registered rules.
func ValidateStruct(s interface{}) error {
	err := getValidator().Struct(s)
	if err == nil {
		return nil
	}

	if ve, ok := err.(validator.ValidationErrors); ok {
		failures := make(ValidationErrors, 0, len(ve))
		for _, fe := range ve {
			failures = append(failures, ValidationError{
				Field: fe.Field(),
				Tag:   fe.Tag(),
				Param: fe.Param(),
			})
		}
		return failures
	}

	return err
}

// RegisterValidation exposes underlying validator custom rules.
func RegisterValidation(tag string, fn validator.Func) error {
	return getValidator().RegisterValidation(tag, fn)
}

// builtinRules are registered on the shared validator.
var builtinRules = map[string]validator.Func{
	"localdate": isLocalDate,
	"timezone":  isTimezone,
}

func getValidator() *validator.Validate {
	once.Do(func() {
		v, err := newValidator(builtinRules)
		if err != nil {
			panic(err)
		}
		validate = v
	})
	return validate
}

func newValidator(rules map[string]validator.Func) (*validator.Validate, error) {
	v := validator.New()
	v.RegisterTagNameFunc(fieldName)
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return nil, fmt.Errorf("validator: register %q: %w", tag, err)
		}
	}
	return v, nil
}

// fieldName prefers the json tag, then mapstructure (config structs), then the Go name.
func fieldName(fld reflect.StructField) string {
	for _, key := range []string{"json", "mapstructure"} {
		name := fld.Tag.Get(key)
		if comma := strings.Index(name, ","); comma != -1 {
			name = name[:comma]
		}
		if name != "" && name != "-" {
			return name
		}
	}
	return fld.Name
}

func isLocalDate(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	_, err := time.Parse(DateLayout, value)
	return err == nil
}

func isTimezone(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	_, err := time.LoadLocation(value)
	return err == nil
}
