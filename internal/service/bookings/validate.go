package bookings

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

var phoneRegex = regexp.MustCompile(`^\+[1-9]\d{7,14}$`)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// Registration only fails for an empty tag or nil func.
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phoneRegex.MatchString(fl.Field().String())
	})
	return v
}

// translate turns the first failing rule into a ValidationError using the
// json field path, e.g. "customer.email must be a valid email address".
func translate(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}
	switch fe.Tag() {
	case "required":
		return validationError("%s is required", field)
	case "email":
		return validationError("%s must be a valid email address", field)
	case "phone":
		return validationError("%s must be an E.164 phone number", field)
	case "max":
		return validationError("%s must be at most %s characters", field, fe.Param())
	case "oneof":
		return validationError("%s must be one of: %s", field, fe.Param())
	default:
		return validationError("%s is invalid", field)
	}
}
