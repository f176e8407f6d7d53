// Package validation checks registration input and sanitises free text.
package validation

import (
	"errors"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var handlePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,20}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("handle", func(fl validator.FieldLevel) bool {
		return handlePattern.MatchString(fl.Field().String())
	})
	return v
}

// Registration is the input of account sign-up
type Registration struct {
	Handle          string `validate:"required,handle"`
	Email           string `validate:"required,email"`
	Password        string `validate:"required,min=6"`
	ConfirmPassword string `validate:"required,eqfield=Password"`
}

// Error lists the offending fields of an input, keyed by field name
type Error struct {
	Fields map[string]string
}

func (e *Error) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	return "invalid input: " + strings.Join(keys, ", ")
}

var messages = map[string]string{
	"Handle":          "handle must be 3-20 characters of letters, digits or underscore",
	"Email":           "email is not a valid address",
	"Password":        "password must be at least 6 characters",
	"ConfirmPassword": "passwords do not match",
}

// Validate sanitises r in place and checks every field
func (r *Registration) Validate() error {
	r.Handle = SanitizePlainText(r.Handle)
	r.Email = strings.ToLower(SanitizePlainText(r.Email))

	err := validate.Struct(r)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = messages[fe.Field()]
	}
	return &Error{Fields: fields}
}

// ValidHandle reports whether s is a well-formed handle
func ValidHandle(s string) bool {
	return handlePattern.MatchString(s)
}

// SanitizePlainText trims s and strips angle brackets
func SanitizePlainText(s string) string {
	s = strings.TrimSpace(s)
	return strings.NewReplacer("<", "", ">", "").Replace(s)
}
