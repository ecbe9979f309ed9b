package validation

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

// RefPattern defines the allowed shape of module and record identifiers:
// leading letter or digit, then letters, digits, dots, dashes, underscores.
// The slash is excluded because it separates module and record in composite
// cache keys.
var RefPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

const (
	// MaxRefLen is the maximum length of a module or record identifier
	MaxRefLen = 128
)

// ValidateRef checks that a module or record identifier is well-formed
func ValidateRef(ref string) error {
	if ref == "" {
		return fmt.Errorf("identifier cannot be empty")
	}

	if len(ref) > MaxRefLen {
		return fmt.Errorf("identifier must not exceed %d characters", MaxRefLen)
	}

	if !RefPattern.MatchString(ref) {
		return fmt.Errorf("identifier can only contain letters, numbers, dots, dashes and underscores, and cannot start with a separator")
	}

	return nil
}

// Register adds the "recordref" tag to a validator instance so that
// request structs can declare identifier fields declaratively.
func Register(v *validator.Validate) error {
	return v.RegisterValidation("recordref", func(fl validator.FieldLevel) bool {
		return ValidateRef(fl.Field().String()) == nil
	})
}
