package interview

import "github.com/go-playground/validator/v10"

// validate is shared by every type in this package. validator caches struct
// metadata, so one instance is reused.
var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateStruct applies the `validate` struct tags of v.
func ValidateStruct(v any) error {
	return validate.Struct(v)
}
