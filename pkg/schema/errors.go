package schema

import (
	"errors"
	"reflect"
)

// ErrInvalidMapping is wrapped by every MappingError.
var ErrInvalidMapping = errors.New("docql/schema: invalid document mapping")

// IsInvalidMappingErr returns true if err is or wraps ErrInvalidMapping.
func IsInvalidMappingErr(err error) bool {
	return errors.Is(err, ErrInvalidMapping)
}

// MappingError describes one problem with a registered document type.
type MappingError struct {
	Type    reflect.Type
	Problem string
}

func (e *MappingError) Error() string {
	return ErrInvalidMapping.Error() + ": " + e.Type.String() + ": " + e.Problem
}

func (e *MappingError) Unwrap() error {
	return ErrInvalidMapping
}
