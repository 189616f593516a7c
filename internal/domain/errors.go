package domain

import "errors"

// Error taxonomy shared across the repository boundary. Handlers translate
// these into HTTP status codes; everything else is a persistence error.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
)
