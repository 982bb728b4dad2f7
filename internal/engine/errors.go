package engine

import "errors"

// Sentinel error taxonomy. Handlers in internal/api map these to HTTP
// status codes with errors.Is rather than scattering string comparisons.
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
	ErrExternal   = errors.New("external error")
	ErrInternal   = errors.New("internal error")
)
