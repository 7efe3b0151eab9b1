package mutation

import "errors"

var (
	// ErrTargetRequired is returned when a request has no target.
	ErrTargetRequired = errors.New("mutation target is required")
	// ErrInvalidPriority is returned for priorities outside high/medium/low.
	ErrInvalidPriority = errors.New("mutation priority must be high, medium or low")
	// ErrInvalidPayload is returned when a body fails its kind's JSON Schema.
	ErrInvalidPayload = errors.New("mutation payload does not match schema")
)
