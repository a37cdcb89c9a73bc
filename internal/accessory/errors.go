package accessory

import "errors"

var (
	// ErrEndpointNotFound is returned when an endpoint ID does not exist.
	ErrEndpointNotFound = errors.New("accessory: endpoint not found")

	// ErrNotBound is returned when a characteristic has no handlers, either
	// because the endpoint does not expose it or because no device has
	// claimed the endpoint since startup.
	ErrNotBound = errors.New("accessory: characteristic not bound")

	// ErrInvalidEndpoint is returned when an endpoint record is missing
	// required fields.
	ErrInvalidEndpoint = errors.New("accessory: invalid endpoint")

	// ErrTokenInvalid is returned for bearer tokens that fail validation.
	ErrTokenInvalid = errors.New("accessory: invalid token")
)
