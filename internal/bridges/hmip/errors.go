package hmip

import (
	"errors"
	"fmt"
)

// Domain errors for the HomematicIP bridge package.
var (
	// ErrControlFailed wraps any failure of a device control call. The
	// endpoint keeps its cached value until the next snapshot.
	ErrControlFailed = errors.New("hmip: control call failed")

	// ErrInvalidValue is returned when a set request carries a value of the
	// wrong type or outside the characteristic's range.
	ErrInvalidValue = errors.New("hmip: invalid characteristic value")

	// ErrInvalidChannelIndex is returned when a single binding is constructed
	// with an index the device model does not have.
	ErrInvalidChannelIndex = errors.New("hmip: invalid channel index")

	// ErrNilDevice is returned by constructors given no snapshot.
	ErrNilDevice = errors.New("hmip: device snapshot is nil")

	// ErrUnauthorized is returned for 401/403 responses from the cloud API.
	ErrUnauthorized = errors.New("hmip: unauthorized (check auth token and access point id)")

	// ErrRateLimited is returned for 429 responses.
	ErrRateLimited = errors.New("hmip: rate limited")

	// ErrLookupFailed is returned when the host lookup yields no REST URL.
	ErrLookupFailed = errors.New("hmip: host lookup failed")

	// ErrMalformedEvent is returned for push messages that do not decode.
	ErrMalformedEvent = errors.New("hmip: malformed push event")
)

// APIError is a non-2xx response from the HomematicIP cloud.
type APIError struct {
	StatusCode int
	Route      string
	Code       string
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("hmip: API error %d on %s: %s", e.StatusCode, e.Route, e.Code)
	}
	return fmt.Sprintf("hmip: API error %d on %s: %s", e.StatusCode, e.Route, e.Message)
}
