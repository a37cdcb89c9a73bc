package hmip

import "context"

// ServiceType is the kind of outward-facing service an endpoint exposes.
type ServiceType string

// Service types used by the actuator bindings.
const (
	ServiceLightbulb ServiceType = "Lightbulb"
	ServiceSwitch    ServiceType = "Switch"
)

// Characteristic names a readable/writable property of an endpoint.
// On carries a bool, Brightness an int percentage 0..100.
type Characteristic string

// Characteristics bound by the actuator bindings.
const (
	CharacteristicOn         Characteristic = "On"
	CharacteristicBrightness Characteristic = "Brightness"
)

// EndpointHandle identifies one registered endpoint of an accessory.
// SubID is empty for services registered without a subtype.
type EndpointHandle struct {
	ID          string
	AccessoryID string
	Service     ServiceType
	SubID       string
	Name        string
}

// GetHandler answers a read of a characteristic from cached state.
type GetHandler func() (any, error)

// SetHandler applies a write to a characteristic.
type SetHandler func(ctx context.Context, value any) error

// Host registers endpoints and relays characteristic traffic to the outside.
// It is satisfied by *accessory.Host.
type Host interface {
	// GetOrCreateEndpoint returns the endpoint keyed by (accessoryID,
	// service, subID), creating it if needed. Repeated calls reuse the handle.
	GetOrCreateEndpoint(ctx context.Context, accessoryID string, service ServiceType, subID, name string) (*EndpointHandle, error)

	// FindEndpoint looks up an existing endpoint without creating one.
	FindEndpoint(accessoryID string, service ServiceType, subID string) (*EndpointHandle, bool)

	// RemoveEndpoint unregisters an endpoint and its bindings.
	RemoveEndpoint(ctx context.Context, handle *EndpointHandle) error

	// BindCharacteristic installs the get/set handlers for one characteristic.
	BindCharacteristic(handle *EndpointHandle, kind Characteristic, get GetHandler, set SetHandler) error

	// PushCharacteristicUpdate announces a changed value.
	PushCharacteristicUpdate(handle *EndpointHandle, kind Characteristic, value any)
}

// Control routes on the HomematicIP REST API.
const (
	RouteSetDimLevel    = "device/control/setDimLevel"
	RouteSetSwitchState = "device/control/setSwitchState"
)

// ControlRequest is the body of a channel control call. ChannelIndex is the
// 1-based channel position on the device.
type ControlRequest struct {
	DeviceID     string   `json:"deviceId"`
	ChannelIndex int      `json:"channelIndex"`
	DimLevel     *float64 `json:"dimLevel,omitempty"`
	On           *bool    `json:"on,omitempty"`
}

// Controller issues control calls against the device-control API.
// Retries and timeouts are the implementation's concern. *Client satisfies it.
type Controller interface {
	Control(ctx context.Context, route string, req ControlRequest) error
}

// Logger is the logging interface used by the package.
// Compatible with *logging.Logger and *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Deps bundles the collaborators every endpoint binding needs.
// Logger may be nil.
type Deps struct {
	Host       Host
	Controller Controller
	Logger     Logger
}
