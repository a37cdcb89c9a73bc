package hmip

import (
	"context"
	"sync"
)

// deviceBase holds what every binding shares: collaborators, the identity
// of the bound device and its last reported reachability.
//
// mu serialises reconciliation with get handlers and with the cache read
// at the start of a set handler. It is never held across a control call.
type deviceBase struct {
	host        Host
	ctrl        Controller
	logger      Logger
	accessoryID string
	deviceID    string

	mu        sync.Mutex
	label     string
	reachable *bool
}

func (b *deviceBase) setup(deps Deps, accessoryID string, device *Device) {
	b.host = deps.Host
	b.ctrl = deps.Controller
	b.logger = deps.Logger
	b.accessoryID = accessoryID
	b.deviceID = device.ID
	b.label = device.Label
}

// AccessoryID returns the accessory the binding's endpoints belong to.
func (b *deviceBase) AccessoryID() string {
	return b.accessoryID
}

// DeviceID returns the id of the bound device.
func (b *deviceBase) DeviceID() string {
	return b.deviceID
}

// Reachable returns the last reported reachability; known is false until a
// snapshot carried the flag.
func (b *deviceBase) Reachable() (reachable, known bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.reachable == nil {
		return false, false
	}
	return *b.reachable, true
}

// accepts rejects snapshots of other devices.
func (b *deviceBase) accepts(device *Device) bool {
	if device == nil {
		return false
	}
	if device.ID != b.deviceID {
		b.logDebug("ignoring snapshot for another device",
			"accessory_id", b.accessoryID, "device_id", device.ID)
		return false
	}
	return true
}

// observe records label and reachability. Caller holds mu.
func (b *deviceBase) observe(device *Device) {
	b.label = device.Label

	reachable, known := device.Reachable()
	if !known {
		return
	}
	if b.reachable != nil && *b.reachable != reachable {
		if reachable {
			b.logInfo("device reachable again", "device_id", b.deviceID, "label", b.label)
		} else {
			b.logWarn("device unreachable", "device_id", b.deviceID, "label", b.label)
		}
	}
	b.reachable = &reachable
}

// endpoint registers one handle. A failure is logged and yields nil, which
// leaves that slot inert.
func (b *deviceBase) endpoint(ctx context.Context, service ServiceType, subID, name string) *EndpointHandle {
	handle, err := b.host.GetOrCreateEndpoint(ctx, b.accessoryID, service, subID, name)
	if err != nil {
		b.logError("failed to create endpoint", "accessory_id", b.accessoryID,
			"service", service, "sub_id", subID, "error", err)
		return nil
	}
	return handle
}

func (b *deviceBase) bind(handle *EndpointHandle, kind Characteristic, get GetHandler, set SetHandler) {
	if err := b.host.BindCharacteristic(handle, kind, get, set); err != nil {
		b.logError("failed to bind characteristic", "endpoint_id", handle.ID,
			"characteristic", kind, "error", err)
	}
}

func (b *deviceBase) logDebug(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Debug(msg, args...)
	}
}

func (b *deviceBase) logInfo(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Info(msg, args...)
	}
}

func (b *deviceBase) logWarn(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Warn(msg, args...)
	}
}

func (b *deviceBase) logError(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Error(msg, args...)
	}
}
