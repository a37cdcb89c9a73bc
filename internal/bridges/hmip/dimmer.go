package hmip

import (
	"context"
	"fmt"
)

// drd3Channels is the number of dimming channels on an HmIPW-DRD3.
const drd3Channels = 3

// Endpoint is a binding between one device and its outward endpoints.
// UpdateDevice may be called with any snapshot at any time, including
// repeatedly with the same one.
type Endpoint interface {
	AccessoryID() string
	DeviceID() string
	UpdateDevice(device *Device, groups Groups)
}

// DimmerDRD3 exposes all three channels of an HmIPW-DRD3 as Lightbulb
// endpoints "Channel0".."Channel2" of one accessory (keyed by device id).
// Slot k is bound to the channel with index k+1.
type DimmerDRD3 struct {
	deviceBase
	slots [drd3Channels]dimmerSlot
}

var _ Endpoint = (*DimmerDRD3)(nil)

// NewDimmerDRD3 registers the three channel endpoints and primes them from device.
//
// An unsubtyped Lightbulb left by an earlier single-service layout is
// removed first. Endpoints that fail to register stay inert.
func NewDimmerDRD3(ctx context.Context, deps Deps, device *Device) (*DimmerDRD3, error) {
	if device == nil {
		return nil, ErrNilDevice
	}

	d := &DimmerDRD3{}
	d.setup(deps, device.ID, device)

	if old, ok := d.host.FindEndpoint(d.accessoryID, ServiceLightbulb, ""); ok {
		if err := d.host.RemoveEndpoint(ctx, old); err != nil {
			d.logWarn("failed to remove legacy lightbulb endpoint", "endpoint_id", old.ID, "error", err)
		} else {
			d.logInfo("removed legacy lightbulb endpoint", "accessory_id", d.accessoryID)
		}
	}

	for k := range d.slots {
		slot := &d.slots[k]
		slot.handle = d.endpoint(ctx, ServiceLightbulb, fmt.Sprintf("Channel%d", k), device.Label)
		d.bindDimmer(slot, k+1)
	}

	d.logDebug("created DRD3 dimmer", "device_id", device.ID, "label", device.Label)
	d.UpdateDevice(device, nil)
	return d, nil
}

// UpdateDevice routes every dimmer record to slot index-1.
func (d *DimmerDRD3) UpdateDevice(device *Device, _ Groups) {
	if !d.accepts(device) {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.observe(device)
	for _, ch := range device.ChannelsByIndex() {
		dc, ok := ch.(*DimmerChannel)
		if !ok {
			continue
		}
		k := dc.Index - 1
		if k < 0 || k >= drd3Channels {
			d.logDebug("dimmer channel out of range", "device_id", d.deviceID, "index", dc.Index)
			continue
		}
		if d.slots[k].reconcile(d.host, dc) {
			d.logDebug("dimmer channel changed", "device_id", d.deviceID,
				"channel", dc.Index, "brightness", d.slots[k].brightness)
		}
	}
}

// Brightness returns the cached brightness of slot k (0-based).
func (d *DimmerDRD3) Brightness(k int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.slots[k].brightness
}

// DimmerDRD3Single exposes one channel of an HmIPW-DRD3 as its own
// accessory "<deviceId>-<channelIndex>" with a single Lightbulb endpoint.
// Several instances may share one device.
type DimmerDRD3Single struct {
	deviceBase
	channelIndex int
	slot         dimmerSlot
}

var _ Endpoint = (*DimmerDRD3Single)(nil)

// NewDimmerDRD3Single binds the channel at 0-based channelIndex.
func NewDimmerDRD3Single(ctx context.Context, deps Deps, device *Device, channelIndex int) (*DimmerDRD3Single, error) {
	if device == nil {
		return nil, ErrNilDevice
	}
	if channelIndex < 0 || channelIndex >= drd3Channels {
		return nil, fmt.Errorf("%w: %d (DRD3 has %d channels)", ErrInvalidChannelIndex, channelIndex, drd3Channels)
	}

	d := &DimmerDRD3Single{channelIndex: channelIndex}
	d.setup(deps, SingleAccessoryID(device.ID, channelIndex), device)

	d.slot.handle = d.endpoint(ctx, ServiceLightbulb, "", fmt.Sprintf("%s %d", device.Label, channelIndex))
	d.bindDimmer(&d.slot, channelIndex+1)

	d.logInfo("created DRD3 single dimmer", "device_id", device.ID, "channel_index", channelIndex)
	d.UpdateDevice(device, nil)
	return d, nil
}

// ChannelIndex returns the bound 0-based channel index.
func (d *DimmerDRD3Single) ChannelIndex() int {
	return d.channelIndex
}

// UpdateDevice applies only the dimmer record with index channelIndex+1.
func (d *DimmerDRD3Single) UpdateDevice(device *Device, _ Groups) {
	if !d.accepts(device) {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.observe(device)
	for _, ch := range device.ChannelsByIndex() {
		dc, ok := ch.(*DimmerChannel)
		if !ok || dc.Index-1 != d.channelIndex {
			continue
		}
		if d.slot.reconcile(d.host, dc) {
			d.logDebug("dimmer channel changed", "device_id", d.deviceID,
				"channel", dc.Index, "brightness", d.slot.brightness)
		}
	}
}

// Brightness returns the cached brightness.
func (d *DimmerDRD3Single) Brightness() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.slot.brightness
}

// SingleAccessoryID is the accessory id of a single-channel binding.
func SingleAccessoryID(deviceID string, channelIndex int) string {
	return fmt.Sprintf("%s-%d", deviceID, channelIndex)
}
