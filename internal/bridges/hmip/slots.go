package hmip

import (
	"context"
	"fmt"
	"math"
)

// dimmerSlot is the cached state of one dimming channel. Only the
// reconciler writes brightness; command handlers read it.
type dimmerSlot struct {
	handle     *EndpointHandle // nil when registration failed
	brightness int
}

// isOn is the only definition of a dimmer's on state.
func (s *dimmerSlot) isOn() bool {
	return s.brightness > 0
}

// brightnessFromDimLevel converts a dim level in [0, 1] to a percentage.
func brightnessFromDimLevel(level float64) int {
	return min(max(int(math.Round(level*100)), 0), 100)
}

// reconcile applies one dimmer record. An on transition is pushed only when
// crossing zero, then the brightness; the cache is written last. Returns
// false when the record carried no value or nothing changed.
func (s *dimmerSlot) reconcile(host Host, ch *DimmerChannel) bool {
	if ch.DimLevel == nil {
		return false
	}

	next := brightnessFromDimLevel(*ch.DimLevel)
	prev := s.brightness
	if next == prev {
		return false
	}

	if prev == 0 {
		s.push(host, CharacteristicOn, true)
	}
	if next == 0 {
		s.push(host, CharacteristicOn, false)
	}
	s.push(host, CharacteristicBrightness, next)

	s.brightness = next
	return true
}

func (s *dimmerSlot) push(host Host, kind Characteristic, value any) {
	if s.handle != nil {
		host.PushCharacteristicUpdate(s.handle, kind, value)
	}
}

// dimmerOnTarget maps an On request to the brightness to send. send is
// false when the light is already on and the request is a no-op.
func dimmerOnTarget(cachedBrightness int, on bool) (target int, send bool) {
	switch {
	case !on:
		return 0, true
	case cachedBrightness == 0:
		return 100, true
	default:
		return cachedBrightness, false
	}
}

// switchSlot is the cached state of one switching channel.
type switchSlot struct {
	handle *EndpointHandle
	on     bool
}

// reconcile applies one switch record, pushing the new state on change.
func (s *switchSlot) reconcile(host Host, ch *SwitchChannel) bool {
	if ch.On == nil || *ch.On == s.on {
		return false
	}
	if s.handle != nil {
		host.PushCharacteristicUpdate(s.handle, CharacteristicOn, *ch.On)
	}
	s.on = *ch.On
	return true
}

// bindDimmer wires the On and Brightness handlers of slot to the channel at
// wireIndex (1-based).
func (b *deviceBase) bindDimmer(s *dimmerSlot, wireIndex int) {
	if s.handle == nil {
		return
	}

	b.bind(s.handle, CharacteristicOn,
		func() (any, error) {
			b.mu.Lock()
			defer b.mu.Unlock()
			return s.isOn(), nil
		},
		func(ctx context.Context, value any) error {
			on, ok := value.(bool)
			if !ok {
				return fmt.Errorf("%w: On expects bool, got %T", ErrInvalidValue, value)
			}

			b.mu.Lock()
			cached := s.brightness
			b.mu.Unlock()

			target, send := dimmerOnTarget(cached, on)
			if !send {
				b.logDebug("dimmer already on, ignoring",
					"device_id", b.deviceID, "channel", wireIndex, "brightness", cached)
				return nil
			}
			return b.setDimLevel(ctx, wireIndex, target)
		},
	)

	b.bind(s.handle, CharacteristicBrightness,
		func() (any, error) {
			b.mu.Lock()
			defer b.mu.Unlock()
			return s.brightness, nil
		},
		func(ctx context.Context, value any) error {
			percent, ok := value.(int)
			if !ok {
				return fmt.Errorf("%w: Brightness expects int, got %T", ErrInvalidValue, value)
			}
			return b.setDimLevel(ctx, wireIndex, percent)
		},
	)
}

// bindSwitch wires the On handlers of slot to the channel at wireIndex.
func (b *deviceBase) bindSwitch(s *switchSlot, wireIndex int) {
	if s.handle == nil {
		return
	}

	b.bind(s.handle, CharacteristicOn,
		func() (any, error) {
			b.mu.Lock()
			defer b.mu.Unlock()
			return s.on, nil
		},
		func(ctx context.Context, value any) error {
			on, ok := value.(bool)
			if !ok {
				return fmt.Errorf("%w: On expects bool, got %T", ErrInvalidValue, value)
			}
			return b.setSwitchState(ctx, wireIndex, on)
		},
	)
}

// setDimLevel issues one setDimLevel call. The cache is left alone; the
// next snapshot carries the result.
func (b *deviceBase) setDimLevel(ctx context.Context, wireIndex, percent int) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("%w: brightness %d outside 0..100", ErrInvalidValue, percent)
	}

	b.logInfo("setting brightness", "device_id", b.deviceID, "channel", wireIndex, "brightness", percent)

	level := float64(percent) / 100.0
	return b.control(ctx, RouteSetDimLevel, ControlRequest{
		DeviceID:     b.deviceID,
		ChannelIndex: wireIndex,
		DimLevel:     &level,
	})
}

// setSwitchState issues one setSwitchState call.
func (b *deviceBase) setSwitchState(ctx context.Context, wireIndex int, on bool) error {
	b.logInfo("setting switch state", "device_id", b.deviceID, "channel", wireIndex, "on", on)

	return b.control(ctx, RouteSetSwitchState, ControlRequest{
		DeviceID:     b.deviceID,
		ChannelIndex: wireIndex,
		On:           &on,
	})
}

func (b *deviceBase) control(ctx context.Context, route string, req ControlRequest) error {
	if err := b.ctrl.Control(ctx, route, req); err != nil {
		b.logError("control call failed", "device_id", req.DeviceID,
			"channel", req.ChannelIndex, "route", route, "error", err)
		return fmt.Errorf("%w: %s channel %d: %w", ErrControlFailed, req.DeviceID, req.ChannelIndex, err)
	}
	return nil
}
