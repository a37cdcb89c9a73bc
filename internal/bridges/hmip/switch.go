package hmip

import (
	"context"
	"fmt"
)

// drs8Channels is the number of switching channels on an HmIPW-DRS8.
const drs8Channels = 8

// SwitchDRS8Single exposes one channel of an HmIPW-DRS8 as its own
// accessory with a single Switch endpoint.
type SwitchDRS8Single struct {
	deviceBase
	channelIndex int
	slot         switchSlot
}

var _ Endpoint = (*SwitchDRS8Single)(nil)

// NewSwitchDRS8Single binds the channel at 0-based channelIndex.
func NewSwitchDRS8Single(ctx context.Context, deps Deps, device *Device, channelIndex int) (*SwitchDRS8Single, error) {
	if device == nil {
		return nil, ErrNilDevice
	}
	if channelIndex < 0 || channelIndex >= drs8Channels {
		return nil, fmt.Errorf("%w: %d (DRS8 has %d channels)", ErrInvalidChannelIndex, channelIndex, drs8Channels)
	}

	s := &SwitchDRS8Single{channelIndex: channelIndex}
	s.setup(deps, SingleAccessoryID(device.ID, channelIndex), device)

	s.slot.handle = s.endpoint(ctx, ServiceSwitch, "", fmt.Sprintf("%s %d", device.Label, channelIndex))
	s.bindSwitch(&s.slot, channelIndex+1)

	s.logInfo("created DRS8 single switch", "device_id", device.ID, "channel_index", channelIndex)
	s.UpdateDevice(device, nil)
	return s, nil
}

// ChannelIndex returns the bound 0-based channel index.
func (s *SwitchDRS8Single) ChannelIndex() int {
	return s.channelIndex
}

// UpdateDevice applies only the switch record with index channelIndex+1.
func (s *SwitchDRS8Single) UpdateDevice(device *Device, _ Groups) {
	if !s.accepts(device) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.observe(device)
	for _, ch := range device.ChannelsByIndex() {
		sc, ok := ch.(*SwitchChannel)
		if !ok || sc.Index-1 != s.channelIndex {
			continue
		}
		if s.slot.reconcile(s.host, sc) {
			s.logInfo("switch state changed", "device_id", s.deviceID,
				"channel", sc.Index, "on", s.slot.on)
		}
	}
}

// On returns the cached switch state.
func (s *SwitchDRS8Single) On() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slot.on
}
