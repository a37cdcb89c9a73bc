package hmip

import (
	"encoding/json"
	"fmt"
	"sort"
)

// ChannelType is the functionalChannelType tag of a channel record.
type ChannelType string

// Channel types decoded into dedicated variants. Everything else becomes an OtherChannel.
const (
	ChannelTypeDimmer     ChannelType = "DIMMER_CHANNEL"
	ChannelTypeSwitch     ChannelType = "SWITCH_CHANNEL"
	ChannelTypeDeviceBase ChannelType = "DEVICE_BASE"
)

// FunctionalChannel is one channel record of a device snapshot.
//
// The set of implementations is closed: *DimmerChannel, *SwitchChannel,
// *BaseChannel and *OtherChannel. Match on it with a type switch.
type FunctionalChannel interface {
	// ChannelIndex is the 1-based position of the channel within its device.
	ChannelIndex() int
	Type() ChannelType
	functionalChannel()
}

// DimmerChannel carries a dim level in [0.0, 1.0]. DimLevel is nil when the
// record had no usable value.
type DimmerChannel struct {
	Index                  int
	DimLevel               *float64
	ProfileMode            string
	UserDesiredProfileMode string
}

// SwitchChannel carries a binary on state. On is nil when absent or null.
type SwitchChannel struct {
	Index int
	On    *bool
}

// BaseChannel is the DEVICE_BASE channel (index 0) with maintenance flags.
type BaseChannel struct {
	Index   int
	Unreach *bool
	LowBat  *bool
}

// OtherChannel is any channel type this bridge does not interpret.
type OtherChannel struct {
	Index   int
	RawType ChannelType
}

func (c *DimmerChannel) ChannelIndex() int { return c.Index }
func (c *SwitchChannel) ChannelIndex() int { return c.Index }
func (c *BaseChannel) ChannelIndex() int   { return c.Index }
func (c *OtherChannel) ChannelIndex() int  { return c.Index }

func (c *DimmerChannel) Type() ChannelType { return ChannelTypeDimmer }
func (c *SwitchChannel) Type() ChannelType { return ChannelTypeSwitch }
func (c *BaseChannel) Type() ChannelType   { return ChannelTypeDeviceBase }
func (c *OtherChannel) Type() ChannelType  { return c.RawType }

func (*DimmerChannel) functionalChannel() {}
func (*SwitchChannel) functionalChannel() {}
func (*BaseChannel) functionalChannel()   {}
func (*OtherChannel) functionalChannel()  {}

// Device is an immutable snapshot of one device. A new snapshot replaces
// the previous one wholesale.
type Device struct {
	ID               string
	Label            string
	Type             string
	ModelType        string
	FirmwareVersion  string
	LastStatusUpdate int64

	// Channels is keyed by the opaque channel id from the cloud ("0", "1", ...).
	Channels map[string]FunctionalChannel
}

// Group is passed through to endpoints alongside device snapshots.
type Group struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Type  string `json:"type"`
}

// Groups maps group id to group.
type Groups map[string]Group

type wireDevice struct {
	ID                 string                     `json:"id"`
	Label              string                     `json:"label"`
	Type               string                     `json:"type"`
	ModelType          string                     `json:"modelType"`
	FirmwareVersion    string                     `json:"firmwareVersion"`
	LastStatusUpdate   int64                      `json:"lastStatusUpdate"`
	FunctionalChannels map[string]json.RawMessage `json:"functionalChannels"`
}

type wireChannel struct {
	FunctionalChannelType  ChannelType `json:"functionalChannelType"`
	Index                  int         `json:"index"`
	DimLevel               *float64    `json:"dimLevel"`
	On                     *bool       `json:"on"`
	Unreach                *bool       `json:"unreach"`
	LowBat                 *bool       `json:"lowBat"`
	ProfileMode            string      `json:"profileMode"`
	UserDesiredProfileMode string      `json:"userDesiredProfileMode"`
}

// UnmarshalJSON decodes a device and picks a channel variant per record.
func (d *Device) UnmarshalJSON(data []byte) error {
	var w wireDevice
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*d = Device{
		ID:               w.ID,
		Label:            w.Label,
		Type:             w.Type,
		ModelType:        w.ModelType,
		FirmwareVersion:  w.FirmwareVersion,
		LastStatusUpdate: w.LastStatusUpdate,
		Channels:         make(map[string]FunctionalChannel, len(w.FunctionalChannels)),
	}

	for id, raw := range w.FunctionalChannels {
		var wc wireChannel
		if err := json.Unmarshal(raw, &wc); err != nil {
			return fmt.Errorf("decoding channel %s of device %s: %w", id, w.ID, err)
		}
		d.Channels[id] = wc.variant()
	}
	return nil
}

func (wc wireChannel) variant() FunctionalChannel {
	switch wc.FunctionalChannelType {
	case ChannelTypeDimmer:
		return &DimmerChannel{
			Index:                  wc.Index,
			DimLevel:               wc.DimLevel,
			ProfileMode:            wc.ProfileMode,
			UserDesiredProfileMode: wc.UserDesiredProfileMode,
		}
	case ChannelTypeSwitch:
		return &SwitchChannel{Index: wc.Index, On: wc.On}
	case ChannelTypeDeviceBase:
		return &BaseChannel{Index: wc.Index, Unreach: wc.Unreach, LowBat: wc.LowBat}
	default:
		return &OtherChannel{Index: wc.Index, RawType: wc.FunctionalChannelType}
	}
}

// ChannelsByIndex returns the channels ordered by index, then by channel id.
func (d *Device) ChannelsByIndex() []FunctionalChannel {
	ids := make([]string, 0, len(d.Channels))
	for id := range d.Channels {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := d.Channels[ids[i]].ChannelIndex(), d.Channels[ids[j]].ChannelIndex()
		if a != b {
			return a < b
		}
		return ids[i] < ids[j]
	})

	out := make([]FunctionalChannel, len(ids))
	for i, id := range ids {
		out[i] = d.Channels[id]
	}
	return out
}

// Reachable reports the DEVICE_BASE unreach flag inverted. known is false
// when the snapshot has no base channel or the flag is null.
func (d *Device) Reachable() (reachable, known bool) {
	for _, ch := range d.Channels {
		if base, ok := ch.(*BaseChannel); ok && base.Unreach != nil {
			return !*base.Unreach, true
		}
	}
	return false, false
}

// State is the home's current state as returned by home/getCurrentState.
type State struct {
	Devices map[string]*Device `json:"devices"`
	Groups  Groups             `json:"groups"`
}
