package hmip

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ilot95/hmip-bridge/internal/infrastructure/config"
)

// Supported model types.
const (
	ModelDRD3 = "HmIPW-DRD3"
	ModelDRS8 = "HmIPW-DRS8"
)

// StateSource loads the home's current state. *Client satisfies it.
type StateSource interface {
	GetCurrentState(ctx context.Context) (*State, error)
}

// ReachabilityRecorder receives the reachability of every updated device.
// *influxdb.Client satisfies it.
type ReachabilityRecorder interface {
	RecordReachability(deviceID string, reachable bool)
}

// Platform owns the device snapshots and the endpoint bindings built from them.
//
// Thread Safety: All methods are safe for concurrent use. Snapshots for one
// device are applied to its bindings in call order on the caller's goroutine.
type Platform struct {
	source   StateSource
	deps     Deps
	bindings map[string]config.DeviceBinding
	recorder ReachabilityRecorder

	// dispatchMu orders snapshot delivery and first-time binding.
	dispatchMu sync.Mutex

	mu        sync.RWMutex
	devices   map[string]*Device
	groups    Groups
	endpoints map[string][]Endpoint
}

// NewPlatform creates a platform. bindings override the per-model default
// layout for individual devices.
func NewPlatform(source StateSource, deps Deps, bindings []config.DeviceBinding) *Platform {
	byID := make(map[string]config.DeviceBinding, len(bindings))
	for _, b := range bindings {
		b.Mode = strings.ToLower(b.Mode)
		byID[b.ID] = b
	}
	return &Platform{
		source:    source,
		deps:      deps,
		bindings:  byID,
		devices:   make(map[string]*Device),
		groups:    make(Groups),
		endpoints: make(map[string][]Endpoint),
	}
}

// SetReachabilityRecorder sets an optional recorder for reachability history.
func (p *Platform) SetReachabilityRecorder(r ReachabilityRecorder) {
	p.mu.Lock()
	p.recorder = r
	p.mu.Unlock()
}

// Start loads the current state and binds every supported device.
func (p *Platform) Start(ctx context.Context) error {
	state, err := p.source.GetCurrentState(ctx)
	if err != nil {
		return fmt.Errorf("loading current state: %w", err)
	}
	p.Load(ctx, state)
	return nil
}

// Refresh reloads the current state and feeds every device through
// OnDeviceChanged. Used after the event stream reconnects.
func (p *Platform) Refresh(ctx context.Context) error {
	return p.Start(ctx)
}

// Load applies a full state document: groups are replaced and every device
// is bound (if new) or updated.
func (p *Platform) Load(ctx context.Context, state *State) {
	if state == nil {
		return
	}

	p.mu.Lock()
	p.groups = make(Groups, len(state.Groups))
	for id, g := range state.Groups {
		p.groups[id] = g
	}
	p.mu.Unlock()

	ids := make([]string, 0, len(state.Devices))
	for id := range state.Devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		p.OnDeviceChanged(ctx, state.Devices[id])
	}
}

// OnDeviceChanged stores a snapshot and hands it to the device's bindings.
// A supported device seen for the first time is bound; others are ignored.
func (p *Platform) OnDeviceChanged(ctx context.Context, device *Device) {
	if device == nil || device.ID == "" {
		return
	}

	p.dispatchMu.Lock()
	defer p.dispatchMu.Unlock()

	p.mu.Lock()
	p.devices[device.ID] = device
	eps, bound := p.endpoints[device.ID]
	groups := p.groups
	recorder := p.recorder
	p.mu.Unlock()

	if !bound {
		eps = p.bind(ctx, device)
		p.mu.Lock()
		p.endpoints[device.ID] = eps
		p.mu.Unlock()
	} else {
		for _, ep := range eps {
			ep.UpdateDevice(device, groups)
		}
	}

	if recorder != nil && len(eps) > 0 {
		if reachable, known := device.Reachable(); known {
			recorder.RecordReachability(device.ID, reachable)
		}
	}
}

// OnGroupChanged replaces one group.
func (p *Platform) OnGroupChanged(group Group) {
	if group.ID == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	groups := make(Groups, len(p.groups)+1)
	for id, g := range p.groups {
		groups[id] = g
	}
	groups[group.ID] = group
	p.groups = groups
}

// Snapshot returns the last snapshot seen for a device.
func (p *Platform) Snapshot(deviceID string) (*Device, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	d, ok := p.devices[deviceID]
	return d, ok
}

// Endpoints returns the bindings of a device.
func (p *Platform) Endpoints(deviceID string) []Endpoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Endpoint(nil), p.endpoints[deviceID]...)
}

// EndpointCount returns the number of bindings across all devices.
func (p *Platform) EndpointCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, eps := range p.endpoints {
		n += len(eps)
	}
	return n
}

// bind builds the bindings for a newly seen device. Constructors prime
// themselves with the snapshot.
func (p *Platform) bind(ctx context.Context, device *Device) []Endpoint {
	binding, hasBinding := p.bindings[device.ID]

	switch device.ModelType {
	case ModelDRD3:
		if !hasBinding || binding.Mode != config.BindingSingle {
			d, err := NewDimmerDRD3(ctx, p.deps, device)
			if err != nil {
				p.logError("failed to bind dimmer", "device_id", device.ID, "error", err)
				return nil
			}
			return []Endpoint{d}
		}
		return p.bindSingles(device, channelList(binding.Channels, drd3Channels), func(idx int) (Endpoint, error) {
			return NewDimmerDRD3Single(ctx, p.deps, device, idx)
		})

	case ModelDRS8:
		if hasBinding && binding.Mode == config.BindingFanOut {
			p.logWarn("fan-out binding is not supported for DRS8, using single bindings", "device_id", device.ID)
		}
		var channels []int
		if hasBinding && binding.Mode == config.BindingSingle {
			channels = binding.Channels
		}
		return p.bindSingles(device, channelList(channels, drs8Channels), func(idx int) (Endpoint, error) {
			return NewSwitchDRS8Single(ctx, p.deps, device, idx)
		})

	default:
		p.logDebug("unsupported device model", "device_id", device.ID, "model_type", device.ModelType)
		return nil
	}
}

func (p *Platform) bindSingles(device *Device, channels []int, build func(int) (Endpoint, error)) []Endpoint {
	eps := make([]Endpoint, 0, len(channels))
	for _, idx := range channels {
		ep, err := build(idx)
		if err != nil {
			p.logError("failed to bind channel", "device_id", device.ID, "channel_index", idx, "error", err)
			continue
		}
		eps = append(eps, ep)
	}
	return eps
}

// channelList returns configured, or else all channel indices 0..n-1.
func channelList(configured []int, n int) []int {
	if len(configured) > 0 {
		return configured
	}
	all := make([]int, n)
	for i := range all {
		all[i] = i
	}
	return all
}

func (p *Platform) logDebug(msg string, args ...any) {
	if p.deps.Logger != nil {
		p.deps.Logger.Debug(msg, args...)
	}
}

func (p *Platform) logWarn(msg string, args ...any) {
	if p.deps.Logger != nil {
		p.deps.Logger.Warn(msg, args...)
	}
}

func (p *Platform) logError(msg string, args ...any) {
	if p.deps.Logger != nil {
		p.deps.Logger.Error(msg, args...)
	}
}
