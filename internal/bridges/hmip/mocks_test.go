package hmip

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// pushRecord is one PushCharacteristicUpdate call.
type pushRecord struct {
	EndpointID string
	Kind       Characteristic
	Value      any
}

type boundHandlers struct {
	get GetHandler
	set SetHandler
}

// MockHost implements Host for testing.
type MockHost struct {
	mu        sync.Mutex
	endpoints map[string]*EndpointHandle
	handlers  map[string]map[Characteristic]boundHandlers
	pushes    []pushRecord
	removed   []string
	failSubID map[string]bool
	nextID    int
}

func NewMockHost() *MockHost {
	return &MockHost{
		endpoints: make(map[string]*EndpointHandle),
		handlers:  make(map[string]map[Characteristic]boundHandlers),
		failSubID: make(map[string]bool),
	}
}

func hostKey(accessoryID string, service ServiceType, subID string) string {
	return accessoryID + "|" + string(service) + "|" + subID
}

// FailCreate makes GetOrCreateEndpoint fail for subID.
func (m *MockHost) FailCreate(subID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSubID[subID] = true
}

// Preload registers an endpoint as if left by an earlier run.
func (m *MockHost) Preload(accessoryID string, service ServiceType, subID string) *EndpointHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	h := &EndpointHandle{ID: fmt.Sprintf("ep-%d", m.nextID), AccessoryID: accessoryID, Service: service, SubID: subID}
	m.endpoints[hostKey(accessoryID, service, subID)] = h
	return h
}

func (m *MockHost) GetOrCreateEndpoint(_ context.Context, accessoryID string, service ServiceType, subID, name string) (*EndpointHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSubID[subID] {
		return nil, errors.New("host refused endpoint")
	}
	key := hostKey(accessoryID, service, subID)
	if h, ok := m.endpoints[key]; ok {
		h.Name = name
		return h, nil
	}
	m.nextID++
	h := &EndpointHandle{
		ID:          fmt.Sprintf("ep-%d", m.nextID),
		AccessoryID: accessoryID,
		Service:     service,
		SubID:       subID,
		Name:        name,
	}
	m.endpoints[key] = h
	return h, nil
}

func (m *MockHost) FindEndpoint(accessoryID string, service ServiceType, subID string) (*EndpointHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.endpoints[hostKey(accessoryID, service, subID)]
	return h, ok
}

func (m *MockHost) RemoveEndpoint(_ context.Context, h *EndpointHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.endpoints, hostKey(h.AccessoryID, h.Service, h.SubID))
	delete(m.handlers, h.ID)
	m.removed = append(m.removed, h.ID)
	return nil
}

func (m *MockHost) BindCharacteristic(h *EndpointHandle, kind Characteristic, get GetHandler, set SetHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handlers[h.ID] == nil {
		m.handlers[h.ID] = make(map[Characteristic]boundHandlers)
	}
	m.handlers[h.ID][kind] = boundHandlers{get: get, set: set}
	return nil
}

func (m *MockHost) PushCharacteristicUpdate(h *EndpointHandle, kind Characteristic, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushes = append(m.pushes, pushRecord{EndpointID: h.ID, Kind: kind, Value: value})
}

// Handle returns the registered handle for (accessoryID, service, subID).
func (m *MockHost) Handle(accessoryID string, service ServiceType, subID string) *EndpointHandle {
	h, _ := m.FindEndpoint(accessoryID, service, subID)
	return h
}

// Get invokes a bound get handler.
func (m *MockHost) Get(h *EndpointHandle, kind Characteristic) (any, error) {
	m.mu.Lock()
	b, ok := m.handlers[h.ID][kind]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no %s handler on %s", kind, h.ID)
	}
	return b.get()
}

// Set invokes a bound set handler.
func (m *MockHost) Set(ctx context.Context, h *EndpointHandle, kind Characteristic, value any) error {
	m.mu.Lock()
	b, ok := m.handlers[h.ID][kind]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no %s handler on %s", kind, h.ID)
	}
	return b.set(ctx, value)
}

// Pushes returns and clears the recorded pushes.
func (m *MockHost) Pushes() []pushRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.pushes
	m.pushes = nil
	return out
}

func (m *MockHost) Removed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.removed...)
}

func (m *MockHost) EndpointCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.endpoints)
}

type controlCall struct {
	Route string
	Req   ControlRequest
}

// MockController implements Controller for testing.
type MockController struct {
	mu    sync.Mutex
	calls []controlCall
	err   error
}

func (m *MockController) Control(_ context.Context, route string, req ControlRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, controlCall{Route: route, Req: req})
	return m.err
}

func (m *MockController) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockController) Calls() []controlCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]controlCall(nil), m.calls...)
}

// MockLogger records messages by level.
type MockLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *MockLogger) record(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, level+": "+msg)
}

func (l *MockLogger) Debug(msg string, _ ...any) { l.record("debug", msg) }
func (l *MockLogger) Info(msg string, _ ...any)  { l.record("info", msg) }
func (l *MockLogger) Warn(msg string, _ ...any)  { l.record("warn", msg) }
func (l *MockLogger) Error(msg string, _ ...any) { l.record("error", msg) }

func (l *MockLogger) Has(entry string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e == entry {
			return true
		}
	}
	return false
}

// Snapshot builders.

func ptr[T any](v T) *T { return &v }

func dimmerDevice(id string, levels map[int]*float64) *Device {
	d := &Device{
		ID:        id,
		Label:     "Dimmer " + id,
		ModelType: ModelDRD3,
		Channels:  map[string]FunctionalChannel{"0": &BaseChannel{Index: 0, Unreach: ptr(false)}},
	}
	for idx, level := range levels {
		d.Channels[fmt.Sprint(idx)] = &DimmerChannel{Index: idx, DimLevel: level}
	}
	return d
}

func switchDevice(id string, states map[int]*bool) *Device {
	d := &Device{
		ID:        id,
		Label:     "Switch " + id,
		ModelType: ModelDRS8,
		Channels:  map[string]FunctionalChannel{"0": &BaseChannel{Index: 0}},
	}
	for idx, on := range states {
		d.Channels[fmt.Sprint(idx)] = &SwitchChannel{Index: idx, On: on}
	}
	return d
}

func newDeps() (Deps, *MockHost, *MockController) {
	host := NewMockHost()
	ctrl := &MockController{}
	return Deps{Host: host, Controller: ctrl, Logger: &MockLogger{}}, host, ctrl
}
