package accessory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ilot95/hmip-bridge/internal/bridges/hmip"
	"github.com/ilot95/hmip-bridge/internal/infrastructure/mqtt"
)

// SetTimeout bounds a set request arriving over MQTT, including the
// control call it triggers.
const SetTimeout = 5 * time.Second

// RequestQueueSize is the number of MQTT requests buffered ahead of the
// request worker.
const RequestQueueSize = 64

// endpointNamespace seeds the name-based endpoint IDs.
var endpointNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:hmip-bridge:endpoint"))

// EndpointID derives the stable ID of the endpoint keyed by
// (accessoryID, service, subID).
func EndpointID(accessoryID string, service hmip.ServiceType, subID string) string {
	return uuid.NewSHA1(endpointNamespace, []byte(accessoryID+"/"+string(service)+"/"+subID)).String()
}

// Broker is the MQTT surface of the host. *mqtt.Client satisfies it.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Recorder receives every pushed characteristic value. *influxdb.Client satisfies it.
type Recorder interface {
	RecordCharacteristic(accessoryID, endpointID, characteristic string, value any)
}

// Logger is the logging interface used by the host and server.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// HostDeps holds the dependencies of a Host. Only Repo is required.
type HostDeps struct {
	Repo     Repository
	Broker   Broker
	Topics   mqtt.Topics
	QoS      byte
	Recorder Recorder
	Logger   Logger
}

// Ack is published to the ack topic after every MQTT set request.
type Ack struct {
	EndpointID     string `json:"endpoint_id"`
	Characteristic string `json:"characteristic"`
	Status         string `json:"status"`
	Error          string `json:"error,omitempty"`
}

// Ack statuses.
const (
	AckOK    = "ok"
	AckError = "error"
)

type binding struct {
	get    hmip.GetHandler
	set    hmip.SetHandler
	last   any
	pushed bool
}

type entry struct {
	handle *hmip.EndpointHandle
	rec    Record
	chars  map[hmip.Characteristic]*binding
}

// Host registers endpoints for the HomematicIP bindings, persists them and
// exposes their characteristics over MQTT and to the HTTP API.
//
// Endpoints loaded from the database are unbound until a binding claims
// them again with GetOrCreateEndpoint and BindCharacteristic.
//
// Thread Safety: All methods are safe for concurrent use. Get and set
// handlers are never called with the host lock held.
type Host struct {
	repo     Repository
	broker   Broker
	topics   mqtt.Topics
	qos      byte
	recorder Recorder
	logger   Logger

	mu      sync.RWMutex
	entries map[string]*entry
	ctx     context.Context

	requests chan request
	started  bool
}

// request is one MQTT set or get waiting for the request worker.
type request struct {
	verb  string
	id    string
	kind  hmip.Characteristic
	value any
}

var _ hmip.Host = (*Host)(nil)

// NewHost loads the persisted endpoints and returns a host ready for bindings.
func NewHost(ctx context.Context, deps HostDeps) (*Host, error) {
	if deps.Repo == nil {
		return nil, fmt.Errorf("endpoint repository is required")
	}

	records, err := deps.Repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading endpoints: %w", err)
	}

	h := &Host{
		repo:     deps.Repo,
		broker:   deps.Broker,
		topics:   deps.Topics,
		qos:      deps.QoS,
		recorder: deps.Recorder,
		logger:   deps.Logger,
		entries:  make(map[string]*entry, len(records)),
		ctx:      context.Background(),
		requests: make(chan request, RequestQueueSize),
	}
	if h.topics.Prefix() == "" {
		h.topics = mqtt.NewTopics("")
	}

	for _, rec := range records {
		h.entries[rec.ID] = &entry{
			handle: handleFromRecord(rec),
			rec:    rec,
			chars:  make(map[hmip.Characteristic]*binding),
		}
	}
	h.logDebug("loaded endpoints", "count", len(records))
	return h, nil
}

func handleFromRecord(rec Record) *hmip.EndpointHandle {
	return &hmip.EndpointHandle{
		ID:          rec.ID,
		AccessoryID: rec.AccessoryID,
		Service:     hmip.ServiceType(rec.Service),
		SubID:       rec.SubID,
		Name:        rec.Name,
	}
}

// Start subscribes to set and get requests and starts the worker that
// serves them in arrival order. ctx bounds the worker and every request;
// without a broker Start is a no-op.
func (h *Host) Start(ctx context.Context) error {
	if h.broker == nil {
		return nil
	}

	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return fmt.Errorf("accessory host already started")
	}
	h.started = true
	h.ctx = ctx
	h.mu.Unlock()

	go h.serveRequests(ctx)

	if err := h.broker.Subscribe(h.topics.AllSets(), h.qos, h.handleMessage); err != nil {
		return fmt.Errorf("subscribing to set requests: %w", err)
	}
	if err := h.broker.Subscribe(h.topics.AllGets(), h.qos, h.handleMessage); err != nil {
		return fmt.Errorf("subscribing to get requests: %w", err)
	}
	h.logInfo("accessory host listening", "prefix", h.topics.Prefix())
	return nil
}

// GetOrCreateEndpoint returns the endpoint keyed by (accessoryID, service,
// subID), creating and persisting it on first use. A changed name is
// written back.
func (h *Host) GetOrCreateEndpoint(ctx context.Context, accessoryID string, service hmip.ServiceType, subID, name string) (*hmip.EndpointHandle, error) {
	id := EndpointID(accessoryID, service, subID)

	h.mu.Lock()
	defer h.mu.Unlock()

	if e, ok := h.entries[id]; ok {
		if e.rec.Name != name {
			if err := h.repo.UpdateName(ctx, id, name); err != nil {
				return nil, fmt.Errorf("renaming endpoint %s: %w", id, err)
			}
			e.rec.Name = name
			e.handle.Name = name
		}
		return e.handle, nil
	}

	rec := Record{ID: id, AccessoryID: accessoryID, Service: string(service), SubID: subID, Name: name}
	if err := h.repo.Create(ctx, &rec); err != nil {
		return nil, fmt.Errorf("creating endpoint: %w", err)
	}

	e := &entry{handle: handleFromRecord(rec), rec: rec, chars: make(map[hmip.Characteristic]*binding)}
	h.entries[id] = e
	h.logInfo("created endpoint", "endpoint_id", id, "accessory_id", accessoryID,
		"service", service, "sub_id", subID, "name", name)
	return e.handle, nil
}

// FindEndpoint looks up an endpoint without creating it.
func (h *Host) FindEndpoint(accessoryID string, service hmip.ServiceType, subID string) (*hmip.EndpointHandle, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.entries[EndpointID(accessoryID, service, subID)]
	if !ok {
		return nil, false
	}
	return e.handle, true
}

// RemoveEndpoint deletes an endpoint and clears its retained state topics.
func (h *Host) RemoveEndpoint(ctx context.Context, handle *hmip.EndpointHandle) error {
	if handle == nil {
		return ErrEndpointNotFound
	}

	h.mu.Lock()
	e, ok := h.entries[handle.ID]
	if !ok {
		h.mu.Unlock()
		return ErrEndpointNotFound
	}
	if err := h.repo.Delete(ctx, handle.ID); err != nil && !errors.Is(err, ErrEndpointNotFound) {
		h.mu.Unlock()
		return fmt.Errorf("removing endpoint %s: %w", handle.ID, err)
	}
	delete(h.entries, handle.ID)
	var pushed []hmip.Characteristic
	for kind, b := range e.chars {
		if b.pushed {
			pushed = append(pushed, kind)
		}
	}
	h.mu.Unlock()

	for _, kind := range pushed {
		h.publish(h.topics.State(handle.ID, string(kind)), nil, true)
	}
	h.logInfo("removed endpoint", "endpoint_id", handle.ID, "accessory_id", handle.AccessoryID)
	return nil
}

// BindCharacteristic installs the handlers for one characteristic,
// replacing earlier ones. The last pushed value is kept.
func (h *Host) BindCharacteristic(handle *hmip.EndpointHandle, kind hmip.Characteristic, get hmip.GetHandler, set hmip.SetHandler) error {
	if handle == nil || get == nil || set == nil {
		return fmt.Errorf("%w: handle and handlers are required", ErrInvalidEndpoint)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	e, ok := h.entries[handle.ID]
	if !ok {
		return ErrEndpointNotFound
	}
	b, ok := e.chars[kind]
	if !ok {
		b = &binding{}
		e.chars[kind] = b
	}
	b.get, b.set = get, set
	return nil
}

// PushCharacteristicUpdate remembers value, publishes it retained on the
// state topic and records it.
func (h *Host) PushCharacteristicUpdate(handle *hmip.EndpointHandle, kind hmip.Characteristic, value any) {
	if handle == nil {
		return
	}

	h.mu.Lock()
	e, ok := h.entries[handle.ID]
	if !ok {
		h.mu.Unlock()
		h.logDebug("push for unknown endpoint", "endpoint_id", handle.ID, "characteristic", kind)
		return
	}
	b, ok := e.chars[kind]
	if !ok {
		b = &binding{}
		e.chars[kind] = b
	}
	b.last, b.pushed = value, true
	accessoryID := e.rec.AccessoryID
	h.mu.Unlock()

	h.publishValue(h.topics.State(handle.ID, string(kind)), value, true)
	if h.recorder != nil {
		h.recorder.RecordCharacteristic(accessoryID, handle.ID, string(kind), value)
	}
}

// Get reads a characteristic through its bound get handler.
func (h *Host) Get(id string, kind hmip.Characteristic) (any, error) {
	b, err := h.lookup(id, kind)
	if err != nil {
		return nil, err
	}
	return b.get()
}

// Set coerces value and applies it through the bound set handler.
func (h *Host) Set(ctx context.Context, id string, kind hmip.Characteristic, value any) error {
	b, err := h.lookup(id, kind)
	if err != nil {
		return err
	}
	coerced, err := Coerce(kind, value)
	if err != nil {
		return err
	}
	return b.set(ctx, coerced)
}

// lookup returns a copy of the handlers so they can be called unlocked.
func (h *Host) lookup(id string, kind hmip.Characteristic) (binding, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	e, ok := h.entries[id]
	if !ok {
		return binding{}, fmt.Errorf("%w: %s", ErrEndpointNotFound, id)
	}
	b, ok := e.chars[kind]
	if !ok || b.get == nil {
		return binding{}, fmt.Errorf("%w: %s on %s", ErrNotBound, kind, id)
	}
	return *b, nil
}

// EndpointView describes an endpoint and its current characteristic values.
type EndpointView struct {
	Record
	Bound           bool           `json:"bound"`
	Characteristics map[string]any `json:"characteristics"`
}

// Endpoints returns every known endpoint ordered by accessory, service and sub ID.
func (h *Host) Endpoints() []EndpointView {
	h.mu.RLock()
	ids := make([]string, 0, len(h.entries))
	for id := range h.entries {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	views := make([]EndpointView, 0, len(ids))
	for _, id := range ids {
		if v, err := h.Endpoint(id); err == nil {
			views = append(views, v)
		}
	}
	sort.Slice(views, func(i, j int) bool {
		a, b := views[i], views[j]
		if a.AccessoryID != b.AccessoryID {
			return a.AccessoryID < b.AccessoryID
		}
		if a.Service != b.Service {
			return a.Service < b.Service
		}
		return a.SubID < b.SubID
	})
	return views
}

// Endpoint returns one endpoint. Bound characteristics are read through
// their get handlers; unbound ones report the last pushed value.
func (h *Host) Endpoint(id string) (EndpointView, error) {
	h.mu.RLock()
	e, ok := h.entries[id]
	if !ok {
		h.mu.RUnlock()
		return EndpointView{}, fmt.Errorf("%w: %s", ErrEndpointNotFound, id)
	}
	view := EndpointView{Record: e.rec, Characteristics: make(map[string]any, len(e.chars))}
	chars := make(map[hmip.Characteristic]binding, len(e.chars))
	for kind, b := range e.chars {
		chars[kind] = *b
	}
	h.mu.RUnlock()

	for kind, b := range chars {
		if b.get == nil {
			if b.pushed {
				view.Characteristics[string(kind)] = b.last
			}
			continue
		}
		view.Bound = true
		if v, err := b.get(); err == nil {
			view.Characteristics[string(kind)] = v
		}
	}
	return view, nil
}

// Count returns the number of known endpoints.
func (h *Host) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// handleMessage queues set and get requests for the request worker. The
// MQTT client only blocks here once RequestQueueSize requests are pending.
func (h *Host) handleMessage(topic string, payload []byte) error {
	verb, id, char, ok := h.topics.ParseRequest(topic)
	if !ok {
		return fmt.Errorf("unexpected request topic %q", topic)
	}

	req := request{verb: verb, id: id, kind: hmip.Characteristic(char)}
	if verb == "set" {
		req.value = decodePayload(payload)
	}

	h.mu.RLock()
	ctx := h.ctx
	h.mu.RUnlock()

	select {
	case h.requests <- req:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dropping %s request for %s: %w", verb, id, ctx.Err())
	}
}

// serveRequests handles queued requests one at a time so commands for an
// endpoint reach the controller in the order they were published.
func (h *Host) serveRequests(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-h.requests:
			switch req.verb {
			case "set":
				h.serveSet(ctx, req.id, req.kind, req.value)
			case "get":
				h.serveGet(req.id, req.kind)
			}
		}
	}
}

func (h *Host) serveSet(ctx context.Context, id string, kind hmip.Characteristic, value any) {
	ctx, cancel := context.WithTimeout(ctx, SetTimeout)
	defer cancel()

	ack := Ack{EndpointID: id, Characteristic: string(kind), Status: AckOK}
	if err := h.Set(ctx, id, kind, value); err != nil {
		ack.Status = AckError
		ack.Error = err.Error()
		h.logWarn("set request failed", "endpoint_id", id, "characteristic", kind, "error", err)
	} else {
		h.logDebug("set request applied", "endpoint_id", id, "characteristic", kind, "value", value)
	}
	h.publishValue(h.topics.Ack(id), ack, false)
}

func (h *Host) serveGet(id string, kind hmip.Characteristic) {
	value, err := h.Get(id, kind)
	if err != nil {
		h.logWarn("get request failed", "endpoint_id", id, "characteristic", kind, "error", err)
		return
	}
	h.publishValue(h.topics.State(id, string(kind)), value, false)
}

func (h *Host) publishValue(topic string, value any, retained bool) {
	payload, err := json.Marshal(value)
	if err != nil {
		h.logError("failed to encode MQTT payload", "topic", topic, "error", err)
		return
	}
	h.publish(topic, payload, retained)
}

func (h *Host) publish(topic string, payload []byte, retained bool) {
	if h.broker == nil {
		return
	}
	if err := h.broker.Publish(topic, payload, h.qos, retained); err != nil {
		h.logWarn("failed to publish", "topic", topic, "error", err)
	}
}

func (h *Host) logDebug(msg string, args ...any) {
	if h.logger != nil {
		h.logger.Debug(msg, args...)
	}
}

func (h *Host) logInfo(msg string, args ...any) {
	if h.logger != nil {
		h.logger.Info(msg, args...)
	}
}

func (h *Host) logWarn(msg string, args ...any) {
	if h.logger != nil {
		h.logger.Warn(msg, args...)
	}
}

func (h *Host) logError(msg string, args ...any) {
	if h.logger != nil {
		h.logger.Error(msg, args...)
	}
}
