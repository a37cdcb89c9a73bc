package accessory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ilot95/hmip-bridge/internal/bridges/hmip"
	"github.com/ilot95/hmip-bridge/internal/infrastructure/mqtt"
)

type fakeController struct {
	mu    sync.Mutex
	calls []hmip.ControlRequest
	err   error
	// slowFirst delays the first call before it is recorded.
	slowFirst time.Duration
	entered   int
}

func (f *fakeController) Control(_ context.Context, _ string, req hmip.ControlRequest) error {
	f.mu.Lock()
	first := f.entered == 0
	f.entered++
	f.mu.Unlock()
	if first && f.slowFirst > 0 {
		time.Sleep(f.slowFirst)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	return f.err
}

func (f *fakeController) Calls() []hmip.ControlRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]hmip.ControlRequest(nil), f.calls...)
}

func newTestHost(t *testing.T) (*Host, *mockBroker, *mockRecorder, Repository) {
	t.Helper()
	repo := NewSQLiteRepository(setupTestDB(t).DB)
	broker := newMockBroker()
	rec := &mockRecorder{}
	h, err := NewHost(context.Background(), HostDeps{
		Repo:     repo,
		Broker:   broker,
		Topics:   mqtt.NewTopics("test"),
		Recorder: rec,
	})
	if err != nil {
		t.Fatalf("NewHost() error = %v", err)
	}
	return h, broker, rec, repo
}

func drd3Device(id string, levels ...float64) *hmip.Device {
	d := &hmip.Device{ID: id, Label: "Hall", ModelType: hmip.ModelDRD3, Channels: map[string]hmip.FunctionalChannel{}}
	for i, l := range levels {
		level := l
		d.Channels[string(rune('1'+i))] = &hmip.DimmerChannel{Index: i + 1, DimLevel: &level}
	}
	return d
}

func TestEndpointID_Stable(t *testing.T) {
	a := EndpointID("drd3", hmip.ServiceLightbulb, "Channel0")
	if a != EndpointID("drd3", hmip.ServiceLightbulb, "Channel0") {
		t.Error("EndpointID is not deterministic")
	}
	if a == EndpointID("drd3", hmip.ServiceLightbulb, "Channel1") {
		t.Error("EndpointID collides across sub IDs")
	}
	if len(a) != 36 {
		t.Errorf("EndpointID = %q, want UUID form", a)
	}
}

func TestNewHost_RequiresRepo(t *testing.T) {
	if _, err := NewHost(context.Background(), HostDeps{}); err == nil {
		t.Error("NewHost() expected error without repository")
	}
}

func TestHost_GetOrCreateEndpoint(t *testing.T) {
	h, _, _, repo := newTestHost(t)
	ctx := context.Background()

	first, err := h.GetOrCreateEndpoint(ctx, "drd3", hmip.ServiceLightbulb, "Channel0", "Hall")
	if err != nil {
		t.Fatalf("GetOrCreateEndpoint() error = %v", err)
	}
	again, err := h.GetOrCreateEndpoint(ctx, "drd3", hmip.ServiceLightbulb, "Channel0", "Hallway")
	if err != nil {
		t.Fatalf("GetOrCreateEndpoint() error = %v", err)
	}
	if again != first {
		t.Error("repeated call returned a new handle")
	}
	if h.Count() != 1 {
		t.Errorf("Count() = %d, want 1", h.Count())
	}

	rec, err := repo.Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("repo.Get() error = %v", err)
	}
	if rec.Name != "Hallway" {
		t.Errorf("persisted name = %q, want Hallway", rec.Name)
	}

	found, ok := h.FindEndpoint("drd3", hmip.ServiceLightbulb, "Channel0")
	if !ok || found != first {
		t.Error("FindEndpoint() did not return the handle")
	}
	if _, ok := h.FindEndpoint("drd3", hmip.ServiceLightbulb, ""); ok {
		t.Error("FindEndpoint() found an endpoint that was never created")
	}
}

func TestHost_ReloadKeepsIDs(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t).DB)
	ctx := context.Background()

	h1, err := NewHost(ctx, HostDeps{Repo: repo})
	if err != nil {
		t.Fatalf("NewHost() error = %v", err)
	}
	created, _ := h1.GetOrCreateEndpoint(ctx, "drs8-2", hmip.ServiceSwitch, "", "Pump")

	h2, err := NewHost(ctx, HostDeps{Repo: repo})
	if err != nil {
		t.Fatalf("NewHost() error = %v", err)
	}
	found, ok := h2.FindEndpoint("drs8-2", hmip.ServiceSwitch, "")
	if !ok || found.ID != created.ID || found.Name != "Pump" {
		t.Errorf("reloaded handle = %+v, want %+v", found, created)
	}

	// Loaded but unclaimed endpoints have no handlers yet.
	if _, err := h2.Get(created.ID, hmip.CharacteristicOn); !errors.Is(err, ErrNotBound) {
		t.Errorf("Get() error = %v, want ErrNotBound", err)
	}
}

func TestHost_PushPublishesAndRecords(t *testing.T) {
	h, broker, rec, _ := newTestHost(t)
	handle, _ := h.GetOrCreateEndpoint(context.Background(), "drs8-0", hmip.ServiceSwitch, "", "Pump")

	h.PushCharacteristicUpdate(handle, hmip.CharacteristicOn, true)

	pubs := broker.Published()
	if len(pubs) != 1 {
		t.Fatalf("published = %v", pubs)
	}
	want := published{Topic: "test/state/" + handle.ID + "/On", Payload: "true", Retained: true}
	if pubs[0] != want {
		t.Errorf("published = %+v, want %+v", pubs[0], want)
	}

	recs := rec.Records()
	if len(recs) != 1 || recs[0].AccessoryID != "drs8-0" || recs[0].Characteristic != "On" || recs[0].Value != true {
		t.Errorf("records = %+v", recs)
	}

	view, err := h.Endpoint(handle.ID)
	if err != nil {
		t.Fatalf("Endpoint() error = %v", err)
	}
	if view.Bound || view.Characteristics["On"] != true {
		t.Errorf("view = %+v", view)
	}
}

func TestHost_WithDimmerBinding(t *testing.T) {
	h, broker, _, _ := newTestHost(t)
	ctrl := &fakeController{}
	ctx := context.Background()

	d, err := hmip.NewDimmerDRD3(ctx, hmip.Deps{Host: h, Controller: ctrl}, drd3Device("drd3", 0, 0.6, 0))
	if err != nil {
		t.Fatalf("NewDimmerDRD3() error = %v", err)
	}
	if h.Count() != 3 {
		t.Fatalf("Count() = %d, want 3", h.Count())
	}
	ep := EndpointID("drd3", hmip.ServiceLightbulb, "Channel1")

	pubs := broker.Published()
	if len(pubs) != 2 || pubs[0].Topic != "test/state/"+ep+"/On" || pubs[1].Payload != "60" {
		t.Errorf("priming published %+v", pubs)
	}

	got, err := h.Get(ep, hmip.CharacteristicBrightness)
	if err != nil || got != 60 {
		t.Errorf("Get(Brightness) = %v, %v, want 60", got, err)
	}

	// Float brightness from JSON is rounded before it reaches the binding.
	if err := h.Set(ctx, ep, hmip.CharacteristicBrightness, 42.6); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	calls := ctrl.Calls()
	if len(calls) != 1 || calls[0].ChannelIndex != 2 || *calls[0].DimLevel != 0.43 {
		t.Errorf("calls = %+v", calls)
	}
	if d.Brightness(1) != 60 {
		t.Errorf("cache changed by set: %d", d.Brightness(1))
	}

	if err := h.Set(ctx, ep, hmip.CharacteristicBrightness, "bright"); !errors.Is(err, hmip.ErrInvalidValue) {
		t.Errorf("Set(\"bright\") error = %v, want ErrInvalidValue", err)
	}

	views := h.Endpoints()
	if len(views) != 3 || views[1].SubID != "Channel1" || !views[1].Bound {
		t.Fatalf("Endpoints() = %+v", views)
	}
	if views[1].Characteristics["On"] != true || views[1].Characteristics["Brightness"] != 60 {
		t.Errorf("Channel1 characteristics = %v", views[1].Characteristics)
	}
}

func TestHost_RemoveEndpointClearsRetainedState(t *testing.T) {
	h, broker, _, repo := newTestHost(t)
	ctx := context.Background()
	handle, _ := h.GetOrCreateEndpoint(ctx, "drd3", hmip.ServiceLightbulb, "", "Hall")
	h.PushCharacteristicUpdate(handle, hmip.CharacteristicBrightness, 10)

	if err := h.RemoveEndpoint(ctx, handle); err != nil {
		t.Fatalf("RemoveEndpoint() error = %v", err)
	}

	pubs := broker.Published()
	last := pubs[len(pubs)-1]
	if last.Topic != "test/state/"+handle.ID+"/Brightness" || last.Payload != "" || !last.Retained {
		t.Errorf("last publish = %+v, want empty retained state", last)
	}
	if _, ok := h.FindEndpoint("drd3", hmip.ServiceLightbulb, ""); ok {
		t.Error("endpoint still registered")
	}
	if _, err := repo.Get(ctx, handle.ID); !errors.Is(err, ErrEndpointNotFound) {
		t.Errorf("repo.Get() error = %v, want ErrEndpointNotFound", err)
	}
	if err := h.RemoveEndpoint(ctx, handle); !errors.Is(err, ErrEndpointNotFound) {
		t.Errorf("second RemoveEndpoint() error = %v", err)
	}
}

func TestHost_BindCharacteristicErrors(t *testing.T) {
	h, _, _, _ := newTestHost(t)
	get := func() (any, error) { return true, nil }
	set := func(context.Context, any) error { return nil }

	if err := h.BindCharacteristic(nil, hmip.CharacteristicOn, get, set); !errors.Is(err, ErrInvalidEndpoint) {
		t.Errorf("nil handle error = %v", err)
	}
	ghost := &hmip.EndpointHandle{ID: "ghost"}
	if err := h.BindCharacteristic(ghost, hmip.CharacteristicOn, get, set); !errors.Is(err, ErrEndpointNotFound) {
		t.Errorf("unknown handle error = %v", err)
	}
}

func waitPublish(t *testing.T, broker *mockBroker, prefix string) published {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case p := <-broker.notify:
			if strings.HasPrefix(p.Topic, prefix) {
				return p
			}
		case <-deadline:
			t.Fatalf("no publish on %s", prefix)
		}
	}
}

func TestHost_MQTTRequests(t *testing.T) {
	h, broker, _, _ := newTestHost(t)
	ctx := context.Background()
	if err := h.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	ctrl := &fakeController{}
	if _, err := hmip.NewSwitchDRS8Single(ctx, hmip.Deps{Host: h, Controller: ctrl}, &hmip.Device{ID: "drs8", ModelType: hmip.ModelDRS8}, 4); err != nil {
		t.Fatalf("NewSwitchDRS8Single() error = %v", err)
	}
	ep := EndpointID("drs8-4", hmip.ServiceSwitch, "")
	topics := mqtt.NewTopics("test")

	broker.Deliver(t, topics.AllSets(), topics.Set(ep, "On"), `"on"`)
	ack := waitPublish(t, broker, topics.Ack(ep))
	if ack.Payload != `{"endpoint_id":"`+ep+`","characteristic":"On","status":"ok"}` {
		t.Errorf("ack = %s", ack.Payload)
	}
	calls := ctrl.Calls()
	if len(calls) != 1 || calls[0].ChannelIndex != 5 || !*calls[0].On {
		t.Errorf("calls = %+v", calls)
	}

	broker.Deliver(t, topics.AllSets(), topics.Set(ep, "Brightness"), `50`)
	ack = waitPublish(t, broker, topics.Ack(ep))
	if !strings.Contains(ack.Payload, `"status":"error"`) || !strings.Contains(ack.Payload, "not bound") {
		t.Errorf("ack = %s", ack.Payload)
	}

	broker.Deliver(t, topics.AllGets(), topics.Get(ep, "On"), ``)
	state := waitPublish(t, broker, topics.State(ep, "On"))
	if state.Payload != "false" || state.Retained {
		t.Errorf("get reply = %+v", state)
	}
}

func TestHost_MQTTSetsKeepDeliveryOrder(t *testing.T) {
	for i := 0; i < 20; i++ {
		h, broker, _, _ := newTestHost(t)
		ctx, cancel := context.WithCancel(context.Background())
		if err := h.Start(ctx); err != nil {
			cancel()
			t.Fatalf("Start() error = %v", err)
		}

		ctrl := &fakeController{slowFirst: 20 * time.Millisecond}
		if _, err := hmip.NewDimmerDRD3(ctx, hmip.Deps{Host: h, Controller: ctrl}, drd3Device("drd3", 0, 0, 0)); err != nil {
			cancel()
			t.Fatalf("NewDimmerDRD3() error = %v", err)
		}
		ep := EndpointID("drd3", hmip.ServiceLightbulb, "Channel0")
		topics := mqtt.NewTopics("test")

		broker.Deliver(t, topics.AllSets(), topics.Set(ep, "Brightness"), `100`)
		broker.Deliver(t, topics.AllSets(), topics.Set(ep, "Brightness"), `0`)
		waitPublish(t, broker, topics.Ack(ep))
		waitPublish(t, broker, topics.Ack(ep))
		cancel()

		calls := ctrl.Calls()
		if len(calls) != 2 {
			t.Fatalf("run %d: calls = %+v, want 2", i, calls)
		}
		if *calls[0].DimLevel != 1 || *calls[1].DimLevel != 0 {
			t.Fatalf("run %d: dim levels = [%v %v], want [1 0]", i, *calls[0].DimLevel, *calls[1].DimLevel)
		}
	}
}

func TestHost_StartTwice(t *testing.T) {
	h, _, _, _ := newTestHost(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := h.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := h.Start(ctx); err == nil {
		t.Error("second Start() expected error")
	}
}

func TestHost_MQTTRejectsForeignTopic(t *testing.T) {
	h, _, _, _ := newTestHost(t)
	if err := h.handleMessage("other/set/x/On", []byte("true")); err == nil {
		t.Error("handleMessage() expected error for foreign topic")
	}
}
