package hmip

import (
	"context"
	"errors"
	"testing"
)

func newTestDimmer(t *testing.T, levels map[int]*float64) (*DimmerDRD3, *MockHost, *MockController) {
	t.Helper()
	deps, host, ctrl := newDeps()
	d, err := NewDimmerDRD3(context.Background(), deps, dimmerDevice("3014F711A0000000000DRD3", levels))
	if err != nil {
		t.Fatalf("NewDimmerDRD3() error = %v", err)
	}
	host.Pushes()
	return d, host, ctrl
}

func slotHandle(t *testing.T, host *MockHost, d *DimmerDRD3, k int) *EndpointHandle {
	t.Helper()
	h := host.Handle(d.AccessoryID(), ServiceLightbulb, "Channel"+string(rune('0'+k)))
	if h == nil {
		t.Fatalf("no endpoint for slot %d", k)
	}
	return h
}

func TestNewDimmerDRD3_RegistersThreeEndpoints(t *testing.T) {
	d, host, _ := newTestDimmer(t, nil)

	if host.EndpointCount() != 3 {
		t.Fatalf("EndpointCount() = %d, want 3", host.EndpointCount())
	}
	for k := 0; k < 3; k++ {
		h := slotHandle(t, host, d, k)
		if h.Name != "Dimmer 3014F711A0000000000DRD3" {
			t.Errorf("slot %d name = %q", k, h.Name)
		}
		if h.AccessoryID != d.DeviceID() {
			t.Errorf("slot %d accessory = %q, want device id", k, h.AccessoryID)
		}
	}
}

func TestNewDimmerDRD3_NilDevice(t *testing.T) {
	deps, _, _ := newDeps()
	if _, err := NewDimmerDRD3(context.Background(), deps, nil); !errors.Is(err, ErrNilDevice) {
		t.Errorf("error = %v, want ErrNilDevice", err)
	}
}

func TestNewDimmerDRD3_RemovesLegacyLightbulb(t *testing.T) {
	deps, host, _ := newDeps()
	legacy := host.Preload("dev-1", ServiceLightbulb, "")

	if _, err := NewDimmerDRD3(context.Background(), deps, dimmerDevice("dev-1", nil)); err != nil {
		t.Fatalf("NewDimmerDRD3() error = %v", err)
	}

	removed := host.Removed()
	if len(removed) != 1 || removed[0] != legacy.ID {
		t.Errorf("Removed() = %v, want [%s]", removed, legacy.ID)
	}
	if _, ok := host.FindEndpoint("dev-1", ServiceLightbulb, ""); ok {
		t.Error("legacy endpoint still registered")
	}
	if host.EndpointCount() != 3 {
		t.Errorf("EndpointCount() = %d, want 3", host.EndpointCount())
	}
}

func TestNewDimmerDRD3_PrimesFromSnapshot(t *testing.T) {
	deps, host, _ := newDeps()
	d, err := NewDimmerDRD3(context.Background(), deps, dimmerDevice("dev-1", map[int]*float64{
		1: ptr(0.25), 2: ptr(0.0), 3: ptr(1.0),
	}))
	if err != nil {
		t.Fatalf("NewDimmerDRD3() error = %v", err)
	}

	want := []int{25, 0, 100}
	for k, w := range want {
		if got := d.Brightness(k); got != w {
			t.Errorf("Brightness(%d) = %d, want %d", k, got, w)
		}
	}
	// 25 and 100 each push On(true) and Brightness.
	if got := len(host.Pushes()); got != 4 {
		t.Errorf("pushes after priming = %d, want 4", got)
	}
}

func TestDimmerDRD3_EndToEnd(t *testing.T) {
	d, host, _ := newTestDimmer(t, nil)
	h1 := slotHandle(t, host, d, 1)

	// Channel index 2 lands in slot 1 and turns it on.
	d.UpdateDevice(dimmerDevice(d.DeviceID(), map[int]*float64{2: ptr(0.6)}), nil)
	if d.Brightness(1) != 60 {
		t.Fatalf("Brightness(1) = %d, want 60", d.Brightness(1))
	}
	pushes := host.Pushes()
	want := []pushRecord{
		{h1.ID, CharacteristicOn, true},
		{h1.ID, CharacteristicBrightness, 60},
	}
	assertPushes(t, pushes, want)

	// Same snapshot again is silent.
	d.UpdateDevice(dimmerDevice(d.DeviceID(), map[int]*float64{2: ptr(0.6)}), nil)
	if pushes := host.Pushes(); len(pushes) != 0 {
		t.Fatalf("repeated snapshot pushed %v", pushes)
	}

	// Dimming to zero turns it off.
	d.UpdateDevice(dimmerDevice(d.DeviceID(), map[int]*float64{2: ptr(0.0)}), nil)
	assertPushes(t, host.Pushes(), []pushRecord{
		{h1.ID, CharacteristicOn, false},
		{h1.ID, CharacteristicBrightness, 0},
	})
	if d.Brightness(1) != 0 {
		t.Errorf("Brightness(1) = %d, want 0", d.Brightness(1))
	}
}

func TestDimmerDRD3_BrightnessChangeWithoutOnSignal(t *testing.T) {
	d, host, _ := newTestDimmer(t, map[int]*float64{1: ptr(0.4)})
	h0 := slotHandle(t, host, d, 0)

	d.UpdateDevice(dimmerDevice(d.DeviceID(), map[int]*float64{1: ptr(0.6)}), nil)

	assertPushes(t, host.Pushes(), []pushRecord{{h0.ID, CharacteristicBrightness, 60}})
}

func TestDimmerDRD3_RoundingAndClamping(t *testing.T) {
	tests := []struct {
		level float64
		want  int
	}{
		{0.004, 0},
		{0.005, 1},
		{0.333, 33},
		{0.666, 67},
		{1.0, 100},
		{1.2, 100},
		{-0.1, 0},
	}
	for _, tt := range tests {
		if got := brightnessFromDimLevel(tt.level); got != tt.want {
			t.Errorf("brightnessFromDimLevel(%v) = %d, want %d", tt.level, got, tt.want)
		}
	}
}

func TestDimmerDRD3_NullDimLevelIsIgnored(t *testing.T) {
	d, host, _ := newTestDimmer(t, map[int]*float64{3: ptr(0.5)})

	d.UpdateDevice(dimmerDevice(d.DeviceID(), map[int]*float64{3: nil}), nil)

	if d.Brightness(2) != 50 {
		t.Errorf("Brightness(2) = %d, want 50", d.Brightness(2))
	}
	if pushes := host.Pushes(); len(pushes) != 0 {
		t.Errorf("null dimLevel pushed %v", pushes)
	}
}

func TestDimmerDRD3_IgnoresOutOfRangeAndForeignRecords(t *testing.T) {
	d, host, _ := newTestDimmer(t, nil)

	dev := dimmerDevice(d.DeviceID(), map[int]*float64{4: ptr(0.5)})
	dev.Channels["9"] = &SwitchChannel{Index: 1, On: ptr(true)}
	dev.Channels["10"] = &OtherChannel{Index: 2, RawType: "ACCESS_CONTROLLER_WIRED_CHANNEL"}
	d.UpdateDevice(dev, nil)

	if pushes := host.Pushes(); len(pushes) != 0 {
		t.Errorf("unexpected pushes %v", pushes)
	}
	for k := 0; k < 3; k++ {
		if d.Brightness(k) != 0 {
			t.Errorf("Brightness(%d) = %d, want 0", k, d.Brightness(k))
		}
	}
}

func TestDimmerDRD3_IgnoresOtherDevice(t *testing.T) {
	d, host, _ := newTestDimmer(t, nil)

	d.UpdateDevice(dimmerDevice("someone-else", map[int]*float64{1: ptr(1.0)}), nil)
	d.UpdateDevice(nil, nil)

	if d.Brightness(0) != 0 {
		t.Errorf("Brightness(0) = %d, want 0", d.Brightness(0))
	}
	if pushes := host.Pushes(); len(pushes) != 0 {
		t.Errorf("unexpected pushes %v", pushes)
	}
}

func TestDimmerDRD3_Get(t *testing.T) {
	d, host, _ := newTestDimmer(t, map[int]*float64{1: ptr(0.35)})
	h0 := slotHandle(t, host, d, 0)
	h2 := slotHandle(t, host, d, 2)

	tests := []struct {
		handle *EndpointHandle
		kind   Characteristic
		want   any
	}{
		{h0, CharacteristicOn, true},
		{h0, CharacteristicBrightness, 35},
		{h2, CharacteristicOn, false},
		{h2, CharacteristicBrightness, 0},
	}
	for _, tt := range tests {
		got, err := host.Get(tt.handle, tt.kind)
		if err != nil {
			t.Fatalf("Get(%s, %s) error = %v", tt.handle.SubID, tt.kind, err)
		}
		if got != tt.want {
			t.Errorf("Get(%s, %s) = %v, want %v", tt.handle.SubID, tt.kind, got, tt.want)
		}
	}
}

func TestDimmerDRD3_SetOn(t *testing.T) {
	tests := []struct {
		name      string
		level     *float64
		on        bool
		wantCalls int
		wantLevel float64
	}{
		{name: "on while already on is a no-op", level: ptr(0.35), on: true, wantCalls: 0},
		{name: "on while off sends full brightness", level: ptr(0.0), on: true, wantCalls: 1, wantLevel: 1.0},
		{name: "off sends zero", level: ptr(0.35), on: false, wantCalls: 1, wantLevel: 0.0},
		{name: "off while off still sends zero", level: ptr(0.0), on: false, wantCalls: 1, wantLevel: 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, host, ctrl := newTestDimmer(t, map[int]*float64{2: tt.level})
			h1 := slotHandle(t, host, d, 1)
			before := d.Brightness(1)

			if err := host.Set(context.Background(), h1, CharacteristicOn, tt.on); err != nil {
				t.Fatalf("Set(On) error = %v", err)
			}

			calls := ctrl.Calls()
			if len(calls) != tt.wantCalls {
				t.Fatalf("control calls = %d, want %d", len(calls), tt.wantCalls)
			}
			if tt.wantCalls == 1 {
				c := calls[0]
				if c.Route != RouteSetDimLevel {
					t.Errorf("route = %q", c.Route)
				}
				if c.Req.ChannelIndex != 2 {
					t.Errorf("ChannelIndex = %d, want 2", c.Req.ChannelIndex)
				}
				if c.Req.DimLevel == nil || *c.Req.DimLevel != tt.wantLevel {
					t.Errorf("DimLevel = %v, want %v", c.Req.DimLevel, tt.wantLevel)
				}
				if c.Req.On != nil {
					t.Errorf("On = %v, want omitted", *c.Req.On)
				}
			}
			if d.Brightness(1) != before {
				t.Errorf("cache changed by set: %d -> %d", before, d.Brightness(1))
			}
			if pushes := host.Pushes(); len(pushes) != 0 {
				t.Errorf("set pushed %v", pushes)
			}
		})
	}
}

func TestDimmerDRD3_SetBrightnessIsUnconditional(t *testing.T) {
	d, host, ctrl := newTestDimmer(t, map[int]*float64{3: ptr(0.5)})
	h2 := slotHandle(t, host, d, 2)

	for _, p := range []int{50, 50, 0, 100} {
		if err := host.Set(context.Background(), h2, CharacteristicBrightness, p); err != nil {
			t.Fatalf("Set(Brightness, %d) error = %v", p, err)
		}
	}

	calls := ctrl.Calls()
	if len(calls) != 4 {
		t.Fatalf("control calls = %d, want 4", len(calls))
	}
	wantLevels := []float64{0.5, 0.5, 0, 1}
	for i, c := range calls {
		if c.Req.DeviceID != d.DeviceID() || c.Req.ChannelIndex != 3 {
			t.Errorf("call %d = %+v", i, c.Req)
		}
		if *c.Req.DimLevel != wantLevels[i] {
			t.Errorf("call %d DimLevel = %v, want %v", i, *c.Req.DimLevel, wantLevels[i])
		}
	}
	if d.Brightness(2) != 50 {
		t.Errorf("Brightness(2) = %d, want 50", d.Brightness(2))
	}
}

func TestDimmerDRD3_SetRejectsInvalidValues(t *testing.T) {
	d, host, ctrl := newTestDimmer(t, nil)
	h0 := slotHandle(t, host, d, 0)

	tests := []struct {
		name  string
		kind  Characteristic
		value any
	}{
		{"on as string", CharacteristicOn, "true"},
		{"brightness as float", CharacteristicBrightness, 0.5},
		{"brightness above range", CharacteristicBrightness, 101},
		{"brightness below range", CharacteristicBrightness, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := host.Set(context.Background(), h0, tt.kind, tt.value)
			if !errors.Is(err, ErrInvalidValue) {
				t.Errorf("error = %v, want ErrInvalidValue", err)
			}
		})
	}
	if len(ctrl.Calls()) != 0 {
		t.Errorf("invalid values reached the controller: %v", ctrl.Calls())
	}
}

func TestDimmerDRD3_ControlFailure(t *testing.T) {
	d, host, ctrl := newTestDimmer(t, map[int]*float64{1: ptr(0.2)})
	h0 := slotHandle(t, host, d, 0)
	cause := errors.New("503 from cloud")
	ctrl.SetError(cause)

	err := host.Set(context.Background(), h0, CharacteristicBrightness, 80)
	if !errors.Is(err, ErrControlFailed) {
		t.Errorf("error = %v, want ErrControlFailed", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("error = %v, want cause preserved", err)
	}
	if d.Brightness(0) != 20 {
		t.Errorf("Brightness(0) = %d, want 20 after failed set", d.Brightness(0))
	}
}

func TestDimmerDRD3_FailedEndpointStaysInert(t *testing.T) {
	deps, host, _ := newDeps()
	host.FailCreate("Channel1")

	d, err := NewDimmerDRD3(context.Background(), deps, dimmerDevice("dev-1", nil))
	if err != nil {
		t.Fatalf("NewDimmerDRD3() error = %v", err)
	}
	if host.EndpointCount() != 2 {
		t.Fatalf("EndpointCount() = %d, want 2", host.EndpointCount())
	}
	if !deps.Logger.(*MockLogger).Has("error: failed to create endpoint") {
		t.Error("expected endpoint failure to be logged")
	}

	d.UpdateDevice(dimmerDevice("dev-1", map[int]*float64{1: ptr(0.1), 2: ptr(0.9)}), nil)

	if d.Brightness(1) != 90 {
		t.Errorf("inert slot cache = %d, want 90", d.Brightness(1))
	}
	h0 := slotHandle(t, host, d, 0)
	for _, p := range host.Pushes() {
		if p.EndpointID != h0.ID {
			t.Errorf("push to unexpected endpoint %s", p.EndpointID)
		}
	}
}

func TestDimmerDRD3_Reachability(t *testing.T) {
	d, _, _ := newTestDimmer(t, nil)

	if reachable, known := d.Reachable(); !known || !reachable {
		t.Errorf("Reachable() = %v, %v, want true, true", reachable, known)
	}

	dev := dimmerDevice(d.DeviceID(), nil)
	dev.Channels["0"] = &BaseChannel{Index: 0, Unreach: ptr(true)}
	d.UpdateDevice(dev, nil)

	if reachable, known := d.Reachable(); !known || reachable {
		t.Errorf("Reachable() = %v, %v, want false, true", reachable, known)
	}
}

func TestNewDimmerDRD3Single(t *testing.T) {
	deps, host, _ := newDeps()
	dev := dimmerDevice("dev-1", map[int]*float64{1: ptr(0.1), 2: ptr(0.2), 3: ptr(0.3)})

	d, err := NewDimmerDRD3Single(context.Background(), deps, dev, 1)
	if err != nil {
		t.Fatalf("NewDimmerDRD3Single() error = %v", err)
	}

	if d.AccessoryID() != "dev-1-1" {
		t.Errorf("AccessoryID() = %q, want dev-1-1", d.AccessoryID())
	}
	h := host.Handle("dev-1-1", ServiceLightbulb, "")
	if h == nil {
		t.Fatal("no endpoint registered")
	}
	if h.Name != "Dimmer dev-1 1" {
		t.Errorf("Name = %q", h.Name)
	}
	if d.Brightness() != 20 {
		t.Errorf("Brightness() = %d, want 20", d.Brightness())
	}
	if d.ChannelIndex() != 1 {
		t.Errorf("ChannelIndex() = %d", d.ChannelIndex())
	}
}

func TestNewDimmerDRD3Single_InvalidIndex(t *testing.T) {
	deps, _, _ := newDeps()
	for _, idx := range []int{-1, 3} {
		_, err := NewDimmerDRD3Single(context.Background(), deps, dimmerDevice("dev-1", nil), idx)
		if !errors.Is(err, ErrInvalidChannelIndex) {
			t.Errorf("index %d: error = %v, want ErrInvalidChannelIndex", idx, err)
		}
	}
}

func TestDimmerDRD3Single_FiltersOtherChannels(t *testing.T) {
	deps, host, ctrl := newDeps()
	d, err := NewDimmerDRD3Single(context.Background(), deps, dimmerDevice("dev-1", nil), 2)
	if err != nil {
		t.Fatalf("NewDimmerDRD3Single() error = %v", err)
	}
	h := host.Handle("dev-1-2", ServiceLightbulb, "")
	host.Pushes()

	d.UpdateDevice(dimmerDevice("dev-1", map[int]*float64{1: ptr(1.0), 2: ptr(1.0)}), nil)
	if pushes := host.Pushes(); len(pushes) != 0 {
		t.Fatalf("other channels pushed %v", pushes)
	}

	d.UpdateDevice(dimmerDevice("dev-1", map[int]*float64{3: ptr(0.7)}), nil)
	assertPushes(t, host.Pushes(), []pushRecord{
		{h.ID, CharacteristicOn, true},
		{h.ID, CharacteristicBrightness, 70},
	})

	if err := host.Set(context.Background(), h, CharacteristicOn, false); err != nil {
		t.Fatalf("Set(On) error = %v", err)
	}
	calls := ctrl.Calls()
	if len(calls) != 1 || calls[0].Req.ChannelIndex != 3 || *calls[0].Req.DimLevel != 0 {
		t.Errorf("calls = %+v", calls)
	}
}

func assertPushes(t *testing.T, got, want []pushRecord) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("pushes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("push %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}
