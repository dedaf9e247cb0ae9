package model

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func testDashboard() *Dashboard {
	return &Dashboard{
		ID:       7,
		IsActive: true,
		Devices:  []*Device{{ID: 1}, {ID: 10}, {ID: 11}},
		Tags:     []*Tag{{ID: 3, Devices: []int{10, 11}}},
		Widgets: []Widget{
			NewDeviceSelector(5, 10),
			&Button{ID: 6, DeviceID: 1, Type: PinVirtual, Pin: 2},
			&Gauge{ID: 8, DeviceID: 1, Type: PinVirtual, Pin: 3, Frequency: time.Second},
		},
	}
}

func TestTargetResolution(t *testing.T) {
	d := testDashboard()

	cases := []struct {
		targetID int
		kind     TargetKind
		devices  []int
	}{
		{1, TargetDevice, []int{1}},
		{3, TargetTag, []int{10, 11}},
		{5, TargetSelector, []int{10}},
	}
	for _, tc := range cases {
		target := d.Target(tc.targetID)
		if target == nil {
			t.Fatalf("Target(%d) = nil", tc.targetID)
		}
		if target.Kind() != tc.kind {
			t.Errorf("Target(%d).Kind() = %v, want %v", tc.targetID, target.Kind(), tc.kind)
		}
		got := target.DeviceIDs()
		if len(got) != len(tc.devices) {
			t.Errorf("Target(%d).DeviceIDs() = %v, want %v", tc.targetID, got, tc.devices)
			continue
		}
		for i := range got {
			if got[i] != tc.devices[i] {
				t.Errorf("Target(%d).DeviceIDs() = %v, want %v", tc.targetID, got, tc.devices)
			}
		}
	}

	if target := d.Target(99); target != nil {
		t.Errorf("Target(99) = %v, want nil", target)
	}
}

func TestSelectorRetargets(t *testing.T) {
	d := testDashboard()
	target := d.Target(5)

	sel := target.(*DeviceSelector)
	sel.Select(11)

	if got := target.DeviceIDs(); len(got) != 1 || got[0] != 11 {
		t.Errorf("DeviceIDs after Select = %v, want [11]", got)
	}
}

func TestWidgetLookup(t *testing.T) {
	d := testDashboard()

	w, err := d.Widget(6)
	if err != nil || w.WidgetKind() != WidgetButton {
		t.Errorf("Widget(6) = %v, %v", w, err)
	}

	if _, err := d.Widget(99); !errors.Is(err, ErrWidgetNotFound) {
		t.Errorf("Widget(99) error = %v, want ErrWidgetNotFound", err)
	}
}

func TestWidgetByPin(t *testing.T) {
	d := testDashboard()

	if w := d.WidgetByPin(1, PinVirtual, 2); w == nil || w.WidgetID() != 6 {
		t.Errorf("WidgetByPin(1, v, 2) = %v, want button 6", w)
	}
	if w := d.WidgetByPin(1, PinVirtual, 3); w == nil || w.WidgetID() != 8 {
		t.Errorf("WidgetByPin(1, v, 3) = %v, want gauge 8", w)
	}
	if _, polling := d.WidgetByPin(1, PinVirtual, 3).(PollingWidget); !polling {
		t.Error("gauge should be a polling widget")
	}
	if w := d.WidgetByPin(1, PinDigital, 2); w != nil {
		t.Errorf("WidgetByPin(1, d, 2) = %v, want nil", w)
	}
}

func TestPinStoreLastWriteWins(t *testing.T) {
	d := testDashboard()

	d.UpdatePin(10, PinVirtual, 0, "1", 100)
	d.UpdatePin(10, PinVirtual, 0, "2", 200)

	v, ok := d.PinState(10, PinVirtual, 0)
	if !ok || v.Value != "2" || v.UpdatedAt != 200 {
		t.Errorf("PinState = %+v, ok=%v", v, ok)
	}
}

func TestPinStoreConcurrentWriters(t *testing.T) {
	d := testDashboard()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for p := uint8(0); p < 32; p++ {
				d.UpdatePin(n%4, PinVirtual, p, "x", int64(n))
			}
		}(i)
	}
	wg.Wait()

	for dev := 0; dev < 4; dev++ {
		if got := len(d.DevicePinStates(dev)); got != 32 {
			t.Errorf("device %d has %d pin states, want 32", dev, got)
		}
	}
}

func TestParsePinType(t *testing.T) {
	for _, c := range []byte{'v', 'd', 'a'} {
		if _, err := ParsePinType(c); err != nil {
			t.Errorf("ParsePinType(%q) error: %v", c, err)
		}
	}
	if _, err := ParsePinType('x'); err == nil {
		t.Error("ParsePinType('x') should fail")
	}
}

func TestPinTypeJSON(t *testing.T) {
	var pt PinType
	if err := pt.UnmarshalJSON([]byte(`"d"`)); err != nil || pt != PinDigital {
		t.Errorf("UnmarshalJSON = %v, %v", pt, err)
	}
	if err := pt.UnmarshalJSON([]byte(`"zz"`)); err == nil {
		t.Error("UnmarshalJSON should reject multi-character codes")
	}
	data, err := PinAnalog.MarshalJSON()
	if err != nil || string(data) != `"a"` {
		t.Errorf("MarshalJSON = %s, %v", data, err)
	}
}

func TestProfileDashboardLookup(t *testing.T) {
	u := &User{Email: "a@b.c", Profile: Profile{Dashboards: []*Dashboard{testDashboard()}}}

	if _, err := u.Profile.Dashboard(7); err != nil {
		t.Errorf("Dashboard(7) error: %v", err)
	}
	if _, err := u.Profile.Dashboard(8); !errors.Is(err, ErrDashboardNotFound) {
		t.Errorf("Dashboard(8) error = %v, want ErrDashboardNotFound", err)
	}
}

func TestConditionMatches(t *testing.T) {
	cases := []struct {
		cond      Condition
		value     float64
		threshold float64
		want      bool
	}{
		{CondGT, 2, 1, true},
		{CondGT, 1, 1, false},
		{CondGTE, 1, 1, true},
		{CondLT, 0, 1, true},
		{CondLTE, 1, 1, true},
		{CondEQ, 5, 5, true},
		{CondEQ, 5, 6, false},
		{CondNEQ, 5, 6, true},
		{Condition("??"), 5, 5, false},
	}
	for _, tc := range cases {
		if got := tc.cond.Matches(tc.value, tc.threshold); got != tc.want {
			t.Errorf("%q.Matches(%v, %v) = %v, want %v", tc.cond, tc.value, tc.threshold, got, tc.want)
		}
	}
}
