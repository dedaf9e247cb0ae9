package router

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dkrasnov/pinhub/internal/model"
	"github.com/dkrasnov/pinhub/internal/protocol"
	"github.com/dkrasnov/pinhub/internal/session"
)

// fakeConn collects messages sent to one connection.
type fakeConn struct {
	mu   sync.Mutex
	msgs []protocol.Message
}

func (c *fakeConn) Send(msg protocol.Message) bool {
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()
	return true
}

func (c *fakeConn) messages() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Message{}, c.msgs...)
}

func (c *fakeConn) messagesOfType(msgType string) []protocol.Message {
	var out []protocol.Message
	for _, m := range c.messages() {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

type fakeRules struct {
	mu     sync.Mutex
	calls  int
	panics bool
}

func (f *fakeRules) Process(user *model.User, sess *session.Session, dash *model.Dashboard,
	deviceID int, pin uint8, t model.PinType, value string, ts int64) {
	f.mu.Lock()
	f.calls++
	panics := f.panics
	f.mu.Unlock()
	if panics {
		panic("rule engine fault")
	}
}

func (f *fakeRules) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRecorder struct {
	mu     sync.Mutex
	writes []model.PinKey
}

func (f *fakeRecorder) RecordPinWrite(dashID, deviceID int, t model.PinType, pin uint8, value string, ts int64) {
	f.mu.Lock()
	f.writes = append(f.writes, model.PinKey{DeviceID: deviceID, Type: t, Pin: pin})
	f.mu.Unlock()
}

func (f *fakeRecorder) recordedDevices() map[int]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int]int)
	for _, k := range f.writes {
		out[k.DeviceID]++
	}
	return out
}

type fakeWebhooks struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeWebhooks) Process(sess *session.Session, dash *model.Dashboard,
	deviceID int, pin uint8, t model.PinType, value string, ts int64) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
}

func (f *fakeWebhooks) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type testEnv struct {
	disp   *Dispatcher
	user   *model.User
	dash   *model.Dashboard
	sess   *session.Session
	rules  *fakeRules
	hooks  *fakeWebhooks
	rec    *fakeRecorder
	origin *fakeConn
	viewer *fakeConn
	hw     map[int]*fakeConn
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dash := &model.Dashboard{
		ID:         7,
		Name:       "Home",
		IsActive:   true,
		ShareToken: "share-token",
		Devices:    []*model.Device{{ID: 1}, {ID: 10}, {ID: 11}, {ID: 12}},
		Tags: []*model.Tag{
			{ID: 3, Devices: []int{10, 11}},
			{ID: 4}, // no members
		},
		Widgets: []model.Widget{
			model.NewDeviceSelector(5, 10),
			&model.Button{ID: 6, DeviceID: 1, Type: model.PinVirtual, Pin: 2},
			&model.Gauge{ID: 8, DeviceID: 1, Type: model.PinVirtual, Pin: 3, Frequency: time.Second},
		},
	}
	user := &model.User{
		Email:   "owner@example.com",
		Profile: model.Profile{Dashboards: []*model.Dashboard{dash}},
	}

	reg := session.NewRegistry(zerolog.Nop())
	sess := reg.Get(user.Email)

	env := &testEnv{
		user:   user,
		dash:   dash,
		sess:   sess,
		rules:  &fakeRules{},
		hooks:  &fakeWebhooks{},
		rec:    &fakeRecorder{},
		origin: &fakeConn{},
		viewer: &fakeConn{},
		hw:     make(map[int]*fakeConn),
	}
	env.disp = New(zerolog.Nop(), reg, env.rules, env.hooks, env.rec)

	sess.RegisterViewer(dash.ShareToken, env.viewer)
	return env
}

func (e *testEnv) connectHardware(deviceIDs ...int) {
	for _, id := range deviceIDs {
		c := &fakeConn{}
		e.hw[id] = c
		e.sess.RegisterHardware(id, c)
	}
}

func (e *testEnv) dispatch(id int, body string) {
	e.disp.Dispatch(e.user, e.origin, protocol.Message{Type: protocol.TypeHardware, ID: id, Body: body})
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestDispatchTagWrite(t *testing.T) {
	env := newTestEnv(t)
	env.connectHardware(10, 11)

	raw := protocol.Join("7-3", "vw", "0", "255")
	env.dispatch(1, raw)

	// Pin state for both members and for the tag itself.
	for _, id := range []int{10, 11, 3} {
		v, ok := env.dash.PinState(id, model.PinVirtual, 0)
		if !ok || v.Value != "255" {
			t.Errorf("pin state for %d = %+v, ok=%v, want value 255", id, v, ok)
		}
		if v.UpdatedAt == 0 {
			t.Errorf("pin state for %d has no timestamp", id)
		}
	}

	// Both device connections receive the forwarded write.
	wantBody := protocol.Join("vw", "0", "255")
	for _, id := range []int{10, 11} {
		msgs := env.hw[id].messagesOfType(protocol.TypeHardware)
		if len(msgs) != 1 || msgs[0].Body != wantBody {
			t.Errorf("hardware %d got %+v, want one hw message with body %q", id, msgs, wantBody)
		}
	}

	// Viewers see the original command mirrored with the address field, so
	// they can route the write to the right dashboard and target.
	syncs := env.viewer.messagesOfType(protocol.TypeAppSync)
	if len(syncs) != 1 {
		t.Fatalf("viewer got %d sync messages, want 1", len(syncs))
	}
	if syncs[0].Body != raw {
		t.Errorf("mirror body = %q, want the full command %q", syncs[0].Body, raw)
	}

	// Every applied write lands in the audit trail: both members and the
	// tag's own snapshot.
	recorded := env.rec.recordedDevices()
	for _, id := range []int{10, 11, 3} {
		if recorded[id] != 1 {
			t.Errorf("recorded %d writes for %d, want 1", recorded[id], id)
		}
	}

	// Delivery succeeded, so no response goes back to the app.
	if msgs := env.origin.messages(); len(msgs) != 0 {
		t.Errorf("origin got %+v, want no response", msgs)
	}

	// Side effects run once per command.
	waitFor(t, time.Second, func() bool {
		return env.rules.count() == 1 && env.hooks.count() == 1
	})
}

func TestDispatchUnassignedTargetDropped(t *testing.T) {
	env := newTestEnv(t)
	env.connectHardware(10)

	env.dispatch(2, protocol.Join("7-99", "vw", "0", "1"))

	time.Sleep(50 * time.Millisecond)
	if msgs := env.origin.messages(); len(msgs) != 0 {
		t.Errorf("origin got %+v, want no response", msgs)
	}
	if _, ok := env.dash.PinState(99, model.PinVirtual, 0); ok {
		t.Error("pin state was written for unassigned target")
	}
	if env.rules.count() != 0 || env.hooks.count() != 0 {
		t.Error("side effects triggered for dropped command")
	}
}

func TestDispatchEmptyTagDropped(t *testing.T) {
	env := newTestEnv(t)

	env.dispatch(3, protocol.Join("7-4", "vw", "0", "1"))

	time.Sleep(50 * time.Millisecond)
	if msgs := env.origin.messages(); len(msgs) != 0 {
		t.Errorf("origin got %+v, want no response", msgs)
	}
	if env.rules.count() != 0 {
		t.Error("side effects triggered for empty target")
	}
}

func TestDispatchInactiveDashboardDropped(t *testing.T) {
	env := newTestEnv(t)
	env.dash.IsActive = false

	env.dispatch(4, protocol.Join("7-10", "vw", "0", "1"))

	if msgs := env.origin.messages(); len(msgs) != 0 {
		t.Errorf("origin got %+v, want no response", msgs)
	}
	if _, ok := env.dash.PinState(10, model.PinVirtual, 0); ok {
		t.Error("pin state was written against inactive dashboard")
	}
}

func TestDispatchDeviceNotInNetwork(t *testing.T) {
	env := newTestEnv(t)
	// No hardware connected.

	env.dispatch(5, protocol.Join("7-10", "vw", "2", "42"))

	msgs := env.origin.messagesOfType(protocol.TypeDeviceNotInNetwork)
	if len(msgs) != 1 || msgs[0].ID != 5 {
		t.Fatalf("origin got %+v, want one device_not_in_network with id 5", env.origin.messages())
	}

	// State is authoritative even with hardware unreachable.
	if v, ok := env.dash.PinState(10, model.PinVirtual, 2); !ok || v.Value != "42" {
		t.Errorf("pin state = %+v, ok=%v, want 42", v, ok)
	}

	// Side effects still run.
	waitFor(t, time.Second, func() bool {
		return env.rules.count() == 1 && env.hooks.count() == 1
	})
}

func TestDispatchWriteTimestampMonotonic(t *testing.T) {
	env := newTestEnv(t)
	env.connectHardware(10)

	env.dispatch(6, protocol.Join("7-10", "vw", "0", "1"))
	first, _ := env.dash.PinState(10, model.PinVirtual, 0)

	env.dispatch(7, protocol.Join("7-10", "vw", "0", "2"))
	second, _ := env.dash.PinState(10, model.PinVirtual, 0)

	if second.Value != "2" {
		t.Errorf("value = %q, want 2", second.Value)
	}
	if second.UpdatedAt < first.UpdatedAt {
		t.Errorf("timestamp went backwards: %d < %d", second.UpdatedAt, first.UpdatedAt)
	}
}

func TestDispatchSelectorUpdate(t *testing.T) {
	env := newTestEnv(t)
	// Give device 12 some recorded state for the sync push.
	env.dash.UpdatePin(12, model.PinVirtual, 1, "7", 100)

	env.dispatch(8, protocol.Join("7-5", "vu", "5", "12"))

	sel, _ := env.dash.Widget(5)
	if got := sel.(*model.DeviceSelector).Selected(); got != 12 {
		t.Errorf("selected = %d, want 12", got)
	}

	if msgs := env.origin.messagesOfType(protocol.TypeOK); len(msgs) != 1 || msgs[0].ID != 8 {
		t.Errorf("origin got %+v, want one ok with id 8", env.origin.messages())
	}

	syncs := env.viewer.messagesOfType(protocol.TypeAppSync)
	if len(syncs) != 1 {
		t.Fatalf("viewer got %d syncs, want 1", len(syncs))
	}
	wantBody := protocol.SyncBody(7, 12, byte(model.PinVirtual), 1, "7")
	if syncs[0].Body != wantBody {
		t.Errorf("sync body = %q, want %q", syncs[0].Body, wantBody)
	}

	// Selector mutation never touches pin state.
	if _, ok := env.dash.PinState(5, model.PinVirtual, 1); ok {
		t.Error("selector update wrote pin state")
	}
}

func TestDispatchSelectorUpdateOnNonSelectorIgnored(t *testing.T) {
	env := newTestEnv(t)

	env.dispatch(9, protocol.Join("7-5", "vu", "6", "12")) // widget 6 is a button

	if msgs := env.origin.messages(); len(msgs) != 0 {
		t.Errorf("origin got %+v, want no response", msgs)
	}
}

func TestDispatchMalformedCommands(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name string
		body string
	}{
		{"bad address", protocol.Join("abc", "vw", "0", "1")},
		{"missing body", "7-10"},
		{"short write", protocol.Join("7-10", "vw", "0")},
		{"bad pin", protocol.Join("7-10", "vw", "nope", "1")},
		{"bad pin type", protocol.Join("7-10", "xw", "0", "1")},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := len(env.origin.messagesOfType(protocol.TypeIllegalCommandBody))
			env.dispatch(100+i, tc.body)
			after := len(env.origin.messagesOfType(protocol.TypeIllegalCommandBody))
			if after != before+1 {
				t.Errorf("want one illegal_command_body response for %q", tc.body)
			}
		})
	}
}

func TestDispatchUnknownOperationIgnored(t *testing.T) {
	env := newTestEnv(t)
	env.connectHardware(10)

	env.dispatch(10, protocol.Join("7-10", "vz", "0", "1"))

	if msgs := env.origin.messages(); len(msgs) != 0 {
		t.Errorf("origin got %+v, want no response", msgs)
	}
	if msgs := env.hw[10].messages(); len(msgs) != 0 {
		t.Errorf("hardware got %+v, want nothing", msgs)
	}
}

func TestDispatchRuleFaultDoesNotBlockWebhook(t *testing.T) {
	env := newTestEnv(t)
	env.connectHardware(10)
	env.rules.panics = true

	env.dispatch(11, protocol.Join("7-10", "vw", "0", "1"))

	waitFor(t, time.Second, func() bool {
		return env.rules.count() == 1 && env.hooks.count() == 1
	})
}

func TestDispatchReadForwarded(t *testing.T) {
	env := newTestEnv(t)
	env.connectHardware(1)

	env.dispatch(12, protocol.Join("7-1", "vr", "2")) // button pin

	msgs := env.hw[1].messagesOfType(protocol.TypeHardware)
	if len(msgs) != 1 || msgs[0].Body != protocol.Join("vr", "2") {
		t.Errorf("hardware got %+v, want forwarded read", msgs)
	}
}

func TestDispatchReadPollingWidgetNotForwarded(t *testing.T) {
	env := newTestEnv(t)
	env.connectHardware(1)

	env.dispatch(13, protocol.Join("7-1", "vr", "3")) // gauge pin

	if msgs := env.hw[1].messages(); len(msgs) != 0 {
		t.Errorf("hardware got %+v, want nothing for polling widget pin", msgs)
	}
	if msgs := env.origin.messages(); len(msgs) != 0 {
		t.Errorf("origin got %+v, want no response", msgs)
	}
}

func TestDispatchReadUnknownPin(t *testing.T) {
	env := newTestEnv(t)
	env.connectHardware(1)

	env.dispatch(14, protocol.Join("7-1", "vr", "9"))

	if msgs := env.origin.messagesOfType(protocol.TypeIllegalCommandBody); len(msgs) != 1 {
		t.Errorf("origin got %+v, want illegal_command_body", env.origin.messages())
	}
}

func TestDispatchReadDeviceNotInNetwork(t *testing.T) {
	env := newTestEnv(t)
	// Button pin exists but device 1 has no connection.

	env.dispatch(15, protocol.Join("7-1", "vr", "2"))

	if msgs := env.origin.messagesOfType(protocol.TypeDeviceNotInNetwork); len(msgs) != 1 {
		t.Errorf("origin got %+v, want device_not_in_network", env.origin.messages())
	}
}
