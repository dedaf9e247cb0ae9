// Package router implements the command dispatch pipeline: wire-command
// parsing, target resolution, state synchronization, fan-out delivery and
// side-effect orchestration.
package router

import (
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/dkrasnov/pinhub/internal/model"
	"github.com/dkrasnov/pinhub/internal/protocol"
	"github.com/dkrasnov/pinhub/internal/session"
)

// RuleProcessor evaluates dashboard rules against an applied pin write.
type RuleProcessor interface {
	Process(user *model.User, sess *session.Session, dash *model.Dashboard,
		deviceID int, pin uint8, t model.PinType, value string, ts int64)
}

// WebhookProcessor delivers webhook notifications for an applied pin write.
type WebhookProcessor interface {
	Process(sess *session.Session, dash *model.Dashboard,
		deviceID int, pin uint8, t model.PinType, value string, ts int64)
}

// EventRecorder persists the dispatch audit trail, best effort.
type EventRecorder interface {
	RecordPinWrite(dashID, deviceID int, t model.PinType, pin uint8, value string, ts int64)
}

// Dispatcher routes hardware commands issued by app connections. One
// Dispatch call runs per inbound message; many run concurrently for the
// same dashboard on different connections.
type Dispatcher struct {
	log      zerolog.Logger
	sessions *session.Registry
	rules    RuleProcessor
	webhooks WebhookProcessor
	events   EventRecorder // may be nil

	now func() time.Time
}

// New creates a dispatcher. events may be nil.
func New(log zerolog.Logger, sessions *session.Registry, rules RuleProcessor,
	webhooks WebhookProcessor, events EventRecorder) *Dispatcher {

	return &Dispatcher{
		log:      log.With().Str("component", "dispatcher").Logger(),
		sessions: sessions,
		rules:    rules,
		webhooks: webhooks,
		events:   events,
		now:      time.Now,
	}
}

// Dispatch processes one inbound hardware command from an app connection.
// Each message is processed at most once; there is no retry state.
func (d *Dispatcher) Dispatch(user *model.User, origin session.Conn, msg protocol.Message) {
	sess := d.sessions.Get(user.Email)

	env, err := Parse(msg.Body)
	if err != nil {
		d.log.Debug().Err(err).Msg("malformed command")
		origin.Send(protocol.IllegalCommandBody(msg.ID))
		return
	}

	dash, err := user.Profile.Dashboard(env.DashID)
	if err != nil {
		d.log.Debug().Int("dash", env.DashID).Msg("unknown dashboard")
		origin.Send(protocol.IllegalCommandBody(msg.ID))
		return
	}

	// Commands against an inactive dashboard can only come from an app bug;
	// drop them without a response.
	if !dash.IsActive {
		return
	}

	target := dash.Target(env.TargetID)
	if target == nil {
		d.log.Debug().Int("dash", env.DashID).Int("target", env.TargetID).Msg("no assigned target for command")
		return
	}

	deviceIDs := target.DeviceIDs()
	if len(deviceIDs) == 0 {
		d.log.Debug().Int("dash", env.DashID).Int("target", env.TargetID).Msg("no devices assigned to target")
		return
	}

	switch env.Op {
	case OpSelector:
		d.handleSelectorUpdate(sess, dash, env, origin, msg.ID)
	case OpWrite:
		d.handleWrite(user, sess, dash, target, env, deviceIDs, origin, msg.ID)
	case OpRead:
		d.handleRead(sess, dash, env, origin, msg.ID)
	default:
		d.log.Debug().Str("op", string(env.Op)).Msg("unrecognized operation, ignored")
	}
}

// handleSelectorUpdate mutates a device-selector widget's selection. The
// update is independent of pin state and never touches it.
func (d *Dispatcher) handleSelectorUpdate(sess *session.Session, dash *model.Dashboard,
	env *Envelope, origin session.Conn, msgID int) {

	fields := protocol.Split3(env.Body)
	if len(fields) < 3 {
		d.log.Debug().Msg("short selector update command")
		origin.Send(protocol.IllegalCommandBody(msgID))
		return
	}

	widgetID, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		origin.Send(protocol.IllegalCommandBody(msgID))
		return
	}
	selectedID, err := strconv.Atoi(fields[2])
	if err != nil {
		origin.Send(protocol.IllegalCommandBody(msgID))
		return
	}

	w, err := dash.Widget(widgetID)
	if err != nil {
		d.log.Debug().Int64("widget", widgetID).Msg("no widget for selector update")
		origin.Send(protocol.IllegalCommandBody(msgID))
		return
	}

	sel, ok := w.(*model.DeviceSelector)
	if !ok {
		d.log.Debug().Int64("widget", widgetID).Msg("selector update on non-selector widget, ignored")
		return
	}

	sel.Select(selectedID)
	origin.Send(protocol.OK(msgID))

	// Viewers sharing the dashboard get the selected device's pin state.
	for key, value := range dash.DevicePinStates(selectedID) {
		body := protocol.SyncBody(dash.ID, selectedID, byte(key.Type), key.Pin, value.Value)
		sess.SendToSharedApps(nil, dash.ShareToken, protocol.TypeAppSync, msgID, body)
	}
}

// handleWrite applies the pin write to every resolved device, mirrors the
// command to shared viewers, fans it out to hardware and triggers the side
// effects. State is authoritative: it is updated and side effects run even
// when no hardware connection is reachable.
func (d *Dispatcher) handleWrite(user *model.User, sess *session.Session, dash *model.Dashboard,
	target model.Target, env *Envelope, deviceIDs []int, origin session.Conn, msgID int) {

	fields := protocol.Split3(env.Body)
	if len(fields) < 3 {
		d.log.Debug().Msg("short write command")
		origin.Send(protocol.IllegalCommandBody(msgID))
		return
	}

	pinType, err := model.ParsePinType(fields[0][0])
	if err != nil {
		origin.Send(protocol.IllegalCommandBody(msgID))
		return
	}
	pin, err := strconv.ParseUint(fields[1], 10, 8)
	if err != nil {
		origin.Send(protocol.IllegalCommandBody(msgID))
		return
	}
	value := fields[2]
	now := d.now().UnixMilli()

	for _, deviceID := range deviceIDs {
		dash.UpdatePin(deviceID, pinType, uint8(pin), value, now)
		if d.events != nil {
			d.events.RecordPinWrite(dash.ID, deviceID, pinType, uint8(pin), value, now)
		}
	}

	// A tag target additionally carries its own last-written snapshot.
	if target.Kind() == model.TargetTag {
		dash.UpdatePin(env.TargetID, pinType, uint8(pin), value, now)
		if d.events != nil {
			d.events.RecordPinWrite(dash.ID, env.TargetID, pinType, uint8(pin), value, now)
		}
	}

	sess.SendToSharedApps(origin, dash.ShareToken, protocol.TypeAppSync, msgID, env.Raw)

	if !sess.SendToHardware(env.DashID, protocol.TypeHardware, msgID, env.Body, deviceIDs...) {
		d.log.Debug().Int("dash", env.DashID).Msg("no device in session")
		origin.Send(protocol.DeviceNotInNetwork(msgID))
	}

	d.runSideEffects(user, sess, dash, env.TargetID, uint8(pin), pinType, value, now)
}

// handleRead forwards a read to the target device unless the pin belongs to
// a polling widget, which already refreshes on its own schedule.
func (d *Dispatcher) handleRead(sess *session.Session, dash *model.Dashboard,
	env *Envelope, origin session.Conn, msgID int) {

	fields := protocol.Split3(env.Body)
	if len(fields) < 2 {
		d.log.Debug().Msg("short read command")
		origin.Send(protocol.IllegalCommandBody(msgID))
		return
	}

	pinType, err := model.ParsePinType(fields[0][0])
	if err != nil {
		origin.Send(protocol.IllegalCommandBody(msgID))
		return
	}
	pin, err := strconv.ParseUint(fields[1], 10, 8)
	if err != nil {
		origin.Send(protocol.IllegalCommandBody(msgID))
		return
	}

	w := dash.WidgetByPin(env.TargetID, pinType, uint8(pin))
	if w == nil {
		d.log.Debug().Int("target", env.TargetID).Msg("no widget for read command")
		origin.Send(protocol.IllegalCommandBody(msgID))
		return
	}

	if _, polling := w.(model.PollingWidget); polling {
		return
	}

	if !sess.SendToHardware(env.DashID, protocol.TypeHardware, msgID, env.Body, env.TargetID) {
		d.log.Debug().Int("dash", env.DashID).Msg("no device in session")
		origin.Send(protocol.DeviceNotInNetwork(msgID))
	}
}
