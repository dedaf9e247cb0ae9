// Package rules evaluates dashboard rules against incoming pin writes and
// fires their set-pin actions.
package rules

import (
	"strconv"

	"github.com/rs/zerolog"

	"github.com/dkrasnov/pinhub/internal/model"
	"github.com/dkrasnov/pinhub/internal/protocol"
	"github.com/dkrasnov/pinhub/internal/session"
)

// EventRecorder persists applied pin writes, best effort.
type EventRecorder interface {
	RecordPinWrite(dashID, deviceID int, t model.PinType, pin uint8, value string, ts int64)
}

// Engine runs threshold rules. It is stateless; all rule data lives on the
// dashboard.
type Engine struct {
	log    zerolog.Logger
	events EventRecorder // may be nil
}

// New creates a rule engine. events may be nil.
func New(log zerolog.Logger, events EventRecorder) *Engine {
	return &Engine{
		log:    log.With().Str("component", "rules").Logger(),
		events: events,
	}
}

// Process evaluates every rule watching the written pin. A triggered rule
// writes its action pin state and forwards a hardware write through the
// session. Non-numeric values never match numeric conditions.
func (e *Engine) Process(user *model.User, sess *session.Session, dash *model.Dashboard,
	deviceID int, pin uint8, t model.PinType, value string, ts int64) {

	if len(dash.Rules) == 0 {
		return
	}

	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return
	}

	for i := range dash.Rules {
		r := &dash.Rules[i]
		if !r.AppliesTo(deviceID, t, pin) || !r.Condition.Matches(v, r.Threshold) {
			continue
		}

		a := r.Action
		dash.UpdatePin(a.DeviceID, a.Type, a.Pin, a.Value, ts)
		if e.events != nil {
			e.events.RecordPinWrite(dash.ID, a.DeviceID, a.Type, a.Pin, a.Value, ts)
		}

		body := protocol.WriteBody(byte(a.Type), a.Pin, a.Value)
		sess.SendToHardware(dash.ID, protocol.TypeHardware, 0, body, a.DeviceID)

		e.log.Info().
			Str("user", user.Email).
			Int("dash", dash.ID).
			Str("rule", r.Name).
			Int("device", a.DeviceID).
			Str("value", a.Value).
			Msg("rule triggered")
	}
}
