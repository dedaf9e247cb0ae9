package router

import (
	"github.com/rs/zerolog"

	"github.com/dkrasnov/pinhub/internal/model"
	"github.com/dkrasnov/pinhub/internal/session"
)

// runSideEffects triggers the rule engine and the webhook notifier after a
// successful write. Both run off the dispatch goroutine, in a fixed order,
// each behind its own fault boundary: a failure in one is logged and
// discarded, never surfaced to the client and never allowed to stop the
// other.
func (d *Dispatcher) runSideEffects(user *model.User, sess *session.Session, dash *model.Dashboard,
	deviceID int, pin uint8, t model.PinType, value string, ts int64) {

	go func() {
		isolate(d.log, "rules", func() {
			d.rules.Process(user, sess, dash, deviceID, pin, t, value, ts)
		})
		isolate(d.log, "webhook", func() {
			d.webhooks.Process(sess, dash, deviceID, pin, t, value, ts)
		})
	}()
}

// isolate converts any fault in fn, including panics, into a logged event.
func isolate(log zerolog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("processor", name).Msg("side effect failed")
		}
	}()
	fn()
}
