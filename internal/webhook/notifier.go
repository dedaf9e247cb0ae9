// Package webhook delivers pin-write notifications to user-configured HTTP
// hooks, behind a per-session rate-limiting and circuit-breaking policy.
package webhook

import (
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dkrasnov/pinhub/internal/model"
	"github.com/dkrasnov/pinhub/internal/session"
)

const placeholder = "%s"

// Config bounds webhook delivery. All three limits are independent
// preconditions checked before a call is issued or counted.
type Config struct {
	Period            time.Duration // minimum time between calls per session
	ResponseSizeLimit int64         // bytes; larger responses count as failures
	FailureLimit      int           // consecutive failures before cutoff
	Timeout           time.Duration // HTTP client timeout
}

// TripRecorder is notified when a session's circuit breaker trips.
type TripRecorder interface {
	RecordWebhookTrip(user string, ts int64)
}

// Notifier issues webhook calls for pin writes. Its only externally
// observable effect is the outbound call or its suppression; callers never
// inspect the result.
type Notifier struct {
	log    zerolog.Logger
	cfg    Config
	client *http.Client
	trips  TripRecorder

	mu       sync.Mutex
	limiters map[string]*Limiter
}

// New creates a notifier. trips may be nil.
func New(log zerolog.Logger, cfg Config, trips TripRecorder) *Notifier {
	return &Notifier{
		log:      log.With().Str("component", "webhook").Logger(),
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		trips:    trips,
		limiters: make(map[string]*Limiter),
	}
}

// limiter returns the per-session limiter, creating it on first use.
func (n *Notifier) limiter(user string) *Limiter {
	n.mu.Lock()
	defer n.mu.Unlock()

	l, ok := n.limiters[user]
	if !ok {
		l = NewLimiter(n.cfg.Period, n.cfg.FailureLimit)
		n.limiters[user] = l
	}
	return l
}

// ResetSession re-enables webhook delivery for a session after an external
// reconfiguration.
func (n *Notifier) ResetSession(user string) {
	n.limiter(user).Reset()
}

// Process issues the webhook attached to the written pin, if any. Errors are
// accounted against the session's limiter and otherwise discarded.
func (n *Notifier) Process(sess *session.Session, dash *model.Dashboard,
	deviceID int, pin uint8, t model.PinType, value string, ts int64) {

	hook := dash.WebhookFor(deviceID, t, pin)
	if hook == nil {
		return
	}

	l := n.limiter(sess.User())
	if !l.Allow() {
		n.log.Debug().Str("user", sess.User()).Int("dash", dash.ID).Msg("webhook call suppressed")
		return
	}

	if n.call(hook, value) {
		l.Success()
		return
	}

	wasTripped := l.Tripped()
	l.Failure()
	if !wasTripped && l.Tripped() {
		n.log.Warn().Str("user", sess.User()).Int("dash", dash.ID).Msg("webhook circuit breaker tripped")
		if n.trips != nil {
			n.trips.RecordWebhookTrip(sess.User(), ts)
		}
	}
}

// call performs one HTTP request and reports whether it counts as a success.
func (n *Notifier) call(hook *model.Webhook, value string) bool {
	url := strings.ReplaceAll(hook.URL, placeholder, value)
	body := strings.ReplaceAll(hook.Body, placeholder, value)

	method := hook.Method
	if method == "" {
		method = http.MethodGet
	}

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		n.log.Debug().Err(err).Str("url", url).Msg("webhook request build failed")
		return false
	}

	resp, err := n.client.Do(req)
	if err != nil {
		n.log.Debug().Err(err).Str("url", url).Msg("webhook call failed")
		return false
	}
	defer resp.Body.Close()

	// A response above the size cap counts as a failure even though the
	// transport call succeeded.
	read, _ := io.Copy(io.Discard, io.LimitReader(resp.Body, n.cfg.ResponseSizeLimit+1))
	if read > n.cfg.ResponseSizeLimit {
		n.log.Debug().Str("url", url).Int64("limit", n.cfg.ResponseSizeLimit).Msg("webhook response over size limit")
		return false
	}

	return true
}
