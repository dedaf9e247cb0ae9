package server

import (
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/dkrasnov/pinhub/internal/protocol"
	"github.com/dkrasnov/pinhub/internal/router"
	"github.com/dkrasnov/pinhub/internal/rules"
	"github.com/dkrasnov/pinhub/internal/session"
	"github.com/dkrasnov/pinhub/internal/store"
	"github.com/dkrasnov/pinhub/internal/webhook"
)

// Server is the hub: it accepts app, hardware and shared viewer sockets and
// routes hardware commands between them.
type Server struct {
	cfg        *Config
	log        zerolog.Logger
	dir        Directory
	sessions   *session.Registry
	dispatcher *router.Dispatcher
	events     *store.EventLog
	startedAt  time.Time
	mux        *chi.Mux
	upgrader   websocket.Upgrader
}

// New creates a server. db may be nil to disable the event log.
func New(cfg *Config, log zerolog.Logger, dir Directory, db *sql.DB) *Server {
	registry := session.NewRegistry(log)

	var events *store.EventLog
	var trips webhook.TripRecorder
	var recorder router.EventRecorder
	var ruleRecorder rules.EventRecorder
	if db != nil {
		events = store.NewEventLog(log, db)
		trips = events
		recorder = events
		ruleRecorder = events
	}

	notifier := webhook.New(log, webhook.Config{
		Period:            cfg.WebhookPeriod,
		ResponseSizeLimit: cfg.WebhookSizeLimit,
		FailureLimit:      cfg.WebhookFailureLimit,
		Timeout:           cfg.WebhookTimeout,
	}, trips)

	s := &Server{
		cfg:        cfg,
		log:        log.With().Str("component", "server").Logger(),
		dir:        dir,
		sessions:   registry,
		dispatcher: router.New(log, registry, rules.New(log, ruleRecorder), notifier, recorder),
		events:     events,
		startedAt:  time.Now(),
		upgrader: websocket.Upgrader{
			CheckOrigin: makeOriginCheck(cfg.AllowedOrigins),
		},
	}

	s.setupRouter()
	return s
}

func makeOriginCheck(allowed []string) func(*http.Request) bool {
	// Hardware and mobile clients send no Origin header; browsers sharing a
	// dashboard do.
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, a := range allowed {
			if origin == a {
				return true
			}
		}
		return false
	}
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)

	r.Get("/ws/app", s.handleAppWS)
	r.Get("/ws/hardware", s.handleHardwareWS)
	r.Get("/ws/share", s.handleShareWS)

	s.mux = r
}

// Run starts the server.
func (s *Server) Run() error {
	s.log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting hub")
	return http.ListenAndServe(s.cfg.ListenAddr, s.mux)
}

// Router returns the HTTP handler (for testing).
func (s *Server) Router() http.Handler {
	return s.mux
}

// Close releases background resources.
func (s *Server) Close() {
	if s.events != nil {
		s.events.Close()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleStatus reports uptime. Guarded by the admin credential when one is
// configured, disabled otherwise.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.cfg.AdminHash == "" {
		http.NotFound(w, r)
		return
	}

	_, pass, ok := r.BasicAuth()
	if !ok || bcrypt.CompareHashAndPassword([]byte(s.cfg.AdminHash), []byte(pass)) != nil {
		w.Header().Set("WWW-Authenticate", `Basic realm="pinhub"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startedAt).String(),
	})
}

// authorized checks the socket bearer token.
func (s *Server) authorized(r *http.Request) bool {
	token := r.Header.Get("Authorization")
	if len(token) > 7 && token[:7] == "Bearer " {
		token = token[7:]
	} else {
		token = r.URL.Query().Get("token")
	}
	return subtle.ConstantTimeCompare([]byte(s.cfg.Token), []byte(token)) == 1
}

// handleAppWS serves an app connection: it issues hardware commands and
// receives responses and sync pushes for its own dashboards.
func (s *Server) handleAppWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	email := r.URL.Query().Get("user")
	user, err := s.dir.User(email)
	if err != nil {
		http.Error(w, "Unknown user", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("app upgrade failed")
		return
	}

	c := newWSConn(s.log.With().Str("client", "app").Str("user", email).Logger(), conn)
	sess := s.sessions.Get(user.Email)

	// The user's own apps see sync pushes for every dashboard they own.
	for _, dash := range user.Profile.Dashboards {
		sess.RegisterViewer(dash.ShareToken, c)
	}
	defer func() {
		for _, dash := range user.Profile.Dashboards {
			sess.UnregisterViewer(dash.ShareToken, c)
		}
	}()

	s.log.Debug().Str("user", email).Msg("app connected")
	go c.writePump()
	c.readPump(func(msg protocol.Message) {
		if msg.Type == protocol.TypeHardware {
			s.dispatcher.Dispatch(user, c, msg)
		}
	})
	s.log.Debug().Str("user", email).Msg("app disconnected")
}

// handleHardwareWS serves a hardware connection: a delivery sink for
// commands addressed to its device id.
func (s *Server) handleHardwareWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	email := r.URL.Query().Get("user")
	user, err := s.dir.User(email)
	if err != nil {
		http.Error(w, "Unknown user", http.StatusUnauthorized)
		return
	}

	deviceID, err := strconv.Atoi(r.URL.Query().Get("device"))
	if err != nil {
		http.Error(w, "Bad device id", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("hardware upgrade failed")
		return
	}

	c := newWSConn(s.log.With().Str("client", "hardware").Int("device", deviceID).Logger(), conn)
	sess := s.sessions.Get(user.Email)
	sess.RegisterHardware(deviceID, c)
	defer sess.UnregisterHardware(deviceID, c)

	go c.writePump()
	c.readPump(func(msg protocol.Message) {
		// Telemetry from hardware is outside the dispatch core.
		s.log.Debug().Str("type", msg.Type).Int("device", deviceID).Msg("hardware message ignored")
	})
}

// handleShareWS serves a viewer connection holding a dashboard share token.
func (s *Server) handleShareWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	token := r.URL.Query().Get("share")
	user, err := s.dir.UserByShareToken(token)
	if err != nil {
		http.Error(w, "Unknown share token", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("viewer upgrade failed")
		return
	}

	c := newWSConn(s.log.With().Str("client", "viewer").Logger(), conn)
	sess := s.sessions.Get(user.Email)
	sess.RegisterViewer(token, c)
	defer sess.UnregisterViewer(token, c)

	go c.writePump()
	c.readPump(func(msg protocol.Message) {
		// Viewers are read-only; inbound frames are dropped.
		s.log.Debug().Str("type", msg.Type).Msg("viewer message ignored")
	})
}
