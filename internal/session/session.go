// Package session tracks the live connections belonging to each user: the
// hardware connections keyed by device id, and the shared viewer connections
// keyed by dashboard share token. Connects and disconnects race with
// dispatches, so all maps sit behind a single RWMutex per session.
package session

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/dkrasnov/pinhub/internal/protocol"
)

// Conn is a live client connection able to accept outbound messages.
// Send must not block: implementations queue the message and report false
// when the queue is full or the connection is gone.
type Conn interface {
	Send(msg protocol.Message) bool
}

// Session owns the connections of one user.
type Session struct {
	log  zerolog.Logger
	user string

	mu       sync.RWMutex
	hardware map[int]map[Conn]struct{}
	viewers  map[string]map[Conn]struct{}
}

// New creates an empty session for the given user.
func New(log zerolog.Logger, user string) *Session {
	return &Session{
		log:      log.With().Str("component", "session").Str("user", user).Logger(),
		user:     user,
		hardware: make(map[int]map[Conn]struct{}),
		viewers:  make(map[string]map[Conn]struct{}),
	}
}

// User returns the identity owning this session.
func (s *Session) User() string { return s.user }

// RegisterHardware adds a hardware connection for a device.
func (s *Session) RegisterHardware(deviceID int, c Conn) {
	s.mu.Lock()
	conns, ok := s.hardware[deviceID]
	if !ok {
		conns = make(map[Conn]struct{})
		s.hardware[deviceID] = conns
	}
	conns[c] = struct{}{}
	s.mu.Unlock()

	s.log.Debug().Int("device", deviceID).Msg("hardware connected")
}

// UnregisterHardware removes a hardware connection for a device.
func (s *Session) UnregisterHardware(deviceID int, c Conn) {
	s.mu.Lock()
	if conns, ok := s.hardware[deviceID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(s.hardware, deviceID)
		}
	}
	s.mu.Unlock()

	s.log.Debug().Int("device", deviceID).Msg("hardware disconnected")
}

// RegisterViewer adds a shared viewer connection under a share token.
func (s *Session) RegisterViewer(token string, c Conn) {
	s.mu.Lock()
	conns, ok := s.viewers[token]
	if !ok {
		conns = make(map[Conn]struct{})
		s.viewers[token] = conns
	}
	conns[c] = struct{}{}
	s.mu.Unlock()

	s.log.Debug().Msg("viewer connected")
}

// UnregisterViewer removes a shared viewer connection.
func (s *Session) UnregisterViewer(token string, c Conn) {
	s.mu.Lock()
	if conns, ok := s.viewers[token]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(s.viewers, token)
		}
	}
	s.mu.Unlock()

	s.log.Debug().Msg("viewer disconnected")
}

// HardwareOnline reports whether any connection is registered for a device.
func (s *Session) HardwareOnline(deviceID int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.hardware[deviceID]) > 0
}

// SendToHardware writes the command to every connection of the given
// devices. It reports whether at least one device actually received it;
// undelivered writes are dropped, there is no queue.
func (s *Session) SendToHardware(dashID int, msgType string, id int, body string, deviceIDs ...int) bool {
	s.mu.RLock()
	var conns []Conn
	for _, deviceID := range deviceIDs {
		for c := range s.hardware[deviceID] {
			conns = append(conns, c)
		}
	}
	s.mu.RUnlock()

	delivered := false
	for _, c := range conns {
		if c.Send(protocol.Message{Type: msgType, ID: id, Body: body}) {
			delivered = true
		}
	}
	if !delivered {
		s.log.Debug().Int("dash", dashID).Ints("devices", deviceIDs).Msg("no live hardware connection")
	}
	return delivered
}

// SendToSharedApps mirrors a state-changing command to every viewer
// registered under the share token, skipping the originating connection.
// Delivery is best effort and never blocks the dispatch path.
func (s *Session) SendToSharedApps(origin Conn, token string, msgType string, id int, body string) {
	if token == "" {
		return
	}

	s.mu.RLock()
	conns := make([]Conn, 0, len(s.viewers[token]))
	for c := range s.viewers[token] {
		if c != origin {
			conns = append(conns, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range conns {
		if !c.Send(protocol.Message{Type: msgType, ID: id, Body: body}) {
			s.log.Debug().Str("type", msgType).Msg("viewer send buffer full, dropped")
		}
	}
}

// Registry is the process-wide session store, keyed by user identity.
type Registry struct {
	log      zerolog.Logger
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		log:      log,
		sessions: make(map[string]*Session),
	}
}

// Get returns the session for a user, creating it on first use.
func (r *Registry) Get(user string) *Session {
	r.mu.RLock()
	s, ok := r.sessions[user]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok = r.sessions[user]; ok {
		return s
	}
	s = New(r.log, user)
	r.sessions[user] = s
	return s
}
