package model

import (
	"encoding/json"
	"fmt"
	"sync"
)

// PinType identifies the kind of hardware signal line a pin addresses.
type PinType byte

const (
	PinVirtual PinType = 'v'
	PinDigital PinType = 'd'
	PinAnalog  PinType = 'a'
)

// ParsePinType maps a wire pin-type code to its PinType.
func ParsePinType(c byte) (PinType, error) {
	switch t := PinType(c); t {
	case PinVirtual, PinDigital, PinAnalog:
		return t, nil
	default:
		return 0, fmt.Errorf("unknown pin type %q", c)
	}
}

// String returns the wire code of the pin type.
func (t PinType) String() string { return string(rune(t)) }

// MarshalJSON encodes the pin type as its one-character wire code.
func (t PinType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes a pin type from its one-character wire code.
func (t *PinType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if len(s) != 1 {
		return fmt.Errorf("invalid pin type %q", s)
	}
	parsed, err := ParsePinType(s[0])
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// PinKey addresses one pin state entry. DeviceID may also be a tag id, which
// carries the tag's own last-written snapshot.
type PinKey struct {
	DeviceID int
	Type     PinType
	Pin      uint8
}

// PinValue is the stored state of one pin. UpdatedAt is the server-observed
// receipt time in milliseconds; writes race on arrival order (last write
// wins), no version counter.
type PinValue struct {
	Value     string
	UpdatedAt int64
}

// PinStore holds the per-dashboard pin state, shared across concurrent
// dispatches. Each write touches only its own key, so a single RWMutex over
// the map is sufficient.
type PinStore struct {
	mu     sync.RWMutex
	states map[PinKey]PinValue
}

// NewPinStore creates an empty pin store.
func NewPinStore() *PinStore {
	return &PinStore{states: make(map[PinKey]PinValue)}
}

// Update upserts the state for one pin.
func (s *PinStore) Update(deviceID int, t PinType, pin uint8, value string, ts int64) {
	s.mu.Lock()
	s.states[PinKey{DeviceID: deviceID, Type: t, Pin: pin}] = PinValue{Value: value, UpdatedAt: ts}
	s.mu.Unlock()
}

// Get returns the state for one pin, if any.
func (s *PinStore) Get(deviceID int, t PinType, pin uint8) (PinValue, bool) {
	s.mu.RLock()
	v, ok := s.states[PinKey{DeviceID: deviceID, Type: t, Pin: pin}]
	s.mu.RUnlock()
	return v, ok
}

// DeviceStates returns a copy of all pin states recorded for one device.
func (s *PinStore) DeviceStates(deviceID int) map[PinKey]PinValue {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[PinKey]PinValue)
	for k, v := range s.states {
		if k.DeviceID == deviceID {
			out[k] = v
		}
	}
	return out
}
