// Package model holds the dashboard domain: profiles, dashboards, devices,
// tags, widgets and pin state.
package model

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrDashboardNotFound = errors.New("dashboard not found")
	ErrWidgetNotFound    = errors.New("widget not found")
)

// Dashboard is one entry of a user profile: an activity flag, widgets, the
// device and tag registry, and the per-device pin-state store.
type Dashboard struct {
	ID         int       `json:"id"`
	Name       string    `json:"name"`
	IsActive   bool      `json:"isActive"`
	ShareToken string    `json:"shareToken"`
	Devices    []*Device `json:"devices"`
	Tags       []*Tag    `json:"tags"`
	Widgets    []Widget  `json:"-"`
	Rules      []Rule    `json:"rules"`
	Webhooks   []Webhook `json:"webhooks"`

	pinsOnce sync.Once
	pins     *PinStore
}

func (d *Dashboard) pinStore() *PinStore {
	d.pinsOnce.Do(func() { d.pins = NewPinStore() })
	return d.pins
}

// Target resolves a target id to a device, a tag, or a device-selector
// widget. Returns nil when the id names none of them.
func (d *Dashboard) Target(targetID int) Target {
	for _, dev := range d.Devices {
		if dev.ID == targetID {
			return dev
		}
	}
	for _, tag := range d.Tags {
		if tag.ID == targetID {
			return tag
		}
	}
	for _, w := range d.Widgets {
		if sel, ok := w.(*DeviceSelector); ok && sel.ID == int64(targetID) {
			return sel
		}
	}
	return nil
}

// Widget looks up a widget by id.
func (d *Dashboard) Widget(id int64) (Widget, error) {
	for _, w := range d.Widgets {
		if w.WidgetID() == id {
			return w, nil
		}
	}
	return nil, fmt.Errorf("widget %d: %w", id, ErrWidgetNotFound)
}

// WidgetByPin finds the widget bound to the given pin on a device, or nil.
func (d *Dashboard) WidgetByPin(deviceID int, t PinType, pin uint8) Widget {
	for _, w := range d.Widgets {
		if pw, ok := w.(PinWidget); ok && pw.OwnsPin(deviceID, t, pin) {
			return w
		}
	}
	return nil
}

// UpdatePin upserts pin state for one device (or tag) id.
func (d *Dashboard) UpdatePin(deviceID int, t PinType, pin uint8, value string, ts int64) {
	d.pinStore().Update(deviceID, t, pin, value, ts)
}

// PinState returns the stored state for one pin, if any.
func (d *Dashboard) PinState(deviceID int, t PinType, pin uint8) (PinValue, bool) {
	return d.pinStore().Get(deviceID, t, pin)
}

// DevicePinStates returns a copy of all pin states held for one device.
func (d *Dashboard) DevicePinStates(deviceID int) map[PinKey]PinValue {
	return d.pinStore().DeviceStates(deviceID)
}

// WebhookFor returns the webhook attached to the given pin, or nil.
func (d *Dashboard) WebhookFor(deviceID int, t PinType, pin uint8) *Webhook {
	for i := range d.Webhooks {
		h := &d.Webhooks[i]
		if h.DeviceID == deviceID && h.Type == t && h.Pin == pin {
			return h
		}
	}
	return nil
}
