package model

import (
	"sync"
	"time"
)

// WidgetKind discriminates widget variants.
type WidgetKind int

const (
	WidgetButton WidgetKind = iota
	WidgetGauge
	WidgetDeviceSelector
)

// Widget is a dashboard control or display element.
type Widget interface {
	WidgetID() int64
	WidgetKind() WidgetKind
}

// PinWidget is implemented by widgets bound to a concrete pin.
type PinWidget interface {
	Widget
	OwnsPin(deviceID int, t PinType, pin uint8) bool
}

// PollingWidget marks widgets that poll hardware on their own schedule.
// Read commands addressed to their pins are not forwarded, the widget's
// polling path already covers them.
type PollingWidget interface {
	PinWidget
	PollPeriod() time.Duration
}

// Button is a plain write control bound to one pin.
type Button struct {
	ID       int64   `json:"id"`
	DeviceID int     `json:"deviceId"`
	Type     PinType `json:"pinType"`
	Pin      uint8   `json:"pin"`
}

func (b *Button) WidgetID() int64        { return b.ID }
func (b *Button) WidgetKind() WidgetKind { return WidgetButton }

func (b *Button) OwnsPin(deviceID int, t PinType, pin uint8) bool {
	return b.DeviceID == deviceID && b.Type == t && b.Pin == pin
}

// Gauge is a display widget that polls its pin periodically.
type Gauge struct {
	ID        int64         `json:"id"`
	DeviceID  int           `json:"deviceId"`
	Type      PinType       `json:"pinType"`
	Pin       uint8         `json:"pin"`
	Frequency time.Duration `json:"frequency"`
}

func (g *Gauge) WidgetID() int64        { return g.ID }
func (g *Gauge) WidgetKind() WidgetKind { return WidgetGauge }

func (g *Gauge) OwnsPin(deviceID int, t PinType, pin uint8) bool {
	return g.DeviceID == deviceID && g.Type == t && g.Pin == pin
}

func (g *Gauge) PollPeriod() time.Duration { return g.Frequency }

// DeviceSelector is a widget whose state is which device is currently
// active. It is itself a target: commands addressed to it resolve to the
// selected device. Selection is mutated by update-selector commands racing
// with dispatches on other connections.
type DeviceSelector struct {
	ID int64 `json:"id"`

	mu       sync.Mutex
	selected int
}

// NewDeviceSelector creates a selector with an initial selection.
func NewDeviceSelector(id int64, selected int) *DeviceSelector {
	return &DeviceSelector{ID: id, selected: selected}
}

func (w *DeviceSelector) WidgetID() int64        { return w.ID }
func (w *DeviceSelector) WidgetKind() WidgetKind { return WidgetDeviceSelector }

func (w *DeviceSelector) Kind() TargetKind { return TargetSelector }

func (w *DeviceSelector) DeviceIDs() []int {
	return []int{w.Selected()}
}

// Select updates the active device. Selection never touches pin state.
func (w *DeviceSelector) Select(deviceID int) {
	w.mu.Lock()
	w.selected = deviceID
	w.mu.Unlock()
}

// Selected returns the currently active device id.
func (w *DeviceSelector) Selected() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.selected
}
