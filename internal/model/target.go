package model

// TargetKind discriminates the addressable command targets. Dispatch
// branches on the kind, never on concrete types.
type TargetKind int

const (
	TargetDevice TargetKind = iota
	TargetTag
	TargetSelector
)

// Target is an addressable recipient of a command: a device, a tag, or a
// device-selector widget standing in for its currently selected device.
type Target interface {
	Kind() TargetKind

	// DeviceIDs resolves the target to concrete device identities. An empty
	// result is valid and means there is nothing to do.
	DeviceIDs() []int
}

// Device is a single piece of connected hardware.
type Device struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func (d *Device) Kind() TargetKind { return TargetDevice }

func (d *Device) DeviceIDs() []int { return []int{d.ID} }

// Tag is a named group of devices sharing one target identity. Writes to a
// tag fan out to every member and also record a snapshot under the tag's
// own id.
type Tag struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Devices []int  `json:"devices"`
}

func (t *Tag) Kind() TargetKind { return TargetTag }

func (t *Tag) DeviceIDs() []int { return t.Devices }
