// Package protocol defines the socket messages exchanged between apps,
// hardware and the hub. Messages travel as JSON envelopes; command bodies
// keep the legacy string encoding with NUL-separated fields, which connected
// hardware parses byte-for-byte.
package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// BodySeparator joins the fields of a command body.
const BodySeparator = "\x00"

// Message is the envelope for all socket messages.
type Message struct {
	Type string `json:"type"`
	ID   int    `json:"id"`
	Body string `json:"body,omitempty"`
}

// Message types (app → hub → hardware).
const (
	TypeHardware = "hw"
	TypeAppSync  = "app_sync"
)

// Response types (hub → originating app).
const (
	TypeOK                 = "ok"
	TypeIllegalCommandBody = "illegal_command_body"
	TypeDeviceNotInNetwork = "device_not_in_network"
)

// OK acknowledges the message with the given id.
func OK(id int) Message {
	return Message{Type: TypeOK, ID: id}
}

// IllegalCommandBody reports a malformed command body.
func IllegalCommandBody(id int) Message {
	return Message{Type: TypeIllegalCommandBody, ID: id}
}

// DeviceNotInNetwork reports that no target device had a live connection.
func DeviceNotInNetwork(id int) Message {
	return Message{Type: TypeDeviceNotInNetwork, ID: id}
}

// Encode serializes a message for the wire.
func Encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// Decode parses a message from the wire.
func Decode(data []byte) (Message, error) {
	var msg Message
	err := json.Unmarshal(data, &msg)
	return msg, err
}

// Split2 splits a command body at the first field separator.
func Split2(body string) []string {
	return strings.SplitN(body, BodySeparator, 2)
}

// Split3 splits a command body into at most three fields.
func Split3(body string) []string {
	return strings.SplitN(body, BodySeparator, 3)
}

// Join assembles a command body from fields.
func Join(fields ...string) string {
	return strings.Join(fields, BodySeparator)
}

// WriteBody encodes the body of a hardware write command.
func WriteBody(pinType byte, pin uint8, value string) string {
	return Join(fmt.Sprintf("%cw", pinType), strconv.Itoa(int(pin)), value)
}

// SyncBody encodes an app sync push carrying one pin state entry.
func SyncBody(dashID, deviceID int, pinType byte, pin uint8, value string) string {
	return Join(
		fmt.Sprintf("%d-%d", dashID, deviceID),
		fmt.Sprintf("%cw", pinType),
		strconv.Itoa(int(pin)),
		value,
	)
}
