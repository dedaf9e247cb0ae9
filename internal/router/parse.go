package router

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dkrasnov/pinhub/internal/protocol"
)

// ErrIllegalCommand marks a command body that cannot be decoded.
var ErrIllegalCommand = errors.New("illegal command")

// Op is the one-character operation code of a hardware command.
type Op byte

const (
	OpSelector Op = 'u' // update device-selector state
	OpWrite    Op = 'w' // write pin value
	OpRead     Op = 'r' // read pin value (legacy forwarding path)
)

// Envelope is the decoded form of one inbound hardware command. It lives
// only for the duration of one dispatch.
type Envelope struct {
	DashID   int
	TargetID int
	Op       Op

	// Body is the command part after the address field, forwarded verbatim
	// to hardware so devices see the exact bytes the app produced.
	Body string

	// Raw is the complete command including the address field. Viewer
	// mirrors carry it so shared apps can route the write to the right
	// dashboard and target.
	Raw string
}

// Parse decodes a raw command payload. The first field is
// "dashId[-targetId]" (targetId defaults to 0), the second begins with the
// pin-type code followed by the operation code. Unknown operation codes are
// not an error here; the dispatcher ignores them.
func Parse(raw string) (*Envelope, error) {
	parts := protocol.Split2(raw)
	if len(parts) != 2 || len(parts[1]) < 2 {
		return nil, fmt.Errorf("%w: missing command body", ErrIllegalCommand)
	}

	addr := strings.SplitN(parts[0], "-", 2)
	dashID, err := strconv.Atoi(addr[0])
	if err != nil {
		return nil, fmt.Errorf("%w: bad dashboard id %q", ErrIllegalCommand, addr[0])
	}

	targetID := 0
	if len(addr) == 2 {
		targetID, err = strconv.Atoi(addr[1])
		if err != nil {
			return nil, fmt.Errorf("%w: bad target id %q", ErrIllegalCommand, addr[1])
		}
	}

	return &Envelope{
		DashID:   dashID,
		TargetID: targetID,
		Op:       Op(parts[1][1]),
		Body:     parts[1],
		Raw:      raw,
	}, nil
}
