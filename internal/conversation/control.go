package conversation

import (
	"errors"
	"strconv"
	"strings"
)

// Action is an approve/reject decision carried by an inline control.
type Action int

const (
	ActionNone Action = iota
	ActionApprove
	ActionReject
)

const (
	codeApprove = "APR"
	codeReject  = "REJ"
)

// MaxControlBytes is the longest payload Encode can produce: a fixed
// three byte action code plus two base-36 numbers. It stays well below the
// 64 byte ceiling of chat transports.
const MaxControlBytes = len("APR:-1y2p0ij32e8e8:3w5e11264sgsf")

var errBadControl = errors.New("malformed control payload")

// Control binds an action to the session that rendered it.
type Control struct {
	Action     Action
	Owner      int64
	Generation uint64
}

// Encode renders the payload, e.g. "APR:2n9c:1f".
func (c Control) Encode() string {
	code := codeApprove
	if c.Action == ActionReject {
		code = codeReject
	}
	return code + ":" + strconv.FormatInt(c.Owner, 36) + ":" + strconv.FormatUint(c.Generation, 36)
}

// ParseControl is the inverse of Encode.
func ParseControl(data string) (Control, error) {
	if len(data) > MaxControlBytes {
		return Control{}, errBadControl
	}
	parts := strings.Split(data, ":")
	if len(parts) != 3 {
		return Control{}, errBadControl
	}
	var c Control
	switch parts[0] {
	case codeApprove:
		c.Action = ActionApprove
	case codeReject:
		c.Action = ActionReject
	default:
		return Control{}, errBadControl
	}
	owner, err := strconv.ParseInt(parts[1], 36, 64)
	if err != nil {
		return Control{}, errBadControl
	}
	gen, err := strconv.ParseUint(parts[2], 36, 64)
	if err != nil {
		return Control{}, errBadControl
	}
	c.Owner, c.Generation = owner, gen
	return c, nil
}

// Controls are the two payloads attached to a proposal.
type Controls struct {
	Approve string
	Reject  string
}

func controlsFor(owner int64, generation uint64) *Controls {
	return &Controls{
		Approve: Control{Action: ActionApprove, Owner: owner, Generation: generation}.Encode(),
		Reject:  Control{Action: ActionReject, Owner: owner, Generation: generation}.Encode(),
	}
}
