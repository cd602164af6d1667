// Package wire encodes and decodes the hub driver control messages.
// Driver configuration and status records have a fixed protobuf schema,
// everything else on the wire is opaque bytes owned by the caller.
package wire

import (
	"fmt"

	"github.com/juju/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

type StatusType int32

const (
	StatusUndefined       StatusType = 0
	StatusStarted         StatusType = 1
	StatusStopped         StatusType = 2
	StatusConfigReceived  StatusType = 3
	StatusCommandExecuted StatusType = 4
	StatusCritical        StatusType = 5
	StatusError           StatusType = 6
	StatusWarning         StatusType = 7
	StatusInfo            StatusType = 8
	StatusDebug           StatusType = 9
)

func (t StatusType) String() string {
	switch t {
	case StatusUndefined:
		return "Undefined message"
	case StatusStarted:
		return "Started"
	case StatusStopped:
		return "Stopped"
	case StatusConfigReceived:
		return "Config received"
	case StatusCommandExecuted:
		return "Command executed"
	case StatusCritical:
		return "Critical log"
	case StatusError:
		return "Error log"
	case StatusWarning:
		return "Warning log"
	case StatusInfo:
		return "Info log"
	case StatusDebug:
		return "Debug log"
	}
	return fmt.Sprintf("Unknown(%d)", int32(t))
}

// Status is one liveness/diagnostic record emitted by a driver.
// UUID and Message are empty when the driver did not supply them.
type Status struct {
	Type    StatusType
	UUID    string
	Message string
}

func (s *Status) String() string {
	str := s.Type.String()
	if s.UUID != "" {
		str += " uuid=" + s.UUID
	}
	if s.Message != "" {
		str += " msg=" + s.Message
	}
	return str
}

// ParseStatus decodes a status record.
// Unknown fields are skipped. Malformed input returns a NotValid error;
// it marks that single record, not the connection it came from.
func ParseStatus(b []byte) (*Status, error) {
	s := &Status{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errors.NewNotValid(protowire.ParseError(n), "status tag")
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, vn := protowire.ConsumeVarint(b)
			if vn < 0 {
				return nil, errors.NewNotValid(protowire.ParseError(vn), "status type")
			}
			s.Type = StatusType(v)
			b = b[vn:]

		case num == 2 && typ == protowire.BytesType:
			v, vn := protowire.ConsumeBytes(b)
			if vn < 0 {
				return nil, errors.NewNotValid(protowire.ParseError(vn), "status uuid")
			}
			s.UUID = string(v)
			b = b[vn:]

		case num == 3 && typ == protowire.BytesType:
			v, vn := protowire.ConsumeBytes(b)
			if vn < 0 {
				return nil, errors.NewNotValid(protowire.ParseError(vn), "status message")
			}
			s.Message = string(v)
			b = b[vn:]

		default:
			vn := protowire.ConsumeFieldValue(num, typ, b)
			if vn < 0 {
				return nil, errors.NewNotValid(protowire.ParseError(vn), "status field")
			}
			b = b[vn:]
		}
	}
	return s, nil
}
