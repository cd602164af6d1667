package wire

import (
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// DriverConfig is the base part every driver understands: how often to
// publish updates and how long to keep running after the last ping.
// Extra carries already-encoded driver-specific fields, appended verbatim.
type DriverConfig struct {
	DelayBetweenUpdates  float32 // seconds
	TimeoutAfterLastPing float32 // seconds
	Extra                []byte
}

func (c DriverConfig) Bytes() []byte {
	var b []byte
	if c.DelayBetweenUpdates != 0 {
		b = protowire.AppendTag(b, 1, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(c.DelayBetweenUpdates))
	}
	if c.TimeoutAfterLastPing != 0 {
		b = protowire.AppendTag(b, 2, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(c.TimeoutAfterLastPing))
	}
	b = append(b, c.Extra...)
	return b
}

// NewDriverConfig converts durations to the wire's second floats.
func NewDriverConfig(updateDelay, pingTimeout time.Duration) DriverConfig {
	return DriverConfig{
		DelayBetweenUpdates:  float32(updateDelay.Seconds()),
		TimeoutAfterLastPing: float32(pingTimeout.Seconds()),
	}
}
