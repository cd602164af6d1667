package hub

// Values are updated atomically, but not consistently with each other:
// reading pings=N pongs=N-2 mid-round is normal.

import (
	"expvar"
	"fmt"
	"time"

	"github.com/temoto/atomic_clock"
)

type Stat struct {
	Configs expvar.Int
	Pings   expvar.Int
	Pongs   expvar.Int
	Status  expvar.Int
	Data    expvar.Int
	Frames  expvar.Int

	LastPong atomic_clock.Clock
}

// SinceLastPong is huge before the first pong, check LastPong.IsZero.
func (s *Stat) SinceLastPong() time.Duration { return atomic_clock.Since(&s.LastPong) }

func (s *Stat) String() string {
	return fmt.Sprintf(`{"configs":%d,"pings":%d,"pongs":%d,"status":%d,"data":%d,"frames":%d}`,
		s.Configs.Value(), s.Pings.Value(), s.Pongs.Value(),
		s.Status.Value(), s.Data.Value(), s.Frames.Value())
}
