package hub_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/temoto/hublink/hub"
)

func TestChannelPort(t *testing.T) {
	t.Parallel()
	bases := []uint16{
		hub.BaseIMU,
		hub.BaseHumidity,
		hub.BaseEverloop,
		hub.BasePressure,
		hub.BaseUV,
		hub.BaseMicArray,
		2,
		40000,
	}
	for _, base := range bases {
		base := base
		t.Run(fmt.Sprintf("base=%d", base), func(t *testing.T) {
			assert.Equal(t, base, hub.ChannelConfig.Port(base))
			assert.Equal(t, base+1, hub.ChannelKeepAlive.Port(base))
			assert.Equal(t, base+2, hub.ChannelStatus.Port(base))
			assert.Equal(t, base+3, hub.ChannelData.Port(base))
			assert.Equal(t, uint16(60001), hub.ChannelFrame.Port(base))
		})
	}
}

func TestChannelString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "config", hub.ChannelConfig.String())
	assert.Equal(t, "keepalive", hub.ChannelKeepAlive.String())
	assert.Equal(t, "status", hub.ChannelStatus.String())
	assert.Equal(t, "data", hub.ChannelData.String())
	assert.Equal(t, "frame", hub.ChannelFrame.String())
	assert.Panics(t, func() { hub.Channel(250).Port(20013) })
}
