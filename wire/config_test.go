package wire

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/temoto/hublink/helpers"
)

func TestDriverConfigBytes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		cfg    DriverConfig
		expect string // hex
	}{
		{"zero", DriverConfig{}, ""},
		{"update-ping", DriverConfig{DelayBetweenUpdates: 2.0, TimeoutAfterLastPing: 10.0},
			"0d000000401500002041"},
		{"extra", DriverConfig{DelayBetweenUpdates: 0.5, Extra: helpers.MustHex("2a03010203")},
			"0d0000003f2a03010203"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, c.expect, hex.EncodeToString(c.cfg.Bytes()))
		})
	}
}

func TestNewDriverConfig(t *testing.T) {
	t.Parallel()

	c := NewDriverConfig(2*time.Second, 10*time.Second)
	assert.Equal(t, float32(2.0), c.DelayBetweenUpdates)
	assert.Equal(t, float32(10.0), c.TimeoutAfterLastPing)
	assert.Equal(t, "0d000000401500002041", hex.EncodeToString(c.Bytes()))
}
