package hub

import (
	"fmt"
	"strings"
)

// Channel is one logical endpoint role within a driver session.
type Channel uint8

const (
	ChannelConfig Channel = iota
	ChannelKeepAlive
	ChannelStatus
	ChannelData
	ChannelFrame
)

// FramePort carries camera frames for the whole hub. Shared by all
// drivers, independent of base ports.
const FramePort uint16 = 60001

// Well-known driver base ports.
const (
	BaseIMU      uint16 = 20013
	BaseHumidity uint16 = 20017
	BaseEverloop uint16 = 20021
	BasePressure uint16 = 20025
	BaseUV       uint16 = 20029
	BaseMicArray uint16 = 20037
)

// BaseByName resolves the well-known driver names.
func BaseByName(name string) (uint16, bool) {
	switch strings.ToLower(name) {
	case "imu":
		return BaseIMU, true
	case "humidity":
		return BaseHumidity, true
	case "everloop":
		return BaseEverloop, true
	case "pressure":
		return BasePressure, true
	case "uv":
		return BaseUV, true
	case "micarray", "mic_array":
		return BaseMicArray, true
	}
	return 0, false
}

func (c Channel) String() string {
	switch c {
	case ChannelConfig:
		return "config"
	case ChannelKeepAlive:
		return "keepalive"
	case ChannelStatus:
		return "status"
	case ChannelData:
		return "data"
	case ChannelFrame:
		return "frame"
	}
	return fmt.Sprintf("Channel(%d)", uint8(c))
}

// Port maps a channel role onto the concrete TCP port for a driver at
// base. Frame ignores base.
func (c Channel) Port(base uint16) uint16 {
	switch c {
	case ChannelConfig:
		return base
	case ChannelKeepAlive:
		return base + 1
	case ChannelStatus:
		return base + 2
	case ChannelData:
		return base + 3
	case ChannelFrame:
		return FramePort
	}
	panic(fmt.Sprintf("code error invalid channel=%d", uint8(c)))
}
