// Package serial owns the ground station serial links: one slot per logical
// channel, line oriented non-blocking reads, whole-buffer writes.
package serial

import (
	"io"
	"strings"
	"time"

	"github.com/juju/errors"
)

type ChannelName string

const (
	ChannelVehicle ChannelName = "vehicle"
	ChannelPayload ChannelName = "payload"
	ChannelUplink  ChannelName = "uplink"
)

// Channels lists all logical channels in stable order.
var Channels = []ChannelName{ChannelVehicle, ChannelPayload, ChannelUplink}

func ParseChannelName(s string) (ChannelName, error) {
	name := ChannelName(strings.ToLower(strings.TrimSpace(s)))
	for _, c := range Channels {
		if c == name {
			return c, nil
		}
	}
	return "", errors.NotValidf("channel=%q", s)
}

const (
	DefaultBaud        = 9600
	DefaultReadTimeout = time.Second
	// MaxLineLength bounds partial line accumulation, longer lines are dropped.
	MaxLineLength = 4 << 10
)

var ErrNotConnected = errors.New("not connected")

// Stream is an open port.
// Buffered reports count of bytes available to Read without blocking.
type Stream interface {
	io.ReadWriteCloser
	Buffered() (int, error)
}

type Opener interface {
	Open(path string, baud int, timeout time.Duration) (Stream, error)
}

type Config struct {
	ReadTimeoutMs int    `hcl:"read_timeout_ms"`
	SysfsRoot     string `hcl:"sysfs_root"`
	LogDebug      bool   `hcl:"log_debug"`
}

func (c *Config) ReadTimeout() time.Duration {
	if c == nil || c.ReadTimeoutMs <= 0 {
		return DefaultReadTimeout
	}
	return time.Duration(c.ReadTimeoutMs) * time.Millisecond
}

type Stat struct {
	Name         ChannelName
	Connected    bool
	Port         string
	Baud         int
	Codepage     string
	ConnectedAt  time.Time
	BytesIn      uint64
	BytesOut     uint64
	Lines        uint64
	DecodeErrors uint64
}
