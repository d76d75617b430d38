// Package capture opens raw link-layer capture handles bound to a single
// network interface.
package capture

import (
	"errors"
	"time"

	"github.com/google/gopacket"
)

// ErrTimeout is returned by Source.ReadPacketData when the poll timeout
// expired without a frame.
var ErrTimeout = errors.New("capture poll timeout")

// Source abstracts AF_PACKET (linux) and pcap (other platforms) handles.
type Source interface {
	// ReadPacketData blocks for at most the configured poll timeout. The
	// returned slice is owned by the caller.
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	Close()
}

// Options configures a capture handle.
type Options struct {
	// Interface is the network interface name, e.g. "eth0"
	Interface string
	// PollTimeout bounds a single ReadPacketData call
	PollTimeout time.Duration
	// SnapLen caps the bytes kept per frame; headers are all the watcher needs
	SnapLen int
}

const (
	// DefaultPollTimeout is used when Options.PollTimeout is zero
	DefaultPollTimeout = 250 * time.Millisecond
	// DefaultSnapLen keeps every header a decoder could need
	DefaultSnapLen = 256
)

func (o Options) withDefaults() Options {
	if o.PollTimeout <= 0 {
		o.PollTimeout = DefaultPollTimeout
	}
	if o.SnapLen <= 0 {
		o.SnapLen = DefaultSnapLen
	}
	return o
}

// StatsSource is implemented by sources that expose kernel ring counters.
type StatsSource interface {
	Stats() (received, dropped uint64)
}
