//go:build linux

package capture

import (
	"errors"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/afpacket"
)

// afpacketSource wraps *afpacket.TPacket to implement Source.
type afpacketSource struct {
	tp *afpacket.TPacket
}

func (s *afpacketSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := s.tp.ReadPacketData()
	if errors.Is(err, afpacket.ErrTimeout) {
		return nil, ci, ErrTimeout
	}
	return data, ci, err
}

func (s *afpacketSource) Close() {
	s.tp.Close()
}

// Stats returns AF_PACKET ring statistics (frames received, dropped).
func (s *afpacketSource) Stats() (received, dropped uint64) {
	_, stats, err := s.tp.SocketStats()
	if err != nil {
		return 0, 0
	}
	return uint64(stats.Packets()), uint64(stats.Drops())
}

// Open creates a TPacket V2 ring bound to opts.Interface receiving every
// protocol, narrowed to IPv4/IPv6 by Filter.
func Open(opts Options) (Source, error) {
	opts = opts.withDefaults()

	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(opts.Interface),
		afpacket.OptFrameSize(2048),
		afpacket.OptBlockSize(256*1024),
		afpacket.OptNumBlocks(16),
		afpacket.OptPollTimeout(opts.PollTimeout),
		afpacket.OptTPacketVersion(afpacket.TPacketVersion2),
	)
	if err != nil {
		return nil, fmt.Errorf("afpacket init on %s: %w", opts.Interface, err)
	}

	filter, err := Filter()
	if err != nil {
		tp.Close()
		return nil, err
	}
	if err := tp.SetBPF(filter); err != nil {
		tp.Close()
		return nil, fmt.Errorf("attach capture filter on %s: %w", opts.Interface, err)
	}

	return &afpacketSource{tp: tp}, nil
}
