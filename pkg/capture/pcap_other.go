//go:build !linux

package capture

import (
	"errors"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
)

// pcapSource wraps *pcap.Handle where AF_PACKET is unavailable.
type pcapSource struct {
	h *pcap.Handle
}

func (s *pcapSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := s.h.ReadPacketData()
	if errors.Is(err, pcap.NextErrorTimeoutExpired) {
		return nil, ci, ErrTimeout
	}
	return data, ci, err
}

func (s *pcapSource) Close() {
	s.h.Close()
}

// Open starts a promiscuous pcap capture on opts.Interface using the poll
// timeout as the read timeout.
func Open(opts Options) (Source, error) {
	opts = opts.withDefaults()

	h, err := pcap.OpenLive(opts.Interface, int32(opts.SnapLen), true, opts.PollTimeout)
	if err != nil {
		return nil, fmt.Errorf("pcap open on %s: %w", opts.Interface, err)
	}
	if err := h.SetBPFFilter(FilterExpression); err != nil {
		h.Close()
		return nil, fmt.Errorf("attach capture filter on %s: %w", opts.Interface, err)
	}
	if h.LinkType() != 1 { // DLT_EN10MB
		h.Close()
		return nil, fmt.Errorf("interface %s is not ethernet (link type %s)", opts.Interface, h.LinkType())
	}
	return &pcapSource{h: h}, nil
}
