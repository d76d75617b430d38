// Package decode extracts the destination transport port from raw Ethernet
// frames.
package decode

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/phinze/arkade/pkg/ports"
)

// Decoder parses Ethernet -> IPv4/IPv6 -> TCP/UDP without allocating per
// frame. A Decoder is not safe for concurrent use.
//
// IPv6 extension headers are not walked: only the fixed header's
// next-header field is consulted, so a TCP or UDP segment behind a
// hop-by-hop or routing header is reported as not applicable.
type Decoder struct {
	eth layers.Ethernet
	ip4 layers.IPv4
	ip6 layers.IPv6
	tcp layers.TCP
	udp layers.UDP

	parser  *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType
}

// NewDecoder returns a Decoder ready for use.
func NewDecoder() *Decoder {
	d := &Decoder{decoded: make([]gopacket.LayerType, 0, 8)}
	d.parser = gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet,
		&d.eth, &d.ip4, &d.ip6, &d.tcp, &d.udp)
	// Anything beyond the layers above (ARP, ICMP, fragments, VLAN tags,
	// application payloads) ends decoding without an error.
	d.parser.IgnoreUnsupported = true
	return d
}

// Decode returns the protocol and destination port of frame, or false when
// frame is not a well-formed Ethernet+IPv4/IPv6+TCP/UDP frame.
func (d *Decoder) Decode(frame []byte) (ports.Descriptor, bool) {
	if len(frame) == 0 {
		return ports.Descriptor{}, false
	}
	if err := d.parser.DecodeLayers(frame, &d.decoded); err != nil {
		return ports.Descriptor{}, false
	}

	// Exactly Ethernet, one network header, one transport header. A second
	// network header means a tunnel (IP-in-IP, 6in4) and is not unwrapped.
	if len(d.decoded) < 3 {
		return ports.Descriptor{}, false
	}
	network := d.decoded[1]
	switch d.decoded[2] {
	case layers.LayerTypeTCP:
		if !d.carries(network, layers.IPProtocolTCP) {
			return ports.Descriptor{}, false
		}
		return ports.TCPPort(uint16(d.tcp.DstPort)), true
	case layers.LayerTypeUDP:
		if !d.carries(network, layers.IPProtocolUDP) {
			return ports.Descriptor{}, false
		}
		return ports.UDPPort(uint16(d.udp.DstPort)), true
	}
	return ports.Descriptor{}, false
}

// carries reports whether the network header decoded from the current frame
// names proto directly as its payload protocol.
func (d *Decoder) carries(network gopacket.LayerType, proto layers.IPProtocol) bool {
	switch network {
	case layers.LayerTypeIPv4:
		return d.ip4.Protocol == proto
	case layers.LayerTypeIPv6:
		return d.ip6.NextHeader == proto
	default:
		return false
	}
}

// Decode is a convenience wrapper that decodes a single frame with a fresh
// Decoder. It is safe to call from any goroutine.
func Decode(frame []byte) (ports.Descriptor, bool) {
	return NewDecoder().Decode(frame)
}
