package capture

import (
	"fmt"

	"golang.org/x/net/bpf"
)

const (
	etherTypeOffset = 12
	etherTypeIPv4   = 0x0800
	etherTypeIPv6   = 0x86dd
)

// FilterExpression is the pcap-syntax equivalent of Filter.
const FilterExpression = "ip or ip6"

// filterInstructions accepts untagged IPv4 and IPv6 frames and drops the
// rest in the kernel.
var filterInstructions = []bpf.Instruction{
	bpf.LoadAbsolute{Off: etherTypeOffset, Size: 2},
	bpf.JumpIf{Cond: bpf.JumpEqual, Val: etherTypeIPv4, SkipTrue: 2},
	bpf.JumpIf{Cond: bpf.JumpEqual, Val: etherTypeIPv6, SkipTrue: 1},
	bpf.RetConstant{Val: 0},
	bpf.RetConstant{Val: 0xffff},
}

// Filter returns the assembled classic BPF program attached to AF_PACKET
// sockets.
func Filter() ([]bpf.RawInstruction, error) {
	raw, err := bpf.Assemble(filterInstructions)
	if err != nil {
		return nil, fmt.Errorf("assemble capture filter: %w", err)
	}
	return raw, nil
}
