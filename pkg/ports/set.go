package ports

import "math/bits"

const (
	// NumPorts is the size of the port space covered by a Set
	NumPorts = 1 << 16

	wordBits = 64
	numWords = NumPorts / wordBits
)

// Set is a fixed-size bitset over the full 16-bit port space. The zero
// value is an empty set ready to use.
type Set struct {
	words [numWords]uint64
}

// Set marks port as present or absent.
func (s *Set) Set(port uint16, present bool) {
	w, mask := port/wordBits, uint64(1)<<(port%wordBits)
	if present {
		s.words[w] |= mask
	} else {
		s.words[w] &^= mask
	}
}

// Test reports whether port is present.
func (s *Set) Test(port uint16) bool {
	return s.words[port/wordBits]&(uint64(1)<<(port%wordBits)) != 0
}

// Reset clears every port.
func (s *Set) Reset() {
	clear(s.words[:])
}

// Count returns the number of present ports.
func (s *Set) Count() int {
	n := 0
	for _, w := range s.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// IntersectWith keeps only the ports also present in other.
func (s *Set) IntersectWith(other *Set) {
	for i := range s.words {
		s.words[i] &= other.words[i]
	}
}

// Intersect returns a new set holding the ports present in both a and b.
func Intersect(a, b *Set) *Set {
	out := *a
	out.IntersectWith(b)
	return &out
}

// Ports lists the present ports in ascending order.
func (s *Set) Ports() []uint16 {
	var out []uint16
	for i, w := range s.words {
		for w != 0 {
			bit := bits.TrailingZeros64(w)
			out = append(out, uint16(i*wordBits+bit))
			w &= w - 1
		}
	}
	return out
}

// Pair holds one Set per protocol so TCP and UDP share a single code path.
type Pair struct {
	sets [numProtocols]Set
}

// Get returns the set for proto.
func (p *Pair) Get(proto Protocol) *Set {
	return &p.sets[proto]
}

// Add marks d as present.
func (p *Pair) Add(d Descriptor) {
	p.sets[d.Protocol].Set(d.Port, true)
}

// Remove marks d as absent.
func (p *Pair) Remove(d Descriptor) {
	p.sets[d.Protocol].Set(d.Port, false)
}

// Has reports whether d is present.
func (p *Pair) Has(d Descriptor) bool {
	return p.sets[d.Protocol].Test(d.Port)
}

// Reset clears both protocols.
func (p *Pair) Reset() {
	for i := range p.sets {
		p.sets[i].Reset()
	}
}

// Count returns the number of present descriptors across both protocols.
func (p *Pair) Count() int {
	n := 0
	for i := range p.sets {
		n += p.sets[i].Count()
	}
	return n
}

// IntersectWith applies Set.IntersectWith protocol by protocol.
func (p *Pair) IntersectWith(other *Pair) {
	for i := range p.sets {
		p.sets[i].IntersectWith(&other.sets[i])
	}
}

// Descriptors lists the present descriptors, TCP first, ports ascending.
func (p *Pair) Descriptors() []Descriptor {
	var out []Descriptor
	for _, proto := range Protocols {
		for _, port := range p.sets[proto].Ports() {
			out = append(out, Descriptor{Protocol: proto, Port: port})
		}
	}
	return out
}
