package ports

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Protocol identifies the transport protocol of a watched port.
type Protocol uint8

const (
	// TCP is the Transmission Control Protocol
	TCP Protocol = iota
	// UDP is the User Datagram Protocol
	UDP

	numProtocols
)

// Protocols lists every supported protocol in a stable order.
var Protocols = [...]Protocol{TCP, UDP}

func (p Protocol) String() string {
	switch p {
	case TCP:
		return "tcp"
	case UDP:
		return "udp"
	default:
		return fmt.Sprintf("protocol(%d)", uint8(p))
	}
}

// ParseProtocol converts "tcp" or "udp" (any case) to a Protocol.
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tcp":
		return TCP, nil
	case "udp":
		return UDP, nil
	default:
		return 0, &ParseError{Token: s, Reason: fmt.Sprintf("invalid protocol: %s", s), Err: ErrInvalidProtocol}
	}
}

// Descriptor names a single port on a single protocol, e.g. 25565/tcp.
type Descriptor struct {
	Protocol Protocol
	Port     uint16
}

// TCPPort returns the descriptor for a TCP port.
func TCPPort(port uint16) Descriptor {
	return Descriptor{Protocol: TCP, Port: port}
}

// UDPPort returns the descriptor for a UDP port.
func UDPPort(port uint16) Descriptor {
	return Descriptor{Protocol: UDP, Port: port}
}

// String renders the descriptor as "{port}/{protocol}".
func (d Descriptor) String() string {
	return strconv.FormatUint(uint64(d.Port), 10) + "/" + d.Protocol.String()
}

// MarshalText encodes the descriptor in its String form.
func (d Descriptor) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText parses a single "port/protocol" token.
func (d *Descriptor) UnmarshalText(text []byte) error {
	parsed, err := parseToken(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

var (
	// ErrMalformed is returned for a token that is not of the form port/protocol
	ErrMalformed = errors.New("malformed port specification")
	// ErrInvalidPort is returned for a port outside 0-65535
	ErrInvalidPort = errors.New("invalid port")
	// ErrInvalidProtocol is returned for a protocol other than tcp or udp
	ErrInvalidProtocol = errors.New("invalid protocol")
)

// ParseError describes the token that made a port list invalid.
type ParseError struct {
	Token  string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	return e.Reason
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// The protocol group is deliberately loose so unknown protocols get their own error.
var tokenPattern = regexp.MustCompile(`^\s*(\d+)\s*/\s*([A-Za-z0-9_-]+)\s*$`)

// Parse converts a list such as "25565/tcp,34197/udp" into descriptors,
// preserving input order. An empty list yields no descriptors and no error.
func Parse(text string) ([]Descriptor, error) {
	if strings.TrimSpace(text) == "" {
		return []Descriptor{}, nil
	}

	parts := strings.Split(text, ",")
	result := make([]Descriptor, 0, len(parts))
	for _, part := range parts {
		d, err := parseToken(part)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, nil
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(text string) []Descriptor {
	ds, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return ds
}

func parseToken(token string) (Descriptor, error) {
	m := tokenPattern.FindStringSubmatch(token)
	if m == nil {
		return Descriptor{}, &ParseError{
			Token:  token,
			Reason: fmt.Sprintf("invalid port specification %q (want port/tcp or port/udp)", strings.TrimSpace(token)),
			Err:    ErrMalformed,
		}
	}

	port, err := strconv.ParseUint(m[1], 10, 16)
	if err != nil {
		return Descriptor{}, &ParseError{
			Token:  token,
			Reason: fmt.Sprintf("invalid port %s in %q: must be 0-65535", m[1], strings.TrimSpace(token)),
			Err:    fmt.Errorf("%w: %w", ErrInvalidPort, err),
		}
	}

	proto, err := ParseProtocol(m[2])
	if err != nil {
		return Descriptor{}, err
	}

	return Descriptor{Protocol: proto, Port: uint16(port)}, nil
}

// Join renders descriptors in the comma-separated form accepted by Parse.
func Join(ds []Descriptor) string {
	parts := make([]string, len(ds))
	for i, d := range ds {
		parts[i] = d.String()
	}
	return strings.Join(parts, ",")
}
