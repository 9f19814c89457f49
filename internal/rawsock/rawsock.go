// Package rawsock provides the raw-socket primitive used by the SYN probe
// engine: send one TCP SYN segment and observe the peer's SYN-ACK, RST, or
// silence. Only IPv4 targets are supported; the Linux implementation uses
// an AF_INET/SOCK_RAW socket, other platforms report ErrUnsupported.
package rawsock

import (
	"errors"
	"net/netip"
	"time"
)

// Reply classifies the peer's answer to a SYN probe.
type Reply int

const (
	// ReplySynAck means the peer accepted the handshake (port open).
	ReplySynAck Reply = iota
	// ReplyRst means the peer refused (port closed).
	ReplyRst
)

var (
	// ErrUnsupported is returned where no raw-socket backend exists.
	ErrUnsupported = errors.New("raw sockets not supported on this platform")
	// ErrTimeout is returned when no reply arrived within the budget.
	ErrTimeout = errors.New("no reply within timeout")
)

// Socket sends SYN probes and matches replies. A Socket belongs to a
// single in-flight probe; it is not safe for concurrent use.
type Socket interface {
	// Probe sends one SYN to dst:port and waits up to timeout for a
	// classification. Silence is reported as ErrTimeout.
	Probe(dst netip.Addr, port uint16, timeout time.Duration) (Reply, time.Duration, error)
	// Close releases the underlying file descriptor.
	Close() error
}
