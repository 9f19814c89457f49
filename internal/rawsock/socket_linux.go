//go:build linux

package rawsock

import (
	"fmt"
	"math/rand"
	"net"
	"net/netip"
	"syscall"
	"time"
)

// rawSocket implements Socket over a Linux AF_INET/SOCK_RAW descriptor.
// The kernel builds the IP header on send; receives deliver every inbound
// TCP packet with the IP header included.
type rawSocket struct {
	fd      int
	srcAddr netip.Addr
	srcPort uint16
}

// Open creates a raw TCP socket. Fails with EPERM-derived errors when the
// process lacks CAP_NET_RAW; callers surface that before scheduling.
func Open() (Socket, error) {
	fd, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_RAW, syscall.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("create raw socket: %w", err)
	}

	// Ephemeral-range source port; replies are matched on source
	// address, port pair, and sequence number, so collisions across
	// workers are harmless.
	srcPort := uint16(32768 + rand.Intn(28000))

	return &rawSocket{fd: fd, srcPort: srcPort}, nil
}

func (s *rawSocket) Close() error {
	return syscall.Close(s.fd)
}

// Probe implements Socket.
func (s *rawSocket) Probe(dst netip.Addr, port uint16, timeout time.Duration) (Reply, time.Duration, error) {
	if !dst.Is4() {
		return 0, 0, fmt.Errorf("syn probe: %s is not IPv4", dst)
	}

	src, err := s.localAddrFor(dst)
	if err != nil {
		return 0, 0, err
	}

	seq := rand.Uint32()
	segment := buildSYN(src, dst, s.srcPort, port, seq)

	d4 := dst.As4()
	sa := &syscall.SockaddrInet4{Addr: d4}
	start := time.Now()
	if err := syscall.Sendto(s.fd, segment, 0, sa); err != nil {
		return 0, 0, fmt.Errorf("send syn: %w", err)
	}

	deadline := start.Add(timeout)
	buf := make([]byte, 1500)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, time.Since(start), ErrTimeout
		}
		if err := setRecvTimeout(s.fd, remaining); err != nil {
			return 0, 0, err
		}

		n, from, err := syscall.Recvfrom(s.fd, buf, 0)
		if err != nil {
			if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK || err == syscall.EINTR {
				continue
			}
			return 0, 0, fmt.Errorf("recv reply: %w", err)
		}
		if sa4, ok := from.(*syscall.SockaddrInet4); !ok || netip.AddrFrom4(sa4.Addr) != dst {
			continue
		}

		seg, ok := parseReply(buf[:n])
		if !ok {
			continue
		}
		reply, ok := matchReply(seg, dst, s.srcPort, port, seq)
		if !ok {
			continue
		}
		// On SYN-ACK the kernel resets the half-open handshake for us: no
		// local socket matches it, so it answers RST.
		return reply, time.Since(start), nil
	}
}

// localAddrFor determines the source address the kernel would pick for
// dst, needed for the TCP pseudo-header checksum.
func (s *rawSocket) localAddrFor(dst netip.Addr) (netip.Addr, error) {
	if s.srcAddr.IsValid() {
		return s.srcAddr, nil
	}
	conn, err := net.Dial("udp4", net.JoinHostPort(dst.String(), "53"))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("resolve source address: %w", err)
	}
	defer conn.Close()

	udpAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return netip.Addr{}, fmt.Errorf("unexpected local address type %T", conn.LocalAddr())
	}
	addr, ok := netip.AddrFromSlice(udpAddr.IP.To4())
	if !ok {
		return netip.Addr{}, fmt.Errorf("invalid local address %s", udpAddr.IP)
	}
	s.srcAddr = addr
	return addr, nil
}

func setRecvTimeout(fd int, d time.Duration) error {
	tv := syscall.NsecToTimeval(d.Nanoseconds())
	return syscall.SetsockoptTimeval(fd, syscall.SOL_SOCKET, syscall.SO_RCVTIMEO, &tv)
}
