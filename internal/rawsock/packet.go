package rawsock

import (
	"encoding/binary"
	"net/netip"
)

// TCP header flag bits.
const (
	flagFIN = 0x01
	flagSYN = 0x02
	flagRST = 0x04
	flagACK = 0x10
)

const tcpHeaderLen = 20

// tcpSegment is a parsed TCP header plus the IP-header source address,
// trimmed to the fields reply matching needs.
type tcpSegment struct {
	SrcIP   netip.Addr
	SrcPort uint16
	DstPort uint16
	Seq     uint32
	Ack     uint32
	SYN     bool
	ACK     bool
	RST     bool
}

// buildSYN assembles a 20-byte TCP SYN segment with a correct checksum.
// The kernel prepends the IP header; the pseudo-header still needs both
// addresses.
func buildSYN(src, dst netip.Addr, srcPort, dstPort uint16, seq uint32) []byte {
	b := make([]byte, tcpHeaderLen)
	binary.BigEndian.PutUint16(b[0:2], srcPort)
	binary.BigEndian.PutUint16(b[2:4], dstPort)
	binary.BigEndian.PutUint32(b[4:8], seq)
	// ack number zero
	b[12] = (tcpHeaderLen / 4) << 4 // data offset, no options
	b[13] = flagSYN
	binary.BigEndian.PutUint16(b[14:16], 65495) // window
	// checksum at [16:18], urgent pointer zero

	csum := tcpChecksum(src, dst, b)
	binary.BigEndian.PutUint16(b[16:18], csum)
	return b
}

// parseReply extracts the TCP header from a raw IPv4 packet as delivered
// by a SOCK_RAW/IPPROTO_TCP socket (IP header included). Returns false for
// anything too short or non-TCP-shaped.
func parseReply(pkt []byte) (tcpSegment, bool) {
	if len(pkt) < 20 {
		return tcpSegment{}, false
	}
	if pkt[0]>>4 != 4 {
		return tcpSegment{}, false
	}
	ihl := int(pkt[0]&0x0f) * 4
	if ihl < 20 || len(pkt) < ihl+tcpHeaderLen {
		return tcpSegment{}, false
	}
	t := pkt[ihl:]
	flags := t[13]
	return tcpSegment{
		SrcIP:   netip.AddrFrom4([4]byte(pkt[12:16])),
		SrcPort: binary.BigEndian.Uint16(t[0:2]),
		DstPort: binary.BigEndian.Uint16(t[2:4]),
		Seq:     binary.BigEndian.Uint32(t[4:8]),
		Ack:     binary.BigEndian.Uint32(t[8:12]),
		SYN:     flags&flagSYN != 0,
		ACK:     flags&flagACK != 0,
		RST:     flags&flagRST != 0,
	}, true
}

// matchReply classifies a parsed segment against an outstanding probe
// identified by the probed address, the port pair, and the SYN sequence
// number. The raw socket delivers every inbound TCP packet on the host,
// so a reply counts only when it comes from the probed address and
// acknowledges our sequence number. Without the ack check, a stray RST
// from an unrelated host reusing the same port pair would classify the
// target.
func matchReply(seg tcpSegment, dst netip.Addr, srcPort, dstPort uint16, seq uint32) (Reply, bool) {
	if seg.SrcIP != dst || seg.SrcPort != dstPort || seg.DstPort != srcPort {
		return 0, false
	}
	switch {
	case seg.SYN && seg.ACK && seg.Ack == seq+1:
		return ReplySynAck, true
	case seg.RST && seg.Ack == seq+1:
		return ReplyRst, true
	}
	return 0, false
}

// tcpChecksum computes the TCP checksum over the IPv4 pseudo-header and
// the segment. The checksum field in seg must be zero.
func tcpChecksum(src, dst netip.Addr, seg []byte) uint16 {
	var sum uint32

	s4 := src.As4()
	d4 := dst.As4()
	sum += uint32(binary.BigEndian.Uint16(s4[0:2]))
	sum += uint32(binary.BigEndian.Uint16(s4[2:4]))
	sum += uint32(binary.BigEndian.Uint16(d4[0:2]))
	sum += uint32(binary.BigEndian.Uint16(d4[2:4]))
	sum += 6 // protocol TCP
	sum += uint32(len(seg))

	for i := 0; i+1 < len(seg); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(seg[i : i+2]))
	}
	if len(seg)%2 == 1 {
		sum += uint32(seg[len(seg)-1]) << 8
	}

	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}
