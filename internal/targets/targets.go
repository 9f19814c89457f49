// Package targets expands target specifications into addresses a scan job
// can consume. A spec may be a bare IP, a CIDR block, a last-octet range
// like 192.168.1.10-20, or a hostname.
package targets

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/sweepnet/sweepnet/internal/errors"
	"github.com/sweepnet/sweepnet/internal/logging"
	"github.com/sweepnet/sweepnet/internal/scanning"
)

const (
	// maxExpansion caps how many addresses a single resolve may produce,
	// so a typo like /8 does not allocate millions of targets.
	maxExpansion = 1 << 20

	dnsTimeout = 3 * time.Second
)

// Resolver turns specs into scan targets. The zero value is not usable;
// create with NewResolver.
type Resolver struct {
	client *dns.Client
	// servers are "host:port" DNS servers tried in order before falling
	// back to the system resolver.
	servers  []string
	fallback *net.Resolver
	log      *logging.Logger
}

// NewResolver creates a resolver using the system's configured DNS
// servers for direct queries and the stdlib resolver as fallback.
func NewResolver() *Resolver {
	r := &Resolver{
		client:   &dns.Client{Timeout: dnsTimeout},
		fallback: net.DefaultResolver,
		log:      logging.Default().WithComponent("targets"),
	}
	if cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf"); err == nil {
		for _, srv := range cfg.Servers {
			r.servers = append(r.servers, net.JoinHostPort(srv, cfg.Port))
		}
	}
	return r
}

// Resolve expands every spec and returns the deduplicated targets in
// input order. Any unresolvable spec fails the whole call: a scan against
// half the intended targets is worse than no scan.
func (r *Resolver) Resolve(ctx context.Context, specs []string) ([]scanning.Target, error) {
	seen := make(map[netip.Addr]struct{})
	out := make([]scanning.Target, 0, len(specs))

	for _, spec := range specs {
		addrs, err := r.expand(ctx, strings.TrimSpace(spec))
		if err != nil {
			return nil, err
		}
		for _, addr := range addrs {
			if _, dup := seen[addr]; dup {
				continue
			}
			seen[addr] = struct{}{}
			out = append(out, scanning.Target{IP: addr})
			if len(out) > maxExpansion {
				return nil, errors.NewResolveError(errors.CodeValidation,
					fmt.Sprintf("target list exceeds %d addresses", maxExpansion), spec)
			}
		}
	}

	if len(out) == 0 {
		return nil, errors.NewResolveError(errors.CodeTargetInvalid,
			"no targets after resolution", strings.Join(specs, ","))
	}
	return out, nil
}

func (r *Resolver) expand(ctx context.Context, spec string) ([]netip.Addr, error) {
	if spec == "" {
		return nil, errors.NewResolveError(errors.CodeTargetInvalid, "empty target spec", spec)
	}

	if addr, err := netip.ParseAddr(spec); err == nil {
		return []netip.Addr{addr.Unmap()}, nil
	}
	if strings.Contains(spec, "/") {
		return expandCIDR(spec)
	}
	if i := strings.LastIndexByte(spec, '-'); i > 0 {
		if addrs, ok, err := expandOctetRange(spec, i); ok {
			return addrs, err
		}
	}
	return r.lookup(ctx, spec)
}

// expandCIDR walks a prefix. For IPv4 prefixes shorter than /31 the
// network and broadcast addresses are skipped.
func expandCIDR(spec string) ([]netip.Addr, error) {
	prefix, err := netip.ParsePrefix(spec)
	if err != nil {
		return nil, errors.WrapResolveError(errors.CodeTargetInvalid, "invalid CIDR", spec, err)
	}
	prefix = prefix.Masked()

	hostBits := prefix.Addr().BitLen() - prefix.Bits()
	if hostBits > 20 {
		return nil, errors.NewResolveError(errors.CodeValidation,
			fmt.Sprintf("CIDR %s expands to more than %d addresses", spec, maxExpansion), spec)
	}

	skipEdges := prefix.Addr().Is4() && prefix.Bits() < 31

	var addrs []netip.Addr
	first := prefix.Addr()
	last := lastAddr(prefix)
	for addr := first; prefix.Contains(addr); addr = addr.Next() {
		if skipEdges && (addr == first || addr == last) {
			continue
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

func lastAddr(prefix netip.Prefix) netip.Addr {
	bytes := prefix.Addr().AsSlice()
	bits := prefix.Bits()
	for i := range bytes {
		hostBits := 8 * (i + 1)
		if hostBits <= bits {
			continue
		}
		mask := byte(0xff)
		if used := bits - 8*i; used > 0 {
			mask = 0xff >> used
		}
		bytes[i] |= mask
	}
	addr, _ := netip.AddrFromSlice(bytes)
	return addr
}

// expandOctetRange handles 192.168.1.10-20. Returns ok=false when the
// spec does not look like an octet range at all, so hostname resolution
// gets a chance (hostnames may contain hyphens).
func expandOctetRange(spec string, dash int) ([]netip.Addr, bool, error) {
	base, endStr := spec[:dash], spec[dash+1:]

	start, err := netip.ParseAddr(base)
	if err != nil || !start.Is4() {
		return nil, false, nil
	}
	end, err := strconv.Atoi(endStr)
	if err != nil {
		return nil, false, nil
	}

	octets := start.As4()
	if end < int(octets[3]) || end > 255 {
		return nil, true, errors.NewResolveError(errors.CodeTargetInvalid,
			fmt.Sprintf("invalid octet range %d-%d", octets[3], end), spec)
	}

	var addrs []netip.Addr
	for o := int(octets[3]); o <= end; o++ {
		octets[3] = byte(o)
		addrs = append(addrs, netip.AddrFrom4(octets))
	}
	return addrs, true, nil
}

// lookup resolves a hostname to its A records, querying the configured
// DNS servers directly and falling back to the system resolver.
func (r *Resolver) lookup(ctx context.Context, host string) ([]netip.Addr, error) {
	if addrs := r.queryA(ctx, host); len(addrs) > 0 {
		return addrs, nil
	}

	ips, err := r.fallback.LookupNetIP(ctx, "ip4", host)
	if err != nil {
		return nil, errors.WrapResolveError(errors.CodeTargetInvalid,
			"hostname did not resolve", host, err)
	}
	addrs := make([]netip.Addr, 0, len(ips))
	for _, ip := range ips {
		addrs = append(addrs, ip.Unmap())
	}
	return addrs, nil
}

func (r *Resolver) queryA(ctx context.Context, host string) []netip.Addr {
	if len(r.servers) == 0 {
		return nil
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), dns.TypeA)

	for _, server := range r.servers {
		reply, _, err := r.client.ExchangeContext(ctx, msg, server)
		if err != nil || reply.Rcode != dns.RcodeSuccess {
			r.log.Debug("dns query failed", "server", server, "host", host, "error", err)
			continue
		}
		var addrs []netip.Addr
		for _, rr := range reply.Answer {
			if a, ok := rr.(*dns.A); ok {
				if addr, ok := netip.AddrFromSlice(a.A.To4()); ok {
					addrs = append(addrs, addr)
				}
			}
		}
		if len(addrs) > 0 {
			return addrs
		}
	}
	return nil
}
