package probe

import (
	"context"
	"net"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sweepnet/sweepnet/internal/logging"
	"github.com/sweepnet/sweepnet/internal/metrics"
	"github.com/sweepnet/sweepnet/internal/scanning"
)

// ConnectScanner probes by completing the TCP handshake. The first attempt
// uses the short connect timeout: closed ports refuse almost immediately,
// so most of the port space is classified cheaply. Only ports that stay
// silent are retried with the full timeout.
type ConnectScanner struct {
	connectTimeout time.Duration
	fullTimeout    time.Duration
	maxRetries     int
	dial           dialFunc
	log            *logging.Logger
}

// dialFunc is the connection attempt primitive, replaceable in tests.
type dialFunc func(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error)

func stdDial(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	dialer := net.Dialer{Timeout: timeout}
	return dialer.DialContext(ctx, "tcp", addr)
}

// NewConnectScanner creates a TCP connect engine.
func NewConnectScanner(connectTimeout, fullTimeout time.Duration, maxRetries int) *ConnectScanner {
	return &ConnectScanner{
		connectTimeout: connectTimeout,
		fullTimeout:    fullTimeout,
		maxRetries:     maxRetries,
		dial:           stdDial,
		log:            logging.Default().WithComponent("probe-connect"),
	}
}

// Type implements Scanner.
func (s *ConnectScanner) Type() scanning.ScanType {
	return scanning.ScanTypeConnect
}

// Probe implements Scanner. The attempt loop is the state machine
// Attempting(n) -> Open | Closed | Filtered: success and refusal exit
// immediately, timeouts advance to the next attempt, exhaustion means
// Filtered.
func (s *ConnectScanner) Probe(ctx context.Context, target scanning.Target, port uint16) (Outcome, error) {
	addr := net.JoinHostPort(target.IP.String(), strconv.Itoa(int(port)))
	start := time.Now()

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		timeout := s.connectTimeout
		if attempt > 0 {
			timeout = s.fullTimeout
			metrics.IncrementProbeRetries("connect")
		}

		conn, err := s.dial(ctx, addr, timeout)
		if err == nil {
			return Outcome{State: scanning.StateOpen, RTT: time.Since(start), Conn: conn}, nil
		}

		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}

		if isRefused(err) {
			s.log.DebugProbe("connection refused", target.String(), port)
			return Outcome{State: scanning.StateClosed, RTT: time.Since(start)}, nil
		}

		// Timeout or transient error: give the port another chance with
		// the full timeout.
		s.log.DebugProbe("connect attempt failed", target.String(), port,
			"attempt", attempt, "error", err)
	}

	return Outcome{State: scanning.StateFiltered, RTT: time.Since(start)}, nil
}

// isRefused reports whether a dial error is an explicit refusal (RST on
// the SYN), as opposed to a timeout or routing failure.
func isRefused(err error) bool {
	opErr, ok := err.(*net.OpError)
	if ok {
		if se, ok := opErr.Err.(*os.SyscallError); ok && se.Err == syscall.ECONNREFUSED {
			return true
		}
		if errno, ok := opErr.Err.(syscall.Errno); ok && errno == syscall.ECONNREFUSED {
			return true
		}
	}
	// Some platforms wrap the errno beyond recognition; fall back to the
	// message.
	return strings.Contains(err.Error(), "connection refused")
}
