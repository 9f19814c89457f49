package probe

import (
	"context"
	"time"

	"github.com/sweepnet/sweepnet/internal/errors"
	"github.com/sweepnet/sweepnet/internal/logging"
	"github.com/sweepnet/sweepnet/internal/netutil"
	"github.com/sweepnet/sweepnet/internal/rawsock"
	"github.com/sweepnet/sweepnet/internal/scanning"
)

// SYNScanner probes with half-open handshakes over raw sockets. One SYN
// per port, no retries: the stealth preset lowers the rate instead of
// retrying. Each in-flight probe opens its own socket, so no descriptor
// is ever shared across workers.
type SYNScanner struct {
	fullTimeout time.Duration
	log         *logging.Logger
}

// NewSYNScanner creates a SYN engine. It fails immediately when the
// process cannot open raw sockets, so the caller learns before any probe
// is scheduled.
func NewSYNScanner(fullTimeout time.Duration) (*SYNScanner, error) {
	if !netutil.CanUseRawSockets() {
		return nil, errors.ErrRawSocketPermission()
	}
	// Verify the capability for real: euid checks lie inside containers.
	sock, err := rawsock.Open()
	if err != nil {
		return nil, errors.WrapScanError(errors.CodePermission,
			"cannot open raw socket for SYN scan", err)
	}
	_ = sock.Close()

	return &SYNScanner{
		fullTimeout: fullTimeout,
		log:         logging.Default().WithComponent("probe-syn"),
	}, nil
}

// Type implements Scanner.
func (s *SYNScanner) Type() scanning.ScanType {
	return scanning.ScanTypeSYN
}

// Probe implements Scanner: SYN-ACK means open, RST means closed, silence
// for the full timeout means filtered.
func (s *SYNScanner) Probe(ctx context.Context, target scanning.Target, port uint16) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	sock, err := rawsock.Open()
	if err != nil {
		return Outcome{}, errors.WrapScanError(errors.CodeRawSocket, "open raw socket", err)
	}
	defer func() { _ = sock.Close() }()

	reply, rtt, err := sock.Probe(target.IP, port, s.fullTimeout)
	switch {
	case err == rawsock.ErrTimeout:
		return Outcome{State: scanning.StateFiltered, RTT: rtt}, nil
	case err != nil:
		return Outcome{}, errors.WrapScanErrorWithTarget(errors.CodeProbeFailed,
			"syn probe failed", target.String(), err).WithPort(port)
	case reply == rawsock.ReplySynAck:
		s.log.DebugProbe("syn-ack received", target.String(), port, "rtt", rtt)
		return Outcome{State: scanning.StateOpen, RTT: rtt}, nil
	default:
		return Outcome{State: scanning.StateClosed, RTT: rtt}, nil
	}
}
