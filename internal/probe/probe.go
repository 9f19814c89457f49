// Package probe implements the per-port probing engines: TCP connect and
// SYN. Both variants classify a (target, port) pair as open, closed, or
// filtered under the job's timeout and retry policy.
package probe

import (
	"context"
	"net"
	"time"

	"github.com/sweepnet/sweepnet/internal/errors"
	"github.com/sweepnet/sweepnet/internal/scanning"
)

// Outcome is the raw result of one probe. Conn is non-nil only for open
// TCP connect probes; the caller owns it and must close it after any
// banner read.
type Outcome struct {
	State scanning.PortState
	RTT   time.Duration
	Conn  net.Conn
}

// Scanner is the probing capability shared by both engine variants. The
// engine is selected once at job setup, never re-dispatched per call.
type Scanner interface {
	// Probe determines the reachability state of target:port. Transient
	// network failures are absorbed into the state classification; a
	// returned error means the probe itself could not run.
	Probe(ctx context.Context, target scanning.Target, port uint16) (Outcome, error)
	// Type identifies the engine variant.
	Type() scanning.ScanType
}

// ForJob selects and constructs the probe engine for a job. SYN engines
// fail here, before any scheduling, when raw sockets are unavailable.
func ForJob(job *scanning.ScanJob) (Scanner, error) {
	switch job.ScanType {
	case scanning.ScanTypeConnect:
		return NewConnectScanner(job.ConnectTimeout, job.FullTimeout, job.MaxRetries), nil
	case scanning.ScanTypeSYN:
		return NewSYNScanner(job.FullTimeout)
	default:
		return nil, errors.ErrInvalidJob("unknown scan type " + string(job.ScanType))
	}
}
