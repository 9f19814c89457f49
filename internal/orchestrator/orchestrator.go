// Package orchestrator drives a scan job end to end: it expands the job
// into probe units, executes them on a fixed worker pool under the job's
// rate limit, grabs banners from open connect probes, fingerprints
// services, and aggregates everything into a single result.
package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sweepnet/sweepnet/internal/banner"
	"github.com/sweepnet/sweepnet/internal/fingerprint"
	"github.com/sweepnet/sweepnet/internal/logging"
	"github.com/sweepnet/sweepnet/internal/metrics"
	"github.com/sweepnet/sweepnet/internal/netutil"
	"github.com/sweepnet/sweepnet/internal/probe"
	"github.com/sweepnet/sweepnet/internal/ratelimit"
	"github.com/sweepnet/sweepnet/internal/scanning"
)

// unit is one (target, port) probe to perform.
type unit struct {
	target scanning.Target
	port   uint16
}

// Orchestrator executes one scan job. Create with New, run once with Run.
type Orchestrator struct {
	job     *scanning.ScanJob
	scanner probe.Scanner
	limiter *ratelimit.Limiter
	grabber *banner.Grabber
	log     *logging.Logger

	inFlight atomic.Int64

	mu        sync.Mutex
	listeners []chan scanning.Progress
	finished  bool
}

// New validates the job and builds its execution machinery. SYN jobs fail
// here when raw sockets are unavailable, before any worker is started.
func New(job *scanning.ScanJob) (*Orchestrator, error) {
	if err := job.Validate(netutil.CanUseRawSockets()); err != nil {
		return nil, err
	}
	scanner, err := probe.ForJob(job)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		job:     job,
		scanner: scanner,
		limiter: ratelimit.New(job.RateLimit),
		grabber: banner.NewGrabber(),
		log:     logging.Default().WithComponent("orchestrator").WithJobID(job.ID.String()),
	}, nil
}

// Subscribe registers a progress listener. Notifications are dropped
// rather than blocking workers when the listener falls behind, so the
// channel carries the latest totals, not a complete event stream.
func (o *Orchestrator) Subscribe() <-chan scanning.Progress {
	ch := make(chan scanning.Progress, 64)
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.finished {
		close(ch)
		return ch
	}
	o.listeners = append(o.listeners, ch)
	return ch
}

// Run executes the job and blocks until every unit is resolved or the
// context is canceled. Cancellation returns the results gathered so far
// with Incomplete set; the error return is reserved for failures to run
// at all.
func (o *Orchestrator) Run(ctx context.Context) (*scanning.ScanResult, error) {
	total := o.job.UnitCount()
	result := scanning.NewScanResult(o.job.ID)

	o.log.InfoJob("scan started", o.job.ID.String(),
		"targets", len(o.job.Targets),
		"ports", len(o.job.Ports),
		"scan_type", string(o.job.ScanType),
		"concurrency", o.job.Concurrency,
		"rate_limit", o.job.RateLimit,
		"units", total)

	units := make(chan unit)
	outcomes := make(chan scanning.ProbeResult, o.job.Concurrency)

	var wg sync.WaitGroup
	for i := uint32(0); i < o.job.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.worker(ctx, units, outcomes)
		}()
	}

	// Feeder: targets outer, ports inner, so one target's port range is
	// walked before moving on.
	go func() {
		defer close(units)
		for _, t := range o.job.Targets {
			for _, p := range o.job.Ports {
				select {
				case units <- unit{target: t, port: p}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	for res := range outcomes {
		result.Results = append(result.Results, res)
		o.notify(scanning.Progress{Completed: len(result.Results), Total: total})
	}

	result.Complete()
	result.Incomplete = len(result.Results) < total

	status := "completed"
	if result.Incomplete {
		status = "canceled"
	}
	metrics.IncrementScanTotal(string(o.job.ScanType), status)
	metrics.RecordScanDuration(string(o.job.ScanType), result.Duration)
	o.log.InfoJob("scan finished", o.job.ID.String(),
		"status", status,
		"completed", len(result.Results),
		"open", result.OpenCount(),
		"duration", result.Duration)

	o.closeListeners()
	return result, nil
}

// worker pulls units off the shared queue until it is closed or the
// context ends. The rate limiter gates probe starts, not completions.
func (o *Orchestrator) worker(ctx context.Context, units <-chan unit, outcomes chan<- scanning.ProbeResult) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-units:
			if !ok {
				return
			}
			if !o.limiter.Unlimited() {
				waitStart := time.Now()
				if err := o.limiter.Wait(ctx); err != nil {
					return
				}
				metrics.RecordRateWait(time.Since(waitStart))
			}
			res := o.probeOne(ctx, u)
			if ctx.Err() != nil {
				return
			}
			select {
			case outcomes <- res:
			case <-ctx.Done():
				return
			}
		}
	}
}

// probeOne resolves a single unit: probe, then banner and fingerprint for
// open ports. Probe errors degrade to Filtered so one misbehaving port
// never aborts the job.
func (o *Orchestrator) probeOne(ctx context.Context, u unit) scanning.ProbeResult {
	metrics.SetProbesActive(int(o.inFlight.Add(1)))
	defer func() { metrics.SetProbesActive(int(o.inFlight.Add(-1))) }()

	out, err := o.scanner.Probe(ctx, u.target, u.port)
	if err != nil {
		if ctx.Err() == nil {
			o.log.ErrorScan("probe failed", u.target.String(), err, "port", u.port)
			metrics.IncrementScanErrors(string(o.job.ScanType), "probe")
		}
		out = probe.Outcome{State: scanning.StateFiltered}
	}
	metrics.IncrementProbesTotal(string(o.job.ScanType), string(out.State))
	metrics.RecordProbeDuration(string(o.job.ScanType), out.RTT)

	res := scanning.ProbeResult{
		Target: u.target,
		Port:   u.port,
		State:  out.State,
		RTT:    out.RTT,
	}

	if out.Conn != nil {
		if out.State == scanning.StateOpen && o.job.WantsBanner(u.port) {
			res.Banner = o.grabber.Grab(out.Conn, o.job.BannerTimeout)
		}
		_ = out.Conn.Close()
	}
	if res.State == scanning.StateOpen {
		res.Service = fingerprint.Detect(u.port, res.Banner)
	}
	return res
}

func (o *Orchestrator) notify(p scanning.Progress) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, ch := range o.listeners {
		select {
		case ch <- p:
		default:
		}
	}
}

func (o *Orchestrator) closeListeners() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = true
	for _, ch := range o.listeners {
		close(ch)
	}
	o.listeners = nil
}
