// Package scanning provides the core scan model for sweepnet: targets,
// scan jobs, probe results, and the aggregate result of a run. The
// execution engine that turns a job into results lives in
// internal/orchestrator.
package scanning

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/sweepnet/sweepnet/internal/errors"
)

// MaxBannerBytes is the hard cap on captured banner length.
const MaxBannerBytes = 512

// PortState represents the reachability classification of a probed port.
type PortState string

const (
	StateOpen     PortState = "Open"
	StateClosed   PortState = "Closed"
	StateFiltered PortState = "Filtered"
)

// ScanType selects the probe engine used for a job.
type ScanType string

const (
	ScanTypeConnect ScanType = "connect"
	ScanTypeSYN     ScanType = "syn"
)

// Target is a resolved network endpoint. Targets are produced by target
// resolution and are read-only for the life of a scan.
type Target struct {
	IP netip.Addr
}

// NewTarget creates a target from a resolved address.
func NewTarget(ip netip.Addr) Target {
	return Target{IP: ip}
}

func (t Target) String() string {
	return t.IP.String()
}

// ServiceMatch is a service/version guess produced by the fingerprint
// matcher. Product and Version are empty when unknown.
type ServiceMatch struct {
	Service string `json:"service"`
	Product string `json:"product,omitempty"`
	Version string `json:"version,omitempty"`
}

// ProbeResult is the outcome of probing one (target, port) pair. It is
// produced exactly once per pair and immutable after creation.
type ProbeResult struct {
	Target  Target
	Port    uint16
	State   PortState
	Banner  []byte
	Service *ServiceMatch
	RTT     time.Duration
}

// ResultRecord is the externally visible shape of a probe result.
type ResultRecord struct {
	Target  string  `json:"target"`
	Port    uint16  `json:"port"`
	State   string  `json:"state"`
	Banner  string  `json:"banner,omitempty"`
	Service string  `json:"service,omitempty"`
	Product string  `json:"product,omitempty"`
	Version string  `json:"version,omitempty"`
	RTTMs   float64 `json:"rtt_ms"`
}

// Record converts a probe result to its externally visible shape.
func (r *ProbeResult) Record() ResultRecord {
	rec := ResultRecord{
		Target: r.Target.String(),
		Port:   r.Port,
		State:  string(r.State),
		Banner: string(r.Banner),
		RTTMs:  float64(r.RTT.Microseconds()) / 1000.0,
	}
	if r.Service != nil {
		rec.Service = r.Service.Service
		rec.Product = r.Service.Product
		rec.Version = r.Service.Version
	}
	return rec
}

// ScanJob is an immutable description of one scan: what to probe and under
// which concurrency, rate, timeout and retry policy. Owned exclusively by
// the orchestrator for the duration of execution.
type ScanJob struct {
	ID             uuid.UUID
	Targets        []Target
	Ports          []uint16      `validate:"required,min=1,dive,gt=0"`
	ScanType       ScanType      `validate:"required,oneof=connect syn"`
	Concurrency    uint32        `validate:"required,gt=0"`
	RateLimit      uint32        // probe starts per second, 0 = unlimited
	ConnectTimeout time.Duration `validate:"gt=0"`
	FullTimeout    time.Duration `validate:"gt=0"`
	BannerTimeout  time.Duration
	MaxRetries     int `validate:"gte=0"`
	BannerPorts    map[uint16]struct{}
}

var validate = validator.New()

// NewJob creates a scan job with a fresh ID.
func NewJob(targets []Target, ports []uint16, scanType ScanType) *ScanJob {
	return &ScanJob{
		ID:             uuid.New(),
		Targets:        targets,
		Ports:          ports,
		ScanType:       scanType,
		Concurrency:    100,
		ConnectTimeout: 400 * time.Millisecond,
		FullTimeout:    800 * time.Millisecond,
		BannerTimeout:  300 * time.Millisecond,
		BannerPorts:    make(map[uint16]struct{}),
	}
}

// Validate checks the structural invariants of a job before scheduling.
// rawSocketsAllowed is the external raw-socket capability query, consumed
// as a boolean precondition for SYN jobs.
func (j *ScanJob) Validate(rawSocketsAllowed bool) error {
	if len(j.Targets) == 0 {
		return errors.ErrInvalidJob("no targets")
	}
	if len(j.Ports) == 0 {
		return errors.ErrInvalidJob("ports list is empty")
	}
	if j.Concurrency == 0 {
		return errors.ErrInvalidJob("concurrency must be greater than zero")
	}
	if j.ConnectTimeout > j.FullTimeout {
		return errors.ErrInvalidJob(fmt.Sprintf(
			"connect timeout %v exceeds full timeout %v", j.ConnectTimeout, j.FullTimeout))
	}
	if err := validate.Struct(j); err != nil {
		return errors.WrapScanError(errors.CodeValidation, "invalid scan job", err)
	}
	if j.ScanType == ScanTypeSYN && !rawSocketsAllowed {
		return errors.ErrRawSocketPermission()
	}
	return nil
}

// WantsBanner reports whether a port is eligible for banner grabbing.
func (j *ScanJob) WantsBanner(port uint16) bool {
	_, ok := j.BannerPorts[port]
	return ok
}

// UnitCount returns the total number of (target, port) probe units.
func (j *ScanJob) UnitCount() int {
	return len(j.Targets) * len(j.Ports)
}

// Progress is a notification emitted after each completed probe unit.
type Progress struct {
	Completed int
	Total     int
}

// ScanResult is the aggregate outcome of one job.
type ScanResult struct {
	JobID      uuid.UUID
	Results    []ProbeResult
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Incomplete bool
}

// NewScanResult creates a result collection with the current time as start.
func NewScanResult(jobID uuid.UUID) *ScanResult {
	return &ScanResult{
		JobID:     jobID,
		StartTime: time.Now(),
		Results:   make([]ProbeResult, 0),
	}
}

// Complete marks the scan as finished and calculates duration.
func (r *ScanResult) Complete() {
	r.EndTime = time.Now()
	r.Duration = r.EndTime.Sub(r.StartTime)
}

// OpenCount returns the number of open ports across all results.
func (r *ScanResult) OpenCount() int {
	n := 0
	for i := range r.Results {
		if r.Results[i].State == StateOpen {
			n++
		}
	}
	return n
}
