// Package presets maps the named tuning profiles to concrete scan job
// settings. Presets are resolved before the job is built; the engine only
// ever sees final values.
package presets

import (
	"fmt"
	"strings"
	"time"

	"github.com/sweepnet/sweepnet/internal/errors"
	"github.com/sweepnet/sweepnet/internal/scanning"
)

// Preset is a named bundle of scan tuning values.
type Preset struct {
	Name           string
	ConnectTimeout time.Duration
	FullTimeout    time.Duration
	BannerTimeout  time.Duration
	MaxRetries     int
	Concurrency    uint32
	RateLimit      uint32 // 0 = unlimited
	// GrabBanners enables banner grabbing on every scanned port.
	GrabBanners bool
}

var presets = map[string]Preset{
	"fast": {
		Name:           "fast",
		ConnectTimeout: 300 * time.Millisecond,
		FullTimeout:    time.Second,
		BannerTimeout:  200 * time.Millisecond,
		MaxRetries:     0,
		Concurrency:    2048,
	},
	"balanced": {
		Name:           "balanced",
		ConnectTimeout: 400 * time.Millisecond,
		FullTimeout:    2 * time.Second,
		BannerTimeout:  300 * time.Millisecond,
		MaxRetries:     1,
		Concurrency:    1024,
	},
	"accurate": {
		Name:           "accurate",
		ConnectTimeout: 800 * time.Millisecond,
		FullTimeout:    5 * time.Second,
		BannerTimeout:  500 * time.Millisecond,
		MaxRetries:     3,
		Concurrency:    512,
		GrabBanners:    true,
	},
	"stealth": {
		Name:           "stealth",
		ConnectTimeout: 800 * time.Millisecond,
		FullTimeout:    3 * time.Second,
		BannerTimeout:  300 * time.Millisecond,
		MaxRetries:     1,
		Concurrency:    100,
		RateLimit:      100,
	},
}

// Default is the preset used when none is requested.
const Default = "balanced"

// Names lists the valid preset names.
func Names() []string {
	return []string{"fast", "balanced", "accurate", "stealth"}
}

// Lookup returns the preset for a name, case-insensitively.
func Lookup(name string) (Preset, error) {
	if name == "" {
		name = Default
	}
	p, ok := presets[strings.ToLower(name)]
	if !ok {
		return Preset{}, errors.NewScanError(errors.CodeValidation,
			fmt.Sprintf("unknown preset %q (valid: %s)", name, strings.Join(Names(), ", ")))
	}
	return p, nil
}

// Apply writes the preset's tuning into a job. Banner ports are filled
// with the job's full port list when the preset grabs banners.
func (p Preset) Apply(job *scanning.ScanJob) {
	job.ConnectTimeout = p.ConnectTimeout
	job.FullTimeout = p.FullTimeout
	job.BannerTimeout = p.BannerTimeout
	job.MaxRetries = p.MaxRetries
	job.Concurrency = p.Concurrency
	job.RateLimit = p.RateLimit
	if p.GrabBanners {
		for _, port := range job.Ports {
			job.BannerPorts[port] = struct{}{}
		}
	}
}
