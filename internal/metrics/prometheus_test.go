package metrics

import (
	"testing"
	"time"
)

// counterValue sums the sample values of a counter family in the
// exporter registry. Missing families count as zero.
func counterValue(t *testing.T, name string) float64 {
	t.Helper()

	families, err := GetGlobalMetrics().GetRegistry().Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	var total float64
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, m := range family.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

// histogramCount sums the observation counts of a histogram family in
// the exporter registry.
func histogramCount(t *testing.T, name string) uint64 {
	t.Helper()

	families, err := GetGlobalMetrics().GetRegistry().Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	var total uint64
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, m := range family.GetMetric() {
			total += m.GetHistogram().GetSampleCount()
		}
	}
	return total
}

// The package helpers must feed the exporter registry as well as the
// in-process one, otherwise /metrics serves zeros while scans run.
func TestHelpersFeedExporterRegistry(t *testing.T) {
	tests := []struct {
		name   string
		family string
		update func()
	}{
		{
			name:   "scan total",
			family: "sweepnet_scan_total",
			update: func() { IncrementScanTotal("connect", "completed") },
		},
		{
			name:   "probe total",
			family: "sweepnet_probe_total",
			update: func() { IncrementProbesTotal("connect", "open") },
		},
		{
			name:   "probe retries",
			family: "sweepnet_probe_retries_total",
			update: func() { IncrementProbeRetries("connect") },
		},
		{
			name:   "scan errors",
			family: "sweepnet_scan_errors_total",
			update: func() { IncrementScanErrors("connect", "timeout") },
		},
		{
			name:   "banner grabs",
			family: "sweepnet_banner_grabs_total",
			update: func() { IncrementBannerGrabs("success") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := counterValue(t, tt.family)
			tt.update()
			after := counterValue(t, tt.family)
			if after != before+1 {
				t.Errorf("%s: expected %v after update, got %v", tt.family, before+1, after)
			}
		})
	}
}

func TestDurationHelpersFeedExporterRegistry(t *testing.T) {
	scansBefore := histogramCount(t, "sweepnet_scan_duration_seconds")
	probesBefore := histogramCount(t, "sweepnet_probe_duration_seconds")

	RecordScanDuration("connect", 2*time.Second)
	RecordProbeDuration("connect", 30*time.Millisecond)

	if got := histogramCount(t, "sweepnet_scan_duration_seconds"); got != scansBefore+1 {
		t.Errorf("Expected %d scan duration observations, got %d", scansBefore+1, got)
	}
	if got := histogramCount(t, "sweepnet_probe_duration_seconds"); got != probesBefore+1 {
		t.Errorf("Expected %d probe duration observations, got %d", probesBefore+1, got)
	}
}
