package metrics

import (
	"testing"
	"time"
)

func TestRegistryCounter(t *testing.T) {
	r := NewRegistry()

	r.Counter("test_counter", Labels{"type": "a"})
	r.Counter("test_counter", Labels{"type": "a"})
	r.Counter("test_counter", Labels{"type": "b"})

	snapshot := r.GetMetrics()
	if len(snapshot) != 2 {
		t.Fatalf("Expected 2 metric series, got %d", len(snapshot))
	}

	for _, m := range snapshot {
		if m.Type != TypeCounter {
			t.Errorf("Expected counter type, got %s", m.Type)
		}
		switch m.Labels["type"] {
		case "a":
			if m.Value != 2 {
				t.Errorf("Expected counter a=2, got %f", m.Value)
			}
		case "b":
			if m.Value != 1 {
				t.Errorf("Expected counter b=1, got %f", m.Value)
			}
		}
	}
}

func TestRegistryGauge(t *testing.T) {
	r := NewRegistry()

	r.Gauge("in_flight", 5, nil)
	r.Gauge("in_flight", 3, nil)

	snapshot := r.GetMetrics()
	m, ok := snapshot["in_flight"]
	if !ok {
		t.Fatal("Gauge not recorded")
	}
	if m.Value != 3 {
		t.Errorf("Expected gauge value 3, got %f", m.Value)
	}
}

func TestRegistryHistogram(t *testing.T) {
	r := NewRegistry()

	r.Histogram("duration", 0.5, Labels{"op": "probe"})
	r.Histogram("duration", 0.8, Labels{"op": "probe"})

	snapshot := r.GetMetrics()
	if len(snapshot) != 1 {
		t.Fatalf("Expected 1 metric, got %d", len(snapshot))
	}
	for _, m := range snapshot {
		if m.Value != 0.8 {
			t.Errorf("Expected last value 0.8, got %f", m.Value)
		}
	}
}

func TestRegistryDisabled(t *testing.T) {
	r := NewRegistry()
	r.SetEnabled(false)

	r.Counter("ignored", nil)
	r.Gauge("ignored", 1, nil)
	r.Histogram("ignored", 1, nil)

	if len(r.GetMetrics()) != 0 {
		t.Error("Disabled registry should not record metrics")
	}
	if r.IsEnabled() {
		t.Error("IsEnabled should report false")
	}
}

func TestRegistryReset(t *testing.T) {
	r := NewRegistry()
	r.Counter("x", nil)
	r.Reset()
	if len(r.GetMetrics()) != 0 {
		t.Error("Reset should clear all metrics")
	}
}

func TestSnapshotIsolation(t *testing.T) {
	r := NewRegistry()
	r.Counter("x", Labels{"k": "v"})

	snapshot := r.GetMetrics()
	for _, m := range snapshot {
		m.Value = 999
		m.Labels["k"] = "mutated"
	}

	fresh := r.GetMetrics()
	for _, m := range fresh {
		if m.Value == 999 {
			t.Error("Snapshot mutation leaked into registry")
		}
		if m.Labels["k"] != "v" {
			t.Error("Label mutation leaked into registry")
		}
	}
}

func TestTimer(t *testing.T) {
	Reset()
	timer := NewTimer("op_duration", Labels{"op": "test"})
	time.Sleep(5 * time.Millisecond)
	timer.Stop()

	found := false
	for _, m := range GetMetrics() {
		if m.Name == "op_duration" {
			found = true
			if m.Value <= 0 {
				t.Errorf("Timer should record positive duration, got %f", m.Value)
			}
		}
	}
	if !found {
		t.Error("Timer did not record a histogram")
	}
	Reset()
}

func TestDomainHelpers(t *testing.T) {
	Reset()
	defer Reset()

	RecordScanDuration("connect", 2*time.Second)
	IncrementScanTotal("connect", "success")
	IncrementScanErrors("syn", "permission")
	IncrementProbesTotal("connect", "open")
	RecordProbeDuration("connect", 50*time.Millisecond)
	SetProbesActive(10)
	IncrementBannerGrabs("hit")

	if len(GetMetrics()) == 0 {
		t.Error("Domain helpers should record metrics")
	}
}

func TestPrometheusMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.IncrementScansTotal("connect", "success")
	pm.RecordScanDuration("connect", time.Second)
	pm.IncrementScanErrors("syn", "permission")
	pm.SetActiveScans(1)
	pm.IncrementProbesTotal("connect", "open")
	pm.RecordProbeDuration("connect", 10*time.Millisecond)
	pm.IncrementProbeRetries("connect")
	pm.SetActiveProbes(50)
	pm.IncrementBannerGrabs("miss")
	pm.IncrementHTTPRequests("GET", "/healthz", "200")
	pm.RecordHTTPDuration("GET", "/healthz", time.Millisecond)
	pm.UpdateSystemMetrics()

	if pm.GetRegistry() == nil {
		t.Fatal("Registry should not be nil")
	}
	if pm.GetUptime() <= 0 {
		t.Error("Uptime should be positive")
	}
	if pm.GetLastUpdate().IsZero() {
		t.Error("LastUpdate should be set after UpdateSystemMetrics")
	}

	families, err := pm.GetRegistry().Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(families) == 0 {
		t.Error("Expected gathered metric families")
	}
}

func TestGetGlobalMetrics(t *testing.T) {
	a := GetGlobalMetrics()
	b := GetGlobalMetrics()
	if a != b {
		t.Error("GetGlobalMetrics should return the same instance")
	}
}
