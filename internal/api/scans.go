package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/sweepnet/sweepnet/internal/errors"
	"github.com/sweepnet/sweepnet/internal/metrics"
	"github.com/sweepnet/sweepnet/internal/orchestrator"
	"github.com/sweepnet/sweepnet/internal/presets"
	"github.com/sweepnet/sweepnet/internal/scanning"
	"github.com/sweepnet/sweepnet/internal/targets"
)

// ScanRequest is the JSON body for POST /api/v1/scans.
type ScanRequest struct {
	Targets  []string `json:"targets"`
	Ports    string   `json:"ports"`
	ScanType string   `json:"scan_type,omitempty"`
	Preset   string   `json:"preset,omitempty"`
	// BannerPorts lists ports to banner-grab; ignored when the preset
	// already grabs everything.
	BannerPorts []uint16 `json:"banner_ports,omitempty"`
}

// ScanStatus is the lifecycle state of a submitted scan.
type ScanStatus string

const (
	StatusRunning  ScanStatus = "running"
	StatusComplete ScanStatus = "complete"
	StatusFailed   ScanStatus = "failed"
)

// scanEntry tracks one submitted scan.
type scanEntry struct {
	id     uuid.UUID
	orch   *orchestrator.Orchestrator
	cancel context.CancelFunc

	mu     sync.Mutex
	status ScanStatus
	result *scanning.ScanResult
	err    error
}

// scanManager owns the lifecycle of API-submitted scans. Results are held
// in memory; this is an operator tool, not a scan archive.
type scanManager struct {
	timeout  time.Duration
	resolver *targets.Resolver
	running  atomic.Int64

	mu    sync.RWMutex
	scans map[uuid.UUID]*scanEntry
}

func newScanManager(timeout time.Duration) *scanManager {
	return &scanManager{
		timeout:  timeout,
		resolver: targets.NewResolver(),
		scans:    make(map[uuid.UUID]*scanEntry),
	}
}

// submit validates the request, builds the job, and starts it in the
// background.
func (m *scanManager) submit(ctx context.Context, req *ScanRequest) (*scanEntry, error) {
	preset, err := presets.Lookup(req.Preset)
	if err != nil {
		return nil, err
	}
	ports, err := targets.ParsePorts(req.Ports)
	if err != nil {
		return nil, err
	}
	resolved, err := m.resolver.Resolve(ctx, req.Targets)
	if err != nil {
		return nil, err
	}

	scanType := scanning.ScanTypeConnect
	if req.ScanType != "" {
		scanType = scanning.ScanType(req.ScanType)
	}

	job := scanning.NewJob(resolved, ports, scanType)
	preset.Apply(job)
	for _, port := range req.BannerPorts {
		job.BannerPorts[port] = struct{}{}
	}

	orch, err := orchestrator.New(job)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(context.Background(), m.timeout)
	entry := &scanEntry{
		id:     job.ID,
		orch:   orch,
		cancel: cancel,
		status: StatusRunning,
	}

	m.mu.Lock()
	m.scans[job.ID] = entry
	m.mu.Unlock()

	metrics.GetGlobalMetrics().SetActiveScans(int(m.running.Add(1)))
	go func() {
		defer cancel()
		defer func() {
			metrics.GetGlobalMetrics().SetActiveScans(int(m.running.Add(-1)))
		}()
		result, runErr := orch.Run(runCtx)

		entry.mu.Lock()
		defer entry.mu.Unlock()
		entry.result = result
		entry.err = runErr
		if runErr != nil {
			entry.status = StatusFailed
		} else {
			entry.status = StatusComplete
		}
	}()

	return entry, nil
}

func (m *scanManager) get(id uuid.UUID) (*scanEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.scans[id]
	return entry, ok
}

func (m *scanManager) cancelAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, entry := range m.scans {
		entry.cancel()
	}
}

// submitScanHandler starts a scan from a JSON request and returns its ID.
func (s *Server) submitScanHandler(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	entry, err := s.scans.submit(r.Context(), &req)
	if err != nil {
		status := http.StatusBadRequest
		if errors.IsCode(err, errors.CodePermission) {
			status = http.StatusForbidden
		}
		s.writeError(w, r, status, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"id":     entry.id.String(),
		"status": string(StatusRunning),
	})
}

// getScanHandler returns the status and, when finished, the results of a
// scan.
func (s *Server) getScanHandler(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.lookupScan(w, r)
	if !ok {
		return
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	payload := map[string]any{
		"id":     entry.id.String(),
		"status": string(entry.status),
	}
	switch entry.status {
	case StatusFailed:
		payload["error"] = entry.err.Error()
	case StatusComplete:
		records := make([]scanning.ResultRecord, 0, len(entry.result.Results))
		for i := range entry.result.Results {
			records = append(records, entry.result.Results[i].Record())
		}
		payload["incomplete"] = entry.result.Incomplete
		payload["duration_ms"] = float64(entry.result.Duration.Microseconds()) / 1000.0
		payload["open_ports"] = entry.result.OpenCount()
		payload["results"] = records
	}

	s.writeJSON(w, http.StatusOK, payload)
}

var progressUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS policy is enforced by the router middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// progressEvent is one websocket progress frame.
type progressEvent struct {
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Status    string `json:"status"`
}

// progressHandler streams progress events for a running scan until it
// finishes or the client goes away.
func (s *Server) progressHandler(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.lookupScan(w, r)
	if !ok {
		return
	}

	conn, err := progressUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	updates := entry.orch.Subscribe()
	for update := range updates {
		event := progressEvent{
			Completed: update.Completed,
			Total:     update.Total,
			Status:    string(StatusRunning),
		}
		if err := conn.WriteJSON(event); err != nil {
			return
		}
	}

	// The manager stores the final status just after the progress stream
	// closes; give it a moment before reporting.
	var final progressEvent
	for i := 0; i < 100; i++ {
		entry.mu.Lock()
		final = progressEvent{Status: string(entry.status)}
		if entry.result != nil {
			final.Completed = len(entry.result.Results)
			final.Total = final.Completed
		}
		entry.mu.Unlock()
		if final.Status != string(StatusRunning) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	_ = conn.WriteJSON(final)
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (s *Server) lookupScan(w http.ResponseWriter, r *http.Request) (*scanEntry, bool) {
	idStr := mux.Vars(r)["id"]
	id, err := uuid.Parse(idStr)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid scan id %q", idStr))
		return nil, false
	}

	entry, ok := s.scans.get(id)
	if !ok {
		s.writeError(w, r, http.StatusNotFound, fmt.Errorf("scan %s not found", id))
		return nil, false
	}
	return entry, true
}
