package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweepnet/sweepnet/internal/config"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	cfg.API.RequestTimeout = 30 * time.Second

	server := New(cfg)
	ts := httptest.NewServer(server.GetRouter())
	t.Cleanup(ts.Close)
	return server, ts
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp
}

func TestHealthzEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	var body map[string]any
	resp := getJSON(t, ts.URL+"/healthz", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestVersionEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	var body map[string]any
	resp := getJSON(t, ts.URL+"/version", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "sweepnet", body["service"])
	assert.NotEmpty(t, body["version"])
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRequestsCountedInMetrics(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)

	found := false
	for _, line := range strings.Split(buf.String(), "\n") {
		if !strings.HasPrefix(line, "sweepnet_api_http_requests_total") ||
			!strings.Contains(line, `path="/healthz"`) {
			continue
		}
		found = true
		fields := strings.Fields(line)
		require.Len(t, fields, 2)
		count, err := strconv.ParseFloat(fields[1], 64)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, count, 1.0)
	}
	assert.True(t, found, "no request counter sample for /healthz")
}

func TestSubmitScanRejectsBadRequests(t *testing.T) {
	_, ts := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "targets=10.0.0.1"},
		{name: "no targets", body: `{"ports":"80"}`},
		{name: "bad ports", body: `{"targets":["127.0.0.1"],"ports":"http"}`},
		{name: "bad preset", body: `{"targets":["127.0.0.1"],"ports":"80","preset":"warp"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/api/v1/scans", "application/json",
				strings.NewReader(tt.body))
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestGetScanUnknownID(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/scans/00000000-0000-0000-0000-000000000000")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/v1/scans/not-a-uuid")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestScanLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()
	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	_, ts := newTestServer(t)

	reqBody, err := json.Marshal(ScanRequest{
		Targets: []string{"127.0.0.1"},
		Ports:   portStr,
		Preset:  "fast",
	})
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/api/v1/scans", "application/json", bytes.NewReader(reqBody))
	require.NoError(t, err)
	var submitted struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&submitted))
	_ = resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.NotEmpty(t, submitted.ID)
	assert.Equal(t, "running", submitted.Status)

	var final struct {
		Status    string `json:"status"`
		OpenPorts int    `json:"open_ports"`
		Results   []struct {
			Port  uint16 `json:"port"`
			State string `json:"state"`
		} `json:"results"`
	}
	require.Eventually(t, func() bool {
		getJSON(t, ts.URL+"/api/v1/scans/"+submitted.ID, &final)
		return final.Status == "complete"
	}, 10*time.Second, 50*time.Millisecond)

	require.Len(t, final.Results, 1)
	port, _ := strconv.Atoi(portStr)
	assert.Equal(t, uint16(port), final.Results[0].Port)
	assert.Equal(t, "Open", final.Results[0].State)
	assert.Equal(t, 1, final.OpenPorts)
}

func TestProgressWebsocket(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}

	_, ts := newTestServer(t)

	reqBody, err := json.Marshal(ScanRequest{
		Targets: []string{"127.0.0.1"},
		Ports:   "1-20",
		Preset:  "fast",
	})
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/api/v1/scans", "application/json", bytes.NewReader(reqBody))
	require.NoError(t, err)
	var submitted struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&submitted))
	_ = resp.Body.Close()

	wsURL := fmt.Sprintf("%s/api/v1/scans/%s/progress",
		strings.Replace(ts.URL, "http://", "ws://", 1), submitted.ID)
	conn, wsResp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if wsResp != nil {
		_ = wsResp.Body.Close()
	}
	defer func() { _ = conn.Close() }()

	var last progressEvent
	for {
		var event progressEvent
		if err := conn.ReadJSON(&event); err != nil {
			break
		}
		last = event
	}
	assert.Equal(t, "complete", last.Status)
}
