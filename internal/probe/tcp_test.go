package probe

import (
	"context"
	"net"
	"net/netip"
	"os"
	"strconv"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweepnet/sweepnet/internal/errors"
	"github.com/sweepnet/sweepnet/internal/scanning"
)

func loopbackTarget(t *testing.T) scanning.Target {
	t.Helper()
	return scanning.Target{IP: netip.MustParseAddr("127.0.0.1")}
}

// listenPort starts a loopback listener and returns its port.
func listenPort(t *testing.T) (net.Listener, uint16) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.ParseUint(portStr, 10, 16)
	require.NoError(t, err)
	return ln, uint16(port)
}

func TestConnectScannerOpenPort(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}

	ln, port := listenPort(t)
	defer func() { _ = ln.Close() }()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			defer func() { _ = conn.Close() }()
			time.Sleep(200 * time.Millisecond)
		}
	}()

	s := NewConnectScanner(400*time.Millisecond, 800*time.Millisecond, 2)
	out, err := s.Probe(context.Background(), loopbackTarget(t), port)
	require.NoError(t, err)
	assert.Equal(t, scanning.StateOpen, out.State)
	require.NotNil(t, out.Conn)
	assert.Greater(t, out.RTT, time.Duration(0))
	_ = out.Conn.Close()
}

func TestConnectScannerClosedPort(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}

	// Grab a free port, then release it so the dial is refused.
	ln, port := listenPort(t)
	require.NoError(t, ln.Close())

	connectTimeout := 400 * time.Millisecond
	s := NewConnectScanner(connectTimeout, 800*time.Millisecond, 2)
	out, err := s.Probe(context.Background(), loopbackTarget(t), port)
	require.NoError(t, err)
	assert.Equal(t, scanning.StateClosed, out.State)
	assert.Nil(t, out.Conn)
	// A refusal resolves well inside the short timeout on loopback.
	assert.Less(t, out.RTT, connectTimeout)
}

func TestConnectScannerRefusalStopsRetries(t *testing.T) {
	var calls int32
	s := NewConnectScanner(100*time.Millisecond, 200*time.Millisecond, 3)
	s.dial = func(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
		atomic.AddInt32(&calls, 1)
		return nil, &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}
	}

	out, err := s.Probe(context.Background(), loopbackTarget(t), 81)
	require.NoError(t, err)
	assert.Equal(t, scanning.StateClosed, out.State)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestConnectScannerRetryAfterTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer func() { _ = client.Close() }()
	defer func() { _ = server.Close() }()

	var calls int32
	var timeouts []time.Duration
	s := NewConnectScanner(100*time.Millisecond, 200*time.Millisecond, 2)
	s.dial = func(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
		atomic.AddInt32(&calls, 1)
		timeouts = append(timeouts, timeout)
		if atomic.LoadInt32(&calls) == 1 {
			return nil, &net.OpError{Op: "dial", Err: os.ErrDeadlineExceeded}
		}
		return client, nil
	}

	out, err := s.Probe(context.Background(), loopbackTarget(t), 82)
	require.NoError(t, err)
	assert.Equal(t, scanning.StateOpen, out.State)
	assert.NotNil(t, out.Conn)
	require.Len(t, timeouts, 2)
	// First attempt is cheap, the retry gets the full timeout.
	assert.Equal(t, 100*time.Millisecond, timeouts[0])
	assert.Equal(t, 200*time.Millisecond, timeouts[1])
}

func TestConnectScannerExhaustedRetriesFiltered(t *testing.T) {
	var calls int32
	s := NewConnectScanner(100*time.Millisecond, 200*time.Millisecond, 2)
	s.dial = func(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
		atomic.AddInt32(&calls, 1)
		return nil, &net.OpError{Op: "dial", Err: os.ErrDeadlineExceeded}
	}

	out, err := s.Probe(context.Background(), loopbackTarget(t), 83)
	require.NoError(t, err)
	assert.Equal(t, scanning.StateFiltered, out.State)
	// Initial attempt plus both retries.
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestConnectScannerContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewConnectScanner(100*time.Millisecond, 200*time.Millisecond, 2)
	s.dial = func(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
		cancel()
		return nil, ctx.Err()
	}

	_, err := s.Probe(ctx, loopbackTarget(t), 84)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsRefused(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "syscall errno",
			err:  &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED},
			want: true,
		},
		{
			name: "wrapped syscall error",
			err:  &net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)},
			want: true,
		},
		{
			name: "timeout",
			err:  &net.OpError{Op: "dial", Err: os.ErrDeadlineExceeded},
			want: false,
		},
		{
			name: "unreachable",
			err:  &net.OpError{Op: "dial", Err: syscall.EHOSTUNREACH},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRefused(tt.err))
		})
	}
}

func TestForJobSelectsConnect(t *testing.T) {
	job := scanning.NewJob(nil, nil, scanning.ScanTypeConnect)
	s, err := ForJob(job)
	require.NoError(t, err)
	assert.Equal(t, scanning.ScanTypeConnect, s.Type())
}

func TestForJobUnknownType(t *testing.T) {
	job := scanning.NewJob(nil, nil, scanning.ScanType("xmas"))
	_, err := ForJob(job)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeValidation))
}

func TestForJobSYNWithoutPrivilege(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("running as root, raw sockets are available")
	}

	job := scanning.NewJob(nil, nil, scanning.ScanTypeSYN)
	_, err := ForJob(job)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodePermission))
}
