package banner

import (
	"bytes"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startServer runs fn against a single accepted connection on a loopback
// listener and returns the address to dial.
func startServer(t *testing.T, fn func(conn net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		fn(conn)
	}()
	return ln.Addr().String()
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestGrabPassiveBanner(t *testing.T) {
	greeting := "SSH-2.0-OpenSSH_9.3\r\n"
	addr := startServer(t, func(conn net.Conn) {
		_, _ = conn.Write([]byte(greeting))
		time.Sleep(200 * time.Millisecond)
	})

	g := NewGrabber()
	got := g.Grab(dial(t, addr), 500*time.Millisecond)
	require.NotNil(t, got)
	assert.Equal(t, greeting, string(got))
}

func TestGrabActiveProbe(t *testing.T) {
	// Server says nothing until it sees a request, then answers like an
	// HTTP server.
	response := "HTTP/1.1 200 OK\r\nServer: nginx/1.24.0\r\n\r\n"
	addr := startServer(t, func(conn net.Conn) {
		buf := make([]byte, 256)
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, err := conn.Read(buf)
		if err != nil || n == 0 {
			return
		}
		if strings.HasPrefix(string(buf[:n]), "GET / HTTP/1.0") {
			_, _ = conn.Write([]byte(response))
		}
		time.Sleep(100 * time.Millisecond)
	})

	g := NewGrabber()
	got := g.Grab(dial(t, addr), time.Second)
	require.NotNil(t, got)
	assert.True(t, strings.HasPrefix(string(got), "HTTP/1.1 200 OK"))
}

func TestGrabSilentPeer(t *testing.T) {
	addr := startServer(t, func(conn net.Conn) {
		// Accept, read the probe, never answer.
		buf := make([]byte, 256)
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _ = conn.Read(buf)
	})

	g := NewGrabber()
	start := time.Now()
	got := g.Grab(dial(t, addr), 300*time.Millisecond)
	assert.Nil(t, got)
	assert.Less(t, time.Since(start), time.Second, "grab must respect its budget")
}

func TestGrabCapsAt512Bytes(t *testing.T) {
	payload := bytes.Repeat([]byte("A"), 2048)
	addr := startServer(t, func(conn net.Conn) {
		_, _ = conn.Write(payload)
		time.Sleep(300 * time.Millisecond)
	})

	conn := dial(t, addr)
	// Let the full payload land in the receive buffer before reading.
	time.Sleep(100 * time.Millisecond)

	g := NewGrabber()
	got := g.Grab(conn, 500*time.Millisecond)
	require.NotNil(t, got)
	assert.Len(t, got, 512, "banner must be capped at exactly 512 bytes")
	assert.Equal(t, payload[:512], got)
}

func TestGrabClosedConnection(t *testing.T) {
	addr := startServer(t, func(conn net.Conn) {
		// Close immediately; the grabber must treat this as no banner.
	})

	conn := dial(t, addr)
	time.Sleep(50 * time.Millisecond)

	g := NewGrabber()
	got := g.Grab(conn, 200*time.Millisecond)
	assert.Nil(t, got)
}

func TestGrabZeroTimeout(t *testing.T) {
	addr := startServer(t, func(conn net.Conn) {
		_, _ = conn.Write([]byte("hello"))
	})

	g := NewGrabber()
	assert.Nil(t, g.Grab(dial(t, addr), 0))
}
