// Package banner reads service banners from freshly opened connections.
// The grab is two-phased: a short passive read for services that speak
// first, then one generic active probe for services that wait for the
// client. Captured banners are hard-capped at 512 bytes and I/O failures
// are reported as "no banner", never as errors.
package banner

import (
	"net"
	"time"

	"github.com/sweepnet/sweepnet/internal/logging"
	"github.com/sweepnet/sweepnet/internal/metrics"
	"github.com/sweepnet/sweepnet/internal/scanning"
)

const (
	// passiveShare divides the banner budget: 1/passiveShare is spent
	// listening passively, the remainder on the active probe phase.
	passiveShare = 3

	// activeProbe is the generic protocol-agnostic request sent when a
	// service does not volunteer a banner. HTTP-style so the largest
	// population of mute services (web servers) answers it.
	activeProbe = "GET / HTTP/1.0\r\n\r\n"
)

// Grabber captures banners from open connections.
type Grabber struct {
	log *logging.Logger
}

// NewGrabber creates a banner grabber.
func NewGrabber() *Grabber {
	return &Grabber{
		log: logging.Default().WithComponent("banner"),
	}
}

// Grab reads a banner from conn within the given budget. Returns nil when
// nothing was captured; the result never exceeds 512 bytes.
func (g *Grabber) Grab(conn net.Conn, timeout time.Duration) []byte {
	if timeout <= 0 {
		return nil
	}

	buf := make([]byte, scanning.MaxBannerBytes)

	// Passive phase: many services (ssh, smtp, ftp) greet on connect.
	passive := timeout / passiveShare
	if b := readOnce(conn, buf, passive); b != nil {
		metrics.IncrementBannerGrabs("passive")
		return b
	}

	// Active phase: nudge mute services with one generic request and
	// spend the remaining budget on the answer.
	deadline := time.Now().Add(timeout - passive)
	if err := conn.SetWriteDeadline(deadline); err != nil {
		metrics.IncrementBannerGrabs("error")
		return nil
	}
	if _, err := conn.Write([]byte(activeProbe)); err != nil {
		g.log.Debug("active probe write failed", "error", err)
		metrics.IncrementBannerGrabs("error")
		return nil
	}
	if b := readOnce(conn, buf, time.Until(deadline)); b != nil {
		metrics.IncrementBannerGrabs("active")
		return b
	}

	metrics.IncrementBannerGrabs("miss")
	return nil
}

// readOnce performs a single bounded read into buf and returns a copy of
// the bytes received, or nil. Anything beyond the buffer stays in the
// socket and is discarded with the connection.
func readOnce(conn net.Conn, buf []byte, budget time.Duration) []byte {
	if budget <= 0 {
		return nil
	}
	if err := conn.SetReadDeadline(time.Now().Add(budget)); err != nil {
		return nil
	}
	n, err := conn.Read(buf)
	if n > 0 {
		out := make([]byte, n)
		copy(out, buf[:n])
		return out
	}
	_ = err // timeout, reset, EOF: all mean "no banner"
	return nil
}
