package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectFromBanner(t *testing.T) {
	tests := []struct {
		name    string
		port    uint16
		banner  string
		service string
		product string
		version string
	}{
		{
			name:    "openssh banner",
			port:    22,
			banner:  "SSH-2.0-OpenSSH_8.9p1 Ubuntu-3ubuntu0.1",
			service: "ssh",
			product: "OpenSSH",
			version: "8.9p1",
		},
		{
			name:    "http response with server header",
			port:    80,
			banner:  "HTTP/1.1 200 OK\r\nServer: nginx/1.24.0\r\nContent-Type: text/html\r\n",
			service: "http",
			product: "nginx",
			version: "1.24.0",
		},
		{
			name:    "http response without server header",
			port:    8080,
			banner:  "HTTP/1.1 403 Forbidden\r\nContent-Length: 0\r\n",
			service: "http",
		},
		{
			name:    "ftp greeting with version",
			port:    21,
			banner:  "220 ProFTPD 1.3.8 Server ready",
			service: "ftp",
			product: "ProFTPD",
			version: "1.3.8",
		},
		{
			name:    "smtp greeting",
			port:    25,
			banner:  "220 mail.example.com ESMTP Postfix (3.7.2)",
			service: "smtp",
			product: "Postfix",
			version: "3.7.2",
		},
		{
			name:    "pop3 greeting",
			port:    110,
			banner:  "+OK Dovecot ready.",
			service: "pop3",
		},
		{
			name:    "imap greeting",
			port:    143,
			banner:  "* OK [CAPABILITY IMAP4rev1] Dovecot ready.",
			service: "imap",
		},
		{
			name:    "redis error reply",
			port:    6379,
			banner:  "-ERR unknown command 'GET / HTTP/1.0'",
			service: "redis",
		},
		{
			name:    "mysql handshake text",
			port:    3306,
			banner:  "J\x00\x00\x00\n8.0.33-MySQL Community Server",
			service: "mysql",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Detect(tt.port, []byte(tt.banner))
			require.NotNil(t, m, "expected a match")
			assert.Equal(t, tt.service, m.Service)
			assert.Equal(t, tt.product, m.Product)
			assert.Equal(t, tt.version, m.Version)
		})
	}
}

func TestBannerTakesPrecedenceOverPort(t *testing.T) {
	// An HTTP banner on port 22 must be reported as http, not ssh.
	m := Detect(22, []byte("HTTP/1.1 200 OK\r\nServer: Apache/2.4.57\r\n"))
	require.NotNil(t, m)
	assert.Equal(t, "http", m.Service)
	assert.Equal(t, "Apache", m.Product)
	assert.Equal(t, "2.4.57", m.Version)
}

func TestDetectFromPortFallback(t *testing.T) {
	tests := []struct {
		port    uint16
		banner  []byte
		service string
	}{
		{22, nil, "ssh"},
		{80, nil, "http"},
		{443, nil, "https"},
		{3306, nil, "mysql"},
		{5432, nil, "postgresql"},
		{6379, nil, "redis"},
		// Unmatchable banner falls through to the port table.
		{443, []byte("\x16\x03\x01\x02"), "https"},
	}

	for _, tt := range tests {
		m := Detect(tt.port, tt.banner)
		require.NotNil(t, m, "port %d should have a fallback", tt.port)
		assert.Equal(t, tt.service, m.Service)
		assert.Empty(t, m.Product, "port fallback must not invent a product")
		assert.Empty(t, m.Version, "port fallback must not invent a version")
	}
}

func TestDetectUnknown(t *testing.T) {
	assert.Nil(t, Detect(49152, nil))
	assert.Nil(t, Detect(49152, []byte("gibberish with no recognizable pattern")))
}

func TestDetectIdempotent(t *testing.T) {
	banner := []byte("SSH-2.0-OpenSSH_9.3")
	first := Detect(22, banner)
	for i := 0; i < 100; i++ {
		again := Detect(22, banner)
		require.NotNil(t, again)
		assert.Equal(t, first, again, "detection must be deterministic")
	}
}

func TestDetectConcurrent(t *testing.T) {
	banners := [][]byte{
		[]byte("SSH-2.0-OpenSSH_9.3"),
		[]byte("HTTP/1.1 200 OK\r\nServer: nginx/1.24.0\r\n"),
		[]byte("220 ProFTPD 1.3.8 Server ready"),
		nil,
	}
	done := make(chan struct{})
	for i := 0; i < 16; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 200; j++ {
				for _, b := range banners {
					Detect(uint16(20+j%100), b)
				}
			}
		}()
	}
	for i := 0; i < 16; i++ {
		<-done
	}
}

func TestServiceForPort(t *testing.T) {
	assert.Equal(t, "ssh", ServiceForPort(22))
	assert.Equal(t, "", ServiceForPort(49152))
}
