// Package fingerprint maps probe evidence to a service/version guess.
// Banner signatures are checked first in a fixed priority order; when no
// signature hits, a static well-known-port table supplies the service name.
// Detection is a pure function with no shared state, safe to call from all
// workers concurrently.
package fingerprint

import (
	"regexp"
	"strings"

	"github.com/sweepnet/sweepnet/internal/scanning"
)

// signature is one banner heuristic. Match receives the lower-cased banner
// and, on a hit, extract (if set) pulls product/version from the original.
type signature struct {
	service string
	match   func(lower string) bool
	extract func(banner string) (product, version string)
}

// Signatures are checked top to bottom; the first hit wins. Order matters:
// more specific patterns (ssh, protocol greetings) sit above the generic
// HTTP substring checks.
var signatures = []signature{
	{
		service: "ssh",
		match: func(l string) bool {
			return strings.Contains(l, "ssh-")
		},
		extract: extractSSH,
	},
	{
		service: "ftp",
		match: func(l string) bool {
			return strings.HasPrefix(l, "220") && strings.Contains(l, "ftp")
		},
		extract: extractGreeting220,
	},
	{
		service: "smtp",
		match: func(l string) bool {
			return strings.HasPrefix(l, "220") &&
				(strings.Contains(l, "smtp") || strings.Contains(l, "esmtp") || strings.Contains(l, "mail"))
		},
		extract: extractGreeting220,
	},
	{
		service: "pop3",
		match: func(l string) bool {
			return strings.HasPrefix(l, "+ok") || strings.Contains(l, "pop3")
		},
	},
	{
		service: "imap",
		match: func(l string) bool {
			return strings.HasPrefix(l, "* ok") || strings.Contains(l, "imap")
		},
	},
	{
		service: "redis",
		match: func(l string) bool {
			return strings.Contains(l, "redis") || strings.HasPrefix(l, "-err") || strings.HasPrefix(l, "+pong")
		},
		extract: extractRedis,
	},
	{
		service: "mysql",
		match: func(l string) bool {
			return strings.Contains(l, "mysql") || strings.Contains(l, "mariadb")
		},
	},
	{
		service: "http",
		match: func(l string) bool {
			return strings.HasPrefix(l, "http/") || strings.Contains(l, "server:") ||
				strings.Contains(l, "<html")
		},
		extract: extractHTTP,
	},
}

// portServices maps well-known ports to service names, used as a fallback
// when no banner evidence is available. Service only, never product or
// version.
var portServices = map[uint16]string{
	20:    "ftp-data",
	21:    "ftp",
	22:    "ssh",
	23:    "telnet",
	25:    "smtp",
	53:    "domain",
	79:    "finger",
	80:    "http",
	88:    "kerberos",
	110:   "pop3",
	111:   "rpcbind",
	119:   "nntp",
	123:   "ntp",
	135:   "msrpc",
	139:   "netbios-ssn",
	143:   "imap",
	161:   "snmp",
	179:   "bgp",
	194:   "irc",
	389:   "ldap",
	443:   "https",
	445:   "microsoft-ds",
	465:   "smtps",
	500:   "isakmp",
	514:   "syslog",
	587:   "submission",
	636:   "ldaps",
	873:   "rsync",
	990:   "ftps",
	993:   "imaps",
	995:   "pop3s",
	1080:  "socks",
	1194:  "openvpn",
	1433:  "mssql",
	1521:  "oracle",
	1723:  "pptp",
	1883:  "mqtt",
	2049:  "nfs",
	2375:  "docker",
	2376:  "docker-tls",
	3128:  "squid-http",
	3306:  "mysql",
	3389:  "rdp",
	5432:  "postgresql",
	5672:  "amqp",
	5900:  "vnc",
	5985:  "wsman",
	6379:  "redis",
	6443:  "kubernetes",
	6667:  "irc",
	8000:  "http-alt",
	8080:  "http-proxy",
	8443:  "https-alt",
	8888:  "http-alt",
	9090:  "prometheus",
	9200:  "elasticsearch",
	9418:  "git",
	10250: "kubelet",
	11211: "memcached",
	15672: "rabbitmq",
	27017: "mongodb",
}

// Detect infers a service from a port and optional banner. Banner
// signatures take precedence over the port table; the port table yields a
// service name only. Returns nil when neither source matches.
func Detect(port uint16, banner []byte) *scanning.ServiceMatch {
	if len(banner) > 0 {
		if m := matchBanner(string(banner)); m != nil {
			return m
		}
	}
	if service, ok := portServices[port]; ok {
		return &scanning.ServiceMatch{Service: service}
	}
	return nil
}

// ServiceForPort returns the well-known service name for a port, or "".
func ServiceForPort(port uint16) string {
	return portServices[port]
}

func matchBanner(banner string) *scanning.ServiceMatch {
	lower := strings.ToLower(banner)
	for i := range signatures {
		sig := &signatures[i]
		if !sig.match(lower) {
			continue
		}
		m := &scanning.ServiceMatch{Service: sig.service}
		if sig.extract != nil {
			m.Product, m.Version = sig.extract(banner)
		}
		return m
	}
	return nil
}

var (
	// SSH-2.0-OpenSSH_8.9p1 Ubuntu-3ubuntu0.1
	sshBannerRe = regexp.MustCompile(`(?i)ssh-[\d.]+-([A-Za-z][\w.-]*?)[_/]([\w.]+)`)
	// Server: nginx/1.24.0
	httpServerRe = regexp.MustCompile(`(?i)server:\s*([A-Za-z][\w.-]*?)(?:/([\w.]+))?\r?\n`)
	// 220 ProFTPD 1.3.8 Server ready / 220 mail.example.com ESMTP Postfix (3.7.2)
	greetingProductRe = regexp.MustCompile(`(?i)220[ -][\w.-]*\s*(?:esmtp\s+)?([A-Za-z][A-Za-z-]+)[ /]\(?v?([\d][\w.]*)`)
	// redis_version:7.0.11
	redisVersionRe = regexp.MustCompile(`redis_version:([\w.]+)`)
)

func extractSSH(banner string) (string, string) {
	if m := sshBannerRe.FindStringSubmatch(banner); m != nil {
		return m[1], m[2]
	}
	return "", ""
}

func extractHTTP(banner string) (string, string) {
	if m := httpServerRe.FindStringSubmatch(banner); m != nil {
		return m[1], m[2]
	}
	return "", ""
}

func extractGreeting220(banner string) (string, string) {
	if m := greetingProductRe.FindStringSubmatch(banner); m != nil {
		return m[1], m[2]
	}
	return "", ""
}

func extractRedis(banner string) (string, string) {
	if m := redisVersionRe.FindStringSubmatch(banner); m != nil {
		return "redis", m[1]
	}
	return "", ""
}
