//go:build !windows

// Package netutil provides small network capability helpers shared by the
// probe engines.
package netutil

import "os"

// CanUseRawSockets reports whether the process has privileges to open raw
// sockets. Unix implementation: require euid == 0.
func CanUseRawSockets() bool {
	return os.Geteuid() == 0
}
