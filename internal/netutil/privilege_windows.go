//go:build windows

package netutil

// CanUseRawSockets conservatively reports no raw-socket support on Windows
// builds; the SYN engine is not wired up there.
func CanUseRawSockets() bool {
	return false
}
