//go:build !linux

package rawsock

// Open reports ErrUnsupported on platforms without a raw-socket backend.
func Open() (Socket, error) {
	return nil, ErrUnsupported
}
