//go:build !linux

package snapshot

import "fmt"

// openMapping has no portable shared-memory implementation outside Linux;
// on non-Linux builds it always returns an error, so the package still
// compiles and OpenAnonymous still works, but Open fails.
func openMapping(name string, size int) ([]byte, func() error, error) {
	return nil, nil, fmt.Errorf("snapshot: named shared memory not supported on this platform")
}
