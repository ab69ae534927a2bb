//go:build linux

package snapshot

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// shmDir is where named regions live, mirroring POSIX shm_open's backing
// store on Linux.
const shmDir = "/dev/shm"

// openMapping creates or attaches a named shared-memory region of the
// given size under shmDir, truncates it to size, and maps it read-write.
func openMapping(name string, size int) ([]byte, func() error, error) {
	path := filepath.Join(shmDir, name)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}

	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("truncate %s: %w", path, err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("mmap %s: %w", path, err)
	}

	closeFn := func() error {
		syncErr := unix.Msync(data, unix.MS_SYNC)
		unmapErr := unix.Munmap(data)
		closeErr := f.Close()
		switch {
		case syncErr != nil:
			return fmt.Errorf("msync %s: %w", path, syncErr)
		case unmapErr != nil:
			return fmt.Errorf("munmap %s: %w", path, unmapErr)
		default:
			return closeErr
		}
	}

	return data, closeFn, nil
}
