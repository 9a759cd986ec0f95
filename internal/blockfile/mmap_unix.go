//go:build unix

package blockfile

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// unixMap memory-maps a file read-only via golang.org/x/sys/unix, grounded
// on _examples/torrejonv-teranode's direct unix.Mmap usage in its tx-meta
// cache.
type unixMap struct {
	data []byte
}

func openMap(path string) (Map, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("blockfile: open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("blockfile: stat %s: %w", path, err)
	}
	size := info.Size()
	if size == 0 {
		return &unixMap{data: nil}, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("blockfile: mmap %s: %w", path, err)
	}
	return &unixMap{data: data}, nil
}

func (m *unixMap) Bytes() []byte {
	return m.data
}

func (m *unixMap) Close() error {
	if m.data == nil {
		return nil
	}
	return unix.Munmap(m.data)
}
