//go:build !unix

package blockfile

import (
	"fmt"
	"os"
)

// bufferMap is the non-mmap fallback: it reads the whole file into a
// buffer and presents the same byte-range interface, per spec §4.1.
type bufferMap struct {
	data []byte
}

func openMap(path string) (Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("blockfile: read %s: %w", path, err)
	}
	return &bufferMap{data: data}, nil
}

func (m *bufferMap) Bytes() []byte {
	return m.data
}

func (m *bufferMap) Close() error {
	m.data = nil
	return nil
}
