package protocol

import (
	"fmt"
	"os"
)

// ProtonHash computes the checksum the server announces for the item
// database file.
func ProtonHash(data []byte) uint32 {
	h := uint32(0x55555555)
	for _, b := range data {
		h = (h >> 27) + (h << 5) + uint32(b)
	}
	return h
}

// HashFile reads path and returns its ProtonHash along with the raw bytes.
func HashFile(path string) (uint32, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return ProtonHash(data), data, nil
}
