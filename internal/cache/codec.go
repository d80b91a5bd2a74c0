package cache

import (
	"fmt"

	"github.com/golang/snappy"
)

// Values above this size are snappy-compressed before hitting the
// backend. Small values are not worth the CPU.
const compressThreshold = 1024

const (
	codecRaw    byte = 0x00
	codecSnappy byte = 0x01
)

// encode prefixes the value with a one-byte codec flag, compressing
// when it pays off.
func encode(value []byte) []byte {
	if len(value) < compressThreshold {
		return append([]byte{codecRaw}, value...)
	}
	compressed := snappy.Encode(nil, value)
	if len(compressed) >= len(value) {
		return append([]byte{codecRaw}, value...)
	}
	return append([]byte{codecSnappy}, compressed...)
}

// decode reverses encode.
func decode(stored []byte) ([]byte, error) {
	if len(stored) == 0 {
		return nil, fmt.Errorf("cache: empty stored value")
	}
	switch stored[0] {
	case codecRaw:
		return stored[1:], nil
	case codecSnappy:
		out, err := snappy.Decode(nil, stored[1:])
		if err != nil {
			return nil, fmt.Errorf("cache: snappy decode: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cache: unknown codec flag 0x%02x", stored[0])
	}
}
