package geocore

import (
	"encoding/binary"
	"fmt"
)

// readField decodes a little-endian unsigned integer of size bytes (1, 2,
// 4, or 8) from the cache and returns it as a native uint64. It serves the
// length, offset and count fields read straight from the cache; fields
// inside an already-read message buffer go through decodeLE instead.
func readField(cache *BlockCache, offset int64, size int) (uint64, error) {
	buf, err := cache.ReadBytes(offset, size)
	if err != nil {
		return 0, err
	}
	switch size {
	case 1:
		return uint64(buf[0]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(buf)), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(buf)), nil
	case 8:
		return binary.LittleEndian.Uint64(buf), nil
	default:
		return 0, fmt.Errorf("%w: unsupported field size %d", ErrCorrupt, size)
	}
}

// decodeLE decodes a little-endian unsigned integer from a byte slice of up
// to 8 bytes, for fields already pulled out of a larger message buffer.
func decodeLE(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// isUndefinedAddress reports whether a decoded offset/address field is the
// HDF5 "undefined address" sentinel: all bits set for the given size.
func isUndefinedAddress(value uint64, size int) bool {
	var mask uint64
	if size >= 8 {
		mask = ^uint64(0)
	} else {
		mask = (uint64(1) << uint(size*8)) - 1
	}
	return value&mask == mask
}
