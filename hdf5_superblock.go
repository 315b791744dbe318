package geocore

import (
	"bytes"
	"fmt"
)

var hdf5Signature = []byte{0x89, 'H', 'D', 'F', '\r', '\n', 0x1a, '\n'}

// ParseSuperblock reads the fixed-position fields of an HDF5 v0 superblock
// at offset 0 and returns the FileContext shared by every dataset read
// against this file.
func ParseSuperblock(cache *BlockCache) (*FileContext, error) {
	magic, err := cache.ReadBytes(0, 8)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(magic, hdf5Signature) {
		return nil, fmt.Errorf("%w: bad HDF5 signature", ErrCorrupt)
	}

	version, err := readField(cache, 8, 1)
	if err != nil {
		return nil, err
	}
	if version != 0 {
		return nil, fmt.Errorf("%w: superblock version %d unsupported", ErrCorrupt, version)
	}

	offsetSize, err := readField(cache, 13, 1)
	if err != nil {
		return nil, err
	}
	lengthSize, err := readField(cache, 14, 1)
	if err != nil {
		return nil, err
	}
	groupLeafK, err := readField(cache, 16, 2)
	if err != nil {
		return nil, err
	}
	groupInternalK, err := readField(cache, 18, 2)
	if err != nil {
		return nil, err
	}

	// base address, free-space address, EOF address, driver-info address,
	// then the root group symbol table entry's link-name-offset field —
	// all offset_size bytes each — precede the object header address we
	// actually need.
	pos := int64(24) + 5*int64(offsetSize)
	rootAddr, err := readField(cache, pos, int(offsetSize))
	if err != nil {
		return nil, err
	}

	return &FileContext{
		OffsetSize:     int(offsetSize),
		LengthSize:     int(lengthSize),
		GroupLeafK:     int(groupLeafK),
		GroupInternalK: int(groupInternalK),
		RootGroupAddr:  int64(rootAddr),
	}, nil
}
