package geocore

import (
	"bytes"
	"compress/flate"
	"fmt"
	"io"
)

// inflateInto decompresses raw (no gzip wrapper) DEFLATE data from src into
// dst, which must already be sized to the declared decompressed length. A
// short or incomplete stream fails with ErrInflateIncomplete.
func inflateInto(src []byte, dst []byte) error {
	r := flate.NewReader(bytes.NewReader(src))
	defer r.Close()

	n, err := io.ReadFull(r, dst)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return fmt.Errorf("%w: %v", ErrInflateIncomplete, err)
	}
	if n < len(dst) {
		return fmt.Errorf("%w: got %d of %d bytes", ErrInflateIncomplete, n, len(dst))
	}
	return nil
}

// inverseShuffle undoes the HDF5 shuffle filter: for N elements of T bytes
// each (T in [1,8]), byte (e*T+b) of the output is byte (b*N+e) of the
// input, i.e. the filter had de-interleaved each element's bytes into T
// contiguous planes.
func inverseShuffle(src []byte, dst []byte, typeSize int) error {
	if typeSize < 1 || typeSize > 8 {
		return fmt.Errorf("%w: shuffle type size %d out of range", ErrCorrupt, typeSize)
	}
	if len(src)%typeSize != 0 {
		return fmt.Errorf("%w: shuffle buffer not a multiple of type size", ErrCorrupt)
	}
	n := len(src) / typeSize
	for e := 0; e < n; e++ {
		for b := 0; b < typeSize; b++ {
			dst[e*typeSize+b] = src[b*n+e]
		}
	}
	return nil
}

// shuffle applies the forward HDF5 shuffle transform — the inverse of
// inverseShuffle — used by tests to build round-trip fixtures.
func shuffle(src []byte, dst []byte, typeSize int) error {
	if typeSize < 1 || typeSize > 8 {
		return fmt.Errorf("%w: shuffle type size %d out of range", ErrCorrupt, typeSize)
	}
	if len(src)%typeSize != 0 {
		return fmt.Errorf("%w: shuffle buffer not a multiple of type size", ErrCorrupt)
	}
	n := len(src) / typeSize
	for e := 0; e < n; e++ {
		for b := 0; b < typeSize; b++ {
			dst[b*n+e] = src[e*typeSize+b]
		}
	}
	return nil
}
