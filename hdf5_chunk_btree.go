package geocore

import (
	"bytes"
	"fmt"
)

type chunkKey struct {
	chunkSizeBytes uint32
	filterMask     uint32
	slice          [MaxNdims]uint64
}

// readChunkedRows walks the chunk B-tree rooted at the descriptor's data
// address and assembles the requested row range into a freshly allocated,
// row-major output buffer.
func (p *datasetParser) readChunkedRows(start, count uint64) ([]byte, error) {
	d := p.descriptor
	rowElems := uint64(1)
	for i := 1; i < d.NumDims; i++ {
		rowElems *= d.Dimensions[i]
	}
	rowBytes := rowElems * uint64(d.TypeSize)

	out := make([]byte, count*rowBytes)
	d.ensureChunkBuffers(d.ChunkBufferBytes)

	if err := p.walkChunkBTreeNode(d.DataAddress, start, count, rowBytes, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *datasetParser) chunkKeySize() int64 {
	return 4 + 4 + int64(p.descriptor.NumDims)*8 + 8
}

func (p *datasetParser) readChunkKey(pos int64) (chunkKey, error) {
	chunkSizeBytes, err := readField(p.cache, pos, 4)
	if err != nil {
		return chunkKey{}, err
	}
	filterMask, err := readField(p.cache, pos+4, 4)
	if err != nil {
		return chunkKey{}, err
	}

	var slice [MaxNdims]uint64
	for i := 0; i < p.descriptor.NumDims; i++ {
		v, err := readField(p.cache, pos+8+int64(i)*8, 8)
		if err != nil {
			return chunkKey{}, err
		}
		slice[i] = v
	}

	trailingZero, err := readField(p.cache, pos+8+int64(p.descriptor.NumDims)*8, 8)
	if err != nil {
		return chunkKey{}, err
	}
	if p.descriptor.TypeSize > 0 && trailingZero%uint64(p.descriptor.TypeSize) != 0 {
		return chunkKey{}, fmt.Errorf("%w: chunk key trailing zero not a multiple of type size", ErrCorrupt)
	}

	return chunkKey{
		chunkSizeBytes: uint32(chunkSizeBytes),
		filterMask:     uint32(filterMask),
		slice:          slice,
	}, nil
}

func (p *datasetParser) walkChunkBTreeNode(nodeAddr int64, start, count, rowBytes uint64, out []byte) error {
	magic, err := p.cache.ReadBytes(nodeAddr, 4)
	if err != nil {
		return err
	}
	if !bytes.Equal(magic, []byte("TREE")) {
		return fmt.Errorf("%w: bad chunk B-tree node magic", ErrCorrupt)
	}
	nodeLevel, err := readField(p.cache, nodeAddr+5, 1)
	if err != nil {
		return err
	}
	entriesUsed, err := readField(p.cache, nodeAddr+6, 2)
	if err != nil {
		return err
	}

	keySize := p.chunkKeySize()
	pos := nodeAddr + 8 + 2*int64(p.ctx.OffsetSize)

	for i := uint64(0); i < entriesUsed; i++ {
		key, err := p.readChunkKey(pos)
		if err != nil {
			return err
		}
		pos += keySize

		childAddr, err := readField(p.cache, pos, p.ctx.OffsetSize)
		if err != nil {
			return err
		}
		pos += int64(p.ctx.OffsetSize)

		rowStart := key.slice[0]
		chunkRows := p.descriptor.ChunkElementsPerDim[0]
		if chunkRows == 0 || rowStart+chunkRows <= start || rowStart >= start+count {
			continue
		}
		if isUndefinedAddress(childAddr, p.ctx.OffsetSize) {
			return fmt.Errorf("%w: undefined chunk address in B-tree node", ErrCorrupt)
		}

		if nodeLevel > 0 {
			if err := p.walkChunkBTreeNode(int64(childAddr), start, count, rowBytes, out); err != nil {
				return err
			}
		} else {
			if err := p.copyChunk(int64(childAddr), key, start, count, rowBytes, out); err != nil {
				return err
			}
		}
	}
	return nil
}

// copyChunk reads, inflates, and un-shuffles one leaf chunk as needed, then
// copies its overlap with [start, start+count) into out.
func (p *datasetParser) copyChunk(addr int64, key chunkKey, start, count, rowBytes uint64, out []byte) error {
	d := p.descriptor
	chunkRowStart := key.slice[0]
	chunkBytes := d.ChunkElementsPerDim[0] * rowBytes

	var payload []byte
	if _, ok := d.hasFilter(FilterDeflate); ok {
		raw, err := p.cache.ReadBytes(addr, int(key.chunkSizeBytes))
		if err != nil {
			return err
		}
		if err := inflateInto(raw, d.chunkBuffer[:chunkBytes]); err != nil {
			return err
		}
		payload = d.chunkBuffer[:chunkBytes]
	} else {
		raw, err := p.cache.ReadBytes(addr, int(chunkBytes))
		if err != nil {
			return err
		}
		payload = raw
	}

	if _, ok := d.hasFilter(FilterShuffle); ok {
		if err := inverseShuffle(payload, d.shuffleBuffer[:len(payload)], d.TypeSize); err != nil {
			return err
		}
		payload = d.shuffleBuffer[:len(payload)]
	}

	var bufferIndex, chunkIndex uint64
	if chunkRowStart >= start {
		bufferIndex = (chunkRowStart - start) * rowBytes
	} else {
		chunkIndex = (start - chunkRowStart) * rowBytes
	}

	remaining := uint64(len(out)) - bufferIndex
	avail := uint64(len(payload)) - chunkIndex
	n := remaining
	if avail < n {
		n = avail
	}
	copy(out[bufferIndex:bufferIndex+n], payload[chunkIndex:chunkIndex+n])
	return nil
}
