package geocore

import "fmt"

func (p *datasetParser) handleDataspace(data []byte) error {
	if len(data) < 8 {
		return fmt.Errorf("%w: truncated dataspace message", ErrCorrupt)
	}
	dimensionality := int(data[1])
	if dimensionality > MaxNdims {
		return fmt.Errorf("%w: dimensionality %d exceeds MaxNdims", ErrCorrupt, dimensionality)
	}

	pos := 8
	var dims [MaxNdims]uint64
	for i := 0; i < dimensionality; i++ {
		if pos+p.ctx.LengthSize > len(data) {
			return fmt.Errorf("%w: truncated dataspace dimensions", ErrCorrupt)
		}
		dims[i] = decodeLE(data[pos : pos+p.ctx.LengthSize])
		pos += p.ctx.LengthSize
	}
	p.descriptor.NumDims = dimensionality
	p.descriptor.Dimensions = dims
	return nil
}

func (p *datasetParser) handleLinkInfo(data []byte) error {
	if len(data) < 2 {
		return fmt.Errorf("%w: truncated link info message", ErrCorrupt)
	}
	flags := data[1]
	pos := 2
	if flags&0x1 != 0 {
		pos += 8 // max creation index, unused for traversal
	}
	if pos+p.ctx.OffsetSize > len(data) {
		return fmt.Errorf("%w: truncated link info message", ErrCorrupt)
	}
	heapAddr := decodeLE(data[pos : pos+p.ctx.OffsetSize])
	if isUndefinedAddress(heapAddr, p.ctx.OffsetSize) {
		return nil
	}
	return p.descendFractalHeap(int64(heapAddr))
}

func (p *datasetParser) handleDatatype(data []byte) error {
	if len(data) < 8 {
		return fmt.Errorf("%w: truncated datatype message", ErrCorrupt)
	}
	class := data[0] & 0x0F
	size := decodeLE(data[4:8])
	p.descriptor.TypeSize = int(size)

	switch class {
	case 0:
		p.descriptor.DataType = FixedPoint
	case 1:
		p.descriptor.DataType = FloatingPoint
	case 3:
		p.descriptor.DataType = StringType
	case 4:
		p.descriptor.DataType = BitField
	default:
		p.descriptor.DataType = OtherDataType
	}
	return nil
}

func (p *datasetParser) handleFillValue(data []byte) error {
	if len(data) < 1 {
		return fmt.Errorf("%w: truncated fill value message", ErrCorrupt)
	}
	version := data[0]

	var size, valueOffset int
	switch {
	case version <= 2:
		if len(data) < 8 {
			return nil
		}
		size = int(decodeLE(data[4:8]))
		valueOffset = 8
	default:
		if len(data) < 6 {
			return fmt.Errorf("%w: truncated fill value message", ErrCorrupt)
		}
		if data[1]&0x20 == 0 {
			return nil // fill value not defined
		}
		size = int(decodeLE(data[2:6]))
		valueOffset = 6
	}

	if size <= 0 {
		return nil
	}
	if size > 8 {
		return fmt.Errorf("%w: fill value of %d bytes", ErrUnsupportedFill, size)
	}
	if valueOffset+size > len(data) {
		return fmt.Errorf("%w: truncated fill value", ErrCorrupt)
	}
	copy(p.descriptor.FillValue[:], data[valueOffset:valueOffset+size])
	p.descriptor.FillSize = size
	return nil
}

// parseLinkMessage decodes one serialized Link message body — used both for
// the object-header Link message (0x06) and when replaying link records out
// of a fractal heap direct block, where records are packed back-to-back
// with no surrounding message framing.
func (p *datasetParser) parseLinkMessage(data []byte) (name string, linkType byte, addr uint64, consumed int, err error) {
	if len(data) < 2 {
		return "", 0, 0, 0, fmt.Errorf("%w: truncated link message", ErrCorrupt)
	}
	flags := data[1]
	pos := 2
	if flags&0x8 != 0 {
		linkType = data[pos]
		pos++
	}
	if flags&0x4 != 0 {
		pos += 8 // creation order
	}
	if flags&0x10 != 0 {
		pos += 1 // link name charset
	}
	nameLenSize := 1 << uint(flags&0x3)
	if pos+nameLenSize > len(data) {
		return "", 0, 0, 0, fmt.Errorf("%w: truncated link message", ErrCorrupt)
	}
	nameLen := int(decodeLE(data[pos : pos+nameLenSize]))
	pos += nameLenSize
	if pos+nameLen > len(data) {
		return "", 0, 0, 0, fmt.Errorf("%w: truncated link message", ErrCorrupt)
	}
	name = string(data[pos : pos+nameLen])
	pos += nameLen

	if linkType == 0 { // hard link: object header address follows
		if pos+p.ctx.OffsetSize > len(data) {
			return "", 0, 0, 0, fmt.Errorf("%w: truncated link message", ErrCorrupt)
		}
		addr = decodeLE(data[pos : pos+p.ctx.OffsetSize])
		pos += p.ctx.OffsetSize
	}
	return name, linkType, addr, pos, nil
}

func (p *datasetParser) handleLink(data []byte) error {
	name, linkType, addr, _, err := p.parseLinkMessage(data)
	if err != nil {
		return err
	}
	if linkType != 0 {
		return nil // soft/external links are not followed
	}
	return p.matchAndDescend(name, int64(addr))
}

// matchAndDescend advances the path state machine: if name matches the
// segment at currentLevel, bump the level and recurse into the referenced
// object header.
func (p *datasetParser) matchAndDescend(name string, objHeaderAddr int64) error {
	if p.currentLevel >= len(p.segments) || name != p.segments[p.currentLevel] {
		return nil
	}
	p.bumpLevel()
	if err := p.visitObjectHeader(objHeaderAddr); err != nil {
		return err
	}
	if !p.terminal() {
		// didn't resolve all the way — back off so a sibling link at this
		// level can still be tried
		p.currentLevel--
	}
	return nil
}

func (p *datasetParser) handleDataLayout(data []byte) error {
	if len(data) < 2 {
		return fmt.Errorf("%w: truncated data layout message", ErrCorrupt)
	}
	layoutClass := data[1]
	pos := 2

	switch layoutClass {
	case 0: // compact
		if pos+2 > len(data) {
			return fmt.Errorf("%w: truncated compact layout", ErrCorrupt)
		}
		size := int(decodeLE(data[pos : pos+2]))
		pos += 2
		if pos+size > len(data) {
			return fmt.Errorf("%w: truncated compact layout data", ErrCorrupt)
		}
		p.descriptor.Layout = Compact
		p.descriptor.DataSize = int64(size)
		p.descriptor.compactData = append([]byte(nil), data[pos:pos+size]...)

	case 1: // contiguous
		if pos+p.ctx.OffsetSize+p.ctx.LengthSize > len(data) {
			return fmt.Errorf("%w: truncated contiguous layout", ErrCorrupt)
		}
		addr := decodeLE(data[pos : pos+p.ctx.OffsetSize])
		pos += p.ctx.OffsetSize
		size := decodeLE(data[pos : pos+p.ctx.LengthSize])
		p.descriptor.Layout = Contiguous
		p.descriptor.DataAddress = int64(addr)
		p.descriptor.DataSize = int64(size)

	case 2: // chunked
		if pos+1+p.ctx.OffsetSize > len(data) {
			return fmt.Errorf("%w: truncated chunked layout", ErrCorrupt)
		}
		storedDims := int(data[pos]) // dimensionality + 1 per §4.2
		pos++
		addr := decodeLE(data[pos : pos+p.ctx.OffsetSize])
		pos += p.ctx.OffsetSize

		var dims [MaxNdims]uint64
		ndims := storedDims - 1
		for i := 0; i < ndims; i++ {
			if pos+4 > len(data) {
				return fmt.Errorf("%w: truncated chunk dimensions", ErrCorrupt)
			}
			dims[i] = decodeLE(data[pos : pos+4])
			pos += 4
		}
		if pos+4 > len(data) {
			return fmt.Errorf("%w: truncated chunk element size", ErrCorrupt)
		}
		elemSize := decodeLE(data[pos : pos+4])

		p.descriptor.Layout = Chunked
		p.descriptor.DataAddress = int64(addr)
		p.descriptor.ChunkElementsPerDim = dims
		p.descriptor.ChunkElementSize = int(elemSize)

		chunkElems := uint64(1)
		for i := 0; i < ndims; i++ {
			chunkElems *= dims[i]
		}
		p.descriptor.ChunkBufferBytes = int64(chunkElems) * int64(elemSize)
		p.descriptor.ensureChunkBuffers(p.descriptor.ChunkBufferBytes)

	default:
		return fmt.Errorf("%w: unsupported data layout class %d", ErrCorrupt, layoutClass)
	}

	p.layoutSeen = true
	return nil
}

func (p *datasetParser) handleFilterPipeline(data []byte) error {
	if len(data) < 2 {
		return fmt.Errorf("%w: truncated filter pipeline message", ErrCorrupt)
	}
	version := data[0]
	numFilters := int(data[1])
	pos := 2
	if version == 1 {
		pos += 6 // reserved
	}

	filters := make([]FilterSpec, 0, numFilters)
	for i := 0; i < numFilters && pos+6 <= len(data); i++ {
		id := decodeLE(data[pos : pos+2])
		pos += 2

		var nameLen int
		if id >= 256 {
			nameLen = int(decodeLE(data[pos : pos+2]))
			pos += 2
		}
		pos += 2 // flags
		numValues := int(decodeLE(data[pos : pos+2]))
		pos += 2

		if nameLen > 0 {
			pos += nameLen
			if pad := nameLen % 8; pad != 0 {
				pos += 8 - pad
			}
		}

		values := make([]uint32, 0, numValues)
		for j := 0; j < numValues && pos+4 <= len(data); j++ {
			values = append(values, uint32(decodeLE(data[pos:pos+4])))
			pos += 4
		}
		if numValues%2 != 0 {
			pos += 4 // padding to 8-byte boundary
		}

		filters = append(filters, FilterSpec{ID: FilterKind(id), Params: values})
	}
	p.descriptor.Filters = filters
	return nil
}

func (p *datasetParser) handleSymbolTable(data []byte) error {
	if len(data) < 2*p.ctx.OffsetSize {
		return fmt.Errorf("%w: truncated symbol table message", ErrCorrupt)
	}
	btreeAddr := decodeLE(data[0:p.ctx.OffsetSize])
	heapAddr := decodeLE(data[p.ctx.OffsetSize : 2*p.ctx.OffsetSize])
	return p.walkGroupBTree(int64(btreeAddr), int64(heapAddr))
}
