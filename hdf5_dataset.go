package geocore

import (
	"errors"
	"fmt"
)

// ReadDataset is the HDF5 parser's entry point (§4.2): it resolves path
// against ctx's root group, then reads [start_row, start_row+num_rows) of
// the located dataset through the block cache.
func ReadDataset(cache *BlockCache, ctx *FileContext, path string, startRow, numRows uint64) (*DatasetResult, error) {
	result, err := readDataset(cache, ctx, path, startRow, numRows)
	switch {
	case errors.Is(err, ErrCorrupt), errors.Is(err, ErrInflateIncomplete):
		LogCritical(err, fmt.Sprintf("dataset read failed for %q", path))
	case errors.Is(err, ErrIoError), errors.Is(err, ErrIoShort):
		LogError(err, fmt.Sprintf("dataset read failed for %q", path))
	}
	return result, err
}

func readDataset(cache *BlockCache, ctx *FileContext, path string, startRow, numRows uint64) (*DatasetResult, error) {
	p := &datasetParser{
		ctx:        ctx,
		cache:      cache,
		segments:   splitPath(path),
		descriptor: &DatasetDescriptor{},
	}

	if err := p.visitObjectHeader(ctx.RootGroupAddr); err != nil {
		return nil, err
	}
	if !p.terminal() {
		return nil, fmt.Errorf("%w: resolved %d of %d path segments", ErrInvalidPath, p.currentLevel, len(p.segments))
	}
	if !p.layoutSeen {
		return nil, fmt.Errorf("%w: no data layout message at terminal object", ErrInvalidPath)
	}

	d := p.descriptor
	d.HighestLevelReached = p.highest

	if d.NumDims == 0 {
		return nil, fmt.Errorf("%w: dataset has no dataspace", ErrCorrupt)
	}
	if startRow+numRows > d.Dimensions[0] {
		return nil, fmt.Errorf("%w: rows [%d,%d) exceed dimension 0 size %d", ErrOutOfRange, startRow, startRow+numRows, d.Dimensions[0])
	}
	if d.Layout == Chunked && d.ChunkElementSize != d.TypeSize {
		return nil, fmt.Errorf("%w: chunk element size %d != type size %d", ErrCorrupt, d.ChunkElementSize, d.TypeSize)
	}
	if len(d.Filters) > 0 && d.Layout != Chunked {
		return nil, fmt.Errorf("%w: filter pipeline present on non-chunked layout", ErrCorrupt)
	}

	rowElems := uint64(1)
	for i := 1; i < d.NumDims; i++ {
		rowElems *= d.Dimensions[i]
	}
	rowBytes := rowElems * uint64(d.TypeSize)

	var data []byte
	var err error
	switch d.Layout {
	case Compact:
		data = sliceRows(d.compactData, startRow, numRows, rowBytes)
	case Contiguous:
		data, err = cache.ReadBytes(d.DataAddress+int64(startRow*rowBytes), int(numRows*rowBytes))
	case Chunked:
		data, err = p.readChunkedRows(startRow, numRows)
	default:
		err = fmt.Errorf("%w: unknown layout", ErrCorrupt)
	}
	if err != nil {
		return nil, err
	}

	cols := 1
	if d.NumDims > 1 {
		cols = int(rowElems)
	}

	return &DatasetResult{
		Data:     data,
		TypeSize: d.TypeSize,
		Elements: int(numRows) * int(rowElems),
		Rows:     int(numRows),
		Cols:     cols,
		DataType: d.DataType,
	}, nil
}

func sliceRows(data []byte, start, count, rowBytes uint64) []byte {
	lo := start * rowBytes
	hi := lo + count*rowBytes
	if hi > uint64(len(data)) {
		hi = uint64(len(data))
	}
	if lo > hi {
		lo = hi
	}
	return data[lo:hi]
}
