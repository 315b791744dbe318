package geocore

import (
	"bytes"
	"fmt"
)

// descendFractalHeap reads an FRHP version-0 heap header and descends into
// its root block, replaying the Link records it holds against the path
// state machine. A heap with no root block (sentinel address) is empty and
// contributes nothing.
//
// The full FRHP header carries a number of statistics-only fields (huge /
// tiny object tracking, free-space accounting) that traversal never
// consults; this walk skips over them by width rather than naming each one.
func (p *datasetParser) descendFractalHeap(heapAddr int64) error {
	magic, err := p.cache.ReadBytes(heapAddr, 4)
	if err != nil {
		return err
	}
	if !bytes.Equal(magic, []byte("FRHP")) {
		return fmt.Errorf("%w: bad fractal heap magic", ErrCorrupt)
	}
	version, err := readField(p.cache, heapAddr+4, 1)
	if err != nil {
		return err
	}
	if version != 0 {
		return fmt.Errorf("%w: fractal heap version %d unsupported", ErrCorrupt, version)
	}

	ls, os := int64(p.ctx.LengthSize), int64(p.ctx.OffsetSize)

	flagsField, err := readField(p.cache, heapAddr+9, 1)
	if err != nil {
		return err
	}
	checksumDirectBlocks := flagsField&0x2 != 0

	// heap ID len(2) + I/O filter len(2) + flags(1) + max managed object
	// size(4) + next huge ID(ls) + huge ID B-tree addr(os) + free space(ls)
	// + free space manager addr(os) + managed space(ls) + allocated
	// space(ls) + iterator offset(ls) + managed objects(ls) + huge object
	// size(ls) + huge object count(ls) + tiny object size(ls) + tiny
	// object count(ls).
	pos := heapAddr + 5 + 2 + 2 + 1 + 4 + ls + os + ls + os + ls + ls + ls + ls + ls + ls + ls + ls

	tableWidth, err := readField(p.cache, pos, 2)
	if err != nil {
		return err
	}
	pos += 2
	startBlockSize, err := readField(p.cache, pos, int(ls))
	if err != nil {
		return err
	}
	pos += ls
	maxDirectBlockSize, err := readField(p.cache, pos, int(ls))
	if err != nil {
		return err
	}
	pos += ls
	pos += 2 // max heap size, in bits
	pos += 2 // starting # of rows in the root indirect block
	curRows, err := readField(p.cache, pos, 2)
	if err != nil {
		return err
	}
	pos += 2
	rootAddr, err := readField(p.cache, pos, int(os))
	if err != nil {
		return err
	}

	if isUndefinedAddress(rootAddr, int(os)) {
		return nil
	}

	if curRows == 0 {
		return p.replayDirectBlock(int64(rootAddr), int64(startBlockSize), checksumDirectBlocks)
	}
	return p.walkIndirectBlock(int64(rootAddr), int(tableWidth), int64(startBlockSize), int64(maxDirectBlockSize), int(curRows), checksumDirectBlocks)
}

// replayDirectBlock reads an FHDB block and replays its packed Link records
// until the block's declared size is exhausted or an all-zero slot (no
// further records) is seen.
func (p *datasetParser) replayDirectBlock(addr int64, blockSize int64, checksumDirectBlocks bool) error {
	magic, err := p.cache.ReadBytes(addr, 4)
	if err != nil {
		return err
	}
	if !bytes.Equal(magic, []byte("FHDB")) {
		return fmt.Errorf("%w: bad fractal heap direct block magic", ErrCorrupt)
	}

	pos := addr + 4 + 1 + int64(p.ctx.OffsetSize) // magic + version + back-pointer to FRHP
	pos += int64(p.ctx.OffsetSize)                // block offset field
	if checksumDirectBlocks {
		pos += 4
	}

	end := addr + blockSize
	for pos < end-2 {
		sentinel, err := p.cache.ReadBytes(pos, 2)
		if err != nil {
			return err
		}
		if sentinel[0] == 0 && sentinel[1] == 0 {
			break
		}

		remaining := end - pos
		chunkLen := remaining
		if chunkLen > 4096 {
			chunkLen = 4096
		}
		buf, err := p.cache.ReadBytes(pos, int(chunkLen))
		if err != nil {
			return err
		}

		name, linkType, objAddr, consumed, err := p.parseLinkMessage(buf)
		if err != nil {
			return err
		}
		if consumed == 0 {
			break
		}
		if linkType == 0 {
			if err := p.matchAndDescend(name, int64(objAddr)); err != nil {
				return err
			}
		}
		pos += int64(consumed)
	}
	return nil
}

// walkIndirectBlock reads an FHIB block's row of direct/indirect child
// pointers and recurses into each non-undefined child.
func (p *datasetParser) walkIndirectBlock(addr int64, tableWidth int, startBlockSize, maxDirectBlockSize int64, rows int, checksumDirectBlocks bool) error {
	magic, err := p.cache.ReadBytes(addr, 4)
	if err != nil {
		return err
	}
	if !bytes.Equal(magic, []byte("FHIB")) {
		return fmt.Errorf("%w: bad fractal heap indirect block magic", ErrCorrupt)
	}

	pos := addr + 4 + 1 + int64(p.ctx.OffsetSize) + int64(p.ctx.OffsetSize) // magic + version + heap header back-pointer + block offset field

	blockSize := startBlockSize
	for row := 0; row < rows; row++ {
		if row >= 2 {
			blockSize *= 2
		}
		for col := 0; col < tableWidth; col++ {
			childAddr, err := readField(p.cache, pos, p.ctx.OffsetSize)
			if err != nil {
				return err
			}
			pos += int64(p.ctx.OffsetSize)

			if isUndefinedAddress(childAddr, p.ctx.OffsetSize) {
				continue
			}
			if blockSize <= maxDirectBlockSize {
				if err := p.replayDirectBlock(int64(childAddr), blockSize, checksumDirectBlocks); err != nil {
					return err
				}
			} else {
				if err := p.walkIndirectBlock(int64(childAddr), tableWidth, startBlockSize, maxDirectBlockSize, rows-row-1, checksumDirectBlocks); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
