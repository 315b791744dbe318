package geocore

import (
	"bytes"
	"fmt"
)

// walkGroupBTree reads a local heap's data-segment address and walks the
// v1 group B-tree rooted at btreeAddr, matching symbol names against the
// path state machine as it goes.
func (p *datasetParser) walkGroupBTree(btreeAddr, heapAddr int64) error {
	heapData, err := p.localHeapDataAddr(heapAddr)
	if err != nil {
		return err
	}
	return p.walkGroupBTreeNode(btreeAddr, heapData)
}

func (p *datasetParser) localHeapDataAddr(heapAddr int64) (int64, error) {
	magic, err := p.cache.ReadBytes(heapAddr, 4)
	if err != nil {
		return 0, err
	}
	if !bytes.Equal(magic, []byte("HEAP")) {
		return 0, fmt.Errorf("%w: bad local heap magic", ErrCorrupt)
	}
	ls, os := p.ctx.LengthSize, p.ctx.OffsetSize
	addr, err := readField(p.cache, heapAddr+8+2*int64(ls), os)
	if err != nil {
		return 0, err
	}
	return int64(addr), nil
}

func (p *datasetParser) walkGroupBTreeNode(nodeAddr, heapData int64) error {
	magic, err := p.cache.ReadBytes(nodeAddr, 4)
	if err != nil {
		return err
	}
	if !bytes.Equal(magic, []byte("TREE")) {
		return fmt.Errorf("%w: bad group B-tree node magic", ErrCorrupt)
	}
	nodeLevel, err := readField(p.cache, nodeAddr+5, 1)
	if err != nil {
		return err
	}
	entriesUsed, err := readField(p.cache, nodeAddr+6, 2)
	if err != nil {
		return err
	}

	pos := nodeAddr + 8 + 2*int64(p.ctx.OffsetSize) // skip left/right sibling addresses

	for i := uint64(0); i < entriesUsed; i++ {
		pos += int64(p.ctx.LengthSize) // key: local-heap offset of this entry's name, unused for traversal
		childAddr, err := readField(p.cache, pos, p.ctx.OffsetSize)
		if err != nil {
			return err
		}
		pos += int64(p.ctx.OffsetSize)

		if nodeLevel > 0 {
			if err := p.walkGroupBTreeNode(int64(childAddr), heapData); err != nil {
				return err
			}
		} else {
			if err := p.walkSymbolTableNode(int64(childAddr), heapData); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *datasetParser) walkSymbolTableNode(snodAddr, heapData int64) error {
	magic, err := p.cache.ReadBytes(snodAddr, 4)
	if err != nil {
		return err
	}
	if !bytes.Equal(magic, []byte("SNOD")) {
		return fmt.Errorf("%w: bad symbol table node magic", ErrCorrupt)
	}
	numSymbols, err := readField(p.cache, snodAddr+6, 2)
	if err != nil {
		return err
	}

	pos := snodAddr + 8
	os := int64(p.ctx.OffsetSize)
	for i := uint64(0); i < numSymbols; i++ {
		nameOffset, err := readField(p.cache, pos, p.ctx.OffsetSize)
		if err != nil {
			return err
		}
		pos += os
		objHeaderAddr, err := readField(p.cache, pos, p.ctx.OffsetSize)
		if err != nil {
			return err
		}
		pos += os
		pos += 4 + 4 + 16 // cache type, reserved, scratch-pad

		name, err := p.readCString(heapData + int64(nameOffset))
		if err != nil {
			return err
		}
		if err := p.matchAndDescend(name, int64(objHeaderAddr)); err != nil {
			return err
		}
	}
	return nil
}

func (p *datasetParser) readCString(addr int64) (string, error) {
	const chunk = 64
	var out []byte
	for {
		buf, err := p.cache.ReadBytes(addr+int64(len(out)), chunk)
		if err != nil {
			return "", err
		}
		for _, b := range buf {
			if b == 0 {
				return string(out), nil
			}
			out = append(out, b)
		}
		if len(out) > 4096 {
			return "", fmt.Errorf("%w: unterminated name string", ErrCorrupt)
		}
	}
}
