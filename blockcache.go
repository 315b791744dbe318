package geocore

import (
	"fmt"
	"io"
	"sync"
)

// IO_BLOCK_SIZE and IO_CACHE_MAX are the defaults from the configuration
// layer (config.go); both are overridable per BlockCache instance.
const (
	DefaultIoBlockSize = 1 << 20 // 1 MiB
	DefaultIoCacheMax  = 64
)

type cacheEntry struct {
	offset int64
	length int
	bytes  []byte
}

// contains reports whether the entry fully backs the requested byte range,
// the invariant every cache hit must satisfy (testable property 1).
func (e *cacheEntry) contains(offset int64, length int) bool {
	return e.offset <= offset && offset+int64(length) <= e.offset+int64(e.length)
}

// BlockCache is a bounded, FIFO-evicted cache of power-of-two-aligned byte
// ranges over a Stream. It never retries a failed read and never merges or
// splits entries: a miss always pulls a fresh aligned block.
type BlockCache struct {
	mu        sync.Mutex
	stream    Stream
	blockSize int64
	maxLen    int
	entries   map[int64]*cacheEntry
	order     []int64 // insertion order, for FIFO eviction
}

// NewBlockCache builds a cache over stream with the given block size (must
// be a power of two) and maximum number of resident entries.
func NewBlockCache(stream Stream, blockSize int64, maxEntries int) *BlockCache {
	if blockSize <= 0 {
		blockSize = DefaultIoBlockSize
	}
	if maxEntries <= 0 {
		maxEntries = DefaultIoCacheMax
	}
	return &BlockCache{
		stream:    stream,
		blockSize: blockSize,
		maxLen:    maxEntries,
		entries:   make(map[int64]*cacheEntry),
	}
}

func (c *BlockCache) alignedKey(offset int64) int64 {
	return offset &^ (c.blockSize - 1)
}

// ReadBytes returns a byte slice covering [offset, offset+length). The
// returned slice is only valid until the next call that triggers an
// eviction of its backing block — callers that need to retain data across
// calls must copy it out.
func (c *BlockCache) ReadBytes(offset int64, length int) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := c.alignedKey(offset)
	entry, ok := c.entries[key]
	if ok && entry.contains(offset, length) {
		start := offset - entry.offset
		return entry.bytes[start : start+int64(length)], nil
	}

	// Straddles the aligned boundary past a single block, or a fresh miss:
	// read a block starting at the aligned key, sized to cover the whole
	// request.
	readLen := c.blockSize
	if span := offset - key + int64(length); span > readLen {
		readLen = span
	}

	buf := make([]byte, readLen)
	if _, err := c.stream.Seek(key, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: seek to %d: %v", ErrIoError, key, err)
	}
	n, err := io.ReadFull(c.stream, buf)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		if int64(n) < offset-key+int64(length) {
			return nil, fmt.Errorf("%w: wanted %d got %d at offset %d", ErrIoShort, length, n, offset)
		}
		buf = buf[:n]
	} else if err != nil {
		return nil, fmt.Errorf("%w: read at %d: %v", ErrIoError, key, err)
	}

	newEntry := &cacheEntry{offset: key, length: len(buf), bytes: buf}
	c.insert(key, newEntry)

	start := offset - newEntry.offset
	if start < 0 || start+int64(length) > int64(len(newEntry.bytes)) {
		return nil, fmt.Errorf("%w: wanted %d got %d at offset %d", ErrIoShort, length, len(newEntry.bytes)-int(start), offset)
	}
	return newEntry.bytes[start : start+int64(length)], nil
}

// insert adds entry under key, evicting the oldest entry (FIFO on insertion
// order) once the cache is at capacity.
func (c *BlockCache) insert(key int64, entry *cacheEntry) {
	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
	}
	c.entries[key] = entry

	for len(c.order) > c.maxLen {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

// Len reports the number of resident cache entries, mainly for tests.
func (c *BlockCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
