package geocore

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeStream(t *testing.T, size int) (*bytes.Reader, []byte) {
	t.Helper()
	data := make([]byte, size)
	rand.New(rand.NewSource(1)).Read(data)
	return bytes.NewReader(data), data
}

func TestBlockCacheContainmentInvariant(t *testing.T) {
	stream, data := makeStream(t, 1<<16)
	cache := NewBlockCache(stream, 4096, 8)

	got, err := cache.ReadBytes(10, 100)
	require.NoError(t, err)
	assert.Equal(t, data[10:110], got)

	// A request fully inside an already-resident aligned block is a cache
	// hit and must return identical bytes without growing resident count.
	before := cache.Len()
	got2, err := cache.ReadBytes(20, 50)
	require.NoError(t, err)
	assert.Equal(t, data[20:70], got2)
	assert.Equal(t, before, cache.Len())
}

func TestBlockCacheSpansAlignedBoundary(t *testing.T) {
	stream, data := makeStream(t, 1<<14)
	cache := NewBlockCache(stream, 4096, 8)

	// A request straddling a block boundary must still return exactly the
	// requested bytes, even though it spans two aligned blocks.
	got, err := cache.ReadBytes(4090, 20)
	require.NoError(t, err)
	assert.Equal(t, data[4090:4110], got)
}

func TestBlockCacheFIFOEviction(t *testing.T) {
	stream, _ := makeStream(t, 1<<20)
	cache := NewBlockCache(stream, 4096, 2)

	_, err := cache.ReadBytes(0, 10)
	require.NoError(t, err)
	_, err = cache.ReadBytes(4096, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, cache.Len())

	// A third distinct block evicts the oldest (offset 0) entry.
	_, err = cache.ReadBytes(8192, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, cache.Len())
}

func TestBlockCacheShortReadError(t *testing.T) {
	stream, _ := makeStream(t, 100)
	cache := NewBlockCache(stream, 4096, 8)

	_, err := cache.ReadBytes(0, 200)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIoShort)
}
