package geocore

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildSyntheticHdf5 hand-assembles the smallest HDF5 v0 file this parser's
// object-header/B-tree/local-heap/symbol-table-node chain can resolve: a
// root group with one child, a 1-D contiguous float64 dataset named "dem"
// holding values[i] = 1.5*i. Every byte offset below mirrors exactly what
// hdf5_superblock.go/hdf5_objectheader.go/hdf5_group_btree.go read, so this
// exercises the real superblock-to-dataset path end to end (a contiguous
// counterpart of §8 S1; no chunked case) rather than mocking any layer.
func buildSyntheticHdf5(t *testing.T, values []float64) []byte {
	t.Helper()
	const (
		offsetSize = 8
		lengthSize = 8

		superblockEnd = 72
		rootHdrAddr   = superblockEnd
		rootHdrEnd    = rootHdrAddr + 40
		btreeAddr     = rootHdrEnd
		btreeEnd      = btreeAddr + 40
		heapAddr      = btreeEnd
		heapHdrEnd    = heapAddr + 32
		heapDataAddr  = heapHdrEnd
		heapDataEnd   = heapDataAddr + 8
		snodAddr      = heapDataEnd
		snodEnd       = snodAddr + 48
		dsetHdrAddr   = snodEnd
		dsetHdrEnd    = dsetHdrAddr + 82
		dataAddr      = dsetHdrEnd
	)
	dataSize := len(values) * 8
	buf := make([]byte, dataAddr+dataSize)

	le16 := func(off int, v uint16) { binary.LittleEndian.PutUint16(buf[off:], v) }
	le32 := func(off int, v uint32) { binary.LittleEndian.PutUint32(buf[off:], v) }
	le64 := func(off int, v uint64) { binary.LittleEndian.PutUint64(buf[off:], v) }

	// --- superblock ---
	copy(buf[0:8], hdf5Signature)
	buf[8] = 0 // superblock version
	buf[13] = offsetSize
	buf[14] = lengthSize
	le16(16, 4)  // group leaf K
	le16(18, 16) // group internal K
	le64(24+5*offsetSize, uint64(rootHdrAddr))

	// --- root group object header (v1): one Symbol Table message ---
	buf[rootHdrAddr] = 1   // version
	le16(rootHdrAddr+2, 1) // total messages
	le32(rootHdrAddr+8, 24) // header size: 8 (msg header) + 16 (payload)
	msgCur := rootHdrAddr + 16
	le16(msgCur, MsgSymbolTable)
	le16(msgCur+2, 16)
	le64(msgCur+8, uint64(btreeAddr))
	le64(msgCur+8+8, uint64(heapAddr))

	// --- group B-tree node: one leaf entry pointing at the SNOD ---
	copy(buf[btreeAddr:], "TREE")
	buf[btreeAddr+5] = 0  // node level: leaf
	le16(btreeAddr+6, 1)  // entries used
	// [btreeAddr+8, btreeAddr+24) left/right sibling addresses, unused (zero)
	entryPos := btreeAddr + 24 + lengthSize // skip the one key
	le64(entryPos, uint64(snodAddr))

	// --- local heap: header + one-string data segment ---
	copy(buf[heapAddr:], "HEAP")
	le64(heapAddr+8+2*lengthSize, uint64(heapDataAddr))
	copy(buf[heapDataAddr:], "dem\x00")

	// --- symbol table node: one entry, name "dem" -> dataset header ---
	copy(buf[snodAddr:], "SNOD")
	le16(snodAddr+6, 1) // symbol count
	entryPos = snodAddr + 8
	le64(entryPos, 0) // name offset into the local heap data segment
	le64(entryPos+offsetSize, uint64(dsetHdrAddr))

	// --- dataset object header (v1): Dataspace, Datatype, DataLayout ---
	buf[dsetHdrAddr] = 1
	le16(dsetHdrAddr+2, 3)  // total messages
	le32(dsetHdrAddr+8, 66) // header size: 3 messages, 24+16+26 bytes
	cur := dsetHdrAddr + 16

	// Dataspace: 1-D, dims[0] = len(values)
	le16(cur, MsgDataspace)
	le16(cur+2, 16) // payload length
	data := cur + 8
	buf[data] = 1              // version
	buf[data+1] = 1            // dimensionality
	le64(data+8, uint64(len(values)))
	cur = data + 16

	// Datatype: class 1 (floating point), size 8
	le16(cur, MsgDatatype)
	le16(cur+2, 8)
	data = cur + 8
	buf[data] = 1 // class nibble = FloatingPoint
	le32(data+4, 8)
	cur = data + 8

	// DataLayout: contiguous, at dataAddr, dataSize bytes
	le16(cur, MsgDataLayout)
	le16(cur+2, 18)
	data = cur + 8
	buf[data] = 3   // layout version, unused by the reader
	buf[data+1] = 1 // layout class: contiguous
	le64(data+2, uint64(dataAddr))
	le64(data+2+offsetSize, uint64(dataSize))
	cur = data + 18
	require.Equal(t, dsetHdrEnd, cur)

	// --- raw contiguous data ---
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[dataAddr+i*8:], math.Float64bits(v))
	}

	return buf
}

func TestReadDatasetEndToEndOverSyntheticFile(t *testing.T) {
	values := make([]float64, 10)
	for i := range values {
		values[i] = 1.5 * float64(i)
	}
	raw := buildSyntheticHdf5(t, values)

	cache := NewBlockCache(bytes.NewReader(raw), 128, 8)
	ctx, err := ParseSuperblock(cache)
	require.NoError(t, err)
	require.NotZero(t, ctx.RootGroupAddr)

	result, err := ReadDataset(cache, ctx, "/dem", 2, 3)
	require.NoError(t, err)
	require.Equal(t, FloatingPoint, result.DataType)
	require.Equal(t, 8, result.TypeSize)
	require.Equal(t, 3, result.Rows)
	require.Equal(t, 1, result.Cols)

	got, err := result.Float64Values()
	require.NoError(t, err)
	require.Equal(t, []float64{3.0, 4.5, 6.0}, got)
}

func TestParseSuperblockRejectsBadSignature(t *testing.T) {
	raw := make([]byte, 72)
	cache := NewBlockCache(bytes.NewReader(raw), 128, 8)
	_, err := ParseSuperblock(cache)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestReadDatasetRejectsOutOfRangeRows(t *testing.T) {
	values := []float64{1, 2, 3}
	raw := buildSyntheticHdf5(t, values)
	cache := NewBlockCache(bytes.NewReader(raw), 128, 8)
	ctx, err := ParseSuperblock(cache)
	require.NoError(t, err)

	_, err = ReadDataset(cache, ctx, "/dem", 1, 10)
	require.ErrorIs(t, err, ErrOutOfRange)
}
