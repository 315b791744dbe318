package geocore

// DataType is the HDF5 datatype class recorded from a Datatype message.
// Only FixedPoint and FloatingPoint are decoded into typed output; the
// others are recorded for introspection but never converted.
type DataType int

const (
	FixedPoint DataType = iota
	FloatingPoint
	StringType
	BitField
	OtherDataType
)

// Layout is the storage layout recorded from a Data Layout message.
type Layout int

const (
	Compact Layout = iota
	Contiguous
	Chunked
)

const MaxNdims = 8

// FilterKind is a recognized entry in a Filter Pipeline message. Only
// Deflate and Shuffle are honored downstream; any other filter ID is
// recorded but ignored at chunk-read time.
type FilterKind int

const (
	FilterDeflate FilterKind = 1
	FilterShuffle FilterKind = 2
)

type FilterSpec struct {
	ID     FilterKind
	Params []uint32
}

// FileContext is parsed once from the superblock and shared, read-only, by
// every concurrent dataset read against the same file.
type FileContext struct {
	OffsetSize     int
	LengthSize     int
	GroupLeafK     int
	GroupInternalK int
	RootGroupAddr  int64
}

// DatasetDescriptor accumulates everything the object-header walk learns
// about a single dataset. Fields are filled in as the corresponding
// message is encountered; a field's zero value means "not yet seen".
type DatasetDescriptor struct {
	DataType    DataType
	TypeSize    int
	FillValue   [8]byte
	FillSize    int
	Dimensions  [MaxNdims]uint64
	NumDims     int
	Layout      Layout
	DataAddress int64
	DataSize    int64

	ChunkElementsPerDim [MaxNdims]uint64
	ChunkElementSize    int
	ChunkBufferBytes    int64

	Filters []FilterSpec

	// compactData holds the inline payload of a Compact-layout dataset,
	// captured directly from its Data Layout message.
	compactData []byte

	HighestLevelReached int

	// chunkBuffer and shuffleBuffer are the reusable pair owned by the
	// descriptor per §4.3, allocated on the first Chunked Data Layout
	// message and sized to the declared chunk bytes.
	chunkBuffer   []byte
	shuffleBuffer []byte
}

func (d *DatasetDescriptor) hasFilter(kind FilterKind) (FilterSpec, bool) {
	for _, f := range d.Filters {
		if f.ID == kind {
			return f, true
		}
	}
	return FilterSpec{}, false
}

func (d *DatasetDescriptor) ensureChunkBuffers(chunkBytes int64) {
	if int64(len(d.chunkBuffer)) < chunkBytes {
		d.chunkBuffer = make([]byte, chunkBytes)
		d.shuffleBuffer = make([]byte, chunkBytes)
	}
}

// DatasetResult is what read_dataset hands back to the caller.
type DatasetResult struct {
	Data     []byte
	TypeSize int
	Elements int
	Rows     int
	Cols     int
	DataType DataType
}
