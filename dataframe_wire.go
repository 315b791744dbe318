package geocore

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"

	"github.com/samber/lo"
)

// RecordKind is the wire record's header discriminant (§4.6).
type RecordKind uint8

const (
	RecordColumn RecordKind = iota + 1
	RecordMeta
	RecordEOF
)

// RecordHeader is the fixed-shape preamble of every wire record.
type RecordHeader struct {
	Kind     RecordKind
	Encoding ColumnEncoding
	NumRows  uint32
	ByteSize uint32
	Name     string
}

// WireRecord is one frame record: header plus payload, tagged with the key
// every record of a frame shares (§4.6).
type WireRecord struct {
	Header  RecordHeader
	Key     uint64
	Payload []byte
}

// FrameKey packs a frame_key/request_key pair into the record key every
// record of one frame shares.
func FrameKey(frameKey, requestKey uint32) uint64 {
	return uint64(frameKey)<<32 | uint64(requestKey)
}

// EncodeFrame serializes df's columns (in insertion order), then meta, then
// a trailing EOF record, all carrying the same key (§4.6).
//
// The per-column encoder is a single reflection-driven routine: one
// reflect.Kind dispatch handles every scalar element type, and nested-list
// columns reuse the same flatten/offset-computation approach the teacher's
// tiledb.go variable-length attribute writer uses for ragged arrays.
func EncodeFrame(df *DataFrame, meta []*Column, frameKey, requestKey uint32) ([]WireRecord, error) {
	key := FrameKey(frameKey, requestKey)
	cols := df.Columns()
	records := make([]WireRecord, 0, len(cols)+len(meta)+1)

	for _, col := range cols {
		payload, byteSize, err := encodeColumnPayload(col)
		if err != nil {
			return nil, err
		}
		records = append(records, WireRecord{
			Header: RecordHeader{
				Kind:     RecordColumn,
				Encoding: col.Encoding,
				NumRows:  uint32(col.Len()),
				ByteSize: uint32(byteSize),
				Name:     col.Name,
			},
			Key:     key,
			Payload: payload,
		})
	}

	frameLen := uint32(df.Rows())
	for _, m := range meta {
		payload, byteSize, err := encodeColumnPayload(m)
		if err != nil {
			return nil, err
		}
		records = append(records, WireRecord{
			Header: RecordHeader{
				Kind:     RecordMeta,
				Encoding: m.Encoding,
				NumRows:  frameLen,
				ByteSize: uint32(byteSize),
				Name:     m.Name,
			},
			Key:     key,
			Payload: payload,
		})
	}

	eofPayload := make([]byte, 4)
	binary.NativeEndian.PutUint32(eofPayload, uint32(len(cols)))
	records = append(records, WireRecord{
		Header: RecordHeader{Kind: RecordEOF, NumRows: frameLen, ByteSize: 4},
		Key:    key,
		Payload: eofPayload,
	})

	return records, nil
}

// encodeColumnPayload packs one column's rows in native byte order. Scalar
// columns pack elements back to back; nested-list columns are prefixed by
// one u32 byte-size per row (the flatten/offset approach), followed by
// every row's elements packed back to back.
func encodeColumnPayload(col *Column) ([]byte, int, error) {
	if col.Encoding.List {
		return encodeListColumn(col)
	}
	return encodeScalarSlice(col.data), col.data.Len() * col.Encoding.Elem.byteSize(), nil
}

func encodeListColumn(col *Column) ([]byte, int, error) {
	n := col.data.Len()
	sizes := make([]uint32, n)
	rowBufs := make([][]byte, n)
	var total int
	for i := 0; i < n; i++ {
		rowBuf := encodeScalarSlice(col.data.Index(i))
		rowBufs[i] = rowBuf
		sizes[i] = uint32(len(rowBuf))
		total += len(rowBuf)
	}

	out := make([]byte, 0, n*4+total)
	for _, s := range sizes {
		b := make([]byte, 4)
		binary.NativeEndian.PutUint32(b, s)
		out = append(out, b...)
	}
	out = lo.Reduce(rowBufs, func(acc []byte, row []byte, _ int) []byte {
		return append(acc, row...)
	}, out)

	return out, len(out), nil
}

// encodeScalarSlice packs a flat reflect.Value slice in native byte order,
// one reflect.Kind dispatch covering every element type the column model
// supports.
func encodeScalarSlice(v reflect.Value) []byte {
	n := v.Len()
	if n == 0 {
		return nil
	}
	elemSize := int(v.Type().Elem().Size())
	out := make([]byte, n*elemSize)

	for i := 0; i < n; i++ {
		b := out[i*elemSize : (i+1)*elemSize]
		elem := v.Index(i)
		switch elem.Kind() {
		case reflect.Float64:
			binary.NativeEndian.PutUint64(b, math.Float64bits(elem.Float()))
		case reflect.Float32:
			binary.NativeEndian.PutUint32(b, math.Float32bits(float32(elem.Float())))
		case reflect.Int64:
			binary.NativeEndian.PutUint64(b, uint64(elem.Int()))
		case reflect.Int32:
			binary.NativeEndian.PutUint32(b, uint32(elem.Int()))
		case reflect.Uint64:
			binary.NativeEndian.PutUint64(b, elem.Uint())
		case reflect.Uint32:
			binary.NativeEndian.PutUint32(b, uint32(elem.Uint()))
		case reflect.Uint8:
			b[0] = uint8(elem.Uint())
		}
	}
	return out
}

// DecodeFrame is the receiver-side counterpart of EncodeFrame: it rebuilds a
// DataFrame from a complete, ordered set of records sharing one key (§4.6
// "Deserialization").
func DecodeFrame(records []WireRecord, expectedColumns int) (*DataFrame, error) {
	df := NewDataFrame()
	columnNames := make(map[string]struct{})

	for _, rec := range records {
		switch rec.Header.Kind {
		case RecordEOF:
			continue
		case RecordMeta:
			if rec.Header.Encoding.MetaColumn {
				col := NewColumn(rec.Header.Name, rec.Header.Encoding)
				value := decodeScalarRow(rec.Payload, rec.Header.Encoding.Elem)
				for i := uint32(0); i < rec.Header.NumRows; i++ {
					col.AppendScalar(value)
				}
				df.AddColumn(rec.Header.Name, col, true)
			} else {
				col := NewColumn(rec.Header.Name, rec.Header.Encoding)
				col.AppendScalar(decodeScalarRow(rec.Payload, rec.Header.Encoding.Elem))
				df.AddColumn(rec.Header.Name, col, true)
			}
		case RecordColumn:
			col, err := decodeColumn(rec)
			if err != nil {
				return nil, err
			}
			columnNames[rec.Header.Name] = struct{}{}
			if existing, err := df.GetColumn(rec.Header.Name, nil); err == nil {
				if err := existing.AppendSlice(col); err != nil {
					return nil, err
				}
			} else {
				df.AddColumn(rec.Header.Name, col, true)
			}
		}
	}

	for _, rec := range records {
		if rec.Header.Kind == RecordEOF {
			numColumns := int(binary.NativeEndian.Uint32(rec.Payload))
			if numColumns != expectedColumns {
				return nil, fmt.Errorf("%w: got %d columns, expected %d", ErrIncompleteFrame, numColumns, expectedColumns)
			}
			if numColumns != len(columnNames) {
				return nil, fmt.Errorf("%w: EOF declares %d columns, received %d", ErrIncompleteFrame, numColumns, len(columnNames))
			}
		}
	}

	df.DiscoverRoles()
	return df, nil
}

func decodeColumn(rec WireRecord) (*Column, error) {
	col := NewColumn(rec.Header.Name, rec.Header.Encoding)
	if rec.Header.Encoding.List {
		pos := 0
		sizes := make([]uint32, rec.Header.NumRows)
		for i := range sizes {
			sizes[i] = binary.NativeEndian.Uint32(rec.Payload[pos : pos+4])
			pos += 4
		}
		for _, size := range sizes {
			row := decodeScalarSlice(rec.Payload[pos:pos+int(size)], rec.Header.Encoding.Elem)
			pos += int(size)
			col.AppendList(row)
		}
		return col, nil
	}

	n := int(rec.Header.NumRows)
	elemSize := rec.Header.Encoding.Elem.byteSize()
	for i := 0; i < n; i++ {
		b := rec.Payload[i*elemSize : (i+1)*elemSize]
		col.AppendScalar(decodeScalarRow(b, rec.Header.Encoding.Elem))
	}
	return col, nil
}

func decodeScalarRow(b []byte, elem ElemType) interface{} {
	switch elem {
	case ElemF64:
		return math.Float64frombits(binary.NativeEndian.Uint64(b))
	case ElemF32:
		return math.Float32frombits(binary.NativeEndian.Uint32(b))
	case ElemI64, ElemTimeNs:
		return int64(binary.NativeEndian.Uint64(b))
	case ElemI32:
		return int32(binary.NativeEndian.Uint32(b))
	case ElemU64:
		return binary.NativeEndian.Uint64(b)
	case ElemU32:
		return binary.NativeEndian.Uint32(b)
	case ElemU8:
		return b[0]
	default:
		panic("unknown element type")
	}
}

func decodeScalarSlice(b []byte, elem ElemType) interface{} {
	size := elem.byteSize()
	n := len(b) / size
	switch elem {
	case ElemF64:
		out := make([]float64, n)
		for i := range out {
			out[i] = math.Float64frombits(binary.NativeEndian.Uint64(b[i*size : (i+1)*size]))
		}
		return out
	case ElemF32:
		out := make([]float32, n)
		for i := range out {
			out[i] = math.Float32frombits(binary.NativeEndian.Uint32(b[i*size : (i+1)*size]))
		}
		return out
	case ElemI64, ElemTimeNs:
		out := make([]int64, n)
		for i := range out {
			out[i] = int64(binary.NativeEndian.Uint64(b[i*size : (i+1)*size]))
		}
		return out
	case ElemI32:
		out := make([]int32, n)
		for i := range out {
			out[i] = int32(binary.NativeEndian.Uint32(b[i*size : (i+1)*size]))
		}
		return out
	case ElemU64:
		out := make([]uint64, n)
		for i := range out {
			out[i] = binary.NativeEndian.Uint64(b[i*size : (i+1)*size])
		}
		return out
	case ElemU32:
		out := make([]uint32, n)
		for i := range out {
			out[i] = binary.NativeEndian.Uint32(b[i*size : (i+1)*size])
		}
		return out
	case ElemU8:
		out := make([]uint8, n)
		copy(out, b)
		return out
	default:
		panic("unknown element type")
	}
}
