package geocore

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Float64Values decodes a DatasetResult's raw little-endian bytes into one
// float64 per element, widening fixed-point integers and 4-byte floats as
// needed. This is the bridge between the HDF5 parser's byte-oriented
// DatasetResult (§4.2) and the DataFrame's typed columns (§4.6): a reader
// builds X/Y/Z/TIME columns by decoding the datasets at those paths through
// this helper before appending.
func (r *DatasetResult) Float64Values() ([]float64, error) {
	out := make([]float64, r.Elements)
	switch r.DataType {
	case FloatingPoint:
		switch r.TypeSize {
		case 4:
			for i := 0; i < r.Elements; i++ {
				bits := binary.LittleEndian.Uint32(r.Data[i*4 : i*4+4])
				out[i] = float64(math.Float32frombits(bits))
			}
		case 8:
			for i := 0; i < r.Elements; i++ {
				bits := binary.LittleEndian.Uint64(r.Data[i*8 : i*8+8])
				out[i] = math.Float64frombits(bits)
			}
		default:
			return nil, fmt.Errorf("%w: unsupported float size %d", ErrTypeMismatch, r.TypeSize)
		}
	case FixedPoint:
		for i := 0; i < r.Elements; i++ {
			b := r.Data[i*r.TypeSize : (i+1)*r.TypeSize]
			var v uint64
			for j := len(b) - 1; j >= 0; j-- {
				v = v<<8 | uint64(b[j])
			}
			out[i] = float64(v)
		}
	default:
		return nil, fmt.Errorf("%w: dataset type %v has no numeric conversion", ErrTypeMismatch, r.DataType)
	}
	return out, nil
}
