package geocore

import (
	"fmt"
	"reflect"
)

// ElemType is the scalar element type carried by a column, independent of
// whether the column is a flat scalar or a nested-list column (§4.6).
type ElemType int

const (
	ElemF64 ElemType = iota
	ElemF32
	ElemI64
	ElemI32
	ElemU64
	ElemU32
	ElemU8
	ElemTimeNs // int64 nanoseconds since epoch
)

func (e ElemType) goType() reflect.Type {
	switch e {
	case ElemF64:
		return reflect.TypeOf(float64(0))
	case ElemF32:
		return reflect.TypeOf(float32(0))
	case ElemI64, ElemTimeNs:
		return reflect.TypeOf(int64(0))
	case ElemI32:
		return reflect.TypeOf(int32(0))
	case ElemU64:
		return reflect.TypeOf(uint64(0))
	case ElemU32:
		return reflect.TypeOf(uint32(0))
	case ElemU8:
		return reflect.TypeOf(uint8(0))
	default:
		panic("unknown element type")
	}
}

func (e ElemType) byteSize() int {
	switch e {
	case ElemF64, ElemI64, ElemU64, ElemTimeNs:
		return 8
	case ElemF32, ElemI32, ElemU32:
		return 4
	case ElemU8:
		return 1
	default:
		panic("unknown element type")
	}
}

// RoleMarker tags a column as carrying one of the spatial/temporal roles
// discovered post-hoc by scanning every column's encoding (§4.6).
type RoleMarker int

const (
	RoleNone RoleMarker = iota
	RoleX
	RoleY
	RoleZ
	RoleTime
)

// ColumnEncoding fully describes a column's wire shape: its element type,
// whether rows are lists rather than scalars, its role marker (if any), and
// whether it is a replicated-scalar metadata column (META_COLUMN).
type ColumnEncoding struct {
	Elem       ElemType
	List       bool
	Role       RoleMarker
	MetaColumn bool
}

func (e ColumnEncoding) equal(o ColumnEncoding) bool {
	return e.Elem == o.Elem && e.List == o.List && e.MetaColumn == o.MetaColumn
}

// Column is one append-only, typed DataFrame column. data holds either a
// flat slice (scalar column, data.Kind() == Slice of Elem's Go type) or a
// slice-of-slices (nested-list column), in the struct-of-typed-slices style
// the teacher's PingHeaders/BeamArray follow — generalized here to a single
// reusable type driven by reflection instead of one field per concern.
type Column struct {
	Name     string
	Encoding ColumnEncoding
	data     reflect.Value
}

// NewColumn allocates an empty column of the given encoding.
func NewColumn(name string, enc ColumnEncoding) *Column {
	elemType := enc.Elem.goType()
	sliceType := reflect.SliceOf(elemType)
	if enc.List {
		sliceType = reflect.SliceOf(sliceType)
	}
	return &Column{
		Name:     name,
		Encoding: enc,
		data:     reflect.MakeSlice(sliceType, 0, 0),
	}
}

func (c *Column) Len() int {
	return c.data.Len()
}

// AppendScalar appends one scalar-column row. It panics if the column is a
// list column — callers must use AppendList instead, matching the "role
// markers are scalar" contract of §4.5.
func (c *Column) AppendScalar(v interface{}) {
	c.data = reflect.Append(c.data, reflect.ValueOf(v).Convert(c.Encoding.Elem.goType()))
}

// AppendList appends one nested-list-column row (a slice of the column's
// element type).
func (c *Column) AppendList(row interface{}) {
	rowVal := reflect.ValueOf(row)
	elemSlice := reflect.MakeSlice(reflect.SliceOf(c.Encoding.Elem.goType()), rowVal.Len(), rowVal.Len())
	for i := 0; i < rowVal.Len(); i++ {
		elemSlice.Index(i).Set(rowVal.Index(i).Convert(c.Encoding.Elem.goType()))
	}
	c.data = reflect.Append(c.data, elemSlice)
}

// AppendSlice bulk-appends another column's rows, in the same reflect-driven
// style as the teacher's appendPingData (field-by-field reflect.AppendSlice
// generalized to a single column type).
func (c *Column) AppendSlice(other *Column) error {
	if !c.Encoding.equal(other.Encoding) {
		return fmt.Errorf("%w: column %q", ErrColumnEncodingMismatch, c.Name)
	}
	c.data = reflect.AppendSlice(c.data, other.data)
	return nil
}

// Float64At returns row i of a scalar f64/f32/i64/... column as a float64,
// used by role-marker consumers (the raster sampler builds points this way).
func (c *Column) Float64At(i int) float64 {
	v := c.data.Index(i)
	switch v.Kind() {
	case reflect.Float64, reflect.Float32:
		return v.Float()
	case reflect.Int64, reflect.Int32:
		return float64(v.Int())
	case reflect.Uint64, reflect.Uint32, reflect.Uint8:
		return float64(v.Uint())
	default:
		return 0
	}
}
