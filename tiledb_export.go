package geocore

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	tiledb "github.com/TileDB-Inc/TileDB-Go"
	stgpsr "github.com/yuin/stagparser"
)

// Errors for the TileDB export sink (§4.6's "serialize columns to wire
// records" has a sibling path here: serialize columns to a durable sparse
// array instead of a wire record batch).
var ErrAddFilters = errors.New("error adding filter to TileDB filter list")
var ErrCreateAttr = errors.New("error creating TileDB attribute")
var ErrCreateSchema = errors.New("error creating TileDB array schema")
var ErrSetBuffer = errors.New("error setting TileDB query buffer")

// ArrayOpen opens a TileDB array at uri in the given mode, freeing the
// array handle on failure. Adapted verbatim from the teacher's ArrayOpen
// (tiledb.go): this helper is sensor-agnostic already.
func ArrayOpen(ctx *tiledb.Context, uri string, mode tiledb.QueryType) (*tiledb.Array, error) {
	array, err := tiledb.NewArray(ctx, uri)
	if err != nil {
		return nil, err
	}
	if err := array.Open(mode); err != nil {
		array.Free()
		return nil, err
	}
	return array, nil
}

// AddFilters sequentially appends compression filters to a filter list.
func AddFilters(filterList *tiledb.FilterList, filters ...*tiledb.Filter) error {
	for _, filt := range filters {
		if err := filterList.AddFilter(filt); err != nil {
			return err
		}
	}
	return nil
}

func zstdFilter(ctx *tiledb.Context, level int32) (*tiledb.Filter, error) {
	filt, err := tiledb.NewFilter(ctx, tiledb.TILEDB_FILTER_ZSTD)
	if err != nil {
		return nil, err
	}
	if err := filt.SetOption(tiledb.TILEDB_COMPRESSION_LEVEL, level); err != nil {
		filt.Free()
		return nil, err
	}
	return filt, nil
}

func lz4Filter(ctx *tiledb.Context, level int32) (*tiledb.Filter, error) {
	filt, err := tiledb.NewFilter(ctx, tiledb.TILEDB_FILTER_LZ4)
	if err != nil {
		return nil, err
	}
	if err := filt.SetOption(tiledb.TILEDB_COMPRESSION_LEVEL, level); err != nil {
		filt.Free()
		return nil, err
	}
	return filt, nil
}

// ColumnFilterSpec maps a DataFrame column name to a stagparser filter tag,
// e.g. "zstd(level=16)" or "bysh,zstd(level=9)". Columns not named here fall
// back to DefaultColumnFilterTag for their encoding.
type ColumnFilterSpec map[string]string

// DefaultColumnFilterTag picks a compression pipeline by element type, the
// same byteshuffle-before-entropy-coder pattern the teacher applied per
// sub-record field (schema.go): fixed-width floats shuffle well, flag/index
// columns compress fine with zstd alone.
func DefaultColumnFilterTag(enc ColumnEncoding) string {
	switch enc.Elem {
	case ElemF64, ElemF32, ElemI64, ElemI32, ElemU64, ElemU32, ElemTimeNs:
		return "bysh,zstd(level=16)"
	default:
		return "zstd(level=9)"
	}
}

func columnDatatypeTag(elem ElemType) string {
	switch elem {
	case ElemF64:
		return "float64"
	case ElemF32:
		return "float32"
	case ElemI64:
		return "int64"
	case ElemI32:
		return "int32"
	case ElemU64:
		return "uint64"
	case ElemU32:
		return "uint32"
	case ElemU8:
		return "uint8"
	case ElemTimeNs:
		return "datetime_ns"
	default:
		panic("unknown element type")
	}
}

// sanitizeFieldName turns an arbitrary column name (e.g. "dem.stats.mean",
// which is not a legal Go identifier) into one suitable for a reflect.StructOf
// field, preserving enough of the original to stay legible in logs.
func sanitizeFieldName(name string) string {
	var b strings.Builder
	upperNext := true
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9':
			if upperNext && r >= 'a' && r <= 'z' {
				r -= 'a' - 'A'
			}
			b.WriteRune(r)
			upperNext = false
		default:
			upperNext = true
		}
	}
	out := b.String()
	if out == "" {
		out = "Field"
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = "F" + out
	}
	return out
}

// columnTagStruct builds a synthetic struct type carrying one field per
// column, each tagged with `tiledb:"..."` and `filters:"..."` describing its
// datatype and compression pipeline. This reuses the teacher's stagparser
// struct-tag convention (schema.go's schemaAttrs) without requiring a
// hand-written Go struct per sensor: the DataFrame's column set is only known
// at runtime, so the struct is assembled with reflect.StructOf instead.
// Returns the struct value plus a map from its sanitized field name back to
// the original column name.
func columnTagStruct(cols []*Column, filters ColumnFilterSpec) (reflect.Value, map[string]string) {
	fields := make([]reflect.StructField, 0, len(cols))
	fieldToColumn := make(map[string]string, len(cols))
	seen := make(map[string]bool, len(cols))

	for _, col := range cols {
		fieldName := sanitizeFieldName(col.Name)
		for seen[fieldName] {
			fieldName += "_"
		}
		seen[fieldName] = true
		fieldToColumn[fieldName] = col.Name

		filterTag, ok := filters[col.Name]
		if !ok {
			filterTag = DefaultColumnFilterTag(col.Encoding)
		}
		tiledbTag := fmt.Sprintf("dtype=%s,ftype=attr", columnDatatypeTag(col.Encoding.Elem))
		if col.Encoding.List {
			tiledbTag += ",var"
		}
		tag := reflect.StructTag(fmt.Sprintf(`tiledb:"%s" filters:"%s"`, tiledbTag, filterTag))

		fields = append(fields, reflect.StructField{
			Name: fieldName,
			Type: reflect.TypeOf(int(0)),
			Tag:  tag,
		})
	}

	structType := reflect.StructOf(fields)
	return reflect.New(structType), fieldToColumn
}

// CreateAttr creates a TileDB attribute plus its compression filter pipeline
// from parsed stagparser tag definitions, adapted from the teacher's
// CreateAttr (tiledb.go) with the GSF-specific rle/bitw/bzip2 tag branches
// collapsed: the DataFrame export path only ever needs zstd, lz4 and
// byteshuffle, since every column is already a fixed-width numeric type.
func CreateAttr(fieldName string, filterDefs []stgpsr.Definition, tiledbDefs map[string]stgpsr.Definition, schema *tiledb.ArraySchema, ctx *tiledb.Context) error {
	def, ok := tiledbDefs["dtype"]
	if !ok {
		return fmt.Errorf("%w: dtype tag not found for %s", ErrCreateAttr, fieldName)
	}
	dtypeVal, _ := def.Attribute("dtype")

	var tdbType tiledb.Datatype
	switch dtypeVal {
	case "int8":
		tdbType = tiledb.TILEDB_INT8
	case "uint8":
		tdbType = tiledb.TILEDB_UINT8
	case "int16":
		tdbType = tiledb.TILEDB_INT16
	case "uint16":
		tdbType = tiledb.TILEDB_UINT16
	case "int32":
		tdbType = tiledb.TILEDB_INT32
	case "uint32":
		tdbType = tiledb.TILEDB_UINT32
	case "int64":
		tdbType = tiledb.TILEDB_INT64
	case "uint64":
		tdbType = tiledb.TILEDB_UINT64
	case "float32":
		tdbType = tiledb.TILEDB_FLOAT32
	case "float64":
		tdbType = tiledb.TILEDB_FLOAT64
	case "datetime_ns":
		tdbType = tiledb.TILEDB_DATETIME_NS
	default:
		return fmt.Errorf("%w: unsupported dtype %q", ErrCreateAttr, dtypeVal)
	}

	attrFilters, err := tiledb.NewFilterList(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCreateAttr, err)
	}
	defer attrFilters.Free()

	for _, filt := range filterDefs {
		switch filt.Name() {
		case "zstd":
			level, ok := filt.Attribute("level")
			if !ok {
				return fmt.Errorf("%w: zstd level not defined", ErrCreateAttr)
			}
			f, err := zstdFilter(ctx, int32(level.(int64)))
			if err != nil {
				return fmt.Errorf("%w: %v", ErrCreateAttr, err)
			}
			defer f.Free()
			if err := attrFilters.AddFilter(f); err != nil {
				return fmt.Errorf("%w: %v", ErrAddFilters, err)
			}
		case "lz4":
			level, ok := filt.Attribute("level")
			if !ok {
				return fmt.Errorf("%w: lz4 level not defined", ErrCreateAttr)
			}
			f, err := lz4Filter(ctx, int32(level.(int64)))
			if err != nil {
				return fmt.Errorf("%w: %v", ErrCreateAttr, err)
			}
			defer f.Free()
			if err := attrFilters.AddFilter(f); err != nil {
				return fmt.Errorf("%w: %v", ErrAddFilters, err)
			}
		case "bysh":
			f, err := tiledb.NewFilter(ctx, tiledb.TILEDB_FILTER_BYTESHUFFLE)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrCreateAttr, err)
			}
			defer f.Free()
			if err := attrFilters.AddFilter(f); err != nil {
				return fmt.Errorf("%w: %v", ErrAddFilters, err)
			}
		}
	}

	attr, err := tiledb.NewAttribute(ctx, fieldName, tdbType)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCreateAttr, err)
	}
	defer attr.Free()

	_, isVar := tiledbDefs["var"]
	if isVar {
		if err := attr.SetCellValNum(tiledb.TILEDB_VAR_NUM); err != nil {
			return fmt.Errorf("%w: %v", ErrCreateAttr, err)
		}
	}

	if err := attr.SetFilterList(attrFilters); err != nil {
		return fmt.Errorf("%w: %v", ErrCreateAttr, err)
	}
	if err := schema.AddAttributes(attr); err != nil {
		return fmt.Errorf("%w: %v", ErrCreateAttr, err)
	}

	if isVar {
		offsetFilts, err := tiledb.NewFilterList(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCreateAttr, err)
		}
		dd, err := tiledb.NewFilter(ctx, tiledb.TILEDB_FILTER_POSITIVE_DELTA)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCreateAttr, err)
		}
		bysh, err := tiledb.NewFilter(ctx, tiledb.TILEDB_FILTER_BYTESHUFFLE)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCreateAttr, err)
		}
		zstd, err := zstdFilter(ctx, 16)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCreateAttr, err)
		}
		if err := AddFilters(offsetFilts, dd, bysh, zstd); err != nil {
			return fmt.Errorf("%w: %v", ErrAddFilters, err)
		}
		if err := schema.SetOffsetsFilterList(offsetFilts); err != nil {
			return fmt.Errorf("%w: %v", ErrCreateAttr, err)
		}
	}

	return nil
}

// BuildFrameSchema creates a sparse TileDB array schema for a DataFrame with
// one ROW_ID uint64 dimension (0..nrows-1) and one attribute per column,
// grounded on the teacher's beamSparseSchema (schema.go) but keyed by row
// index instead of longitude/latitude, since §4.6's column set already
// carries its own X/Y/Z/TIME role markers as ordinary attributes.
func BuildFrameSchema(ctx *tiledb.Context, df *DataFrame, nrows uint64, filters ColumnFilterSpec) (*tiledb.ArraySchema, error) {
	if nrows == 0 {
		nrows = 1
	}
	tileExtent := uint64(math.Min(50000, float64(nrows)))

	domain, err := tiledb.NewDomain(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreateSchema, err)
	}
	defer domain.Free()

	dim, err := tiledb.NewDimension(ctx, "ROW_ID", tiledb.TILEDB_UINT64, []uint64{0, nrows - 1}, tileExtent)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreateSchema, err)
	}
	defer dim.Free()

	if err := domain.AddDimensions(dim); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreateSchema, err)
	}

	schema, err := tiledb.NewArraySchema(ctx, tiledb.TILEDB_SPARSE)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreateSchema, err)
	}
	if err := schema.SetDomain(domain); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreateSchema, err)
	}
	if err := schema.SetCellOrder(tiledb.TILEDB_ROW_MAJOR); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreateSchema, err)
	}
	if err := schema.SetTileOrder(tiledb.TILEDB_ROW_MAJOR); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreateSchema, err)
	}

	cols := df.Columns()
	structVal, fieldToColumn := columnTagStruct(cols, filters)
	filtDefs, _ := stgpsr.ParseStruct(structVal.Interface(), "filters")
	tdbDefs, _ := stgpsr.ParseStruct(structVal.Interface(), "tiledb")

	structType := structVal.Elem().Type()
	for i := 0; i < structType.NumField(); i++ {
		fieldName := structType.Field(i).Name
		colName := fieldToColumn[fieldName]

		fieldTdbDefs := make(map[string]stgpsr.Definition, len(tdbDefs[fieldName]))
		for _, d := range tdbDefs[fieldName] {
			fieldTdbDefs[d.Name()] = d
		}

		if err := CreateAttr(colName, filtDefs[fieldName], fieldTdbDefs, schema, ctx); err != nil {
			return nil, fmt.Errorf("%w: column %q: %v", ErrCreateSchema, colName, err)
		}
	}

	return schema, nil
}

// flattenListColumn flattens a nested-list column's rows into one contiguous
// slice plus a parallel byte-offset slice, the same var-length layout as the
// teacher's sliceOffsets (tiledb.go) but driven off Column's own reflect.Value
// instead of a struct field, since every column already shares one element
// type regardless of which sensor produced it.
func flattenListColumn(col *Column) (reflect.Value, []uint64) {
	n := col.Len()
	byteSize := uint64(col.Encoding.Elem.byteSize())
	offsets := make([]uint64, n)

	elemType := col.Encoding.Elem.goType()
	flat := reflect.MakeSlice(reflect.SliceOf(elemType), 0, 0)
	offset := uint64(0)
	for i := 0; i < n; i++ {
		row := col.data.Index(i)
		offsets[i] = offset
		offset += uint64(row.Len()) * byteSize
		flat = reflect.AppendSlice(flat, row)
	}
	return flat, offsets
}

// setColumnBuffers attaches one TileDB query buffer per column: a flat data
// buffer for scalar columns, or a data+offsets pair for nested-list columns.
func setColumnBuffers(query *tiledb.Query, df *DataFrame) error {
	for _, col := range df.Columns() {
		if col.Encoding.List {
			flat, offsets := flattenListColumn(col)
			if _, err := query.SetOffsetsBuffer(col.Name, offsets); err != nil {
				return fmt.Errorf("%w: column %q offsets: %v", ErrSetBuffer, col.Name, err)
			}
			if _, err := query.SetDataBuffer(col.Name, flat.Interface()); err != nil {
				return fmt.Errorf("%w: column %q data: %v", ErrSetBuffer, col.Name, err)
			}
			continue
		}
		if _, err := query.SetDataBuffer(col.Name, col.data.Interface()); err != nil {
			return fmt.Errorf("%w: column %q data: %v", ErrSetBuffer, col.Name, err)
		}
	}
	return nil
}

// ExportDataFrame writes every committed row of df to a new sparse TileDB
// array at arrayURI, creating the array from BuildFrameSchema first. This is
// the durable-storage sibling of EncodeFrame's wire-record path (§4.6):
// the same column set, sent to TileDB instead of a channel of WireRecords.
func ExportDataFrame(ctx *tiledb.Context, arrayURI string, df *DataFrame, filters ColumnFilterSpec) error {
	nrows := uint64(df.Rows())
	schema, err := BuildFrameSchema(ctx, df, nrows, filters)
	if err != nil {
		return err
	}
	defer schema.Free()

	array, err := tiledb.NewArray(ctx, arrayURI)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCreateSchema, err)
	}
	defer array.Free()
	if err := array.Create(schema); err != nil {
		return fmt.Errorf("%w: %v", ErrCreateSchema, err)
	}

	opened, err := ArrayOpen(ctx, arrayURI, tiledb.TILEDB_WRITE)
	if err != nil {
		return err
	}
	defer opened.Free()
	defer opened.Close()

	query, err := tiledb.NewQuery(ctx, opened)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSetBuffer, err)
	}
	defer query.Free()

	if err := query.SetLayout(tiledb.TILEDB_UNORDERED); err != nil {
		return fmt.Errorf("%w: %v", ErrSetBuffer, err)
	}

	rowIDs := make([]uint64, nrows)
	for i := range rowIDs {
		rowIDs[i] = uint64(i)
	}
	if _, err := query.SetDataBuffer("ROW_ID", rowIDs); err != nil {
		return fmt.Errorf("%w: ROW_ID: %v", ErrSetBuffer, err)
	}

	if err := setColumnBuffers(query, df); err != nil {
		return err
	}

	if err := query.Submit(); err != nil {
		return fmt.Errorf("%w: %v", ErrSetBuffer, err)
	}
	return query.Finalize()
}

// WriteArrayMetadata attaches md to an already-created TileDB array as a
// JSON-encoded metadata key, adapted from the teacher's WriteArrayMetadata
// (tiledb.go) with JsonDumps replaced by the stdlib encoding/json call
// already wired in dataframe_json.go.
func WriteArrayMetadata(ctx *tiledb.Context, arrayURI, key string, md any) error {
	array, err := ArrayOpen(ctx, arrayURI, tiledb.TILEDB_WRITE)
	if err != nil {
		return fmt.Errorf("%w: opening %s: %v", ErrCreateSchema, arrayURI, err)
	}
	defer array.Free()
	defer array.Close()

	jsn, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("error serializing metadata to JSON: %w", err)
	}
	if err := array.PutMetadata(key, jsn); err != nil {
		return fmt.Errorf("error writing metadata to array %s: %w", arrayURI, err)
	}
	return nil
}
