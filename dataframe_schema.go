package geocore

import (
	"github.com/samber/lo"
)

// ReconcileSchema reports which of schema's column names are missing from
// df and which of df's columns aren't named in schema, using the same
// lo.Difference-based set comparison the teacher's fillNulls used to
// reconcile one ping's sub-record set against the chunk's accumulated set.
//
// left, right := lo.Difference([]int{0, 1, 2, 3, 4, 5}, []int{0, 2, 6})
// []int{1, 3, 4, 5}, []int{6}
func ReconcileSchema(df *DataFrame, schema []string) (missing []string, unexpected []string) {
	have := make([]string, 0, len(df.order))
	for _, c := range df.Columns() {
		have = append(have, c.Name)
	}
	missing, unexpected = lo.Difference(schema, have)
	return missing, unexpected
}

// PadMissingListColumns fills in empty nested-list columns for every name in
// schema that df does not already carry, so a DataFrame assembled from
// frames with varying per-row sample counts (§4.5's "multiple samples per
// point") still commits rows uniformly across the whole column set. Each
// padded column gets one empty row per df.Rows() so row counts stay
// consistent with CommitRow's invariant.
func PadMissingListColumns(df *DataFrame, schema []string, enc ColumnEncoding) {
	missing, _ := ReconcileSchema(df, schema)
	if len(missing) == 0 {
		return
	}
	rows := df.Rows()
	for _, name := range missing {
		col := df.NewColumnIn(name, enc)
		for i := 0; i < rows; i++ {
			col.AppendList(emptySliceFor(enc.Elem))
		}
	}
}

func emptySliceFor(elem ElemType) interface{} {
	switch elem {
	case ElemF64:
		return []float64{}
	case ElemF32:
		return []float32{}
	case ElemI64, ElemTimeNs:
		return []int64{}
	case ElemI32:
		return []int32{}
	case ElemU64:
		return []uint64{}
	case ElemU32:
		return []uint32{}
	case ElemU8:
		return []uint8{}
	default:
		panic("unknown element type")
	}
}
