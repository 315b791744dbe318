package geocore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestFrame(t *testing.T) *DataFrame {
	t.Helper()
	df := NewDataFrame()
	x := df.NewColumnIn("x", ColumnEncoding{Elem: ElemF64, Role: RoleX})
	y := df.NewColumnIn("y", ColumnEncoding{Elem: ElemF64, Role: RoleY})
	samples := df.NewColumnIn("dem.samples", ColumnEncoding{Elem: ElemF32, List: true})

	rows := [][3]float64{{1, 2, 0}, {3, 4, 0}, {5, 6, 0}}
	lists := [][]float32{{1.5, 2.5}, {}, {9.25}}
	for i, row := range rows {
		x.AppendScalar(row[0])
		y.AppendScalar(row[1])
		samples.AppendList(lists[i])
		require.NoError(t, df.CommitRow())
	}
	return df
}

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	df := buildTestFrame(t)
	meta := []*Column{NewColumn("granule_id", ColumnEncoding{Elem: ElemU64, MetaColumn: true})}
	meta[0].AppendScalar(uint64(42))

	records, err := EncodeFrame(df, meta, 7, 11)
	require.NoError(t, err)
	require.NotEmpty(t, records)

	for _, rec := range records {
		assert.Equal(t, FrameKey(7, 11), rec.Key)
	}

	decoded, err := DecodeFrame(records, len(df.Columns()))
	require.NoError(t, err)

	assert.Equal(t, df.Rows(), decoded.Rows())
	xCol, err := decoded.GetColumn("x", nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 3, 5}, xCol.data.Interface())

	samplesCol, err := decoded.GetColumn("dem.samples", nil)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1.5, 2.5}, {}, {9.25}}, samplesCol.data.Interface())

	granuleCol, err := decoded.GetColumn("granule_id", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, granuleCol.Len())
	assert.Equal(t, uint64(42), granuleCol.data.Index(0).Interface())
}

func TestEncodeFrameWrongColumnCountFails(t *testing.T) {
	df := buildTestFrame(t)
	records, err := EncodeFrame(df, nil, 1, 1)
	require.NoError(t, err)

	_, err = DecodeFrame(records, len(df.Columns())+1)
	assert.ErrorIs(t, err, ErrIncompleteFrame)
}

func TestCommitRowRejectsUnevenColumns(t *testing.T) {
	df := NewDataFrame()
	x := df.NewColumnIn("x", ColumnEncoding{Elem: ElemF64, Role: RoleX})
	df.NewColumnIn("y", ColumnEncoding{Elem: ElemF64, Role: RoleY})

	x.AppendScalar(1.0)
	err := df.CommitRow()
	assert.ErrorIs(t, err, ErrRowCountMismatch)
}

func TestDiscoverRolesAndPoints(t *testing.T) {
	df := buildTestFrame(t)
	df.DiscoverRoles()

	points, err := df.Points()
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.Equal(t, Point{X: 1, Y: 2}, points[0])
	assert.Equal(t, Point{X: 5, Y: 6}, points[2])
}
