package geocore

import (
	"fmt"
	"sync"
)

// DataFrame is the columnar container of §4.6: a per-column append-only
// store plus discovered role markers (X/Y/Z/TIME) used by the raster
// sampler (§4.5) and the frame-runner scheduler (§4.7).
type DataFrame struct {
	mu        sync.Mutex
	columns   map[string]*Column
	order     []string
	rows      int
	TargetCRS string

	roles    map[RoleMarker]*Column
	active   bool
	inError  bool
}

func NewDataFrame() *DataFrame {
	return &DataFrame{
		columns: make(map[string]*Column),
		roles:   make(map[RoleMarker]*Column),
		active:  true,
	}
}

// Active reports whether producers should keep appending to df; a frame
// transitions to inactive on a scheduler-observed fatal stage error or an
// explicit SetActive(false) (§3, §5).
func (df *DataFrame) Active() bool {
	df.mu.Lock()
	defer df.mu.Unlock()
	return df.active
}

func (df *DataFrame) SetActive(v bool) {
	df.mu.Lock()
	defer df.mu.Unlock()
	df.active = v
}

// InError reports the frame's in_error flag (§3): set on a fatal
// frame-runner stage error or a receive timeout (§4.6, §4.7).
func (df *DataFrame) InError() bool {
	df.mu.Lock()
	defer df.mu.Unlock()
	return df.inError
}

func (df *DataFrame) SetInError(v bool) {
	df.mu.Lock()
	defer df.mu.Unlock()
	df.inError = v
}

// AddColumn installs an already-built column under name. owned is accepted
// for symmetry with the teacher's add_column contract but carries no extra
// bookkeeping here: the DataFrame always owns the column's backing slice
// once added.
func (df *DataFrame) AddColumn(name string, col *Column, owned bool) {
	df.mu.Lock()
	defer df.mu.Unlock()
	if _, exists := df.columns[name]; !exists {
		df.order = append(df.order, name)
	}
	df.columns[name] = col
	if col.Len() > df.rows {
		df.rows = col.Len()
	}
}

// NewColumnIn allocates and installs a new column of the given encoding.
func (df *DataFrame) NewColumnIn(name string, enc ColumnEncoding) *Column {
	col := NewColumn(name, enc)
	df.AddColumn(name, col, true)
	return col
}

func (df *DataFrame) DeleteColumn(name string) {
	df.mu.Lock()
	defer df.mu.Unlock()
	delete(df.columns, name)
	for i, n := range df.order {
		if n == name {
			df.order = append(df.order[:i], df.order[i+1:]...)
			break
		}
	}
}

// GetColumn returns the named column, checking its encoding matches
// expected when expected is non-nil.
func (df *DataFrame) GetColumn(name string, expected *ColumnEncoding) (*Column, error) {
	df.mu.Lock()
	defer df.mu.Unlock()
	col, ok := df.columns[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, name)
	}
	if expected != nil && !col.Encoding.equal(*expected) {
		return nil, fmt.Errorf("%w: column %q", ErrColumnEncodingMismatch, name)
	}
	return col, nil
}

// Columns returns columns in insertion order.
func (df *DataFrame) Columns() []*Column {
	df.mu.Lock()
	defer df.mu.Unlock()
	out := make([]*Column, 0, len(df.order))
	for _, name := range df.order {
		out = append(out, df.columns[name])
	}
	return out
}

func (df *DataFrame) Rows() int {
	df.mu.Lock()
	defer df.mu.Unlock()
	return df.rows
}

// CommitRow validates every column was appended to before advancing the row
// count (§4.6's "it is an error to commit a row without appending to every
// column").
func (df *DataFrame) CommitRow() error {
	df.mu.Lock()
	defer df.mu.Unlock()
	want := df.rows + 1
	for _, name := range df.order {
		if df.columns[name].Len() != want {
			return fmt.Errorf("%w: column %q has %d rows, want %d", ErrRowCountMismatch, name, df.columns[name].Len(), want)
		}
	}
	df.rows = want
	return nil
}

// DiscoverRoles scans every column's encoding for X/Y/Z/TIME role markers,
// recording both the column reference and keeping track of its name.
func (df *DataFrame) DiscoverRoles() {
	df.mu.Lock()
	defer df.mu.Unlock()
	df.roles = make(map[RoleMarker]*Column)
	for _, name := range df.order {
		col := df.columns[name]
		if col.Encoding.Role != RoleNone {
			df.roles[col.Encoding.Role] = col
		}
	}
}

func (df *DataFrame) Role(r RoleMarker) (*Column, bool) {
	df.mu.Lock()
	defer df.mu.Unlock()
	col, ok := df.roles[r]
	return col, ok
}

// Points materializes the DataFrame's X/Y[/Z][/TIME] role columns into the
// point vector consumed by RasterSource.GetSamples (§4.5 step 1).
func (df *DataFrame) Points() ([]Point, error) {
	xcol, ok := df.Role(RoleX)
	if !ok {
		return nil, fmt.Errorf("%w: no X role column", ErrUnknownColumn)
	}
	ycol, ok := df.Role(RoleY)
	if !ok {
		return nil, fmt.Errorf("%w: no Y role column", ErrUnknownColumn)
	}
	zcol, hasZ := df.Role(RoleZ)
	tcol, hasTime := df.Role(RoleTime)

	n := xcol.Len()
	points := make([]Point, n)
	for i := 0; i < n; i++ {
		p := Point{X: xcol.Float64At(i), Y: ycol.Float64At(i)}
		if hasZ {
			p.Z = zcol.Float64At(i)
		}
		if hasTime {
			if tcol.Encoding.Elem == ElemTimeNs {
				p.GpsTime = TimeNsToGpsSeconds(int64(tcol.Float64At(i)))
			} else {
				p.GpsTime = tcol.Float64At(i)
			}
		}
		points[i] = p
	}
	return points, nil
}
