package geocore

import (
	"encoding/binary"
	"sync"
	"time"
)

// InvalidFrameKey is the reserved key sentinel of §4.6: no frame is ever
// addressed with this value, so callers can use it as a zero-value guard.
const InvalidFrameKey uint64 = 0xFFFFFFFFFFFFFFFF

// Receiver is the key-partitioned reassembly table of §4.6: a stream of
// WireRecords carrying interleaved keys (one DataFrame's records are not
// necessarily contiguous) is grouped by key until that key's EOF record
// arrives, at which point the group is handed to DecodeFrame and dropped.
// Grounded on original_source/packages/core/Table.h's MgTable<T,K,is_array>,
// the original's multi-generation key-partitioned table that this receiver
// generalizes into Go's map+mutex idiom.
type Receiver struct {
	mu      sync.Mutex
	pending map[uint64]*pendingGroup
	timeout time.Duration
}

type pendingGroup struct {
	records   []WireRecord
	firstSeen time.Time
}

// NewReceiver builds a receiver whose per-key groups are considered stalled
// (and flushed in_error) once older than timeout. A non-positive timeout
// disables the timeout path; callers that never call CheckTimeouts are
// unaffected either way.
func NewReceiver(timeout time.Duration) *Receiver {
	return &Receiver{
		pending: make(map[uint64]*pendingGroup),
		timeout: timeout,
	}
}

// Ingest buffers one incoming record under its key. On a non-EOF record it
// returns (nil, false, nil). On an EOF record it assembles and returns the
// completed frame, removing the key's group from the pending table.
func (r *Receiver) Ingest(rec WireRecord) (*DataFrame, bool, error) {
	if rec.Header.Kind != RecordEOF {
		r.mu.Lock()
		group, ok := r.pending[rec.Key]
		if !ok {
			group = &pendingGroup{firstSeen: time.Now()}
			r.pending[rec.Key] = group
		}
		group.records = append(group.records, rec)
		r.mu.Unlock()
		return nil, false, nil
	}

	r.mu.Lock()
	group := r.pending[rec.Key]
	delete(r.pending, rec.Key)
	r.mu.Unlock()

	var held []WireRecord
	if group != nil {
		held = group.records
	}

	expected := int(binary.NativeEndian.Uint32(rec.Payload))
	df, err := DecodeFrame(append(held, rec), expected)
	if err != nil {
		LogError(err, "frame assembly failed on EOF")
		return df, true, err
	}
	return df, true, nil
}

// CheckTimeouts flushes every pending group older than the receiver's
// timeout, marking each resulting frame in_error (§4.6's "A timeout that
// fires before any EOF for a key marks the frame in_error = true and
// flushes"). Groups with no records yet are never flushed: there is nothing
// useful to assemble.
func (r *Receiver) CheckTimeouts(now time.Time) []*DataFrame {
	if r.timeout <= 0 {
		return nil
	}

	r.mu.Lock()
	var stale []uint64
	for key, group := range r.pending {
		if now.Sub(group.firstSeen) > r.timeout && len(group.records) > 0 {
			stale = append(stale, key)
		}
	}
	groups := make(map[uint64]*pendingGroup, len(stale))
	for _, key := range stale {
		groups[key] = r.pending[key]
		delete(r.pending, key)
	}
	r.mu.Unlock()

	out := make([]*DataFrame, 0, len(groups))
	for _, group := range groups {
		df, err := DecodeFrame(group.records, -1)
		if err != nil {
			LogError(err, "stalled frame assembly failed during timeout flush")
			continue
		}
		df.SetInError(true)
		LogError(ErrTimeoutReceivingDataframe, "flushed frame after receive timeout")
		out = append(out, df)
	}
	return out
}

// Drain flushes every pending group regardless of age, for graceful
// shutdown (§4.6: "A shutdown drains all pending refs").
func (r *Receiver) Drain() []*DataFrame {
	r.mu.Lock()
	groups := r.pending
	r.pending = make(map[uint64]*pendingGroup)
	r.mu.Unlock()

	out := make([]*DataFrame, 0, len(groups))
	for _, group := range groups {
		if len(group.records) == 0 {
			continue
		}
		df, err := DecodeFrame(group.records, -1)
		if err != nil {
			LogError(err, "pending frame assembly failed during shutdown drain")
			continue
		}
		df.SetInError(true)
		out = append(out, df)
	}
	return out
}
