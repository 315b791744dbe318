package geocore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReceiverPartitionsByKeyAcrossInterleavedRecords(t *testing.T) {
	dfA := buildTestFrame(t)
	dfB := buildTestFrame(t)

	recsA, err := EncodeFrame(dfA, nil, 1, 100)
	require.NoError(t, err)
	recsB, err := EncodeFrame(dfB, nil, 2, 200)
	require.NoError(t, err)

	recv := NewReceiver(0)

	// Interleave every record of frame A with every record of frame B, one
	// at a time, simulating concurrent producers sharing one wire.
	var assembledA, assembledB *DataFrame
	n := len(recsA)
	if len(recsB) > n {
		n = len(recsB)
	}
	for i := 0; i < n; i++ {
		if i < len(recsA) {
			df, done, err := recv.Ingest(recsA[i])
			require.NoError(t, err)
			if done {
				assembledA = df
			}
		}
		if i < len(recsB) {
			df, done, err := recv.Ingest(recsB[i])
			require.NoError(t, err)
			if done {
				assembledB = df
			}
		}
	}

	require.NotNil(t, assembledA)
	require.NotNil(t, assembledB)
	assert.Equal(t, dfA.Rows(), assembledA.Rows())
	assert.Equal(t, dfB.Rows(), assembledB.Rows())
}

func TestReceiverCheckTimeoutsFlushesStaleGroupInError(t *testing.T) {
	recv := NewReceiver(10 * time.Millisecond)

	df := buildTestFrame(t)
	records, err := EncodeFrame(df, nil, 9, 9)
	require.NoError(t, err)

	// Ingest everything except the EOF record so the group never completes.
	for _, rec := range records[:len(records)-1] {
		_, done, err := recv.Ingest(rec)
		require.NoError(t, err)
		require.False(t, done)
	}

	stale := recv.CheckTimeouts(time.Now().Add(time.Second))
	require.Len(t, stale, 1)
	assert.True(t, stale[0].InError())
}

func TestReceiverDrainFlushesIncompleteGroups(t *testing.T) {
	recv := NewReceiver(0)
	df := buildTestFrame(t)
	records, err := EncodeFrame(df, nil, 3, 4)
	require.NoError(t, err)

	for _, rec := range records[:len(records)-1] {
		_, _, err := recv.Ingest(rec)
		require.NoError(t, err)
	}

	drained := recv.Drain()
	require.Len(t, drained, 1)
	assert.True(t, drained[0].InError())
}
