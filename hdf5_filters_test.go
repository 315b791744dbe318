package geocore

import (
	"bytes"
	"compress/flate"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShuffleIsInvolutionOfItsInverse(t *testing.T) {
	for _, typeSize := range []int{1, 2, 4, 8} {
		n := 37
		src := make([]byte, n*typeSize)
		for i := range src {
			src[i] = byte(i * 7 % 251)
		}

		shuffled := make([]byte, len(src))
		require.NoError(t, shuffle(src, shuffled, typeSize))

		restored := make([]byte, len(src))
		require.NoError(t, inverseShuffle(shuffled, restored, typeSize))

		assert.Equal(t, src, restored, "type size %d", typeSize)
	}
}

func TestInverseShuffleRejectsBadTypeSize(t *testing.T) {
	err := inverseShuffle([]byte{1, 2, 3}, make([]byte, 3), 9)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestInflateIntoRoundTrip(t *testing.T) {
	original := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog"), 50)

	var compressed bytes.Buffer
	w, err := flate.NewWriter(&compressed, flate.BestCompression)
	require.NoError(t, err)
	_, err = w.Write(original)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	dst := make([]byte, len(original))
	require.NoError(t, inflateInto(compressed.Bytes(), dst))
	assert.Equal(t, original, dst)
}

func TestInflateIntoShortStreamFails(t *testing.T) {
	var compressed bytes.Buffer
	w, _ := flate.NewWriter(&compressed, flate.BestSpeed)
	_, _ = w.Write([]byte("short"))
	require.NoError(t, w.Close())

	dst := make([]byte, 1000)
	err := inflateInto(compressed.Bytes(), dst)
	assert.ErrorIs(t, err, ErrInflateIncomplete)
}
