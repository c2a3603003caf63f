package pixel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterIdentity(t *testing.T) {
	t.Parallel()

	dst := make([]byte, 2*2*3)
	w, err := NewWriter(dst, 2, 2, 2, 2, Converter{Format: RGB888}, Nearest)
	require.NoError(t, err)

	require.NoError(t, w.WriteRow([]byte{10, 20}, 1))
	require.NoError(t, w.WriteRow([]byte{30, 40}, 1))
	require.NoError(t, w.Close())

	assert.Equal(t, []byte{
		10, 10, 10, 20, 20, 20,
		30, 30, 30, 40, 40, 40,
	}, dst)
}

func TestWriterNearestDownscale(t *testing.T) {
	t.Parallel()

	// 4x4 grayscale ramp downscaled to 2x2 picks rows 0 and 2, columns 0
	// and 2.
	rows := [][]byte{
		{0, 1, 2, 3},
		{10, 11, 12, 13},
		{20, 21, 22, 23},
		{30, 31, 32, 33},
	}

	dst := make([]byte, 2*2*3)
	w, err := NewWriter(dst, 4, 4, 2, 2, Converter{Format: RGB888}, Nearest)
	require.NoError(t, err)

	for _, row := range rows {
		require.NoError(t, w.WriteRow(row, 1))
	}
	require.NoError(t, w.Close())

	assert.Equal(t, []byte{
		0, 0, 0, 2, 2, 2,
		20, 20, 20, 22, 22, 22,
	}, dst)
}

func TestWriterAreaDownscale(t *testing.T) {
	t.Parallel()

	// Every output pixel averages a 2x2 source quadrant.
	rows := [][]byte{
		{0, 4, 100, 104},
		{8, 12, 108, 112},
		{200, 204, 40, 44},
		{208, 212, 48, 52},
	}

	dst := make([]byte, 2*2*3)
	w, err := NewWriter(dst, 4, 4, 2, 2, Converter{Format: RGB888}, Area)
	require.NoError(t, err)
	assert.Equal(t, Area, w.Mode())

	for _, row := range rows {
		require.NoError(t, w.WriteRow(row, 1))
	}
	require.NoError(t, w.Close())

	assert.Equal(t, []byte{
		6, 6, 6, 106, 106, 106,
		206, 206, 206, 46, 46, 46,
	}, dst)
}

func TestWriterAreaUpscaleFallsBack(t *testing.T) {
	t.Parallel()

	dst := make([]byte, 2*2*3)
	w, err := NewWriter(dst, 1, 1, 2, 2, Converter{Format: RGB888}, Area)
	require.NoError(t, err)
	assert.Equal(t, Nearest, w.Mode())

	require.NoError(t, w.WriteRow([]byte{7}, 1))
	require.NoError(t, w.Close())

	assert.Equal(t, []byte{
		7, 7, 7, 7, 7, 7,
		7, 7, 7, 7, 7, 7,
	}, dst)
}

func TestWriterRGB565Output(t *testing.T) {
	t.Parallel()

	dst := make([]byte, 2)
	w, err := NewWriter(dst, 1, 1, 1, 1, Converter{Format: RGB565, Order: BigEndian}, Nearest)
	require.NoError(t, err)

	require.NoError(t, w.WriteRow([]byte{0xff, 0x00, 0x00}, 3))
	require.NoError(t, w.Close())

	assert.Equal(t, []byte{0xf8, 0x00}, dst)
}

func TestWriterShortImage(t *testing.T) {
	t.Parallel()

	dst := make([]byte, 2*2*2)
	w, err := NewWriter(dst, 2, 2, 2, 2, Converter{}, Nearest)
	require.NoError(t, err)

	require.NoError(t, w.WriteRow([]byte{1, 2}, 1))
	assert.ErrorIs(t, w.Close(), errShortImage)
}

func TestWriterTooManyRows(t *testing.T) {
	t.Parallel()

	dst := make([]byte, 2)
	w, err := NewWriter(dst, 1, 1, 1, 1, Converter{}, Nearest)
	require.NoError(t, err)

	require.NoError(t, w.WriteRow([]byte{1}, 1))
	assert.Error(t, w.WriteRow([]byte{1}, 1))
}

func TestWriterBadArguments(t *testing.T) {
	t.Parallel()

	_, err := NewWriter(make([]byte, 1), 1, 1, 1, 1, Converter{}, Nearest)
	assert.Error(t, err, "destination too small")

	_, err = NewWriter(make([]byte, 8), 0, 1, 2, 2, Converter{}, Nearest)
	assert.Error(t, err, "zero source dimension")
}
